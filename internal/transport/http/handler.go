package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"vn.io.arda/identity/internal/application"
	"vn.io.arda/identity/internal/domain"
	"vn.io.arda/identity/internal/messages"
	"vn.io.arda/identity/internal/transport/mw"
)

const (
	callbackPath    = "/auth/callback"
	defaultReturnTo = "/#/home"

	headerUsername = "X-AUTH-username"
	headerRoles    = "X-AUTH-roles"
)

// CookieConfig describes the session cookie.
type CookieConfig struct {
	Name   string
	Domain string
	MaxAge int
	Secure bool
}

// Handler holds all HTTP handler methods.
type Handler struct {
	svc      *application.Service
	cookie   CookieConfig
	provider string
}

// NewHandler creates a new Handler. provider names the backend in user-facing messages.
func NewHandler(svc *application.Service, cookie CookieConfig, provider string) *Handler {
	return &Handler{svc: svc, cookie: cookie, provider: provider}
}

// --- Authentication ---

// Authenticate POST /authenticate
func (h *Handler) Authenticate(c echo.Context) error {
	var req application.LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, messages.MissingCredentials)
	}

	id, err := h.svc.Login(c.Request().Context(), req, c.RealIP())
	switch {
	case errors.Is(err, application.ErrMissingCredentials):
		return echo.NewHTTPError(http.StatusBadRequest, messages.MissingCredentials)
	case errors.Is(err, application.ErrInvalidCredentials):
		return echo.NewHTTPError(http.StatusNotFound, messages.AuthenticationFailed(req.Login))
	case err != nil:
		return h.fail(err)
	}

	h.setSession(c, id)
	return c.NoContent(http.StatusOK)
}

// Login GET /auth/login
func (h *Handler) Login(c echo.Context) error {
	return h.redirectToAuthorization(c, false)
}

// AutoLogin GET /auth/auto is silent SSO: the authorization server must not prompt.
func (h *Handler) AutoLogin(c echo.Context) error {
	return h.redirectToAuthorization(c, true)
}

func (h *Handler) redirectToAuthorization(c echo.Context, promptNone bool) error {
	target, err := h.svc.AuthorizationURL(origin(c)+callbackPath, c.QueryParam("returnTo"), promptNone)
	if errors.Is(err, domain.ErrUnsupported) {
		return echo.NewHTTPError(http.StatusNotFound, messages.SSOUnavailable(h.provider))
	}
	if err != nil {
		return h.fail(err)
	}
	return c.Redirect(http.StatusFound, target)
}

// Callback GET /auth/callback
func (h *Handler) Callback(c echo.Context) error {
	id, err := h.svc.Callback(c.Request().Context(), c.QueryParam("code"), origin(c)+callbackPath, c.RealIP())
	switch {
	case errors.Is(err, domain.ErrUnsupported):
		return echo.NewHTTPError(http.StatusNotFound, messages.SSOUnavailable(h.provider))
	case errors.Is(err, application.ErrMissingCredentials), errors.Is(err, application.ErrUnauthenticated):
		return echo.NewHTTPError(http.StatusUnauthorized, messages.CodeExchangeFailed)
	case err != nil:
		return h.fail(err)
	}

	h.setSession(c, id)
	return c.Redirect(http.StatusFound, origin(c)+returnPath(c.QueryParam("state")))
}

// --- Account ---

// Account GET /account
func (h *Handler) Account(c echo.Context) error {
	p, _, err := h.svc.Account(c.Request().Context(), mw.SessionID(c))
	if errors.Is(err, application.ErrUnauthenticated) {
		h.clearSession(c)
		return echo.NewHTTPError(http.StatusForbidden, messages.NotAuthenticated)
	}
	if err != nil {
		return h.fail(err)
	}

	c.Response().Header().Set(headerUsername, p.Login)
	c.Response().Header().Set(headerRoles, strings.Join(p.Roles, ","))
	return c.JSON(http.StatusOK, p)
}

// Logout POST /account/logout
func (h *Handler) Logout(c echo.Context) error {
	if err := h.svc.Logout(c.Request().Context(), caller(c)); err != nil {
		return h.fail(err)
	}
	h.clearSession(c)
	return c.NoContent(http.StatusOK)
}

// --- Users ---

// GetUser GET /user
func (h *Handler) GetUser(c echo.Context) error {
	username := c.QueryParam("username")
	p, err := h.svc.GetUser(c.Request().Context(), username)
	switch {
	case errors.Is(err, application.ErrMissingCredentials):
		return echo.NewHTTPError(http.StatusBadRequest, messages.UsernameRequired)
	case errors.Is(err, application.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, messages.NoSuchUser(username))
	case err != nil:
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, p)
}

// UpdateUser PUT /user
func (h *Handler) UpdateUser(c echo.Context) error {
	var req domain.UpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	p, err := h.svc.UpdateCurrentUser(c.Request().Context(), caller(c), req)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, p)
}

// ChangePassword PUT /user/password
func (h *Handler) ChangePassword(c echo.Context) error {
	var req application.PasswordChangeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, messages.NewPasswordRequired)
	}

	err := h.svc.ChangePassword(c.Request().Context(), caller(c), req)
	if errors.Is(err, application.ErrMissingCredentials) {
		return echo.NewHTTPError(http.StatusBadRequest, messages.NewPasswordRequired)
	}
	if err != nil {
		return h.fail(err)
	}
	return c.NoContent(http.StatusOK)
}

// UserRoles GET /user/role
func (h *Handler) UserRoles(c echo.Context) error {
	username := c.QueryParam("username")
	if username == "" {
		return echo.NewHTTPError(http.StatusBadRequest, messages.UsernameRequired)
	}
	return c.JSON(http.StatusOK, h.svc.UserRoles(c.Request().Context(), username))
}

// SearchGroup GET /group/user
func (h *Handler) SearchGroup(c echo.Context) error {
	q := application.GroupQuery{
		GroupName:  c.QueryParam("groupname"),
		Username:   c.QueryParam("username"),
		MaxResults: parseIntQuery(c, "maxResults", 0),
		StartAt:    parseIntQuery(c, "startAt", 0),
	}
	if q.GroupName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, messages.GroupNameRequired)
	}

	users, err := h.svc.SearchGroup(c.Request().Context(), mw.SessionID(c), q)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, users)
}

// --- Cache administration ---

// ClearCache POST /cache/clear-all
func (h *Handler) ClearCache(c echo.Context) error {
	id := mw.SessionID(c)
	if id == "" {
		return c.String(http.StatusForbidden, messages.CacheClearNoSession)
	}

	login, err := h.svc.ClearCache(c.Request().Context(), id)
	switch {
	case errors.Is(err, application.ErrUnauthenticated):
		return c.String(http.StatusForbidden, messages.CacheClearNoUser)
	case errors.Is(err, application.ErrForbidden):
		return c.String(http.StatusForbidden, messages.MissingPermission(domain.RoleAdministrator))
	case err != nil:
		return h.fail(err)
	}
	return c.String(http.StatusOK, messages.Cleared(login))
}

// --- Healthcheck ---

// Health GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":   "ok",
		"provider": h.provider,
		"sso":      h.svc.SupportsOIDC(),
	})
}

// --- Helpers ---

// fail maps service errors that every endpoint shares.
func (h *Handler) fail(err error) error {
	switch {
	case errors.Is(err, application.ErrUnauthenticated):
		return echo.NewHTTPError(http.StatusUnauthorized, messages.NotAuthenticated)
	case errors.Is(err, application.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrUnsupported):
		return echo.NewHTTPError(http.StatusNotImplemented, messages.Unsupported(h.provider))
	case errors.Is(err, domain.ErrUpdateFailed):
		return echo.NewHTTPError(http.StatusBadGateway, messages.UpdateFailed)
	default:
		log.Error().Err(err).Msg("request failed")
		return echo.ErrInternalServerError
	}
}

func (h *Handler) setSession(c echo.Context, id string) {
	c.SetCookie(h.sessionCookie(id, h.cookie.MaxAge))
}

func (h *Handler) clearSession(c echo.Context) {
	c.SetCookie(h.sessionCookie("", -1))
}

func (h *Handler) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     h.cookie.Name,
		Value:    value,
		Path:     "/",
		Domain:   h.cookie.Domain,
		MaxAge:   maxAge,
		Secure:   h.cookie.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func caller(c echo.Context) application.Caller {
	return application.Caller{SessionID: mw.SessionID(c), IP: c.RealIP()}
}

// origin is scheme://host as seen by the browser, honouring the reverse proxy headers.
func origin(c echo.Context) string {
	scheme := firstValue(c.Request().Header.Get(echo.HeaderXForwardedProto))
	if scheme == "" {
		scheme = c.Scheme()
	}
	host := firstValue(c.Request().Header.Get("X-Forwarded-Host"))
	if host == "" {
		host = c.Request().Host
	}
	return scheme + "://" + host
}

func firstValue(header string) string {
	v, _, _ := strings.Cut(header, ",")
	return strings.TrimSpace(v)
}

// returnPath only accepts local paths so the callback cannot redirect off-site.
func returnPath(state string) string {
	if !strings.HasPrefix(state, "/") || strings.HasPrefix(state, "//") || strings.HasPrefix(state, "/\\") {
		return defaultReturnTo
	}
	return state
}

func parseIntQuery(c echo.Context, key string, def int) int {
	v, err := strconv.Atoi(c.QueryParam(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}
