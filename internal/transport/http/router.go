package http

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"vn.io.arda/identity/internal/metrics"
	"vn.io.arda/identity/internal/transport/mw"
)

// RouterOptions carries the optional edge policies.
type RouterOptions struct {
	CORSOrigins []string
	BasicAuth   BasicAuth
}

// BasicAuth guards every route outside publicPaths when Enabled.
type BasicAuth struct {
	Enabled  bool
	Username string
	Password string
}

// publicPaths stay reachable without basic credentials so browsers can sign in.
var publicPaths = map[string]bool{
	"/health":         true,
	"/metrics":        true,
	"/authenticate":   true,
	"/auth/login":     true,
	"/auth/auto":      true,
	callbackPath:      true,
	"/account":        true,
	"/account/logout": true,
}

// NewRouter sets up all Echo routes and middleware.
func NewRouter(h *Handler, m *metrics.Metrics, opts RouterOptions) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(mw.RequestLogger())
	if len(opts.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     opts.CORSOrigins,
			AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization},
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowCredentials: true,
			ExposeHeaders:    []string{headerUsername, headerRoles},
		}))
	}
	if opts.BasicAuth.Enabled {
		e.Use(basicAuth(opts.BasicAuth))
	}
	e.Use(mw.Session(h.cookie.Name))

	// Operational
	e.GET("/health", h.Health)
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	// Sign-in
	e.POST("/authenticate", h.Authenticate)
	e.GET("/auth/login", h.Login)
	e.GET("/auth/auto", h.AutoLogin)
	e.GET(callbackPath, h.Callback)

	// Session-bound endpoints
	e.GET("/account", h.Account)
	e.POST("/account/logout", h.Logout)
	e.GET("/user", h.GetUser)
	e.PUT("/user", h.UpdateUser)
	e.PUT("/user/password", h.ChangePassword)
	e.GET("/user/role", h.UserRoles)
	e.GET("/group/user", h.SearchGroup)
	e.POST("/cache/clear-all", h.ClearCache)

	return e
}

func basicAuth(cfg BasicAuth) echo.MiddlewareFunc {
	user, pass := []byte(cfg.Username), []byte(cfg.Password)
	return middleware.BasicAuthWithConfig(middleware.BasicAuthConfig{
		Skipper: func(c echo.Context) bool {
			return publicPaths[c.Request().URL.Path]
		},
		Validator: func(username, password string, _ echo.Context) (bool, error) {
			userOK := subtle.ConstantTimeCompare([]byte(username), user) == 1
			passOK := subtle.ConstantTimeCompare([]byte(password), pass) == 1
			return userOK && passOK, nil
		},
		Realm: "identity",
	})
}
