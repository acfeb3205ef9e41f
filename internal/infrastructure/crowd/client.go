// Package crowd is the legacy directory backend: Atlassian Crowd's usermanagement REST API,
// authenticated with the application's Basic credentials.
package crowd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"vn.io.arda/identity/internal/accountcache"
	"vn.io.arda/identity/internal/domain"
	"vn.io.arda/identity/internal/metrics"
	"vn.io.arda/identity/internal/redact"
)

const backend = "crowd"

var errNotFound = errors.New("not found")

var _ domain.IdentityProvider = (*Client)(nil)

type Client struct {
	cfg     Config
	http    *http.Client
	cache   *accountcache.Cache
	metrics *metrics.Metrics
}

func New(cfg Config, httpClient *http.Client, cache *accountcache.Cache, m *metrics.Metrics) *Client {
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cache == nil {
		cache = accountcache.New(0, 0, m)
	}
	if cfg.URL == "" || cfg.AppName == "" {
		log.Error().Msg("crowd url or application name not configured")
	}
	log.Info().Str("url", cfg.URL).Str("app", cfg.AppName).Str("password", redact.Secret(cfg.AppPassword)).Msg("crowd client configured")
	return &Client{cfg: cfg, http: httpClient, cache: cache, metrics: m}
}

// Authenticate opens a Crowd SSO session and returns its token.
func (c *Client) Authenticate(ctx context.Context, username, password string) string {
	if username == "" || password == "" {
		return ""
	}
	var s session
	err := c.call(ctx, "create_session", http.MethodPost, "/session", nil,
		map[string]string{"username": username, "password": password}, &s)
	if err != nil {
		log.Warn().Err(err).Str("username", username).Msg("crowd authentication failed")
		return ""
	}
	return s.Token
}

func (c *Client) GetUser(ctx context.Context, username string) *domain.Principal {
	if username == "" {
		return nil
	}
	var u crowdUser
	if err := c.call(ctx, "user", http.MethodGet, "/user", url.Values{"username": {username}}, nil, &u); err != nil {
		c.logFailure(err, "crowd user lookup failed", username)
		return nil
	}
	return u.principal()
}

// GetUserByToken resolves the session through the account cache, roles included.
func (c *Client) GetUserByToken(ctx context.Context, token string) *domain.Principal {
	return c.cache.Resolve(ctx, token, func(ctx context.Context) *domain.Principal {
		var s session
		if err := c.call(ctx, "session", http.MethodGet, "/session/"+url.PathEscape(token), nil, nil, &s); err != nil {
			c.logFailure(err, "crowd session lookup failed", redact.Token(token))
			return nil
		}
		if s.User == nil {
			return nil
		}
		p := s.User.principal()
		p.Roles = c.GetUserRoles(ctx, p.Login)
		return p
	})
}

// GetUserRoles maps every direct group of the user to a role.
func (c *Client) GetUserRoles(ctx context.Context, username string) []string {
	roles := []string{}
	if username == "" {
		return roles
	}
	var groups groupsCollection
	if err := c.call(ctx, "user_groups", http.MethodGet, "/user/group/direct", url.Values{"username": {username}}, nil, &groups); err != nil {
		c.logFailure(err, "crowd user groups failed", username)
		return roles
	}
	for _, g := range groups.Groups {
		roles = append(roles, domain.PrefixRole(g.Name))
	}
	return roles
}

// SearchUsersByGroup pages the direct members of a Crowd group. Crowd applies the username
// filter and the window itself; each member is then re-read for its profile.
func (c *Client) SearchUsersByGroup(ctx context.Context, _ string, groupName, usernameFilter string, pageSize, offset int) []*domain.Principal {
	out := []*domain.Principal{}
	group := domain.StripRolePrefix(groupName)
	if group == "" {
		return out
	}
	q := url.Values{"groupname": {group}, "start-index": {strconv.Itoa(max(offset, 0))}}
	if pageSize > 0 {
		q.Set("max-results", strconv.Itoa(pageSize))
	}
	if usernameFilter != "" {
		q.Set("username", usernameFilter)
	}

	var members usersCollection
	if err := c.call(ctx, "group_members", http.MethodGet, "/group/user/direct", q, nil, &members); err != nil {
		c.logFailure(err, "crowd group members failed", group)
		return out
	}
	for _, login := range lo.Uniq(members.logins()) {
		u := c.GetUser(ctx, login)
		if u == nil || !u.Active {
			continue
		}
		out = append(out, u.Public())
	}
	return out
}

// InvalidateToken evicts the cached principal, then deletes the Crowd session.
func (c *Client) InvalidateToken(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}
	c.cache.Evict(token)
	if err := c.call(ctx, "delete_session", http.MethodDelete, "/session/"+url.PathEscape(token), nil, nil, nil); err != nil {
		log.Error().Err(err).Str("token", redact.Token(token)).Msg("crowd session delete failed")
		return false
	}
	return true
}

func (c *Client) UpdateUser(ctx context.Context, p *domain.Principal, req domain.UpdateRequest, token string) (*domain.Principal, error) {
	if p == nil || p.Login == "" {
		return nil, domain.ErrUpdateFailed
	}
	c.cache.Evict(token)

	body := crowdUser{Name: p.Login, Email: p.Email}
	if req.FirstName != nil {
		body.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		body.LastName = *req.LastName
	}
	if req.DisplayName != nil {
		body.DisplayName = *req.DisplayName
	}
	if err := c.call(ctx, "update_user", http.MethodPut, "/user", url.Values{"username": {p.Login}}, body, nil); err != nil {
		log.Error().Err(err).Str("username", p.Login).Msg("crowd user update failed")
		return nil, domain.ErrUpdateFailed
	}

	updated := c.GetUser(ctx, p.Login)
	if updated == nil {
		return nil, domain.ErrUpdateFailed
	}
	return updated, nil
}

func (c *Client) ResetUserPassword(ctx context.Context, username, newPassword string) error {
	if username == "" || newPassword == "" {
		return domain.ErrUpdateFailed
	}
	c.cache.EvictLogin(username)

	err := c.call(ctx, "reset_password", http.MethodPut, "/user/password", url.Values{"username": {username}},
		map[string]string{"value": newPassword}, nil)
	if err != nil {
		log.Error().Err(err).Str("username", username).Msg("crowd password reset failed")
		return domain.ErrUpdateFailed
	}
	return nil
}

// call sends one JSON request. A 404 is reported as errNotFound.
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, body, out any) (err error) {
	defer func() {
		if errors.Is(err, errNotFound) {
			c.metrics.RemoteCall(backend, op, nil)
			return
		}
		c.metrics.RemoteCall(backend, op, err)
	}()

	u := c.cfg.URL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.cfg.AppName, c.cfg.AppPassword)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("crowd %s: %w", op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("crowd %s: %w", op, errNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("crowd %s: status %d", op, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("crowd %s: decode: %w", op, err)
	}
	return nil
}

func (c *Client) logFailure(err error, msg, subject string) {
	if errors.Is(err, errNotFound) {
		log.Debug().Str("subject", subject).Msg(msg)
		return
	}
	log.Error().Err(err).Str("subject", subject).Msg(msg)
}
