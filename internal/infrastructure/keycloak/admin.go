package keycloak

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// adminSession carries one admin access token for the duration of a single contract call.
// Tokens are never shared between calls.
type adminSession struct {
	p     *Provider
	token string
}

// admin obtains a fresh client-credentials token. ok is false when the admin client is not
// configured or Keycloak refused the grant; callers then degrade to empty results.
func (p *Provider) admin(ctx context.Context) (*adminSession, bool) {
	if p.cfg.AdminClientID == "" || p.cfg.AdminClientSecret == "" {
		log.Warn().Msg("keycloak admin client credentials not configured")
		return nil, false
	}
	cc := clientcredentials.Config{
		ClientID:     p.cfg.AdminClientID,
		ClientSecret: p.cfg.AdminClientSecret,
		TokenURL:     p.endpoint("token"),
		Scopes:       scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tok, err := cc.Token(p.oauthContext(ctx))
	p.metrics.RemoteCall(backend, "admin_token", err)
	if err != nil {
		log.Error().Err(err).Str("client_id", p.cfg.AdminClientID).Msg("keycloak admin token failed")
		return nil, false
	}
	if tok.AccessToken == "" {
		log.Error().Str("client_id", p.cfg.AdminClientID).Msg("keycloak returned empty admin access_token")
		return nil, false
	}
	return &adminSession{p: p, token: tok.AccessToken}, true
}

// get decodes GET {admin base}/{path}?{query} into out.
func (s *adminSession) get(ctx context.Context, op, path string, query url.Values, out any) error {
	u := s.p.adminURL(path)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	return s.p.do(req, op, out)
}

// send issues a JSON request with no expected response body.
func (s *adminSession) send(ctx context.Context, op, method, path string, body any) error {
	req, err := newJSONRequest(ctx, method, s.p.adminURL(path), body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	return s.p.do(req, op, nil)
}

func (s *adminSession) findUser(ctx context.Context, username string) (kcUser, bool) {
	var users []kcUser
	q := url.Values{"exact": {"true"}, "username": {username}}
	if err := s.get(ctx, "users", "users", q, &users); err != nil {
		log.Error().Err(err).Str("username", username).Msg("keycloak user lookup failed")
		return kcUser{}, false
	}
	if len(users) == 0 {
		return kcUser{}, false
	}
	return users[0], true
}

func newJSONRequest(ctx context.Context, method, u string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func newFormRequest(ctx context.Context, u string, form url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

// do sends req, fails on non-2xx and decodes JSON into out when out is non-nil.
func (p *Provider) do(req *http.Request, op string, out any) (err error) {
	defer func() { p.metrics.RemoteCall(backend, op, err) }()

	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("keycloak %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("keycloak %s: status %d", op, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("keycloak %s: decode: %w", op, err)
	}
	return nil
}
