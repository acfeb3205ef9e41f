package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"vn.io.arda/identity/internal/domain"
	"vn.io.arda/identity/internal/redact"
)

var scopes = []string{"openid", "profile", "email"}

func (p *Provider) endpoint(name string) string {
	return p.cfg.URL + "/realms/" + url.PathEscape(p.cfg.Realm) + "/protocol/openid-connect/" + name
}

func (p *Provider) adminURL(path string) string {
	return p.cfg.URL + "/admin/realms/" + url.PathEscape(p.cfg.Realm) + "/" + path
}

func (p *Provider) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.endpoint("auth"),
			TokenURL:  p.endpoint("token"),
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: scopes,
	}
}

// oauthContext makes the oauth2 package use the provider's bounded http client.
func (p *Provider) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.http)
}

// BuildAuthorizationURL composes the authorization endpoint URL. It performs no I/O.
func (p *Provider) BuildAuthorizationURL(redirectURI string, promptNone bool) string {
	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("redirect_uri", redirectURI)}
	if promptNone {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", "none"))
	}
	u := p.oauth.AuthCodeURL("", opts...)
	log.Debug().Str("redirect_uri", redirectURI).Bool("prompt_none", promptNone).Msg("keycloak authorization url built")
	return u
}

// ExchangeCodeForAccessToken trades an authorization code for an access token. "" on any failure.
func (p *Provider) ExchangeCodeForAccessToken(ctx context.Context, code, redirectURI string) string {
	if code == "" || redirectURI == "" {
		return ""
	}
	tok, err := p.oauth.Exchange(p.oauthContext(ctx), code, oauth2.SetAuthURLParam("redirect_uri", redirectURI))
	p.metrics.RemoteCall(backend, "code_exchange", err)
	if err != nil {
		log.Error().Err(err).
			Str("code", redact.Token(code)).
			Str("redirect_uri", redirectURI).
			Msg("keycloak code exchange failed")
		return ""
	}
	return tok.AccessToken
}

// Authenticate uses the password grant. Meant for first-party testing only.
func (p *Provider) Authenticate(ctx context.Context, username, password string) string {
	if username == "" || password == "" {
		return ""
	}
	tok, err := p.oauth.PasswordCredentialsToken(p.oauthContext(ctx), username, password)
	p.metrics.RemoteCall(backend, "password_grant", err)
	if err != nil {
		log.Warn().Err(err).Str("username", username).Msg("keycloak authentication failed")
		return ""
	}
	return tok.AccessToken
}

// IntrospectToken resolves token through the account cache. Nil for inactive or unknown tokens.
func (p *Provider) IntrospectToken(ctx context.Context, token string) *domain.Principal {
	return p.cache.Resolve(ctx, token, func(ctx context.Context) *domain.Principal {
		principal := p.introspect(ctx, token)
		if principal != nil && len(principal.Roles) == 0 {
			principal.Roles = p.GetUserRoles(ctx, principal.Login)
		}
		return principal
	})
}

func (p *Provider) introspect(ctx context.Context, token string) *domain.Principal {
	claims, err := p.introspectClaims(ctx, token)
	p.metrics.RemoteCall(backend, "introspect", err)
	if err != nil {
		log.Error().Err(err).Str("token", redact.Token(token)).Msg("keycloak introspection failed")
		return nil
	}
	principal := principalFromClaims(claims)
	if principal == nil {
		log.Debug().Str("token", redact.Token(token)).Msg("keycloak token not active")
	}
	return principal
}

// introspectClaims accepts both the JSON body and the application/jwt variant. The JWT comes
// straight from the issuer over the configured channel, so its signature is not checked here.
func (p *Provider) introspectClaims(ctx context.Context, token string) (jwt.MapClaims, error) {
	req, err := newFormRequest(ctx, p.endpoint("token/introspect"), url.Values{
		"token":         {token},
		"client_id":     {p.cfg.ClientID},
		"client_secret": {p.cfg.ClientSecret},
	})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json, application/jwt")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("keycloak introspect: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("keycloak introspect: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("keycloak introspect: %w", err)
	}

	claims := jwt.MapClaims{}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt == "application/jwt" {
		if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(string(body)), claims); err != nil {
			return nil, fmt.Errorf("keycloak introspect: parse jwt: %w", err)
		}
		return claims, nil
	}
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, fmt.Errorf("keycloak introspect: decode: %w", err)
	}
	return claims, nil
}

// revoke posts the token to the revocation endpoint.
func (p *Provider) revoke(ctx context.Context, token string) error {
	req, err := newFormRequest(ctx, p.endpoint("revoke"), url.Values{
		"token":         {token},
		"client_id":     {p.cfg.ClientID},
		"client_secret": {p.cfg.ClientSecret},
	})
	if err != nil {
		return err
	}
	return p.do(req, "revoke", nil)
}
