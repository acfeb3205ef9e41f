// Package keycloak implements the identity provider contract on top of a Keycloak realm:
// OIDC flows for end users and the admin REST API for lookups and federated group search.
package keycloak

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/oauth2"

	"vn.io.arda/identity/internal/accountcache"
	"vn.io.arda/identity/internal/domain"
	"vn.io.arda/identity/internal/metrics"
	"vn.io.arda/identity/internal/redact"
)

const backend = "keycloak"

var (
	_ domain.IdentityProvider = (*Provider)(nil)
	_ domain.OIDCFlow         = (*Provider)(nil)
)

// Provider is safe for concurrent use. Its only mutable state is the shared account cache.
type Provider struct {
	cfg     Config
	http    *http.Client
	oauth   *oauth2.Config
	cache   *accountcache.Cache
	metrics *metrics.Metrics
}

// New never fails: missing configuration is logged and the dependent calls return empty results.
func New(cfg Config, httpClient *http.Client, cache *accountcache.Cache, m *metrics.Metrics) *Provider {
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cache == nil {
		cache = accountcache.New(0, 0, m)
	}
	p := &Provider{cfg: cfg, http: httpClient, cache: cache, metrics: m}
	p.oauth = p.oauthConfig()

	if missing := cfg.missing(); len(missing) > 0 {
		log.Error().Strs("missing", missing).Msg("keycloak provider misconfigured, dependent calls will return empty results")
	}
	log.Info().
		Str("token_url", p.endpoint("token")).
		Str("admin_url", p.adminURL("")).
		Str("client_id", cfg.ClientID).
		Str("client_secret", redact.Secret(cfg.ClientSecret)).
		Str("admin_client_id", cfg.AdminClientID).
		Str("admin_client_secret", redact.Secret(cfg.AdminClientSecret)).
		Msg("keycloak provider configured")
	return p
}

// GetUser looks a user up by exact username.
func (p *Provider) GetUser(ctx context.Context, username string) *domain.Principal {
	if username == "" {
		return nil
	}
	s, ok := p.admin(ctx)
	if !ok {
		return nil
	}
	u, ok := s.findUser(ctx, username)
	if !ok {
		return nil
	}
	return u.principal()
}

// GetUserByToken is IntrospectToken: both go through the account cache.
func (p *Provider) GetUserByToken(ctx context.Context, token string) *domain.Principal {
	return p.IntrospectToken(ctx, token)
}

// GetUserRoles unions the realm mappings with every client mapping of the user.
func (p *Provider) GetUserRoles(ctx context.Context, username string) []string {
	roles := []string{}
	if username == "" {
		return roles
	}
	s, ok := p.admin(ctx)
	if !ok {
		return roles
	}
	u, ok := s.findUser(ctx, username)
	if !ok {
		return roles
	}

	var mappings kcRoleMappings
	if err := s.get(ctx, "role_mappings", "users/"+url.PathEscape(u.ID)+"/role-mappings", nil, &mappings); err != nil {
		log.Error().Err(err).Str("username", username).Msg("keycloak role mappings failed")
		return roles
	}
	for _, r := range mappings.RealmMappings {
		roles = append(roles, domain.PrefixRole(r.Name))
	}
	for _, client := range sortedClientMappings(mappings) {
		for _, r := range mappings.ClientMappings[client].Mappings {
			roles = append(roles, domain.PrefixRole(r.Name))
		}
	}
	return lo.Uniq(roles)
}

func sortedClientMappings(m kcRoleMappings) []string {
	keys := lo.Keys(m.ClientMappings)
	slices.Sort(keys)
	return keys
}

// SearchUsersByGroup answers "who holds groupName" whether it is a group, a realm role, a client
// role or a composite. Results are enabled users only, without email.
func (p *Provider) SearchUsersByGroup(ctx context.Context, actingID, groupName, usernameFilter string, pageSize, offset int) []*domain.Principal {
	out := []*domain.Principal{}
	term := domain.StripRolePrefix(groupName)
	if term == "" {
		return out
	}
	s, ok := p.admin(ctx)
	if !ok {
		return out
	}

	users := refine(p.resolve(ctx, s, search{actingID: actingID, term: term}), usernameFilter, pageSize, offset)
	for _, u := range users {
		out = append(out, u.principal().Public())
	}
	return out
}

// InvalidateToken evicts the cached principal, then revokes the token at Keycloak.
func (p *Provider) InvalidateToken(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}
	p.cache.Evict(token)
	if err := p.revoke(ctx, token); err != nil {
		log.Error().Err(err).Str("token", redact.Token(token)).Msg("keycloak token revocation failed")
		return false
	}
	return true
}

// UpdateUser changes the user's own profile through the account endpoint using their token.
// Keycloak has no display-name attribute: req.DisplayName is not sent and the returned
// principal's DisplayName is derived from the stored first and last name.
func (p *Provider) UpdateUser(ctx context.Context, principal *domain.Principal, req domain.UpdateRequest, token string) (*domain.Principal, error) {
	if principal == nil || token == "" {
		return nil, domain.ErrUpdateFailed
	}
	p.cache.Evict(token)

	body := map[string]string{"email": principal.Email}
	if req.FirstName != nil {
		body["firstName"] = *req.FirstName
	}
	if req.LastName != nil {
		body["lastName"] = *req.LastName
	}
	httpReq, err := newJSONRequest(ctx, http.MethodPost, p.cfg.URL+"/realms/"+url.PathEscape(p.cfg.Realm)+"/account/", body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	if err := p.do(httpReq, "account_update", nil); err != nil {
		log.Error().Err(err).Str("username", principal.Login).Msg("keycloak profile update failed")
		return nil, domain.ErrUpdateFailed
	}

	updated := p.GetUser(ctx, principal.Login)
	if updated == nil {
		return nil, domain.ErrUpdateFailed
	}
	return updated, nil
}

// ResetUserPassword sets a permanent password through the admin API.
func (p *Provider) ResetUserPassword(ctx context.Context, username, newPassword string) error {
	if username == "" || newPassword == "" {
		return domain.ErrUpdateFailed
	}
	p.cache.EvictLogin(username)

	s, ok := p.admin(ctx)
	if !ok {
		return domain.ErrUpdateFailed
	}
	u, ok := s.findUser(ctx, username)
	if !ok {
		return domain.ErrUpdateFailed
	}
	cred := map[string]any{"type": "password", "value": newPassword, "temporary": false}
	if err := s.send(ctx, "reset_password", http.MethodPut, "users/"+url.PathEscape(u.ID)+"/reset-password", cred); err != nil {
		log.Error().Err(err).Str("username", username).Msg("keycloak password reset failed")
		return domain.ErrUpdateFailed
	}
	return nil
}
