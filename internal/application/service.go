package application

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"vn.io.arda/identity/internal/accountcache"
	"vn.io.arda/identity/internal/domain"
	"vn.io.arda/identity/internal/redact"
)

// Service holds all identity use-cases. It only sees the provider contract, so the same
// code path serves every backend.
type Service struct {
	provider   domain.IdentityProvider
	oidc       domain.OIDCFlow
	sessions   domain.SessionStore
	cache      *accountcache.Cache
	events     domain.EventPublisher
	commands   domain.CacheCommandPublisher
	sessionTTL time.Duration
}

// NewService creates a new application Service. The OIDC flow is enabled when the provider
// implements domain.OIDCFlow.
func NewService(
	provider domain.IdentityProvider,
	sessions domain.SessionStore,
	cache *accountcache.Cache,
	events domain.EventPublisher,
	commands domain.CacheCommandPublisher,
	sessionTTL time.Duration,
) *Service {
	s := &Service{
		provider:   provider,
		sessions:   sessions,
		cache:      cache,
		events:     events,
		commands:   commands,
		sessionTTL: sessionTTL,
	}
	s.oidc, _ = provider.(domain.OIDCFlow)
	return s
}

// SupportsOIDC reports whether the redirect login flow is available.
func (s *Service) SupportsOIDC() bool {
	return s.oidc != nil
}

// Login authenticates with username and password and opens a session.
func (s *Service) Login(ctx context.Context, req LoginRequest, ip string) (string, error) {
	if req.Login == "" || req.Password == "" {
		return "", ErrMissingCredentials
	}
	token := s.provider.Authenticate(ctx, req.Login, req.Password)
	if token == "" {
		log.Warn().Str("login", req.Login).Msg("failed to authenticate")
		return "", ErrInvalidCredentials
	}
	return s.openSession(ctx, token, ip)
}

// AuthorizationURL builds the redirect to the authorization server. returnTo travels in state.
func (s *Service) AuthorizationURL(redirectURI, returnTo string, promptNone bool) (string, error) {
	if s.oidc == nil {
		return "", domain.ErrUnsupported
	}
	u, err := url.Parse(s.oidc.BuildAuthorizationURL(redirectURI, promptNone))
	if err != nil {
		return "", fmt.Errorf("authorization url: %w", err)
	}
	if returnTo == "" {
		returnTo = "/"
	}
	q := u.Query()
	q.Set("state", returnTo)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Callback exchanges an authorization code and opens a session.
func (s *Service) Callback(ctx context.Context, code, redirectURI, ip string) (string, error) {
	if s.oidc == nil {
		return "", domain.ErrUnsupported
	}
	if code == "" {
		return "", ErrMissingCredentials
	}
	token := s.oidc.ExchangeCodeForAccessToken(ctx, code, redirectURI)
	if token == "" {
		log.Error().Str("code", redact.Token(code)).Msg("failed to exchange code for access token")
		return "", ErrUnauthenticated
	}
	return s.openSession(ctx, token, ip)
}

func (s *Service) openSession(ctx context.Context, token, ip string) (string, error) {
	id, err := s.sessions.Create(ctx, token, s.sessionTTL)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	if p := s.provider.GetUserByToken(ctx, token); p != nil {
		s.publish(ctx, domain.EventLogin, p, ip, "")
	}
	log.Debug().Str("session", redact.Token(id)).Msg("session opened")
	return id, nil
}

// token resolves the access token behind a session id.
func (s *Service) token(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", ErrUnauthenticated
	}
	token, err := s.sessions.Token(ctx, sessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return "", ErrUnauthenticated
	}
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	return token, nil
}

// Account returns the principal of the session together with its access token.
func (s *Service) Account(ctx context.Context, sessionID string) (*domain.Principal, string, error) {
	token, err := s.token(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	p := s.provider.GetUserByToken(ctx, token)
	if p == nil {
		log.Warn().Str("session", redact.Token(sessionID)).Msg("failed to get user by token")
		return nil, "", ErrUnauthenticated
	}
	return p, token, nil
}

// Logout revokes the token and removes the session. Unknown sessions are not an error.
func (s *Service) Logout(ctx context.Context, caller Caller) error {
	token, err := s.token(ctx, caller.SessionID)
	if errors.Is(err, ErrUnauthenticated) {
		return nil
	}
	if err != nil {
		return err
	}

	p := s.provider.GetUserByToken(ctx, token)
	if !s.provider.InvalidateToken(ctx, token) {
		log.Warn().Str("session", redact.Token(caller.SessionID)).Msg("remote token revocation failed")
	}
	if err := s.sessions.Delete(ctx, caller.SessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if p != nil {
		s.publish(ctx, domain.EventLogout, p, caller.IP, "")
	}
	return nil
}

func (s *Service) GetUser(ctx context.Context, username string) (*domain.Principal, error) {
	if username == "" {
		return nil, ErrMissingCredentials
	}
	p := s.provider.GetUser(ctx, username)
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

func (s *Service) UserRoles(ctx context.Context, username string) []string {
	return s.provider.GetUserRoles(ctx, username)
}

// UpdateCurrentUser changes the profile of the session's user.
func (s *Service) UpdateCurrentUser(ctx context.Context, caller Caller, req domain.UpdateRequest) (*domain.Principal, error) {
	p, token, err := s.Account(ctx, caller.SessionID)
	if err != nil {
		return nil, err
	}
	updated, err := s.provider.UpdateUser(ctx, p, req, token)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, domain.EventProfileUpdated, p, caller.IP, "")
	return updated, nil
}

// ChangePassword sets a new password for the session's user.
func (s *Service) ChangePassword(ctx context.Context, caller Caller, req PasswordChangeRequest) error {
	if req.NewPassword == "" {
		return ErrMissingCredentials
	}
	p, _, err := s.Account(ctx, caller.SessionID)
	if err != nil {
		return err
	}
	if err := s.provider.ResetUserPassword(ctx, p.Login, req.NewPassword); err != nil {
		return err
	}
	s.publish(ctx, domain.EventPasswordChanged, p, caller.IP, "")
	return nil
}

// SearchGroup lists the members of a group on behalf of the session's user.
func (s *Service) SearchGroup(ctx context.Context, sessionID string, q GroupQuery) ([]*domain.Principal, error) {
	p, _, err := s.Account(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.provider.SearchUsersByGroup(ctx, p.ID, q.GroupName, q.Username, q.MaxResults, q.StartAt), nil
}

// ClearCache empties the account cache here and on every peer. Administrators only.
// It returns the login of the administrator.
func (s *Service) ClearCache(ctx context.Context, sessionID string) (string, error) {
	p, _, err := s.Account(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !p.HasRole(domain.RoleAdministrator) {
		log.Warn().Str("login", p.Login).Msg("cache clear refused, missing administrator role")
		return p.Login, ErrForbidden
	}
	s.cache.Purge()
	s.commands.PublishCacheCommand(ctx, domain.CacheCommand{Action: domain.CacheClear})
	log.Info().Str("login", p.Login).Msg("account cache cleared")
	return p.Login, nil
}

// ApplyCacheCommand executes a command received from a peer.
func (s *Service) ApplyCacheCommand(_ context.Context, cmd domain.CacheCommand) {
	switch cmd.Action {
	case domain.CacheClear:
		s.cache.Purge()
	case domain.CacheEvictUser:
		n := s.cache.EvictLogin(cmd.Login)
		log.Debug().Str("login", cmd.Login).Int("evicted", n).Msg("account cache entries evicted")
	default:
		log.Warn().Str("action", string(cmd.Action)).Msg("unknown cache command")
	}
}

func (s *Service) publish(ctx context.Context, t domain.EventType, p *domain.Principal, ip, detail string) {
	s.events.Publish(ctx, domain.IdentityEvent{
		Type:   t,
		UserID: p.ID,
		Login:  p.Login,
		IP:     ip,
		Detail: detail,
	})
}
