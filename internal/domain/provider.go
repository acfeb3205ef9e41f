package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupported is returned by backends that cannot perform a mutation.
	ErrUnsupported = errors.New("operation not supported by identity provider")

	// ErrUpdateFailed is returned when the backend rejected or could not apply a mutation.
	ErrUpdateFailed = errors.New("identity provider update failed")
)

// IdentityProvider is the capability set every backend satisfies. Callers depend only on it.
//
// Read operations never surface transport failures: an unreachable backend, a bad credential
// and an unknown user all look the same ("" / nil / empty / false).
type IdentityProvider interface {
	// Authenticate returns a bearer token, or "" on bad credentials or backend failure.
	Authenticate(ctx context.Context, username, password string) string

	// GetUser performs an exact-match lookup. Nil when not found.
	GetUser(ctx context.Context, username string) *Principal

	// GetUserByToken resolves a bearer token. Results are cached by token.
	GetUserByToken(ctx context.Context, token string) *Principal

	// GetUserRoles never returns nil.
	GetUserRoles(ctx context.Context, username string) []string

	// SearchUsersByGroup lists active holders of a group or role, without email addresses.
	SearchUsersByGroup(ctx context.Context, actingID, groupName, usernameFilter string, pageSize, offset int) []*Principal

	// InvalidateToken evicts the cached principal before revoking the token remotely.
	InvalidateToken(ctx context.Context, token string) bool

	// UpdateUser changes profile fields and evicts the cache entry of token.
	UpdateUser(ctx context.Context, p *Principal, req UpdateRequest, token string) (*Principal, error)

	// ResetUserPassword sets a new password and evicts every cached entry of the user.
	ResetUserPassword(ctx context.Context, username, newPassword string) error
}

// OIDCFlow is implemented by backends speaking the OAuth2 authorization-code flow.
type OIDCFlow interface {
	BuildAuthorizationURL(redirectURI string, promptNone bool) string
	ExchangeCodeForAccessToken(ctx context.Context, code, redirectURI string) string
	IntrospectToken(ctx context.Context, token string) *Principal
}

// ProviderType selects the backend built at startup.
type ProviderType string

const (
	ProviderCrowd    ProviderType = "crowd"
	ProviderFile     ProviderType = "file"
	ProviderKeycloak ProviderType = "keycloak"
)

// ParseProviderType accepts the names case-insensitively.
func ParseProviderType(s string) (ProviderType, error) {
	switch t := ProviderType(strings.ToLower(strings.TrimSpace(s))); t {
	case ProviderCrowd, ProviderFile, ProviderKeycloak:
		return t, nil
	default:
		return "", fmt.Errorf("unknown identity provider %q", s)
	}
}
