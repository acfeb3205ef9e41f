// Package messages holds the user-facing texts returned by the HTTP API.
package messages

import "fmt"

// ─── Authentication builders ─────────────────────────────────────────────────

func AuthenticationFailed(login string) string {
	return fmt.Sprintf(InvalidCredentials, login)
}

func SSOUnavailable(provider string) string {
	return fmt.Sprintf(OIDCUnavailable, provider)
}

// ─── User builders ───────────────────────────────────────────────────────────

func NoSuchUser(username string) string {
	return fmt.Sprintf(UserNotFound, username)
}

func Unsupported(provider string) string {
	return fmt.Sprintf(UpdateUnsupported, provider)
}

// ─── Cache builders ──────────────────────────────────────────────────────────

func MissingPermission(role string) string {
	return fmt.Sprintf(CacheClearPermission, role)
}

func Cleared(login string) string {
	return fmt.Sprintf(CacheCleared, login)
}
