package messages

// ─── Authentication ──────────────────────────────────────────────────────────

const (
	MissingCredentials = "login and password are required"
	InvalidCredentials = "user '%s' could not be authenticated"
	NotAuthenticated   = "no valid session, please sign in again"
	OIDCUnavailable    = "single sign-on is not available with the '%s' identity provider"
	CodeExchangeFailed = "authorization code could not be exchanged"
)

// ─── Users ───────────────────────────────────────────────────────────────────

const (
	UserNotFound        = "user '%s' not found"
	UsernameRequired    = "username is required"
	GroupNameRequired   = "groupname is required"
	NewPasswordRequired = "newPassword is required"
	UpdateUnsupported   = "the '%s' identity provider does not support this change"
	UpdateFailed        = "the identity provider rejected the change"
)

// ─── Cache administration ────────────────────────────────────────────────────

const (
	CacheClearNoSession  = "cannot clear cache, no session cookie"
	CacheClearNoUser     = "cannot clear cache, user not found"
	CacheClearPermission = "cannot clear cache, missing permission %s"
	CacheCleared         = "account cache cleared by %s"
)
