package application

// LoginRequest is the body of POST /authenticate.
type LoginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// PasswordChangeRequest is the body of PUT /user/password.
type PasswordChangeRequest struct {
	NewPassword string `json:"newPassword"`
}

// Caller identifies the session and client behind a request.
type Caller struct {
	SessionID string
	IP        string
}

// GroupQuery holds the roster search parameters of GET /group/user.
type GroupQuery struct {
	GroupName  string
	Username   string
	MaxResults int
	StartAt    int
}
