package application

import "errors"

var (
	// ErrMissingCredentials is returned when a required input is empty.
	ErrMissingCredentials = errors.New("missing credentials")
	// ErrInvalidCredentials is returned when the backend rejected the credentials.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthenticated is returned when the session is unknown or its token no longer resolves.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrForbidden is returned when the caller lacks the required role.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound is returned when a looked-up user does not exist.
	ErrNotFound = errors.New("user not found")
)
