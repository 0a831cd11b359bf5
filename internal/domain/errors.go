package domain

import "errors"

var (
	// ErrInvalidCredentials covers both unknown usernames and wrong
	// passwords; callers must not be able to tell them apart.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDuplicateUsername indicates a sign-up with a username that is taken.
	ErrDuplicateUsername = errors.New("username already registered")
	// ErrUserNotFound is returned when a token subject or ID no longer
	// resolves to a stored user.
	ErrUserNotFound = errors.New("user not found")
)
