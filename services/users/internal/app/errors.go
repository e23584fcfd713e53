package app

import "errors"

var (
	ErrUsernameRequired = errors.New("username is required")
	ErrInvalidUsername  = errors.New("username may only contain letters, digits, '.', '_' or '-' (max 64)")
	ErrEmailRequired    = errors.New("email is required")
	ErrInvalidEmail     = errors.New("invalid email address")
	ErrUserNotFound     = errors.New("user not found")
	ErrUsernameTaken    = errors.New("username already registered")
	ErrEmailTaken       = errors.New("email already registered")

	// ErrInvalidCredentials covers both unknown users and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid username or password")

	ErrStoreUnavailable = errors.New("user store unavailable")
)
