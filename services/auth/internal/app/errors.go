package app

import "errors"

var (
	// ErrInvalidCredentials is shown to end users and must not reveal which
	// half of the pair was wrong.
	ErrInvalidCredentials = errors.New("invalid username or password")

	ErrUsernameRequired = errors.New("username is required")
	ErrNothingToUpdate  = errors.New("no fields to update")
)
