package app

import "errors"

var (
	ErrSenderRequired     = errors.New("sender is required")
	ErrReceiverRequired   = errors.New("receiver is required")
	ErrIdentityRequired   = errors.New("identity is required")
	ErrStoreUnavailable   = errors.New("message store unavailable")
	ErrStoreNotConfigured = errors.New("message store not configured")
)
