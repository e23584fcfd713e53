package store

import (
	"context"
	"errors"
	"fmt"

	"securechat/pkg/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrConflict      = errors.New("store: conflict")
	ErrUsernameTaken = fmt.Errorf("%w: username already exists", ErrConflict)
	ErrEmailTaken    = fmt.Errorf("%w: email already exists", ErrConflict)
)

// MessageStore is the append-only message log.
type MessageStore interface {
	// AppendMessage persists a message, assigning its id and timestamp.
	AppendMessage(ctx context.Context, sender, receiver, content string) (domain.Message, error)
	// History returns every message between a and b in either direction,
	// ascending by timestamp (id breaks ties).
	History(ctx context.Context, a, b string) ([]domain.Message, error)
	// Conversations groups user's messages by counterpart, newest first,
	// ties ordered by counterpart ascending.
	Conversations(ctx context.Context, user string) ([]domain.ConversationSummary, error)
}

// UserStore persists accounts keyed by username.
type UserStore interface {
	CreateUser(ctx context.Context, u domain.User) error
	GetUser(ctx context.Context, username string) (domain.User, error)
	UpdateUser(ctx context.Context, u domain.User) error
	DeleteUser(ctx context.Context, username string) error
}
