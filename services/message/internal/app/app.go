package app

import (
	"context"
	"fmt"
	"strings"

	"securechat/internal/util"
	"securechat/pkg/domain"
	"securechat/pkg/live"
	"securechat/pkg/store"
)

// Config wires the message service core.
type Config struct {
	Store    store.MessageStore
	Registry *live.Registry
	// Notifier defaults to local delivery through Registry.
	Notifier Notifier
}

// App persists messages, answers history and conversation queries, and
// owns the live delivery registry.
type App struct {
	store    store.MessageStore
	registry *live.Registry
	notifier Notifier
}

// New constructs the application core.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, ErrStoreNotConfigured
	}
	registry := cfg.Registry
	if registry == nil {
		registry = live.NewRegistry()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NewLocalNotifier(registry)
	}
	return &App{store: cfg.Store, registry: registry, notifier: notifier}, nil
}

// Ping reports whether the message store is reachable. Stores without a
// connectivity check are always ready.
func (a *App) Ping(ctx context.Context) error {
	pinger, ok := a.store.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	if err := pinger.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// Registry exposes the live registry.
func (a *App) Registry() *live.Registry {
	return a.registry
}

// Send persists a message, then pushes it to the receiver if connected.
// Delivery failures never fail the call.
func (a *App) Send(ctx context.Context, sender, receiver, content string) (domain.Message, error) {
	sender = strings.TrimSpace(sender)
	receiver = strings.TrimSpace(receiver)
	if sender == "" {
		return domain.Message{}, ErrSenderRequired
	}
	if receiver == "" {
		return domain.Message{}, ErrReceiverRequired
	}
	msg, err := a.store.AppendMessage(ctx, sender, receiver, content)
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	a.notifier.Notify(ctx, msg)
	return msg, nil
}

// History returns the thread between a and b, oldest first.
func (a *App) History(ctx context.Context, userA, userB string) ([]domain.Message, error) {
	userA, userB = strings.TrimSpace(userA), strings.TrimSpace(userB)
	if userA == "" || userB == "" {
		return nil, ErrIdentityRequired
	}
	msgs, err := a.store.History(ctx, userA, userB)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return msgs, nil
}

// Conversations returns user's counterparts ordered by recency.
func (a *App) Conversations(ctx context.Context, user string) ([]domain.ConversationSummary, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return nil, ErrIdentityRequired
	}
	items, err := a.store.Conversations(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return items, nil
}

// ServeLive registers conn as identity's delivery sink and holds it until
// the peer goes away. Inbound frames are keepalives and are discarded.
func (a *App) ServeLive(ctx context.Context, identity string, conn live.Conn) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		_ = conn.Close()
		return ErrIdentityRequired
	}
	logger := util.LoggerFromContext(ctx).With("identity", identity)
	if replaced := a.registry.Put(identity, conn); replaced {
		logger.Info("live connection replaced")
	}
	logger.Info("live connection opened", "connected", a.registry.Len())
	defer func() {
		a.registry.Detach(identity, conn)
		_ = conn.Close()
		logger.Info("live connection closed", "connected", a.registry.Len())
	}()
	for {
		if _, err := conn.Receive(); err != nil {
			return nil
		}
	}
}
