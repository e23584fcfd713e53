// Package relay bridges a client's duplex channel to the message service
// live endpoint for the same identity.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"securechat/internal/util"
	"securechat/pkg/live"
)

var (
	ErrClientClosed   = errors.New("relay: client channel closed")
	ErrUpstreamClosed = errors.New("relay: upstream channel closed")
	errBridgeClosed   = errors.New("relay: bridge closed before upstream attached")
)

// Config wires a Relay.
type Config struct {
	Dialer Dialer
	Retry  RetryPolicy
	// Active is the gateway's active-client map. Nil creates one.
	Active *live.Registry
}

// Relay creates one bridge per accepted client connection.
type Relay struct {
	dialer Dialer
	retry  RetryPolicy
	active *live.Registry
}

// New constructs a Relay.
func New(cfg Config) (*Relay, error) {
	if cfg.Dialer == nil {
		return nil, errors.New("relay: dialer is required")
	}
	active := cfg.Active
	if active == nil {
		active = live.NewRegistry()
	}
	return &Relay{dialer: cfg.Dialer, retry: cfg.Retry, active: active}, nil
}

// Active returns the number of identities with an open client channel.
func (r *Relay) Active() int {
	return r.active.Len()
}

// Serve owns client for the lifetime of one bridge and blocks until the
// bridge is torn down. Client frames are read from the start and handed to
// the upstream once it connects; the upstream is dialed under the retry
// policy. The first failure in either direction cancels the shared context,
// both channels are closed, and Serve waits for every task before returning
// that first error.
func (r *Relay) Serve(ctx context.Context, identity string, client live.Conn) error {
	logger := util.LoggerFromContext(ctx).With("identity", identity)
	if r.active.Put(identity, client) {
		logger.Info("client connection replaced")
	}
	b := &bridge{client: client}
	defer func() {
		b.close()
		r.active.Detach(identity, client)
	}()

	g, gctx := errgroup.WithContext(ctx)
	inbound := make(chan string)

	g.Go(func() error {
		for {
			frame, err := client.Receive()
			if err != nil {
				return fmt.Errorf("%w: %w", ErrClientClosed, err)
			}
			select {
			case inbound <- frame:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	g.Go(func() error {
		upstream, err := r.connect(gctx, identity, logger)
		if err != nil {
			return err
		}
		if !b.attach(upstream) {
			return errBridgeClosed
		}
		logger.Info("bridge established")

		g.Go(func() error {
			for {
				frame, err := upstream.Receive()
				if err != nil {
					return fmt.Errorf("%w: %w", ErrUpstreamClosed, err)
				}
				if err := client.Send(frame); err != nil {
					return fmt.Errorf("%w: write: %w", ErrClientClosed, err)
				}
			}
		})

		for {
			select {
			case frame := <-inbound:
				if err := upstream.Send(frame); err != nil {
					return fmt.Errorf("%w: write: %w", ErrUpstreamClosed, err)
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	// Blocked reads only return once their channel is closed.
	g.Go(func() error {
		<-gctx.Done()
		b.close()
		return nil
	})

	err := g.Wait()
	logger.Info("bridge closed", "reason", err)
	return err
}

func (r *Relay) connect(ctx context.Context, identity string, logger *slog.Logger) (live.Conn, error) {
	var upstream live.Conn
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		conn, err := r.dialer.Dial(ctx, identity)
		if err != nil {
			return err
		}
		upstream = conn
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		logger.Warn("message service unavailable, retrying", "attempt", attempt, "wait", wait, "err", err)
	})
	if err != nil {
		return nil, fmt.Errorf("connect upstream: %w", err)
	}
	return upstream, nil
}

// bridge owns both channels of one relay session.
type bridge struct {
	mu       sync.Mutex
	client   live.Conn
	upstream live.Conn
	closed   bool
}

// attach installs the upstream channel unless the bridge is already closed,
// in which case upstream is closed immediately.
func (b *bridge) attach(upstream live.Conn) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		_ = upstream.Close()
		return false
	}
	b.upstream = upstream
	return true
}

// close closes both channels once. Close errors are ignored.
func (b *bridge) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	_ = b.client.Close()
	if b.upstream != nil {
		_ = b.upstream.Close()
	}
}
