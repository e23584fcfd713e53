package relay

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"securechat/pkg/live"
)

// Dialer opens the upstream live channel for an identity.
type Dialer interface {
	Dial(ctx context.Context, identity string) (live.Conn, error)
}

// WebSocketDialer connects to the message service live endpoint.
type WebSocketDialer struct {
	baseURL      string
	origin       string
	writeTimeout time.Duration
}

// NewWebSocketDialer accepts an http(s) or ws(s) base URL of the message service.
func NewWebSocketDialer(baseURL string, writeTimeout time.Duration) (*WebSocketDialer, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse message service url: %w", err)
	}
	origin := &url.URL{Scheme: "http", Host: u.Host}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
		origin.Scheme = "https"
	default:
		return nil, fmt.Errorf("unsupported message service scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("message service url %q has no host", baseURL)
	}
	return &WebSocketDialer{baseURL: u.String(), origin: origin.String(), writeTimeout: writeTimeout}, nil
}

// URL returns the live endpoint for identity.
func (d *WebSocketDialer) URL(identity string) string {
	return d.baseURL + "/ws/" + url.PathEscape(identity)
}

func (d *WebSocketDialer) Dial(ctx context.Context, identity string) (live.Conn, error) {
	cfg, err := websocket.NewConfig(d.URL(identity), d.origin)
	if err != nil {
		return nil, err
	}
	ws, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, err
	}
	return live.NewWSConn(ws, d.writeTimeout), nil
}
