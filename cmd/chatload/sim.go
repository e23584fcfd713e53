package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/websocket"
	"golang.org/x/sync/errgroup"

	"securechat/pkg/domain"
	"securechat/pkg/live"
)

type simConfig struct {
	BaseURL     string
	Users       int
	Prefix      string
	Password    string
	Timeout     time.Duration
	Create      bool
	Concurrency int
	// Settle is the pause between opening live channels and sending, so the
	// gateway has bridged every channel through to the message service.
	Settle time.Duration
}

type outcome struct {
	User     string
	Target   string
	Received string
	Err      error
}

type simUser struct {
	name   string
	target string
	token  string
	conn   *live.WSConn
	err    error
}

// run executes the ring in phases so every live channel is open before the
// first message is sent; pushes to an offline identity are dropped.
func run(ctx context.Context, cfg simConfig) ([]outcome, error) {
	if cfg.Users < 2 {
		return nil, errors.New("need at least 2 users")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 64
	}
	gw := &gatewayClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	users := make([]*simUser, cfg.Users)
	for i := range users {
		users[i] = &simUser{
			name:   fmt.Sprintf("%s%d", cfg.Prefix, i+1),
			target: fmt.Sprintf("%s%d", cfg.Prefix, (i+1)%cfg.Users+1),
		}
	}
	defer func() {
		for _, u := range users {
			if u.conn != nil {
				_ = u.conn.Close()
			}
		}
	}()

	phase := func(step func(ctx context.Context, u *simUser) error) error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Concurrency)
		for _, u := range users {
			if u.err != nil {
				continue
			}
			u := u
			g.Go(func() error {
				u.err = step(gctx, u)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		return ctx.Err()
	}

	if cfg.Create {
		if err := phase(func(ctx context.Context, u *simUser) error {
			return gw.register(ctx, u.name, cfg.Password)
		}); err != nil {
			return nil, err
		}
	}
	if err := phase(func(ctx context.Context, u *simUser) error {
		token, err := gw.login(ctx, u.name, cfg.Password)
		u.token = token
		return err
	}); err != nil {
		return nil, err
	}
	if err := phase(func(ctx context.Context, u *simUser) error {
		conn, err := gw.connect(ctx, u.name, u.token)
		u.conn = conn
		return err
	}); err != nil {
		return nil, err
	}
	if cfg.Settle > 0 {
		select {
		case <-time.After(cfg.Settle):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := phase(func(ctx context.Context, u *simUser) error {
		return gw.send(ctx, u.token, u.name, u.target, fmt.Sprintf("hello %s, this is %s", u.target, u.name))
	}); err != nil {
		return nil, err
	}

	// Every user sent one message, so every user whose sender succeeded
	// should receive exactly one push.
	outcomes := make([]outcome, len(users))
	g, _ := errgroup.WithContext(ctx)
	for i, u := range users {
		outcomes[i] = outcome{User: u.name, Target: u.target, Err: u.err}
		if u.err != nil {
			continue
		}
		i, u := i, u
		g.Go(func() error {
			outcomes[i].Received, outcomes[i].Err = awaitPush(u.conn, cfg.Timeout)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, ctx.Err()
}

func awaitPush(conn *live.WSConn, timeout time.Duration) (string, error) {
	type result struct {
		frame string
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		frame, err := conn.Receive()
		ch <- result{frame, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return "", fmt.Errorf("live channel: %w", r.err)
		}
		var d domain.Delivery
		if err := json.Unmarshal([]byte(r.frame), &d); err != nil {
			return "", fmt.Errorf("decode push: %w", err)
		}
		return fmt.Sprintf("%q from %s", d.Content, d.Sender), nil
	case <-time.After(timeout):
		_ = conn.Close()
		return "", fmt.Errorf("no push within %s", timeout)
	}
}

type gatewayClient struct {
	baseURL    string
	httpClient *http.Client
}

func (c *gatewayClient) register(ctx context.Context, username, password string) error {
	payload := map[string]string{
		"name":     username,
		"username": username,
		"email":    username + "@chatload.local",
		"password": password,
	}
	status, err := c.postJSON(ctx, "/register", "", payload, nil)
	if status == http.StatusConflict {
		return nil
	}
	return err
}

func (c *gatewayClient) login(ctx context.Context, username, password string) (string, error) {
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	_, err := c.postJSON(ctx, "/login", "", map[string]string{"username": username, "password": password}, &resp)
	return resp.AccessToken, err
}

func (c *gatewayClient) send(ctx context.Context, token, sender, receiver, content string) error {
	payload := map[string]string{"sender": sender, "receiver": receiver, "content": content}
	_, err := c.postJSON(ctx, "/send", token, payload, nil)
	return err
}

func (c *gatewayClient) connect(ctx context.Context, username, token string) (*live.WSConn, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	origin := u.String()
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + url.PathEscape(username)
	if token != "" {
		u.RawQuery = url.Values{"token": {token}}.Encode()
	}
	wsCfg, err := websocket.NewConfig(u.String(), origin)
	if err != nil {
		return nil, err
	}
	ws, err := wsCfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial live channel for %s: %w", username, err)
	}
	return live.NewWSConn(ws, 5*time.Second), nil
}

func (c *gatewayClient) postJSON(ctx context.Context, path, token string, payload, out any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return resp.StatusCode, fmt.Errorf("%s %s: %d %s", http.MethodPost, path, resp.StatusCode, errResp.Error)
	}
	if out == nil {
		return resp.StatusCode, nil
	}
	return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
}
