package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"securechat/internal/util"
	"securechat/pkg/domain"
)

// Client calls the credential service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// APIError represents a credential service error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// NewClient constructs a credential service client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Registration is the account payload for Register.
type Registration struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Session is the credential service answer to a successful login.
type Session struct {
	AccessToken string         `json:"access_token"`
	TokenType   string         `json:"token_type"`
	ExpiresIn   int            `json:"expires_in"`
	User        domain.Profile `json:"user"`
	PrivateKey  string         `json:"private_key"`
}

// Register creates an account. The forwarded client IP lets the credential
// service attribute failures.
func (c *Client) Register(ctx context.Context, reg Registration, clientIP string) (domain.Profile, error) {
	var profile domain.Profile
	if err := c.doJSON(ctx, http.MethodPost, "/new", clientIP, reg, &profile); err != nil {
		return domain.Profile{}, err
	}
	return profile, nil
}

func (c *Client) Login(ctx context.Context, username, password, clientIP string) (Session, error) {
	payload := map[string]string{"username": username, "password": password}
	var session Session
	if err := c.doJSON(ctx, http.MethodPost, "/login", clientIP, payload, &session); err != nil {
		return Session{}, err
	}
	return session, nil
}

func (c *Client) doJSON(ctx context.Context, method, path, clientIP string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if clientIP != "" {
		req.Header.Set("X-Forwarded-For", clientIP)
	}
	util.PropagateRequestID(ctx, req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
