package userclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"securechat/internal/util"
	"securechat/pkg/domain"
)

// Client calls the identity store with the shared internal token.
type Client struct {
	baseURL       string
	internalToken string
	httpClient    *http.Client
}

// APIError represents an identity store error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// NewClient constructs an identity store client.
func NewClient(baseURL, internalToken string) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		internalToken: internalToken,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
	}
}

// NewUser is the registration payload.
type NewUser struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Update carries optional profile changes.
type Update struct {
	Name     *string   `json:"name,omitempty"`
	Email    *string   `json:"email,omitempty"`
	Password *string   `json:"password,omitempty"`
	Contacts *[]string `json:"contacts,omitempty"`
}

func (c *Client) Create(ctx context.Context, in NewUser) (domain.Profile, error) {
	var profile domain.Profile
	if err := c.doJSON(ctx, http.MethodPost, "/users/create", in, &profile); err != nil {
		return domain.Profile{}, err
	}
	return profile, nil
}

func (c *Client) Update(ctx context.Context, username string, in Update) (domain.Profile, error) {
	var profile domain.Profile
	if err := c.doJSON(ctx, http.MethodPut, "/users/"+url.PathEscape(username), in, &profile); err != nil {
		return domain.Profile{}, err
	}
	return profile, nil
}

func (c *Client) Delete(ctx context.Context, username string) error {
	return c.doJSON(ctx, http.MethodDelete, "/users/"+url.PathEscape(username), nil, nil)
}

func (c *Client) Validate(ctx context.Context, username, password string) (domain.Credentials, error) {
	payload := map[string]string{"username": username, "password": password}
	var creds domain.Credentials
	if err := c.doJSON(ctx, http.MethodPost, "/users/validate", payload, &creds); err != nil {
		return domain.Credentials{}, err
	}
	return creds, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any) error {
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
	req.Header.Set("X-Internal-Token", c.internalToken)
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
