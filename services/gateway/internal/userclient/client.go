package userclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"securechat/internal/util"
	"securechat/pkg/domain"
)

// Client reads public profiles from the identity store.
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

// NewClient constructs an identity store client authenticated with internalToken.
func NewClient(baseURL, internalToken string) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		internalToken: internalToken,
		httpClient:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *Client) GetProfile(ctx context.Context, username string) (domain.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/"+url.PathEscape(username), nil)
	if err != nil {
		return domain.Profile{}, err
	}
	req.Header.Set("X-Internal-Token", c.internalToken)
	util.PropagateRequestID(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Profile{}, err
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
		return domain.Profile{}, &APIError{Status: resp.StatusCode, Message: msg}
	}
	var profile domain.Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return domain.Profile{}, err
	}
	return profile, nil
}
