package messageclient

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"securechat/internal/util"
	"securechat/pkg/domain"
)

// Client calls the message service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// APIError represents a message service error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// NewClient constructs a message service client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Send(ctx context.Context, sender, receiver, content string) (domain.Message, error) {
	data, err := json.Marshal(sendRequest{Sender: sender, Receiver: receiver, Content: content})
	if err != nil {
		return domain.Message{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages/send", bytes.NewReader(data))
	if err != nil {
		return domain.Message{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp sendResponse
	if err := c.do(req, &resp); err != nil {
		return domain.Message{}, err
	}
	return resp.Message, nil
}

func (c *Client) History(ctx context.Context, userA, userB string) ([]domain.Message, error) {
	path := "/messages/history/" + url.PathEscape(userA) + "/" + url.PathEscape(userB)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	var items []domain.Message
	if err := c.do(req, &items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Message{}
	}
	return items, nil
}

func (c *Client) Conversations(ctx context.Context, user string) ([]domain.ConversationSummary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/messages/conversations/"+url.PathEscape(user), nil)
	if err != nil {
		return nil, err
	}
	var items []domain.ConversationSummary
	if err := c.do(req, &items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.ConversationSummary{}
	}
	return items, nil
}

func (c *Client) do(req *http.Request, out any) error {
	util.PropagateRequestID(req.Context(), req)
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

type sendRequest struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Content  string `json:"content"`
}

type sendResponse struct {
	Status  string         `json:"status"`
	Message domain.Message `json:"message"`
}
