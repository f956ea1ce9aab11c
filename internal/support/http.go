package support

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/woedy/snelroi-chat/internal/credentials"
)

// DefaultBaseURL is used when no API base URL is configured.
const DefaultBaseURL = "http://localhost:8000/api"

// APIError is returned for non-2xx responses.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Detail)
}

// Client makes REST calls against the support conversation resource.
type Client struct {
	baseURL string
	tokens  credentials.Source
	client  *http.Client
}

// NewClient creates a client targeting baseURL (e.g. "http://localhost:8000/api").
// tokens may be nil for unauthenticated use.
func NewClient(baseURL string, tokens credentials.Source, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		client:  &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// GetOrCreateConversation sends POST /support/conversations.
func (c *Client) GetOrCreateConversation(ctx context.Context) (*Conversation, error) {
	var out Conversation
	if err := c.do(ctx, http.MethodPost, "/support/conversations", struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListConversations fetches GET /support/conversations.
func (c *Client) ListConversations(ctx context.Context) ([]ConversationListItem, error) {
	var out []ConversationListItem
	if err := c.do(ctx, http.MethodGet, "/support/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetConversation fetches GET /support/conversations/{id}.
func (c *Client) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	var out Conversation
	if err := c.do(ctx, http.MethodGet, conversationPath(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendMessage sends POST /support/conversations/{id}/messages. The returned
// message is the persisted copy; callers reconcile optimistic state by ID.
func (c *Client) SendMessage(ctx context.Context, id int64, text string) (*ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("message cannot be empty")
	}
	body := map[string]string{"message": text}
	var out ChatMessage
	if err := c.do(ctx, http.MethodPost, conversationPath(id)+"/messages", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UnreadCount fetches GET /support/unread-count.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out struct {
		UnreadCount int `json:"unread_count"`
	}
	if err := c.do(ctx, http.MethodGet, "/support/unread-count", nil, &out); err != nil {
		return 0, err
	}
	return out.UnreadCount, nil
}

// UpdateStatus sends PATCH /support/conversations/{id} (staff only).
func (c *Client) UpdateStatus(ctx context.Context, id int64, status ConversationStatus) (*Conversation, error) {
	if !status.Valid() {
		return nil, errors.Errorf("invalid conversation status %q", status)
	}
	body := map[string]ConversationStatus{"status": status}
	var out Conversation
	if err := c.do(ctx, http.MethodPatch, conversationPath(id), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func conversationPath(id int64) string {
	return "/support/conversations/" + strconv.FormatInt(id, 10)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if err := c.setAuth(ctx, req); err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Detail: errorDetail(respBody)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s %s", method, path)
	}
	return nil
}

func (c *Client) setAuth(ctx context.Context, req *http.Request) error {
	if c.tokens == nil {
		return nil
	}
	tok, err := c.tokens.Token(ctx)
	if errors.Is(err, credentials.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "resolve credentials")
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return nil
}

// errorDetail extracts the backend's {"detail": "..."} message when present.
func errorDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Detail != "" {
			return parsed.Detail
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	return strings.TrimSpace(string(body))
}
