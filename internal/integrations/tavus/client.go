// Package tavus manages video-avatar conversations.
package tavus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"intellect/internal/integrations/paramstore"
)

const (
	defaultBaseURL     = "https://tavusapi.com"
	tokenParameter     = "tavus-token"
	defaultHTTPTimeout = 30 * time.Second

	maxCallDuration          = 3600
	participantLeftTimeout   = 60
	participantAbsentTimeout = 300

	defaultStatus = "created"
)

var (
	ErrInvalidKey     = errors.New("tavus: invalid API key, check the tavus-token parameter")
	ErrInvalidPersona = errors.New("tavus: invalid persona id, check the tavus-persona-id parameter")
	ErrAccessDenied   = errors.New("tavus: access denied, check the account permissions and API key")
)

// HTTPStatusError is any other non-2xx response.
type HTTPStatusError struct {
	StatusCode int
	Message    string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("tavus: unexpected status %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Conversation is a created video conversation.
type Conversation struct {
	ID     string
	URL    string
	Status string
}

type createRequest struct {
	PersonaID  string           `json:"persona_id"`
	Properties createProperties `json:"properties"`
}

type createProperties struct {
	MaxCallDuration          int `json:"max_call_duration"`
	ParticipantLeftTimeout   int `json:"participant_left_timeout"`
	ParticipantAbsentTimeout int `json:"participant_absent_timeout"`
}

type conversationResponse struct {
	ConversationID  string `json:"conversation_id"`
	ConversationURL string `json:"conversation_url"`
	Status          string `json:"status"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	token      *paramstore.Token
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client whose key is read from <paramPrefix>/tavus-token.
func NewClient(ps paramstore.Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("tavus: paramstore getter must not be nil")
	}
	if strings.TrimSpace(paramPrefix) == "" {
		return nil, errors.New("tavus: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		token:      paramstore.NewToken(ps, paramstore.Join(paramPrefix, tokenParameter)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreateConversation starts a conversation with the given persona.
func (c *Client) CreateConversation(ctx context.Context, personaID string) (Conversation, error) {
	personaID = strings.TrimSpace(personaID)
	if personaID == "" || strings.HasPrefix(personaID, "your_") {
		return Conversation{}, ErrInvalidPersona
	}
	body, err := json.Marshal(createRequest{
		PersonaID: personaID,
		Properties: createProperties{
			MaxCallDuration:          maxCallDuration,
			ParticipantLeftTimeout:   participantLeftTimeout,
			ParticipantAbsentTimeout: participantAbsentTimeout,
		},
	})
	if err != nil {
		return Conversation{}, fmt.Errorf("tavus: marshal request: %w", err)
	}

	raw, err := c.do(ctx, http.MethodPost, "/v2/conversations", body)
	if err != nil {
		return Conversation{}, createError(err)
	}
	var payload conversationResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Conversation{}, fmt.Errorf("tavus: decode response: %w", err)
	}
	if payload.ConversationURL == "" {
		return Conversation{}, errors.New("tavus: response has no conversation_url")
	}
	if payload.ConversationID == "" {
		return Conversation{}, errors.New("tavus: response has no conversation_id")
	}
	status := payload.Status
	if status == "" {
		status = defaultStatus
	}
	return Conversation{ID: payload.ConversationID, URL: payload.ConversationURL, Status: status}, nil
}

// GetConversation returns the provider's current view of a conversation.
func (c *Client) GetConversation(ctx context.Context, id string) (Conversation, error) {
	if strings.TrimSpace(id) == "" {
		return Conversation{}, errors.New("tavus: conversation id is required")
	}
	raw, err := c.do(ctx, http.MethodGet, "/v2/conversations/"+id, nil)
	if err != nil {
		return Conversation{}, err
	}
	var payload conversationResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Conversation{}, fmt.Errorf("tavus: decode response: %w", err)
	}
	return Conversation{ID: payload.ConversationID, URL: payload.ConversationURL, Status: payload.Status}, nil
}

// EndConversation terminates a conversation.
func (c *Client) EndConversation(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("tavus: conversation id is required")
	}
	_, err := c.do(ctx, http.MethodDelete, "/v2/conversations/"+id, nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	apiKey, err := c.token.Value(ctx)
	if err != nil {
		return nil, fmt.Errorf("tavus: resolve api key: %w", err)
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("tavus: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("x-api-key", apiKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavus: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("tavus: read response body: %w", err)
	}
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return raw, nil
	}
	return nil, &HTTPStatusError{StatusCode: res.StatusCode, Message: errorMessage(raw)}
}

// createError gives the statuses a create call commonly fails with a
// specific error.
func createError(err error) error {
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		return err
	}
	switch statusErr.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", ErrInvalidKey, err)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrInvalidPersona, err)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrAccessDenied, err)
	}
	return err
}

// errorMessage prefers the "message" or "error" field of a JSON error body.
func errorMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	if s := strings.TrimSpace(string(raw)); s != "" {
		return s
	}
	return "unknown error"
}
