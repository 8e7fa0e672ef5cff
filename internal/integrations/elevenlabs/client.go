// Package elevenlabs is a minimal text-to-speech client.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"intellect/internal/integrations/paramstore"
)

const (
	defaultBaseURL     = "https://api.elevenlabs.io"
	defaultModel       = "eleven_flash_v2_5"
	tokenParameter     = "elevenlabs-token"
	defaultHTTPTimeout = 60 * time.Second

	// OutputFormat is 16-bit little-endian mono PCM at SampleRate.
	OutputFormat = "pcm_16000"
	SampleRate   = 16000

	minSpeed = 0.7
	maxSpeed = 1.2
)

// Voice is one voice available to the account.
type Voice struct {
	ID       string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// Language returns the voice's language label, defaulting to English for
// voices that carry none.
func (v Voice) Language() string {
	if l := strings.TrimSpace(v.Labels["language"]); l != "" {
		return l
	}
	return "en"
}

// Gender returns the voice's gender label, if any.
func (v Voice) Gender() string {
	return strings.TrimSpace(v.Labels["gender"])
}

type voicesResponse struct {
	Voices []Voice `json:"voices"`
}

type synthesizeRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Speed float64 `json:"speed"`
}

// HTTPStatusError is a non-2xx response.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("elevenlabs: unexpected status %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type Client struct {
	baseURL    string
	model      string
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

func WithModel(model string) Option {
	return func(c *Client) {
		if m := strings.TrimSpace(model); m != "" {
			c.model = m
		}
	}
}

// NewClient creates a Client whose key is read from
// <paramPrefix>/elevenlabs-token.
func NewClient(ps paramstore.Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("elevenlabs: paramstore getter must not be nil")
	}
	if strings.TrimSpace(paramPrefix) == "" {
		return nil, errors.New("elevenlabs: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		token:      paramstore.NewToken(ps, paramstore.Join(paramPrefix, tokenParameter)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Voices lists the voices available to the account.
func (c *Client) Voices(ctx context.Context) ([]Voice, error) {
	raw, err := c.do(ctx, http.MethodGet, "/v1/voices", nil)
	if err != nil {
		return nil, err
	}
	var payload voicesResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("elevenlabs: decode voices: %w", err)
	}
	return payload.Voices, nil
}

// Synthesize renders text with voiceID and returns raw PCM in OutputFormat.
// speed 1.0 is the voice's natural pace; values are clamped to the range the
// provider accepts.
func (c *Client) Synthesize(ctx context.Context, voiceID, text string, speed float64) ([]byte, error) {
	voiceID = strings.TrimSpace(voiceID)
	if voiceID == "" {
		return nil, errors.New("elevenlabs: voice id is required")
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("elevenlabs: text must not be empty")
	}
	body, err := json.Marshal(synthesizeRequest{
		Text:          text,
		ModelID:       c.model,
		VoiceSettings: voiceSettings{Speed: clampSpeed(speed)},
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}
	path := "/v1/text-to-speech/" + url.PathEscape(voiceID) + "?output_format=" + OutputFormat
	return c.do(ctx, http.MethodPost, path, body)
}

func clampSpeed(speed float64) float64 {
	switch {
	case speed <= 0:
		return 1
	case speed < minSpeed:
		return minSpeed
	case speed > maxSpeed:
		return maxSpeed
	default:
		return speed
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	apiKey, err := c.token.Value(ctx)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: resolve api key: %w", err)
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	req.Header.Set("xi-api-key", apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(buf))}
	}
	buf, err := io.ReadAll(io.LimitReader(res.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read response body: %w", err)
	}
	return buf, nil
}
