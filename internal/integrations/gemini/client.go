// Package gemini adapts the Gemini API to the same text-completion surface as
// the OpenAI client, so either can back the response composer.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"intellect/internal/domain"
	"intellect/internal/integrations/paramstore"
)

const (
	defaultModel   = "gemini-2.5-flash"
	tokenParameter = "gemini-token"
)

// generator is the subset of *genai.Models used here.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Client struct {
	token       *paramstore.Token
	model       string
	temperature float32
	newModels   func(ctx context.Context, apiKey string) (generator, error)

	mu     sync.Mutex
	models generator
}

type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) {
		if m := strings.TrimSpace(model); m != "" {
			c.model = m
		}
	}
}

func WithTemperature(t float32) Option {
	return func(c *Client) {
		c.temperature = t
	}
}

// NewClient creates a Client whose API key is read from
// <paramPrefix>/gemini-token when the first request is made.
func NewClient(ps paramstore.Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("gemini: paramstore getter must not be nil")
	}
	if strings.TrimSpace(paramPrefix) == "" {
		return nil, errors.New("gemini: parameter prefix must not be empty")
	}
	c := &Client{
		token:       paramstore.NewToken(ps, paramstore.Join(paramPrefix, tokenParameter)),
		model:       defaultModel,
		temperature: 0.7,
		newModels:   newGenAIModels,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func newGenAIModels(ctx context.Context, apiKey string) (generator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return client.Models, nil
}

func (c *Client) resolveModels(ctx context.Context) (generator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.models != nil {
		return c.models, nil
	}
	apiKey, err := c.token.Value(ctx)
	if err != nil {
		return nil, fmt.Errorf("gemini: resolve api key: %w", err)
	}
	models, err := c.newModels(ctx, apiKey)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	c.models = models
	return models, nil
}

// Complete sends prompt as a single user turn and returns the reply text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.Chat(ctx, []domain.ChatMessage{{Role: "user", Content: prompt}})
}

// Chat maps system messages to the system instruction and assistant
// messages to model turns.
func (c *Client) Chat(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("gemini: messages must not be empty")
	}
	models, err := c.resolveModels(ctx)
	if err != nil {
		return "", err
	}

	var system []string
	var contents []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(contents) == 0 {
		return "", errors.New("gemini: no user content")
	}

	temp := c.temperature
	cfg := &genai.GenerateContentConfig{Temperature: &temp}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}

	res, err := models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	text := strings.TrimSpace(res.Text())
	if text == "" {
		return "", errors.New("gemini: empty completion")
	}
	return text, nil
}
