package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrPlaceholder is returned for values copied unchanged from a sample config,
// such as "your_speech_api_key".
var ErrPlaceholder = errors.New("paramstore: placeholder value")

// tokenPayload is the JSON shape used for secrets stored in SSM.
type tokenPayload struct {
	Token string `json:"token"`
}

// FetchToken reads a secret parameter. The value may be a {"token": "..."}
// JSON document or the raw secret.
func FetchToken(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("paramstore: getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("paramstore: fetch token: %w", err)
	}
	token := strings.TrimSpace(raw)
	if strings.HasPrefix(token, "{") {
		var tp tokenPayload
		if err := json.Unmarshal([]byte(token), &tp); err != nil {
			return "", fmt.Errorf("paramstore: unmarshal token value as JSON: %w", err)
		}
		token = strings.TrimSpace(tp.Token)
	}
	if token == "" {
		return "", fmt.Errorf("paramstore: token %q is empty", name)
	}
	if strings.HasPrefix(strings.ToLower(token), "your_") {
		return "", fmt.Errorf("paramstore: token %q: %w", name, ErrPlaceholder)
	}
	return token, nil
}

// Token lazily fetches one secret and reuses it for the process lifetime.
// A failed fetch is retried on the next call.
type Token struct {
	getter Getter
	name   string

	mu    sync.Mutex
	value string
}

// NewToken returns a Token reading name from getter.
func NewToken(getter Getter, name string) *Token {
	return &Token{getter: getter, name: strings.TrimSpace(name)}
}

// Static returns a Token that always yields value.
func Static(value string) *Token {
	return &Token{value: value}
}

// Name is the parameter the token is read from.
func (t *Token) Name() string {
	return t.name
}

// Value returns the secret, fetching it on first use.
func (t *Token) Value(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.value != "" {
		return t.value, nil
	}
	v, err := FetchToken(ctx, t.getter, t.name)
	if err != nil {
		return "", err
	}
	t.value = v
	return v, nil
}

// Join builds a parameter name under prefix.
func Join(prefix, name string) string {
	return strings.TrimRight(strings.TrimSpace(prefix), "/") + "/" + strings.TrimLeft(name, "/")
}
