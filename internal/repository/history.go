// Package repository persists conversations: the per-user record log in
// DynamoDB and the terminal client's local session state.
package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"intellect/internal/domain"
)

// MaxHistoryMessages bounds the message suffix kept across sessions.
const MaxHistoryMessages = 50

// SessionState is what the terminal client restores on start.
type SessionState struct {
	Messages         []domain.ConversationMessage `json:"messages"`
	SelectedCategory string                       `json:"selectedCategory,omitempty"`
}

// HistoryStore keeps SessionState in a JSON file.
type HistoryStore struct {
	path string
	mu   sync.Mutex
}

func NewHistoryStore(path string) (*HistoryStore, error) {
	if path == "" {
		return nil, errors.New("repository: history path must not be empty")
	}
	return &HistoryStore{path: path}, nil
}

// Load returns the stored state. A missing file is an empty state.
func (s *HistoryStore) Load() (SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return SessionState{}, nil
	}
	if err != nil {
		return SessionState{}, fmt.Errorf("repository: read history: %w", err)
	}
	var st SessionState
	if err := json.Unmarshal(raw, &st); err != nil {
		return SessionState{}, fmt.Errorf("repository: decode history: %w", err)
	}
	st.Messages = tail(st.Messages)
	return st, nil
}

// Save writes st, keeping only the most recent MaxHistoryMessages finished
// messages.
func (s *HistoryStore) Save(st SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]domain.ConversationMessage, 0, len(st.Messages))
	for _, m := range st.Messages {
		if !m.Streaming {
			kept = append(kept, m)
		}
	}
	st.Messages = tail(kept)

	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("repository: encode history: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("repository: create history dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".history-*")
	if err != nil {
		return fmt.Errorf("repository: create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("repository: write history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("repository: write history: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("repository: replace history: %w", err)
	}
	return nil
}

func tail(msgs []domain.ConversationMessage) []domain.ConversationMessage {
	if len(msgs) > MaxHistoryMessages {
		return msgs[len(msgs)-MaxHistoryMessages:]
	}
	return msgs
}
