package domain

import "time"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationMessage is one entry of the in-session conversation list.
type ConversationMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
	Sources   []string  `json:"sources,omitempty"`
	Streaming bool      `json:"-"`
}

// ConversationRecord is a persisted question/answer exchange.
type ConversationRecord struct {
	ID        string
	UserID    string
	Query     string
	Answer    string
	Sources   []string
	CreatedAt time.Time
}

// ChatMessage is the provider-agnostic chat message shape used by LLM
// integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
