package domain

import (
	"time"
)

// AgentSession stores the persisted chat transcript for a user's tab session.
// The agent core itself is stateless per invocation; this record exists so the
// UI can re-render history after a reload.
type AgentSession struct {
	UserID       string
	SessionID    string
	MessagesJSON string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StoredMessage is a serialized chat transcript entry.
type StoredMessage struct {
	Role    string `json:"role"`
	Kind    string `json:"kind,omitempty"`
	Content string `json:"content"`
}
