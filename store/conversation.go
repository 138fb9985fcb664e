package store

import "time"

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationOpen   ConversationStatus = "open"
	ConversationClosed ConversationStatus = "closed"
)

// Conversation is an ordered sequence of messages scoped to a chat_id.
// A user has at most one open conversation at a time.
type Conversation struct {
	ID           int64
	ChatID       string
	Platform     string // "TG", "SalesIQ Chat"
	Status       ConversationStatus
	StartedAt    time.Time
	EndedAt      *time.Time
	LastActivity time.Time
	Metadata     string // free-form JSON
}

type FindConversation struct {
	ID                 *int64
	ChatID             *string
	Status             *ConversationStatus
	LastActivityBefore *time.Time
}

type UpdateConversation struct {
	ID           int64
	Status       *ConversationStatus
	EndedAt      *time.Time
	LastActivity *time.Time
	Metadata     *string
}

// MessageRole is the author role of a stored message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is a single turn fragment. Strictly append-only; ordering within
// a conversation is total and monotonic by (created_at, id).
type Message struct {
	ID             int64
	ConversationID int64
	Role           MessageRole
	Content        string
	Metadata       string // JSON: intent, retrieval info, token usage
	CreatedAt      time.Time
}

type FindMessage struct {
	ConversationID *int64
	Role           *MessageRole
	// LastN limits the result to the N most recent messages,
	// returned in chronological order.
	LastN int
}
