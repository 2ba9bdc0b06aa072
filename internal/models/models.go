package models

import "time"

// Role classifies who produced a message. Callers may introduce custom roles;
// the store treats this as an open string.
type Role = string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is an append-only conversation record. IDs are store-assigned and
// never reused; within a conversation messages are totally ordered by
// (CreatedAt, ID).
type Message struct {
	ID             int64             `json:"id"`
	ConversationID string            `json:"conversationID"`
	Role           Role              `json:"role"`
	Content        string            `json:"content"`
	CreatedAt      time.Time         `json:"createdAt"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Embedding is the stored vector for one message. At most one per
// (message, model); vectors for the same model share one dimensionality.
type Embedding struct {
	ID        int64     `json:"id"`
	MessageID int64     `json:"messageID"`
	Vector    []float32 `json:"vector"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"createdAt"`
}

// VectorRecord is the scan shape handed to the retrieval engine: the vector
// plus the message fields needed for deterministic tie-breaking.
type VectorRecord struct {
	MessageID int64
	Vector    []float32
	CreatedAt time.Time // message timestamp, not embedding timestamp
}

// Conversation is the aggregate view over a conversation id. It exists from
// the first message with that id and disappears with the last one.
type Conversation struct {
	ID           string            `json:"id"`
	Title        string            `json:"title,omitempty"`
	MessageCount int               `json:"messageCount"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// MemoryResult pairs a retrieved message with its raw cosine score.
type MemoryResult struct {
	Message *Message `json:"message"`
	Score   float64  `json:"score"`
}

// Stats summarizes the store contents.
type Stats struct {
	TotalMessages      int        `json:"totalMessages"`
	TotalConversations int        `json:"totalConversations"`
	TotalEmbeddings    int        `json:"totalEmbeddings"`
	EarliestMessage    *time.Time `json:"earliestMessage,omitempty"`
	LatestMessage      *time.Time `json:"latestMessage,omitempty"`
}
