// Package llm defines the narrow interfaces through which the memory system
// consumes its external collaborators: vector generation and chat completion.
// The core never retries these; retry policy belongs to the caller.
package llm

import (
	"context"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Embedder maps texts to fixed-length vectors. Implementations report
// upstream failures wrapped with errs.ErrProvider.
type Embedder interface {
	Embeddings(ctx context.Context, model string, inputs []string) ([][]float32, error)
}

// ChatProvider produces a completion for a message transcript.
type ChatProvider interface {
	Chat(ctx context.Context, model string, messages []Message, stream bool, temperature float32) (ChatStream, error)
}

// ChatStream yields tokens, or a single final message when non-streaming.
type ChatStream interface {
	Recv() (delta string, done bool, err error)
	Close() error
}
