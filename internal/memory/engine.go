// Package memory is the facade over the store and the retrieval engine. It
// owns conversation lifecycle and the two primary operations: saving a
// message (with or without its vector) and retrieving top-k similar memories.
package memory

import (
	"context"

	"minimemori/internal/log"
	"minimemori/internal/models"
	"minimemori/internal/retriever"
	"minimemori/internal/store"
)

type Engine struct {
	store *store.SQLiteStore
	retr  *retriever.Engine
	model string
	lg    *log.Logger
}

// New wires a facade around an open store. embeddingModel names the vector
// space every save and retrieve operates in.
func New(st *store.SQLiteStore, embeddingModel string, lg *log.Logger) *Engine {
	if lg == nil {
		lg = log.New()
	}
	return &Engine{
		store: st,
		retr:  retriever.New(st),
		model: embeddingModel,
		lg:    lg.With(map[string]string{"component": "memory"}),
	}
}

// Model returns the embedding model the facade was built for.
func (e *Engine) Model() string { return e.model }

// SaveRequest carries one message. Vector is optional: when present the
// message and vector commit atomically; when absent the message persists
// without semantic searchability until a later embedding pass.
type SaveRequest struct {
	Role           string
	Content        string
	ConversationID string
	Metadata       map[string]string
	Vector         []float32
}

// Save validates, sanitizes the conversation id and persists the message.
// Returns the store-assigned message id.
func (e *Engine) Save(ctx context.Context, req SaveRequest) (int64, error) {
	if req.ConversationID == "" {
		req.ConversationID = DefaultConversationID
	}
	if err := ValidateMessage(req.Role, req.Content, req.ConversationID); err != nil {
		return 0, err
	}
	convID := SanitizeConversationID(req.ConversationID)
	var id int64
	var err error
	if len(req.Vector) > 0 {
		id, err = e.store.SaveMessageWithEmbedding(ctx, convID, req.Role, req.Content, req.Metadata, req.Vector, e.model)
	} else {
		id, err = e.store.SaveMessage(ctx, convID, req.Role, req.Content, req.Metadata)
	}
	if err != nil {
		return 0, err
	}
	e.lg.Debug("message saved", "id", id, "conversation", convID, "embedded", len(req.Vector) > 0)
	return id, nil
}

// Retrieve returns at most topK stored messages scored against query, best
// first. conversationID narrows the scan; threshold is an inclusive lower
// bound on the raw cosine score.
func (e *Engine) Retrieve(ctx context.Context, query []float32, topK int, conversationID string, threshold float64) ([]models.MemoryResult, error) {
	if conversationID != "" {
		conversationID = SanitizeConversationID(conversationID)
	}
	res, err := e.retr.Retrieve(ctx, query, retriever.Options{
		TopK:           topK,
		ConversationID: conversationID,
		Threshold:      threshold,
		Model:          e.model,
	})
	if err != nil {
		return nil, err
	}
	e.lg.Debug("memories retrieved", "count", len(res), "topK", topK, "threshold", threshold)
	return res, nil
}

// History returns the most recent limit messages of a conversation,
// newest-first.
func (e *Engine) History(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	if conversationID == "" {
		conversationID = DefaultConversationID
	}
	return e.store.History(ctx, SanitizeConversationID(conversationID), limit)
}

// Clear deletes a conversation and everything under it; returns the number of
// messages removed. A conversation that never existed clears 0 messages.
func (e *Engine) Clear(ctx context.Context, conversationID string) (int, error) {
	if conversationID == "" {
		conversationID = DefaultConversationID
	}
	n, err := e.store.DeleteConversation(ctx, SanitizeConversationID(conversationID))
	if err != nil {
		return 0, err
	}
	e.lg.Info("conversation cleared", "conversation", conversationID, "deleted", n)
	return n, nil
}

// DeleteMessage removes a single message and its embedding.
func (e *Engine) DeleteMessage(ctx context.Context, id int64) error {
	return e.store.DeleteMessage(ctx, id)
}

// Stats reports store-wide counters.
func (e *Engine) Stats(ctx context.Context) (*models.Stats, error) {
	return e.store.Stats(ctx)
}

// KeywordSearch is the non-semantic fallback: case-insensitive substring
// match over content, newest-first. Works with zero stored embeddings.
func (e *Engine) KeywordSearch(ctx context.Context, keyword, conversationID string, limit int) ([]*models.Message, error) {
	if conversationID != "" {
		conversationID = SanitizeConversationID(conversationID)
	}
	return e.store.KeywordSearch(ctx, keyword, conversationID, limit)
}
