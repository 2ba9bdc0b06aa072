package memory

import (
	"context"

	"minimemori/internal/llm"
)

// EmbedPending embeds messages that were saved without a vector, in batches,
// until none remain or the first error. Returns how many embeddings were
// persisted. Provider failures surface unchanged; already-embedded work is
// kept (each batch commits per message, the backfill itself is restartable).
func (e *Engine) EmbedPending(ctx context.Context, emb llm.Embedder, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 8
	}
	total := 0
	for {
		msgs, err := e.store.MessagesWithoutEmbedding(ctx, e.model, batchSize)
		if err != nil {
			return total, err
		}
		if len(msgs) == 0 {
			return total, nil
		}
		texts := make([]string, len(msgs))
		for i, m := range msgs {
			texts[i] = m.Content
		}
		vecs, err := emb.Embeddings(ctx, e.model, texts)
		if err != nil {
			return total, err
		}
		for i, m := range msgs {
			if _, err := e.store.SaveEmbedding(ctx, m.ID, vecs[i], e.model); err != nil {
				return total, err
			}
			total++
		}
		e.lg.Debug("embedding backfill batch", "embedded", len(msgs), "total", total)
	}
}
