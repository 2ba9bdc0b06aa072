// Package retriever ranks stored vectors against a query by exact cosine
// similarity. The scan is brute force and linear in the number of stored
// embeddings per query; that is the documented ceiling for a single-user,
// local store, not a production vector index.
package retriever

import (
	"context"
	"fmt"
	"sort"

	"minimemori/internal/errs"
	"minimemori/internal/models"
	"minimemori/internal/vectormath"
)

// Source is the store surface the engine needs: a restartable embedding scan
// and message lookup by id.
type Source interface {
	ForEachEmbedding(ctx context.Context, model, conversationID string, fn func(models.VectorRecord) error) error
	GetMessages(ctx context.Context, ids []int64) (map[int64]*models.Message, error)
}

// Options select and bound one retrieval.
type Options struct {
	TopK           int
	ConversationID string  // empty scans all conversations
	Threshold      float64 // inclusive lower bound on the raw cosine score
	Model          string
}

type Engine struct {
	src Source
}

func New(src Source) *Engine { return &Engine{src: src} }

// checkEvery bounds how many candidates are scored between context checks.
const checkEvery = 256

type candidate struct {
	rec   models.VectorRecord
	score float64
}

// Retrieve scores every candidate vector of opts.Model against query, keeps
// scores >= opts.Threshold, orders descending by score with ties broken by
// most recent message first (created_at, then id), and truncates to
// opts.TopK. An empty store yields an empty result, not an error. On context
// cancellation it returns ErrCanceled and no partial ranking.
func (e *Engine) Retrieve(ctx context.Context, query []float32, opts Options) ([]models.MemoryResult, error) {
	if opts.TopK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be >= 1, got %d", errs.ErrInvalidInput, opts.TopK)
	}
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", errs.ErrInvalidInput)
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("%w: model required", errs.ErrInvalidInput)
	}

	var cands []candidate
	seen := 0
	err := e.src.ForEachEmbedding(ctx, opts.Model, opts.ConversationID, func(rec models.VectorRecord) error {
		seen++
		if seen%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("%w: %v", errs.ErrCanceled, err)
			}
		}
		score, err := vectormath.Cosine(query, rec.Vector)
		if err != nil {
			return err
		}
		if score >= opts.Threshold {
			cands = append(cands, candidate{rec: rec, score: score})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrCanceled, err)
	}
	if len(cands) == 0 {
		return nil, nil
	}

	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.rec.CreatedAt.Equal(b.rec.CreatedAt) {
			return a.rec.CreatedAt.After(b.rec.CreatedAt)
		}
		return a.rec.MessageID > b.rec.MessageID
	})
	if len(cands) > opts.TopK {
		cands = cands[:opts.TopK]
	}

	ids := make([]int64, len(cands))
	for i, c := range cands {
		ids[i] = c.rec.MessageID
	}
	msgs, err := e.src.GetMessages(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]models.MemoryResult, 0, len(cands))
	for _, c := range cands {
		m, ok := msgs[c.rec.MessageID]
		if !ok {
			continue
		}
		out = append(out, models.MemoryResult{Message: m, Score: c.score})
	}
	return out, nil
}
