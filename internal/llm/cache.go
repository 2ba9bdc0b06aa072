package llm

import (
	"context"
	"sync"
	"time"
)

// CachingEmbedder memoizes provider calls per (model, input). It sits on the
// provider side, outside the retrieval engine; bumping the generation string
// drops every cached vector, which is the invalidation hook for embedding
// model changes.
type CachingEmbedder struct {
	u          Embedder
	mu         sync.Mutex
	data       map[string][]float32
	times      map[string]time.Time
	ttl        time.Duration
	maxEntries int
	gen        string
}

// NewCachingEmbedder wraps u. ttl <= 0 disables expiry; maxEntries <= 0
// disables the size bound.
func NewCachingEmbedder(u Embedder, ttl time.Duration, maxEntries int) *CachingEmbedder {
	return &CachingEmbedder{
		u:          u,
		data:       make(map[string][]float32),
		times:      make(map[string]time.Time),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// SetGeneration switches the cache namespace, invalidating all prior entries.
func (c *CachingEmbedder) SetGeneration(gen string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == c.gen {
		return
	}
	c.data = make(map[string][]float32)
	c.times = make(map[string]time.Time)
	c.gen = gen
}

func (c *CachingEmbedder) key(model, input string) string {
	if c.gen != "" {
		return model + "|" + c.gen + "|" + input
	}
	return model + "|" + input
}

func (c *CachingEmbedder) Embeddings(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	var missIdx []int
	c.mu.Lock()
	for i, s := range inputs {
		k := c.key(model, s)
		v, ok := c.data[k]
		if !ok || len(v) == 0 {
			missIdx = append(missIdx, i)
			continue
		}
		if c.ttl > 0 {
			if t, ok2 := c.times[k]; ok2 && time.Since(t) > c.ttl {
				missIdx = append(missIdx, i)
				continue
			}
		}
		out[i] = v
	}
	c.mu.Unlock()
	if len(missIdx) == 0 {
		return out, nil
	}
	req := make([]string, len(missIdx))
	for j, i := range missIdx {
		req[j] = inputs[i]
	}
	vecs, err := c.u.Embeddings(ctx, model, req)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	for j, i := range missIdx {
		if j >= len(vecs) {
			break
		}
		out[i] = vecs[j]
		k := c.key(model, inputs[i])
		c.data[k] = vecs[j]
		c.times[k] = time.Now()
	}
	if c.maxEntries > 0 && len(c.data) > c.maxEntries {
		c.evictOldest(len(c.data) - c.maxEntries)
	}
	c.mu.Unlock()
	return out, nil
}

// evictOldest drops the n least recently stored entries. Caller holds mu.
func (c *CachingEmbedder) evictOldest(n int) {
	for ; n > 0; n-- {
		var oldestKey string
		var oldest time.Time
		for k, t := range c.times {
			if oldestKey == "" || t.Before(oldest) {
				oldestKey, oldest = k, t
			}
		}
		if oldestKey == "" {
			return
		}
		delete(c.data, oldestKey)
		delete(c.times, oldestKey)
	}
}
