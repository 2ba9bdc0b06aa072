package llm

import (
	"context"
	"testing"
	"time"
)

type recordingEmbedder struct {
	calls  int
	inputs [][]string
}

func (r *recordingEmbedder) Embeddings(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	r.calls++
	r.inputs = append(r.inputs, inputs)
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{float32(len(inputs[i])), 1}
	}
	return out, nil
}

func TestCachingEmbedderHit(t *testing.T) {
	u := &recordingEmbedder{}
	c := NewCachingEmbedder(u, time.Minute, 0)
	ctx := context.Background()

	first, err := c.Embeddings(ctx, "m", []string{"hello"})
	if err != nil {
		t.Fatalf("Embeddings error: %v", err)
	}
	second, err := c.Embeddings(ctx, "m", []string{"hello"})
	if err != nil {
		t.Fatalf("Embeddings error: %v", err)
	}
	if u.calls != 1 {
		t.Fatalf("upstream calls = %d, want 1", u.calls)
	}
	if first[0][0] != second[0][0] {
		t.Fatalf("cached vector differs: %v vs %v", first[0], second[0])
	}
}

func TestCachingEmbedderPartialMiss(t *testing.T) {
	u := &recordingEmbedder{}
	c := NewCachingEmbedder(u, time.Minute, 0)
	ctx := context.Background()

	c.Embeddings(ctx, "m", []string{"a"})
	out, err := c.Embeddings(ctx, "m", []string{"a", "bb"})
	if err != nil {
		t.Fatalf("Embeddings error: %v", err)
	}
	if u.calls != 2 {
		t.Fatalf("upstream calls = %d, want 2", u.calls)
	}
	// only the miss goes upstream
	if got := u.inputs[1]; len(got) != 1 || got[0] != "bb" {
		t.Fatalf("second upstream batch = %v, want [bb]", got)
	}
	if out[0][0] != 1 || out[1][0] != 2 {
		t.Fatalf("merged output wrong: %v", out)
	}
}

func TestCachingEmbedderModelIsolation(t *testing.T) {
	u := &recordingEmbedder{}
	c := NewCachingEmbedder(u, time.Minute, 0)
	ctx := context.Background()

	c.Embeddings(ctx, "m1", []string{"x"})
	c.Embeddings(ctx, "m2", []string{"x"})
	if u.calls != 2 {
		t.Fatalf("same input across models must miss: calls = %d, want 2", u.calls)
	}
}

func TestCachingEmbedderGeneration(t *testing.T) {
	u := &recordingEmbedder{}
	c := NewCachingEmbedder(u, time.Minute, 0)
	ctx := context.Background()

	c.Embeddings(ctx, "m", []string{"x"})
	c.SetGeneration("v2")
	c.Embeddings(ctx, "m", []string{"x"})
	if u.calls != 2 {
		t.Fatalf("generation bump must invalidate: calls = %d, want 2", u.calls)
	}
	// same generation again: no invalidation
	c.SetGeneration("v2")
	c.Embeddings(ctx, "m", []string{"x"})
	if u.calls != 2 {
		t.Fatalf("repeated SetGeneration must not invalidate: calls = %d", u.calls)
	}
}

func TestCachingEmbedderTTL(t *testing.T) {
	u := &recordingEmbedder{}
	c := NewCachingEmbedder(u, time.Nanosecond, 0)
	ctx := context.Background()

	c.Embeddings(ctx, "m", []string{"x"})
	time.Sleep(time.Millisecond)
	c.Embeddings(ctx, "m", []string{"x"})
	if u.calls != 2 {
		t.Fatalf("expired entry must miss: calls = %d, want 2", u.calls)
	}
}

func TestCachingEmbedderEviction(t *testing.T) {
	u := &recordingEmbedder{}
	c := NewCachingEmbedder(u, time.Minute, 2)
	ctx := context.Background()

	c.Embeddings(ctx, "m", []string{"a"})
	time.Sleep(time.Millisecond)
	c.Embeddings(ctx, "m", []string{"b"})
	time.Sleep(time.Millisecond)
	c.Embeddings(ctx, "m", []string{"c"})

	// "a" was the oldest and must be gone
	c.Embeddings(ctx, "m", []string{"a"})
	if u.calls != 4 {
		t.Fatalf("evicted entry must miss: calls = %d, want 4", u.calls)
	}
	// "c" survived
	c.Embeddings(ctx, "m", []string{"c"})
	if u.calls != 4 {
		t.Fatalf("recent entry must hit: calls = %d, want 4", u.calls)
	}
}
