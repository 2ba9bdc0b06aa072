package memory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"minimemori/internal/errs"
	"minimemori/internal/store"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "mem.db"))
	if err != nil {
		t.Skip("sqlite not available:", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, "test-model", nil)
}

func TestSaveAndRetrieveEndToEnd(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Save(ctx, SaveRequest{Role: "user", Content: "I like blue", Vector: []float32{1, 0}}); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if _, err := e.Save(ctx, SaveRequest{Role: "user", Content: "I like red", Vector: []float32{0, 1}}); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	res, err := e.Retrieve(ctx, []float32{1, 0}, 1, "", 0.5)
	if err != nil {
		t.Fatalf("Retrieve error: %v", err)
	}
	if len(res) != 1 || res[0].Message.Content != "I like blue" {
		t.Fatalf("got %v, want the blue message", res)
	}
}

func TestSaveDefaultsConversation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Save(ctx, SaveRequest{Role: "user", Content: "hello"}); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	msgs, err := e.History(ctx, DefaultConversationID, 10)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("History len=%d err=%v, want the defaulted message", len(msgs), err)
	}
}

func TestSaveRejectsEmptyFields(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Save(ctx, SaveRequest{Role: "", Content: "x"}); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("empty role: got %v, want ErrInvalidInput", err)
	}
	if _, err := e.Save(ctx, SaveRequest{Role: "user", Content: ""}); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("empty content: got %v, want ErrInvalidInput", err)
	}
}

func TestSaveSanitizesConversationID(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Save(ctx, SaveRequest{Role: "user", Content: "x", ConversationID: "my conv/!?id"}); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	// History applies the same sanitization, so the raw id resolves
	msgs, err := e.History(ctx, "my conv/!?id", 10)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("History len=%d err=%v, want 1 sanitized match", len(msgs), err)
	}
	if msgs[0].ConversationID != "myconvid" {
		t.Fatalf("stored conversation id = %q, want %q", msgs[0].ConversationID, "myconvid")
	}
}

func TestClearRemovesEverything(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	e.Save(ctx, SaveRequest{Role: "user", Content: "a", ConversationID: "c1", Vector: []float32{1}})
	e.Save(ctx, SaveRequest{Role: "user", Content: "b", ConversationID: "c1"})
	e.Save(ctx, SaveRequest{Role: "user", Content: "kept", ConversationID: "c2"})

	n, err := e.Clear(ctx, "c1")
	if err != nil || n != 2 {
		t.Fatalf("Clear: n=%d err=%v, want 2", n, err)
	}
	st, _ := e.Stats(ctx)
	if st.TotalMessages != 1 || st.TotalEmbeddings != 0 {
		t.Fatalf("post-clear stats = %+v", st)
	}

	// clearing an unknown conversation is fine
	n, err = e.Clear(ctx, "never-existed")
	if err != nil || n != 0 {
		t.Fatalf("Clear unknown: n=%d err=%v, want 0, nil", n, err)
	}
}

func TestKeywordSearchWithoutEmbeddings(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	e.Save(ctx, SaveRequest{Role: "user", Content: "The Blue Whale"})
	e.Save(ctx, SaveRequest{Role: "user", Content: "nothing relevant"})

	msgs, err := e.KeywordSearch(ctx, "blue", "", 10)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("KeywordSearch len=%d err=%v, want 1 case-insensitive hit", len(msgs), err)
	}
}

func TestDeleteMessage(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	id, _ := e.Save(ctx, SaveRequest{Role: "user", Content: "temp", Vector: []float32{1}})
	if err := e.DeleteMessage(ctx, id); err != nil {
		t.Fatalf("DeleteMessage error: %v", err)
	}
	if err := e.DeleteMessage(ctx, id); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("double delete: got %v, want ErrNotFound", err)
	}
}

func TestValidateMessage(t *testing.T) {
	if err := ValidateMessage("user", "hi", "c"); err != nil {
		t.Fatalf("valid message rejected: %v", err)
	}
	for _, c := range [][3]string{{"", "hi", "c"}, {"user", "", "c"}, {"user", "hi", ""}} {
		if err := ValidateMessage(c[0], c[1], c[2]); !errors.Is(err, errs.ErrInvalidInput) {
			t.Fatalf("ValidateMessage(%q,%q,%q) = %v, want ErrInvalidInput", c[0], c[1], c[2], err)
		}
	}
}

func TestSanitizeConversationID(t *testing.T) {
	cases := []struct{ in, want string }{
		{"simple", "simple"},
		{"with space", "withspace"},
		{"a/b\\c", "abc"},
		{"keep_these-ok.v2", "keep_these-ok.v2"},
		{"!!!", DefaultConversationID},
		{"", DefaultConversationID},
	}
	for _, c := range cases {
		if got := SanitizeConversationID(c.in); got != c.want {
			t.Fatalf("SanitizeConversationID(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
