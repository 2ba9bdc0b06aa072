package chatbot

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"minimemori/internal/llm"
	"minimemori/internal/memory"
	"minimemori/internal/store"
)

type fakeEmbedder struct {
	fail bool
}

func (f *fakeEmbedder) Embeddings(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	if f.fail {
		return nil, fmt.Errorf("embedder offline")
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type scriptStream struct{ s string }

func (s *scriptStream) Recv() (string, bool, error) {
	if s.s == "" {
		return "", true, nil
	}
	v := s.s
	s.s = ""
	return v, false, nil
}
func (s *scriptStream) Close() error { return nil }

// scriptchat replies with a fixed string and records the transcript it saw.
type scriptChat struct {
	reply string
	seen  [][]llm.Message
}

func (s *scriptChat) Chat(ctx context.Context, model string, messages []llm.Message, stream bool, temperature float32) (llm.ChatStream, error) {
	s.seen = append(s.seen, messages)
	return &scriptStream{s: s.reply}, nil
}

func newTestBot(t *testing.T, emb llm.Embedder, chat llm.ChatProvider) (*Bot, *memory.Engine) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Skip("sqlite not available:", err)
	}
	t.Cleanup(func() { st.Close() })
	mem := memory.New(st, "test-model", nil)
	return New(mem, chat, emb, "chat-model", "session", 3, nil), mem
}

func TestRespondSavesBothSides(t *testing.T) {
	chat := &scriptChat{reply: "nice to meet you"}
	bot, mem := newTestBot(t, &fakeEmbedder{}, chat)
	ctx := context.Background()

	var out bytes.Buffer
	reply, err := bot.Respond(ctx, "hello there", &out)
	if err != nil {
		t.Fatalf("Respond error: %v", err)
	}
	if reply != "nice to meet you" || out.String() != reply {
		t.Fatalf("reply=%q streamed=%q", reply, out.String())
	}

	msgs, err := mem.History(ctx, "session", 10)
	if err != nil {
		t.Fatalf("History error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("saved %d messages, want user and assistant", len(msgs))
	}
	if msgs[0].Role != "assistant" || msgs[1].Role != "user" {
		t.Fatalf("roles = %s, %s", msgs[0].Role, msgs[1].Role)
	}

	// both sides got vectors
	st, _ := mem.Stats(ctx)
	if st.TotalEmbeddings != 2 {
		t.Fatalf("embeddings = %d, want 2", st.TotalEmbeddings)
	}

	// the transcript ends with the user message and starts with the system prompt
	sent := chat.seen[0]
	if sent[0].Role != llm.RoleSystem {
		t.Fatalf("first message role = %s, want system", sent[0].Role)
	}
	last := sent[len(sent)-1]
	if last.Role != llm.RoleUser || last.Content != "hello there" {
		t.Fatalf("last message = %+v", last)
	}
}

func TestRespondDegradesWhenEmbedderFails(t *testing.T) {
	chat := &scriptChat{reply: "still here"}
	bot, mem := newTestBot(t, &fakeEmbedder{fail: true}, chat)
	ctx := context.Background()

	if _, err := bot.Respond(ctx, "no vectors today", nil); err != nil {
		t.Fatalf("Respond error: %v", err)
	}
	msgs, _ := mem.History(ctx, "session", 10)
	if len(msgs) != 2 {
		t.Fatalf("saved %d messages, want 2 despite embedder failure", len(msgs))
	}
	st, _ := mem.Stats(ctx)
	if st.TotalEmbeddings != 0 {
		t.Fatalf("embeddings = %d, want 0", st.TotalEmbeddings)
	}
}

func TestRespondIncludesRelevantMemories(t *testing.T) {
	chat := &scriptChat{reply: "ok"}
	bot, mem := newTestBot(t, &fakeEmbedder{}, chat)
	ctx := context.Background()

	// a memory from an earlier conversation, aligned with the fake's vectors
	mem.Save(ctx, memory.SaveRequest{
		Role: "user", Content: "my favorite color is blue",
		ConversationID: "earlier", Vector: []float32{1, 0},
	})

	if _, err := bot.Respond(ctx, "what do I like?", nil); err != nil {
		t.Fatalf("Respond error: %v", err)
	}
	found := false
	for _, m := range chat.seen[0] {
		if m.Role == llm.RoleSystem && strings.Contains(m.Content, "favorite color is blue") {
			found = true
		}
	}
	if !found {
		t.Fatalf("cross-conversation memory missing from transcript: %+v", chat.seen[0])
	}
}

func TestRunSlashCommands(t *testing.T) {
	chat := &scriptChat{reply: "ok"}
	bot, mem := newTestBot(t, &fakeEmbedder{}, chat)
	ctx := context.Background()

	mem.Save(ctx, memory.SaveRequest{Role: "user", Content: "remember the milk", ConversationID: "session", Vector: []float32{1, 0}})

	in := strings.NewReader("/help\n/stats\n/history\n/search milk\n/clear\n/quit\n")
	var out bytes.Buffer
	if err := bot.Run(ctx, in, &out); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	s := out.String()
	for _, want := range []string{"commands:", "messages: 1", "remember the milk", "cleared 1 messages", "bye"} {
		if !strings.Contains(s, want) {
			t.Fatalf("output missing %q:\n%s", want, s)
		}
	}
	// /clear actually emptied the conversation
	msgs, _ := mem.History(ctx, "session", 10)
	if len(msgs) != 0 {
		t.Fatalf("history after clear = %d messages", len(msgs))
	}
}

func TestNewGeneratesSessionID(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Skip("sqlite not available:", err)
	}
	defer st.Close()
	mem := memory.New(st, "test-model", nil)
	b := New(mem, &scriptChat{}, &fakeEmbedder{}, "m", "", 0, nil)
	if !strings.HasPrefix(b.ConversationID(), "chat-") || len(b.ConversationID()) != len("chat-")+8 {
		t.Fatalf("generated id = %q", b.ConversationID())
	}
}
