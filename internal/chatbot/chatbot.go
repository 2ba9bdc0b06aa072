// Package chatbot is an interactive REPL with long-term memory: every
// exchange is persisted with its embedding, and each reply is grounded on the
// most similar past messages.
package chatbot

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"minimemori/internal/llm"
	"minimemori/internal/log"
	"minimemori/internal/memory"
	"minimemori/internal/models"
)

const systemPrompt = "You are a helpful AI assistant with long-term memory. " +
	"You have access to relevant memories from previous conversations. " +
	"Use these memories to provide personalized and contextually aware responses. " +
	"If you reference information from memories, acknowledge it naturally."

const (
	memoryThreshold = 0.7 // only fairly relevant memories enter the prompt
	searchThreshold = 0.5
	historyWindow   = 10
)

type Bot struct {
	mem            *memory.Engine
	chat           llm.ChatProvider
	emb            llm.Embedder
	chatModel      string
	conversationID string
	topK           int
	lg             *log.Logger
}

// New builds a bot. conversationID may be empty; a fresh session id is
// generated then.
func New(mem *memory.Engine, chat llm.ChatProvider, emb llm.Embedder, chatModel, conversationID string, topK int, lg *log.Logger) *Bot {
	if conversationID == "" {
		conversationID = "chat-" + uuid.NewString()[:8]
	}
	if topK <= 0 {
		topK = 3
	}
	if lg == nil {
		lg = log.New()
	}
	return &Bot{
		mem:            mem,
		chat:           chat,
		emb:            emb,
		chatModel:      chatModel,
		conversationID: conversationID,
		topK:           topK,
		lg:             lg.With(map[string]string{"component": "chatbot"}),
	}
}

func (b *Bot) ConversationID() string { return b.conversationID }

// save persists one side of the exchange. An embedding failure degrades to a
// message-only save; the text is never lost.
func (b *Bot) save(ctx context.Context, role, content string) (int64, []float32) {
	var vec []float32
	vecs, err := b.emb.Embeddings(ctx, b.mem.Model(), []string{content})
	if err != nil || len(vecs) == 0 {
		b.lg.Warn("embedding failed, saving without vector", "err", fmt.Sprint(err))
	} else {
		vec = vecs[0]
	}
	id, err := b.mem.Save(ctx, memory.SaveRequest{
		Role:           role,
		Content:        content,
		ConversationID: b.conversationID,
		Vector:         vec,
	})
	if err != nil {
		b.lg.Error("save failed", "err", err.Error())
		return 0, vec
	}
	return id, vec
}

// Respond saves the user message, retrieves relevant memories, asks the chat
// model and saves its reply. Deltas stream to out as they arrive.
func (b *Bot) Respond(ctx context.Context, userMessage string, out io.Writer) (string, error) {
	_, queryVec := b.save(ctx, models.RoleUser, userMessage)

	msgs := []llm.Message{{Role: llm.RoleSystem, Content: systemPrompt}}
	if queryVec != nil {
		memories, err := b.mem.Retrieve(ctx, queryVec, b.topK, "", memoryThreshold)
		if err != nil {
			b.lg.Warn("memory retrieval failed", "err", err.Error())
		} else if len(memories) > 0 {
			msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: memoryContext(memories)})
		}
	}

	history, err := b.mem.History(ctx, b.conversationID, historyWindow)
	if err == nil {
		// newest-first from the store; replay oldest-first, skipping the
		// user message just saved
		for i := len(history) - 1; i >= 1; i-- {
			m := history[i]
			msgs = append(msgs, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
		}
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: userMessage})

	stream, err := b.chat.Chat(ctx, b.chatModel, msgs, true, 0.7)
	if err != nil {
		return "", err
	}
	defer stream.Close()
	var reply strings.Builder
	for {
		delta, done, err := stream.Recv()
		if err != nil {
			return reply.String(), err
		}
		if delta != "" {
			reply.WriteString(delta)
			if out != nil {
				fmt.Fprint(out, delta)
			}
		}
		if done {
			break
		}
	}
	if reply.Len() > 0 {
		b.save(ctx, models.RoleAssistant, reply.String())
	}
	return reply.String(), nil
}

func memoryContext(memories []models.MemoryResult) string {
	var sb strings.Builder
	sb.WriteString("Relevant memories from previous conversations:")
	for i, r := range memories {
		fmt.Fprintf(&sb, "\n%d. [%s]: %s", i+1, r.Message.Role, r.Message.Content)
	}
	return sb.String()
}

// Run drives the interactive loop until /quit or EOF.
func (b *Bot) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "connected to conversation: %s\n", b.conversationID)
	fmt.Fprintln(out, `type /help for commands`)
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\nYou: ")
		if !sc.Scan() {
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := b.command(ctx, line, out)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}
		fmt.Fprint(out, "\nAssistant: ")
		if _, err := b.Respond(ctx, line, out); err != nil {
			fmt.Fprintf(out, "\nerror: %v", err)
		}
		fmt.Fprintln(out)
	}
}

// command handles one slash command; returns true when the loop should end.
func (b *Bot) command(ctx context.Context, line string, out io.Writer) (bool, error) {
	parts := strings.SplitN(line, " ", 2)
	switch strings.ToLower(parts[0]) {
	case "/quit":
		fmt.Fprintln(out, "bye, your memories are saved")
		return true, nil
	case "/help":
		fmt.Fprintln(out, "commands:")
		fmt.Fprintln(out, "  /help           show this help")
		fmt.Fprintln(out, "  /stats          memory statistics")
		fmt.Fprintln(out, "  /history        recent conversation history")
		fmt.Fprintln(out, "  /search <text>  search memories")
		fmt.Fprintln(out, "  /clear          clear current conversation")
		fmt.Fprintln(out, "  /quit           exit")
	case "/stats":
		st, err := b.mem.Stats(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "messages: %d  conversations: %d  embeddings: %d\n",
			st.TotalMessages, st.TotalConversations, st.TotalEmbeddings)
		if st.EarliestMessage != nil && st.LatestMessage != nil {
			fmt.Fprintf(out, "range: %s .. %s\n", st.EarliestMessage.Format("2006-01-02 15:04"), st.LatestMessage.Format("2006-01-02 15:04"))
		}
	case "/history":
		msgs, err := b.mem.History(ctx, b.conversationID, 5)
		if err != nil {
			return false, err
		}
		for i := len(msgs) - 1; i >= 0; i-- {
			m := msgs[i]
			fmt.Fprintf(out, "%s: %s\n", m.Role, truncate(m.Content, 100))
		}
	case "/search":
		if len(parts) < 2 || strings.TrimSpace(parts[1]) == "" {
			fmt.Fprintln(out, "usage: /search <query>")
			return false, nil
		}
		query := strings.TrimSpace(parts[1])
		vecs, err := b.emb.Embeddings(ctx, b.mem.Model(), []string{query})
		if err != nil || len(vecs) == 0 {
			return false, fmt.Errorf("embed query: %w", err)
		}
		results, err := b.mem.Retrieve(ctx, vecs[0], 5, "", searchThreshold)
		if err != nil {
			return false, err
		}
		if len(results) == 0 {
			fmt.Fprintln(out, "no relevant memories found")
			return false, nil
		}
		fmt.Fprint(out, FormatResults(results, 150))
	case "/clear":
		n, err := b.mem.Clear(ctx, b.conversationID)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "cleared %d messages from current conversation\n", n)
	default:
		fmt.Fprintf(out, "unknown command: %s (try /help)\n", parts[0])
	}
	return false, nil
}

// FormatResults renders retrieval results for terminal display.
func FormatResults(results []models.MemoryResult, maxContent int) string {
	if len(results) == 0 {
		return "No memories found.\n"
	}
	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "[%d] %s (similarity: %.3f) - %s\n", i+1,
			strings.ToUpper(r.Message.Role), r.Score, r.Message.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(&sb, "    %s\n", truncate(r.Message.Content, maxContent))
	}
	return sb.String()
}

func truncate(s string, max int) string {
	if max <= 3 || len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
