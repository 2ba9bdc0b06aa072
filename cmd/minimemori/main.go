package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"minimemori/internal/chatbot"
	"minimemori/internal/config"
	"minimemori/internal/llm"
	"minimemori/internal/llm/openai"
	"minimemori/internal/log"
	"minimemori/internal/memory"
	"minimemori/internal/store"
	"minimemori/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "chat":
		chatCmd(os.Args[2:])
	case "save":
		saveCmd(os.Args[2:])
	case "search":
		searchCmd(os.Args[2:])
	case "history":
		historyCmd(os.Args[2:])
	case "clear":
		clearCmd(os.Args[2:])
	case "embed":
		embedCmd(os.Args[2:])
	case "stats":
		statsCmd(os.Args[2:])
	case "version":
		fmt.Println(version.String())
	case "help", "-h", "--help":
		usage()
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("minimemori - conversation memory with embedding search")
	fmt.Println("usage:")
	fmt.Println("  minimemori chat [--conversation <id>] [--k 3]")
	fmt.Println("  minimemori save [--conversation <id>] [--role user] \"<content>\"")
	fmt.Println("  minimemori search [--conversation <id>] [--k 5] [--threshold 0.0] [--keyword] \"<query>\"")
	fmt.Println("  minimemori history [--conversation <id>] [--limit 20]")
	fmt.Println("  minimemori clear --conversation <id>")
	fmt.Println("  minimemori embed [--batch 8]")
	fmt.Println("  minimemori stats")
	fmt.Println("  minimemori version")
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

// app bundles the shared wiring behind every subcommand.
type app struct {
	cfg *config.Config
	lg  *log.Logger
	st  *store.SQLiteStore
	mem *memory.Engine
	api *openai.Client
	emb llm.Embedder
}

func newApp() *app {
	cfg, err := config.Load()
	if err != nil {
		fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}
	lg := log.New()
	lg.SetLevel(log.ParseLevel(cfg.LogLevel))
	st, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		fatal(err)
	}
	api := openai.New(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, 0)
	return &app{
		cfg: cfg,
		lg:  lg,
		st:  st,
		mem: memory.New(st, cfg.EmbeddingModel, lg),
		api: api,
		emb: llm.NewCachingEmbedder(api, 10*time.Minute, 512),
	}
}

func (a *app) close() { _ = a.st.Close() }

// rootCtx cancels on SIGINT/SIGTERM so long scans stop cleanly.
func rootCtx() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func chatCmd(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	conv := fs.String("conversation", "", "conversation id (empty for a new session)")
	k := fs.Int("k", 3, "memories to surface per turn")
	_ = fs.Parse(args)

	a := newApp()
	defer a.close()
	ctx, cancel := rootCtx()
	defer cancel()

	bot := chatbot.New(a.mem, a.api, a.emb, a.cfg.ChatModel, *conv, *k, a.lg)
	if err := bot.Run(ctx, os.Stdin, os.Stdout); err != nil {
		fatal(err)
	}
}

func saveCmd(args []string) {
	fs := flag.NewFlagSet("save", flag.ExitOnError)
	conv := fs.String("conversation", memory.DefaultConversationID, "conversation id")
	role := fs.String("role", "user", "message role")
	noEmbed := fs.Bool("no-embed", false, "skip embedding generation")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: minimemori save [--conversation <id>] [--role user] \"<content>\"")
		os.Exit(1)
	}
	content := fs.Arg(0)

	a := newApp()
	defer a.close()
	ctx, cancel := rootCtx()
	defer cancel()

	var vec []float32
	if !*noEmbed {
		vecs, err := a.emb.Embeddings(ctx, a.cfg.EmbeddingModel, []string{content})
		if err != nil {
			a.lg.Warn("embedding failed, saving message only", "err", err.Error())
		} else {
			vec = vecs[0]
		}
	}
	id, err := a.mem.Save(ctx, memory.SaveRequest{
		Role:           *role,
		Content:        content,
		ConversationID: *conv,
		Vector:         vec,
	})
	if err != nil {
		fatal(err)
	}
	fmt.Printf("saved message %d\n", id)
}

func searchCmd(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	conv := fs.String("conversation", "", "restrict to one conversation")
	k := fs.Int("k", 0, "max results (0 uses config)")
	threshold := fs.Float64("threshold", -2, "minimum similarity (-2 uses config)")
	keyword := fs.Bool("keyword", false, "substring match instead of similarity")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: minimemori search [--keyword] \"<query>\"")
		os.Exit(1)
	}
	query := fs.Arg(0)

	a := newApp()
	defer a.close()
	ctx, cancel := rootCtx()
	defer cancel()

	if *k <= 0 {
		*k = a.cfg.RetrieveTopK
	}
	if *threshold < -1 {
		*threshold = a.cfg.RetrieveThreshold
	}

	if *keyword {
		msgs, err := a.mem.KeywordSearch(ctx, query, *conv, *k)
		if err != nil {
			fatal(err)
		}
		if len(msgs) == 0 {
			fmt.Println("no matches")
			return
		}
		for _, m := range msgs {
			fmt.Printf("[%d] %s %s: %s\n", m.ID, m.CreatedAt.Format("2006-01-02 15:04"), m.Role, m.Content)
		}
		return
	}

	vecs, err := a.emb.Embeddings(ctx, a.cfg.EmbeddingModel, []string{query})
	if err != nil {
		fatal(fmt.Errorf("embed query: %w", err))
	}
	results, err := a.mem.Retrieve(ctx, vecs[0], *k, *conv, *threshold)
	if err != nil {
		fatal(err)
	}
	fmt.Print(chatbot.FormatResults(results, 150))
}

func historyCmd(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	conv := fs.String("conversation", memory.DefaultConversationID, "conversation id")
	limit := fs.Int("limit", 20, "max messages")
	_ = fs.Parse(args)

	a := newApp()
	defer a.close()
	ctx, cancel := rootCtx()
	defer cancel()

	msgs, err := a.mem.History(ctx, *conv, *limit)
	if err != nil {
		fatal(err)
	}
	// store returns newest-first; print oldest-first for reading
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		fmt.Printf("[%d] %s %s: %s\n", m.ID, m.CreatedAt.Format("2006-01-02 15:04"), m.Role, m.Content)
	}
}

func clearCmd(args []string) {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	conv := fs.String("conversation", "", "conversation id (required)")
	_ = fs.Parse(args)
	if *conv == "" {
		fmt.Fprintln(os.Stderr, "usage: minimemori clear --conversation <id>")
		os.Exit(1)
	}

	a := newApp()
	defer a.close()
	ctx, cancel := rootCtx()
	defer cancel()

	n, err := a.mem.Clear(ctx, *conv)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("deleted %d messages from %s\n", n, *conv)
}

func embedCmd(args []string) {
	fs := flag.NewFlagSet("embed", flag.ExitOnError)
	batch := fs.Int("batch", 8, "messages per embedding request")
	_ = fs.Parse(args)

	a := newApp()
	defer a.close()
	ctx, cancel := rootCtx()
	defer cancel()

	n, err := a.mem.EmbedPending(ctx, a.emb, *batch)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("embedded %d messages\n", n)
}

func statsCmd(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	_ = fs.Parse(args)

	a := newApp()
	defer a.close()
	ctx, cancel := rootCtx()
	defer cancel()

	st, err := a.mem.Stats(ctx)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("messages:      %d\n", st.TotalMessages)
	fmt.Printf("conversations: %d\n", st.TotalConversations)
	fmt.Printf("embeddings:    %d\n", st.TotalEmbeddings)
	if st.EarliestMessage != nil {
		fmt.Printf("earliest:      %s\n", st.EarliestMessage.Format(time.RFC3339))
	}
	if st.LatestMessage != nil {
		fmt.Printf("latest:        %s\n", st.LatestMessage.Format(time.RFC3339))
	}
	fmt.Printf("database:      %s\n", a.st.Path())
}
