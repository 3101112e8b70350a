package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/groupmind/groupmind/internal/config"
	"github.com/groupmind/groupmind/internal/conflict"
	"github.com/groupmind/groupmind/internal/embed"
	"github.com/groupmind/groupmind/internal/extract"
	"github.com/groupmind/groupmind/internal/ingest"
	mcpsrv "github.com/groupmind/groupmind/internal/mcp"
	"github.com/groupmind/groupmind/internal/retention"
	"github.com/groupmind/groupmind/internal/search"
	"github.com/groupmind/groupmind/internal/store"
	"github.com/groupmind/groupmind/internal/summary"
	"github.com/mark3labs/mcp-go/server"
)

// app wires the engine components from resolved configuration.
type app struct {
	cfg       config.ResolvedConfig
	store     *store.SQLiteStore
	embedder  *embed.Client
	indexer   *ingest.Indexer
	search    *search.Engine
	conflicts *conflict.Detector
	summaries *summary.Builder
	retention *retention.Manager
}

func openApp(f *cmdFlags) (*app, error) {
	cfg, err := config.ResolveConfig(f.opts)
	if err != nil {
		return nil, err
	}

	s, err := store.Open(store.Config{DBPath: cfg.DBPath.Value})
	if err != nil {
		return nil, err
	}

	client, err := buildEmbedder(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	extractor, err := buildExtractor(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	retentionDays, err := cfg.RetentionDaysInt()
	if err != nil {
		s.Close()
		return nil, err
	}

	// A typed nil in the interface would look configured, so the conversion
	// only happens when a client actually exists.
	var ingestEmb ingest.Embedder
	var searchEmb search.Embedder
	if client != nil {
		ingestEmb = client
		searchEmb = client
	}

	detector := conflict.New(s)
	priority := cfg.PriorityUserID.Value

	return &app{
		cfg:       cfg,
		store:     s,
		embedder:  client,
		indexer:   ingest.New(s, extractor, ingestEmb),
		search:    search.New(s, searchEmb, priority),
		conflicts: detector,
		summaries: summary.New(s, detector, priority),
		retention: retention.New(s, retentionDays),
	}, nil
}

func (a *app) Close() {
	a.store.Close()
}

// conversation returns the conversation id for a command, from --conversation
// or the configured default.
func (a *app) conversation() (string, error) {
	if conv := a.cfg.DefaultConversation.Value; conv != "" {
		return conv, nil
	}
	return "", fmt.Errorf("no conversation given: pass --conversation or set default_conversation in the config")
}

func buildEmbedder(cfg config.ResolvedConfig) (*embed.Client, error) {
	ec, err := embed.Resolve(cfg.EmbedProvider.Value)
	if err != nil {
		return nil, err
	}
	if ec == nil {
		return nil, nil
	}
	if v := cfg.EmbedEndpoint.Value; v != "" {
		ec.Endpoint = v
	}
	if v := cfg.EmbedAPIKey.Value; v != "" {
		ec.APIKey = v
	}
	return embed.NewClient(ec)
}

func buildExtractor(cfg config.ResolvedConfig) (*extract.Extractor, error) {
	if path := cfg.RulesPath.Value; path != "" {
		rules, err := extract.LoadRules(path)
		if err != nil {
			return nil, err
		}
		return extract.NewWithRules(rules), nil
	}
	return extract.New(), nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runIndex(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	if f.text != "" {
		return indexSingle(f)
	}
	if len(f.args) != 1 {
		return fmt.Errorf("usage: groupmind index <export.json>\n   or: groupmind index --text <text> --message-id <n> --sender-id <id>")
	}

	a, err := openApp(f)
	if err != nil {
		return err
	}
	defer a.Close()

	msgs, err := ingest.LoadExport(f.args[0], a.cfg.DefaultConversation.Value)
	if err != nil {
		return err
	}

	fmt.Printf("Indexing %d messages from %s...\n", len(msgs), f.args[0])
	rep, err := a.indexer.OnBatch(context.Background(), msgs)
	if err != nil {
		return err
	}

	fmt.Printf("Indexed:  %d\n", rep.Indexed)
	fmt.Printf("Failed:   %d\n", rep.Failed)
	fmt.Printf("Embedded: %d\n", rep.Embedded)
	fmt.Printf("Facts:    %d\n", rep.FactsSaved)
	return nil
}

func indexSingle(f *cmdFlags) error {
	messageID, err := strconv.ParseInt(f.messageID, 10, 64)
	if err != nil {
		return fmt.Errorf("--message-id must be a number, got %q", f.messageID)
	}
	if f.senderID == "" {
		return fmt.Errorf("--sender-id is required with --text")
	}

	ts := time.Now().UTC()
	if f.date != "" {
		parsed, err := time.Parse(time.RFC3339, f.date)
		if err != nil {
			return fmt.Errorf("--date must be RFC 3339: %v", err)
		}
		ts = parsed.UTC()
	}

	a, err := openApp(f)
	if err != nil {
		return err
	}
	defer a.Close()

	conv, err := a.conversation()
	if err != nil {
		return err
	}

	rep, err := a.indexer.OnMessage(context.Background(), &store.Message{
		ConversationID: conv,
		MessageID:      messageID,
		SenderID:       f.senderID,
		SenderName:     f.senderName,
		Username:       f.username,
		Timestamp:      ts,
		Text:           f.text,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Indexed message %d (embedded=%v, facts=%d)\n", messageID, rep.Embedded, rep.FactsSaved)
	return nil
}

func runSearch(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	query := strings.TrimSpace(strings.Join(f.args, " "))
	if query == "" {
		return fmt.Errorf("usage: groupmind search <query> [--days 30] [--limit 10]")
	}

	a, err := openApp(f)
	if err != nil {
		return err
	}
	defer a.Close()

	conv, err := a.conversation()
	if err != nil {
		return err
	}

	results, err := a.search.HybridSearch(context.Background(), search.Options{
		ConversationID: conv,
		Query:          query,
		MaxAgeDays:     f.daysOr(30),
		Limit:          f.limitOr(10),
	})
	if err != nil {
		return err
	}

	if f.asJSON {
		return printJSON(results)
	}
	if len(results) == 0 {
		fmt.Println("No matches.")
		return nil
	}
	for _, r := range results {
		sender := r.Message.SenderName
		if sender == "" {
			sender = r.Message.SenderID
		}
		fmt.Printf("[%.2f %s] %s  %s: %s\n",
			r.Score, r.Source,
			r.Message.Timestamp.Format("2006-01-02 15:04"),
			sender, r.Message.Text)
	}
	return nil
}

func runFacts(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	a, err := openApp(f)
	if err != nil {
		return err
	}
	defer a.Close()

	conv, err := a.conversation()
	if err != nil {
		return err
	}

	facts, err := a.store.QueryFacts(context.Background(), conv, f.factType, f.daysOr(30), f.limitOr(50))
	if err != nil {
		return err
	}

	if f.asJSON {
		return printJSON(facts)
	}
	if len(facts) == 0 {
		fmt.Println("No facts.")
		return nil
	}
	for _, fact := range facts {
		line := fmt.Sprintf("%s  [%s] %s", fact.CreatedAt.Format("2006-01-02"), fact.FactType, fact.Subject)
		var attrs []string
		if fact.Date != "" {
			attrs = append(attrs, "date="+fact.Date)
		}
		if fact.Time != "" {
			attrs = append(attrs, "time="+fact.Time)
		}
		if fact.Location != "" {
			attrs = append(attrs, "location="+fact.Location)
		}
		if fact.Responsible != "" {
			attrs = append(attrs, "responsible="+fact.Responsible)
		}
		if fact.Deadline != "" {
			attrs = append(attrs, "deadline="+fact.Deadline)
		}
		if len(attrs) > 0 {
			line += "  (" + strings.Join(attrs, ", ") + ")"
		}
		fmt.Println(line)
	}
	return nil
}

func runConflicts(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	a, err := openApp(f)
	if err != nil {
		return err
	}
	defer a.Close()

	conv, err := a.conversation()
	if err != nil {
		return err
	}

	conflicts, err := a.conflicts.Detect(context.Background(), conv, f.daysOr(30))
	if err != nil {
		return err
	}

	if f.asJSON {
		return printJSON(conflicts)
	}
	if len(conflicts) == 0 {
		fmt.Println("No date conflicts found.")
		return nil
	}
	for _, c := range conflicts {
		fmt.Printf("%q appears with %d dates: %s\n", c.Subject, len(c.Dates), strings.Join(c.Dates, ", "))
		for _, fact := range c.Facts {
			fmt.Printf("  - message %d (%s): %s on %s\n", fact.MessageID, fact.CreatedAt.Format("2006-01-02"), fact.FactType, fact.Date)
		}
	}
	return nil
}

func runSummary(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	a, err := openApp(f)
	if err != nil {
		return err
	}
	defer a.Close()

	conv, err := a.conversation()
	if err != nil {
		return err
	}

	days := f.daysOr(7)
	title := fmt.Sprintf("Digest of the last %d days", days)
	if days == 1 {
		title = "Digest of the last day"
	}

	sum, err := a.summaries.Build(context.Background(), title, conv, days)
	if err != nil {
		return err
	}
	fmt.Println(sum.Render())
	return nil
}

func runPurge(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	a, err := openApp(f)
	if err != nil {
		return err
	}
	defer a.Close()

	conv := ""
	if !f.all {
		conv, err = a.conversation()
		if err != nil {
			return fmt.Errorf("%v (or pass --all to purge every conversation)", err)
		}
	}

	res, err := a.retention.Purge(context.Background(), conv)
	if err != nil {
		return err
	}

	scope := conv
	if scope == "" {
		scope = "all conversations"
	}
	fmt.Printf("Purged data older than %d days from %s:\n", a.retention.RetentionDays(), scope)
	fmt.Printf("  Messages:   %d\n", res.Messages)
	fmt.Printf("  Embeddings: %d\n", res.Embeddings)
	fmt.Printf("  Facts:      %d\n", res.Facts)
	return nil
}

func runStats(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	a, err := openApp(f)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.store.Stats(context.Background())
	if err != nil {
		return err
	}

	if f.asJSON {
		return printJSON(stats)
	}
	fmt.Printf("Messages:   %d\n", stats.MessageCount)
	fmt.Printf("Embeddings: %d\n", stats.EmbeddingCount)
	fmt.Printf("Facts:      %d\n", stats.FactCount)
	if stats.DBSizeBytes > 0 {
		fmt.Printf("DB size:    %.1f MB\n", float64(stats.DBSizeBytes)/(1024*1024))
	}
	return nil
}

func runConfig(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := config.ResolveConfig(f.opts)
	if err != nil {
		return err
	}
	if cfg.EmbedAPIKey.Value != "" {
		cfg.EmbedAPIKey.Value = "***"
	}
	return printJSON(cfg)
}

func runServe(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	a, err := openApp(f)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := mcpsrv.NewServer(mcpsrv.ServerConfig{
		Store:               a.store,
		Indexer:             a.indexer,
		Search:              a.search,
		Conflicts:           a.conflicts,
		Summaries:           a.summaries,
		Retention:           a.retention,
		DefaultConversation: a.cfg.DefaultConversation.Value,
		Version:             version,
	})

	sched, err := retention.NewScheduler(a.retention, a.cfg.RetentionSchedule.Value)
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	// Stdout carries the protocol; anything human goes to stderr.
	fmt.Fprintf(os.Stderr, "groupmind %s: MCP server on stdio (db %s, retention %dd)\n",
		version, a.cfg.DBPath.Value, a.retention.RetentionDays())
	if a.embedder != nil {
		fmt.Fprintf(os.Stderr, "embeddings: %s\n", a.embedder.ModelTag())
	} else {
		fmt.Fprintln(os.Stderr, "embeddings: not configured, search is lexical-only")
	}

	return server.ServeStdio(srv)
}
