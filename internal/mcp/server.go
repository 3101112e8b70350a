// Package mcp exposes the group knowledge engine over the Model Context
// Protocol: search, indexing, facts, conflicts, summaries, retention, and
// stats as tools, plus stats and recent messages as resources. Runs over
// stdio for desktop assistants.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/groupmind/groupmind/internal/conflict"
	"github.com/groupmind/groupmind/internal/ingest"
	"github.com/groupmind/groupmind/internal/retention"
	"github.com/groupmind/groupmind/internal/search"
	"github.com/groupmind/groupmind/internal/store"
	"github.com/groupmind/groupmind/internal/summary"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ServerConfig wires the engine components into the MCP server.
type ServerConfig struct {
	Store               store.Store
	Indexer             *ingest.Indexer
	Search              *search.Engine
	Conflicts           *conflict.Detector
	Summaries           *summary.Builder
	Retention           *retention.Manager
	DefaultConversation string
	Version             string
}

// dbMu serializes tool calls that touch the database. mcp-go dispatches
// handlers on separate goroutines, and SQLite allows only one writer at a
// time; the mutex also guarantees an index call is visible to the search
// that follows it.
var dbMu sync.Mutex

// NewServer creates the MCP server with all tools and resources registered.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"GroupMind",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerSearchTool(s, cfg)
	registerIndexTool(s, cfg)
	registerFactsTool(s, cfg)
	registerConflictsTool(s, cfg)
	registerSummaryTool(s, cfg)
	registerPurgeTool(s, cfg)
	registerStatsTool(s, cfg)

	registerStatsResource(s, cfg)
	registerRecentResource(s, cfg)

	return s
}

// conversationArg resolves the conversation for a tool call, falling back to
// the configured default.
func conversationArg(req mcp.CallToolRequest, cfg ServerConfig) (string, error) {
	if conv, err := req.RequireString("conversation"); err == nil && conv != "" {
		return conv, nil
	}
	if cfg.DefaultConversation != "" {
		return cfg.DefaultConversation, nil
	}
	return "", fmt.Errorf("conversation is required (no default configured)")
}

func intArg(req mcp.CallToolRequest, name string, fallback int) int {
	if v, err := req.RequireFloat(name); err == nil && int(v) > 0 {
		return int(v)
	}
	return fallback
}

func jsonResult(v interface{}) *mcp.CallToolResult {
	data, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(data))
}

// --- Tools ---

func registerSearchTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("groupmind_search",
		mcp.WithDescription("Hybrid keyword and semantic search over indexed group messages. Returns scored messages, newest first on ties."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query, any language"),
		),
		mcp.WithString("conversation",
			mcp.Description("Conversation id. Defaults to the configured conversation."),
		),
		mcp.WithNumber("days",
			mcp.Description("Age window in days (default: 30)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum results (default: 10, max: 50)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		query, err := req.RequireString("query")
		if err != nil || strings.TrimSpace(query) == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		conv, err := conversationArg(req, cfg)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		limit := intArg(req, "limit", 10)
		if limit > 50 {
			limit = 50
		}

		results, err := cfg.Search.HybridSearch(ctx, search.Options{
			ConversationID: conv,
			Query:          query,
			MaxAgeDays:     intArg(req, "days", 30),
			Limit:          limit,
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search error: %v", err)), nil
		}

		type hit struct {
			MessageID int64   `json:"message_id"`
			Sender    string  `json:"sender"`
			Timestamp string  `json:"timestamp"`
			Text      string  `json:"text"`
			Score     float64 `json:"score"`
			Source    string  `json:"source"`
		}
		hits := make([]hit, 0, len(results))
		for _, r := range results {
			hits = append(hits, hit{
				MessageID: r.Message.MessageID,
				Sender:    r.Message.SenderName,
				Timestamp: r.Message.Timestamp.Format(time.RFC3339),
				Text:      r.Message.Text,
				Score:     r.Score,
				Source:    r.Source,
			})
		}
		return jsonResult(map[string]interface{}{"conversation": conv, "results": hits, "count": len(hits)}), nil
	})
}

func registerIndexTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("groupmind_index",
		mcp.WithDescription("Index one group message: store it, embed it when possible, and extract facts from it. Re-indexing the same message id overwrites the earlier version."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Message text"),
		),
		mcp.WithNumber("message_id",
			mcp.Required(),
			mcp.Description("Message id within the conversation"),
		),
		mcp.WithString("sender_id",
			mcp.Required(),
			mcp.Description("Sender user id"),
		),
		mcp.WithString("conversation",
			mcp.Description("Conversation id. Defaults to the configured conversation."),
		),
		mcp.WithString("sender_name",
			mcp.Description("Sender display name"),
		),
		mcp.WithString("username",
			mcp.Description("Sender username"),
		),
		mcp.WithString("date",
			mcp.Description("Message timestamp, RFC 3339. Defaults to now."),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		text, err := req.RequireString("text")
		if err != nil || strings.TrimSpace(text) == "" {
			return mcp.NewToolResultError("text is required"), nil
		}
		messageID, err := req.RequireFloat("message_id")
		if err != nil {
			return mcp.NewToolResultError("message_id is required"), nil
		}
		senderID, err := req.RequireString("sender_id")
		if err != nil || senderID == "" {
			return mcp.NewToolResultError("sender_id is required"), nil
		}
		conv, err := conversationArg(req, cfg)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		ts := time.Now().UTC()
		if dateStr, err := req.RequireString("date"); err == nil && dateStr != "" {
			parsed, err := time.Parse(time.RFC3339, dateStr)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid date: %v", err)), nil
			}
			ts = parsed.UTC()
		}

		m := &store.Message{
			ConversationID: conv,
			MessageID:      int64(messageID),
			SenderID:       senderID,
			Timestamp:      ts,
			Text:           text,
		}
		if name, err := req.RequireString("sender_name"); err == nil {
			m.SenderName = name
		}
		if username, err := req.RequireString("username"); err == nil {
			m.Username = username
		}

		rep, err := cfg.Indexer.OnMessage(ctx, m)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("index error: %v", err)), nil
		}
		return jsonResult(map[string]interface{}{
			"indexed":     true,
			"embedded":    rep.Embedded,
			"facts_saved": rep.FactsSaved,
		}), nil
	})
}

func registerFactsTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("groupmind_facts",
		mcp.WithDescription("List extracted facts for a conversation, newest first, optionally filtered by type (decision, task, announcement, performance, rehearsal, confirmation)."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("conversation",
			mcp.Description("Conversation id. Defaults to the configured conversation."),
		),
		mcp.WithString("type",
			mcp.Description("Fact type filter. Empty = all types."),
		),
		mcp.WithNumber("days",
			mcp.Description("Age window in days (default: 30)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum facts (default: 50)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		conv, err := conversationArg(req, cfg)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		factType := ""
		if ft, err := req.RequireString("type"); err == nil {
			factType = ft
		}

		facts, err := cfg.Store.QueryFacts(ctx, conv, factType, intArg(req, "days", 30), intArg(req, "limit", 50))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("facts error: %v", err)), nil
		}
		return jsonResult(map[string]interface{}{"conversation": conv, "facts": facts, "count": len(facts)}), nil
	})
}

func registerConflictsTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("groupmind_conflicts",
		mcp.WithDescription("Find facts that disagree about dates: the same subject announced for different days."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("conversation",
			mcp.Description("Conversation id. Defaults to the configured conversation."),
		),
		mcp.WithNumber("days",
			mcp.Description("Age window in days (default: 30)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		conv, err := conversationArg(req, cfg)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		conflicts, err := cfg.Conflicts.Detect(ctx, conv, intArg(req, "days", 30))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("conflict detection error: %v", err)), nil
		}
		return jsonResult(map[string]interface{}{"conversation": conv, "conflicts": conflicts, "count": len(conflicts)}), nil
	})
}

func registerSummaryTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("groupmind_summary",
		mcp.WithDescription("Build a cited digest of a conversation window with a confidence label. Cites the priority speaker's messages first."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("conversation",
			mcp.Description("Conversation id. Defaults to the configured conversation."),
		),
		mcp.WithNumber("days",
			mcp.Description("Window size in days (default: 7)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		conv, err := conversationArg(req, cfg)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		days := intArg(req, "days", 7)

		title := fmt.Sprintf("Digest of the last %d days", days)
		if days == 1 {
			title = "Digest of the last day"
		}
		sum, err := cfg.Summaries.Build(ctx, title, conv, days)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("summary error: %v", err)), nil
		}
		return mcp.NewToolResultText(sum.Render()), nil
	})
}

func registerPurgeTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("groupmind_purge",
		mcp.WithDescription("Delete messages, embeddings, and facts older than the retention window. Irreversible."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithString("conversation",
			mcp.Description("Conversation id to purge. Empty = all conversations."),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		conv := ""
		if c, err := req.RequireString("conversation"); err == nil {
			conv = c
		}

		res, err := cfg.Retention.Purge(ctx, conv)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("purge error: %v", err)), nil
		}
		return jsonResult(map[string]interface{}{
			"retention_days": cfg.Retention.RetentionDays(),
			"messages":       res.Messages,
			"embeddings":     res.Embeddings,
			"facts":          res.Facts,
		}), nil
	})
}

func registerStatsTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("groupmind_stats",
		mcp.WithDescription("Report index totals: messages, embeddings, and facts stored."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := cfg.Store.Stats(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("stats error: %v", err)), nil
		}
		return jsonResult(stats), nil
	})
}

// --- Resources ---

func registerStatsResource(s *server.MCPServer, cfg ServerConfig) {
	resource := mcp.NewResource(
		"groupmind://stats",
		"Index Statistics",
		mcp.WithResourceDescription("Totals of indexed messages, embeddings, and extracted facts."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := cfg.Store.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading stats resource: %w", err)
		}
		data, _ := json.MarshalIndent(stats, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}

func registerRecentResource(s *server.MCPServer, cfg ServerConfig) {
	resource := mcp.NewResource(
		"groupmind://recent",
		"Recent Messages",
		mcp.WithResourceDescription("The newest indexed messages of the default conversation."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		if cfg.DefaultConversation == "" {
			return nil, fmt.Errorf("recent resource requires a configured default conversation")
		}
		msgs, err := cfg.Store.RecentMessages(ctx, cfg.DefaultConversation, 7, 50)
		if err != nil {
			return nil, fmt.Errorf("reading recent resource: %w", err)
		}

		payload := map[string]interface{}{
			"conversation": cfg.DefaultConversation,
			"messages":     msgs,
			"count":        len(msgs),
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}
