// Package store provides the SQLite storage layer for groupmind.
//
// All conversation knowledge lives in a single SQLite database file:
// - Indexed group messages with sender provenance
// - Per-message embedding vectors, tagged with the model that produced them
// - Facts extracted from messages (decisions, tasks, events, ...)
//
// The three collections are independently keyed. A fact or embedding may
// outlive (or precede) its message; lookups across collections are tolerant
// joins that return absent rather than failing.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.groupmind/groupmind.db"

// DefaultCandidateCap bounds the semantic-search candidate scan.
const DefaultCandidateCap = 1500

// Message is a single indexed group-chat message.
// Keyed by (ConversationID, MessageID); re-indexing the same key overwrites.
type Message struct {
	ConversationID  string    `json:"conversation_id"`
	MessageID       int64     `json:"message_id"`
	SenderID        string    `json:"sender_id"`
	SenderName      string    `json:"sender_name,omitempty"`
	Username        string    `json:"username,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	Text            string    `json:"text"`
	IsReply         bool      `json:"is_reply,omitempty"`
	ReplyToSenderID string    `json:"reply_to_sender_id,omitempty"`
}

// Embedding is an opaque vector for one message, tagged with the model
// that produced it. At most one per message key.
type Embedding struct {
	ConversationID string
	MessageID      int64
	Vector         []float32
	ModelTag       string
	CreatedAt      time.Time
}

// Candidate pairs a message with its stored vector for semantic scans.
type Candidate struct {
	Message Message
	Vector  []float32
}

// Fact is a structured record extracted from one message. Immutable once
// saved; removed only by retention. Empty strings mean "not extracted".
type Fact struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	MessageID      int64     `json:"message_id"`
	SenderID       string    `json:"sender_id"`
	FactType       string    `json:"fact_type"`
	Subject        string    `json:"subject,omitempty"`
	Date           string    `json:"date,omitempty"`
	Time           string    `json:"time,omitempty"`
	Location       string    `json:"location,omitempty"`
	Responsible    string    `json:"responsible,omitempty"`
	Deadline       string    `json:"deadline,omitempty"`
	Details        string    `json:"details,omitempty"`
	Confidence     float64   `json:"confidence"`
	CreatedAt      time.Time `json:"created_at"`
}

// Stats holds observability counters for the store.
type Stats struct {
	MessageCount   int64 `json:"message_count"`
	EmbeddingCount int64 `json:"embedding_count"`
	FactCount      int64 `json:"fact_count"`
	DBSizeBytes    int64 `json:"db_size_bytes,omitempty"`
}

// Config holds configuration for Open.
type Config struct {
	DBPath       string
	CandidateCap int
}

// Store defines the storage interface for the knowledge engine.
type Store interface {
	// Messages
	IndexMessage(ctx context.Context, m *Message) error
	RecentMessages(ctx context.Context, conversationID string, maxAgeDays, limit int) ([]*Message, error)
	LexicalSearch(ctx context.Context, conversationID string, tokens []string, maxAgeDays, limit int) ([]*Message, error)

	// Embeddings
	PutEmbedding(ctx context.Context, conversationID string, messageID int64, vector []float32, modelTag string) error
	GetEmbedding(ctx context.Context, conversationID string, messageID int64) ([]float32, error)
	EmbeddingCandidates(ctx context.Context, conversationID string, maxAgeDays, cap int) ([]*Candidate, error)

	// Facts
	SaveFact(ctx context.Context, f *Fact) (int64, error)
	QueryFacts(ctx context.Context, conversationID, factType string, maxAgeDays, limit int) ([]*Fact, error)
	DatedFacts(ctx context.Context, conversationID string, factTypes []string, maxAgeDays int) ([]*Fact, error)

	// Retention. Each collection is purged against its own clock:
	// messages by message timestamp, embeddings and facts by creation time.
	PurgeMessagesBefore(ctx context.Context, conversationID string, cutoff time.Time) (int64, error)
	PurgeEmbeddingsBefore(ctx context.Context, conversationID string, cutoff time.Time) (int64, error)
	PurgeFactsBefore(ctx context.Context, conversationID string, cutoff time.Time) (int64, error)

	// Observability
	Stats(ctx context.Context) (*Stats, error)

	Close() error
}

// StorageError wraps an I/O failure on any of the three collections.
// Callers that need per-row isolation check for it with errors.As.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// SQLiteStore implements Store on a single SQLite database.
type SQLiteStore struct {
	db           *sql.DB
	dbPath       string
	candidateCap int
}

// Open creates a new SQLite-backed Store.
// Pass ":memory:" for in-memory databases (testing).
func Open(cfg Config) (*SQLiteStore, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = expandPath(DefaultDBPath)
	}
	if cfg.CandidateCap <= 0 {
		cfg.CandidateCap = DefaultCandidateCap
	}

	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// WAL lets retention purges run while messages are being indexed.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{
		db:           db,
		dbPath:       cfg.DBPath,
		candidateCap: cfg.CandidateCap,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for supporting tooling (MCP resources,
// stats queries in tests). Engine code goes through the Store interface.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Stats returns current database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	queries := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM messages", &stats.MessageCount},
		{"SELECT COUNT(*) FROM embeddings", &stats.EmbeddingCount},
		{"SELECT COUNT(*) FROM facts", &stats.FactCount},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, storageErr("querying stats", err)
		}
	}

	// DB size only makes sense for file-based databases.
	if s.dbPath != ":memory:" {
		var pageCount, pageSize int64
		s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
		s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		stats.DBSizeBytes = pageCount * pageSize
	}

	return stats, nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
