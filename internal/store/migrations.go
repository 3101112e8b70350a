package store

import "fmt"

// schemaVersion tracks the bootstrap DDL generation.
const schemaVersion = "1"

// migrate creates all tables if they don't exist and seeds metadata.
func (s *SQLiteStore) migrate() error {
	statements := []string{
		// Indexed group messages. The (conversation_id, message_id) key makes
		// re-ingestion (edits, replays) an overwrite instead of a duplicate.
		`CREATE TABLE IF NOT EXISTS messages (
			conversation_id    TEXT    NOT NULL,
			message_id         INTEGER NOT NULL,
			sender_id          TEXT    NOT NULL,
			sender_name        TEXT    NOT NULL DEFAULT '',
			username           TEXT    NOT NULL DEFAULT '',
			message_date       DATETIME NOT NULL,
			text               TEXT    NOT NULL,
			is_reply           INTEGER NOT NULL DEFAULT 0,
			reply_to_sender_id TEXT    NOT NULL DEFAULT '',
			indexed_at         DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (conversation_id, message_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_messages_conv_date
			ON messages(conversation_id, message_date DESC)`,

		// One vector per message key, little-endian float32 blob.
		// No foreign key to messages: a vector may arrive after its message
		// was purged, and a dangling row is harmless until its own purge.
		`CREATE TABLE IF NOT EXISTS embeddings (
			conversation_id TEXT    NOT NULL,
			message_id      INTEGER NOT NULL,
			vector          BLOB    NOT NULL,
			dimensions      INTEGER NOT NULL,
			model_tag       TEXT    NOT NULL DEFAULT '',
			created_at      DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (conversation_id, message_id)
		)`,

		// Extracted facts. Several facts may cite the same message.
		`CREATE TABLE IF NOT EXISTS facts (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			message_id      INTEGER NOT NULL,
			sender_id       TEXT NOT NULL DEFAULT '',
			fact_type       TEXT NOT NULL,
			subject         TEXT NOT NULL DEFAULT '',
			event_date      TEXT NOT NULL DEFAULT '',
			event_time      TEXT NOT NULL DEFAULT '',
			location        TEXT NOT NULL DEFAULT '',
			responsible     TEXT NOT NULL DEFAULT '',
			deadline        TEXT NOT NULL DEFAULT '',
			details         TEXT NOT NULL DEFAULT '',
			confidence      REAL NOT NULL DEFAULT 0,
			created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_facts_conv_created
			ON facts(conversation_id, created_at DESC)`,

		`CREATE INDEX IF NOT EXISTS idx_facts_conv_type
			ON facts(conversation_id, fact_type)`,

		// Schema metadata
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	if _, err := s.db.Exec(
		`INSERT INTO meta (key, value) VALUES ('schema_version', ?)
		 ON CONFLICT(key) DO NOTHING`, schemaVersion,
	); err != nil {
		return fmt.Errorf("seeding metadata: %w", err)
	}

	return nil
}
