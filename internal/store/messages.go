package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"
)

// IndexMessage upserts a message keyed by (conversation_id, message_id).
// Re-indexing the same key overwrites all fields, which makes ingestion
// idempotent and lets edited messages replace their earlier text.
func (s *SQLiteStore) IndexMessage(ctx context.Context, m *Message) error {
	if m.ConversationID == "" {
		return storageErr("indexing message", fmt.Errorf("empty conversation id"))
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, message_id, sender_id, sender_name, username,
		                       message_date, text, is_reply, reply_to_sender_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(conversation_id, message_id) DO UPDATE SET
			sender_id = excluded.sender_id,
			sender_name = excluded.sender_name,
			username = excluded.username,
			message_date = excluded.message_date,
			text = excluded.text,
			is_reply = excluded.is_reply,
			reply_to_sender_id = excluded.reply_to_sender_id,
			indexed_at = CURRENT_TIMESTAMP`,
		m.ConversationID, m.MessageID, m.SenderID, m.SenderName, m.Username,
		m.Timestamp.UTC(), m.Text, boolToInt(m.IsReply), m.ReplyToSenderID,
	)
	if err != nil {
		return storageErr(fmt.Sprintf("indexing message %s/%d", m.ConversationID, m.MessageID), err)
	}
	return nil
}

// RecentMessages returns messages within the age window, newest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, conversationID string, maxAgeDays, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := ageCutoff(maxAgeDays)

	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, message_id, sender_id, sender_name, username,
		        message_date, text, is_reply, reply_to_sender_id
		 FROM messages
		 WHERE conversation_id = ? AND message_date >= ?
		 ORDER BY message_date DESC, message_id DESC
		 LIMIT ?`,
		conversationID, cutoff, limit,
	)
	if err != nil {
		return nil, storageErr("listing recent messages", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// LexicalSearch returns messages whose lowercased text contains ANY of the
// given tokens as a substring, newest first.
func (s *SQLiteStore) LexicalSearch(ctx context.Context, conversationID string, tokens []string, maxAgeDays, limit int) ([]*Message, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	cutoff := ageCutoff(maxAgeDays)

	// OR together one substring test per token. Case-insensitivity beyond ASCII is
	// handled by the search engine, which re-checks matches on the Go side;
	// the SQL pass is a recall filter.
	var clauses []string
	args := []interface{}{conversationID, cutoff}
	for _, tok := range tokens {
		clauses = append(clauses, "instr(lower_text, ?) > 0")
		args = append(args, strings.ToLower(tok))
	}
	args = append(args, limit)

	query := fmt.Sprintf(
		`SELECT conversation_id, message_id, sender_id, sender_name, username,
		        message_date, text, is_reply, reply_to_sender_id
		 FROM (
			SELECT *, LOWER(text) AS lower_text FROM messages
			WHERE conversation_id = ? AND message_date >= ?
		 )
		 WHERE %s
		 ORDER BY message_date DESC, message_id DESC
		 LIMIT ?`,
		strings.Join(clauses, " OR "),
	)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("lexical search", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	// SQLite's LOWER folds ASCII only, so the SQL pass misses rows whose
	// casing differs in Cyrillic. Union its hits with a Go-filtered recent
	// window, where strings.ToLower folds the full range.
	window, err := s.RecentMessages(ctx, conversationID, maxAgeDays, limit*4)
	if err != nil {
		return nil, err
	}

	merged := mergeMessages(filterByTokens(msgs, tokens), filterByTokens(window, tokens))
	sort.Slice(merged, func(i, j int) bool {
		if !merged[i].Timestamp.Equal(merged[j].Timestamp) {
			return merged[i].Timestamp.After(merged[j].Timestamp)
		}
		return merged[i].MessageID > merged[j].MessageID
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// mergeMessages unions message lists, dropping duplicate message ids. All
// inputs come from a single conversation, so the id alone is the key.
func mergeMessages(lists ...[]*Message) []*Message {
	seen := make(map[int64]bool)
	var out []*Message
	for _, list := range lists {
		for _, m := range list {
			if seen[m.MessageID] {
				continue
			}
			seen[m.MessageID] = true
			out = append(out, m)
		}
	}
	return out
}

// filterByTokens keeps messages whose Unicode-lowercased text contains any token.
func filterByTokens(msgs []*Message, tokens []string) []*Message {
	lowered := make([]string, len(tokens))
	for i, t := range tokens {
		lowered[i] = strings.ToLower(t)
	}

	var out []*Message
	for _, m := range msgs {
		text := strings.ToLower(m.Text)
		for _, tok := range lowered {
			if tok != "" && strings.Contains(text, tok) {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

// PurgeMessagesBefore deletes messages strictly older than cutoff, judged by
// the message's own timestamp (not when it was indexed).
func (s *SQLiteStore) PurgeMessagesBefore(ctx context.Context, conversationID string, cutoff time.Time) (int64, error) {
	return s.purgeBefore(ctx, "messages", "message_date", conversationID, cutoff)
}

// PurgeEmbeddingsBefore deletes embeddings created strictly before cutoff.
func (s *SQLiteStore) PurgeEmbeddingsBefore(ctx context.Context, conversationID string, cutoff time.Time) (int64, error) {
	return s.purgeBefore(ctx, "embeddings", "created_at", conversationID, cutoff)
}

// PurgeFactsBefore deletes facts created strictly before cutoff.
func (s *SQLiteStore) PurgeFactsBefore(ctx context.Context, conversationID string, cutoff time.Time) (int64, error) {
	return s.purgeBefore(ctx, "facts", "created_at", conversationID, cutoff)
}

func (s *SQLiteStore) purgeBefore(ctx context.Context, table, column, conversationID string, cutoff time.Time) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s < ?", table, column)
	args := []interface{}{cutoff.UTC()}
	if conversationID != "" {
		query += " AND conversation_id = ?"
		args = append(args, conversationID)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, storageErr(fmt.Sprintf("purging %s", table), err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, storageErr(fmt.Sprintf("purging %s", table), err)
	}
	return n, nil
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	var msgs []*Message
	for rows.Next() {
		m := &Message{}
		var isReply int
		if err := rows.Scan(&m.ConversationID, &m.MessageID, &m.SenderID, &m.SenderName,
			&m.Username, &m.Timestamp, &m.Text, &isReply, &m.ReplyToSenderID); err != nil {
			return nil, storageErr("scanning message row", err)
		}
		m.IsReply = isReply != 0
		m.Timestamp = m.Timestamp.UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("reading message rows", err)
	}
	return msgs, nil
}

// ageCutoff converts a day window into an absolute UTC cutoff.
// Non-positive windows mean "no lower bound".
func ageCutoff(maxAgeDays int) time.Time {
	if maxAgeDays <= 0 {
		return time.Time{}
	}
	return time.Now().UTC().AddDate(0, 0, -maxAgeDays)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
