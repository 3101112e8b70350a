package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SaveFact inserts a new extracted fact. Facts are immutable: there is no
// update path, and duplicates from re-ingestion are tolerated (they cite the
// same message and age out together).
func (s *SQLiteStore) SaveFact(ctx context.Context, f *Fact) (int64, error) {
	if f.FactType == "" {
		return 0, storageErr("saving fact", fmt.Errorf("empty fact type"))
	}
	if f.Confidence < 0 || f.Confidence > 1 {
		return 0, storageErr("saving fact", fmt.Errorf("confidence %v out of [0,1]", f.Confidence))
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO facts (conversation_id, message_id, sender_id, fact_type, subject,
		                    event_date, event_time, location, responsible, deadline,
		                    details, confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ConversationID, f.MessageID, f.SenderID, f.FactType, f.Subject,
		f.Date, f.Time, f.Location, f.Responsible, f.Deadline,
		f.Details, f.Confidence, now,
	)
	if err != nil {
		return 0, storageErr("inserting fact", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, storageErr("getting fact id", err)
	}

	f.ID = id
	f.CreatedAt = now
	return id, nil
}

// QueryFacts returns facts within the age window, newest first, optionally
// filtered by type.
func (s *SQLiteStore) QueryFacts(ctx context.Context, conversationID, factType string, maxAgeDays, limit int) ([]*Fact, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := ageCutoff(maxAgeDays)

	query := `SELECT id, conversation_id, message_id, sender_id, fact_type, subject,
	                 event_date, event_time, location, responsible, deadline,
	                 details, confidence, created_at
	          FROM facts
	          WHERE conversation_id = ? AND created_at >= ?`
	args := []interface{}{conversationID, cutoff}

	if factType != "" {
		query += " AND fact_type = ?"
		args = append(args, factType)
	}

	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("querying facts", err)
	}
	defer rows.Close()

	return scanFacts(rows)
}

// DatedFacts returns facts of the given types that carry both a subject and
// a date, newest first. This is the conflict detector's pre-filter: facts
// with no date can never disagree on one and are excluded here.
func (s *SQLiteStore) DatedFacts(ctx context.Context, conversationID string, factTypes []string, maxAgeDays int) ([]*Fact, error) {
	if len(factTypes) == 0 {
		return nil, nil
	}
	cutoff := ageCutoff(maxAgeDays)

	placeholders := make([]string, len(factTypes))
	args := []interface{}{conversationID, cutoff}
	for i, ft := range factTypes {
		placeholders[i] = "?"
		args = append(args, ft)
	}

	query := fmt.Sprintf(
		`SELECT id, conversation_id, message_id, sender_id, fact_type, subject,
		        event_date, event_time, location, responsible, deadline,
		        details, confidence, created_at
		 FROM facts
		 WHERE conversation_id = ? AND created_at >= ?
		   AND fact_type IN (%s)
		   AND subject != '' AND event_date != ''
		 ORDER BY created_at DESC, id DESC`,
		strings.Join(placeholders, ","),
	)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("querying dated facts", err)
	}
	defer rows.Close()

	return scanFacts(rows)
}

func scanFacts(rows *sql.Rows) ([]*Fact, error) {
	var facts []*Fact
	for rows.Next() {
		f := &Fact{}
		if err := rows.Scan(&f.ID, &f.ConversationID, &f.MessageID, &f.SenderID,
			&f.FactType, &f.Subject, &f.Date, &f.Time, &f.Location,
			&f.Responsible, &f.Deadline, &f.Details, &f.Confidence, &f.CreatedAt); err != nil {
			return nil, storageErr("scanning fact row", err)
		}
		f.CreatedAt = f.CreatedAt.UTC()
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("reading fact rows", err)
	}
	return facts, nil
}
