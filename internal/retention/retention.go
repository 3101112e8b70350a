// Package retention ages out indexed knowledge. Messages are judged by when
// they were sent; embeddings and facts by when they were stored. Purging is
// idempotent, so overlapping runs are harmless.
package retention

import (
	"context"
	"fmt"
	"time"
)

// DefaultRetentionDays keeps roughly a season of group history.
const DefaultRetentionDays = 90

// Purger is the slice of the store the manager needs.
type Purger interface {
	PurgeMessagesBefore(ctx context.Context, conversationID string, cutoff time.Time) (int64, error)
	PurgeEmbeddingsBefore(ctx context.Context, conversationID string, cutoff time.Time) (int64, error)
	PurgeFactsBefore(ctx context.Context, conversationID string, cutoff time.Time) (int64, error)
}

// Result counts what a purge removed from each table.
type Result struct {
	Messages   int64
	Embeddings int64
	Facts      int64
}

// Total returns the number of rows removed across all tables.
func (r Result) Total() int64 {
	return r.Messages + r.Embeddings + r.Facts
}

// Manager applies the retention window to the store.
type Manager struct {
	store         Purger
	retentionDays int
}

// New creates a retention manager. Non-positive retentionDays falls back to
// DefaultRetentionDays.
func New(s Purger, retentionDays int) *Manager {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Manager{store: s, retentionDays: retentionDays}
}

// RetentionDays reports the active window.
func (m *Manager) RetentionDays() int {
	return m.retentionDays
}

// Purge removes everything older than the retention window. An empty
// conversationID purges all conversations. On error the returned Result
// holds the counts of whatever completed before the failure.
func (m *Manager) Purge(ctx context.Context, conversationID string) (Result, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -m.retentionDays)
	return m.PurgeBefore(ctx, conversationID, cutoff)
}

// PurgeBefore removes everything strictly older than cutoff.
func (m *Manager) PurgeBefore(ctx context.Context, conversationID string, cutoff time.Time) (Result, error) {
	var res Result
	var err error

	res.Messages, err = m.store.PurgeMessagesBefore(ctx, conversationID, cutoff)
	if err != nil {
		return res, fmt.Errorf("purging messages: %w", err)
	}
	res.Embeddings, err = m.store.PurgeEmbeddingsBefore(ctx, conversationID, cutoff)
	if err != nil {
		return res, fmt.Errorf("purging embeddings: %w", err)
	}
	res.Facts, err = m.store.PurgeFactsBefore(ctx, conversationID, cutoff)
	if err != nil {
		return res, fmt.Errorf("purging facts: %w", err)
	}
	return res, nil
}
