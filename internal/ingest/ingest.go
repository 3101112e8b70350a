// Package ingest runs the indexing pipeline for incoming group messages:
// store the message, attach an embedding when one can be produced, and save
// whatever facts the extractor finds.
//
// Embedding is strictly best-effort. A provider outage degrades the index to
// lexical-only search; it never blocks indexing.
package ingest

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/groupmind/groupmind/internal/extract"
	"github.com/groupmind/groupmind/internal/store"
)

// minEmbedRunes skips embeddings for near-empty messages ("ok", "+1"),
// which carry no semantic signal worth a provider call.
const minEmbedRunes = 8

// Embedder produces vectors for message text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelTag() string
}

// Writer is the slice of the store the indexer needs.
type Writer interface {
	IndexMessage(ctx context.Context, m *store.Message) error
	PutEmbedding(ctx context.Context, conversationID string, messageID int64, vector []float32, modelTag string) error
	SaveFact(ctx context.Context, f *store.Fact) (int64, error)
}

// Report describes what one message produced.
type Report struct {
	Embedded   bool
	FactsSaved int
}

// BatchReport aggregates a batch run.
type BatchReport struct {
	Indexed    int
	Failed     int
	Embedded   int
	FactsSaved int
}

// Indexer drives the pipeline. A nil embedder disables the embedding step.
type Indexer struct {
	store     Writer
	extractor *extract.Extractor
	embedder  Embedder
}

// New creates an indexer.
func New(w Writer, e *extract.Extractor, emb Embedder) *Indexer {
	return &Indexer{store: w, extractor: e, embedder: emb}
}

// OnMessage indexes a single message. Storage failures are returned; an
// embedding failure only costs the vector.
func (i *Indexer) OnMessage(ctx context.Context, m *store.Message) (Report, error) {
	var rep Report

	if err := i.store.IndexMessage(ctx, m); err != nil {
		return rep, err
	}

	rep.Embedded = i.embedMessage(ctx, m)

	for _, f := range i.extractor.Extract(m.Text) {
		f.ConversationID = m.ConversationID
		f.MessageID = m.MessageID
		f.SenderID = m.SenderID
		if _, err := i.store.SaveFact(ctx, f); err != nil {
			return rep, fmt.Errorf("saving extracted fact: %w", err)
		}
		rep.FactsSaved++
	}

	return rep, nil
}

// OnBatch indexes many messages with per-message isolation: one bad message
// is logged and skipped, the rest still land.
func (i *Indexer) OnBatch(ctx context.Context, msgs []*store.Message) (BatchReport, error) {
	var rep BatchReport
	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		r, err := i.OnMessage(ctx, m)
		if err != nil {
			rep.Failed++
			log.Printf("skipping message %s/%d: %v", m.ConversationID, m.MessageID, err)
			continue
		}
		rep.Indexed++
		rep.FactsSaved += r.FactsSaved
		if r.Embedded {
			rep.Embedded++
		}
	}
	return rep, nil
}

func (i *Indexer) embedMessage(ctx context.Context, m *store.Message) bool {
	if i.embedder == nil {
		return false
	}
	text := strings.TrimSpace(m.Text)
	if len([]rune(text)) < minEmbedRunes {
		return false
	}

	vec, err := i.embedder.Embed(ctx, text)
	if err != nil {
		log.Printf("embedding unavailable for message %s/%d: %v", m.ConversationID, m.MessageID, err)
		return false
	}
	if len(vec) == 0 {
		return false
	}
	if err := i.store.PutEmbedding(ctx, m.ConversationID, m.MessageID, vec, i.embedder.ModelTag()); err != nil {
		log.Printf("storing embedding for message %s/%d: %v", m.ConversationID, m.MessageID, err)
		return false
	}
	return true
}
