package store

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// newTestStore creates an in-memory store for testing.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testMessage(conv string, id int64, text string, age time.Duration) *Message {
	return &Message{
		ConversationID: conv,
		MessageID:      id,
		SenderID:       "u1",
		SenderName:     "Olena K",
		Username:       "olena",
		Timestamp:      time.Now().UTC().Add(-age),
		Text:           text,
	}
}

// --- Schema ---

func TestOpenCreatesSchema(t *testing.T) {
	s := newTestStore(t)

	tables := []string{"messages", "embeddings", "facts", "meta"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}

	var version string
	s.db.QueryRow("SELECT value FROM meta WHERE key = 'schema_version'").Scan(&version)
	if version != schemaVersion {
		t.Errorf("expected schema_version %q, got %q", schemaVersion, version)
	}
}

// --- Messages ---

func TestIndexMessageUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := testMessage("conv1", 42, "перша версія", time.Hour)
	if err := s.IndexMessage(ctx, m); err != nil {
		t.Fatalf("IndexMessage failed: %v", err)
	}

	// Re-index the same key with different text (edit).
	m2 := testMessage("conv1", 42, "відредагований текст", time.Hour)
	m2.SenderName = "Olena Kovalenko"
	if err := s.IndexMessage(ctx, m2); err != nil {
		t.Fatalf("re-index failed: %v", err)
	}

	var count int
	s.db.QueryRow("SELECT COUNT(*) FROM messages").Scan(&count)
	if count != 1 {
		t.Fatalf("expected exactly 1 row after upsert, got %d", count)
	}

	msgs, err := s.RecentMessages(ctx, "conv1", 30, 10)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Text != "відредагований текст" {
		t.Errorf("upsert did not overwrite text: got %q", msgs[0].Text)
	}
	if msgs[0].SenderName != "Olena Kovalenko" {
		t.Errorf("upsert did not overwrite sender name: got %q", msgs[0].SenderName)
	}
}

func TestIndexMessageRequiresConversation(t *testing.T) {
	s := newTestStore(t)
	err := s.IndexMessage(context.Background(), &Message{MessageID: 1, Timestamp: time.Now()})
	if err == nil {
		t.Fatal("expected error for empty conversation id")
	}
}

func TestRecentMessagesOrderAndWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, age := range []time.Duration{72 * time.Hour, time.Hour, 24 * time.Hour} {
		if err := s.IndexMessage(ctx, testMessage("conv1", int64(i+1), fmt.Sprintf("msg %d", i+1), age)); err != nil {
			t.Fatalf("index: %v", err)
		}
	}
	// Outside the window.
	if err := s.IndexMessage(ctx, testMessage("conv1", 99, "ancient", 40*24*time.Hour)); err != nil {
		t.Fatalf("index: %v", err)
	}
	// Other conversation.
	if err := s.IndexMessage(ctx, testMessage("conv2", 1, "elsewhere", time.Hour)); err != nil {
		t.Fatalf("index: %v", err)
	}

	msgs, err := s.RecentMessages(ctx, "conv1", 30, 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages in window, got %d", len(msgs))
	}
	if msgs[0].MessageID != 2 || msgs[1].MessageID != 3 || msgs[2].MessageID != 1 {
		t.Errorf("expected newest-first order [2 3 1], got [%d %d %d]",
			msgs[0].MessageID, msgs[1].MessageID, msgs[2].MessageID)
	}
}

func TestLexicalSearchCyrillic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.IndexMessage(ctx, testMessage("conv1", 1, "Репетиція завтра о 18:00", time.Hour))
	s.IndexMessage(ctx, testMessage("conv1", 2, "хто йде на каву?", 2*time.Hour))
	s.IndexMessage(ctx, testMessage("conv1", 3, "РЕПЕТИЦІЯ перенесена", 3*time.Hour))

	msgs, err := s.LexicalSearch(ctx, "conv1", []string{"репетиці"}, 30, 10)
	if err != nil {
		t.Fatalf("LexicalSearch: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(msgs))
	}
	for _, m := range msgs {
		if m.MessageID == 2 {
			t.Error("unrelated message matched")
		}
	}
}

func TestLexicalSearchMixedCaseCyrillic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// The all-lowercase message matches in SQL; the uppercase one only
	// matches after Go-side folding. Both must come back.
	s.IndexMessage(ctx, testMessage("conv1", 1, "репетиція о 18:00", time.Hour))
	s.IndexMessage(ctx, testMessage("conv1", 2, "РЕПЕТИЦІЯ перенесена", 2*time.Hour))

	msgs, err := s.LexicalSearch(ctx, "conv1", []string{"репетиці"}, 30, 10)
	if err != nil {
		t.Fatalf("LexicalSearch: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected both casings to match, got %d messages", len(msgs))
	}
	if msgs[0].MessageID != 1 || msgs[1].MessageID != 2 {
		t.Errorf("expected newest-first order [1 2], got [%d %d]", msgs[0].MessageID, msgs[1].MessageID)
	}
}

func TestLexicalSearchAnyToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.IndexMessage(ctx, testMessage("conv1", 1, "концерт у суботу", time.Hour))
	s.IndexMessage(ctx, testMessage("conv1", 2, "репетиція у п'ятницю", 2*time.Hour))
	s.IndexMessage(ctx, testMessage("conv1", 3, "обід", 3*time.Hour))

	msgs, err := s.LexicalSearch(ctx, "conv1", []string{"концерт", "репетиція"}, 30, 10)
	if err != nil {
		t.Fatalf("LexicalSearch: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected OR match on 2 messages, got %d", len(msgs))
	}
}

// --- Embeddings ---

func TestPutEmbeddingOverwrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.PutEmbedding(ctx, "conv1", 1, []float32{1, 2, 3}, "model-a"); err != nil {
		t.Fatalf("PutEmbedding: %v", err)
	}
	if err := s.PutEmbedding(ctx, "conv1", 1, []float32{4, 5, 6, 7}, "model-b"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	var count int
	s.db.QueryRow("SELECT COUNT(*) FROM embeddings").Scan(&count)
	if count != 1 {
		t.Fatalf("expected 1 embedding row, got %d", count)
	}

	vec, err := s.GetEmbedding(ctx, "conv1", 1)
	if err != nil {
		t.Fatalf("GetEmbedding: %v", err)
	}
	if len(vec) != 4 || vec[0] != 4 {
		t.Errorf("expected overwritten vector [4 5 6 7], got %v", vec)
	}

	var tag string
	s.db.QueryRow("SELECT model_tag FROM embeddings").Scan(&tag)
	if tag != "model-b" {
		t.Errorf("expected model tag overwritten to model-b, got %q", tag)
	}
}

func TestGetEmbeddingAbsent(t *testing.T) {
	s := newTestStore(t)
	vec, err := s.GetEmbedding(context.Background(), "conv1", 404)
	if err != nil {
		t.Fatalf("absence must not be an error: %v", err)
	}
	if vec != nil {
		t.Errorf("expected nil vector, got %v", vec)
	}
}

func TestEmbeddingCandidatesJoinAndCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		s.IndexMessage(ctx, testMessage("conv1", i, fmt.Sprintf("msg %d", i), time.Duration(i)*time.Hour))
		if i != 3 { // message 3 has no vector (short text / provider failure)
			s.PutEmbedding(ctx, "conv1", i, []float32{float32(i)}, "m")
		}
	}
	// Dangling vector: message purged, vector still present.
	s.PutEmbedding(ctx, "conv1", 999, []float32{9}, "m")

	cands, err := s.EmbeddingCandidates(ctx, "conv1", 30, 0)
	if err != nil {
		t.Fatalf("EmbeddingCandidates: %v", err)
	}
	if len(cands) != 4 {
		t.Fatalf("expected 4 joined candidates, got %d", len(cands))
	}
	if cands[0].Message.MessageID != 1 {
		t.Errorf("expected newest-first, got first id %d", cands[0].Message.MessageID)
	}

	capped, err := s.EmbeddingCandidates(ctx, "conv1", 30, 2)
	if err != nil {
		t.Fatalf("EmbeddingCandidates capped: %v", err)
	}
	if len(capped) != 2 {
		t.Fatalf("expected cap of 2, got %d", len(capped))
	}
}

// --- Facts ---

func TestSaveAndQueryFacts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f := &Fact{
		ConversationID: "conv1",
		MessageID:      1,
		SenderID:       "u1",
		FactType:       "rehearsal",
		Subject:        "Репетиція 10.05",
		Date:           "10.05",
		Time:           "18:00",
		Location:       "Кірха",
		Details:        "Репетиція 10.05 о 18:00 в Кірсі",
		Confidence:     0.65,
	}
	id, err := s.SaveFact(ctx, f)
	if err != nil {
		t.Fatalf("SaveFact: %v", err)
	}
	if id <= 0 {
		t.Fatalf("expected positive id, got %d", id)
	}

	s.SaveFact(ctx, &Fact{ConversationID: "conv1", MessageID: 2, FactType: "decision", Subject: "перенести виступ", Confidence: 0.65})

	all, err := s.QueryFacts(ctx, "conv1", "", 30, 10)
	if err != nil {
		t.Fatalf("QueryFacts: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 facts, got %d", len(all))
	}
	// Newest first: the decision was saved last.
	if all[0].FactType != "decision" {
		t.Errorf("expected newest-first, got %q first", all[0].FactType)
	}

	rehearsals, err := s.QueryFacts(ctx, "conv1", "rehearsal", 30, 10)
	if err != nil {
		t.Fatalf("QueryFacts typed: %v", err)
	}
	if len(rehearsals) != 1 || rehearsals[0].Location != "Кірха" {
		t.Fatalf("type filter broken: %+v", rehearsals)
	}
}

func TestSaveFactValidatesConfidence(t *testing.T) {
	s := newTestStore(t)
	_, err := s.SaveFact(context.Background(), &Fact{ConversationID: "c", FactType: "task", Confidence: 1.5})
	if err == nil {
		t.Fatal("expected error for confidence out of range")
	}
}

func TestDatedFactsFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.SaveFact(ctx, &Fact{ConversationID: "c", MessageID: 1, FactType: "performance", Subject: "Концерт", Date: "01.05", Confidence: 0.65})
	s.SaveFact(ctx, &Fact{ConversationID: "c", MessageID: 2, FactType: "performance", Subject: "Концерт", Confidence: 0.65})        // no date
	s.SaveFact(ctx, &Fact{ConversationID: "c", MessageID: 3, FactType: "task", Subject: "Купити ноти", Date: "02.05", Confidence: 0.65}) // wrong type

	facts, err := s.DatedFacts(ctx, "c", []string{"performance", "rehearsal"}, 30)
	if err != nil {
		t.Fatalf("DatedFacts: %v", err)
	}
	if len(facts) != 1 || facts[0].MessageID != 1 {
		t.Fatalf("expected only the dated performance fact, got %+v", facts)
	}
}

// --- Retention ---

func TestPurgeBoundary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.IndexMessage(ctx, testMessage("conv1", 1, "old enough to purge", 91*24*time.Hour))
	s.IndexMessage(ctx, testMessage("conv1", 2, "still fresh", 89*24*time.Hour))

	cutoff := time.Now().UTC().AddDate(0, 0, -90)
	n, err := s.PurgeMessagesBefore(ctx, "conv1", cutoff)
	if err != nil {
		t.Fatalf("PurgeMessagesBefore: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged message, got %d", n)
	}

	msgs, _ := s.RecentMessages(ctx, "conv1", 0, 10)
	if len(msgs) != 1 || msgs[0].MessageID != 2 {
		t.Fatalf("expected only message 2 to survive, got %+v", msgs)
	}
}

func TestPurgeIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.IndexMessage(ctx, testMessage("conv1", 1, "old", 100*24*time.Hour))
	cutoff := time.Now().UTC().AddDate(0, 0, -90)

	n1, err := s.PurgeMessagesBefore(ctx, "", cutoff)
	if err != nil {
		t.Fatalf("first purge: %v", err)
	}
	if n1 != 1 {
		t.Fatalf("expected 1 deleted, got %d", n1)
	}

	n2, err := s.PurgeMessagesBefore(ctx, "", cutoff)
	if err != nil {
		t.Fatalf("second purge: %v", err)
	}
	if n2 != 0 {
		t.Fatalf("second purge must delete 0 rows, got %d", n2)
	}
}

func TestPurgeScopedToConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.IndexMessage(ctx, testMessage("conv1", 1, "old", 100*24*time.Hour))
	s.IndexMessage(ctx, testMessage("conv2", 1, "old too", 100*24*time.Hour))

	cutoff := time.Now().UTC().AddDate(0, 0, -90)
	n, err := s.PurgeMessagesBefore(ctx, "conv1", cutoff)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted in conv1, got %d", n)
	}

	survivors, _ := s.RecentMessages(ctx, "conv2", 0, 10)
	if len(survivors) != 1 {
		t.Fatal("conv2 rows must be untouched by scoped purge")
	}
}

// --- Stats ---

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.IndexMessage(ctx, testMessage("conv1", 1, "hello there", time.Hour))
	s.PutEmbedding(ctx, "conv1", 1, []float32{1}, "m")
	s.SaveFact(ctx, &Fact{ConversationID: "conv1", MessageID: 1, FactType: "announcement", Confidence: 0.65})

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.MessageCount != 1 || stats.EmbeddingCount != 1 || stats.FactCount != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
