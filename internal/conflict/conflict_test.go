package conflict

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/groupmind/groupmind/internal/store"
)

type fakeFacts struct {
	facts []*store.Fact
	err   error
}

func (f *fakeFacts) DatedFacts(ctx context.Context, conversationID string, factTypes []string, maxAgeDays int) ([]*store.Fact, error) {
	return f.facts, f.err
}

func fact(id int64, factType, subject, date string) *store.Fact {
	return &store.Fact{
		ID:             id,
		ConversationID: "conv1",
		MessageID:      id,
		FactType:       factType,
		Subject:        subject,
		Date:           date,
		Confidence:     0.65,
		CreatedAt:      time.Now().UTC().Add(-time.Duration(id) * time.Minute),
	}
}

func TestDetectDateDisagreement(t *testing.T) {
	d := New(&fakeFacts{facts: []*store.Fact{
		fact(1, "rehearsal", "Репетиція в Кірсі", "10.05"),
		fact(2, "rehearsal", "Репетиція в Кірсі", "11.05"),
		fact(3, "performance", "Концерт", "01.06"),
	}})

	conflicts, err := d.Detect(context.Background(), "conv1", 30)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(conflicts))
	}

	c := conflicts[0]
	if c.Subject != "репетиція в кірсі" {
		t.Errorf("unexpected subject %q", c.Subject)
	}
	if len(c.Dates) != 2 || c.Dates[0] != "10.05" || c.Dates[1] != "11.05" {
		t.Errorf("expected dates [10.05 11.05], got %v", c.Dates)
	}
	if len(c.Facts) != 2 {
		t.Errorf("expected 2 member facts, got %d", len(c.Facts))
	}
}

func TestDetectGroupsCaseInsensitively(t *testing.T) {
	d := New(&fakeFacts{facts: []*store.Fact{
		fact(1, "performance", "Концерт", "01.06"),
		fact(2, "performance", "КОНЦЕРТ", "02.06"),
		fact(3, "performance", "  концерт  ", "01.06"),
	}})

	conflicts, err := d.Detect(context.Background(), "conv1", 30)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("casing variants must group together, got %d conflicts", len(conflicts))
	}
	if got := len(conflicts[0].Facts); got != 3 {
		t.Errorf("expected all 3 variants in the group, got %d", got)
	}
}

func TestDetectVerbatimDateComparison(t *testing.T) {
	// Same calendar day written two ways still counts as a disagreement.
	d := New(&fakeFacts{facts: []*store.Fact{
		fact(1, "rehearsal", "Репетиція", "10.05"),
		fact(2, "rehearsal", "Репетиція", "10.05.2026"),
	}})

	conflicts, err := d.Detect(context.Background(), "conv1", 30)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("expected verbatim comparison to flag a conflict, got %d", len(conflicts))
	}
}

func TestDetectNoConflictOnAgreement(t *testing.T) {
	d := New(&fakeFacts{facts: []*store.Fact{
		fact(1, "performance", "Концерт", "01.06"),
		fact(2, "performance", "Концерт", "01.06"),
	}})

	conflicts, err := d.Detect(context.Background(), "conv1", 30)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(conflicts) != 0 {
		t.Errorf("agreeing facts must not conflict, got %d", len(conflicts))
	}
}

func TestDetectCapsMemberFacts(t *testing.T) {
	var facts []*store.Fact
	for i := int64(1); i <= 12; i++ {
		facts = append(facts, fact(i, "rehearsal", "Репетиція", fmt.Sprintf("%02d.05", i)))
	}
	d := New(&fakeFacts{facts: facts})

	conflicts, err := d.Detect(context.Background(), "conv1", 30)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(conflicts))
	}
	if got := len(conflicts[0].Facts); got != maxMemberFacts {
		t.Errorf("expected member cap of %d, got %d", maxMemberFacts, got)
	}
	// The newest facts (lowest ids in this fixture, listed first) survive the cap.
	if conflicts[0].Facts[0].ID != 1 {
		t.Errorf("expected newest fact first, got id %d", conflicts[0].Facts[0].ID)
	}
}
