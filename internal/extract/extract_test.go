package extract

import (
	"strings"
	"testing"
)

func TestExtractRehearsal(t *testing.T) {
	e := New()
	facts := e.Extract("Репетиція 10.05 о 18:00 в Кірсі")
	if len(facts) != 1 {
		t.Fatalf("expected 1 fact, got %d", len(facts))
	}

	f := facts[0]
	if f.FactType != "rehearsal" {
		t.Errorf("expected rehearsal, got %q", f.FactType)
	}
	if f.Date != "10.05" {
		t.Errorf("expected date 10.05, got %q", f.Date)
	}
	if f.Time != "18:00" {
		t.Errorf("expected time 18:00, got %q", f.Time)
	}
	if f.Location != "Кірсі" {
		t.Errorf("expected location Кірсі, got %q", f.Location)
	}
	if f.Confidence != DefaultConfidence {
		t.Errorf("expected confidence %v, got %v", DefaultConfidence, f.Confidence)
	}
	if f.Subject != "Репетиція 10.05 о 18:00 в Кірсі" {
		t.Errorf("unexpected subject %q", f.Subject)
	}
}

func TestExtractMultipleTypesInOrder(t *testing.T) {
	e := New()
	facts := e.Extract("Вирішили перенести концерт на 12.06")
	if len(facts) != 2 {
		t.Fatalf("expected 2 facts (decision + performance), got %d", len(facts))
	}
	if facts[0].FactType != "decision" || facts[1].FactType != "performance" {
		t.Errorf("expected [decision performance], got [%s %s]", facts[0].FactType, facts[1].FactType)
	}
	for _, f := range facts {
		if f.Date != "12.06" {
			t.Errorf("shared date missing on %s fact: %q", f.FactType, f.Date)
		}
	}
}

func TestExtractTaskDeadline(t *testing.T) {
	e := New()
	facts := e.Extract("Треба здати ноти до 15.06")
	if len(facts) != 1 {
		t.Fatalf("expected 1 fact, got %d", len(facts))
	}
	f := facts[0]
	if f.FactType != "task" {
		t.Fatalf("expected task, got %q", f.FactType)
	}
	if f.Deadline != "15.06" {
		t.Errorf("task deadline should mirror the date, got %q", f.Deadline)
	}
}

func TestExtractGermanTriggers(t *testing.T) {
	e := New()

	facts := e.Extract("Chorprobe am Freitag um 19:30")
	if len(facts) != 1 || facts[0].FactType != "rehearsal" {
		t.Fatalf("expected rehearsal for Chorprobe, got %+v", facts)
	}
	if facts[0].Time != "19:30" {
		t.Errorf("expected time 19:30, got %q", facts[0].Time)
	}

	facts = e.Extract("Konzert in der Stadthalle")
	if len(facts) != 1 || facts[0].FactType != "performance" {
		t.Fatalf("expected performance for Konzert, got %+v", facts)
	}
}

func TestExtractResponsible(t *testing.T) {
	e := New()
	facts := e.Extract("Оголошення: відповідальна Олена за квитки")
	if len(facts) != 1 {
		t.Fatalf("expected 1 fact, got %d", len(facts))
	}
	if facts[0].Responsible != "Олена" {
		t.Errorf("expected responsible Олена, got %q", facts[0].Responsible)
	}
}

func TestExtractWordBoundaries(t *testing.T) {
	e := New()

	// "буду" embedded in a longer word must not read as a confirmation.
	if facts := e.Extract("ми збудуємо нову сцену"); len(facts) != 0 {
		t.Errorf("embedded trigger matched: %+v", facts)
	}

	// Standalone "буду" does.
	facts := e.Extract("я буду о 19:00")
	if len(facts) != 1 || facts[0].FactType != "confirmation" {
		t.Fatalf("expected confirmation, got %+v", facts)
	}
}

func TestExtractNothingFromChitChat(t *testing.T) {
	e := New()
	for _, text := range []string{
		"",
		"   ",
		"привіт, як справи?",
		"дякую всім!",
	} {
		if facts := e.Extract(text); len(facts) != 0 {
			t.Errorf("expected no facts from %q, got %d", text, len(facts))
		}
	}
}

func TestExtractTruncatesSubjectAndDetails(t *testing.T) {
	e := New()
	long := "Увага! " + strings.Repeat("дуже важлива інформація ", 30)
	facts := e.Extract(long)
	if len(facts) != 1 {
		t.Fatalf("expected 1 fact, got %d", len(facts))
	}

	f := facts[0]
	if n := len([]rune(f.Subject)); n != maxSubjectRunes {
		t.Errorf("expected subject capped at %d runes, got %d", maxSubjectRunes, n)
	}
	if n := len([]rune(f.Details)); n != maxDetailsRunes {
		t.Errorf("expected details capped at %d runes, got %d", maxDetailsRunes, n)
	}
}
