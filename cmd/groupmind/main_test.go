package main

import "testing"

func TestParseFlagsValuesAndPositionals(t *testing.T) {
	f, err := parseFlags([]string{
		"коли", "репетиція",
		"--db", "/tmp/g.db",
		"--conversation=-100123",
		"--days", "14",
		"--limit=5",
		"--type", "rehearsal",
		"--json",
	})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if len(f.args) != 2 || f.args[0] != "коли" || f.args[1] != "репетиція" {
		t.Errorf("unexpected positionals: %v", f.args)
	}
	if f.opts.CLIDBPath != "/tmp/g.db" {
		t.Errorf("unexpected db path: %q", f.opts.CLIDBPath)
	}
	if f.opts.CLIConversation != "-100123" {
		t.Errorf("unexpected conversation: %q", f.opts.CLIConversation)
	}
	if f.days != 14 || f.limit != 5 {
		t.Errorf("unexpected days/limit: %d/%d", f.days, f.limit)
	}
	if f.factType != "rehearsal" || !f.asJSON {
		t.Errorf("unexpected type/json: %q/%v", f.factType, f.asJSON)
	}
}

func TestParseFlagsDefaults(t *testing.T) {
	f, err := parseFlags(nil)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if f.daysOr(30) != 30 || f.limitOr(10) != 10 {
		t.Errorf("fallbacks not applied: %d/%d", f.daysOr(30), f.limitOr(10))
	}
}

func TestParseFlagsRejectsUnknownFlag(t *testing.T) {
	if _, err := parseFlags([]string{"--bogus"}); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestParseFlagsRejectsBadNumbers(t *testing.T) {
	for _, args := range [][]string{
		{"--days", "zero"},
		{"--limit=-3"},
		{"--days"},
	} {
		if _, err := parseFlags(args); err == nil {
			t.Errorf("expected error for %v", args)
		}
	}
}
