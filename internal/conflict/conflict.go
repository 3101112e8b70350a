// Package conflict finds facts that disagree about when something happens.
//
// Two facts conflict when they describe the same subject but carry different
// dates, for example a rehearsal announced for 10.05 in one message and 11.05
// in another. Detection is deliberately shallow: date strings are compared
// verbatim, so "10.05" and "10.05.2026" count as different dates and surface
// for a human to resolve.
package conflict

import (
	"context"
	"sort"
	"strings"

	"github.com/groupmind/groupmind/internal/store"
)

// EligibleTypes lists the fact types that name a scheduled happening. Other
// types (tasks, confirmations, decisions) carry dates incidentally and are
// not compared.
var EligibleTypes = []string{"event", "performance", "rehearsal", "announcement"}

// maxMemberFacts caps how many citations a single conflict carries.
const maxMemberFacts = 8

// Conflict is a group of facts sharing a subject but not a date.
type Conflict struct {
	Subject string        `json:"subject"` // normalized subject the facts share
	Dates   []string      `json:"dates"`   // distinct dates, newest mention first
	Facts   []*store.Fact `json:"facts"`   // newest facts in the group, capped
}

// FactSource is the slice of the store the detector needs.
type FactSource interface {
	DatedFacts(ctx context.Context, conversationID string, factTypes []string, maxAgeDays int) ([]*store.Fact, error)
}

// Detector groups dated facts by subject and reports date disagreements.
type Detector struct {
	store FactSource
}

func New(s FactSource) *Detector {
	return &Detector{store: s}
}

// Detect returns the conflicts in a conversation, ordered by subject. Facts
// without both a subject and a date never participate; the store filters them
// out before grouping.
func (d *Detector) Detect(ctx context.Context, conversationID string, maxAgeDays int) ([]*Conflict, error) {
	facts, err := d.store.DatedFacts(ctx, conversationID, EligibleTypes, maxAgeDays)
	if err != nil {
		return nil, err
	}

	// Facts arrive newest first, so each group's member order and first-seen
	// date order are already newest first.
	groups := make(map[string][]*store.Fact)
	for _, f := range facts {
		key := NormalizeSubject(f.Subject)
		groups[key] = append(groups[key], f)
	}

	var conflicts []*Conflict
	for subject, members := range groups {
		dates := distinctDates(members)
		if len(dates) < 2 {
			continue
		}
		if len(members) > maxMemberFacts {
			members = members[:maxMemberFacts]
		}
		conflicts = append(conflicts, &Conflict{
			Subject: subject,
			Dates:   dates,
			Facts:   members,
		})
	}

	sort.Slice(conflicts, func(i, j int) bool {
		return conflicts[i].Subject < conflicts[j].Subject
	})
	return conflicts, nil
}

// NormalizeSubject folds a subject for grouping: lowercased, trimmed, inner
// whitespace collapsed to single spaces.
func NormalizeSubject(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func distinctDates(facts []*store.Fact) []string {
	seen := make(map[string]bool)
	var dates []string
	for _, f := range facts {
		if !seen[f.Date] {
			seen[f.Date] = true
			dates = append(dates, f.Date)
		}
	}
	return dates
}
