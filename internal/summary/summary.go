// Package summary builds structured, cited digests of a conversation window.
//
// A summary never asserts more than the index supports: every claim section
// is backed by source citations, open date conflicts are surfaced as caveats,
// and the whole digest carries a confidence label derived from how much data
// it stands on.
package summary

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/groupmind/groupmind/internal/conflict"
	"github.com/groupmind/groupmind/internal/store"
)

// Confidence grades how well-supported a summary is.
type Confidence string

const (
	High   Confidence = "high"
	Medium Confidence = "medium"
	Low    Confidence = "low"
)

const (
	messageSample = 200
	factSample    = 120

	maxHighlights      = 4
	maxPrioritySources = 4
	maxSources         = 12
	maxCaveatConflicts = 3
	snippetLimit       = 160

	// sparseThreshold marks windows with too few messages to trust.
	sparseThreshold = 5
)

// Source cites one message or fact the summary is based on.
type Source struct {
	Timestamp string
	Author    string
	MessageID int64
	Snippet   string
	Priority  bool // sent by the priority speaker
}

// Summary is a digest of one conversation window.
type Summary struct {
	Title          string
	ConversationID string
	WindowDays     int

	MessageCount   int
	FactCount      int
	FactTypeCounts map[string]int
	Highlights     []*store.Fact

	Sources    []Source
	Caveats    []string
	Confidence Confidence
}

// DataSource is the slice of the store the builder needs.
type DataSource interface {
	RecentMessages(ctx context.Context, conversationID string, maxAgeDays, limit int) ([]*store.Message, error)
	QueryFacts(ctx context.Context, conversationID, factType string, maxAgeDays, limit int) ([]*store.Fact, error)
}

// ConflictSource reports date disagreements for the caveat section.
type ConflictSource interface {
	Detect(ctx context.Context, conversationID string, maxAgeDays int) ([]*conflict.Conflict, error)
}

// Builder assembles summaries.
type Builder struct {
	store          DataSource
	conflicts      ConflictSource
	priorityUserID string
}

// New creates a summary builder. conflicts may be nil, in which case the
// caveat section skips conflict reporting. priorityUserID marks the speaker
// whose citations are listed first.
func New(s DataSource, c ConflictSource, priorityUserID string) *Builder {
	return &Builder{store: s, conflicts: c, priorityUserID: priorityUserID}
}

// Build summarizes the last windowDays of a conversation.
func (b *Builder) Build(ctx context.Context, title, conversationID string, windowDays int) (*Summary, error) {
	if windowDays <= 0 {
		windowDays = 7
	}

	msgs, err := b.store.RecentMessages(ctx, conversationID, windowDays, messageSample)
	if err != nil {
		return nil, fmt.Errorf("loading messages for summary: %w", err)
	}
	facts, err := b.store.QueryFacts(ctx, conversationID, "", windowDays, factSample)
	if err != nil {
		return nil, fmt.Errorf("loading facts for summary: %w", err)
	}

	s := &Summary{
		Title:          title,
		ConversationID: conversationID,
		WindowDays:     windowDays,
		MessageCount:   len(msgs),
		FactCount:      len(facts),
		FactTypeCounts: countFactTypes(facts),
	}

	if len(msgs) == 0 && len(facts) == 0 {
		s.Confidence = Low
		s.Caveats = []string{"no indexed messages or facts in this window; nothing to summarize"}
		return s, nil
	}

	if len(facts) > maxHighlights {
		s.Highlights = facts[:maxHighlights]
	} else {
		s.Highlights = facts
	}

	s.Sources = b.collectSources(msgs, facts)

	conflicts := b.detectConflicts(ctx, conversationID, windowDays, s)
	s.Caveats = append(s.Caveats, conflictCaveats(conflicts)...)
	if len(msgs) < sparseThreshold {
		s.Caveats = append(s.Caveats, "few messages in this window; the picture may be incomplete")
	}

	s.Confidence = Label(len(msgs), len(facts), len(conflicts))
	return s, nil
}

// detectConflicts is best-effort: a summary without a conflict check is still
// useful, it just says so.
func (b *Builder) detectConflicts(ctx context.Context, conversationID string, windowDays int, s *Summary) []*conflict.Conflict {
	if b.conflicts == nil {
		return nil
	}
	// Conflicts look back at least a week, even for day summaries, so that a
	// date announced last Monday still clashes with today's correction.
	lookback := windowDays
	if lookback < 7 {
		lookback = 7
	}
	conflicts, err := b.conflicts.Detect(ctx, conversationID, lookback)
	if err != nil {
		s.Caveats = append(s.Caveats, "conflict check unavailable for this summary")
		return nil
	}
	return conflicts
}

// collectSources cites messages and facts, one citation per message, with the
// priority speaker's citations first.
func (b *Builder) collectSources(msgs []*store.Message, facts []*store.Fact) []Source {
	seen := make(map[int64]bool)
	var priority, regular []Source

	for _, m := range msgs {
		if seen[m.MessageID] {
			continue
		}
		seen[m.MessageID] = true
		src := Source{
			Timestamp: m.Timestamp.Format("2006-01-02 15:04"),
			Author:    authorName(m),
			MessageID: m.MessageID,
			Snippet:   clip(m.Text, snippetLimit),
			Priority:  b.priorityUserID != "" && m.SenderID == b.priorityUserID,
		}
		if src.Priority {
			if len(priority) < maxPrioritySources {
				priority = append(priority, src)
			}
			continue
		}
		if len(regular) < maxSources {
			regular = append(regular, src)
		}
	}

	for _, f := range facts {
		if seen[f.MessageID] || len(regular) >= maxSources {
			continue
		}
		seen[f.MessageID] = true
		regular = append(regular, Source{
			Timestamp: f.CreatedAt.Format("2006-01-02 15:04"),
			Author:    f.SenderID,
			MessageID: f.MessageID,
			Snippet:   clip(f.Details, snippetLimit),
			Priority:  b.priorityUserID != "" && f.SenderID == b.priorityUserID,
		})
	}

	sources := append(priority, regular...)
	if len(sources) > maxSources {
		sources = sources[:maxSources]
	}
	return sources
}

// Label converts data volume into a confidence grade. Volume earns points,
// open conflicts cost one, and the thresholds map points to grades.
func Label(messageCount, factCount, conflictCount int) Confidence {
	score := 0
	switch {
	case messageCount >= 30:
		score += 2
	case messageCount >= 10:
		score++
	}
	switch {
	case factCount >= 8:
		score += 2
	case factCount >= 3:
		score++
	}
	if conflictCount > 0 {
		score--
	}

	switch {
	case score >= 4:
		return High
	case score >= 2:
		return Medium
	default:
		return Low
	}
}

// Render formats the summary as sectioned plain text.
func (s *Summary) Render() string {
	var sb strings.Builder
	sb.WriteString(s.Title)
	sb.WriteString("\n\nWhat is known:\n")
	fmt.Fprintf(&sb, "- Messages analyzed: %d\n", s.MessageCount)
	fmt.Fprintf(&sb, "- Facts extracted: %d\n", s.FactCount)
	if len(s.FactTypeCounts) > 0 {
		fmt.Fprintf(&sb, "- Fact types: %s\n", formatTypeCounts(s.FactTypeCounts))
	}
	for _, f := range s.Highlights {
		date := f.Date
		if date == "" {
			date = f.CreatedAt.Format("2006-01-02")
		}
		fmt.Fprintf(&sb, "- %s: %s | %s (msg %d)\n", f.FactType, date, clip(f.Subject, 100), f.MessageID)
	}

	sb.WriteString("\nBased on:\n")
	if len(s.Sources) == 0 {
		sb.WriteString("- no relevant sources in the local index\n")
	}
	for _, src := range s.Sources {
		label := "Source"
		if src.Priority {
			label = "Source (leader)"
		}
		fmt.Fprintf(&sb, "- %s: %s, %s, msg %d: %s\n", label, src.Timestamp, src.Author, src.MessageID, src.Snippet)
	}

	sb.WriteString("\nUnconfirmed:\n")
	if len(s.Caveats) == 0 {
		sb.WriteString("- no open date conflicts in the stored facts\n")
	}
	for _, c := range s.Caveats {
		fmt.Fprintf(&sb, "- %s\n", c)
	}

	fmt.Fprintf(&sb, "\nConfidence: %s\n", s.Confidence)
	return sb.String()
}

func conflictCaveats(conflicts []*conflict.Conflict) []string {
	var caveats []string
	for i, c := range conflicts {
		if i >= maxCaveatConflicts {
			break
		}
		caveats = append(caveats, fmt.Sprintf(
			"conflicting dates for %q: %s", c.Subject, strings.Join(c.Dates, ", ")))
	}
	return caveats
}

func countFactTypes(facts []*store.Fact) map[string]int {
	if len(facts) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, f := range facts {
		counts[f.FactType]++
	}
	return counts
}

func formatTypeCounts(counts map[string]int) string {
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = fmt.Sprintf("%s=%d", t, counts[t])
	}
	return strings.Join(parts, ", ")
}

func authorName(m *store.Message) string {
	if m.SenderName != "" {
		return m.SenderName
	}
	if m.Username != "" {
		return m.Username
	}
	return m.SenderID
}

var whitespaceRE = regexp.MustCompile(`\s+`)

// clip collapses whitespace and truncates to limit runes.
func clip(text string, limit int) string {
	v := strings.TrimSpace(whitespaceRE.ReplaceAllString(text, " "))
	runes := []rune(v)
	if len(runes) <= limit {
		return v
	}
	return string(runes[:limit-3]) + "..."
}
