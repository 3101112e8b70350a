// Package extract turns raw group-chat messages into structured facts using
// pattern rules, without an LLM or external API.
//
// A message produces at most one fact per fact type: each type carries a list
// of trigger patterns, and any single pattern match claims the type. Shared
// attributes (date, time, location, responsible person) are pulled from the
// message once and attached to every fact it yields.
package extract

import (
	"regexp"
	"strings"

	"github.com/groupmind/groupmind/internal/store"
)

// DefaultConfidence is assigned to every rule-extracted fact. Pattern matches
// are uniform evidence: a trigger word either fired or it did not, so there is
// no per-fact signal to grade on.
const DefaultConfidence = 0.65

const (
	maxSubjectRunes = 120
	maxDetailsRunes = 400
)

// RE2's \b only understands ASCII word characters, so Cyrillic trigger words
// need explicit Unicode boundaries.
const (
	bL = `(?:^|[^\p{L}\p{N}_])`
	bR = `(?:$|[^\p{L}\p{N}_])`
)

// Rule maps a fact type to the trigger patterns that produce it. Patterns are
// matched against lowercased message text.
type Rule struct {
	FactType string
	patterns []*regexp.Regexp
}

// Extractor detects facts in message text. Rules are applied in order, which
// keeps output deterministic when a message triggers several types.
type Extractor struct {
	rules []Rule

	dateRE        *regexp.Regexp
	timeRE        *regexp.Regexp
	locationRE    *regexp.Regexp
	responsibleRE *regexp.Regexp
}

// New creates an extractor with the built-in rule table. The triggers cover
// the Ukrainian and German vocabulary of choir-group chats: decisions, tasks,
// announcements, performances, rehearsals, and attendance confirmations.
func New() *Extractor {
	return NewWithRules(DefaultRules())
}

// NewWithRules creates an extractor with a custom rule table, typically loaded
// from a rules file via LoadRules.
func NewWithRules(rules []Rule) *Extractor {
	return &Extractor{
		rules: rules,

		dateRE:        regexp.MustCompile(`\b(\d{1,2}[./-]\d{1,2}(?:[./-]\d{2,4})?)\b`),
		timeRE:        regexp.MustCompile(`\b(?:[01]?\d|2[0-3]):[0-5]\d\b`),
		locationRE:    regexp.MustCompile(`(?:в|у|at)\s+([A-ZА-ЯІЇЄҐ][^,.\n]{3,60})`),
		responsibleRE: regexp.MustCompile(`(?i)(?:відповідальн\p{L}*|responsible)\s*[:\-]?\s*(@?[\p{L}\p{N}_]+)`),
	}
}

// DefaultRules returns the built-in rule table.
func DefaultRules() []Rule {
	return []Rule{
		compileRule("decision",
			bL+`вирішили`+bR,
			bL+`рішення`+bR,
			bL+`ухвалили`+bR,
		),
		compileRule("task",
			bL+`треба`+bR,
			bL+`потрібно`+bR,
			bL+`зробити`+bR,
			bL+`до\s+\d{1,2}[./-]\d{1,2}`,
		),
		compileRule("announcement",
			bL+`оголошення`+bR,
			bL+`увага`+bR,
			bL+`нагадую`+bR,
		),
		compileRule("performance",
			bL+`виступ`,
			bL+`концерт`,
			bL+`auftritt`,
			bL+`konzert`,
		),
		compileRule("rehearsal",
			bL+`репетиці`,
			bL+`probe`+bR,
			bL+`chorprobe`+bR,
		),
		compileRule("confirmation",
			bL+`підтверджую`+bR,
			bL+`буду`+bR,
			bL+`не\s+буду`+bR,
			bL+`я\s+йду`+bR,
		),
	}
}

func compileRule(factType string, patterns ...string) Rule {
	r := Rule{FactType: factType}
	for _, p := range patterns {
		r.patterns = append(r.patterns, regexp.MustCompile(p))
	}
	return r
}

// Extract returns the facts found in text, one per triggered fact type, in
// rule order. Blank and non-matching text yields nil. Extraction never fails:
// malformed input simply produces no facts.
//
// Caller-side identity (conversation, message, sender) is left zero for the
// ingest layer to fill in.
func (e *Extractor) Extract(text string) []*store.Fact {
	txt := strings.TrimSpace(text)
	if txt == "" {
		return nil
	}
	lowered := strings.ToLower(txt)

	date := e.extractDate(txt)
	eventTime := e.extractTime(txt)
	location := e.extractLocation(txt)
	responsible := e.extractResponsible(txt)

	var facts []*store.Fact
	for _, rule := range e.rules {
		if !matchesAny(rule.patterns, lowered) {
			continue
		}
		f := &store.Fact{
			FactType:    rule.FactType,
			Subject:     truncateRunes(txt, maxSubjectRunes),
			Date:        date,
			Time:        eventTime,
			Location:    location,
			Responsible: responsible,
			Details:     truncateRunes(txt, maxDetailsRunes),
			Confidence:  DefaultConfidence,
		}
		// Tasks read a bare date as their due date.
		if rule.FactType == "task" {
			f.Deadline = date
		}
		facts = append(facts, f)
	}
	return facts
}

func matchesAny(patterns []*regexp.Regexp, lowered string) bool {
	for _, p := range patterns {
		if p.MatchString(lowered) {
			return true
		}
	}
	return false
}

func (e *Extractor) extractDate(text string) string {
	m := e.dateRE.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

func (e *Extractor) extractTime(text string) string {
	return e.timeRE.FindString(text)
}

func (e *Extractor) extractLocation(text string) string {
	m := e.locationRE.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func (e *Extractor) extractResponsible(text string) string {
	m := e.responsibleRE.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

// truncateRunes cuts s to at most n runes. Byte-based truncation would split
// multi-byte Cyrillic characters.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
