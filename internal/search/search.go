// Package search implements hybrid retrieval over indexed group messages:
// a lexical token pass and a semantic vector pass, fused by taking the
// maximum score per message.
package search

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/groupmind/groupmind/internal/store"
)

const (
	// maxQueryTokens caps how many query tokens feed the lexical pass.
	maxQueryTokens = 8
	// minTokenRunes drops short stopword-ish runs ("як", "на", "in").
	minTokenRunes = 3
	// fallbackQueryRunes bounds the raw-substring fallback when tokenization
	// yields nothing.
	fallbackQueryRunes = 64

	// lexicalTokenWeight scores each distinct matched token.
	lexicalTokenWeight = 2.0
	// lexicalPriorityBonus is added when the sender is the priority speaker.
	// It is sized to outrank any realistic token count, so the leader's
	// messages surface first in lexical results.
	lexicalPriorityBonus = 5.0
	// semanticPriorityBonus nudges cosine scores for the priority speaker
	// without letting an off-topic message beat a genuinely similar one.
	semanticPriorityBonus = 0.08

	defaultLimit = 10
)

// Embedder produces a vector for a piece of text. Implemented by the embed
// package's client.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the slice of the store the engine needs.
type Searcher interface {
	LexicalSearch(ctx context.Context, conversationID string, tokens []string, maxAgeDays, limit int) ([]*store.Message, error)
	EmbeddingCandidates(ctx context.Context, conversationID string, maxAgeDays, cap int) ([]*store.Candidate, error)
}

// Result is a scored message. Source records which pass produced the winning
// score ("lexical", "semantic", or "both" on an exact tie).
type Result struct {
	Message *store.Message
	Score   float64
	Source  string
}

// Options describe a single search request.
type Options struct {
	ConversationID string
	Query          string
	MaxAgeDays     int
	Limit          int
}

// Engine runs hybrid searches. An Engine with a nil embedder degrades to
// lexical-only search.
type Engine struct {
	store          Searcher
	embedder       Embedder
	priorityUserID string
}

// New creates a search engine. priorityUserID may be empty, in which case no
// speaker gets a score bonus.
func New(s Searcher, e Embedder, priorityUserID string) *Engine {
	return &Engine{store: s, embedder: e, priorityUserID: priorityUserID}
}

// Tokenize splits a query into lowercased runs of Unicode letters and digits,
// keeping runs of at least three runes, deduplicated, capped at eight tokens.
// When nothing survives, the whole trimmed query (up to 64 runes) is returned
// as a single token so short queries still search as a raw substring.
func Tokenize(query string) []string {
	var tokens []string
	seen := make(map[string]bool)
	var run []rune
	flush := func() {
		if len(run) >= minTokenRunes && len(tokens) < maxQueryTokens {
			tok := strings.ToLower(string(run))
			if !seen[tok] {
				seen[tok] = true
				tokens = append(tokens, tok)
			}
		}
		run = run[:0]
	}
	for _, r := range query {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			run = append(run, r)
			continue
		}
		flush()
	}
	flush()

	if len(tokens) > 0 {
		return tokens
	}

	raw := strings.ToLower(strings.TrimSpace(query))
	if raw == "" {
		return nil
	}
	if runes := []rune(raw); len(runes) > fallbackQueryRunes {
		raw = string(runes[:fallbackQueryRunes])
	}
	return []string{raw}
}

// HybridSearch runs both passes and fuses them. Each pass is best-effort: a
// pass that fails contributes nothing, and the other still answers. Both
// passes failing yields an empty result, not an error.
func (e *Engine) HybridSearch(ctx context.Context, opts Options) ([]*Result, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	tokens := Tokenize(opts.Query)
	if len(tokens) == 0 {
		return nil, nil
	}

	merged := make(map[string]*Result)

	e.lexicalPass(ctx, opts, tokens, merged)
	e.semanticPass(ctx, opts, merged)

	results := make([]*Result, 0, len(merged))
	for _, r := range merged {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		mi, mj := results[i].Message, results[j].Message
		if !mi.Timestamp.Equal(mj.Timestamp) {
			return mi.Timestamp.After(mj.Timestamp)
		}
		return mi.MessageID > mj.MessageID
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (e *Engine) lexicalPass(ctx context.Context, opts Options, tokens []string, merged map[string]*Result) {
	msgs, err := e.store.LexicalSearch(ctx, opts.ConversationID, tokens, opts.MaxAgeDays, lexicalFetchLimit(opts.Limit))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: lexical search failed, continuing without it: %v\n", err)
		return
	}

	for _, m := range msgs {
		text := strings.ToLower(m.Text)
		matched := 0
		for _, tok := range tokens {
			if strings.Contains(text, tok) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		score := lexicalTokenWeight * float64(matched)
		if e.isPriority(m.SenderID) {
			score += lexicalPriorityBonus
		}
		fuse(merged, m, score, "lexical")
	}
}

func (e *Engine) semanticPass(ctx context.Context, opts Options, merged map[string]*Result) {
	if e.embedder == nil {
		return
	}

	queryVec, err := e.embedder.Embed(ctx, opts.Query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: query embedding failed, lexical results only: %v\n", err)
		return
	}
	if len(queryVec) == 0 {
		return
	}

	candidates, err := e.store.EmbeddingCandidates(ctx, opts.ConversationID, opts.MaxAgeDays, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: loading embedding candidates failed: %v\n", err)
		return
	}

	for _, c := range candidates {
		score := Cosine(queryVec, c.Vector)
		if score <= 0 {
			continue
		}
		if e.isPriority(c.Message.SenderID) {
			score += semanticPriorityBonus
		}
		fuse(merged, &c.Message, score, "semantic")
	}
}

// fuse keeps the higher of the existing and incoming score for a message.
// Scores from the two passes are never added: lexical scores live on a token
// count scale and cosine on [0,1], so summing would let weak agreement beat a
// strong single-pass hit.
func fuse(merged map[string]*Result, m *store.Message, score float64, source string) {
	key := fmt.Sprintf("%s/%d", m.ConversationID, m.MessageID)
	existing, ok := merged[key]
	if !ok {
		merged[key] = &Result{Message: m, Score: score, Source: source}
		return
	}
	if score > existing.Score {
		existing.Score = score
		existing.Source = source
	} else if score == existing.Score && existing.Source != source {
		existing.Source = "both"
	}
}

// lexicalFetchLimit over-fetches so the fused ranking has room to reorder.
func lexicalFetchLimit(limit int) int {
	if limit <= 0 {
		limit = defaultLimit
	}
	return limit * 5
}

func (e *Engine) isPriority(senderID string) bool {
	return e.priorityUserID != "" && senderID == e.priorityUserID
}

// Cosine returns the cosine similarity of two vectors. Mismatched dimensions
// and zero vectors score 0 rather than erroring; a vector that cannot be
// compared is simply not similar.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
