package query

import (
	"strings"

	"github.com/quarrysearch/quarry/internal/analyzer"
)

// Mode selects how multi-term queries combine candidates.
type Mode string

const (
	// ModeOR unions the terms' postings; documents matching any term are
	// candidates.
	ModeOR Mode = "or"
	// ModeAND intersects the terms' postings; all terms must be present.
	ModeAND Mode = "and"
)

// Plan is the analyzed form of a query: the normalized terms to match, the
// terms to exclude, and the combination mode. Inline AND/OR/NOT keywords
// in the query text override the request's default mode.
type Plan struct {
	RawQuery     string
	Terms        []string
	ExcludeTerms []string
	Mode         Mode
}

// Parse analyzes the query text into a Plan. Operator keywords (AND, OR,
// NOT) are consumed before analysis; the remaining words are analyzed as
// one sequence so n-gram analyzers see adjacent query words. An empty or
// all-stopword query yields a Plan with no terms, which executes to zero
// results rather than an error.
func Parse(a *analyzer.Analyzer, text string, defaultMode Mode) *Plan {
	plan := &Plan{
		RawQuery: text,
		Mode:     normalizeMode(defaultMode),
	}
	if strings.TrimSpace(text) == "" {
		return plan
	}

	var includeWords []string
	excludeNext := false
	for _, word := range strings.Fields(text) {
		switch strings.ToUpper(word) {
		case "AND":
			plan.Mode = ModeAND
			continue
		case "OR":
			plan.Mode = ModeOR
			continue
		case "NOT":
			excludeNext = true
			continue
		}
		if excludeNext {
			excludeNext = false
			for _, tok := range a.Analyze("", word) {
				plan.ExcludeTerms = append(plan.ExcludeTerms, tok.Term)
			}
			continue
		}
		includeWords = append(includeWords, word)
	}

	seen := make(map[string]struct{})
	for _, tok := range a.Analyze("", strings.Join(includeWords, " ")) {
		if _, dup := seen[tok.Term]; dup {
			continue
		}
		seen[tok.Term] = struct{}{}
		plan.Terms = append(plan.Terms, tok.Term)
	}
	return plan
}

// Valid reports whether m names a known mode; matching is
// case-insensitive.
func (m Mode) Valid() bool {
	switch Mode(strings.ToLower(string(m))) {
	case ModeAND, ModeOR:
		return true
	default:
		return false
	}
}

// normalizeMode canonicalizes a caller-supplied mode. Matching is
// case-insensitive; anything unrecognized falls back to OR.
func normalizeMode(m Mode) Mode {
	if Mode(strings.ToLower(string(m))) == ModeAND {
		return ModeAND
	}
	return ModeOR
}
