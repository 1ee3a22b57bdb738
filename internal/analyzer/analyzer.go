// Package analyzer turns raw field text into a normalized sequence of
// terms: tokenize on Unicode word boundaries, lowercase, strip stop-words,
// stem, and optionally emit sliding-window n-grams. The pipeline is
// deterministic: analyzing the same text under the same configuration
// always yields the same sequence.
package analyzer

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

var defaultStopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// Config controls the analysis pipeline. It is immutable after the
// Analyzer is constructed; changing it requires re-indexing, and the
// engine refuses to mix terms produced under different configurations.
type Config struct {
	// MinTokenLength drops tokens shorter than this to bound index size.
	MinTokenLength int
	// Lowercase folds tokens to lower case.
	Lowercase bool
	// StripStopwords removes tokens in the stop-word set.
	StripStopwords bool
	// Stemming applies the rule-based suffix stemmer.
	Stemming bool
	// NGramSize, when >= 2, additionally emits sliding-window n-grams of
	// the stemmed sequence. N-gram terms are space-joined; unigrams never
	// contain spaces, so the two term classes cannot collide.
	NGramSize int
	// ExtraStopwords extends the built-in stop-word set.
	ExtraStopwords []string
}

// DefaultConfig returns the configuration the engine uses unless told
// otherwise.
func DefaultConfig() Config {
	return Config{
		MinTokenLength: 2,
		Lowercase:      true,
		StripStopwords: true,
		Stemming:       true,
	}
}

// Token is a single normalized term and its position in the analyzed
// sequence. For an n-gram the position is that of its first unigram.
type Token struct {
	Term     string
	Position int
}

// Analyzer applies the configured pipeline. Safe for concurrent use.
type Analyzer struct {
	cfg       Config
	stopwords map[string]struct{}
	signature string
}

// New builds an Analyzer from cfg.
func New(cfg Config) *Analyzer {
	stopwords := make(map[string]struct{}, len(defaultStopwords)+len(cfg.ExtraStopwords))
	if cfg.StripStopwords {
		for w := range defaultStopwords {
			stopwords[w] = struct{}{}
		}
		for _, w := range cfg.ExtraStopwords {
			if w != "" {
				stopwords[strings.ToLower(w)] = struct{}{}
			}
		}
	}
	return &Analyzer{
		cfg:       cfg,
		stopwords: stopwords,
		signature: computeSignature(cfg),
	}
}

// Config returns a copy of the analyzer's configuration.
func (a *Analyzer) Config() Config {
	return a.cfg
}

// Signature is a deterministic digest of the configuration. An index
// records the signature of the analyzer that built it so queries analyzed
// under a different configuration can be rejected.
func (a *Analyzer) Signature() string {
	return a.signature
}

// Analyze converts text from the given field into normalized tokens.
// Empty text yields an empty slice, not an error. The field name does not
// affect normalization; equal normalized forms are the same term
// regardless of source field.
func (a *Analyzer) Analyze(field, text string) []Token {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]Token, 0, len(words))
	pos := 0
	for _, word := range words {
		if a.cfg.Lowercase {
			word = strings.ToLower(word)
		}
		if len(word) < a.cfg.MinTokenLength {
			continue
		}
		if _, isStop := a.stopwords[word]; isStop {
			continue
		}
		if a.cfg.Stemming {
			word = stem(word)
			if word == "" {
				continue
			}
		}
		tokens = append(tokens, Token{Term: word, Position: pos})
		pos++
	}

	if a.cfg.NGramSize >= 2 {
		tokens = append(tokens, a.ngrams(tokens)...)
	}
	return tokens
}

// ngrams emits sliding windows of size cfg.NGramSize over the unigram
// sequence, space-joined so they form a distinct term class with their own
// document-frequency statistics.
func (a *Analyzer) ngrams(unigrams []Token) []Token {
	n := a.cfg.NGramSize
	if len(unigrams) < n {
		return nil
	}
	grams := make([]Token, 0, len(unigrams)-n+1)
	parts := make([]string, n)
	for i := 0; i+n <= len(unigrams); i++ {
		for j := 0; j < n; j++ {
			parts[j] = unigrams[i+j].Term
		}
		grams = append(grams, Token{
			Term:     strings.Join(parts, " "),
			Position: unigrams[i].Position,
		})
	}
	return grams
}

func computeSignature(cfg Config) string {
	extras := make([]string, len(cfg.ExtraStopwords))
	copy(extras, cfg.ExtraStopwords)
	sort.Strings(extras)
	canonical := fmt.Sprintf("minlen=%d|lower=%t|stop=%t|stem=%t|ngram=%d|extra=%s",
		cfg.MinTokenLength, cfg.Lowercase, cfg.StripStopwords, cfg.Stemming,
		cfg.NGramSize, strings.Join(extras, ","))
	sum := sha256.Sum256([]byte(canonical))
	return fmt.Sprintf("%x", sum[:8])
}
