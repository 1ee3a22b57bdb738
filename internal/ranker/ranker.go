// Package ranker computes relevance scores over an index snapshot. Two
// interchangeable ranking functions are supported, selected per query:
// classic TF-IDF and BM25. Both are deterministic for a given snapshot and
// monotonic in term frequency.
package ranker

import (
	"math"

	"github.com/quarrysearch/quarry/internal/index"
)

// Algorithm selects the ranking function for a query.
type Algorithm string

const (
	AlgorithmBM25  Algorithm = "bm25"
	AlgorithmTFIDF Algorithm = "tfidf"
)

// Valid reports whether a is a known algorithm.
func (a Algorithm) Valid() bool {
	return a == AlgorithmBM25 || a == AlgorithmTFIDF
}

// Default BM25 constants; k1 controls term-frequency saturation and b the
// strength of document-length normalization.
const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

// Params carries the algorithm choice and its tunable constants.
type Params struct {
	Algorithm Algorithm `json:"algorithm"`
	// K1 and B apply to BM25 only.
	K1 float64 `json:"k1,omitempty"`
	B  float64 `json:"b,omitempty"`
	// LogTF dampens the TF-IDF term frequency to 1+ln(tf).
	LogTF bool `json:"log_tf,omitempty"`
	// FieldWeights scales per-field term frequencies; absent fields
	// weigh 1.
	FieldWeights map[string]float64 `json:"field_weights,omitempty"`
}

// DefaultParams returns BM25 with the standard constants.
func DefaultParams() Params {
	return Params{Algorithm: AlgorithmBM25, K1: DefaultK1, B: DefaultB}
}

// WithDefaults returns p with unset fields replaced by the standard
// constants. A zero or out-of-range constant counts as unset.
func (p Params) WithDefaults() Params {
	if p.Algorithm == "" {
		p.Algorithm = AlgorithmBM25
	}
	if p.K1 <= 0 {
		p.K1 = DefaultK1
	}
	if p.B <= 0 || p.B > 1 {
		p.B = DefaultB
	}
	return p
}

// ScoredDoc is one ranked result: a document identifier, its non-negative
// finite score, and an optional per-term contribution breakdown.
type ScoredDoc struct {
	DocID     string             `json:"doc_id"`
	Score     float64            `json:"score"`
	Breakdown map[string]float64 `json:"breakdown,omitempty"`
}

// Scorer scores documents against one fixed statistics snapshot. The
// snapshot's N and avgdl never change for the scorer's lifetime, so all
// scores within one query share a coherent index state.
type Scorer struct {
	params Params
	stats  index.Statistics
}

// New creates a Scorer for the snapshot statistics, filling in defaults
// for zero-valued constants.
func New(params Params, stats index.Statistics) *Scorer {
	return &Scorer{params: params.WithDefaults(), stats: stats}
}

// Score returns the contribution of one matched term to a document's
// total. df is the term's document frequency in the snapshot and docLength
// the document's total term count. Terms with df == 0 contribute 0, never
// infinity or NaN.
func (s *Scorer) Score(posting index.Posting, df int, docLength int) float64 {
	tf := s.weightedTF(posting)
	if tf <= 0 || df <= 0 || s.stats.DocCount <= 0 {
		return 0
	}
	switch s.params.Algorithm {
	case AlgorithmTFIDF:
		return s.tfidf(tf, df)
	default:
		return s.bm25(tf, df, docLength)
	}
}

// weightedTF folds per-field frequencies through the configured field
// weights; without weights it is the raw term frequency.
func (s *Scorer) weightedTF(posting index.Posting) float64 {
	if len(s.params.FieldWeights) == 0 {
		return float64(posting.Frequency)
	}
	var tf float64
	for field, freq := range posting.FieldFrequencies {
		weight, ok := s.params.FieldWeights[field]
		if !ok {
			weight = 1
		}
		tf += weight * float64(freq)
	}
	return tf
}

// tfidf computes tf * ln(N/df), optionally dampening tf to 1+ln(tf).
func (s *Scorer) tfidf(tf float64, df int) float64 {
	idf := math.Log(float64(s.stats.DocCount) / float64(df))
	if idf < 0 {
		idf = 0
	}
	if s.params.LogTF {
		tf = 1 + math.Log(tf)
	}
	return tf * idf
}

// bm25 computes the saturating, length-normalized BM25 contribution. The
// +1 inside the logarithm keeps idf non-negative even for terms present in
// more than half the corpus.
func (s *Scorer) bm25(tf float64, df int, docLength int) float64 {
	n := float64(s.stats.DocCount)
	idf := math.Log((n-float64(df)+0.5)/(float64(df)+0.5) + 1)

	var lengthRatio float64
	if s.stats.AvgDocLength > 0 {
		lengthRatio = float64(docLength) / s.stats.AvgDocLength
	}
	denominator := tf + s.params.K1*(1-s.params.B+s.params.B*lengthRatio)
	if denominator <= 0 {
		return 0
	}
	return idf * (tf * (s.params.K1 + 1)) / denominator
}
