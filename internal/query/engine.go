// Package query orchestrates search execution: analyze the query, gather
// candidate documents from the postings lists, score them against one
// fixed statistics snapshot, rank, and paginate. A failure at any stage
// aborts the whole query with a typed error; nothing is retried here.
package query

import (
	"context"
	"errors"
	"log/slog"

	"github.com/quarrysearch/quarry/internal/analyzer"
	"github.com/quarrysearch/quarry/internal/index"
	"github.com/quarrysearch/quarry/internal/ranker"
	apperrors "github.com/quarrysearch/quarry/pkg/errors"
	"github.com/quarrysearch/quarry/pkg/tracing"
)

// cancelCheckInterval is how many candidates are scored between context
// checks, so cancellation and timeouts are observed promptly without a
// per-document branch cost.
const cancelCheckInterval = 256

// Request is a search query plus its execution configuration.
type Request struct {
	Text          string        `json:"text"`
	Mode          Mode          `json:"mode,omitempty"`
	Ranking       ranker.Params `json:"ranking"`
	Limit         int           `json:"limit"`
	Offset        int           `json:"offset,omitempty"`
	WithBreakdown bool          `json:"with_breakdown,omitempty"`
}

// Page is one ranked result page together with the snapshot statistics it
// was computed against.
type Page struct {
	Query     string             `json:"query"`
	TotalHits int                `json:"total_hits"`
	Results   []ranker.ScoredDoc `json:"results"`
	TermStats map[string]int     `json:"term_stats,omitempty"`
	Stats     index.Statistics   `json:"stats"`
}

// Engine executes queries against an index. It holds no per-query state;
// each Execute call takes its own snapshot.
type Engine struct {
	index    *index.Index
	analyzer *analyzer.Analyzer
	logger   *slog.Logger
}

// New creates a query engine for the index, analyzing queries with a. The
// analyzer configuration must match the one the index was built with;
// Execute rejects mismatches.
func New(ix *index.Index, a *analyzer.Analyzer) *Engine {
	return &Engine{
		index:    ix,
		analyzer: a,
		logger:   slog.Default().With("component", "query-engine"),
	}
}

// Execute runs the full pipeline for req. Negative limit or offset is a
// caller error; limit 0 or an offset past the result count yields an empty
// page, not an error.
func (e *Engine) Execute(ctx context.Context, req Request) (*Page, error) {
	if err := e.validate(req); err != nil {
		return nil, err
	}

	ctx, span := tracing.StartChildSpan(ctx, "query.execute")
	defer func() {
		span.End()
	}()
	span.SetAttr("query", req.Text)

	plan := Parse(e.analyzer, req.Text, req.Mode)
	if len(plan.Terms) == 0 {
		// Still capture the snapshot so the page carries the corpus
		// statistics and generation like every other page.
		snap := e.index.QuerySnapshot(nil)
		return &Page{Query: req.Text, Results: []ranker.ScoredDoc{}, Stats: snap.Stats}, nil
	}

	snapTerms := append(append([]string{}, plan.Terms...), plan.ExcludeTerms...)
	snap := e.index.QuerySnapshot(snapTerms)

	candidates := gatherCandidates(snap, plan)
	span.SetAttr("candidates", len(candidates))

	scored, err := e.score(ctx, snap, plan, candidates, req)
	if err != nil {
		return nil, err
	}

	termStats := make(map[string]int, len(plan.Terms))
	for _, term := range plan.Terms {
		termStats[term] = snap.DocumentFrequency(term)
	}

	page := &Page{
		Query:     req.Text,
		TotalHits: len(scored),
		Results:   paginate(scored, req.Offset, req.Limit),
		TermStats: termStats,
		Stats:     snap.Stats,
	}
	e.logger.Debug("query executed",
		"query", req.Text,
		"terms", plan.Terms,
		"mode", plan.Mode,
		"total_hits", page.TotalHits,
		"returned", len(page.Results),
		"generation", snap.Stats.Generation,
	)
	return page, nil
}

func (e *Engine) validate(req Request) error {
	if req.Limit < 0 {
		return apperrors.Newf(apperrors.ErrInvalidQuery, 400, "negative limit %d", req.Limit)
	}
	if req.Offset < 0 {
		return apperrors.Newf(apperrors.ErrInvalidQuery, 400, "negative offset %d", req.Offset)
	}
	if req.Mode != "" && !req.Mode.Valid() {
		return apperrors.Newf(apperrors.ErrInvalidQuery, 400, "unknown query mode %q", req.Mode)
	}
	if req.Ranking.Algorithm != "" && !req.Ranking.Algorithm.Valid() {
		return apperrors.Newf(apperrors.ErrInvalidQuery, 400, "unknown ranking algorithm %q", req.Ranking.Algorithm)
	}
	if e.analyzer.Signature() != e.index.AnalyzerSignature() {
		return apperrors.New(apperrors.ErrAnalysisConfigMismatch, 400,
			"re-index with the current analyzer configuration")
	}
	return nil
}

// gatherCandidates computes the candidate document set from the snapshot:
// the union or intersection of the matched terms' postings, minus any
// excluded documents. For intersections the shortest postings list seeds
// the set so the work is bounded by the rarest term.
func gatherCandidates(snap *index.Snapshot, plan *Plan) map[string]struct{} {
	var candidates map[string]struct{}
	if plan.Mode == ModeAND {
		candidates = intersect(snap, plan.Terms)
	} else {
		candidates = union(snap, plan.Terms)
	}
	for _, term := range plan.ExcludeTerms {
		for _, p := range snap.Postings[term] {
			delete(candidates, p.DocID)
		}
	}
	return candidates
}

func union(snap *index.Snapshot, terms []string) map[string]struct{} {
	result := make(map[string]struct{})
	for _, term := range terms {
		for _, p := range snap.Postings[term] {
			result[p.DocID] = struct{}{}
		}
	}
	return result
}

func intersect(snap *index.Snapshot, terms []string) map[string]struct{} {
	if len(terms) == 0 {
		return make(map[string]struct{})
	}
	shortest := terms[0]
	for _, term := range terms[1:] {
		if len(snap.Postings[term]) < len(snap.Postings[shortest]) {
			shortest = term
		}
	}
	candidates := make(map[string]struct{}, len(snap.Postings[shortest]))
	for _, p := range snap.Postings[shortest] {
		candidates[p.DocID] = struct{}{}
	}
	for _, term := range terms {
		if term == shortest {
			continue
		}
		inTerm := make(map[string]struct{}, len(snap.Postings[term]))
		for _, p := range snap.Postings[term] {
			inTerm[p.DocID] = struct{}{}
		}
		for docID := range candidates {
			if _, ok := inTerm[docID]; !ok {
				delete(candidates, docID)
			}
		}
	}
	return candidates
}

// score accumulates per-term contributions for every candidate, checking
// the context between chunks so a cancelled or expired query stops
// promptly instead of presenting partial results as complete.
func (e *Engine) score(
	ctx context.Context,
	snap *index.Snapshot,
	plan *Plan,
	candidates map[string]struct{},
	req Request,
) ([]ranker.ScoredDoc, error) {
	scorer := ranker.New(req.Ranking, snap.Stats)
	totals := make(map[string]float64, len(candidates))
	var breakdowns map[string]map[string]float64
	if req.WithBreakdown {
		breakdowns = make(map[string]map[string]float64, len(candidates))
	}

	processed := 0
	for _, term := range plan.Terms {
		df := snap.DocumentFrequency(term)
		for _, posting := range snap.Postings[term] {
			if _, ok := candidates[posting.DocID]; !ok {
				continue
			}
			processed++
			if processed%cancelCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return nil, mapContextErr(err)
				}
			}
			contribution := scorer.Score(posting, df, snap.DocLengths[posting.DocID])
			totals[posting.DocID] += contribution
			if req.WithBreakdown {
				byTerm, ok := breakdowns[posting.DocID]
				if !ok {
					byTerm = make(map[string]float64, len(plan.Terms))
					breakdowns[posting.DocID] = byTerm
				}
				byTerm[term] += contribution
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, mapContextErr(err)
	}

	scored := make([]ranker.ScoredDoc, 0, len(totals))
	for docID, score := range totals {
		doc := ranker.ScoredDoc{DocID: docID, Score: score}
		if req.WithBreakdown {
			doc.Breakdown = breakdowns[docID]
		}
		scored = append(scored, doc)
	}
	return scored, nil
}

// paginate ranks the scored candidates and slices out the requested page.
// Only the top offset+limit entries are materialized in order.
func paginate(scored []ranker.ScoredDoc, offset, limit int) []ranker.ScoredDoc {
	if limit == 0 || offset >= len(scored) {
		return []ranker.ScoredDoc{}
	}
	top := ranker.TopK(scored, offset+limit)
	if offset >= len(top) {
		return []ranker.ScoredDoc{}
	}
	return top[offset:]
}

func mapContextErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.New(apperrors.ErrTimeout, 503, "query deadline exceeded")
	}
	return apperrors.New(apperrors.ErrCancelled, 409, "query cancelled")
}
