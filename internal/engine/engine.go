// Package engine is the search facade: it serializes index mutations,
// coordinates the persistence and cache collaborators, and exposes the
// synchronous and asynchronous search entry points.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quarrysearch/quarry/internal/analyzer"
	"github.com/quarrysearch/quarry/internal/cache"
	"github.com/quarrysearch/quarry/internal/index"
	"github.com/quarrysearch/quarry/internal/jobs"
	"github.com/quarrysearch/quarry/internal/query"
	"github.com/quarrysearch/quarry/internal/ranker"
	"github.com/quarrysearch/quarry/internal/store"
	apperrors "github.com/quarrysearch/quarry/pkg/errors"
	"github.com/quarrysearch/quarry/pkg/metrics"
	"github.com/quarrysearch/quarry/pkg/resilience"
)

// Options configures a SearchEngine. Store, Cache, and Metrics are
// optional collaborators; a nil Store means in-memory only, a nil Cache
// means every query is computed.
type Options struct {
	Analyzer analyzer.Config
	Store    store.DocumentStore
	Cache    cache.ResultCache
	Metrics  *metrics.Metrics
	// Ranking supplies the constants used when a request leaves its
	// ranking parameters unset; zero fields fall back to the standard
	// BM25 constants.
	Ranking       ranker.Params
	QueryTimeout  time.Duration
	BulkChunkSize int
	MaxAsyncJobs  int
	JobRetention  time.Duration
}

// SearchEngine is the facade over the index, query engine, and
// collaborators. Reads may run concurrently; mutations are serialized by
// the write mutex so batch pre-checks cannot race other writers.
type SearchEngine struct {
	writeMu sync.Mutex

	analyzer *analyzer.Analyzer
	index    *index.Index
	queries  *query.Engine
	store    store.DocumentStore
	cache    cache.ResultCache
	jobs     *jobs.Tracker
	metrics  *metrics.Metrics
	breaker  *resilience.CircuitBreaker

	ranking       ranker.Params
	queryTimeout  time.Duration
	bulkChunkSize int
	logger        *slog.Logger
}

// New constructs the engine with an empty index.
func New(opts Options) *SearchEngine {
	a := analyzer.New(opts.Analyzer)
	ix := index.New(a)
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 5 * time.Second
	}
	return &SearchEngine{
		analyzer:      a,
		index:         ix,
		queries:       query.New(ix, a),
		store:         opts.Store,
		cache:         opts.Cache,
		jobs:          jobs.NewTracker(opts.MaxAsyncJobs, opts.JobRetention),
		metrics:       opts.Metrics,
		breaker:       resilience.NewCircuitBreaker("document-store", resilience.CircuitBreakerConfig{}),
		ranking:       opts.Ranking.WithDefaults(),
		queryTimeout:  opts.QueryTimeout,
		bulkChunkSize: opts.BulkChunkSize,
		logger:        slog.Default().With("component", "search-engine"),
	}
}

// Load rebuilds the in-memory index from the persistence provider. Called
// once at startup, before the engine serves traffic.
func (e *SearchEngine) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	docs, err := e.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading documents from store: %w", err)
	}
	if len(docs) == 0 {
		return nil
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := e.index.AddBatch(docs, e.bulkChunkSize); err != nil {
		return fmt.Errorf("rebuilding index: %w", err)
	}
	stats := e.index.Stats()
	e.setDocCountGauge(stats.DocCount)
	e.logger.Info("index rebuilt from store",
		"docs", stats.DocCount,
		"terms", stats.TermCount,
		"avg_doc_length", stats.AvgDocLength,
	)
	return nil
}

// Add persists and indexes one document. The store write happens first:
// if persistence fails the in-memory index is untouched, so a failed add
// leaves no partial state.
func (e *SearchEngine) Add(ctx context.Context, doc index.Document) error {
	if doc.ID == "" {
		return apperrors.New(apperrors.ErrInvalidQuery, 400, "document id must not be empty")
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if e.index.Has(doc.ID) {
		return apperrors.Newf(apperrors.ErrDuplicateDocument, 409, "document %q", doc.ID)
	}
	if err := e.persist(ctx, doc); err != nil {
		return fmt.Errorf("persisting document %q: %w", doc.ID, err)
	}
	if err := e.index.Add(doc); err != nil {
		// Keep store and index consistent: undo the persist.
		if delErr := e.deleteFromStore(ctx, doc.ID); delErr != nil {
			e.logger.Error("rollback delete failed after index error",
				"doc_id", doc.ID, "error", delErr)
		}
		return err
	}
	e.afterMutation(ctx)
	if e.metrics != nil {
		e.metrics.DocsIndexedTotal.Inc()
	}
	e.logger.Info("document added", "doc_id", doc.ID)
	return nil
}

// Remove deletes the document from the store and the index. The store
// delete happens first; an absent document fails with ErrDocumentNotFound
// before any collaborator is touched.
func (e *SearchEngine) Remove(ctx context.Context, docID string) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if !e.index.Has(docID) {
		return apperrors.Newf(apperrors.ErrDocumentNotFound, 404, "document %q", docID)
	}
	if err := e.deleteFromStore(ctx, docID); err != nil {
		return fmt.Errorf("deleting document %q from store: %w", docID, err)
	}
	if err := e.index.Remove(docID); err != nil {
		return err
	}
	e.afterMutation(ctx)
	if e.metrics != nil {
		e.metrics.DocsRemovedTotal.Inc()
	}
	e.logger.Info("document removed", "doc_id", docID)
	return nil
}

// Update replaces an indexed document using remove-then-reinsert
// semantics, holding the writer lock across both steps so no query can
// observe the document half-updated.
func (e *SearchEngine) Update(ctx context.Context, doc index.Document) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if !e.index.Has(doc.ID) {
		return apperrors.Newf(apperrors.ErrDocumentNotFound, 404, "document %q", doc.ID)
	}
	if err := e.persist(ctx, doc); err != nil {
		return fmt.Errorf("persisting document %q: %w", doc.ID, err)
	}
	if err := e.index.Remove(doc.ID); err != nil {
		return err
	}
	if err := e.index.Add(doc); err != nil {
		return err
	}
	e.afterMutation(ctx)
	e.logger.Info("document updated", "doc_id", doc.ID)
	return nil
}

// AddBulk ingests a batch all-or-nothing: duplicates are rejected up front
// with a BulkError naming every offending identifier, documents are
// persisted concurrently, and only then indexed. Any persistence failure
// rolls back the documents already persisted and leaves the index
// untouched.
func (e *SearchEngine) AddBulk(ctx context.Context, docs []index.Document) error {
	if len(docs) == 0 {
		return nil
	}
	for _, doc := range docs {
		if doc.ID == "" {
			return apperrors.New(apperrors.ErrInvalidQuery, 400, "document id must not be empty")
		}
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	// Reject duplicates before any store write: the persist below is an
	// upsert, so a late rollback would clobber pre-existing documents.
	var offending []string
	seen := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		if _, dup := seen[doc.ID]; dup {
			offending = append(offending, doc.ID)
			continue
		}
		seen[doc.ID] = struct{}{}
		if e.index.Has(doc.ID) {
			offending = append(offending, doc.ID)
		}
	}
	if len(offending) > 0 {
		sort.Strings(offending)
		return &apperrors.BulkError{
			Op:          "bulk add",
			DocumentIDs: offending,
			Err:         apperrors.ErrDuplicateDocument,
		}
	}

	var persisted []string
	if e.store != nil {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(8)
		var mu sync.Mutex
		for _, doc := range docs {
			g.Go(func() error {
				if err := e.persist(gctx, doc); err != nil {
					return fmt.Errorf("persisting document %q: %w", doc.ID, err)
				}
				mu.Lock()
				persisted = append(persisted, doc.ID)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			e.rollbackStore(ctx, persisted)
			return err
		}
	}

	if err := e.index.AddBatch(docs, e.bulkChunkSize); err != nil {
		e.rollbackStore(ctx, persisted)
		return err
	}
	e.afterMutation(ctx)
	if e.metrics != nil {
		e.metrics.DocsIndexedTotal.Add(float64(len(docs)))
	}
	e.logger.Info("bulk add complete", "docs", len(docs))
	return nil
}

// Search executes the query synchronously under the configured timeout,
// consulting the result cache first when one is wired.
func (e *SearchEngine) Search(ctx context.Context, req query.Request) (*query.Page, error) {
	req = e.withRankingDefaults(req)
	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	start := time.Now()
	var (
		page *query.Page
		hit  bool
		err  error
	)
	if e.cache != nil {
		page, hit, err = e.cache.GetOrCompute(ctx, query.Fingerprint(req), func() (*query.Page, error) {
			return e.queries.Execute(ctx, req)
		})
	} else {
		page, err = e.queries.Execute(ctx, req)
	}
	e.recordSearchMetrics(page, hit, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return page, nil
}

// withRankingDefaults fills ranking fields the request leaves unset from
// the engine's configured constants, before the cache fingerprint is
// computed, so equal effective queries share a cache entry.
func (e *SearchEngine) withRankingDefaults(req query.Request) query.Request {
	if req.Ranking.Algorithm == "" {
		req.Ranking.Algorithm = e.ranking.Algorithm
	}
	if req.Ranking.K1 <= 0 {
		req.Ranking.K1 = e.ranking.K1
	}
	if req.Ranking.B <= 0 || req.Ranking.B > 1 {
		req.Ranking.B = e.ranking.B
	}
	return req
}

// Stats returns the current corpus statistics.
func (e *SearchEngine) Stats() index.Statistics {
	return e.index.Stats()
}

// CacheStats returns cumulative cache hit/miss counters, or zeros when no
// cache is wired.
func (e *SearchEngine) CacheStats() (hits, misses int64) {
	if e.cache == nil {
		return 0, 0
	}
	return e.cache.Stats()
}

// InvalidateCache drops every cached result page.
func (e *SearchEngine) InvalidateCache(ctx context.Context) error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Invalidate(ctx)
}

// persist writes through the circuit breaker with bounded retries;
// transient store failures are retried, persistent ones trip the breaker.
func (e *SearchEngine) persist(ctx context.Context, doc index.Document) error {
	if e.store == nil {
		return nil
	}
	return resilience.Retry(ctx, "store.persist", resilience.RetryConfig{MaxAttempts: 3}, func() error {
		return e.breaker.Execute(func() error {
			return e.store.Persist(ctx, doc)
		})
	})
}

func (e *SearchEngine) deleteFromStore(ctx context.Context, docID string) error {
	if e.store == nil {
		return nil
	}
	return resilience.Retry(ctx, "store.delete", resilience.RetryConfig{MaxAttempts: 3}, func() error {
		return e.breaker.Execute(func() error {
			return e.store.Delete(ctx, docID)
		})
	})
}

func (e *SearchEngine) rollbackStore(ctx context.Context, docIDs []string) {
	for _, id := range docIDs {
		if err := e.deleteFromStore(ctx, id); err != nil {
			e.logger.Error("bulk rollback delete failed", "doc_id", id, "error", err)
		}
	}
}

// afterMutation refreshes gauges and flushes the result cache so stale
// pages never outlive a mutation by more than the flush.
func (e *SearchEngine) afterMutation(ctx context.Context) {
	e.setDocCountGauge(e.index.Stats().DocCount)
	if e.cache == nil {
		return
	}
	if err := e.cache.Invalidate(ctx); err != nil {
		// Entries are TTL-bounded, so a failed flush degrades freshness
		// without affecting correctness.
		e.logger.Warn("cache invalidation failed", "error", err)
	}
}

func (e *SearchEngine) setDocCountGauge(n int) {
	if e.metrics != nil {
		e.metrics.IndexDocCount.Set(float64(n))
	}
}

func (e *SearchEngine) recordSearchMetrics(page *query.Page, hit bool, err error, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	// Without a cache every query is computed; counting those as misses
	// would make the hit rate look broken rather than absent.
	cacheStatus := "none"
	if e.cache != nil {
		if hit {
			cacheStatus = "hit"
			e.metrics.CacheHitsTotal.Inc()
		} else {
			cacheStatus = "miss"
			e.metrics.CacheMissesTotal.Inc()
		}
	}
	e.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(elapsed.Seconds())
	e.metrics.SearchQueriesTotal.WithLabelValues(searchOutcome(page, err)).Inc()
	if page != nil {
		e.metrics.SearchResultsCount.Observe(float64(len(page.Results)))
	}
}

func searchOutcome(page *query.Page, err error) string {
	switch {
	case errors.Is(err, apperrors.ErrTimeout):
		return "timeout"
	case errors.Is(err, apperrors.ErrCancelled):
		return "cancelled"
	case err != nil:
		return "error"
	case page != nil && page.TotalHits == 0:
		return "zero_result"
	default:
		return "ok"
	}
}
