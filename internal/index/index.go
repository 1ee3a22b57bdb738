// Package index owns the in-memory inverted index: term to postings-list
// mapping, the document-length table, and corpus-level statistics. Readers
// take the shared lock only long enough to copy the postings and counters
// they need; all scoring arithmetic happens outside the lock.
package index

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/quarrysearch/quarry/internal/analyzer"
	apperrors "github.com/quarrysearch/quarry/pkg/errors"
)

// Index is the inverted index. All methods are safe for concurrent use;
// mutating operations take the exclusive lock for a single document (or a
// bounded chunk of a batch), never for an entire large batch.
type Index struct {
	mu       sync.RWMutex
	analyzer *analyzer.Analyzer

	// postings maps term -> docID -> posting. Document frequency of a
	// term is the size of its inner map; an inner map is deleted rather
	// than kept empty, so df > 0 whenever the term is present.
	postings map[string]map[string]*Posting
	docs     map[string]*docEntry

	totalLength  int64
	avgDocLength float64
	generation   uint64

	logger *slog.Logger
}

// New creates an empty Index bound to the given analyzer configuration.
func New(a *analyzer.Analyzer) *Index {
	return &Index{
		analyzer: a,
		postings: make(map[string]map[string]*Posting),
		docs:     make(map[string]*docEntry),
		logger:   slog.Default().With("component", "index"),
	}
}

// AnalyzerSignature returns the signature of the analyzer configuration
// this index was built with.
func (ix *Index) AnalyzerSignature() string {
	return ix.analyzer.Signature()
}

// Analyzer returns the analyzer the index was built with. Queries must be
// analyzed with the same instance (or one with an equal signature).
func (ix *Index) Analyzer() *analyzer.Analyzer {
	return ix.analyzer
}

// Add analyzes every field of doc and inserts its postings. It fails with
// ErrDuplicateDocument if the identifier is already indexed; callers must
// Remove first. Analysis runs outside the lock.
func (ix *Index) Add(doc Document) error {
	entry, terms := ix.analyze(doc)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, exists := ix.docs[doc.ID]; exists {
		return apperrors.Newf(apperrors.ErrDuplicateDocument, 409, "document %q", doc.ID)
	}
	ix.apply(doc.ID, entry, terms)
	return nil
}

// AddBatch inserts docs with all-or-nothing semantics: if any identifier is
// already indexed or repeated within the batch, nothing is applied and the
// returned BulkError enumerates every offending identifier. The exclusive
// lock is held per chunk of chunkSize documents rather than for the whole
// batch, so concurrent reads are not starved by large ingests. AddBatch
// assumes writers are serialized by the caller (the engine facade does
// this); only readers may interleave between chunks.
func (ix *Index) AddBatch(docs []Document, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = 256
	}

	// Analyze everything up front, outside any lock.
	entries := make([]*docEntry, len(docs))
	termMaps := make([]map[string]*Posting, len(docs))
	for i, doc := range docs {
		entries[i], termMaps[i] = ix.analyze(doc)
	}

	var offending []string
	seen := make(map[string]struct{}, len(docs))
	ix.mu.RLock()
	for _, doc := range docs {
		if _, dup := seen[doc.ID]; dup {
			offending = append(offending, doc.ID)
			continue
		}
		seen[doc.ID] = struct{}{}
		if _, exists := ix.docs[doc.ID]; exists {
			offending = append(offending, doc.ID)
		}
	}
	ix.mu.RUnlock()

	if len(offending) > 0 {
		sort.Strings(offending)
		return &apperrors.BulkError{
			Op:          "bulk add",
			DocumentIDs: offending,
			Err:         apperrors.ErrDuplicateDocument,
		}
	}

	for start := 0; start < len(docs); start += chunkSize {
		end := start + chunkSize
		if end > len(docs) {
			end = len(docs)
		}
		ix.mu.Lock()
		for i := start; i < end; i++ {
			ix.apply(docs[i].ID, entries[i], termMaps[i])
		}
		ix.mu.Unlock()
	}
	ix.logger.Debug("batch indexed", "docs", len(docs), "chunk_size", chunkSize)
	return nil
}

// Remove deletes the document and unwinds every posting it contributed,
// deleting postings lists that become empty. It fails with
// ErrDocumentNotFound if the identifier is absent.
func (ix *Index) Remove(docID string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	entry, exists := ix.docs[docID]
	if !exists {
		return apperrors.Newf(apperrors.ErrDocumentNotFound, 404, "document %q", docID)
	}

	for _, term := range entry.terms {
		byDoc := ix.postings[term]
		delete(byDoc, docID)
		if len(byDoc) == 0 {
			delete(ix.postings, term)
		}
	}
	delete(ix.docs, docID)
	ix.totalLength -= int64(entry.length)
	ix.recomputeStats()
	return nil
}

// Has reports whether the document identifier is currently indexed.
func (ix *Index) Has(docID string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.docs[docID]
	return ok
}

// Postings returns a copy of the term's postings list sorted by document
// identifier. An absent term yields an empty list, never an error.
func (ix *Index) Postings(term string) PostingList {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.copyPostings(term)
}

// DocumentFrequency returns the number of distinct documents containing
// the term.
func (ix *Index) DocumentFrequency(term string) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.postings[term])
}

// DocLength returns the indexed document's total term count, or 0 if the
// document is absent.
func (ix *Index) DocLength(docID string) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if entry, ok := ix.docs[docID]; ok {
		return entry.length
	}
	return 0
}

// Stats returns a consistent point-in-time view of the corpus counters.
func (ix *Index) Stats() Statistics {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.statsLocked()
}

// analyze tokenizes every field of doc and aggregates term frequencies,
// per-field frequencies, and positions. It takes no locks.
func (ix *Index) analyze(doc Document) (*docEntry, map[string]*Posting) {
	termMap := make(map[string]*Posting)
	entry := &docEntry{fieldLengths: make(map[string]int, len(doc.Fields))}

	// Iterate fields in deterministic order so positions are stable.
	fields := make([]string, 0, len(doc.Fields))
	for name := range doc.Fields {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	offset := 0
	for _, field := range fields {
		tokens := ix.analyzer.Analyze(field, doc.Fields[field])
		entry.fieldLengths[field] = len(tokens)
		entry.length += len(tokens)
		for _, tok := range tokens {
			p, ok := termMap[tok.Term]
			if !ok {
				p = &Posting{
					DocID:            doc.ID,
					FieldFrequencies: make(map[string]int, 2),
				}
				termMap[tok.Term] = p
			}
			p.Frequency++
			p.FieldFrequencies[field]++
			p.Positions = append(p.Positions, offset+tok.Position)
		}
		offset += len(tokens)
	}

	entry.terms = make([]string, 0, len(termMap))
	for term := range termMap {
		entry.terms = append(entry.terms, term)
	}
	sort.Strings(entry.terms)
	return entry, termMap
}

// apply inserts a fully analyzed document. Callers must hold the exclusive
// lock and have verified the identifier is not already present.
func (ix *Index) apply(docID string, entry *docEntry, termMap map[string]*Posting) {
	for term, posting := range termMap {
		byDoc, ok := ix.postings[term]
		if !ok {
			byDoc = make(map[string]*Posting)
			ix.postings[term] = byDoc
		}
		byDoc[docID] = posting
	}
	ix.docs[docID] = entry
	ix.totalLength += int64(entry.length)
	ix.recomputeStats()
}

// recomputeStats updates the derived counters inside the same critical
// section as the postings mutation, so readers never observe a statistics
// snapshot inconsistent with the postings they scan.
func (ix *Index) recomputeStats() {
	ix.generation++
	if len(ix.docs) == 0 {
		ix.avgDocLength = 0
		return
	}
	ix.avgDocLength = float64(ix.totalLength) / float64(len(ix.docs))
}

func (ix *Index) statsLocked() Statistics {
	return Statistics{
		Generation:        ix.generation,
		DocCount:          len(ix.docs),
		TotalLength:       ix.totalLength,
		AvgDocLength:      ix.avgDocLength,
		TermCount:         len(ix.postings),
		AnalyzerSignature: ix.analyzer.Signature(),
	}
}

func (ix *Index) copyPostings(term string) PostingList {
	byDoc, ok := ix.postings[term]
	if !ok {
		return PostingList{}
	}
	list := make(PostingList, 0, len(byDoc))
	for _, p := range byDoc {
		list = append(list, *p)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].DocID < list[j].DocID
	})
	return list
}
