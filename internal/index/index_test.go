package index

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/quarrysearch/quarry/internal/analyzer"
	apperrors "github.com/quarrysearch/quarry/pkg/errors"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	return New(analyzer.New(analyzer.DefaultConfig()))
}

func doc(id, body string) Document {
	return Document{ID: id, Fields: map[string]string{"body": body}}
}

func TestAddAndPostings(t *testing.T) {
	ix := newTestIndex(t)

	if err := ix.Add(doc("1", "distributed search engine")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := ix.Add(doc("2", "search quality")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if df := ix.DocumentFrequency("search"); df != 2 {
		t.Errorf("df(search) = %d, want 2", df)
	}
	if df := ix.DocumentFrequency("distribut"); df != 1 {
		t.Errorf("df(distribut) = %d, want 1", df)
	}

	postings := ix.Postings("search")
	if len(postings) != 2 {
		t.Fatalf("postings(search) has %d entries, want 2", len(postings))
	}
	// Sorted by document identifier.
	if postings[0].DocID != "1" || postings[1].DocID != "2" {
		t.Errorf("postings order = %s, %s; want 1, 2", postings[0].DocID, postings[1].DocID)
	}
}

func TestAddDuplicate(t *testing.T) {
	ix := newTestIndex(t)

	if err := ix.Add(doc("1", "hello world")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	err := ix.Add(doc("1", "different content entirely"))
	if !errors.Is(err, apperrors.ErrDuplicateDocument) {
		t.Fatalf("duplicate Add error = %v, want ErrDuplicateDocument", err)
	}

	// The original postings must be untouched.
	if df := ix.DocumentFrequency("different"); df != 0 {
		t.Errorf("rejected document leaked postings: df(different) = %d", df)
	}
	if stats := ix.Stats(); stats.DocCount != 1 {
		t.Errorf("DocCount = %d, want 1", stats.DocCount)
	}
}

func TestRemoveRestoresStatistics(t *testing.T) {
	ix := newTestIndex(t)

	if err := ix.Add(doc("1", "alpha beta")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	before := ix.Stats()
	dfBefore := ix.DocumentFrequency("gamma")

	if err := ix.Add(doc("2", "gamma delta epsilon")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := ix.Remove("2"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	after := ix.Stats()
	if after.DocCount != before.DocCount {
		t.Errorf("DocCount = %d, want %d", after.DocCount, before.DocCount)
	}
	if after.TotalLength != before.TotalLength {
		t.Errorf("TotalLength = %d, want %d", after.TotalLength, before.TotalLength)
	}
	if after.AvgDocLength != before.AvgDocLength {
		t.Errorf("AvgDocLength = %g, want %g", after.AvgDocLength, before.AvgDocLength)
	}
	if df := ix.DocumentFrequency("gamma"); df != dfBefore {
		t.Errorf("df(gamma) = %d, want %d", df, dfBefore)
	}
	if ix.Has("2") {
		t.Error("removed document still reported as indexed")
	}
}

func TestRemoveDeletesEmptyPostingLists(t *testing.T) {
	ix := newTestIndex(t)

	if err := ix.Add(doc("1", "unique token here")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	termCount := ix.Stats().TermCount
	if termCount == 0 {
		t.Fatal("expected terms after add")
	}
	if err := ix.Remove("1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got := ix.Stats().TermCount; got != 0 {
		t.Errorf("TermCount after removing only document = %d, want 0", got)
	}
}

func TestRemoveMissing(t *testing.T) {
	ix := newTestIndex(t)
	if err := ix.Remove("ghost"); !errors.Is(err, apperrors.ErrDocumentNotFound) {
		t.Fatalf("Remove(ghost) error = %v, want ErrDocumentNotFound", err)
	}
}

func TestAddBatchAllOrNothing(t *testing.T) {
	ix := newTestIndex(t)

	if err := ix.Add(doc("2", "already indexed")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	before := ix.Stats()

	err := ix.AddBatch([]Document{
		doc("1", "first new document"),
		doc("2", "collides with existing"),
		doc("3", "third new document"),
	}, 2)

	var bulkErr *apperrors.BulkError
	if !errors.As(err, &bulkErr) {
		t.Fatalf("AddBatch error = %v, want BulkError", err)
	}
	if len(bulkErr.DocumentIDs) != 1 || bulkErr.DocumentIDs[0] != "2" {
		t.Errorf("offending ids = %v, want [2]", bulkErr.DocumentIDs)
	}
	if !errors.Is(err, apperrors.ErrDuplicateDocument) {
		t.Errorf("BulkError should wrap ErrDuplicateDocument, got %v", err)
	}

	// Nothing from the batch may have been applied.
	after := ix.Stats()
	if after.DocCount != before.DocCount {
		t.Errorf("DocCount = %d, want %d", after.DocCount, before.DocCount)
	}
	if ix.Has("1") || ix.Has("3") {
		t.Error("rejected batch left documents behind")
	}
}

func TestAddBatchInBatchDuplicates(t *testing.T) {
	ix := newTestIndex(t)

	err := ix.AddBatch([]Document{
		doc("1", "one"),
		doc("1", "one again"),
	}, 0)
	var bulkErr *apperrors.BulkError
	if !errors.As(err, &bulkErr) {
		t.Fatalf("AddBatch error = %v, want BulkError", err)
	}
	if ix.Stats().DocCount != 0 {
		t.Error("batch with internal duplicate must apply nothing")
	}
}

func TestAddBatchChunked(t *testing.T) {
	ix := newTestIndex(t)

	docs := make([]Document, 100)
	for i := range docs {
		docs[i] = doc(fmt.Sprintf("doc-%03d", i), "chunked batch content")
	}
	if err := ix.AddBatch(docs, 7); err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	if got := ix.Stats().DocCount; got != 100 {
		t.Errorf("DocCount = %d, want 100", got)
	}
}

func TestPostingsReturnsCopy(t *testing.T) {
	ix := newTestIndex(t)
	if err := ix.Add(doc("1", "mutation safety")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	postings := ix.Postings("mutat")
	if len(postings) != 1 {
		t.Fatalf("postings = %v", postings)
	}
	postings[0].Frequency = 999

	if again := ix.Postings("mutat"); again[0].Frequency == 999 {
		t.Error("Postings exposed internal state")
	}
}

func TestQuerySnapshotConsistency(t *testing.T) {
	ix := newTestIndex(t)
	if err := ix.Add(doc("1", "alpha beta gamma")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := ix.Add(doc("2", "alpha delta")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	snap := ix.QuerySnapshot([]string{"alpha", "beta"})
	if snap.Stats.DocCount != 2 {
		t.Errorf("snapshot DocCount = %d, want 2", snap.Stats.DocCount)
	}
	if df := snap.DocumentFrequency("alpha"); df != 2 {
		t.Errorf("snapshot df(alpha) = %d, want 2", df)
	}
	if snap.DocLengths["1"] != 3 || snap.DocLengths["2"] != 2 {
		t.Errorf("snapshot doc lengths = %v", snap.DocLengths)
	}

	// Mutations after the snapshot must not show through.
	if err := ix.Remove("2"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if df := snap.DocumentFrequency("alpha"); df != 2 {
		t.Errorf("snapshot df(alpha) changed after remove: %d", df)
	}
	if snap.Stats.DocCount != 2 {
		t.Errorf("snapshot DocCount changed after remove: %d", snap.Stats.DocCount)
	}
}

func TestGenerationAdvances(t *testing.T) {
	ix := newTestIndex(t)
	g0 := ix.Stats().Generation
	if err := ix.Add(doc("1", "bump")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	g1 := ix.Stats().Generation
	if g1 <= g0 {
		t.Errorf("generation did not advance: %d -> %d", g0, g1)
	}
	if err := ix.Remove("1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if g2 := ix.Stats().Generation; g2 <= g1 {
		t.Errorf("generation did not advance on remove: %d -> %d", g1, g2)
	}
}

func TestFieldFrequenciesAndPositions(t *testing.T) {
	ix := newTestIndex(t)
	err := ix.Add(Document{ID: "1", Fields: map[string]string{
		"body":  "kernel tuning guide",
		"title": "kernel notes",
	}})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	postings := ix.Postings("kernel")
	if len(postings) != 1 {
		t.Fatalf("postings(kernel) = %v", postings)
	}
	p := postings[0]
	if p.Frequency != 2 {
		t.Errorf("Frequency = %d, want 2", p.Frequency)
	}
	if p.FieldFrequencies["body"] != 1 || p.FieldFrequencies["title"] != 1 {
		t.Errorf("FieldFrequencies = %v", p.FieldFrequencies)
	}
	if len(p.Positions) != 2 {
		t.Errorf("Positions = %v, want two entries", p.Positions)
	}
	if ix.DocLength("1") != 5 {
		t.Errorf("DocLength = %d, want 5", ix.DocLength("1"))
	}
}

func TestConcurrentReadsDuringWrites(t *testing.T) {
	ix := newTestIndex(t)
	for i := 0; i < 50; i++ {
		if err := ix.Add(doc(fmt.Sprintf("seed-%d", i), "kernel graph node")); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("w%d-%d", w, i)
				if err := ix.Add(doc(id, "kernel graph node")); err != nil {
					t.Errorf("Add(%s): %v", id, err)
					return
				}
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				snap := ix.QuerySnapshot([]string{"kernel", "graph"})
				stats := snap.Stats
				if stats.DocCount < 50 {
					t.Errorf("DocCount = %d, want >= 50", stats.DocCount)
					return
				}
				if stats.AvgDocLength <= 0 {
					t.Errorf("AvgDocLength = %g, want > 0", stats.AvgDocLength)
					return
				}
				if df := snap.DocumentFrequency("graph"); df == 0 || df > stats.DocCount {
					t.Errorf("df(graph) = %d with DocCount %d", df, stats.DocCount)
					return
				}
			}
		}()
	}
	wg.Wait()

	if got := ix.Stats().DocCount; got != 250 {
		t.Errorf("final DocCount = %d, want 250", got)
	}
}
