package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quarrysearch/quarry/internal/analyzer"
	"github.com/quarrysearch/quarry/internal/index"
	"github.com/quarrysearch/quarry/internal/ranker"
	apperrors "github.com/quarrysearch/quarry/pkg/errors"
)

func newTestEngine(t *testing.T, docs ...index.Document) *Engine {
	t.Helper()
	a := analyzer.New(analyzer.DefaultConfig())
	ix := index.New(a)
	for _, doc := range docs {
		if err := ix.Add(doc); err != nil {
			t.Fatalf("Add(%s): %v", doc.ID, err)
		}
	}
	return New(ix, a)
}

func doc(id, body string) index.Document {
	return index.Document{ID: id, Fields: map[string]string{"body": body}}
}

func resultIDs(page *Page) []string {
	ids := make([]string, len(page.Results))
	for i, r := range page.Results {
		ids[i] = r.DocID
	}
	return ids
}

func contains(ids []string, id string) bool {
	for _, got := range ids {
		if got == id {
			return true
		}
	}
	return false
}

func TestExecuteORMatchesAnyTerm(t *testing.T) {
	e := newTestEngine(t,
		doc("1", "apple orchard"),
		doc("2", "banana plantation"),
		doc("3", "cherry grove"),
	)

	page, err := e.Execute(context.Background(), Request{Text: "apple banana", Limit: 10})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if page.TotalHits != 2 {
		t.Fatalf("TotalHits = %d, want 2", page.TotalHits)
	}
	ids := resultIDs(page)
	if !contains(ids, "1") || !contains(ids, "2") {
		t.Errorf("results = %v, want docs 1 and 2", ids)
	}
}

func TestExecuteANDRequiresAllTerms(t *testing.T) {
	e := newTestEngine(t,
		doc("1", "apple banana"),
		doc("2", "apple cherry"),
		doc("3", "banana cherry"),
	)

	page, err := e.Execute(context.Background(), Request{
		Text:  "apple banana",
		Mode:  ModeAND,
		Limit: 10,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := resultIDs(page); len(got) != 1 || got[0] != "1" {
		t.Errorf("results = %v, want [1]", got)
	}
}

func TestExecuteInlineOperators(t *testing.T) {
	e := newTestEngine(t,
		doc("1", "apple banana"),
		doc("2", "apple cherry"),
	)

	page, err := e.Execute(context.Background(), Request{
		Text:  "apple AND banana",
		Limit: 10,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := resultIDs(page); len(got) != 1 || got[0] != "1" {
		t.Errorf("inline AND results = %v, want [1]", got)
	}
}

func TestExecuteNOTExcludes(t *testing.T) {
	e := newTestEngine(t,
		doc("1", "apple banana"),
		doc("2", "apple cherry"),
	)

	page, err := e.Execute(context.Background(), Request{
		Text:  "apple NOT cherry",
		Limit: 10,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := resultIDs(page); len(got) != 1 || got[0] != "1" {
		t.Errorf("NOT results = %v, want [1]", got)
	}
}

func TestExecuteRareTermOutranksCommon(t *testing.T) {
	e := newTestEngine(t,
		doc("1", "common common common"),
		doc("2", "common rare"),
		doc("3", "common filler"),
		doc("4", "common filler"),
	)

	for _, alg := range []ranker.Algorithm{ranker.AlgorithmBM25, ranker.AlgorithmTFIDF} {
		page, err := e.Execute(context.Background(), Request{
			Text:    "common rare",
			Ranking: ranker.Params{Algorithm: alg},
			Limit:   10,
		})
		if err != nil {
			t.Fatalf("%s: Execute: %v", alg, err)
		}
		if len(page.Results) == 0 || page.Results[0].DocID != "2" {
			t.Errorf("%s: top result = %v, want doc 2", alg, resultIDs(page))
		}
	}
}

func TestExecuteTieBreakByDocID(t *testing.T) {
	// Identical documents score identically; order must be ascending by
	// identifier, and stable across runs.
	e := newTestEngine(t,
		doc("b", "identical text"),
		doc("a", "identical text"),
		doc("c", "identical text"),
	)

	for i := 0; i < 5; i++ {
		page, err := e.Execute(context.Background(), Request{Text: "identical", Limit: 10})
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		got := resultIDs(page)
		if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
			t.Fatalf("run %d: order = %v, want [a b c]", i, got)
		}
	}
}

func TestExecutePagination(t *testing.T) {
	docs := []index.Document{
		doc("1", "target"),
		doc("2", "target target"),
		doc("3", "target target target"),
		doc("4", "target target target target"),
	}
	e := newTestEngine(t, docs...)

	first, err := e.Execute(context.Background(), Request{Text: "target", Limit: 2})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	second, err := e.Execute(context.Background(), Request{Text: "target", Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if first.TotalHits != 4 || second.TotalHits != 4 {
		t.Errorf("TotalHits = %d, %d; want 4", first.TotalHits, second.TotalHits)
	}
	if len(first.Results) != 2 || len(second.Results) != 2 {
		t.Fatalf("page sizes = %d, %d; want 2", len(first.Results), len(second.Results))
	}
	seen := map[string]bool{}
	for _, r := range append(first.Results, second.Results...) {
		if seen[r.DocID] {
			t.Errorf("document %s appears on both pages", r.DocID)
		}
		seen[r.DocID] = true
	}
	if first.Results[1].Score < second.Results[0].Score {
		t.Error("second page outranks first page")
	}
}

func TestExecuteZeroLimit(t *testing.T) {
	e := newTestEngine(t, doc("1", "something"))
	page, err := e.Execute(context.Background(), Request{Text: "something", Limit: 0})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if page.TotalHits != 1 || len(page.Results) != 0 {
		t.Errorf("TotalHits = %d, Results = %v; want count only", page.TotalHits, page.Results)
	}
}

func TestExecuteOffsetPastEnd(t *testing.T) {
	e := newTestEngine(t, doc("1", "something"))
	page, err := e.Execute(context.Background(), Request{Text: "something", Limit: 10, Offset: 50})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(page.Results) != 0 {
		t.Errorf("Results = %v, want empty page", page.Results)
	}
}

func TestExecuteInvalidRequests(t *testing.T) {
	e := newTestEngine(t, doc("1", "something"))

	cases := []Request{
		{Text: "something", Limit: -1},
		{Text: "something", Limit: 10, Offset: -1},
		{Text: "something", Limit: 10, Ranking: ranker.Params{Algorithm: "pagerank"}},
	}
	for _, req := range cases {
		if _, err := e.Execute(context.Background(), req); !errors.Is(err, apperrors.ErrInvalidQuery) {
			t.Errorf("Execute(%+v) error = %v, want ErrInvalidQuery", req, err)
		}
	}
}

func TestExecuteEmptyQuery(t *testing.T) {
	e := newTestEngine(t, doc("1", "something"))
	for _, text := range []string{"", "   ", "the of and"} {
		page, err := e.Execute(context.Background(), Request{Text: text, Limit: 10})
		if err != nil {
			t.Fatalf("Execute(%q): %v", text, err)
		}
		if page.TotalHits != 0 || len(page.Results) != 0 {
			t.Errorf("Execute(%q) = %d hits, want 0", text, page.TotalHits)
		}
	}
}

func TestExecuteUnknownTerm(t *testing.T) {
	e := newTestEngine(t, doc("1", "something"))
	page, err := e.Execute(context.Background(), Request{Text: "elsewhere", Limit: 10})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if page.TotalHits != 0 {
		t.Errorf("TotalHits = %d, want 0", page.TotalHits)
	}
}

func TestExecuteAnalyzerMismatch(t *testing.T) {
	buildAnalyzer := analyzer.New(analyzer.DefaultConfig())
	ix := index.New(buildAnalyzer)
	if err := ix.Add(doc("1", "something")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	changed := analyzer.DefaultConfig()
	changed.NGramSize = 2
	e := New(ix, analyzer.New(changed))

	_, err := e.Execute(context.Background(), Request{Text: "something", Limit: 10})
	if !errors.Is(err, apperrors.ErrAnalysisConfigMismatch) {
		t.Fatalf("Execute error = %v, want ErrAnalysisConfigMismatch", err)
	}
}

func TestExecuteCancelled(t *testing.T) {
	e := newTestEngine(t, doc("1", "something"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Execute(ctx, Request{Text: "something", Limit: 10})
	if !errors.Is(err, apperrors.ErrCancelled) {
		t.Fatalf("Execute error = %v, want ErrCancelled", err)
	}
}

func TestExecuteDeadlineExceeded(t *testing.T) {
	e := newTestEngine(t, doc("1", "something"))

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, err := e.Execute(ctx, Request{Text: "something", Limit: 10})
	if !errors.Is(err, apperrors.ErrTimeout) {
		t.Fatalf("Execute error = %v, want ErrTimeout", err)
	}
}

func TestExecuteBreakdown(t *testing.T) {
	e := newTestEngine(t, doc("1", "apple banana apple"))

	page, err := e.Execute(context.Background(), Request{
		Text:          "apple banana",
		Limit:         10,
		WithBreakdown: true,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(page.Results) != 1 {
		t.Fatalf("results = %v", resultIDs(page))
	}
	breakdown := page.Results[0].Breakdown
	if len(breakdown) != 2 {
		t.Fatalf("breakdown = %v, want two terms", breakdown)
	}
	var sum float64
	for _, contribution := range breakdown {
		sum += contribution
	}
	if diff := sum - page.Results[0].Score; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("breakdown sum %g != score %g", sum, page.Results[0].Score)
	}
}

func TestExecuteTermStats(t *testing.T) {
	e := newTestEngine(t,
		doc("1", "apple banana"),
		doc("2", "apple cherry"),
	)

	page, err := e.Execute(context.Background(), Request{Text: "apple banana", Limit: 10})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if page.TermStats["apple"] != 2 || page.TermStats["banana"] != 1 {
		t.Errorf("TermStats = %v", page.TermStats)
	}
}

func TestExecuteUppercaseModeIntersects(t *testing.T) {
	e := newTestEngine(t,
		doc("1", "apple banana"),
		doc("2", "apple cherry"),
	)

	page, err := e.Execute(context.Background(), Request{
		Text:  "apple banana",
		Mode:  Mode("AND"),
		Limit: 10,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := resultIDs(page); len(got) != 1 || got[0] != "1" {
		t.Errorf("results = %v, want [1]", got)
	}
}

func TestExecuteRejectsUnknownMode(t *testing.T) {
	e := newTestEngine(t, doc("1", "apple"))

	_, err := e.Execute(context.Background(), Request{
		Text:  "apple",
		Mode:  Mode("fuzzy"),
		Limit: 10,
	})
	if !errors.Is(err, apperrors.ErrInvalidQuery) {
		t.Errorf("err = %v, want ErrInvalidQuery", err)
	}
}

func TestExecuteStopwordQueryCarriesStats(t *testing.T) {
	e := newTestEngine(t,
		doc("1", "apple"),
		doc("2", "banana"),
	)

	page, err := e.Execute(context.Background(), Request{Text: "the", Limit: 10})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(page.Results) != 0 {
		t.Fatalf("results = %v, want none", resultIDs(page))
	}
	if page.Stats.DocCount != 2 {
		t.Errorf("Stats.DocCount = %d, want 2", page.Stats.DocCount)
	}
	if page.Stats.Generation == 0 {
		t.Error("Stats.Generation = 0, want the index generation")
	}
}
