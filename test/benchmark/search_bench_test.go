// Package benchmark contains Go benchmarks for the analyzer, the inverted
// index, and the query pipeline, measuring throughput and allocation
// behaviour.
package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/quarrysearch/quarry/internal/analyzer"
	"github.com/quarrysearch/quarry/internal/index"
	"github.com/quarrysearch/quarry/internal/query"
	"github.com/quarrysearch/quarry/internal/ranker"
)

const benchText = "distributed search engines require careful indexing " +
	"strategies and consistent snapshot semantics for concurrent query " +
	"processing under sustained ingestion load"

func benchDoc(i int) index.Document {
	return index.Document{
		ID: fmt.Sprintf("doc-%06d", i),
		Fields: map[string]string{
			"title": fmt.Sprintf("benchmark document %d", i),
			"body":  benchText,
		},
	}
}

func seededIndex(b *testing.B, n int) (*index.Index, *analyzer.Analyzer) {
	b.Helper()
	a := analyzer.New(analyzer.DefaultConfig())
	ix := index.New(a)
	docs := make([]index.Document, n)
	for i := range docs {
		docs[i] = benchDoc(i)
	}
	if err := ix.AddBatch(docs, 256); err != nil {
		b.Fatalf("AddBatch: %v", err)
	}
	return ix, a
}

// BenchmarkAnalyze measures the full normalization pipeline on a
// paragraph-sized input.
func BenchmarkAnalyze(b *testing.B) {
	a := analyzer.New(analyzer.DefaultConfig())
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a.Analyze("body", benchText)
	}
}

func BenchmarkAnalyzeNGrams(b *testing.B) {
	cfg := analyzer.DefaultConfig()
	cfg.NGramSize = 2
	a := analyzer.New(cfg)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a.Analyze("body", benchText)
	}
}

// BenchmarkIndexAdd measures per-document insert throughput.
func BenchmarkIndexAdd(b *testing.B) {
	ix := index.New(analyzer.New(analyzer.DefaultConfig()))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := ix.Add(benchDoc(i)); err != nil {
			b.Fatalf("Add: %v", err)
		}
	}
}

// BenchmarkIndexSnapshot measures the per-query snapshot cost over 10 000
// documents.
func BenchmarkIndexSnapshot(b *testing.B) {
	ix, _ := seededIndex(b, 10000)
	terms := []string{"search", "index", "snapshot"}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ix.QuerySnapshot(terms)
	}
}

// BenchmarkSearch measures end-to-end query latency at various corpus
// sizes.
func BenchmarkSearch(b *testing.B) {
	for _, size := range []int{1000, 10000} {
		b.Run(fmt.Sprintf("docs-%d", size), func(b *testing.B) {
			ix, a := seededIndex(b, size)
			e := query.New(ix, a)
			req := query.Request{Text: "distributed indexing", Limit: 10}
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := e.Execute(context.Background(), req); err != nil {
					b.Fatalf("Execute: %v", err)
				}
			}
		})
	}
}

// BenchmarkSearchParallel measures concurrent read throughput.
func BenchmarkSearchParallel(b *testing.B) {
	ix, a := seededIndex(b, 10000)
	e := query.New(ix, a)
	req := query.Request{Text: "distributed indexing", Limit: 10}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := e.Execute(context.Background(), req); err != nil {
				b.Fatalf("Execute: %v", err)
			}
		}
	})
}

// BenchmarkTopK measures ranking cost for a large candidate set.
func BenchmarkTopK(b *testing.B) {
	docs := make([]ranker.ScoredDoc, 100000)
	for i := range docs {
		docs[i] = ranker.ScoredDoc{
			DocID: fmt.Sprintf("doc-%06d", i),
			Score: float64(i%997) / 997,
		}
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ranker.TopK(docs, 10)
	}
}

// BenchmarkFingerprint measures cache-key derivation.
func BenchmarkFingerprint(b *testing.B) {
	req := query.Request{
		Text:    "distributed search engine indexing",
		Limit:   10,
		Ranking: ranker.DefaultParams(),
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = query.Fingerprint(req)
	}
}
