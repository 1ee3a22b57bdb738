package ranker

import "container/heap"

// TopK selects the k best-scored documents in ranked order: descending by
// score, ties broken by ascending document identifier. It keeps a bounded
// min-heap so memory stays O(k) regardless of candidate count. k <= 0
// yields an empty slice.
func TopK(docs []ScoredDoc, k int) []ScoredDoc {
	if k <= 0 {
		return []ScoredDoc{}
	}
	h := &scoredDocHeap{}
	heap.Init(h)
	for _, doc := range docs {
		heap.Push(h, doc)
		if h.Len() > k {
			heap.Pop(h)
		}
	}
	result := make([]ScoredDoc, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(ScoredDoc)
	}
	return result
}

// scoredDocHeap is a min-heap whose root is the worst-ranked document:
// lowest score, or among equal scores the greatest identifier.
type scoredDocHeap []ScoredDoc

func (h scoredDocHeap) Len() int { return len(h) }

func (h scoredDocHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].DocID > h[j].DocID
}

func (h scoredDocHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoredDocHeap) Push(x any) {
	*h = append(*h, x.(ScoredDoc))
}

func (h *scoredDocHeap) Pop() any {
	old := *h
	n := len(old)
	doc := old[n-1]
	*h = old[:n-1]
	return doc
}
