package index

// Snapshot is the immutable per-query view of the index: corpus statistics
// plus copies of the postings lists and document lengths a query needs.
// Everything is captured under a single shared-lock acquisition, so a
// concurrent write completing mid-query cannot change the denominators of
// that query's scoring arithmetic.
type Snapshot struct {
	Stats      Statistics
	Postings   map[string]PostingList
	DocLengths map[string]int
}

// QuerySnapshot captures the statistics, the postings lists for the given
// terms, and the lengths of every document those postings reference, all
// in one shared-lock critical section.
func (ix *Index) QuerySnapshot(terms []string) *Snapshot {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	snap := &Snapshot{
		Stats:      ix.statsLocked(),
		Postings:   make(map[string]PostingList, len(terms)),
		DocLengths: make(map[string]int),
	}
	for _, term := range terms {
		if _, done := snap.Postings[term]; done {
			continue
		}
		list := ix.copyPostings(term)
		snap.Postings[term] = list
		for _, p := range list {
			if _, done := snap.DocLengths[p.DocID]; done {
				continue
			}
			if entry, ok := ix.docs[p.DocID]; ok {
				snap.DocLengths[p.DocID] = entry.length
			}
		}
	}
	return snap
}

// DocumentFrequency returns the snapshot's document frequency for term:
// the length of the captured postings list, 0 for terms the snapshot does
// not contain.
func (s *Snapshot) DocumentFrequency(term string) int {
	return len(s.Postings[term])
}
