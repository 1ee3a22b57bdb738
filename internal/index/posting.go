package index

// Document is the unit of ingestion: an opaque caller-supplied identifier
// plus named text fields. Once added it is immutable; updates go through
// remove-then-reinsert.
type Document struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// Posting records one (term, document) pair: how often the term occurs in
// the document overall and per field, and at which positions.
type Posting struct {
	DocID            string
	Frequency        int
	FieldFrequencies map[string]int
	Positions        []int
}

// PostingList is the per-term sequence of postings, ordered by document
// identifier. Its length equals the term's document frequency.
type PostingList []Posting

// Statistics is a consistent point-in-time view of corpus-level counters.
// Generation increments with every mutation, so two Statistics with equal
// generations describe the same index state.
type Statistics struct {
	Generation        uint64  `json:"generation"`
	DocCount          int     `json:"doc_count"`
	TotalLength       int64   `json:"total_length"`
	AvgDocLength      float64 `json:"avg_doc_length"`
	TermCount         int     `json:"term_count"`
	AnalyzerSignature string  `json:"analyzer_signature"`
}

// docEntry is the index's per-document bookkeeping: the document's total
// term count, per-field term counts, and the distinct terms it contributed
// (needed to unwind its postings on removal).
type docEntry struct {
	length       int
	fieldLengths map[string]int
	terms        []string
}
