package query

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
)

// Fingerprint derives the deterministic cache key for a request: equal
// fingerprints mean the requests would produce identical pages against the
// same index state. Word order is preserved because n-gram analysis is
// order-sensitive; everything else is canonicalized.
func Fingerprint(req Request) string {
	var sb strings.Builder
	sb.WriteString(strings.Join(strings.Fields(strings.ToLower(req.Text)), " "))
	fmt.Fprintf(&sb, "|mode=%s", normalizeMode(req.Mode))

	ranking := req.Ranking
	if ranking.Algorithm == "" {
		ranking.Algorithm = "bm25"
	}
	fmt.Fprintf(&sb, "|alg=%s|k1=%g|b=%g|logtf=%t",
		ranking.Algorithm, ranking.K1, ranking.B, ranking.LogTF)

	if len(ranking.FieldWeights) > 0 {
		fields := make([]string, 0, len(ranking.FieldWeights))
		for field := range ranking.FieldWeights {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			fmt.Fprintf(&sb, "|fw:%s=%g", field, ranking.FieldWeights[field])
		}
	}

	fmt.Fprintf(&sb, "|limit=%d|offset=%d|breakdown=%t",
		req.Limit, req.Offset, req.WithBreakdown)

	sum := sha256.Sum256([]byte(sb.String()))
	return fmt.Sprintf("%x", sum[:16])
}
