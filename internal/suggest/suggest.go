// Package suggest offers fuzzy "did you mean" candidates when a recipe or
// module name can't be resolved (spec.md §8 scenario S1), using the same
// approach the teacher's CLI uses for unknown-command suggestions.
package suggest

import (
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Best returns up to n candidates from universe that fuzzy-match name,
// ranked by fuzzysearch's match rank (closest first). Returns nil if
// nothing in universe matches at all.
func Best(name string, universe []string, n int) []string {
	ranks := fuzzy.RankFindFold(name, universe)
	if len(ranks) == 0 {
		return nil
	}
	sort.Sort(ranks)
	if len(ranks) > n {
		ranks = ranks[:n]
	}
	out := make([]string, len(ranks))
	for i, r := range ranks {
		out[i] = r.Target
	}
	return out
}
