package scraper

import (
	"sort"

	"github.com/aluiziolira/go-scrape-reactions/models"
)

// Order returns results sorted by the discovery order of refs. Results whose
// reference is not in refs sort after all known ones, keeping their relative
// arrival order.
func Order(refs []models.ItemReference, results []models.FetchResult) []models.FetchResult {
	rank := make(map[string]int, len(refs))
	for i, ref := range refs {
		if _, ok := rank[ref.ID]; !ok {
			rank[ref.ID] = i
		}
	}

	out := make([]models.FetchResult, len(results))
	copy(out, results)

	position := func(r models.FetchResult) int {
		if i, ok := rank[r.Ref.ID]; ok {
			return i
		}
		return len(refs)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return position(out[i]) < position(out[j])
	})
	return out
}
