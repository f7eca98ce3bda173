package simulation

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// MaxCombinationRisks bounds enumeration input; the permutation walk is
// factorial in the number of risks.
const MaxCombinationRisks = 10

// Combination is one ordered risk-interaction tuple, anchored at Risks[0].
type Combination struct {
	Anchor      string   `json:"anchor"`
	AnchorIndex int      `json:"anchor_index"`
	Risks       []string `json:"risks"`
}

// SetKey returns the order-insensitive identity of the combination.
func (c Combination) SetKey() string {
	return setKey(c.Risks)
}

// EnumerateCombinations lists, for every anchor risk, each ordered
// permutation of each subset of the remaining risks with the anchor
// prepended, keeping only tuples whose unordered set has not been seen.
// Output is sorted by anchor index, tuple length, then tuple order.
func EnumerateCombinations(riskIDs []string) ([]Combination, error) {
	ids := dedupeIDs(riskIDs)
	if len(ids) > MaxCombinationRisks {
		return nil, fmt.Errorf("enumerate %d risks (max %d): %w", len(ids), MaxCombinationRisks, ErrTooManyRisks)
	}

	seen := map[string]struct{}{}
	out := make([]Combination, 0, (1<<len(ids))-1)
	for anchorIdx, anchor := range ids {
		rest := make([]string, 0, len(ids)-1)
		rest = append(rest, ids[:anchorIdx]...)
		rest = append(rest, ids[anchorIdx+1:]...)

		for size := 0; size <= len(rest); size++ {
			permute(rest, size, func(perm []string) {
				tuple := make([]string, 0, size+1)
				tuple = append(tuple, anchor)
				tuple = append(tuple, perm...)
				key := setKey(tuple)
				if _, ok := seen[key]; ok {
					return
				}
				seen[key] = struct{}{}
				out = append(out, Combination{
					Anchor:      anchor,
					AnchorIndex: anchorIdx,
					Risks:       tuple,
				})
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.AnchorIndex != b.AnchorIndex {
			return a.AnchorIndex < b.AnchorIndex
		}
		if len(a.Risks) != len(b.Risks) {
			return len(a.Risks) < len(b.Risks)
		}
		return slices.Compare(a.Risks, b.Risks) < 0
	})
	return out, nil
}

// permute calls visit with every ordered k-permutation of items, in
// lexicographic order of item positions. The slice passed to visit is reused.
func permute(items []string, k int, visit func([]string)) {
	used := make([]bool, len(items))
	buf := make([]string, 0, k)
	var walk func()
	walk = func() {
		if len(buf) == k {
			visit(buf)
			return
		}
		for i, item := range items {
			if used[i] {
				continue
			}
			used[i] = true
			buf = append(buf, item)
			walk()
			buf = buf[:len(buf)-1]
			used[i] = false
		}
	}
	walk()
}

// setKey builds a canonical key for an unordered risk set.
func setKey(ids []string) string {
	sorted := append([]string(nil), ids...)
	slices.Sort(sorted)
	return strings.Join(sorted, "\x1f")
}

// dedupeIDs trims ids and drops blanks and repeats, keeping first occurrences.
func dedupeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := map[string]struct{}{}
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
