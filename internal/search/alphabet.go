package search

import (
	"golang.org/x/exp/slices"
)

// ReduceAlphabet removes from alphabet every character that occurs in any of
// the decoded hints. The result is sorted ascending and free of duplicates, so
// applying it again with the same hints returns the same string.
func ReduceAlphabet(alphabet string, hints []string) string {
	excluded := make(map[rune]struct{})
	for _, h := range hints {
		for _, r := range h {
			excluded[r] = struct{}{}
		}
	}

	kept := make([]rune, 0, len(alphabet))
	for _, r := range alphabet {
		if _, ok := excluded[r]; !ok {
			kept = append(kept, r)
		}
	}
	return string(sortedUnique(kept))
}

func sortedUnique(rs []rune) []rune {
	out := slices.Clone(rs)
	slices.Sort(out)
	return slices.Compact(out)
}
