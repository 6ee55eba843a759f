package search

import (
	"github.com/dreamware/hashcrack/internal/digest"
)

// DecodeHints returns the prefixes of length n of alphabet permutations whose
// digest is one of targets, in discovery order.
//
// n is clamped to [0, len(alphabet)]. The result never holds more entries than
// there are distinct targets; a shorter result means the permutation space was
// exhausted before every target matched.
func DecodeHints(alphabet string, n int, targets []string) []string {
	want := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		want[t] = struct{}{}
	}
	decoded := make([]string, 0, len(want))
	if len(want) == 0 {
		return decoded
	}

	chars := []rune(alphabet)
	if n > len(chars) {
		n = len(chars)
	}
	if n < 0 {
		n = 0
	}

	found := make(map[string]struct{}, len(want))
	visit := func(perm []rune) bool {
		prefix := string(perm[:n])
		h := digest.Hex(prefix)
		if _, ok := want[h]; ok {
			if _, seen := found[h]; !seen {
				found[h] = struct{}{}
				decoded = append(decoded, prefix)
			}
		}
		return len(found) == len(want)
	}

	heapPermute(chars, visit)
	return decoded
}

// heapPermute calls visit for every permutation of a, generated in place with
// the iterative form of Heap's algorithm. It stops early when visit returns true.
func heapPermute(a []rune, visit func([]rune) bool) {
	if visit(a) {
		return
	}
	c := make([]int, len(a))
	for i := 1; i < len(a); {
		if c[i] < i {
			if i%2 == 0 {
				a[0], a[i] = a[i], a[0]
			} else {
				a[c[i]], a[i] = a[i], a[c[i]]
			}
			if visit(a) {
				return
			}
			c[i]++
			i = 1
			continue
		}
		c[i] = 0
		i++
	}
}
