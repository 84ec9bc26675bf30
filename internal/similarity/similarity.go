// Package similarity provides a normalized Levenshtein similarity score used
// for merchant-name matching and description normalization.
package similarity

import "strings"

// Score returns a similarity score in [0, 1] between two strings, computed as
// 1 - editDistance(a, b) / max(len(a), len(b)). Comparison is case-insensitive
// and Score("", "") is 1.0. The function is pure and symmetric.
func Score(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)

	if a == b {
		return 1.0
	}

	ra := []rune(a)
	rb := []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 1.0
	}

	dist := levenshtein(ra, rb)
	return 1.0 - float64(dist)/float64(maxLen)
}

// levenshtein computes the edit distance between two rune slices using a
// rolling single-row table, O(len(a)*len(b)) time and O(len(b)) space.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	row := make([]int, len(b)+1)
	for j := range row {
		row[j] = j
	}

	for i := 1; i <= len(a); i++ {
		prev := row[0] // row[i-1][j-1] before this cell is overwritten
		row[0] = i
		for j := 1; j <= len(b); j++ {
			cur := row[j]

			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}

			ins := row[j-1] + 1
			del := row[j] + 1
			sub := prev + cost

			min := ins
			if del < min {
				min = del
			}
			if sub < min {
				min = sub
			}
			row[j] = min
			prev = cur
		}
	}

	return row[len(b)]
}
