package ui

import (
	"sort"
	"strings"
)

// MaxDistance is the largest edit distance Suggest still reports
const MaxDistance = 3

// MaxSuggestions caps the number of names Suggest returns
const MaxSuggestions = 3

// Suggest returns up to MaxSuggestions candidates within MaxDistance edits
// of target, closest first. Matching ignores case; ties keep candidate order.
func Suggest(target string, candidates []string) []string {
	type match struct {
		name     string
		distance int
	}

	lower := strings.ToLower(target)
	var matches []match
	for _, candidate := range candidates {
		if d := Distance(lower, strings.ToLower(candidate)); d <= MaxDistance {
			matches = append(matches, match{candidate, d})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].distance < matches[j].distance
	})

	var out []string
	for i := 0; i < len(matches) && i < MaxSuggestions; i++ {
		out = append(out, matches[i].name)
	}
	return out
}

// Distance is the Levenshtein distance between a and b, in bytes
func Distance(a, b string) int {
	if a == "" {
		return len(b)
	}
	if b == "" {
		return len(a)
	}

	// two rows of the edit matrix are enough
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}
