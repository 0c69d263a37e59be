// Package dym computes "did you mean" suggestions for mistyped names.
package dym

import "github.com/agnivade/levenshtein"

// Suggest returns the candidate nearest to given by edit distance, or ""
// when candidates is empty. Ties are broken by enumeration order, so an
// exact match always wins.
func Suggest(given string, candidates []string) string {
	best := ""
	bestDist := -1
	for _, cand := range candidates {
		d := levenshtein.ComputeDistance(given, cand)
		if bestDist < 0 || d < bestDist {
			best = cand
			bestDist = d
		}
	}
	return best
}

// SuggestTier returns every candidate in the smallest-distance tier, in
// enumeration order.
func SuggestTier(given string, candidates []string) []string {
	bestDist := -1
	for _, cand := range candidates {
		d := levenshtein.ComputeDistance(given, cand)
		if bestDist < 0 || d < bestDist {
			bestDist = d
		}
	}
	if bestDist < 0 {
		return nil
	}
	var tier []string
	for _, cand := range candidates {
		if levenshtein.ComputeDistance(given, cand) == bestDist {
			tier = append(tier, cand)
		}
	}
	return tier
}
