package textutil

import "github.com/xrash/smetrics"

// EditDistance is the Levenshtein distance between a and b with unit costs.
func EditDistance(a, b string) int {
	return smetrics.WagnerFischer(a, b, 1, 1, 1)
}

// NormalizedSimilarity maps the edit distance onto [0,1]. Empty input scores 0.
func NormalizedSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	longest := max(len(a), len(b))
	return 1 - float64(EditDistance(a, b))/float64(longest)
}
