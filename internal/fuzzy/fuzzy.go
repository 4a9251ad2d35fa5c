// Package fuzzy implements bounded approximate string matching: Levenshtein
// similarity with cheap pruning bounds, and the three token match modes used
// by text queries.
package fuzzy

import (
	"math"
	"strings"
	"unicode/utf8"
)

// DefaultThreshold is the similarity threshold used when none is given.
const DefaultThreshold = 0.7

// slack widens the length window so that float rounding never makes the
// bound tighter than the exact rational one.
const slack = 1e-9

// Mode selects how query tokens are compared against value tokens.
type Mode string

const (
	// ModeContains counts query tokens found as a substring of a value token.
	ModeContains Mode = "contains"
	// ModeExact counts query tokens equal to a value token.
	ModeExact Mode = "exact"
	// ModeFuzzy sums the best similarity at or above the threshold per query token.
	ModeFuzzy Mode = "fuzzy"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeContains, ModeExact, ModeFuzzy:
		return true
	}
	return false
}

// ClampThreshold clamps t into [0,1]. NaN yields DefaultThreshold.
func ClampThreshold(t float64) float64 {
	if math.IsNaN(t) {
		return DefaultThreshold
	}
	return math.Max(0, math.Min(1, t))
}

// Levenshtein returns the edit distance between a and b, counted in runes.
// It keeps two rows of the DP matrix sized to the shorter input.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}
	if len(ra) == 0 {
		return len(rb)
	}

	prev := make([]int, len(ra)+1)
	curr := make([]int, len(ra)+1)
	for i := range prev {
		prev[i] = i
	}

	for j := 1; j <= len(rb); j++ {
		curr[0] = j
		for i := 1; i <= len(ra); i++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[i] = min(prev[i]+1, curr[i-1]+1, prev[i-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(ra)]
}

// Similarity returns 1 - levenshtein(a,b)/max(len a, len b), or 1 when both
// strings are empty.
func Similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(Levenshtein(a, b))/float64(longest)
}

// MaxSimilarityPossible is the upper bound of Similarity for strings of the
// given rune lengths.
func MaxSimilarityPossible(la, lb int) float64 {
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	return 1 - float64(diff)/float64(longest)
}

// LengthWindow returns the inclusive range of lengths a string must have to
// reach threshold similarity against a string of length n. hi is
// math.MaxInt when threshold is 0.
func LengthWindow(n int, threshold float64) (lo, hi int) {
	threshold = ClampThreshold(threshold)
	if threshold == 0 {
		return 0, math.MaxInt
	}
	lo = int(math.Ceil(float64(n)*threshold - slack))
	hi = int(math.Floor(float64(n)/threshold + slack))
	return max(lo, 0), hi
}

// SimilarityAtLeast reports whether Similarity(a, b) >= threshold, skipping
// the edit distance when the length bound already rules it out.
func SimilarityAtLeast(a, b string, threshold float64) (float64, bool) {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if MaxSimilarityPossible(la, lb) < threshold {
		return 0, false
	}
	s := Similarity(a, b)
	return s, s >= threshold
}

// Score compares query tokens against value tokens under mode. A score above
// zero means the value matched. threshold only applies to ModeFuzzy and is
// clamped.
func Score(mode Mode, query, values []string, threshold float64) float64 {
	if len(query) == 0 || len(values) == 0 {
		return 0
	}
	switch mode {
	case ModeExact:
		return exactScore(query, values)
	case ModeFuzzy:
		return fuzzyScore(query, values, ClampThreshold(threshold))
	default:
		return containsScore(query, values)
	}
}

func containsScore(query, values []string) float64 {
	var n float64
	for _, q := range query {
		for _, v := range values {
			if strings.Contains(v, q) {
				n++
				break
			}
		}
	}
	return n
}

func exactScore(query, values []string) float64 {
	var n float64
	for _, q := range query {
		for _, v := range values {
			if v == q {
				n++
				break
			}
		}
	}
	return n
}

func fuzzyScore(query, values []string, threshold float64) float64 {
	var total float64
	for _, q := range query {
		best := -1.0
		for _, v := range values {
			s, ok := SimilarityAtLeast(q, v, threshold)
			if !ok {
				continue
			}
			if s > best {
				best = s
			}
			if best == 1 {
				break
			}
		}
		if best >= 0 {
			total += best
		}
	}
	return total
}
