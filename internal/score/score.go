// Package score computes the productivity score of a closed session.
//
// The function is pure and total: a fixed base score per category, scaled by
// the session's active-time ratio and rounded to the nearest integer. Any
// reimplementation must be derivable from the base table alone.
package score

import "math"

// DefaultBase is the score for categories missing from the base table.
const DefaultBase = 50

// baseScores holds the per-category base scores. Browser categories and
// editor language identifiers share one table.
var baseScores = map[string]int{
	// Browser categories.
	"coding":        100,
	"productivity":  80,
	"learning":      90,
	"documentation": 85,
	"communication": 60,
	"social":        20,
	"entertainment": 10,
	"shopping":      30,
	"news":          40,
	"other":         50,

	// Editor languages.
	"typescript": 90,
	"javascript": 85,
	"python":     88,
	"java":       82,
	"csharp":     85,
	"cpp":        80,
	"rust":       92,
	"go":         88,
	"react":      87,
	"vue":        85,
	"html":       70,
	"css":        68,
	"scss":       72,
	"json":       60,
	"yaml":       65,
	"markdown":   75,
}

// Base returns the base score for a category, DefaultBase when unknown.
func Base(category string) int {
	if s, ok := baseScores[category]; ok {
		return s
	}
	return DefaultBase
}

// Score returns the productivity score in [0,100] for a closed session.
// A zero-duration session scores 0.
func Score(category string, activeMs, idleMs int64) int {
	total := activeMs + idleMs
	if total <= 0 {
		return 0
	}
	activeRatio := float64(activeMs) / float64(total)
	return int(math.Round(float64(Base(category)) * activeRatio))
}
