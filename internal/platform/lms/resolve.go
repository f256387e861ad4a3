package lms

import (
	"cmp"
	"slices"
)

// Resolve returns the LMS triple that applies at targetDay.
//
// Ages at or outside the charted range reuse the nearest endpoint verbatim.
// Inside the range an exact day match is returned unchanged; otherwise L, M
// and S are linearly interpolated between the bracketing points and the
// result carries Day = targetDay. It reports false for an empty table or when
// no bracketing pair exists (unsorted or duplicate days).
func Resolve(table Table, targetDay int) (Point, bool) {
	if len(table) == 0 {
		return Point{}, false
	}
	if p, ok := clampToBoundary(table, targetDay); ok {
		return p, true
	}
	return interpolate(table, targetDay)
}

// clampToBoundary must run before any search so that an endpoint day always
// resolves to the endpoint itself.
func clampToBoundary(table Table, targetDay int) (Point, bool) {
	first, last := table[0], table[len(table)-1]
	if targetDay <= first.Day {
		return first, true
	}
	if targetDay >= last.Day {
		return last, true
	}
	return Point{}, false
}

func interpolate(table Table, targetDay int) (Point, bool) {
	// idx is the first point whose day is >= targetDay, so idx-1 is the last
	// point strictly before it.
	idx, found := slices.BinarySearchFunc(table, targetDay, func(p Point, day int) int {
		return cmp.Compare(p.Day, day)
	})
	if found {
		return table[idx], true
	}

	lowerIdx := idx - 1
	if lowerIdx < 0 || idx >= len(table) {
		return Point{}, false
	}
	lower, upper := table[lowerIdx], table[idx]
	if lower.Day >= targetDay || upper.Day <= targetDay || lower.Day == upper.Day {
		return Point{}, false
	}

	fraction := float64(targetDay-lower.Day) / float64(upper.Day-lower.Day)
	return Point{
		Day: targetDay,
		L:   lerp(lower.L, upper.L, fraction),
		M:   lerp(lower.M, upper.M, fraction),
		S:   lerp(lower.S, upper.S, fraction),
	}, true
}

func lerp(a, b, fraction float64) float64 {
	return a + fraction*(b-a)
}
