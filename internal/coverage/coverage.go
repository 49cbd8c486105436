// Package coverage computes how much of a lesson video a learner has actually
// watched. Reported watch intervals are merged into a canonical, sorted,
// disjoint list so replayed or overlapping ranges are never double-counted.
//
// All functions are pure and safe for concurrent use.
package coverage

import (
	"math"
	"slices"
)

// Segment is one contiguous watched interval [Start, End) in seconds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Len returns the length of the segment, or 0 for an empty or inverted one.
func (s Segment) Len() float64 {
	if s.End <= s.Start {
		return 0
	}
	return s.End - s.Start
}

// MergeSegments returns the canonical form of segments: sorted by start, with
// overlapping and touching intervals coalesced. The input is not modified.
//
// Consecutive output segments are separated by a strictly positive gap, and
// merging canonical output again returns it unchanged.
func MergeSegments(segments []Segment) []Segment {
	if len(segments) == 0 {
		return []Segment{}
	}

	sorted := slices.Clone(segments)
	slices.SortFunc(sorted, compareSegments)

	merged := make([]Segment, 0, len(sorted))
	cur := sorted[0]
	for _, next := range sorted[1:] {
		if next.Start <= cur.End {
			cur.End = math.Max(cur.End, next.End)
			continue
		}
		merged = append(merged, cur)
		cur = next
	}
	return append(merged, cur)
}

// MergeSegment merges one newly reported segment into an already canonical
// list. The result is identical to MergeSegments over the full list.
func MergeSegment(canonical []Segment, next Segment) []Segment {
	all := make([]Segment, 0, len(canonical)+1)
	all = append(all, canonical...)
	all = append(all, next)
	return MergeSegments(all)
}

// Sanitize swaps reversed bounds, clips each segment to [0, durationSec] and
// drops segments with a NaN bound or that collapse to nothing after clipping.
// Infinite bounds clip like any other.
// A non-positive or non-finite duration yields an empty list.
func Sanitize(segments []Segment, durationSec float64) []Segment {
	if !validDuration(durationSec) {
		return []Segment{}
	}

	out := make([]Segment, 0, len(segments))
	for _, s := range segments {
		if math.IsNaN(s.Start) || math.IsNaN(s.End) {
			continue
		}
		start, end := s.Start, s.End
		if start > end {
			start, end = end, start
		}
		start = clamp(start, 0, durationSec)
		end = clamp(end, 0, durationSec)
		if end <= start {
			continue
		}
		out = append(out, Segment{Start: start, End: end})
	}
	return out
}

// Canonicalize sanitizes segments against durationSec and merges them.
func Canonicalize(segments []Segment, durationSec float64) []Segment {
	return MergeSegments(Sanitize(segments, durationSec))
}

// UniqueSeconds returns the number of distinct seconds covered by segments,
// within [0, durationSec]. Messy input is sanitized rather than rejected.
func UniqueSeconds(segments []Segment, durationSec float64) float64 {
	if !validDuration(durationSec) {
		return 0
	}

	var total float64
	for _, s := range Canonicalize(segments, durationSec) {
		total += s.Len()
	}
	// Float summation can overshoot by an ulp or so.
	return math.Min(total, durationSec)
}

// RatioInput carries the figures needed to compute a completion ratio.
type RatioInput struct {
	DurationSec   float64
	UniqueSeconds float64
	ThresholdPct  float64
}

// CompletionRatio reports progress toward the watch threshold as a value in
// [0, 1]. It returns 0 when the duration or the required seconds is not
// positive.
func CompletionRatio(in RatioInput) float64 {
	if !validDuration(in.DurationSec) || !finite(in.ThresholdPct) {
		return 0
	}
	required := in.DurationSec * in.ThresholdPct
	if required <= 0 {
		return 0
	}
	watched := in.UniqueSeconds
	if !finite(watched) {
		watched = 0
	}
	return math.Min(1, clamp(watched, 0, in.DurationSec)/required)
}

func compareSegments(a, b Segment) int {
	switch {
	case a.Start < b.Start:
		return -1
	case a.Start > b.Start:
		return 1
	case a.End < b.End:
		return -1
	case a.End > b.End:
		return 1
	}
	return 0
}

func validDuration(d float64) bool {
	return finite(d) && d > 0
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
