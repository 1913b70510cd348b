package market

import "fmt"

// TimeRange is a closed-open interval [Start, End) in epoch milliseconds.
// Closed-open keeps adjacent ranges seamless: a candle belongs to exactly
// one side of a boundary.
type TimeRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

func (r TimeRange) IsEmpty() bool { return r.End <= r.Start }

func (r TimeRange) Contains(ms int64) bool { return ms >= r.Start && ms < r.End }

func (r TimeRange) Overlaps(o TimeRange) bool {
	return r.Start < o.End && o.Start < r.End
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// Clamp restricts r to the bounds of o.
func (r TimeRange) Clamp(o TimeRange) TimeRange {
	out := r
	if out.Start < o.Start {
		out.Start = o.Start
	}
	if out.End > o.End {
		out.End = o.End
	}
	if out.IsEmpty() {
		return TimeRange{}
	}
	return out
}

// MergeRanges coalesces overlapping or touching ranges into a minimal
// ordered set. Input must be sorted by Start.
func MergeRanges(ranges []TimeRange) []TimeRange {
	out := make([]TimeRange, 0, len(ranges))
	for _, r := range ranges {
		if r.IsEmpty() {
			continue
		}
		if n := len(out); n > 0 && r.Start <= out[n-1].End {
			if r.End > out[n-1].End {
				out[n-1].End = r.End
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

// Subtract returns desired minus the union of present, as an ordered list of
// disjoint gaps (oldest first). present must be sorted by Start.
func Subtract(desired TimeRange, present []TimeRange) []TimeRange {
	if desired.IsEmpty() {
		return nil
	}
	var gaps []TimeRange
	cursor := desired.Start
	for _, p := range MergeRanges(present) {
		p = p.Clamp(desired)
		if p.IsEmpty() {
			continue
		}
		if p.Start > cursor {
			gaps = append(gaps, TimeRange{Start: cursor, End: p.Start})
		}
		if p.End > cursor {
			cursor = p.End
		}
	}
	if cursor < desired.End {
		gaps = append(gaps, TimeRange{Start: cursor, End: desired.End})
	}
	return gaps
}

// SplitBySpan cuts each range into pieces of at most span milliseconds,
// preserving order. A crash mid-backfill then leaves the earliest missing
// data first in line on the next attempt.
func SplitBySpan(ranges []TimeRange, span int64) []TimeRange {
	if span <= 0 {
		return ranges
	}
	var out []TimeRange
	for _, r := range ranges {
		for start := r.Start; start < r.End; start += span {
			end := start + span
			if end > r.End {
				end = r.End
			}
			out = append(out, TimeRange{Start: start, End: end})
		}
	}
	return out
}
