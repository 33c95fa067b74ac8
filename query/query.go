// Package query selects the rows of a normalized table that fall inside an
// inclusive Age range and belong to an allowed set of customer segments.
package query

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/TFMV/findash/table"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// ErrNotNormalized is returned when the Age or Customer_Segment column is
// missing or has not been coerced by the normalizer.
var ErrNotNormalized = errors.New("query: table is not normalized")

// Filter is the dashboard selection: lo <= Age <= hi and segment in Segments.
type Filter struct {
	AgeMin   float64  `json:"age_min"`
	AgeMax   float64  `json:"age_max"`
	Segments []string `json:"segments"`
}

// Degenerate reports whether f can match no row regardless of data.
func (f Filter) Degenerate() bool {
	return len(f.Segments) == 0 ||
		math.IsNaN(f.AgeMin) || math.IsNaN(f.AgeMax) ||
		f.AgeMin > f.AgeMax
}

// DefaultFilter selects every row of t: the whole-number Age range that
// covers all ages, and every segment in order of first appearance.
func DefaultFilter(t *table.Table) (Filter, error) {
	ages, segs, err := columns(t)
	if err != nil {
		return Filter{}, err
	}

	f := Filter{Segments: []string{}}
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := 0; i < ages.Len(); i++ {
		if ages.IsNull(i) || math.IsNaN(ages.Value(i)) {
			continue
		}
		lo = math.Min(lo, ages.Value(i))
		hi = math.Max(hi, ages.Value(i))
	}
	if lo > hi {
		f.AgeMin, f.AgeMax = 0, 0
	} else {
		f.AgeMin, f.AgeMax = math.Floor(lo), math.Ceil(hi)
	}

	seen := make(map[string]bool)
	for i := 0; i < segs.Len(); i++ {
		if segs.IsNull(i) {
			continue
		}
		v := segs.Value(i)
		if !seen[v] {
			seen[v] = true
			f.Segments = append(f.Segments, v)
		}
	}
	return f, nil
}

// Select returns the rows of t matching f in their original order. It scans
// the table; use a Planner with indexes for repeated filtering.
func Select(ctx context.Context, t *table.Table, f Filter) (*table.Table, error) {
	return NewPlanner(nil, nil).Execute(ctx, t, f)
}

func columns(t *table.Table) (*array.Float64, *array.String, error) {
	col, ok := t.Column(table.Age)
	if !ok {
		return nil, nil, fmt.Errorf("%w: no %s column", ErrNotNormalized, table.Age)
	}
	ages, ok := col.(*array.Float64)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s is %s", ErrNotNormalized, table.Age, col.DataType())
	}
	col, ok = t.Column(table.CustomerSegment)
	if !ok {
		return nil, nil, fmt.Errorf("%w: no %s column", ErrNotNormalized, table.CustomerSegment)
	}
	segs, ok := col.(*array.String)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s is %s", ErrNotNormalized, table.CustomerSegment, col.DataType())
	}
	return ages, segs, nil
}
