// Package chart builds the series behind the three dashboard charts from a
// filtered table: income against expenses, savings rate per segment and the
// debt-to-income distribution.
package chart

import (
	"fmt"
	"math"

	"github.com/TFMV/findash/table"
)

// DefaultBins is the histogram bin count used when none is given.
const DefaultBins = 30

// Default color palette for chart series.
var defaultColors = []string{
	"#4F46E5", "#10B981", "#F59E0B", "#EF4444", "#8B5CF6",
	"#06B6D4", "#EC4899", "#84CC16", "#F97316", "#6366F1",
}

// Charts bundles every chart of the dashboard.
type Charts struct {
	Scatter   *Scatter   `json:"scatter"`
	Box       *Box       `json:"box"`
	Histogram *Histogram `json:"histogram"`
}

// Build computes all charts for t. bins <= 0 uses DefaultBins.
func Build(t *table.Table, bins int) (*Charts, error) {
	sc, err := BuildScatter(t)
	if err != nil {
		return nil, err
	}
	bx, err := BuildBox(t)
	if err != nil {
		return nil, err
	}
	h, err := BuildHistogram(t, bins)
	if err != nil {
		return nil, err
	}
	return &Charts{Scatter: sc, Box: bx, Histogram: h}, nil
}

// grouping splits row ids by segment, keeping first-appearance order.
type grouping struct {
	labels []string
	rows   map[string][]int
}

func groupBySegment(t *table.Table) (grouping, error) {
	segs, err := t.Strings(table.CustomerSegment)
	if err != nil {
		return grouping{}, fmt.Errorf("chart: %w", err)
	}
	g := grouping{rows: make(map[string][]int)}
	for i, s := range segs {
		if _, ok := g.rows[s]; !ok {
			g.labels = append(g.labels, s)
		}
		g.rows[s] = append(g.rows[s], i)
	}
	return g, nil
}

func float64Columns(t *table.Table, names ...string) (map[string][]float64, error) {
	out := make(map[string][]float64, len(names))
	for _, name := range names {
		xs, err := t.Float64s(name)
		if err != nil {
			return nil, fmt.Errorf("chart: %w", err)
		}
		out[name] = xs
	}
	return out, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func colorFor(i int) string {
	return defaultColors[i%len(defaultColors)]
}
