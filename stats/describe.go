// Package stats computes descriptive statistics over the numeric columns of
// a table.
package stats

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/TFMV/findash/table"
	"github.com/aclements/go-moremath/stats"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/olekukonko/tablewriter"
)

// Summary is the describe tuple of one numeric column.
type Summary struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Min   float64 `json:"min"`
	P25   float64 `json:"p25"`
	P50   float64 `json:"p50"`
	P75   float64 `json:"p75"`
	Max   float64 `json:"max"`
}

// Report maps each numeric column to its Summary. Columns keeps header order.
type Report struct {
	Columns []string           `json:"columns"`
	Stats   map[string]Summary `json:"stats"`
}

// Describe summarizes every float64 and int64 column of t. Null and NaN
// cells are excluded. t is not modified.
func Describe(t *table.Table) Report {
	rep := Report{Stats: make(map[string]Summary)}
	rec := t.Record()
	for i, f := range rec.Schema().Fields() {
		xs, ok := numericValues(rec.Column(i))
		if !ok {
			continue
		}
		rep.Columns = append(rep.Columns, f.Name)
		rep.Stats[f.Name] = Summarize(xs)
	}
	return rep
}

// Summarize describes xs. The sample standard deviation uses n-1 and is
// NaN for fewer than two values; every statistic except Count is NaN for an
// empty input.
func Summarize(xs []float64) Summary {
	s := Summary{Count: len(xs)}
	if len(xs) == 0 {
		nan := math.NaN()
		s.Mean, s.Std, s.Min, s.P25, s.P50, s.P75, s.Max = nan, nan, nan, nan, nan, nan, nan
		return s
	}

	sample := stats.Sample{Xs: xs}
	s.Mean = sample.Mean()
	s.Min, s.Max = sample.Bounds()
	if len(xs) < 2 {
		s.Std = math.NaN()
	} else {
		s.Std = sample.StdDev()
	}

	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	s.P25 = Quantile(sorted, 0.25)
	s.P50 = Quantile(sorted, 0.50)
	s.P75 = Quantile(sorted, 0.75)
	return s
}

func numericValues(col arrow.Array) ([]float64, bool) {
	switch arr := col.(type) {
	case *array.Float64:
		xs := make([]float64, 0, arr.Len())
		for i := 0; i < arr.Len(); i++ {
			if arr.IsNull(i) || math.IsNaN(arr.Value(i)) {
				continue
			}
			xs = append(xs, arr.Value(i))
		}
		return xs, true
	case *array.Int64:
		xs := make([]float64, 0, arr.Len())
		for i := 0; i < arr.Len(); i++ {
			if arr.IsNull(i) {
				continue
			}
			xs = append(xs, float64(arr.Value(i)))
		}
		return xs, true
	default:
		return nil, false
	}
}

// Render writes the report as a text table with one row per statistic and
// one column per numeric column, the layout of a pandas describe().
func (r Report) Render(w io.Writer) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(append([]string{""}, r.Columns...))
	tw.SetAutoFormatHeaders(false)
	tw.SetAlignment(tablewriter.ALIGN_RIGHT)

	rows := []struct {
		label string
		get   func(Summary) float64
	}{
		{"count", func(s Summary) float64 { return float64(s.Count) }},
		{"mean", func(s Summary) float64 { return s.Mean }},
		{"std", func(s Summary) float64 { return s.Std }},
		{"min", func(s Summary) float64 { return s.Min }},
		{"25%", func(s Summary) float64 { return s.P25 }},
		{"50%", func(s Summary) float64 { return s.P50 }},
		{"75%", func(s Summary) float64 { return s.P75 }},
		{"max", func(s Summary) float64 { return s.Max }},
	}
	for _, row := range rows {
		line := make([]string, 0, len(r.Columns)+1)
		line = append(line, row.label)
		for _, c := range r.Columns {
			line = append(line, formatStat(row.get(r.Stats[c])))
		}
		tw.Append(line)
	}
	tw.Render()
}

func formatStat(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', 1, 64)
	}
	return fmt.Sprintf("%.6g", v)
}
