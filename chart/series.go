package chart

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/TFMV/findash/stats"
	"github.com/TFMV/findash/table"
)

// ============================================================================
// SCATTER: Annual_Income vs Monthly_Expenses
// ============================================================================

// Point is one customer in the scatter chart. Size is the Savings_Rate; Age
// and CreditScore are shown on hover. Customers with a non-finite value in
// any of these columns are not plotted.
type Point struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Size        float64 `json:"size"`
	Age         float64 `json:"age"`
	CreditScore float64 `json:"credit_score"`
}

type ScatterSeries struct {
	Segment string  `json:"segment"`
	Color   string  `json:"color"`
	Points  []Point `json:"points"`
}

type Scatter struct {
	Title  string          `json:"title"`
	XAxis  string          `json:"x_axis"`
	YAxis  string          `json:"y_axis"`
	Series []ScatterSeries `json:"series"`
}

// BuildScatter plots income against expenses with one series per segment.
func BuildScatter(t *table.Table) (*Scatter, error) {
	g, err := groupBySegment(t)
	if err != nil {
		return nil, err
	}
	cols, err := float64Columns(t,
		table.AnnualIncome, table.MonthlyExpenses, table.SavingsRate,
		table.Age, table.AvgCreditScore)
	if err != nil {
		return nil, err
	}

	sc := &Scatter{
		Title:  "Income vs Expenses by Customer Segment",
		XAxis:  table.AnnualIncome,
		YAxis:  table.MonthlyExpenses,
		Series: make([]ScatterSeries, 0, len(g.labels)),
	}
	for i, label := range g.labels {
		rows := g.rows[label]
		s := ScatterSeries{Segment: label, Color: colorFor(i), Points: make([]Point, 0, len(rows))}
		for _, r := range rows {
			p := Point{
				X:           cols[table.AnnualIncome][r],
				Y:           cols[table.MonthlyExpenses][r],
				Size:        cols[table.SavingsRate][r],
				Age:         cols[table.Age][r],
				CreditScore: cols[table.AvgCreditScore][r],
			}
			if !isFinite(p.X) || !isFinite(p.Y) || !isFinite(p.Size) || !isFinite(p.Age) || !isFinite(p.CreditScore) {
				continue
			}
			s.Points = append(s.Points, p)
		}
		sc.Series = append(sc.Series, s)
	}
	return sc, nil
}

// ============================================================================
// BOX: Savings_Rate per segment
// ============================================================================

// BoxStats is one box. Whiskers reach the most extreme values within 1.5
// IQR of the quartiles; values beyond are outliers. A box without finite
// values has NaN statistics, encoded as null.
type BoxStats struct {
	Segment      string    `json:"segment"`
	Color        string    `json:"color"`
	Count        int       `json:"count"`
	LowerWhisker float64   `json:"lower_whisker"`
	Q1           float64   `json:"q1"`
	Median       float64   `json:"median"`
	Q3           float64   `json:"q3"`
	UpperWhisker float64   `json:"upper_whisker"`
	Outliers     []float64 `json:"outliers"`
}

// MarshalJSON encodes NaN statistics as null.
func (b BoxStats) MarshalJSON() ([]byte, error) {
	type plain BoxStats
	return json.Marshal(struct {
		plain
		LowerWhisker *float64 `json:"lower_whisker"`
		Q1           *float64 `json:"q1"`
		Median       *float64 `json:"median"`
		Q3           *float64 `json:"q3"`
		UpperWhisker *float64 `json:"upper_whisker"`
	}{
		plain:        plain(b),
		LowerWhisker: nullable(b.LowerWhisker),
		Q1:           nullable(b.Q1),
		Median:       nullable(b.Median),
		Q3:           nullable(b.Q3),
		UpperWhisker: nullable(b.UpperWhisker),
	})
}

func nullable(v float64) *float64 {
	if !isFinite(v) {
		return nil
	}
	return &v
}

type Box struct {
	Title  string     `json:"title"`
	Column string     `json:"column"`
	Boxes  []BoxStats `json:"boxes"`
}

// BuildBox summarizes Savings_Rate for each segment.
func BuildBox(t *table.Table) (*Box, error) {
	g, err := groupBySegment(t)
	if err != nil {
		return nil, err
	}
	cols, err := float64Columns(t, table.SavingsRate)
	if err != nil {
		return nil, err
	}
	rates := cols[table.SavingsRate]

	bx := &Box{
		Title:  "Savings Rate by Customer Segment",
		Column: table.SavingsRate,
		Boxes:  make([]BoxStats, 0, len(g.labels)),
	}
	for i, label := range g.labels {
		xs := make([]float64, 0, len(g.rows[label]))
		for _, r := range g.rows[label] {
			if isFinite(rates[r]) {
				xs = append(xs, rates[r])
			}
		}
		b := boxStats(xs)
		b.Segment = label
		b.Color = colorFor(i)
		bx.Boxes = append(bx.Boxes, b)
	}
	return bx, nil
}

func boxStats(xs []float64) BoxStats {
	b := BoxStats{Count: len(xs), Outliers: []float64{}}
	if len(xs) == 0 {
		nan := math.NaN()
		b.LowerWhisker, b.Q1, b.Median, b.Q3, b.UpperWhisker = nan, nan, nan, nan, nan
		return b
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)

	b.Q1 = stats.Quantile(sorted, 0.25)
	b.Median = stats.Quantile(sorted, 0.5)
	b.Q3 = stats.Quantile(sorted, 0.75)
	iqr := b.Q3 - b.Q1
	lo, hi := b.Q1-1.5*iqr, b.Q3+1.5*iqr

	b.LowerWhisker, b.UpperWhisker = b.Q1, b.Q3
	for _, v := range sorted {
		if v >= lo {
			b.LowerWhisker = v
			break
		}
	}
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i] <= hi {
			b.UpperWhisker = sorted[i]
			break
		}
	}
	for _, v := range sorted {
		if v < lo || v > hi {
			b.Outliers = append(b.Outliers, v)
		}
	}
	return b
}

// ============================================================================
// HISTOGRAM: Debt_to_Income_Ratio
// ============================================================================

type HistogramSeries struct {
	Segment string `json:"segment"`
	Color   string `json:"color"`
	Counts  []int  `json:"counts"`
}

// Histogram has len(Edges)-1 bins shared by every series. Bin i covers
// [Edges[i], Edges[i+1]); the last bin also includes its upper edge.
type Histogram struct {
	Title  string            `json:"title"`
	Column string            `json:"column"`
	Edges  []float64         `json:"edges"`
	Series []HistogramSeries `json:"series"`
}

// BuildHistogram bins Debt_to_Income_Ratio into equal-width bins over the
// observed finite range, counting each segment separately. Non-finite ratios
// are not counted.
func BuildHistogram(t *table.Table, bins int) (*Histogram, error) {
	if bins <= 0 {
		bins = DefaultBins
	}
	g, err := groupBySegment(t)
	if err != nil {
		return nil, err
	}
	cols, err := float64Columns(t, table.DebtToIncomeRatio)
	if err != nil {
		return nil, err
	}
	ratios := cols[table.DebtToIncomeRatio]

	h := &Histogram{
		Title:  "Distribution of Debt-to-Income Ratio",
		Column: table.DebtToIncomeRatio,
		Edges:  []float64{},
		Series: make([]HistogramSeries, 0, len(g.labels)),
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range ratios {
		if !isFinite(v) {
			continue
		}
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	if lo > hi {
		return h, nil
	}
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}

	width := (hi - lo) / float64(bins)
	h.Edges = make([]float64, bins+1)
	for i := range h.Edges {
		h.Edges[i] = lo + float64(i)*width
	}
	h.Edges[bins] = hi

	for i, label := range g.labels {
		s := HistogramSeries{Segment: label, Color: colorFor(i), Counts: make([]int, bins)}
		for _, r := range g.rows[label] {
			v := ratios[r]
			if !isFinite(v) {
				continue
			}
			b := int((v - lo) / width)
			if b >= bins {
				b = bins - 1
			}
			if b < 0 {
				b = 0
			}
			s.Counts[b]++
		}
		h.Series = append(h.Series, s)
	}
	return h, nil
}
