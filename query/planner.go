package query

import (
	"context"
	"fmt"
	"time"

	roaring "github.com/RoaringBitmap/roaring"
	"github.com/TFMV/findash/index"
	"github.com/TFMV/findash/table"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/prometheus/client_golang/prometheus"
)

// ---------------------------------------------------------------------
// Prometheus Metrics
// ---------------------------------------------------------------------

var filterLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Name: "findash_filter_latency_seconds",
	Help: "Filter execution latency distribution",
}, []string{"strategy"})

func init() {
	prometheus.MustRegister(filterLatency)
}

// ---------------------------------------------------------------------
// Plans
// ---------------------------------------------------------------------

// Strategy is how a plan finds matching rows.
type Strategy int

const (
	// StrategyScan tests every row.
	StrategyScan Strategy = iota
	// StrategyIndex intersects the segment and Age indexes.
	StrategyIndex
	// StrategyEmpty answers a degenerate filter without reading rows.
	StrategyEmpty
)

func (s Strategy) String() string {
	switch s {
	case StrategyScan:
		return "scan"
	case StrategyIndex:
		return "index"
	case StrategyEmpty:
		return "empty"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// Plan is a filter with the strategy chosen to execute it.
type Plan struct {
	Filter   Filter
	Strategy Strategy
}

// Planner chooses and runs plans. Indexes are optional; a Planner without
// them always scans. A Planner is safe for concurrent use.
type Planner struct {
	segments *index.SegmentIndex
	ages     *index.SortedIndex
}

// NewPlanner returns a planner over indexes built from the table it will
// filter. Either index may be nil.
func NewPlanner(segments *index.SegmentIndex, ages *index.SortedIndex) *Planner {
	return &Planner{segments: segments, ages: ages}
}

// Plan picks a strategy for f over t.
func (p *Planner) Plan(t *table.Table, f Filter) Plan {
	switch {
	case f.Degenerate():
		return Plan{Filter: f, Strategy: StrategyEmpty}
	case p.segments != nil && p.ages != nil &&
		p.segments.Len() == t.NumRows() && p.ages.Len() == t.NumRows():
		return Plan{Filter: f, Strategy: StrategyIndex}
	default:
		return Plan{Filter: f, Strategy: StrategyScan}
	}
}

// Execute plans and runs f over t.
func (p *Planner) Execute(ctx context.Context, t *table.Table, f Filter) (*table.Table, error) {
	return p.Run(ctx, t, p.Plan(t, f))
}

// Run executes plan over t. The result keeps the relative order of t and
// shares no mutable state with it.
func (p *Planner) Run(ctx context.Context, t *table.Table, plan Plan) (*table.Table, error) {
	start := time.Now()
	defer func() {
		filterLatency.WithLabelValues(plan.Strategy.String()).Observe(time.Since(start).Seconds())
	}()

	ages, segs, err := columns(t)
	if err != nil {
		return nil, err
	}

	rec := t.Record()
	if plan.Strategy == StrategyEmpty {
		return table.New(rec.NewSlice(0, 0)), nil
	}

	var rows *roaring.Bitmap
	if plan.Strategy == StrategyIndex {
		rows = p.segments.Union(plan.Filter.Segments)
		rows.And(p.ages.Range(plan.Filter.AgeMin, plan.Filter.AgeMax))
	} else {
		rows = scan(ages, segs, plan.Filter)
	}

	out, err := applyMask(ctx, rec, rows)
	if err != nil {
		return nil, fmt.Errorf("query: filter: %w", err)
	}
	return table.New(out), nil
}

func scan(ages *array.Float64, segs *array.String, f Filter) *roaring.Bitmap {
	allowed := make(map[string]bool, len(f.Segments))
	for _, s := range f.Segments {
		allowed[s] = true
	}
	rows := roaring.New()
	for i := 0; i < ages.Len(); i++ {
		if ages.IsNull(i) || segs.IsNull(i) {
			continue
		}
		a := ages.Value(i)
		if a >= f.AgeMin && a <= f.AgeMax && allowed[segs.Value(i)] {
			rows.Add(uint32(i))
		}
	}
	return rows
}

// applyMask turns rows into a boolean selection vector over rec and filters
// it with the Arrow compute kernels.
func applyMask(ctx context.Context, rec arrow.Record, rows *roaring.Bitmap) (arrow.Record, error) {
	n := int(rec.NumRows())
	if rows.GetCardinality() == uint64(n) {
		return rec.NewSlice(0, int64(n)), nil
	}

	mask := make([]bool, n)
	it := rows.Iterator()
	for it.HasNext() {
		mask[it.Next()] = true
	}
	bld := array.NewBooleanBuilder(table.Pool)
	defer bld.Release()
	bld.AppendValues(mask, nil)
	arr := bld.NewArray()
	defer arr.Release()

	return compute.FilterRecordBatch(ctx, rec, arr, compute.DefaultFilterOptions())
}
