package query

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/TFMV/findash/index"
	"github.com/TFMV/findash/table"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var segmentLabels = []string{"Gold", "Silver", "Bronze", "Unknown"}

// normalizedTable builds a table shaped like normalizer output with an
// extra row-number column to check order.
func normalizedTable(ages []float64, segments []string) *table.Table {
	fb := array.NewFloat64Builder(table.Pool)
	fb.AppendValues(ages, nil)
	ageArr := fb.NewArray()
	fb.Release()

	sb := array.NewStringBuilder(table.Pool)
	sb.AppendValues(segments, nil)
	segArr := sb.NewArray()
	sb.Release()

	ib := array.NewInt64Builder(table.Pool)
	for i := range ages {
		ib.Append(int64(i))
	}
	rowArr := ib.NewArray()
	ib.Release()

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "Row", Type: arrow.PrimitiveTypes.Int64},
		{Name: table.Age, Type: arrow.PrimitiveTypes.Float64},
		{Name: table.CustomerSegment, Type: arrow.BinaryTypes.String},
	}, nil)
	rec := array.NewRecord(schema, []arrow.Array{rowArr, ageArr, segArr}, int64(len(ages)))
	rowArr.Release()
	ageArr.Release()
	segArr.Release()
	return table.New(rec)
}

func rowNumbers(t testing.TB, tbl *table.Table) []int64 {
	t.Helper()
	col, ok := tbl.Column("Row")
	require.True(t, ok)
	return append([]int64{}, col.(*array.Int64).Int64Values()...)
}

func sample() *table.Table {
	return normalizedTable(
		[]float64{25, 30, 45, 45, 60, 18, 33},
		[]string{"Gold", "Silver", "Gold", "Unknown", "Silver", "Gold", "Bronze"},
	)
}

func TestSelect(t *testing.T) {
	tbl := sample()
	defer tbl.Release()

	out, err := Select(context.Background(), tbl, Filter{AgeMin: 25, AgeMax: 45, Segments: []string{"Gold", "Unknown"}})
	require.NoError(t, err)
	defer out.Release()

	assert.Equal(t, []int64{0, 2, 3}, rowNumbers(t, out))
	assert.Equal(t, tbl.Columns(), out.Columns())
}

func TestSelectEqualBounds(t *testing.T) {
	tbl := sample()
	defer tbl.Release()

	out, err := Select(context.Background(), tbl, Filter{AgeMin: 45, AgeMax: 45, Segments: segmentLabels})
	require.NoError(t, err)
	defer out.Release()
	assert.Equal(t, []int64{2, 3}, rowNumbers(t, out))
}

func TestSelectDegenerate(t *testing.T) {
	tbl := sample()
	defer tbl.Release()

	cases := map[string]Filter{
		"no segments":    {AgeMin: 0, AgeMax: 100},
		"empty segments": {AgeMin: 0, AgeMax: 100, Segments: []string{}},
		"inverted range": {AgeMin: 50, AgeMax: 40, Segments: segmentLabels},
		"NaN bound":      {AgeMin: math.NaN(), AgeMax: 40, Segments: segmentLabels},
		"unknown label":  {AgeMin: 0, AgeMax: 100, Segments: []string{"Platinum"}},
	}
	for name, f := range cases {
		t.Run(name, func(t *testing.T) {
			out, err := Select(context.Background(), tbl, f)
			require.NoError(t, err)
			defer out.Release()
			assert.Equal(t, 0, out.NumRows())
			assert.True(t, out.Schema().Equal(tbl.Schema()))
		})
	}
}

func TestSelectAll(t *testing.T) {
	tbl := sample()
	defer tbl.Release()

	f, err := DefaultFilter(tbl)
	require.NoError(t, err)
	assert.Equal(t, Filter{AgeMin: 18, AgeMax: 60, Segments: []string{"Gold", "Silver", "Unknown", "Bronze"}}, f)

	out, err := Select(context.Background(), tbl, f)
	require.NoError(t, err)
	defer out.Release()
	assert.Equal(t, tbl.NumRows(), out.NumRows())
}

func TestDefaultFilterCoversFractionalAges(t *testing.T) {
	tbl := normalizedTable([]float64{18.5, 64.2}, []string{"Gold", "Gold"})
	defer tbl.Release()

	f, err := DefaultFilter(tbl)
	require.NoError(t, err)
	assert.Equal(t, 18.0, f.AgeMin)
	assert.Equal(t, 65.0, f.AgeMax)
}

func TestSelectNotNormalized(t *testing.T) {
	sb := array.NewStringBuilder(table.Pool)
	sb.AppendValues([]string{"30", "40"}, nil)
	arr := sb.NewArray()
	sb.Release()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: table.Age, Type: arrow.BinaryTypes.String},
		{Name: table.CustomerSegment, Type: arrow.BinaryTypes.String},
	}, nil)
	rec := array.NewRecord(schema, []arrow.Array{arr, arr}, 2)
	arr.Release()
	raw := table.New(rec)
	defer raw.Release()

	_, err := Select(context.Background(), raw, Filter{AgeMin: 0, AgeMax: 100, Segments: []string{"30"}})
	assert.ErrorIs(t, err, ErrNotNormalized)
	_, err = DefaultFilter(raw)
	assert.ErrorIs(t, err, ErrNotNormalized)
}

func TestPlannerStrategies(t *testing.T) {
	tbl := sample()
	defer tbl.Release()

	segs, err := index.BuildSegments(tbl, table.CustomerSegment)
	require.NoError(t, err)
	ages, err := index.BuildSorted(tbl, table.Age)
	require.NoError(t, err)

	f := Filter{AgeMin: 20, AgeMax: 50, Segments: []string{"Silver", "Bronze"}}
	assert.Equal(t, StrategyScan, NewPlanner(nil, nil).Plan(tbl, f).Strategy)
	assert.Equal(t, StrategyIndex, NewPlanner(segs, ages).Plan(tbl, f).Strategy)
	assert.Equal(t, StrategyEmpty, NewPlanner(segs, ages).Plan(tbl, Filter{AgeMin: 1, AgeMax: 0}).Strategy)

	other := normalizedTable([]float64{1}, []string{"Gold"})
	defer other.Release()
	assert.Equal(t, StrategyScan, NewPlanner(segs, ages).Plan(other, f).Strategy)

	out, err := NewPlanner(segs, ages).Execute(context.Background(), tbl, f)
	require.NoError(t, err)
	defer out.Release()
	assert.Equal(t, []int64{1, 6}, rowNumbers(t, out))
}

func TestSelectProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 80).Draw(rt, "n")
		ages := rapid.SliceOfN(rapid.Float64Range(18, 80), n, n).Draw(rt, "ages")
		segsCol := rapid.SliceOfN(rapid.SampledFrom(segmentLabels), n, n).Draw(rt, "segments")
		f := Filter{
			AgeMin:   float64(rapid.IntRange(10, 90).Draw(rt, "lo")),
			AgeMax:   float64(rapid.IntRange(10, 90).Draw(rt, "hi")),
			Segments: rapid.SliceOfN(rapid.SampledFrom(segmentLabels), 0, 3).Draw(rt, "allowed"),
		}

		tbl := normalizedTable(ages, segsCol)
		defer tbl.Release()
		segIdx, _ := index.BuildSegments(tbl, table.CustomerSegment)
		ageIdx, _ := index.BuildSorted(tbl, table.Age)

		var want []int64
		allowed := make(map[string]bool)
		for _, s := range f.Segments {
			allowed[s] = true
		}
		for i := range ages {
			if f.AgeMin <= ages[i] && ages[i] <= f.AgeMax && allowed[segsCol[i]] {
				want = append(want, int64(i))
			}
		}

		for _, p := range []*Planner{NewPlanner(nil, nil), NewPlanner(segIdx, ageIdx)} {
			out, err := p.Execute(context.Background(), tbl, f)
			if err != nil {
				rt.Fatalf("execute: %v", err)
			}
			got := rowNumbers(t, out)
			out.Release()
			if len(got) != len(want) {
				rt.Fatalf("got rows %v, want %v", got, want)
			}
			for i := range got {
				if got[i] != want[i] {
					rt.Fatalf("got rows %v, want %v", got, want)
				}
			}
		}
	})
}

// ---------------------------------------------------------------------
// Benchmarks
// ---------------------------------------------------------------------

func benchTable(n int) *table.Table {
	ages := make([]float64, n)
	segs := make([]string, n)
	for i := 0; i < n; i++ {
		ages[i] = float64(18 + i%60)
		segs[i] = segmentLabels[i%len(segmentLabels)]
	}
	return normalizedTable(ages, segs)
}

func BenchmarkSelect(b *testing.B) {
	f := Filter{AgeMin: 30, AgeMax: 50, Segments: []string{"Gold", "Bronze"}}
	for _, size := range []int{1000, 10000, 100000} {
		tbl := benchTable(size)
		segs, _ := index.BuildSegments(tbl, table.CustomerSegment)
		ages, _ := index.BuildSorted(tbl, table.Age)

		for _, p := range []struct {
			name    string
			planner *Planner
		}{
			{"scan", NewPlanner(nil, nil)},
			{"index", NewPlanner(segs, ages)},
		} {
			b.Run(fmt.Sprintf("%s/size_%d", p.name, size), func(b *testing.B) {
				b.ReportAllocs()
				for i := 0; i < b.N; i++ {
					out, err := p.planner.Execute(context.Background(), tbl, f)
					if err != nil {
						b.Fatal(err)
					}
					out.Release()
				}
			})
		}
		tbl.Release()
	}
}
