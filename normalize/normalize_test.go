package normalize

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/TFMV/findash/loader"
	"github.com/TFMV/findash/table"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func ageSegmentOptions() Options {
	return Options{
		Numeric:     []string{table.Age},
		Categorical: table.CustomerSegment,
		FillLabel:   table.UnknownSegment,
	}
}

func loadCSV(t *testing.T, body string) *table.Table {
	t.Helper()
	tbl, err := loader.Load(strings.NewReader(body), "test.csv", loader.DefaultOptions())
	require.NoError(t, err)
	return tbl
}

// stringTable builds a single-record table of nullable utf8 columns; a nil
// pointer is a null cell.
func stringTable(names []string, cols [][]*string) *table.Table {
	fields := make([]arrow.Field, len(names))
	arrs := make([]arrow.Array, len(names))
	for i, name := range names {
		fields[i] = arrow.Field{Name: name, Type: arrow.BinaryTypes.String, Nullable: true}
		bld := array.NewStringBuilder(table.Pool)
		for _, v := range cols[i] {
			if v == nil {
				bld.AppendNull()
			} else {
				bld.Append(*v)
			}
		}
		arrs[i] = bld.NewArray()
		bld.Release()
	}
	rec := array.NewRecord(arrow.NewSchema(fields, nil), arrs, int64(len(cols[0])))
	for _, a := range arrs {
		a.Release()
	}
	return table.New(rec)
}

func TestParseCell(t *testing.T) {
	cases := []struct {
		in   string
		want Cell
	}{
		{"10", Parsed(10)},
		{" 2.5 ", Parsed(2.5)},
		{"-3e2", Parsed(-300)},
		{"bad", Unset()},
		{"", Unset()},
		{"NaN", Unset()},
		{"12abc", Unset()},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ParseCell(tc.in), tc.in)
	}

	v, ok := ParseCell("inf").Value()
	assert.True(t, ok)
	assert.True(t, math.IsInf(v, 1))
}

func TestParseCellOutOfRange(t *testing.T) {
	v, ok := ParseCell("1e999").Value()
	require.True(t, ok)
	assert.True(t, math.IsInf(v, 1))

	v, ok = ParseCell("-1e999").Value()
	require.True(t, ok)
	assert.True(t, math.IsInf(v, -1))

	v, ok = ParseCell("1e-999").Value()
	require.True(t, ok)
	assert.Equal(t, 0.0, v)
}

func TestNormalizeMedianImputation(t *testing.T) {
	raw := loadCSV(t, "Age,Customer_Segment\n10,Gold\nbad,\n20,Silver\n,None\n30,Gold\n")
	defer raw.Release()

	out, rep, err := NormalizeWithReport(raw, ageSegmentOptions())
	require.NoError(t, err)
	defer out.Release()

	ages, err := out.Float64s(table.Age)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20, 20, 20, 30}, ages)

	segs, err := out.Strings(table.CustomerSegment)
	require.NoError(t, err)
	assert.Equal(t, []string{"Gold", "Unknown", "Silver", "Unknown", "Gold"}, segs)

	require.Len(t, rep.Numeric, 1)
	assert.Equal(t, ColumnReport{Column: table.Age, Imputed: 2, Median: 20}, rep.Numeric[0])
	assert.Equal(t, 2, rep.FilledLabels)

	for _, f := range out.Schema().Fields() {
		assert.False(t, f.Nullable, f.Name)
	}
}

func TestNormalizeEvenCountMedian(t *testing.T) {
	raw := loadCSV(t, "Age,Customer_Segment\n1,A\n2,A\nx,A\n10,A\n20,A\n")
	defer raw.Release()

	out, err := Normalize(raw, ageSegmentOptions())
	require.NoError(t, err)
	defer out.Release()

	ages, _ := out.Float64s(table.Age)
	assert.Equal(t, []float64{1, 2, 6, 10, 20}, ages)
}

func TestNormalizeLeavesOtherColumns(t *testing.T) {
	raw := loadCSV(t, "Note,Age,Customer_Segment\nhello,1,A\n,2,\n")
	defer raw.Release()

	out, err := Normalize(raw, ageSegmentOptions())
	require.NoError(t, err)
	defer out.Release()

	assert.Equal(t, raw.Columns(), out.Columns())
	assert.Equal(t, "hello", out.Row(0)["Note"])
	assert.Nil(t, out.Row(1)["Note"])

	// The input is untouched.
	assert.Equal(t, "2", raw.Row(1)[table.Age])
	assert.Nil(t, raw.Row(1)[table.CustomerSegment])
}

func TestNormalizeNoValidData(t *testing.T) {
	raw := loadCSV(t, "Age,Customer_Segment\nx,A\n,B\n")
	defer raw.Release()

	_, err := Normalize(raw, ageSegmentOptions())
	var nvd *NoValidDataError
	require.ErrorAs(t, err, &nvd)
	assert.Equal(t, table.Age, nvd.Column)
}

func TestNormalizeEmptyTable(t *testing.T) {
	raw := loadCSV(t, "Age,Customer_Segment\n")
	defer raw.Release()

	out, err := Normalize(raw, ageSegmentOptions())
	require.NoError(t, err)
	defer out.Release()
	assert.Equal(t, 0, out.NumRows())
	f, _ := out.Schema().FieldsByName(table.Age)
	assert.Equal(t, arrow.PrimitiveTypes.Float64, f[0].Type)
}

func TestNormalizeSchemaErrors(t *testing.T) {
	raw := loadCSV(t, "Age\n1\n")
	defer raw.Release()

	_, err := Normalize(raw, ageSegmentOptions())
	assert.ErrorIs(t, err, ErrMissingColumn)

	_, err = Normalize(raw, Options{Numeric: []string{table.Age, table.AnnualIncome}})
	assert.ErrorIs(t, err, ErrMissingColumn)

	normalized, err := Normalize(raw, Options{Numeric: []string{table.Age}})
	require.NoError(t, err)
	defer normalized.Release()
	_, err = Normalize(normalized, Options{Categorical: table.Age, FillLabel: "x"})
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestNormalizeDefaultOptions(t *testing.T) {
	header := append(table.NumericColumns(), table.CustomerSegment)
	row := make([]string, len(header))
	for i := range table.NumericColumns() {
		row[i] = strconv.Itoa(i + 1)
	}
	row[len(row)-1] = "Gold"
	raw := loadCSV(t, strings.Join(header, ",")+"\n"+strings.Join(row, ",")+"\n")
	defer raw.Release()

	out, err := Normalize(raw, DefaultOptions())
	require.NoError(t, err)
	defer out.Release()

	income, err := out.Float64s(table.AnnualIncome)
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, income)
}

// ---------------------------------------------------------------------
// Properties
// ---------------------------------------------------------------------

func drawRawColumn(t *rapid.T) []*string {
	gen := rapid.OneOf(
		rapid.Custom(func(t *rapid.T) *string {
			s := strconv.Itoa(rapid.IntRange(-1000, 1000).Draw(t, "n"))
			return &s
		}),
		rapid.Custom(func(t *rapid.T) *string {
			s := rapid.SampledFrom([]string{"bad", "", " ", "n/a?"}).Draw(t, "junk")
			return &s
		}),
		rapid.Just[*string](nil),
	)
	col := rapid.SliceOfN(gen, 1, 60).Draw(t, "age")
	// Guarantee one parseable cell.
	s := strconv.Itoa(rapid.IntRange(0, 100).Draw(t, "anchor"))
	col[rapid.IntRange(0, len(col)-1).Draw(t, "anchorAt")] = &s
	return col
}

func drawSegmentColumn(t *rapid.T, n int) []*string {
	gen := rapid.OneOf(
		rapid.Custom(func(t *rapid.T) *string {
			s := rapid.SampledFrom([]string{"Gold", "Silver", "", "Bronze"}).Draw(t, "seg")
			return &s
		}),
		rapid.Just[*string](nil),
	)
	return rapid.SliceOfN(gen, n, n).Draw(t, "segment")
}

func TestNormalizeProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ages := drawRawColumn(rt)
		segs := drawSegmentColumn(rt, len(ages))
		raw := stringTable([]string{table.Age, table.CustomerSegment}, [][]*string{ages, segs})
		defer raw.Release()

		out, err := Normalize(raw, ageSegmentOptions())
		if err != nil {
			rt.Fatalf("normalize: %v", err)
		}
		defer out.Release()

		if out.NumRows() != raw.NumRows() {
			rt.Fatalf("row count %d, want %d", out.NumRows(), raw.NumRows())
		}

		var set []float64
		for _, a := range ages {
			if a == nil {
				continue
			}
			if v, ok := ParseCell(*a).Value(); ok {
				set = append(set, v)
			}
		}
		sort.Float64s(set)
		var median float64
		if n := len(set); n%2 == 1 {
			median = set[n/2]
		} else {
			median = (set[n/2-1] + set[n/2]) / 2
		}

		got, _ := out.Float64s(table.Age)
		for i, a := range ages {
			want := median
			if a != nil {
				if v, ok := ParseCell(*a).Value(); ok {
					want = v
				}
			}
			if got[i] != want {
				rt.Fatalf("row %d: got %v, want %v", i, got[i], want)
			}
		}

		labels, _ := out.Strings(table.CustomerSegment)
		for i, s := range segs {
			want := table.UnknownSegment
			if s != nil && *s != "" {
				want = *s
			}
			if labels[i] != want {
				rt.Fatalf("segment %d: got %q, want %q", i, labels[i], want)
			}
		}

		again, err := Normalize(out, ageSegmentOptions())
		if err != nil {
			rt.Fatalf("second normalize: %v", err)
		}
		defer again.Release()
		if !array.RecordEqual(out.Record(), again.Record()) {
			rt.Fatalf("normalize is not idempotent")
		}
	})
}
