// Package normalize coerces the numeric columns of a raw table to float64,
// filling unparseable cells with the column median, and fills missing
// customer segments with a fixed label.
package normalize

import (
	"fmt"

	"github.com/TFMV/findash/stats"
	"github.com/TFMV/findash/table"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Options names the columns to normalize.
type Options struct {
	// Numeric columns are coerced to float64 with median imputation.
	Numeric []string
	// Categorical is the segment column; empty skips the categorical fill.
	Categorical string
	// FillLabel replaces missing or empty categorical cells.
	FillLabel string
	// Allocator for the new columns; table.Pool when nil.
	Allocator memory.Allocator
}

// DefaultOptions normalizes the fifteen financial columns and Customer_Segment.
func DefaultOptions() Options {
	return Options{
		Numeric:     table.NumericColumns(),
		Categorical: table.CustomerSegment,
		FillLabel:   table.UnknownSegment,
	}
}

// ColumnReport describes the imputation applied to one numeric column.
type ColumnReport struct {
	Column  string
	Imputed int
	Median  float64
}

// Report summarizes a normalization run.
type Report struct {
	Numeric      []ColumnReport
	FilledLabels int
}

// Normalize returns a new table in which every numeric column is a
// non-nullable float64 column and the categorical column holds no missing
// value. Other columns are shared with t unchanged. t is not modified.
func Normalize(t *table.Table, opt Options) (*table.Table, error) {
	out, _, err := NormalizeWithReport(t, opt)
	return out, err
}

// NormalizeWithReport is Normalize that also reports what was filled.
func NormalizeWithReport(t *table.Table, opt Options) (*table.Table, Report, error) {
	mem := opt.Allocator
	if mem == nil {
		mem = table.Pool
	}

	numeric := make(map[string]bool, len(opt.Numeric))
	for _, name := range opt.Numeric {
		if !t.HasColumn(name) {
			return nil, Report{}, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
		numeric[name] = true
	}
	if opt.Categorical != "" && !t.HasColumn(opt.Categorical) {
		return nil, Report{}, fmt.Errorf("%w: %s", ErrMissingColumn, opt.Categorical)
	}

	rec := t.Record()
	nrows := int(rec.NumRows())
	fields := make([]arrow.Field, rec.NumCols())
	cols := make([]arrow.Array, rec.NumCols())
	var rep Report

	// Built columns are released once the record holds its own reference.
	built := make([]arrow.Array, 0, len(opt.Numeric)+1)
	defer func() {
		for _, a := range built {
			a.Release()
		}
	}()

	for i, f := range rec.Schema().Fields() {
		switch {
		case numeric[f.Name]:
			arr, cr, err := imputeColumn(mem, f.Name, rec.Column(i), nrows)
			if err != nil {
				return nil, Report{}, err
			}
			built = append(built, arr)
			rep.Numeric = append(rep.Numeric, cr)
			fields[i] = arrow.Field{Name: f.Name, Type: arrow.PrimitiveTypes.Float64, Metadata: f.Metadata}
			cols[i] = arr

		case f.Name == opt.Categorical:
			arr, filled, err := fillColumn(mem, f.Name, rec.Column(i), opt.FillLabel)
			if err != nil {
				return nil, Report{}, err
			}
			built = append(built, arr)
			rep.FilledLabels = filled
			fields[i] = arrow.Field{Name: f.Name, Type: arrow.BinaryTypes.String, Metadata: f.Metadata}
			cols[i] = arr

		default:
			fields[i] = f
			cols[i] = rec.Column(i)
		}
	}

	md := rec.Schema().Metadata()
	out := array.NewRecord(arrow.NewSchema(fields, &md), cols, int64(nrows))
	return table.New(out), rep, nil
}

// imputeColumn parses col and fills unset cells with the median of the set
// ones. A column with rows but no set cell fails with NoValidDataError.
func imputeColumn(mem memory.Allocator, name string, col arrow.Array, nrows int) (arrow.Array, ColumnReport, error) {
	cells, err := Cells(col)
	if err != nil {
		return nil, ColumnReport{}, fmt.Errorf("column %s: %w", name, err)
	}

	set := make([]float64, 0, len(cells))
	for _, c := range cells {
		if v, ok := c.Value(); ok {
			set = append(set, v)
		}
	}
	cr := ColumnReport{Column: name, Imputed: len(cells) - len(set)}

	median, ok := stats.Median(set)
	if !ok && nrows > 0 {
		return nil, ColumnReport{}, &NoValidDataError{Column: name}
	}
	cr.Median = median

	bld := array.NewFloat64Builder(mem)
	defer bld.Release()
	bld.Reserve(len(cells))
	for _, c := range cells {
		if v, ok := c.Value(); ok {
			bld.Append(v)
		} else {
			bld.Append(median)
		}
	}
	return bld.NewArray(), cr, nil
}

// fillColumn replaces null and empty cells of a utf8 column with label.
func fillColumn(mem memory.Allocator, name string, col arrow.Array, label string) (arrow.Array, int, error) {
	arr, ok := col.(*array.String)
	if !ok {
		return nil, 0, fmt.Errorf("column %s: %w: %s", name, ErrUnsupportedType, col.DataType())
	}

	bld := array.NewStringBuilder(mem)
	defer bld.Release()
	bld.Reserve(arr.Len())
	filled := 0
	for i := 0; i < arr.Len(); i++ {
		if arr.IsNull(i) || arr.Value(i) == "" {
			bld.Append(label)
			filled++
			continue
		}
		bld.Append(arr.Value(i))
	}
	return bld.NewArray(), filled, nil
}
