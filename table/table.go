// Package table holds the immutable record table shared by the loader,
// normalizer, filter engine and summary reporter.
package table

import (
	"fmt"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// Table is an ordered sequence of rows backed by a single Arrow record.
// A Table is never mutated; operations that change data return a new Table.
type Table struct {
	rec   arrow.Record
	index map[string]int
}

// New wraps rec. The Table takes over the caller's reference to rec.
func New(rec arrow.Record) *Table {
	idx := make(map[string]int, rec.NumCols())
	for i, f := range rec.Schema().Fields() {
		if _, dup := idx[f.Name]; !dup {
			idx[f.Name] = i
		}
	}
	return &Table{rec: rec, index: idx}
}

// Record returns the underlying Arrow record. It stays valid while the
// Table holds a reference.
func (t *Table) Record() arrow.Record { return t.rec }

// Schema returns the table schema.
func (t *Table) Schema() *arrow.Schema { return t.rec.Schema() }

// NumRows returns the number of rows.
func (t *Table) NumRows() int { return int(t.rec.NumRows()) }

// Retain increments the reference count of the underlying record.
func (t *Table) Retain() { t.rec.Retain() }

// Release decrements the reference count of the underlying record.
func (t *Table) Release() { t.rec.Release() }

// Columns returns the column names in header order.
func (t *Table) Columns() []string {
	fields := t.rec.Schema().Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

// HasColumn reports whether the table has a column called name.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Column returns the named column.
func (t *Table) Column(name string) (arrow.Array, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.rec.Column(i), true
}

// Float64s returns the values of a float64 column. Null slots become NaN.
func (t *Table) Float64s(name string) ([]float64, error) {
	col, ok := t.Column(name)
	if !ok {
		return nil, fmt.Errorf("column %q not found", name)
	}
	arr, ok := col.(*array.Float64)
	if !ok {
		return nil, fmt.Errorf("column %q: expected float64, got %s", name, col.DataType())
	}
	out := make([]float64, arr.Len())
	for i := range out {
		if arr.IsNull(i) {
			out[i] = math.NaN()
			continue
		}
		out[i] = arr.Value(i)
	}
	return out, nil
}

// Strings returns the values of a utf8 column. Null slots become "".
func (t *Table) Strings(name string) ([]string, error) {
	col, ok := t.Column(name)
	if !ok {
		return nil, fmt.Errorf("column %q not found", name)
	}
	arr, ok := col.(*array.String)
	if !ok {
		return nil, fmt.Errorf("column %q: expected utf8, got %s", name, col.DataType())
	}
	out := make([]string, arr.Len())
	for i := range out {
		if !arr.IsNull(i) {
			out[i] = arr.Value(i)
		}
	}
	return out, nil
}

// Row returns row i as a mapping from column name to value. Values are
// float64, int64 or string; null cells map to nil.
func (t *Table) Row(i int) map[string]any {
	row := make(map[string]any, t.rec.NumCols())
	for c, f := range t.rec.Schema().Fields() {
		row[f.Name] = Value(t.rec.Column(c), i)
	}
	return row
}

// Rows returns every row in order.
func (t *Table) Rows() []map[string]any {
	rows := make([]map[string]any, t.NumRows())
	for i := range rows {
		rows[i] = t.Row(i)
	}
	return rows
}

// Value returns the Go value held in slot i of arr.
func Value(arr arrow.Array, i int) any {
	if arr.IsNull(i) {
		return nil
	}
	switch a := arr.(type) {
	case *array.Float64:
		return a.Value(i)
	case *array.Int64:
		return a.Value(i)
	case *array.String:
		return a.Value(i)
	default:
		return a.ValueStr(i)
	}
}

// FromRecords concatenates recs, all of the given schema, into one table.
// The records are not released.
func FromRecords(schema *arrow.Schema, recs []arrow.Record) (*Table, error) {
	if len(recs) == 1 {
		recs[0].Retain()
		return New(recs[0]), nil
	}

	cols := make([]arrow.Array, schema.NumFields())
	defer func() {
		for _, c := range cols {
			if c != nil {
				c.Release()
			}
		}
	}()
	var rows int64
	for _, rec := range recs {
		if !rec.Schema().Equal(schema) {
			return nil, fmt.Errorf("table: record schema %s does not match %s", rec.Schema(), schema)
		}
		rows += rec.NumRows()
	}
	for i := range cols {
		if len(recs) == 0 {
			bld := array.NewBuilder(Pool, schema.Field(i).Type)
			cols[i] = bld.NewArray()
			bld.Release()
			continue
		}
		parts := make([]arrow.Array, len(recs))
		for j, rec := range recs {
			parts[j] = rec.Column(i)
		}
		col, err := array.Concatenate(parts, Pool)
		if err != nil {
			return nil, fmt.Errorf("table: concatenate column %s: %w", schema.Field(i).Name, err)
		}
		cols[i] = col
	}
	return New(array.NewRecord(schema, cols, rows)), nil
}
