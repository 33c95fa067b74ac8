// Package index builds read-only row indexes over a normalized table: a
// roaring bitmap per customer segment and a sorted index over a numeric
// column for inclusive range lookups.
package index

import (
	"errors"
	"fmt"
	"math"
	"sort"

	roaring "github.com/RoaringBitmap/roaring"
	"github.com/TFMV/findash/table"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// ErrColumnType is returned when a column cannot back the requested index.
var ErrColumnType = errors.New("index: unsupported column type")

// ---------------------------------------------------------------------
// 1) Roaring Bitmap Index
//
//    Maps each distinct label -> roaring.Bitmap of row ids.
// ---------------------------------------------------------------------

// SegmentIndex is a label index over a utf8 column. It is immutable once
// built and safe for concurrent readers.
type SegmentIndex struct {
	labels []string
	values map[string]*roaring.Bitmap
	rows   int
}

// BuildSegments indexes the utf8 column name of t. Null cells are not indexed.
func BuildSegments(t *table.Table, name string) (*SegmentIndex, error) {
	col, ok := t.Column(name)
	if !ok {
		return nil, fmt.Errorf("index: column %q not found", name)
	}
	arr, ok := col.(*array.String)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %s", ErrColumnType, name, col.DataType())
	}

	idx := &SegmentIndex{
		values: make(map[string]*roaring.Bitmap),
		rows:   arr.Len(),
	}
	for i := 0; i < arr.Len(); i++ {
		if arr.IsNull(i) {
			continue
		}
		v := arr.Value(i)
		bm, ok := idx.values[v]
		if !ok {
			bm = roaring.New()
			idx.values[v] = bm
			idx.labels = append(idx.labels, v)
		}
		bm.Add(uint32(i))
	}
	for _, bm := range idx.values {
		bm.RunOptimize()
	}
	return idx, nil
}

func (s *SegmentIndex) Len() int { return s.rows }

// Labels returns the distinct labels in order of first appearance.
func (s *SegmentIndex) Labels() []string {
	out := make([]string, len(s.labels))
	copy(out, s.labels)
	return out
}

// Count returns the number of rows carrying label.
func (s *SegmentIndex) Count(label string) uint64 {
	bm, ok := s.values[label]
	if !ok {
		return 0
	}
	return bm.GetCardinality()
}

// Union returns the rows carrying any of labels. Unknown labels match
// nothing; no labels yields an empty bitmap.
func (s *SegmentIndex) Union(labels []string) *roaring.Bitmap {
	bms := make([]*roaring.Bitmap, 0, len(labels))
	for _, l := range labels {
		if bm, ok := s.values[l]; ok {
			bms = append(bms, bm)
		}
	}
	switch len(bms) {
	case 0:
		return roaring.New()
	case 1:
		return bms[0].Clone()
	default:
		return roaring.FastOr(bms...)
	}
}

// ---------------------------------------------------------------------
// 2) Sorted Column Index
//
//    Stores (value, row id) entries sorted by value. Range lookups are
//    two binary searches.
// ---------------------------------------------------------------------

// SortedIndex is a range index over a float64 column. It is immutable once
// built and safe for concurrent readers.
type SortedIndex struct {
	entries []sortedEntry
	rows    int
}

type sortedEntry struct {
	value float64
	rowID uint32
}

// BuildSorted indexes the float64 column name of t. Null and NaN cells are
// not indexed.
func BuildSorted(t *table.Table, name string) (*SortedIndex, error) {
	col, ok := t.Column(name)
	if !ok {
		return nil, fmt.Errorf("index: column %q not found", name)
	}
	arr, ok := col.(*array.Float64)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %s", ErrColumnType, name, col.DataType())
	}

	idx := &SortedIndex{entries: make([]sortedEntry, 0, arr.Len()), rows: arr.Len()}
	for i := 0; i < arr.Len(); i++ {
		if arr.IsNull(i) || math.IsNaN(arr.Value(i)) {
			continue
		}
		idx.entries = append(idx.entries, sortedEntry{value: arr.Value(i), rowID: uint32(i)})
	}
	sort.SliceStable(idx.entries, func(i, j int) bool {
		return idx.entries[i].value < idx.entries[j].value
	})
	return idx, nil
}

func (s *SortedIndex) Len() int { return s.rows }

// Bounds returns the smallest and largest indexed values. ok is false when
// nothing is indexed.
func (s *SortedIndex) Bounds() (lo, hi float64, ok bool) {
	if len(s.entries) == 0 {
		return math.NaN(), math.NaN(), false
	}
	return s.entries[0].value, s.entries[len(s.entries)-1].value, true
}

// Range returns the rows whose value v satisfies lo <= v <= hi. A NaN bound
// or lo > hi yields an empty bitmap.
func (s *SortedIndex) Range(lo, hi float64) *roaring.Bitmap {
	out := roaring.New()
	if math.IsNaN(lo) || math.IsNaN(hi) || lo > hi {
		return out
	}
	n := len(s.entries)
	left := sort.Search(n, func(i int) bool { return s.entries[i].value >= lo })
	right := sort.Search(n, func(i int) bool { return s.entries[i].value > hi })
	if left >= right {
		return out
	}
	ids := make([]uint32, 0, right-left)
	for _, e := range s.entries[left:right] {
		ids = append(ids, e.rowID)
	}
	out.AddMany(ids)
	return out
}
