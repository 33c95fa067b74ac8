package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// Cell is the outcome of reading one numeric cell: either a parsed value or
// unset. The zero Cell is unset.
type Cell struct {
	v  float64
	ok bool
}

// Parsed returns a set cell holding v.
func Parsed(v float64) Cell { return Cell{v: v, ok: true} }

// Unset returns a cell with no value.
func Unset() Cell { return Cell{} }

// Value returns the parsed value and whether the cell is set.
func (c Cell) Value() (float64, bool) { return c.v, c.ok }

// IsSet reports whether the cell holds a value.
func (c Cell) IsSet() bool { return c.ok }

func (c Cell) String() string {
	if !c.ok {
		return "Unset"
	}
	return fmt.Sprintf("Parsed(%g)", c.v)
}

// ParseCell reads s as a decimal number. Surrounding whitespace is ignored.
// Text that does not parse, and NaN, yield an unset cell. Magnitudes beyond
// the float64 range keep the rounded value: ±Inf on overflow, zero on
// underflow.
func ParseCell(s string) Cell {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return Unset()
	}
	if math.IsNaN(v) {
		return Unset()
	}
	return Parsed(v)
}

// Cells reads every slot of arr. Null slots are unset.
func Cells(arr arrow.Array) ([]Cell, error) {
	out := make([]Cell, arr.Len())
	switch a := arr.(type) {
	case *array.String:
		for i := range out {
			if !a.IsNull(i) {
				out[i] = ParseCell(a.Value(i))
			}
		}
	case *array.Float64:
		for i := range out {
			if !a.IsNull(i) && !math.IsNaN(a.Value(i)) {
				out[i] = Parsed(a.Value(i))
			}
		}
	case *array.Int64:
		for i := range out {
			if !a.IsNull(i) {
				out[i] = Parsed(float64(a.Value(i)))
			}
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, arr.DataType())
	}
	return out, nil
}
