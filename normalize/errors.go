package normalize

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingColumn is returned when a column named in Options is absent.
	ErrMissingColumn = errors.New("normalize: missing column")
	// ErrUnsupportedType is returned for a column whose Arrow type cannot be coerced.
	ErrUnsupportedType = errors.New("normalize: unsupported column type")
)

// NoValidDataError reports a numeric column in which no cell parses, so no
// median exists to fill it with.
type NoValidDataError struct {
	Column string
}

func (e *NoValidDataError) Error() string {
	return fmt.Sprintf("normalize: column %q has no valid numeric data", e.Column)
}
