package loader

import (
	"errors"
	"fmt"
	"io/fs"

	"cloud.google.com/go/storage"
)

// DataSourceError reports a source that is missing, unreadable or
// structurally malformed. It is fatal to the load call and never retried.
type DataSourceError struct {
	URI string
	Op  string
	Err error
}

func (e *DataSourceError) Error() string {
	return fmt.Sprintf("data source %s: %s: %v", e.URI, e.Op, e.Err)
}

func (e *DataSourceError) Unwrap() error { return e.Err }

// NotFound reports whether the source does not exist.
func (e *DataSourceError) NotFound() bool {
	return errors.Is(e.Err, fs.ErrNotExist) || errors.Is(e.Err, storage.ErrObjectNotExist)
}

func sourceErr(uri, op string, err error) error {
	return &DataSourceError{URI: uri, Op: op, Err: err}
}
