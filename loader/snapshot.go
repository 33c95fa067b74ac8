package loader

import (
	"fmt"
	"path"
	"strings"

	"github.com/TFMV/findash/table"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
)

// IsSnapshot reports whether uri names an Arrow IPC file rather than
// delimited text.
func IsSnapshot(uri string) bool {
	switch strings.ToLower(path.Ext(uri)) {
	case ".arrow", ".ipc", ".feather":
		return true
	default:
		return false
	}
}

// ReadIPC reads an Arrow IPC file into a single-record table. Multiple
// record batches are concatenated in order.
func ReadIPC(r ipc.ReadAtSeeker) (*table.Table, error) {
	reader, err := ipc.NewFileReader(r, ipc.WithAllocator(table.Pool))
	if err != nil {
		return nil, fmt.Errorf("failed to create Arrow file reader: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()

	n := reader.NumRecords()
	recs := make([]arrow.Record, 0, n)
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()
	for i := 0; i < n; i++ {
		rec, err := reader.RecordAt(i)
		if err != nil {
			return nil, fmt.Errorf("failed to read record %d from file: %w", i, err)
		}
		recs = append(recs, rec)
	}

	return table.FromRecords(reader.Schema(), recs)
}
