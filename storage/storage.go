// Package storage saves normalized tables as Arrow IPC snapshots and exports
// them as Parquet.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/TFMV/findash/db"
	"github.com/TFMV/findash/loader"
	"github.com/TFMV/findash/table"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// ---------------------------------------------------------------------
// Arrow IPC snapshots
// ---------------------------------------------------------------------

// WriteIPC writes t to w in the Arrow IPC file format.
func WriteIPC(w io.Writer, t *table.Table) error {
	writer, err := ipc.NewFileWriter(
		w,
		ipc.WithSchema(t.Schema()),
		ipc.WithAllocator(table.Pool),
	)
	if err != nil {
		return fmt.Errorf("failed to create Arrow file writer: %w", err)
	}
	if err := writer.Write(t.Record()); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write record to Arrow file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close Arrow file writer: %w", err)
	}
	return nil
}

// SaveIPC writes t to a new file at path in the Arrow IPC file format.
func SaveIPC(path string, t *table.Table) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file %q: %w", path, err)
	}
	if err := WriteIPC(file, t); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

// LoadIPC reads the Arrow IPC file at path.
func LoadIPC(path string) (*table.Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %q: %w", path, err)
	}
	defer func() {
		_ = file.Close()
	}()
	return loader.ReadIPC(file)
}

// ---------------------------------------------------------------------
// Parquet export
// ---------------------------------------------------------------------

// ParseCodec maps a codec name to a Parquet compression codec.
func ParseCodec(name string) (compress.Compression, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return compress.Codecs.Snappy, nil
	case "none", "uncompressed":
		return compress.Codecs.Uncompressed, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "brotli":
		return compress.Codecs.Brotli, nil
	default:
		return compress.Codecs.Uncompressed, fmt.Errorf("unknown compression codec %q", name)
	}
}

// WriteParquet writes t to w as a Parquet file compressed with codec.
func WriteParquet(w io.Writer, t *table.Table, codec compress.Compression) error {
	props := parquet.NewWriterProperties(
		parquet.WithCompression(codec),
		parquet.WithAllocator(table.Pool),
	)
	fw, err := pqarrow.NewFileWriter(t.Schema(), w, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return fmt.Errorf("failed to create Parquet writer: %w", err)
	}
	if err := fw.Write(t.Record()); err != nil {
		_ = fw.Close()
		return fmt.Errorf("failed to write Parquet row group: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("failed to close Parquet writer: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------
// Storage: snapshots of cached datasets
// ---------------------------------------------------------------------

// Storage wraps a DB to export normalized datasets. Exported IPC snapshots
// are themselves sources: a DB reads them back through GetURI.
type Storage struct {
	db *db.DB
}

// NewStorage creates a new Storage instance for the given DB.
func NewStorage(database *db.DB) *Storage {
	return &Storage{db: database}
}

// Export writes the normalized dataset of uri to path. The format is
// "ipc", "arrow" or "parquet"; empty picks by the extension of path.
func (s *Storage) Export(ctx context.Context, uri, path, format string, codec compress.Compression) error {
	ds, err := s.db.GetURI(ctx, uri)
	if err != nil {
		return err
	}
	defer ds.Release()

	if format == "" {
		format = FormatFor(path)
	}
	switch format {
	case "ipc", "arrow":
		return SaveIPC(path, ds.Table)
	case "parquet":
		file, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create file %q: %w", path, err)
		}
		// The Parquet writer closes its sink on success.
		if err := WriteParquet(file, ds.Table, codec); err != nil {
			_ = file.Close()
			return err
		}
		return nil
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// FormatFor guesses the export format from a file name.
func FormatFor(path string) string {
	switch {
	case strings.HasSuffix(path, ".parquet"), strings.HasSuffix(path, ".pq"):
		return "parquet"
	default:
		return "ipc"
	}
}
