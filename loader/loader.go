// Package loader reads delimited files into raw, all-string tables.
package loader

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/TFMV/findash/table"
	arrowcsv "github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DefaultNullValues are the tokens read as missing. They follow the pandas
// read_csv defaults so a literal "None" or "NA" counts as missing.
var DefaultNullValues = []string{
	"", "#N/A", "#N/A N/A", "#NA", "-1.#IND", "-1.#QNAN", "-NaN", "-nan",
	"1.#IND", "1.#QNAN", "<NA>", "N/A", "NA", "NULL", "NaN", "None",
	"n/a", "nan", "null",
}

// Options controls CSV decoding.
type Options struct {
	// Comma is the field delimiter.
	Comma rune
	// NullValues are cell tokens stored as null.
	NullValues []string
	// LazyQuotes relaxes quote handling as in encoding/csv.
	LazyQuotes bool
	// Allocator for the Arrow buffers; table.Pool when nil.
	Allocator memory.Allocator
}

// DefaultOptions returns comma-separated decoding with the pandas NA tokens.
func DefaultOptions() Options {
	nulls := make([]string, len(DefaultNullValues))
	copy(nulls, DefaultNullValues)
	return Options{Comma: ',', NullValues: nulls}
}

// LoadSource opens src and decodes it. The returned identity is the one
// observed before reading.
func LoadSource(ctx context.Context, src Source, opt Options) (*table.Table, Identity, error) {
	id, err := src.Stat(ctx)
	if err != nil {
		return nil, Identity{}, err
	}
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, Identity{}, err
	}
	defer rc.Close()

	t, err := Load(rc, src.URI(), opt)
	if err != nil {
		return nil, Identity{}, err
	}
	return t, id, nil
}

// LoadFile reads the delimited file at path.
func LoadFile(ctx context.Context, path string, opt Options) (*table.Table, error) {
	t, _, err := LoadSource(ctx, FileSource{Path: path}, opt)
	return t, err
}

// Load decodes delimited text from r. The header row names the columns;
// every column is held as nullable utf8. name identifies r in errors. When
// name is a snapshot (see IsSnapshot) r holds an Arrow IPC file whose
// columns keep their stored types.
func Load(r io.Reader, name string, opt Options) (*table.Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, sourceErr(name, "read", err)
	}
	if IsSnapshot(name) {
		t, err := ReadIPC(bytes.NewReader(data))
		if err != nil {
			return nil, sourceErr(name, "decode", err)
		}
		return t, nil
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	header, err := readHeader(data, opt)
	if err != nil {
		return nil, sourceErr(name, "header", err)
	}

	mem := opt.Allocator
	if mem == nil {
		mem = table.Pool
	}
	comma := opt.Comma
	if comma == 0 {
		comma = ','
	}
	nulls := opt.NullValues
	if nulls == nil {
		nulls = []string{""}
	}

	rdr := arrowcsv.NewReader(
		bytes.NewReader(data),
		table.RawSchema(header),
		arrowcsv.WithHeader(true),
		arrowcsv.WithChunk(-1),
		arrowcsv.WithComma(comma),
		arrowcsv.WithLazyQuotes(opt.LazyQuotes),
		arrowcsv.WithNullReader(true, nulls...),
		arrowcsv.WithAllocator(mem),
	)
	defer rdr.Release()

	if !rdr.Next() {
		if err := rdr.Err(); err != nil {
			return nil, sourceErr(name, "decode", err)
		}
		return nil, sourceErr(name, "decode", errors.New("no record produced"))
	}
	if err := rdr.Err(); err != nil {
		return nil, sourceErr(name, "decode", err)
	}
	rec := rdr.Record()
	rec.Retain()
	return table.New(rec), nil
}

// readHeader parses the first row and rejects empty or duplicate names.
func readHeader(data []byte, opt Options) ([]string, error) {
	cr := csv.NewReader(bytes.NewReader(data))
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.LazyQuotes = opt.LazyQuotes
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty file")
		}
		return nil, err
	}
	seen := make(map[string]bool, len(header))
	for _, h := range header {
		if seen[h] {
			return nil, fmt.Errorf("duplicate column %q", h)
		}
		seen[h] = true
	}
	return header, nil
}
