package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TFMV/findash/db"
	"github.com/TFMV/findash/loader"
	"github.com/TFMV/findash/normalize"
	"github.com/TFMV/findash/query"
	"github.com/TFMV/findash/table"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func financialCSV(rows int) string {
	var b strings.Builder
	b.WriteString(strings.Join(append(table.NumericColumns(), table.CustomerSegment, "Note"), ","))
	b.WriteByte('\n')
	segments := []string{"Gold", "Silver", ""}
	for i := 0; i < rows; i++ {
		cells := make([]string, 0, len(table.NumericColumns())+2)
		for c := range table.NumericColumns() {
			cells = append(cells, fmt.Sprint(20+i+c))
		}
		cells = append(cells, segments[i%len(segments)], "")
		b.WriteString(strings.Join(cells, ","))
		b.WriteByte('\n')
	}
	return b.String()
}

func normalizedTable(t *testing.T, rows int) *table.Table {
	t.Helper()
	raw, err := loader.Load(strings.NewReader(financialCSV(rows)), "test", loader.DefaultOptions())
	require.NoError(t, err)
	defer raw.Release()
	out, err := normalize.Normalize(raw, normalize.DefaultOptions())
	require.NoError(t, err)
	return out
}

func TestIPCRoundTrip(t *testing.T) {
	tbl := normalizedTable(t, 12)
	defer tbl.Release()

	path := filepath.Join(t.TempDir(), "snapshot.arrow")
	require.NoError(t, SaveIPC(path, tbl))

	back, err := LoadIPC(path)
	require.NoError(t, err)
	defer back.Release()

	assert.True(t, back.Schema().Equal(tbl.Schema()))
	assert.True(t, array.RecordEqual(tbl.Record(), back.Record()))
}

func TestIPCEmptyTable(t *testing.T) {
	tbl := normalizedTable(t, 0)
	defer tbl.Release()

	var buf bytes.Buffer
	require.NoError(t, WriteIPC(&buf, tbl))
	back, err := loader.ReadIPC(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer back.Release()
	assert.Equal(t, 0, back.NumRows())
	assert.Equal(t, tbl.Columns(), back.Columns())
}

func TestLoadIPCMissing(t *testing.T) {
	_, err := LoadIPC(filepath.Join(t.TempDir(), "nope.arrow"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteParquet(t *testing.T) {
	tbl := normalizedTable(t, 30)
	defer tbl.Release()

	for _, codec := range []compress.Compression{compress.Codecs.Snappy, compress.Codecs.Uncompressed, compress.Codecs.Zstd} {
		t.Run(codec.String(), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteParquet(&buf, tbl, codec))
			data := buf.Bytes()
			assert.True(t, bytes.HasPrefix(data, []byte("PAR1")))
			assert.True(t, bytes.HasSuffix(data, []byte("PAR1")))

			back, err := pqarrow.ReadTable(context.Background(), bytes.NewReader(data),
				parquet.NewReaderProperties(table.Pool), pqarrow.ArrowReadProperties{}, table.Pool)
			require.NoError(t, err)
			defer back.Release()
			assert.Equal(t, int64(30), back.NumRows())
			assert.Equal(t, int64(tbl.Schema().NumFields()), back.NumCols())
		})
	}
}

func TestParseCodec(t *testing.T) {
	c, err := ParseCodec("")
	require.NoError(t, err)
	assert.Equal(t, compress.Codecs.Snappy, c)

	c, err = ParseCodec("ZSTD")
	require.NoError(t, err)
	assert.Equal(t, compress.Codecs.Zstd, c)

	_, err = ParseCodec("lzma")
	assert.Error(t, err)
}

func TestExportedSnapshotIsASource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "financial.csv")
	require.NoError(t, os.WriteFile(src, []byte(financialCSV(9)), 0o644))

	opts := db.DefaultOptions()
	opts.Watch = false
	database, err := db.Open(opts)
	require.NoError(t, err)
	defer database.Close()
	st := NewStorage(database)

	snapshot := filepath.Join(dir, "financial.arrow")
	require.NoError(t, st.Export(context.Background(), src, snapshot, "", compress.Codecs.Snappy))
	pq := filepath.Join(dir, "financial.parquet")
	require.NoError(t, st.Export(context.Background(), src, pq, "", compress.Codecs.Gzip))
	assert.Error(t, st.Export(context.Background(), src, filepath.Join(dir, "x.csv"), "csv", compress.Codecs.Snappy))

	orig, err := database.GetURI(context.Background(), src)
	require.NoError(t, err)
	defer orig.Release()

	ds, err := database.GetURI(context.Background(), snapshot)
	require.NoError(t, err)
	defer ds.Release()

	assert.Equal(t, 9, ds.Table.NumRows())
	assert.True(t, array.RecordEqual(orig.Table.Record(), ds.Table.Record()))
	assert.True(t, loader.IsSnapshot(ds.Identity.URI))
	assert.Equal(t, []string{"Gold", "Silver", "Unknown"}, ds.Segments.Labels())

	out, err := ds.Filter(context.Background(), query.Filter{AgeMin: 20, AgeMax: 24, Segments: []string{"Gold"}})
	require.NoError(t, err)
	defer out.Release()
	// Ages 20..28; Gold rows are 0, 3, 6 with ages 20, 23, 26.
	assert.Equal(t, 2, out.NumRows())

	info, err := os.Stat(pq)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestFormatFor(t *testing.T) {
	assert.Equal(t, "parquet", FormatFor("out.parquet"))
	assert.Equal(t, "ipc", FormatFor("out.arrow"))
}
