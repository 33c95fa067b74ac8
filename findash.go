// Package findash is the dashboard core: it loads a financial customer
// dataset, cleans it and answers filtered views with summary statistics
// and chart series.
package findash

import (
	"context"
	"errors"
	"math"

	"github.com/TFMV/findash/chart"
	"github.com/TFMV/findash/db"
	"github.com/TFMV/findash/loader"
	"github.com/TFMV/findash/query"
	"github.com/TFMV/findash/stats"
	"github.com/TFMV/findash/table"
)

// ErrNoSource is returned when a Dashboard has no source to read.
var ErrNoSource = errors.New("findash: no data source configured")

// ---------------------------------------------------------------------
// Selection
// ---------------------------------------------------------------------

// Selection is a partially specified filter. Unset bounds and nil Segments
// take the dataset defaults, which select every row; an empty, non-nil
// Segments selects nothing.
type Selection struct {
	AgeMin   *float64
	AgeMax   *float64
	Segments []string
}

// Resolve fills the unset parts of s from def.
func (s Selection) Resolve(def query.Filter) query.Filter {
	f := def
	if s.AgeMin != nil {
		f.AgeMin = *s.AgeMin
	}
	if s.AgeMax != nil {
		f.AgeMax = *s.AgeMax
	}
	if s.Segments != nil {
		f.Segments = s.Segments
	}
	return f
}

// ---------------------------------------------------------------------
// Dashboard
// ---------------------------------------------------------------------

// Dashboard answers views over one source through a dataset cache.
type Dashboard struct {
	db     *db.DB
	source string
	owned  bool
}

// Open creates a Dashboard with its own cache. Close releases it.
func Open(source string, opts db.Options) (*Dashboard, error) {
	database, err := db.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Dashboard{db: database, source: source, owned: true}, nil
}

// New creates a Dashboard over a shared cache. Close leaves the cache open.
func New(database *db.DB, source string) *Dashboard {
	return &Dashboard{db: database, source: source}
}

// Source returns the URI the dashboard reads.
func (d *Dashboard) Source() string { return d.source }

// DB returns the dataset cache backing d.
func (d *Dashboard) DB() *db.DB { return d.db }

// Close releases the cache if d created it.
func (d *Dashboard) Close() error {
	if d.owned {
		return d.db.Close()
	}
	return nil
}

func (d *Dashboard) dataset(ctx context.Context) (*db.Dataset, error) {
	if d.source == "" {
		return nil, ErrNoSource
	}
	return d.db.GetURI(ctx, d.source)
}

// Defaults returns the filter that selects the whole dataset, which is what
// a dashboard shows before any user input.
func (d *Dashboard) Defaults(ctx context.Context) (query.Filter, error) {
	ds, err := d.dataset(ctx)
	if err != nil {
		return query.Filter{}, err
	}
	defer ds.Release()
	return query.DefaultFilter(ds.Table)
}

// View filters the dataset by sel. The caller must Release the view.
func (d *Dashboard) View(ctx context.Context, sel Selection) (*View, error) {
	ds, err := d.dataset(ctx)
	if err != nil {
		return nil, err
	}
	defer ds.Release()

	def, err := query.DefaultFilter(ds.Table)
	if err != nil {
		return nil, err
	}
	f := sel.Resolve(def)
	rows, err := ds.Filter(ctx, f)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(def.Segments))
	for _, label := range def.Segments {
		counts[label] = int(ds.Segments.Count(label))
	}
	return &View{
		Identity: ds.Identity,
		Filter:   f,
		Total:    ds.Table.NumRows(),
		Counts:   counts,
		Rows:     rows,
	}, nil
}

// ---------------------------------------------------------------------
// View
// ---------------------------------------------------------------------

// View is the filtered subset of one dataset revision.
type View struct {
	Identity loader.Identity
	Filter   query.Filter
	// Total is the row count of the unfiltered dataset.
	Total int
	// Counts holds the rows per segment of the unfiltered dataset.
	Counts map[string]int
	Rows   *table.Table
}

// Summary describes the numeric columns of the view.
func (v *View) Summary() stats.Report {
	return stats.Describe(v.Rows)
}

// Charts builds the dashboard charts of the view.
func (v *View) Charts(bins int) (*chart.Charts, error) {
	return chart.Build(v.Rows, bins)
}

// Release drops the view's rows.
func (v *View) Release() {
	v.Rows.Release()
}

// Float returns a pointer to x, for building a Selection. NaN yields nil.
func Float(x float64) *float64 {
	if math.IsNaN(x) {
		return nil
	}
	return &x
}
