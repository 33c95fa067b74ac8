package db

import (
	"context"
	"fmt"
	"time"

	"github.com/TFMV/findash/index"
	"github.com/TFMV/findash/loader"
	"github.com/TFMV/findash/normalize"
	"github.com/TFMV/findash/query"
	"github.com/TFMV/findash/table"
)

// Dataset is a normalized table together with its indexes and the source
// revision it was read from. A Dataset returned by DB.Get holds a reference
// that the caller drops with Release.
type Dataset struct {
	Identity loader.Identity
	Table    *table.Table
	Segments *index.SegmentIndex
	Ages     *index.SortedIndex
	Report   normalize.Report
	LoadedAt time.Time
}

// Retain adds a reference to the underlying table.
func (d *Dataset) Retain() { d.Table.Retain() }

// Release drops a reference to the underlying table.
func (d *Dataset) Release() { d.Table.Release() }

// Planner returns a filter planner over the dataset indexes.
func (d *Dataset) Planner() *query.Planner {
	return query.NewPlanner(d.Segments, d.Ages)
}

// Filter returns the rows of the dataset matching f.
func (d *Dataset) Filter(ctx context.Context, f query.Filter) (*table.Table, error) {
	return d.Planner().Execute(ctx, d.Table, f)
}

// Build loads src, normalizes it and indexes the result.
func Build(ctx context.Context, src loader.Source, lopt loader.Options, nopt normalize.Options) (*Dataset, error) {
	raw, id, err := loader.LoadSource(ctx, src, lopt)
	if err != nil {
		return nil, err
	}
	defer raw.Release()

	tbl, rep, err := normalize.NormalizeWithReport(raw, nopt)
	if err != nil {
		return nil, fmt.Errorf("normalize %s: %w", id.URI, err)
	}
	return newDataset(id, tbl, rep)
}

func newDataset(id loader.Identity, tbl *table.Table, rep normalize.Report) (*Dataset, error) {
	segs, err := index.BuildSegments(tbl, table.CustomerSegment)
	if err != nil {
		tbl.Release()
		return nil, fmt.Errorf("index %s: %w", id.URI, err)
	}
	ages, err := index.BuildSorted(tbl, table.Age)
	if err != nil {
		tbl.Release()
		return nil, fmt.Errorf("index %s: %w", id.URI, err)
	}
	return &Dataset{
		Identity: id,
		Table:    tbl,
		Segments: segs,
		Ages:     ages,
		Report:   rep,
		LoadedAt: time.Now(),
	}, nil
}
