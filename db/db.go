// Package db caches normalized datasets keyed on the identity of the source
// they were read from.
package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/TFMV/findash/loader"
	"github.com/TFMV/findash/normalize"
	"github.com/golang/groupcache/lru"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrClosed is returned by Get after Close.
var ErrClosed = errors.New("db: closed")

// ---------------------------------------------------------------------
// Prometheus Metrics
// ---------------------------------------------------------------------

var (
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "findash_dataset_cache_hits_total",
		Help: "Dataset lookups served from the cache",
	})
	cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "findash_dataset_cache_misses_total",
		Help: "Dataset lookups that loaded the source",
	})
	loadLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "findash_dataset_load_latency_seconds",
		Help: "Load, normalize and index latency distribution",
	})
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMisses, loadLatency)
}

// ---------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------

// Options configures a DB.
type Options struct {
	// CacheSize bounds the number of cached datasets; values below 1 use 8.
	CacheSize int
	// Watch drops cached local files as soon as they change on disk.
	Watch     bool
	Loader    loader.Options
	Normalize normalize.Options
	// Sources is used by GetURI to resolve remote sources.
	Sources loader.Config
	Logger  *zap.Logger
}

// DefaultOptions returns a DB configuration for the financial dataset.
func DefaultOptions() Options {
	return Options{
		CacheSize: 8,
		Watch:     true,
		Loader:    loader.DefaultOptions(),
		Normalize: normalize.DefaultOptions(),
	}
}

// ---------------------------------------------------------------------
// DB: The dataset cache
// ---------------------------------------------------------------------

// DB is an explicit, caller-owned dataset cache. It is safe for concurrent
// use.
type DB struct {
	mu      sync.Mutex
	cache   *lru.Cache
	opts    Options
	logger  *zap.Logger
	group   singleflight.Group
	watcher *watcher
	closed  bool
	sources *loader.Resolver
}

// Open creates a DB. With Options.Watch it starts a filesystem watcher that
// Close stops.
func Open(opts Options) (*DB, error) {
	if opts.CacheSize < 1 {
		opts.CacheSize = 8
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	db := &DB{opts: opts, logger: logger, sources: loader.NewResolver(opts.Sources)}
	db.cache = lru.New(opts.CacheSize)
	db.cache.OnEvicted = func(key lru.Key, value interface{}) {
		ds := value.(*Dataset)
		db.logger.Debug("dataset evicted", zap.String("uri", ds.Identity.URI))
		if db.watcher != nil {
			db.watcher.forget(ds.Identity.URI)
		}
		ds.Release()
	}

	if opts.Watch {
		w, err := newWatcher(logger, db.Invalidate)
		if err != nil {
			return nil, fmt.Errorf("db: start watcher: %w", err)
		}
		db.watcher = w
	}
	return db, nil
}

// GetURI resolves uri with the DB's loader.Resolver and returns its dataset.
func (db *DB) GetURI(ctx context.Context, uri string) (*Dataset, error) {
	db.mu.Lock()
	closed := db.closed
	db.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	src, err := db.sources.Resolve(ctx, uri)
	if err != nil {
		return nil, err
	}
	return db.Get(ctx, src)
}

// Get returns the dataset for src. The source is checked on every call; a
// cached dataset is served only while its identity still matches. The
// caller must Release the returned dataset.
func (db *DB) Get(ctx context.Context, src loader.Source) (*Dataset, error) {
	id, err := src.Stat(ctx)
	if err != nil {
		return nil, err
	}

	for {
		ds, err := db.lookup(id)
		if err != nil {
			return nil, err
		}
		if ds != nil {
			cacheHits.Inc()
			return ds, nil
		}

		flight := fmt.Sprintf("%s|%d|%s", id.URI, id.Size, id.Version)
		v, err, _ := db.group.Do(flight, func() (interface{}, error) {
			return db.load(ctx, src)
		})
		if err != nil {
			return nil, err
		}
		if ds := v.(*Dataset); db.acquire(ds) {
			return ds, nil
		}
		// Evicted before this caller took a reference; look again.
	}
}

// lookup returns a retained dataset whose identity equals id, or nil.
func (db *DB) lookup(id loader.Identity) (*Dataset, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrClosed
	}
	v, ok := db.cache.Get(id.URI)
	if !ok {
		return nil, nil
	}
	ds := v.(*Dataset)
	if ds.Identity != id {
		db.logger.Info("dataset changed", zap.String("uri", id.URI),
			zap.String("cached", ds.Identity.Version), zap.String("current", id.Version))
		db.cache.Remove(id.URI)
		return nil, nil
	}
	ds.Retain()
	return ds, nil
}

// acquire retains ds if it is still the cached entry for its URI.
func (db *DB) acquire(ds *Dataset) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	v, ok := db.cache.Get(ds.Identity.URI)
	if !ok || v.(*Dataset) != ds {
		return false
	}
	ds.Retain()
	return true
}

func (db *DB) load(ctx context.Context, src loader.Source) (*Dataset, error) {
	cacheMisses.Inc()
	start := time.Now()
	ds, err := Build(ctx, src, db.opts.Loader, db.opts.Normalize)
	if err != nil {
		db.logger.Error("dataset load failed", zap.String("uri", src.URI()), zap.Error(err))
		return nil, err
	}
	loadLatency.Observe(time.Since(start).Seconds())

	fields := []zap.Field{
		zap.String("uri", ds.Identity.URI),
		zap.Int("rows", ds.Table.NumRows()),
		zap.Int("filled_segments", ds.Report.FilledLabels),
		zap.Duration("elapsed", time.Since(start)),
	}
	for _, c := range ds.Report.Numeric {
		if c.Imputed > 0 {
			fields = append(fields, zap.Int("imputed_"+c.Column, c.Imputed))
		}
	}
	db.logger.Info("dataset loaded", fields...)

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		ds.Release()
		return nil, ErrClosed
	}
	// lru.Add replaces in place without eviction, so drop any stale entry first.
	db.cache.Remove(ds.Identity.URI)
	db.cache.Add(ds.Identity.URI, ds)
	if db.watcher != nil {
		if fs, ok := src.(loader.FileSource); ok {
			db.watcher.watch(fs.URI())
		}
	}
	return ds, nil
}

// Invalidate drops the cached dataset for uri, if any. Datasets already
// handed out stay valid until released.
func (db *DB) Invalidate(uri string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return
	}
	if _, ok := db.cache.Get(uri); ok {
		db.logger.Info("dataset invalidated", zap.String("uri", uri))
		db.cache.Remove(uri)
	}
}

// Len returns the number of cached datasets.
func (db *DB) Len() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.cache.Len()
}

// Close stops the watcher, drops every cached dataset and releases the
// Cloud Storage client. It is safe to call more than once.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.cache.Clear()
	w := db.watcher
	db.mu.Unlock()

	err := db.sources.Close()
	if w != nil {
		if werr := w.close(); err == nil {
			err = werr
		}
	}
	return err
}
