package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/golang/groupcache/lru"
	"github.com/sony/gobreaker"
	"google.golang.org/api/option"
)

// ---------------------------------------------------------------------
// Source identity
// ---------------------------------------------------------------------

// Identity names one revision of a source. Two loads with equal identities
// read the same bytes.
type Identity struct {
	URI     string
	Size    int64
	Version string
}

// Source is a readable location of a delimited file.
type Source interface {
	URI() string
	Stat(ctx context.Context) (Identity, error)
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Config carries what a Resolver needs to reach remote sources.
type Config struct {
	// GCSCredentialsFile is a service account key; empty uses default credentials.
	GCSCredentialsFile string
	// GCSClientOptions are appended to the storage client options.
	GCSClientOptions []option.ClientOption
	// Breaker settings for remote calls; zero value uses gobreaker defaults.
	Breaker gobreaker.Settings
}

// ErrResolverClosed is returned by Resolve after Close.
var ErrResolverClosed = errors.New("loader: resolver closed")

// maxRemoteSources bounds the Cloud Storage sources a Resolver remembers.
const maxRemoteSources = 64

// Resolver turns URIs into Sources. "gs://bucket/object" selects Cloud
// Storage; anything else is a local path. Cloud Storage sources share one
// client, created on first use and released by Close. The most recently
// resolved objects keep their circuit breaker between calls. A Resolver is
// safe for concurrent use.
type Resolver struct {
	cfg     Config
	mu      sync.Mutex
	client  *storage.Client
	sources *lru.Cache
	closed  bool
}

func NewResolver(cfg Config) *Resolver {
	return &Resolver{cfg: cfg, sources: lru.New(maxRemoteSources)}
}

// Resolve returns the Source for uri.
func (r *Resolver) Resolve(ctx context.Context, uri string) (Source, error) {
	if !strings.HasPrefix(uri, "gs://") {
		return FileSource{Path: uri}, nil
	}
	bucket, object, ok := strings.Cut(strings.TrimPrefix(uri, "gs://"), "/")
	if !ok || bucket == "" || object == "" {
		return nil, sourceErr(uri, "resolve", errors.New("expected gs://bucket/object"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, sourceErr(uri, "resolve", ErrResolverClosed)
	}
	if v, ok := r.sources.Get(uri); ok {
		return v.(*GCSSource), nil
	}
	if r.client == nil {
		opts := append([]option.ClientOption(nil), r.cfg.GCSClientOptions...)
		if r.cfg.GCSCredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(r.cfg.GCSCredentialsFile))
		}
		client, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return nil, sourceErr(uri, "resolve", err)
		}
		r.client = client
	}
	src := NewGCSSource(r.client, bucket, object, r.cfg.Breaker)
	r.sources.Add(uri, src)
	return src, nil
}

// Close releases the Cloud Storage client. It is safe to call more than once.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.sources.Clear()
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}

// ---------------------------------------------------------------------
// Local files
// ---------------------------------------------------------------------

// FileSource reads a file from the local filesystem.
type FileSource struct {
	Path string
}

func (f FileSource) URI() string {
	if abs, err := filepath.Abs(f.Path); err == nil {
		return abs
	}
	return f.Path
}

// Stat identifies the file by size and modification time.
func (f FileSource) Stat(ctx context.Context) (Identity, error) {
	fi, err := os.Stat(f.Path)
	if err != nil {
		return Identity{}, sourceErr(f.Path, "stat", err)
	}
	if fi.IsDir() {
		return Identity{}, sourceErr(f.Path, "stat", errors.New("is a directory"))
	}
	return Identity{
		URI:     f.URI(),
		Size:    fi.Size(),
		Version: fi.ModTime().UTC().Format(time.RFC3339Nano),
	}, nil
}

func (f FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, sourceErr(f.Path, "open", err)
	}
	return file, nil
}

// ---------------------------------------------------------------------
// Cloud Storage
// ---------------------------------------------------------------------

// objectStore is the part of the storage client GCSSource uses.
type objectStore interface {
	attrs(ctx context.Context, bucket, object string) (size, generation int64, err error)
	reader(ctx context.Context, bucket, object string) (io.ReadCloser, error)
}

type gcsStore struct {
	client *storage.Client
}

func (g gcsStore) attrs(ctx context.Context, bucket, object string) (int64, int64, error) {
	a, err := g.client.Bucket(bucket).Object(object).Attrs(ctx)
	if err != nil {
		return 0, 0, err
	}
	return a.Size, a.Generation, nil
}

func (g gcsStore) reader(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	return g.client.Bucket(bucket).Object(object).NewReader(ctx)
}

// GCSSource reads an object from Cloud Storage. Calls pass through a
// circuit breaker so a failing bucket is not hammered by every request.
type GCSSource struct {
	Bucket  string
	Object  string
	store   objectStore
	breaker *gobreaker.CircuitBreaker
}

// NewGCSSource returns a source for gs://bucket/object.
func NewGCSSource(client *storage.Client, bucket, object string, st gobreaker.Settings) *GCSSource {
	return newGCSSource(gcsStore{client: client}, bucket, object, st)
}

func newGCSSource(store objectStore, bucket, object string, st gobreaker.Settings) *GCSSource {
	if st.Name == "" {
		st.Name = "gcs:" + bucket
	}
	// A missing object is an answer, not an outage.
	st.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, storage.ErrObjectNotExist)
	}
	return &GCSSource{
		Bucket:  bucket,
		Object:  object,
		store:   store,
		breaker: gobreaker.NewCircuitBreaker(st),
	}
}

func (g *GCSSource) URI() string { return fmt.Sprintf("gs://%s/%s", g.Bucket, g.Object) }

// Stat identifies the object by size and generation.
func (g *GCSSource) Stat(ctx context.Context) (Identity, error) {
	out, err := g.breaker.Execute(func() (interface{}, error) {
		size, gen, err := g.store.attrs(ctx, g.Bucket, g.Object)
		if err != nil {
			return nil, err
		}
		return Identity{URI: g.URI(), Size: size, Version: strconv.FormatInt(gen, 10)}, nil
	})
	if err != nil {
		return Identity{}, sourceErr(g.URI(), "stat", err)
	}
	return out.(Identity), nil
}

func (g *GCSSource) Open(ctx context.Context) (io.ReadCloser, error) {
	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.store.reader(ctx, g.Bucket, g.Object)
	})
	if err != nil {
		return nil, sourceErr(g.URI(), "open", err)
	}
	return out.(io.ReadCloser), nil
}

// BreakerState reports the circuit breaker state.
func (g *GCSSource) BreakerState() gobreaker.State { return g.breaker.State() }
