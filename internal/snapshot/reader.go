// Package snapshot reads the station list bundled with the site at build time.
// The file is never written by this module.
package snapshot

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bluele/gcache"

	"radiocatalog/stationstore/internal/model"
)

// Reader serves the immutable build-time snapshot.
type Reader struct {
	path   string
	ttl    time.Duration
	logger *slog.Logger
	cache  gcache.Cache
}

// Option configures a Reader.
type Option func(*Reader)

// WithLogger sets the logger used to report unreadable snapshots.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTTL expires the parsed snapshot after d. Zero keeps it until restart.
func WithTTL(d time.Duration) Option {
	return func(r *Reader) {
		r.ttl = d
	}
}

// NewReader returns a reader for the JSON snapshot at path.
func NewReader(path string, opts ...Option) *Reader {
	r := &Reader{path: path, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}

	builder := gcache.New(1).LRU().LoaderFunc(func(key interface{}) (interface{}, error) {
		return r.load()
	})
	if r.ttl > 0 {
		builder = builder.Expiration(r.ttl)
	}
	r.cache = builder.Build()
	return r
}

// Path returns the snapshot location.
func (r *Reader) Path() string {
	return r.path
}

func (r *Reader) load() ([]model.Station, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	stations, err := model.DecodeList(data)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", r.path, err)
	}
	if n := model.MissingIDs(stations); n > 0 {
		r.logger.Warn("snapshot records without id cannot be edited", "path", r.path, "count", n)
	}
	return stations, nil
}

// ReadAll returns every record in the snapshot, inactive ones included, in
// file order.
func (r *Reader) ReadAll() ([]model.Station, error) {
	v, err := r.cache.Get(r.path)
	if err != nil {
		return nil, err
	}
	cached := v.([]model.Station)
	out := make([]model.Station, len(cached))
	for i, s := range cached {
		out[i] = s.Clone()
	}
	return out, nil
}

// ListActive returns the active records in file order. An unreadable snapshot
// yields an empty list so public pages render "no stations" instead of failing.
func (r *Reader) ListActive() []model.Station {
	stations, err := r.ReadAll()
	if err != nil {
		r.logger.Error("snapshot unavailable", "path", r.path, "error", err)
		return []model.Station{}
	}
	return model.ActiveOnly(stations)
}

// GetByID returns an active record by id.
func (r *Reader) GetByID(id string) (model.Station, bool) {
	stations := r.ListActive()
	i, ok := model.Find(stations, id)
	if !ok {
		return model.Station{}, false
	}
	return stations[i], true
}

// ListIDs returns the ids of all active records.
func (r *Reader) ListIDs() []string {
	return model.IDs(r.ListActive())
}
