// Package recordstore keeps the full station record set as a single JSON
// document in the blob tier and falls back to the build-time snapshot until
// the tier has been seeded.
package recordstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"radiocatalog/stationstore/internal/blob"
	"radiocatalog/stationstore/internal/model"
)

// Key is the well-known object key of the full record set.
const Key = "stations.json"

var (
	// ErrConflict reports that another writer replaced the record set after it
	// was read.
	ErrConflict = errors.New("record set modified concurrently")
	// ErrTierUnavailable refuses a mutation when the blob tier could not be
	// read; writing the snapshot fallback back would discard remote edits.
	ErrTierUnavailable = errors.New("blob tier unavailable")
)

// SnapshotSource provides the raw build-time record set.
type SnapshotSource interface {
	ReadAll() ([]model.Station, error)
}

// ReadObserver is told which strategy served each read.
type ReadObserver func(source Source)

// Store reads and writes the full record set.
type Store struct {
	tier     blob.Tier
	snapshot SnapshotSource
	logger   *slog.Logger
	observe  ReadObserver
	chain    []strategy

	// mu is the single serialization point for writes in this process.
	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithReadObserver registers a callback invoked after every read.
func WithReadObserver(fn ReadObserver) Option {
	return func(s *Store) { s.observe = fn }
}

// New builds a store over tier with snapshot as the unseeded fallback.
func New(tier blob.Tier, snapshot SnapshotSource, opts ...Option) *Store {
	s := &Store{tier: tier, snapshot: snapshot, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.chain = []strategy{
		{source: SourceRemote, read: s.readRemote},
		{source: SourceSnapshot, read: s.readSnapshot},
		{source: SourceEmpty, read: readEmpty},
	}
	return s
}

// ReadAll returns the full record set, inactive records included. It never
// fails: remote, then snapshot, then an empty set.
func (s *Store) ReadAll(ctx context.Context) []model.Station {
	return s.Load(ctx).Stations
}

// Load is ReadAll plus the provenance needed for a conditional write.
func (s *Store) Load(ctx context.Context) Set {
	var set Set
	for _, st := range s.chain {
		stations, version, err := st.read(ctx)
		if err != nil {
			if st.source == SourceRemote && !errors.Is(err, blob.ErrNotFound) {
				set.RemoteErr = err
			}
			s.logger.Debug("record set strategy failed", "source", st.source, "error", err)
			continue
		}
		set.Stations = stations
		set.Version = version
		set.Source = st.source
		break
	}
	if set.RemoteErr != nil {
		s.logger.Warn("blob tier read failed, serving fallback", "source", set.Source, "error", set.RemoteErr)
	}
	if s.observe != nil {
		s.observe(set.Source)
	}
	return set
}

// MutateFunc transforms the current record set into the one to persist.
type MutateFunc func(stations []model.Station) ([]model.Station, error)

// Mutate runs a read-modify-write of the full record set. Writes in this
// process are serialized, and the put is conditional on the version that was
// read so a concurrent writer elsewhere surfaces as ErrConflict.
func (s *Store) Mutate(ctx context.Context, fn MutateFunc) ([]model.Station, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.Load(ctx)
	if set.RemoteErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrTierUnavailable, set.RemoteErr)
	}

	next, err := fn(cloneAll(set.Stations))
	if err != nil {
		return nil, err
	}

	cond := blob.Condition{IfVersion: set.Version}
	if set.Source != SourceRemote {
		cond = blob.Condition{IfAbsent: true}
	}
	if err := s.writeAll(ctx, next, cond); err != nil {
		return nil, err
	}
	return next, nil
}

// Replace overwrites the full record set wholesale, discarding whatever the
// tier held.
func (s *Store) Replace(ctx context.Context, stations []model.Station) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeAll(ctx, stations, blob.Condition{})
}

func (s *Store) writeAll(ctx context.Context, stations []model.Station, cond blob.Condition) error {
	data, err := model.EncodeList(stations)
	if err != nil {
		return err
	}
	res, err := s.tier.Put(ctx, Key, data, blob.PutOptions{
		Access:      blob.AccessPublic,
		ContentType: "application/json",
		Condition:   cond,
	})
	if errors.Is(err, blob.ErrConflict) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	if err != nil {
		return fmt.Errorf("write record set: %w", err)
	}
	s.logger.Info("record set saved", "url", res.URL, "version", res.Version, "stations", len(stations))
	return nil
}

func cloneAll(stations []model.Station) []model.Station {
	out := make([]model.Station, len(stations))
	for i, st := range stations {
		out[i] = st.Clone()
	}
	return out
}
