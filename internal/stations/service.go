// Package stations implements the administrative operations on the station
// record set: create, update, soft delete and the one-off snapshot import.
package stations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"radiocatalog/stationstore/internal/assets"
	"radiocatalog/stationstore/internal/invalidate"
	"radiocatalog/stationstore/internal/metrics"
	"radiocatalog/stationstore/internal/model"
	"radiocatalog/stationstore/internal/recordstore"
)

// ImportConfirmation must be passed to ImportSnapshot.
const ImportConfirmation = "import"

const maxIDAttempts = 32

var (
	errNotFound    = errors.New("station not found")
	errIDExhausted = errors.New("no unused station id")
)

// ImageCommitter stores the derived image of a station and returns its URL.
type ImageCommitter interface {
	Commit(ctx context.Context, id string, raw []byte) (string, error)
}

// Snapshot is the raw build-time record set used by import.
type Snapshot interface {
	ReadAll() ([]model.Station, error)
}

// Paths are the cached views refreshed after a mutation.
type Paths struct {
	Listing      string
	Admin        string
	DetailPrefix string
}

// DefaultPaths matches the public site layout.
var DefaultPaths = Paths{Listing: "/", Admin: "/admin", DetailPrefix: "/estacion/"}

// Detail returns the detail path of a station.
func (p Paths) Detail(id string) string {
	return p.DetailPrefix + id
}

// Service orchestrates the record store, the asset pipeline and cache
// invalidation.
type Service struct {
	store    *recordstore.Store
	snapshot Snapshot
	images   ImageCommitter
	notifier invalidate.Notifier
	ids      IDSource
	paths    Paths
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNotifier sets the invalidation notifier.
func WithNotifier(n invalidate.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithIDSource replaces the snowflake id generator.
func WithIDSource(ids IDSource) Option {
	return func(s *Service) {
		if ids != nil {
			s.ids = ids
		}
	}
}

// WithPaths overrides the invalidated paths.
func WithPaths(p Paths) Option {
	return func(s *Service) { s.paths = p }
}

// New builds a service. Without WithIDSource ids come from snowflake node 0.
func New(store *recordstore.Store, snapshot Snapshot, images ImageCommitter, opts ...Option) (*Service, error) {
	s := &Service{
		store:    store,
		snapshot: snapshot,
		images:   images,
		paths:    DefaultPaths,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = invalidate.LogNotifier{Logger: s.logger}
	}
	if s.ids == nil {
		ids, err := NewSnowflakeIDs(0)
		if err != nil {
			return nil, err
		}
		s.ids = ids
	}
	return s, nil
}

// List returns the full record set, inactive stations included.
func (s *Service) List(ctx context.Context) []model.Station {
	return s.store.ReadAll(ctx)
}

// Get finds a station in the full record set.
func (s *Service) Get(ctx context.Context, id string) (model.Station, bool) {
	stations := s.store.ReadAll(ctx)
	idx, ok := model.Find(stations, id)
	if !ok {
		return model.Station{}, false
	}
	return stations[idx], true
}

// Create appends a new active station. When image is non-empty it is
// committed under the new id before the record is written.
func (s *Service) Create(ctx context.Context, fields model.Patch, image []byte) Result {
	start := time.Now()
	var id string

	_, err := s.store.Mutate(ctx, func(stations []model.Station) ([]model.Station, error) {
		next, err := s.freshID(stations)
		if err != nil {
			return nil, err
		}
		id = next

		patch := fields
		if len(image) > 0 {
			url, err := s.images.Commit(ctx, id, image)
			if err != nil {
				return nil, err
			}
			patch = patch.WithCoverImage(url)
		}
		return append(stations, model.NewStation(id, patch)), nil
	})
	if err != nil {
		return s.fail(start, "create", id, err)
	}

	s.logger.Info("station created", "station", id)
	s.invalidate(ctx, s.paths.Listing, s.paths.Admin, s.paths.Detail(id))
	metrics.ObserveOperation("create", metrics.ResultSuccess, time.Since(start))
	return ok(id)
}

// Update merges patch over an existing station. A supplied image is committed
// first and becomes the coverImage; if that fails nothing is written.
func (s *Service) Update(ctx context.Context, id string, patch model.Patch, image []byte) Result {
	return s.update(ctx, "update", id, patch, image)
}

// SoftDelete marks a station inactive. The record stays in the full set.
func (s *Service) SoftDelete(ctx context.Context, id string) Result {
	return s.update(ctx, "delete", id, model.ActivePatch(false), nil)
}

func (s *Service) update(ctx context.Context, op, id string, patch model.Patch, image []byte) Result {
	start := time.Now()

	_, err := s.store.Mutate(ctx, func(stations []model.Station) ([]model.Station, error) {
		idx, found := model.Find(stations, id)
		if !found {
			return nil, errNotFound
		}
		if len(image) > 0 {
			url, err := s.images.Commit(ctx, id, image)
			if err != nil {
				return nil, err
			}
			patch = patch.WithCoverImage(url)
		}
		merged, err := model.ApplyPatch(stations[idx], patch)
		if err != nil {
			return nil, err
		}
		stations[idx] = merged
		return stations, nil
	})
	if err != nil {
		return s.fail(start, op, id, err)
	}

	s.logger.Info("station saved", "op", op, "station", id)
	s.invalidate(ctx, s.paths.Listing, s.paths.Admin, s.paths.Detail(id))
	metrics.ObserveOperation(op, metrics.ResultSuccess, time.Since(start))
	return ok(id)
}

// ImportSnapshot overwrites the remote record set with the raw snapshot,
// discarding every edit made since. confirm must equal ImportConfirmation.
func (s *Service) ImportSnapshot(ctx context.Context, confirm string) Result {
	start := time.Now()
	if confirm != ImportConfirmation {
		metrics.ObserveOperation("import", metrics.ResultInvalid, time.Since(start))
		return failed(CodeInvalid, "Import requires confirmation %q", ImportConfirmation)
	}
	if s.snapshot == nil {
		return s.failImport(start, errors.New("no snapshot configured"))
	}

	stations, err := s.snapshot.ReadAll()
	if err != nil {
		return s.failImport(start, fmt.Errorf("read snapshot: %w", err))
	}
	if err := s.store.Replace(ctx, stations); err != nil {
		return s.failImport(start, err)
	}

	s.logger.Warn("snapshot imported, remote record set replaced", "stations", len(stations))
	s.invalidate(ctx, s.paths.Listing, s.paths.Admin)
	metrics.ObserveOperation("import", metrics.ResultSuccess, time.Since(start))
	return Result{Success: true, Count: len(stations)}
}

func (s *Service) failImport(start time.Time, err error) Result {
	s.logger.Error("import failed", "error", err)
	metrics.ObserveOperation("import", metrics.ResultError, time.Since(start))
	return failed(CodeInternal, "Failed to import")
}

func (s *Service) freshID(stations []model.Station) (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := s.ids.NextID()
		if id == "" {
			continue
		}
		if _, taken := model.Find(stations, id); !taken {
			return id, nil
		}
		s.logger.Debug("station id already taken, drawing again", "station", id)
	}
	return "", errIDExhausted
}

// fail translates err into a Result and records it.
func (s *Service) fail(start time.Time, op, id string, err error) Result {
	var res Result
	label := metrics.ResultError
	switch {
	case errors.Is(err, errNotFound):
		res = failed(CodeNotFound, "Station with id %s not found", id)
		label = metrics.ResultNotFound
	case errors.Is(err, assets.ErrDecode), errors.Is(err, assets.ErrEmptyImage), errors.Is(err, assets.ErrInvalidID):
		res = failed(CodeInvalid, "Invalid image: %v", err)
		label = metrics.ResultInvalid
	case errors.Is(err, model.ErrIDImmutable):
		res = failed(CodeInvalid, "Station id cannot be changed")
		label = metrics.ResultInvalid
	case errors.Is(err, recordstore.ErrConflict):
		res = failed(CodeConflict, "Stations were modified concurrently, reload and try again")
		label = metrics.ResultConflict
	default:
		res = failed(CodeInternal, "Failed to %s station", op)
	}

	if label == metrics.ResultError {
		s.logger.Error("station "+op+" failed", "station", id, "error", err)
	} else {
		s.logger.Warn("station "+op+" rejected", "station", id, "error", err)
	}
	metrics.ObserveOperation(op, label, time.Since(start))
	return res
}

// invalidate notifies every path. Failures are logged only: the data is
// already written.
func (s *Service) invalidate(ctx context.Context, paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		err := s.notifier.Invalidate(ctx, p)
		metrics.IncInvalidation(err == nil)
		if err != nil {
			s.logger.Warn("invalidate path failed", "path", p, "error", err)
		}
	}
}
