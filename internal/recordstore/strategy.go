package recordstore

import (
	"context"
	"errors"
	"fmt"

	"radiocatalog/stationstore/internal/model"
)

// Source names the strategy that produced a record set.
type Source string

const (
	SourceRemote   Source = "remote"
	SourceSnapshot Source = "snapshot"
	SourceEmpty    Source = "empty"
)

// Set is a loaded record set and where it came from.
type Set struct {
	Stations []model.Station
	Source   Source
	// Version is the blob tier version when Source is SourceRemote.
	Version string
	// RemoteErr is set when the tier failed for a reason other than the
	// record set not existing yet.
	RemoteErr error
}

// strategy is one step of the read fallback chain.
type strategy struct {
	source Source
	read   func(ctx context.Context) ([]model.Station, string, error)
}

func (s *Store) readRemote(ctx context.Context) ([]model.Station, string, error) {
	obj, err := s.tier.Get(ctx, Key)
	if err != nil {
		return nil, "", err
	}
	stations, err := model.DecodeList(obj.Data)
	if err != nil {
		return nil, "", fmt.Errorf("remote %s: %w", Key, err)
	}
	return stations, obj.Version, nil
}

func (s *Store) readSnapshot(context.Context) ([]model.Station, string, error) {
	if s.snapshot == nil {
		return nil, "", errors.New("no snapshot configured")
	}
	stations, err := s.snapshot.ReadAll()
	if err != nil {
		return nil, "", err
	}
	return stations, "", nil
}

func readEmpty(context.Context) ([]model.Station, string, error) {
	return []model.Station{}, "", nil
}
