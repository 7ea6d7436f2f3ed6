package model

import (
	"encoding/json"
	"fmt"
)

// ActiveOnly is the active view of a record set, preserving order. Every read
// path that hides soft-deleted stations goes through here.
func ActiveOnly(stations []Station) []Station {
	out := make([]Station, 0, len(stations))
	for _, s := range stations {
		if s.Active() {
			out = append(out, s)
		}
	}
	return out
}

// Find locates a station by id with a linear scan. The empty id never
// matches, so records without an id cannot be addressed.
func Find(stations []Station, id string) (int, bool) {
	if id == "" {
		return -1, false
	}
	for i, s := range stations {
		if s.ID == id {
			return i, true
		}
	}
	return -1, false
}

// IDs lists station ids in order.
func IDs(stations []Station) []string {
	ids := make([]string, 0, len(stations))
	for _, s := range stations {
		ids = append(ids, s.ID)
	}
	return ids
}

// MissingIDs counts records that carry no id.
func MissingIDs(stations []Station) int {
	n := 0
	for _, s := range stations {
		if s.ID == "" {
			n++
		}
	}
	return n
}

// DecodeList parses a JSON array of stations.
func DecodeList(data []byte) ([]Station, error) {
	var stations []Station
	if err := json.Unmarshal(data, &stations); err != nil {
		return nil, fmt.Errorf("decode stations: %w", err)
	}
	if stations == nil {
		stations = []Station{}
	}
	return stations, nil
}

// EncodeList renders the full record set the way it is persisted.
func EncodeList(stations []Station) ([]byte, error) {
	if stations == nil {
		stations = []Station{}
	}
	data, err := json.MarshalIndent(stations, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode stations: %w", err)
	}
	return data, nil
}
