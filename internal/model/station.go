package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	fieldID         = "id"
	fieldIsActive   = "isActive"
	fieldCoverImage = "coverImage"
	fieldName       = "name"
)

// ErrIDImmutable is returned when a patch tries to change a station id.
var ErrIDImmutable = errors.New("station id is immutable")

// Station is one catalog record. Apart from the id every field is kept as raw
// JSON so descriptive payload survives reads, merges and writes untouched.
type Station struct {
	ID     string
	Fields map[string]json.RawMessage
}

// Patch is a partial update: each present key overwrites the station field.
type Patch map[string]json.RawMessage

// Active reports whether the station is visible in public listings. Only an
// explicit false marks a record as soft-deleted.
func (s Station) Active() bool {
	raw, ok := s.Fields[fieldIsActive]
	if !ok {
		return true
	}
	return !bytes.Equal(bytes.TrimSpace(raw), []byte("false"))
}

// CoverImage returns the public reference of the derived image, if any.
func (s Station) CoverImage() string {
	return s.stringField(fieldCoverImage)
}

// Name returns the display name carried in the payload, if any.
func (s Station) Name() string {
	return s.stringField(fieldName)
}

func (s Station) stringField(key string) string {
	raw, ok := s.Fields[key]
	if !ok {
		return ""
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v
}

// Clone returns a deep copy of the station.
func (s Station) Clone() Station {
	out := Station{ID: s.ID, Fields: make(map[string]json.RawMessage, len(s.Fields))}
	for k, v := range s.Fields {
		out.Fields[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// MarshalJSON writes the station as a flat JSON object. A record read without
// an id is written back without one.
func (s Station) MarshalJSON() ([]byte, error) {
	obj := make(map[string]json.RawMessage, len(s.Fields)+1)
	for k, v := range s.Fields {
		obj[k] = v
	}
	if s.ID != "" {
		id, err := json.Marshal(s.ID)
		if err != nil {
			return nil, err
		}
		obj[fieldID] = id
	}
	return json.Marshal(obj)
}

// UnmarshalJSON reads a flat JSON object, keeping unknown fields verbatim.
func (s *Station) UnmarshalJSON(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj == nil {
		return fmt.Errorf("station: expected object")
	}
	var id string
	if raw, ok := obj[fieldID]; ok {
		if err := json.Unmarshal(raw, &id); err != nil {
			return fmt.Errorf("station: decode id: %w", err)
		}
		delete(obj, fieldID)
	}
	s.ID = id
	s.Fields = obj
	return nil
}

// NewStation builds a fresh active record from caller supplied fields.
func NewStation(id string, fields Patch) Station {
	s := Station{ID: id, Fields: make(map[string]json.RawMessage, len(fields)+1)}
	for k, v := range fields {
		if k == fieldID {
			continue
		}
		s.Fields[k] = append(json.RawMessage(nil), v...)
	}
	s.Fields[fieldIsActive] = json.RawMessage("true")
	return s
}

// ApplyPatch merges patch over the station field by field. Fields missing from
// the patch are preserved; present ones overwrite, including false and null.
func ApplyPatch(s Station, patch Patch) (Station, error) {
	out := s.Clone()
	for k, v := range patch {
		if k == fieldID {
			var id string
			if err := json.Unmarshal(v, &id); err != nil || id != s.ID {
				return s, fmt.Errorf("%w: %s", ErrIDImmutable, s.ID)
			}
			continue
		}
		out.Fields[k] = append(json.RawMessage(nil), v...)
	}
	return out, nil
}

// ActivePatch returns a patch that sets isActive.
func ActivePatch(active bool) Patch {
	if active {
		return Patch{fieldIsActive: json.RawMessage("true")}
	}
	return Patch{fieldIsActive: json.RawMessage("false")}
}

// WithCoverImage returns a copy of patch with coverImage set to url.
func (p Patch) WithCoverImage(url string) Patch {
	out := make(Patch, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	raw, _ := json.Marshal(url)
	out[fieldCoverImage] = raw
	return out
}
