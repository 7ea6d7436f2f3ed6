// Package blob defines the remote key/value object tier and its backends.
//
// Objects are addressed by slash separated keys and replaced wholesale on every
// put. Each stored object carries an opaque version token so writers can make
// a put conditional on the state they read.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by Get when no object exists at the key.
	ErrNotFound = errors.New("blob: not found")
	// ErrConflict is returned by Put when its precondition does not hold.
	ErrConflict = errors.New("blob: version conflict")
	// ErrInvalidKey rejects empty or path-escaping keys.
	ErrInvalidKey = errors.New("blob: invalid key")
	// ErrUnsupportedAccess rejects access policies other than public.
	ErrUnsupportedAccess = errors.New("blob: unsupported access policy")
)

// Access is the visibility policy of a stored object.
type Access string

// AccessPublic makes the object readable at its public URL.
const AccessPublic Access = "public"

// Object is a stored value and its metadata.
type Object struct {
	Key         string
	Data        []byte
	ContentType string
	Version     string
	UpdatedAt   time.Time
}

// Condition guards a put. The zero value is an unconditional overwrite.
type Condition struct {
	// IfVersion requires the current object to carry this version.
	IfVersion string
	// IfAbsent requires that no object exists yet.
	IfAbsent bool
}

// PutOptions describe how an object is stored.
type PutOptions struct {
	Access      Access
	ContentType string
	Condition   Condition
}

// PutResult reports where a stored object can be fetched.
type PutResult struct {
	Key     string `json:"key"`
	URL     string `json:"url"`
	Version string `json:"version"`
}

// Tier is a remote object store.
type Tier interface {
	Get(ctx context.Context, key string) (Object, error)
	Put(ctx context.Context, key string, data []byte, opts PutOptions) (PutResult, error)
}

// PublicURL joins the public base URL and an object key.
func PublicURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

func normalizeOptions(opts PutOptions) (PutOptions, error) {
	if opts.Access == "" {
		opts.Access = AccessPublic
	}
	if opts.Access != AccessPublic {
		return opts, fmt.Errorf("%w: %q", ErrUnsupportedAccess, opts.Access)
	}
	if opts.ContentType == "" {
		opts.ContentType = "application/octet-stream"
	}
	return opts, nil
}

// check evaluates the condition against the current version of a key.
func (c Condition) check(key, current string, exists bool) error {
	if c.IfAbsent && exists {
		return fmt.Errorf("%w: %s already exists", ErrConflict, key)
	}
	if c.IfVersion != "" && (!exists || current != c.IfVersion) {
		return fmt.Errorf("%w: %s is at version %q, expected %q", ErrConflict, key, current, c.IfVersion)
	}
	return nil
}
