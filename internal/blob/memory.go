package blob

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// MemoryTier keeps objects in process memory. Suitable for development and
// tests; contents vanish on restart.
type MemoryTier struct {
	baseURL string

	mu      sync.RWMutex
	seq     int64
	objects map[string]Object
}

// NewMemoryTier returns an empty in-memory tier whose objects resolve under
// baseURL.
func NewMemoryTier(baseURL string) *MemoryTier {
	return &MemoryTier{baseURL: baseURL, objects: make(map[string]Object)}
}

// Get returns a copy of the object at key.
func (m *MemoryTier) Get(_ context.Context, key string) (Object, error) {
	if err := validateKey(key); err != nil {
		return Object{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return Object{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	obj.Data = append([]byte(nil), obj.Data...)
	return obj, nil
}

// Put stores data at key, replacing any previous object.
func (m *MemoryTier) Put(_ context.Context, key string, data []byte, opts PutOptions) (PutResult, error) {
	if err := validateKey(key); err != nil {
		return PutResult{}, err
	}
	opts, err := normalizeOptions(opts)
	if err != nil {
		return PutResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.objects[key]
	if err := opts.Condition.check(key, current.Version, exists); err != nil {
		return PutResult{}, err
	}

	m.seq++
	version := strconv.FormatInt(m.seq, 10)
	m.objects[key] = Object{
		Key:         key,
		Data:        append([]byte(nil), data...),
		ContentType: opts.ContentType,
		Version:     version,
		UpdatedAt:   time.Now().UTC(),
	}
	return PutResult{Key: key, URL: PublicURL(m.baseURL, key), Version: version}, nil
}

// Len reports how many objects are stored.
func (m *MemoryTier) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
