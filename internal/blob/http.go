package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Header names of the object store HTTP protocol.
const (
	headerAccess = "X-Blob-Access"
)

// HTTPTier talks to a remote object store over HTTP. GET and PUT address
// objects at {endpoint}/{key}; ETag carries the object version.
type HTTPTier struct {
	endpoint string
	token    string
	client   *http.Client
}

// HTTPOption configures an HTTPTier.
type HTTPOption func(*HTTPTier)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTier) {
		if c != nil {
			t.client = c
		}
	}
}

// NewHTTPTier constructs a client for the store at endpoint. The token is sent
// as a bearer credential on writes.
func NewHTTPTier(endpoint, token string, opts ...HTTPOption) (*HTTPTier, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("blob endpoint %q must be an absolute URL", endpoint)
	}
	t := &HTTPTier{
		endpoint: strings.TrimRight(u.String(), "/"),
		token:    token,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *HTTPTier) objectURL(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return t.endpoint + "/" + strings.Join(parts, "/")
}

// Get fetches the object at key.
func (t *HTTPTier) Get(ctx context.Context, key string) (Object, error) {
	if err := validateKey(key); err != nil {
		return Object{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.objectURL(key), nil)
	if err != nil {
		return Object{}, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return Object{}, fmt.Errorf("blob get %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Object{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if resp.StatusCode != http.StatusOK {
		return Object{}, fmt.Errorf("blob get %s: unexpected status %d", key, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Object{}, fmt.Errorf("blob get %s: read body: %w", key, err)
	}

	obj := Object{
		Key:         key,
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
		Version:     unquoteETag(resp.Header.Get("ETag")),
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if ts, err := http.ParseTime(lm); err == nil {
			obj.UpdatedAt = ts
		}
	}
	return obj, nil
}

// Put uploads data to key. Conditions map onto If-Match and If-None-Match.
func (t *HTTPTier) Put(ctx context.Context, key string, data []byte, opts PutOptions) (PutResult, error) {
	if err := validateKey(key); err != nil {
		return PutResult{}, err
	}
	opts, err := normalizeOptions(opts)
	if err != nil {
		return PutResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, t.objectURL(key), bytes.NewReader(data))
	if err != nil {
		return PutResult{}, err
	}
	req.Header.Set("Content-Type", opts.ContentType)
	req.Header.Set(headerAccess, string(opts.Access))
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	if opts.Condition.IfAbsent {
		req.Header.Set("If-None-Match", "*")
	}
	if opts.Condition.IfVersion != "" {
		req.Header.Set("If-Match", quoteETag(opts.Condition.IfVersion))
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return PutResult{}, fmt.Errorf("blob put %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPreconditionFailed {
		return PutResult{}, fmt.Errorf("%w: %s", ErrConflict, key)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return PutResult{}, fmt.Errorf("blob put %s: unexpected status %d: %s", key, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result PutResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return PutResult{}, fmt.Errorf("blob put %s: decode response: %w", key, err)
	}
	if result.URL == "" {
		return PutResult{}, fmt.Errorf("blob put %s: response missing url", key)
	}
	if result.Key == "" {
		result.Key = key
	}
	return result, nil
}

func quoteETag(v string) string {
	return `"` + v + `"`
}

func unquoteETag(v string) string {
	v = strings.TrimPrefix(strings.TrimSpace(v), "W/")
	return strings.Trim(v, `"`)
}
