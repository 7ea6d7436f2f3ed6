package blob

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// Handler exposes a Tier over the same HTTP protocol HTTPTier speaks. Reads
// are public; writes need the configured bearer token and are disabled when
// no token is set.
type Handler struct {
	tier     Tier
	prefix   string
	token    string
	maxBytes int64
	logger   *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithPrefix strips prefix from request paths before resolving keys.
func WithPrefix(prefix string) HandlerOption {
	return func(h *Handler) { h.prefix = prefix }
}

// WithWriteToken enables PUT for requests bearing token.
func WithWriteToken(token string) HandlerOption {
	return func(h *Handler) { h.token = token }
}

// WithMaxBytes caps the accepted object size.
func WithMaxBytes(n int64) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxBytes = n
		}
	}
}

// WithHandlerLogger sets the logger.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler serves objects from tier.
func NewHandler(tier Tier, opts ...HandlerOption) *Handler {
	h := &Handler{tier: tier, maxBytes: 32 << 20, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, h.prefix), "/")
	if err := validateKey(key); err != nil {
		http.Error(w, "invalid key", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		h.serveObject(w, r, key)
	case http.MethodPut:
		h.storeObject(w, r, key)
	default:
		w.Header().Set("Allow", "GET, HEAD, PUT")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) serveObject(w http.ResponseWriter, r *http.Request, key string) {
	obj, err := h.tier.Get(r.Context(), key)
	if errors.Is(err, ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.logger.Error("blob read failed", "key", key, "error", err)
		http.Error(w, "failed to read object", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
	if obj.Version != "" {
		w.Header().Set("ETag", quoteETag(obj.Version))
	}
	if !obj.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", obj.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(obj.Data)
}

func (h *Handler) storeObject(w http.ResponseWriter, r *http.Request, key string) {
	if h.token == "" {
		http.Error(w, "writes disabled", http.StatusForbidden)
		return
	}
	if !h.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err != nil {
		http.Error(w, "object too large", http.StatusRequestEntityTooLarge)
		return
	}

	opts := PutOptions{
		Access:      Access(r.Header.Get(headerAccess)),
		ContentType: r.Header.Get("Content-Type"),
	}
	if r.Header.Get("If-None-Match") == "*" {
		opts.Condition.IfAbsent = true
	}
	if v := r.Header.Get("If-Match"); v != "" {
		opts.Condition.IfVersion = unquoteETag(v)
	}

	result, err := h.tier.Put(r.Context(), key, data, opts)
	switch {
	case errors.Is(err, ErrConflict):
		http.Error(w, "precondition failed", http.StatusPreconditionFailed)
		return
	case errors.Is(err, ErrUnsupportedAccess):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		h.logger.Error("blob write failed", "key", key, "error", err)
		http.Error(w, "failed to store object", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", quoteETag(result.Version))
	if err := json.NewEncoder(w).Encode(result); err != nil {
		h.logger.Error("failed to encode put response", "error", err)
	}
}

func (h *Handler) authorized(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(parts[1]), []byte(h.token)) == 1
}
