// Package assets turns uploaded station images into the single derived cover
// image stored for each station.
package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"radiocatalog/stationstore/internal/blob"
)

const (
	// DefaultMaxDimension bounds both sides of the derived image.
	DefaultMaxDimension = 800
	// DefaultQuality is the JPEG quality of the derived image.
	DefaultQuality = 85
	// DefaultMaxPixels caps the declared width x height of an upload. Decoding
	// allocates for every pixel, regardless of the compressed size.
	DefaultMaxPixels = 50_000_000

	contentType = "image/jpeg"
)

var (
	// ErrDecode is returned when the upload is not a decodable image.
	ErrDecode = errors.New("image could not be decoded")
	// ErrEmptyImage is returned for a zero-length upload.
	ErrEmptyImage = errors.New("image is empty")
	// ErrInvalidID rejects ids that cannot name an object key.
	ErrInvalidID = errors.New("invalid station id for asset key")
)

// Key returns the object key of the derived image for a station.
func Key(id string) string {
	return "stations/" + id
}

// Pipeline normalizes uploads and commits them to the blob tier.
type Pipeline struct {
	tier      blob.Tier
	maxDim    int
	quality   int
	maxPixels int
	logger    *slog.Logger
	observer  func(size int)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMaxDimension overrides the bounding box side.
func WithMaxDimension(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxDim = n
		}
	}
}

// WithQuality overrides the JPEG quality (1-100).
func WithQuality(q int) Option {
	return func(p *Pipeline) {
		if q >= 1 && q <= 100 {
			p.quality = q
		}
	}
}

// WithMaxPixels overrides the decoded pixel budget.
func WithMaxPixels(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxPixels = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithSizeObserver is called with the encoded size of every committed image.
func WithSizeObserver(fn func(size int)) Option {
	return func(p *Pipeline) { p.observer = fn }
}

// NewPipeline commits derived images to tier.
func NewPipeline(tier blob.Tier, opts ...Option) *Pipeline {
	p := &Pipeline{
		tier:      tier,
		maxDim:    DefaultMaxDimension,
		quality:   DefaultQuality,
		maxPixels: DefaultMaxPixels,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Commit decodes raw, fits it inside the bounding box without enlarging it,
// re-encodes it and stores it at stations/{id}, replacing any previous image.
// It returns the public URL. Nothing is written unless every step succeeds.
func (p *Pipeline) Commit(ctx context.Context, id string, raw []byte) (string, error) {
	if id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if len(raw) == 0 {
		return "", ErrEmptyImage
	}

	data, err := p.Normalize(raw)
	if err != nil {
		return "", err
	}

	res, err := p.tier.Put(ctx, Key(id), data, blob.PutOptions{
		Access:      blob.AccessPublic,
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}
	if p.observer != nil {
		p.observer(len(data))
	}
	p.logger.Info("image committed", "station", id, "url", res.URL, "bytes", len(data))
	return res.URL, nil
}

// Normalize produces the derived image bytes without storing them.
func (p *Pipeline) Normalize(raw []byte) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > int64(p.maxPixels) {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecode, cfg.Width, cfg.Height, p.maxPixels)
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	fitted := imaging.Fit(img, p.maxDim, p.maxDim, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fitted, imaging.JPEG, imaging.JPEGQuality(p.quality)); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}
