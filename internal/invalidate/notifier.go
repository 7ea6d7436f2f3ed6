// Package invalidate tells downstream caches that published station views are
// stale. Notifiers are fire-and-report: callers decide whether a failure
// matters.
package invalidate

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Notifier invalidates one cached path such as "/" or "/estacion/{id}".
type Notifier interface {
	Invalidate(ctx context.Context, path string) error
}

// Message is the payload sent by the webhook and MQTT notifiers.
type Message struct {
	Path string    `json:"path"`
	At   time.Time `json:"at"`
}

func newMessage(path string) Message {
	return Message{Path: path, At: time.Now().UTC()}
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, path string) error

// Invalidate calls f.
func (f Func) Invalidate(ctx context.Context, path string) error {
	return f(ctx, path)
}

// LogNotifier only records invalidations. It is the default when no transport
// is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

// Invalidate logs the path.
func (n LogNotifier) Invalidate(_ context.Context, path string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("path invalidated", "path", path)
	return nil
}

// Multi fans an invalidation out to every notifier.
type Multi []Notifier

// Invalidate forwards path to all notifiers and joins their errors.
func (m Multi) Invalidate(ctx context.Context, path string) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Invalidate(ctx, path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
