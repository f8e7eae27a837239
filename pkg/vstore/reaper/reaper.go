// Package reaper deletes expired upload sessions. Expiry is enforced lazily by the
// service on every read, so sweeping only reclaims storage.
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tendant/simple-vstore/pkg/vstore"
	"github.com/tendant/simple-vstore/pkg/vstore/metrics"
)

// SessionStore is the part of vstore.Repository the reaper needs.
type SessionStore interface {
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int, error)
}

var _ SessionStore = (vstore.Repository)(nil)

// Reaper removes sessions whose ExpiresAt is in the past.
type Reaper struct {
	store   SessionStore
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Reaper)

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reaper) { r.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reaper) { r.logger = logger }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Reaper) { r.now = now }
}

func New(store SessionStore, opts ...Option) *Reaper {
	r := &Reaper{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sweep deletes every session expired at the current time and returns how many went.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	n, err := r.store.DeleteExpiredSessions(ctx, r.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	r.metrics.SessionsReaped(n)
	if n > 0 {
		r.logger.InfoContext(ctx, "expired sessions removed", "count", n)
	}
	return n, nil
}

// Run sweeps every interval until ctx is done. Sweep errors are logged and do not stop the loop.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.ErrorContext(ctx, "session sweep failed", "err", err)
			}
		}
	}
}
