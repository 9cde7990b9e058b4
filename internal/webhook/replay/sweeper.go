package replay

import (
	"context"
	"log/slog"
	"time"
)

// Purger deletes nonces recorded before a cutoff.
type Purger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper periodically deletes nonces older than the retention horizon.
type Sweeper struct {
	purger    Purger
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	onSweep   func(purged int64)
}

type SweeperOption func(*Sweeper)

func WithSweepLogger(logger *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

// WithSweepObserver is called with the purge count after each sweep.
func WithSweepObserver(fn func(purged int64)) SweeperOption {
	return func(s *Sweeper) {
		s.onSweep = fn
	}
}

func NewSweeper(purger Purger, retention, interval time.Duration, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{purger: purger, retention: retention, interval: interval}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps on every tick until ctx is cancelled. A failed sweep is logged
// and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.SweepAt(ctx, time.Now()); err != nil && s.logger != nil {
				s.logger.ErrorContext(ctx, "nonce sweep failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SweepAt deletes nonces recorded before now minus the retention horizon.
func (s *Sweeper) SweepAt(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.purger.PurgeBefore(ctx, now.Add(-s.retention))
	if err != nil {
		return 0, err
	}
	if s.onSweep != nil {
		s.onSweep(n)
	}
	if n > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "purged processed webhook nonces", "count", n)
	}
	return n, nil
}
