// Package retention periodically removes expired dedupe markers and idle
// sessions from the database.
package retention

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval is how often the sweeper runs.
const DefaultInterval = 10 * time.Minute

// Purger deletes expired rows.
type Purger interface {
	PurgeExpiredMarkers(ctx context.Context, now time.Time) (int64, error)
	PurgeIdleSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper removes markers past their expiry and sessions idle for longer
// than idleTTL. A non-positive idleTTL keeps sessions forever.
type Sweeper struct {
	repo     Purger
	interval time.Duration
	idleTTL  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewSweeper creates a Sweeper.
func NewSweeper(repo Purger, interval, idleTTL time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{repo: repo, interval: interval, idleTTL: idleTTL, logger: logger, now: time.Now}
}

// Start runs the sweeper in a background goroutine until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		s.logger.Info("Retention sweeper started", "interval", s.interval, "session_idle_ttl", s.idleTTL)

		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx)
			case <-ctx.Done():
				s.logger.Info("Retention sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep runs one pass. Errors are logged and the next pass retries.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.now()

	if n, err := s.repo.PurgeExpiredMarkers(ctx, now); err != nil {
		s.logger.Error("Retention sweeper failed to purge markers", "error", err)
	} else if n > 0 {
		s.logger.Info("Retention sweeper purged markers", "count", n)
	}

	if s.idleTTL <= 0 {
		return
	}
	if n, err := s.repo.PurgeIdleSessions(ctx, now.Add(-s.idleTTL)); err != nil {
		s.logger.Error("Retention sweeper failed to purge idle sessions", "error", err)
	} else if n > 0 {
		s.logger.Info("Retention sweeper purged idle sessions", "count", n)
	}
}
