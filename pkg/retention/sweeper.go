// Package retention prunes aged rows in the background: event rows past
// their TTL and terminal sessions past the retention window. Sweeps are
// idempotent and safe to run alongside other instances.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/yokeflow/yokeflow/pkg/config"
)

// Store is the persistence slice the sweeper uses. *store.Store satisfies it.
type Store interface {
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteEndedSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper enforces the retention policy on a fixed interval.
type Sweeper struct {
	logger *slog.Logger
	cfg    config.RetentionConfig
	store  Store

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper builds a stopped sweeper; Start launches it.
func NewSweeper(logger *slog.Logger, cfg config.RetentionConfig, st Store) *Sweeper {
	return &Sweeper{
		logger: logger.With("component", "retention"),
		cfg:    cfg,
		store:  st,
	}
}

// Start launches the sweep loop: one sweep immediately, then one per
// interval. A second Start is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("retention sweeper started",
		"event_ttl", s.cfg.EventTTL(),
		"session_retention_days", s.cfg.SessionRetentionDays,
		"sweep_interval", s.cfg.SweepInterval())
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("retention sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.cfg.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep runs both prunes once. A failure in one does not stop the other.
func (s *Sweeper) sweep(ctx context.Context) {
	now := time.Now()
	s.sweepEvents(ctx, now)
	s.sweepSessions(ctx, now)
}

func (s *Sweeper) sweepEvents(ctx context.Context, now time.Time) {
	count, err := s.store.DeleteEventsBefore(ctx, now.Add(-s.cfg.EventTTL()))
	if err != nil {
		s.logger.Error("event sweep failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("pruned aged events", "count", count)
	}
}

func (s *Sweeper) sweepSessions(ctx context.Context, now time.Time) {
	cutoff := now.AddDate(0, 0, -s.cfg.SessionRetentionDays)
	count, err := s.store.DeleteEndedSessionsBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("session sweep failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("pruned ended sessions", "count", count)
	}
}
