package approvals

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flowmend/flowmend/pkg/models"
)

// DefaultSweepInterval is how often the expiry sweep runs.
const DefaultSweepInterval = 5 * time.Minute

// ExpiredFunc receives the records a sweep just expired, for channel
// notification and event publication. Failures inside the callback are
// its own business; the records are already expired.
type ExpiredFunc func(ctx context.Context, records []*models.ApprovalRecord)

// Sweeper periodically expires stale pending records. It is the only
// time-driven writer of the store and only ever performs the
// pending-to-expired transition.
type Sweeper struct {
	store     Store
	interval  time.Duration
	onExpired ExpiredFunc
	logger    *slog.Logger
	cron      *cron.Cron
}

// NewSweeper creates a sweeper over the store. A non-positive interval
// falls back to DefaultSweepInterval.
func NewSweeper(store Store, interval time.Duration, onExpired ExpiredFunc, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	return &Sweeper{
		store:     store,
		interval:  interval,
		onExpired: onExpired,
		logger:    logger.With("module", "approval_sweeper"),
	}
}

// Start schedules the sweep. Overlapping runs are skipped rather than
// stacked, and a panicking sweep never takes the scheduler down.
func (s *Sweeper) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.Sweep(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule expiry sweep: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Approval expiry sweeper started", "interval", s.interval.String())

	return nil
}

// Sweep runs one expiry pass immediately.
func (s *Sweeper) Sweep(ctx context.Context) {
	expired, err := s.store.ExpireDue(ctx, time.Now().UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "Expiry sweep failed", "error", err)

		return
	}

	if len(expired) == 0 {
		return
	}

	s.logger.InfoContext(ctx, "Expired stale approval records", "count", len(expired))

	if s.onExpired != nil {
		s.onExpired(ctx, expired)
	}
}

// Stop halts the schedule and waits for a running sweep to finish,
// bounded by the context deadline.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}

	s.logger.Info("Stopping approval expiry sweeper")

	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
