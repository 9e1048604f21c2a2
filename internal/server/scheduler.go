package server

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/conneroisu/sectional/internal/cache"
	"github.com/conneroisu/sectional/internal/config"
	"github.com/conneroisu/sectional/internal/errors"
	"github.com/conneroisu/sectional/internal/logging"
)

// PruneScheduler drops expired and over-budget cache entries on a cron
// schedule.
type PruneScheduler struct {
	store    cache.Store
	schedule string
	cron     *cron.Cron
	logger   logging.Logger

	mu      sync.Mutex
	running bool
}

// NewPruneScheduler returns a scheduler for store. A nil store or an empty
// schedule makes Start a no-op.
func NewPruneScheduler(store cache.Store, schedule string, logger logging.Logger) *PruneScheduler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &PruneScheduler{
		store:    store,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger.WithComponent("prune_scheduler"),
	}
}

// Start schedules pruning. The scheduler stops by itself when ctx is done.
func (s *PruneScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store == nil || s.schedule == "" {
		s.logger.Info(ctx, "Cache pruning not scheduled")
		return nil
	}
	if s.running {
		return nil
	}

	schedule, err := config.ParseSchedule(s.schedule)
	if err != nil {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid, "invalid prune schedule").
			WithComponent("cache.prune_schedule").
			WithContext("schedule", s.schedule).
			WithCause(err)
	}

	s.cron.Schedule(schedule, cron.FuncJob(func() {
		_, _ = s.RunOnce(ctx)
	}))
	s.cron.Start()
	s.running = true

	s.logger.Info(ctx, "Cache pruning scheduled", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// RunOnce prunes the store immediately and returns how many entries went.
func (s *PruneScheduler) RunOnce(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}

	op := logging.StartOperation(s.logger, "cache_prune")
	removed, err := s.store.Prune()
	if err != nil {
		op.EndWithError(ctx, err)
		return 0, err
	}
	op.End(ctx)

	if removed > 0 {
		s.logger.Info(ctx, "Cache pruned", "removed", removed)
	} else {
		s.logger.Debug(ctx, "Cache pruned, nothing to remove")
	}
	return removed, nil
}

// Stop halts the schedule and waits for a running prune to finish.
func (s *PruneScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Debug(context.Background(), "Cache pruning stopped")
}

// IsRunning reports whether a schedule is active.
func (s *PruneScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns when the next prune fires, or the zero time when nothing
// is scheduled.
func (s *PruneScheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if !s.running || len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
