package sessions

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the retention pass hourly.
const DefaultSweepSchedule = "0 * * * *"

// Sweeper deletes sessions idle longer than MaxAge. It runs on a cron
// schedule in serve mode; run mode never starts it.
type Sweeper struct {
	store    Store
	maxAge   time.Duration
	schedule string
	logger   *slog.Logger
	cron     *cron.Cron
	nowFunc  func() time.Time
}

// NewSweeper builds a sweeper. maxAge <= 0 disables sweeping; schedule ""
// selects DefaultSweepSchedule.
func NewSweeper(store Store, maxAge time.Duration, schedule string, logger *slog.Logger) *Sweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    store,
		maxAge:   maxAge,
		schedule: schedule,
		logger:   logger,
		nowFunc:  time.Now,
	}
}

// Start schedules the sweep. Returns immediately; Stop shuts the schedule
// down and waits for a running pass.
func (s *Sweeper) Start() error {
	if s.maxAge <= 0 {
		return nil
	}
	c := cron.New(cron.WithParser(cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
	)))
	if _, err := c.AddFunc(s.schedule, func() {
		if err := s.Sweep(context.Background()); err != nil {
			s.logger.Error("retention sweep failed", "error", err)
		}
	}); err != nil {
		return err
	}
	s.cron = c
	c.Start()
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep deletes every session whose UpdatedAt is older than MaxAge. It is
// exported so tests and an admin path can trigger a pass directly.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := s.nowFunc().Add(-s.maxAge)

	stale, err := s.selectStale(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, id := range stale {
		if err := s.store.Delete(ctx, id); err != nil {
			s.logger.Warn("failed to delete expired session", "session_id", id, "error", err)
			continue
		}
		s.logger.Info("deleted expired session", "session_id", id)
	}
	return nil
}

func (s *Sweeper) selectStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	var stale []string
	offset := 0
	const page = 200
	for {
		batch, err := s.store.List(ctx, ListOptions{Limit: page, Offset: offset})
		if err != nil {
			return nil, err
		}
		for _, session := range batch {
			if session.UpdatedAt.Before(cutoff) {
				stale = append(stale, session.ID)
			}
		}
		if len(batch) < page {
			return stale, nil
		}
		offset += page
	}
}
