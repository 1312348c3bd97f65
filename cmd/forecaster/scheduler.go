package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/HatiCode/linecast/cmd/forecaster/config"
)

// NextRun returns the first scheduled time strictly after now, in loc.
// ok is false when clocks is empty.
func NextRun(now time.Time, clocks []config.Clock, loc *time.Location) (next time.Time, ok bool) {
	now = now.In(loc)
	for _, c := range clocks {
		t := time.Date(now.Year(), now.Month(), now.Day(), c.Hour, c.Minute, 0, 0, loc)
		if !t.After(now) {
			t = time.Date(now.Year(), now.Month(), now.Day()+1, c.Hour, c.Minute, 0, 0, loc)
		}
		if !ok || t.Before(next) {
			next, ok = t, true
		}
	}
	return next, ok
}

// Scheduler triggers a forecast of the default line and horizon at the
// configured times of day. The schedule is read again before every wait, so
// reloaded times apply from the next wait on.
type Scheduler struct {
	settings *config.Live
	run      func(ctx context.Context) error
	logger   *slog.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
	// idle is the recheck interval while the schedule is empty.
	idle time.Duration
}

// NewScheduler creates a scheduler calling run at each scheduled time.
func NewScheduler(settings *config.Live, run func(ctx context.Context) error, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		settings: settings,
		run:      run,
		logger:   logger.With("component", "scheduler"),
		now:      time.Now,
		after:    time.After,
		idle:     time.Minute,
	}
}

// Run blocks until ctx is cancelled. Runs happen one at a time; a failed run
// is logged and the schedule continues.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		wait, next := s.idle, time.Time{}

		p := s.settings.Pipeline()
		clocks, err := p.Clocks()
		if err != nil {
			s.logger.Error("invalid schedule", "error", err)
			clocks = nil
		}
		loc, err := p.Location()
		if err != nil {
			s.logger.Error("invalid time zone", "error", err)
			loc = time.UTC
		}
		if t, ok := NextRun(s.now(), clocks, loc); ok {
			next = t
			wait = t.Sub(s.now())
			s.logger.Debug("next scheduled forecast", "at", t, "line", p.Line, "hours", p.Hours)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.after(wait):
		}
		if next.IsZero() {
			continue
		}

		s.logger.Info("scheduled forecast starting", "scheduled_at", next)
		if err := s.run(ctx); err != nil {
			s.logger.Error("scheduled forecast failed", "error", err)
		}
	}
}
