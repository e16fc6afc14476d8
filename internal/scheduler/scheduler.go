package scheduler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per cycle.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	MinGap       time.Duration
	MaxGap       time.Duration
	StartupDelay time.Duration
	OffHoursPoll time.Duration
	// Window gates cycles to trading hours. Nil runs around the clock.
	Window *MarketHours
}

// Scheduler runs cycles back to back with a random pause between them.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
	int64n func(int64) int64
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.MinGap <= 0 {
		panic("scheduler min gap must be positive")
	}
	if opts.MaxGap < opts.MinGap {
		opts.MaxGap = opts.MinGap
	}
	if opts.OffHoursPoll <= 0 {
		opts.OffHoursPoll = time.Minute
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    time.Now,
		int64n: rand.Int64N,
	}
}

// Run blocks, invoking tick between pauses until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if err := sleep(ctx, s.opts.StartupDelay); err != nil {
		return err
	}

	for {
		now := s.now()
		if s.opts.Window != nil && !s.opts.Window.Contains(now) {
			s.logger.Debug().Time("now", now).Dur("poll", s.opts.OffHoursPoll).Msg("market closed, waiting")
			if err := sleep(ctx, s.opts.OffHoursPoll); err != nil {
				return err
			}
			continue
		}

		s.logger.Info().Time("at", now).Msg("executing scheduled cycle")
		if err := tick(ctx, now); err != nil {
			s.logger.Error().Err(err).Time("at", now).Msg("cycle execution failed")
		}

		gap := s.Gap()
		s.logger.Debug().Dur("gap", gap).Msg("waiting for next cycle")
		if err := sleep(ctx, gap); err != nil {
			return err
		}
	}
}

// Gap draws the pause before the next cycle.
func (s *Scheduler) Gap() time.Duration {
	span := int64(s.opts.MaxGap - s.opts.MinGap)
	if span <= 0 {
		return s.opts.MinGap
	}
	return s.opts.MinGap + time.Duration(s.int64n(span+1))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// MarketHours is a daily trading window in a fixed location.
type MarketHours struct {
	Open     time.Duration
	Close    time.Duration
	Location *time.Location
	Weekdays map[time.Weekday]bool
}

// NewMarketHours parses "HH:MM" bounds for a Monday to Friday window.
func NewMarketHours(openAt, closeAt, timezone string) (*MarketHours, error) {
	o, err := ParseClock(openAt)
	if err != nil {
		return nil, err
	}
	c, err := ParseClock(closeAt)
	if err != nil {
		return nil, err
	}
	if c <= o {
		return nil, fmt.Errorf("market close %s must be after open %s", closeAt, openAt)
	}
	loc := time.UTC
	if timezone != "" {
		if loc, err = time.LoadLocation(timezone); err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
		}
	}
	return &MarketHours{
		Open:     o,
		Close:    c,
		Location: loc,
		Weekdays: map[time.Weekday]bool{
			time.Monday: true, time.Tuesday: true, time.Wednesday: true,
			time.Thursday: true, time.Friday: true,
		},
	}, nil
}

// ParseClock converts "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Contains reports whether t falls inside the window, bounds included.
func (m *MarketHours) Contains(t time.Time) bool {
	local := t.In(m.Location)
	if len(m.Weekdays) > 0 && !m.Weekdays[local.Weekday()] {
		return false
	}
	offset := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second
	return offset >= m.Open && offset <= m.Close
}
