package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// CronRunner triggers cycles on a cron expression instead of a random gap.
type CronRunner struct {
	spec   string
	loc    *time.Location
	logger zerolog.Logger
}

// NewCron validates spec and returns a runner evaluating it in loc.
func NewCron(spec string, loc *time.Location, logger zerolog.Logger) (*CronRunner, error) {
	if loc == nil {
		loc = time.UTC
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", spec, err)
	}
	return &CronRunner{spec: spec, loc: loc, logger: logger.With().Str("component", "cron").Logger()}, nil
}

// Run blocks until ctx is cancelled. Overlapping firings are skipped.
func (c *CronRunner) Run(ctx context.Context, tick TickFunc) error {
	runner := cron.New(
		cron.WithLocation(c.loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	_, err := runner.AddFunc(c.spec, func() {
		at := time.Now().In(c.loc)
		c.logger.Info().Time("at", at).Msg("executing cron cycle")
		if err := tick(ctx, at); err != nil {
			c.logger.Error().Err(err).Time("at", at).Msg("cycle execution failed")
		}
	})
	if err != nil {
		return fmt.Errorf("register cron job: %w", err)
	}
	runner.Start()
	<-ctx.Done()
	<-runner.Stop().Done()
	return ctx.Err()
}
