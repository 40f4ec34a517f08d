package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// StartScheduler re-acquires snapshots on a cron schedule (seconds field first,
// evaluated in the exchange timezone). schedule overrides the configured schedule when non-empty.
func (a *App) StartScheduler(schedule string, symbols []string, intraday bool) error {
	if schedule == "" {
		schedule = a.Config.Scheduler.Cron
	}
	if schedule == "" {
		return fmt.Errorf("no cron schedule configured")
	}
	a.StopScheduler()

	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(a.Calendar.Location()),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	id, err := c.AddFunc(schedule, func() {
		a.runScheduledAcquire(symbols, intraday)
	})
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	c.Start()
	a.scheduler = c

	a.Logger.Info().
		Str("cron", schedule).
		Time("next", c.Entry(id).Schedule.Next(time.Now())).
		Bool("intraday", intraday).
		Msg("Scheduler started")
	return nil
}

// StopScheduler stops the scheduler and waits for a running acquisition to finish.
func (a *App) StopScheduler() {
	if a.scheduler == nil {
		return
	}
	<-a.scheduler.Stop().Done()
	a.scheduler = nil
	a.Logger.Info().Msg("Scheduler stopped")
}

func (a *App) runScheduledAcquire(symbols []string, intraday bool) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	res, err := a.Acquire(ctx, symbols, intraday)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Scheduled acquisition interrupted")
		return
	}

	a.Logger.Info().
		Str("run_id", res.Report.RunID).
		Int("symbols", res.Snapshot.Len()).
		Int("unresolved", len(res.Unresolved)).
		Dur("elapsed", time.Since(start)).
		Msg("Scheduled acquisition: complete")
}
