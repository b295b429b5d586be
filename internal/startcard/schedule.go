package startcard

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/oshokin/stoppuhr/internal/logger"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// RefreshFunc reloads the start cards.
type RefreshFunc func(ctx context.Context) (*Snapshot, error)

// Schedule runs refresh on the given cron expression until ctx is done.
// A nil refresh reloads the provider itself. An empty expression schedules
// nothing.
func (p *Provider) Schedule(ctx context.Context, expr string, refresh RefreshFunc) error {
	if expr == "" {
		return nil
	}

	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return fmt.Errorf("parse refresh schedule %q: %w", expr, err)
	}

	if refresh == nil {
		refresh = p.Refresh
	}

	c := cron.New(cron.WithParser(cronParser))
	c.Schedule(schedule, refreshJob(ctx, refresh))

	c.Start()
	logger.InfoKV(ctx, "Start card refresh scheduled", "schedule", expr)

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()

	return nil
}

// refreshJob wraps refresh as a cron job. Failures are logged by the provider.
func refreshJob(ctx context.Context, refresh RefreshFunc) cron.Job {
	return cron.FuncJob(func() {
		_, _ = refresh(ctx)
	})
}
