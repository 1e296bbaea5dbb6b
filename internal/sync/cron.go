package sync

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// ScheduleForcedRefresh triggers a manual sync on the standard five-field
// cron schedule spec, in addition to the interval loop. The returned stop
// function unschedules the refresh and waits for a running one to finish.
func (o *Orchestrator) ScheduleForcedRefresh(ctx context.Context, spec string) (func(), error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if err := o.TriggerManualSync(ctx); err != nil {
			o.log.Error("forced refresh failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("parsing refresh schedule %q: %w", spec, err)
	}
	c.Start()
	o.log.Info("forced refresh scheduled", "cron", spec)

	return func() { <-c.Stop().Done() }, nil
}
