package scheduler

import (
	"context"
	"fmt"

	"github.com/servicedesk-io/sla-engine/internal/repository"
	"github.com/servicedesk-io/sla-engine/internal/services/threshold"
)

// ThresholdScanJob is the built-in job slug driving the notification scan.
const ThresholdScanJob = "sla-threshold-scan"

// DefaultJobs returns the built-in job set. interval is a cron expression;
// empty means every minute.
func DefaultJobs(interval string) []*Job {
	if interval == "" {
		interval = "* * * * *"
	}
	return []*Job{
		{
			Slug:           ThresholdScanJob,
			Schedule:       interval,
			Handler:        ThresholdScanJob,
			TimeoutSeconds: 300,
			RunOnStartup:   true,
		},
	}
}

// ThresholdScanHandler walks every tenant with active tracking and runs the
// threshold engine for it. Tenant failures are collected, not short-circuited,
// so one bad tenant cannot starve the rest.
func ThresholdScanHandler(repo repository.SlaRepository, engine *threshold.Engine) Handler {
	return func(ctx context.Context) error {
		tenants, err := repo.ListTenants(ctx)
		if err != nil {
			return fmt.Errorf("list tenants: %w", err)
		}
		var failed int
		for _, tenant := range tenants {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := engine.EvaluateTenant(ctx, tenant); err != nil {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("threshold scan failed for %d of %d tenants", failed, len(tenants))
		}
		return nil
	}
}
