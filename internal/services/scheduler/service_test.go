package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servicedesk-io/sla-engine/internal/models"
	"github.com/servicedesk-io/sla-engine/internal/repository"
	"github.com/servicedesk-io/sla-engine/internal/services/businesshours"
	"github.com/servicedesk-io/sla-engine/internal/services/policy"
	"github.com/servicedesk-io/sla-engine/internal/services/threshold"
)

func newTestService(t *testing.T, jobs []*Job) (*Service, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)
	return NewService(jobs, WithLogger(logger)), &buf
}

func TestExecuteJobRunsRegisteredHandler(t *testing.T) {
	svc, _ := newTestService(t, []*Job{
		{Slug: "scan", Schedule: "* * * * *", Handler: "scan", TimeoutSeconds: 30},
	})

	ran := false
	var deadlineSet bool
	svc.RegisterHandler("scan", func(ctx context.Context) error {
		ran = true
		_, deadlineSet = ctx.Deadline()
		return nil
	})

	svc.executeJob("scan")
	assert.True(t, ran)
	assert.True(t, deadlineSet, "job timeout should bound the handler context")
}

func TestExecuteJobUnregisteredHandlerIsLogged(t *testing.T) {
	svc, buf := newTestService(t, []*Job{
		{Slug: "scan", Schedule: "* * * * *", Handler: "missing"},
	})

	svc.executeJob("scan")
	assert.Contains(t, buf.String(), "handler missing not registered")
}

func TestExecuteJobRecoversFromPanic(t *testing.T) {
	svc, buf := newTestService(t, []*Job{
		{Slug: "scan", Schedule: "* * * * *", Handler: "scan"},
	})
	svc.RegisterHandler("scan", func(context.Context) error {
		panic("scan exploded")
	})

	assert.NotPanics(t, func() { svc.executeJob("scan") })
	assert.Contains(t, buf.String(), "scan exploded")
}

func TestExecuteJobLogsHandlerFailure(t *testing.T) {
	svc, buf := newTestService(t, []*Job{
		{Slug: "scan", Schedule: "* * * * *", Handler: "scan"},
	})
	svc.RegisterHandler("scan", func(context.Context) error {
		return errors.New("tenant scan blew up")
	})

	svc.executeJob("scan")
	assert.Contains(t, buf.String(), "tenant scan blew up")
}

func TestBadScheduleExpressionIsLoggedNotFatal(t *testing.T) {
	svc, buf := newTestService(t, []*Job{
		{Slug: "bad", Schedule: "not a cron expr", Handler: "bad"},
		{Slug: "good", Schedule: "*/5 * * * *", Handler: "good"},
	})

	svc.scheduleAllJobs()
	assert.Contains(t, buf.String(), "failed to schedule job bad")
	assert.Contains(t, svc.entries, "good")
	assert.NotContains(t, svc.entries, "bad")
}

func TestRunExecutesStartupJobsAndStopsOnCancel(t *testing.T) {
	svc, _ := newTestService(t, []*Job{
		{Slug: "scan", Schedule: "* * * * *", Handler: "scan", RunOnStartup: true},
	})

	ran := make(chan struct{})
	svc.RegisterHandler("scan", func(context.Context) error {
		close(ran)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("startup job did not run")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDefaultJobsFallBackToEveryMinute(t *testing.T) {
	jobs := DefaultJobs("")
	require.Len(t, jobs, 1)
	assert.Equal(t, ThresholdScanJob, jobs[0].Slug)
	assert.Equal(t, "* * * * *", jobs[0].Schedule)
	assert.True(t, jobs[0].RunOnStartup)

	jobs = DefaultJobs("*/5 * * * *")
	assert.Equal(t, "*/5 * * * *", jobs[0].Schedule)
}

// scanRepo injects failures into the tenant walk.
type scanRepo struct {
	repository.SlaRepository
	tenants    []string
	failTenant string
}

func (r *scanRepo) ListTenants(context.Context) ([]string, error) {
	return r.tenants, nil
}

func (r *scanRepo) ListActiveTracking(ctx context.Context, tenantID string) ([]models.TicketSlaTracking, error) {
	if tenantID == r.failTenant {
		return nil, errors.New("tenant storage offline")
	}
	return r.SlaRepository.ListActiveTracking(ctx, tenantID)
}

func TestThresholdScanHandlerWalksAllTenants(t *testing.T) {
	repo := &scanRepo{
		SlaRepository: repository.NewMemorySlaRepository(),
		tenants:       []string{"acme", "globex"},
	}
	engine := threshold.NewEngine(repo, businesshours.NewCalculator(), policy.NewResolver(repo))

	handler := ThresholdScanHandler(repo, engine)
	assert.NoError(t, handler(context.Background()))
}

func TestThresholdScanHandlerReportsFailedTenants(t *testing.T) {
	repo := &scanRepo{
		SlaRepository: repository.NewMemorySlaRepository(),
		tenants:       []string{"acme", "globex"},
		failTenant:    "acme",
	}
	engine := threshold.NewEngine(repo, businesshours.NewCalculator(), policy.NewResolver(repo))

	handler := ThresholdScanHandler(repo, engine)
	err := handler(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 tenants")
}
