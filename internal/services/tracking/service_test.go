package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servicedesk-io/sla-engine/internal/models"
	"github.com/servicedesk-io/sla-engine/internal/notifications"
	"github.com/servicedesk-io/sla-engine/internal/repository"
	"github.com/servicedesk-io/sla-engine/internal/services/businesshours"
	"github.com/servicedesk-io/sla-engine/internal/services/policy"
)

type fixture struct {
	repo       *repository.MemorySlaRepository
	service    *Service
	dispatcher *notifications.MemoryDispatcher
	policy     *models.SlaPolicy
	now        time.Time
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

// newFixture seeds one tenant with a Mon-Fri 09:00-17:00 New York schedule
// and a default policy: priority 1 gets 60m response / 480m resolution on
// business hours, priority 2 gets a 120m resolution on a 24x7 target.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := repository.NewMemorySlaRepository()

	schedule := &models.BusinessHoursSchedule{TenantID: "acme", Name: "business", Timezone: "America/New_York"}
	for _, day := range []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday} {
		schedule.Entries = append(schedule.Entries, models.BusinessHoursEntry{
			DayOfWeek: day, StartTime: "09:00", EndTime: "17:00", IsEnabled: true,
		})
	}
	require.NoError(t, repo.CreateSchedule(ctx, schedule))

	pol := &models.SlaPolicy{TenantID: "acme", Name: "standard", IsDefault: true, BusinessHoursScheduleID: &schedule.ID}
	require.NoError(t, repo.CreatePolicy(ctx, pol))
	require.NoError(t, repo.CreateTarget(ctx, &models.SlaPolicyTarget{
		PolicyID:              pol.ID,
		PriorityID:            1,
		ResponseTimeMinutes:   intPtr(60),
		ResolutionTimeMinutes: intPtr(480),
	}))
	require.NoError(t, repo.CreateTarget(ctx, &models.SlaPolicyTarget{
		PolicyID:              pol.ID,
		PriorityID:            2,
		ResolutionTimeMinutes: intPtr(120),
		Is24x7:                true,
	}))

	f := &fixture{
		repo:       repo,
		dispatcher: notifications.NewMemoryDispatcher(),
		policy:     pol,
	}
	f.service = NewService(repo, businesshours.NewCalculator(), policy.NewResolver(repo),
		WithDispatcher(f.dispatcher),
		WithClock(func() time.Time { return f.now }),
	)
	return f
}

func TestStartTrackingComputesBusinessDeadlines(t *testing.T) {
	f := newFixture(t)
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// Friday 16:30 New York; 60 business minutes later is Monday 09:30.
	f.now = time.Date(2025, 1, 10, 16, 30, 0, 0, ny)
	record, err := f.service.StartTracking(context.Background(), StartParams{
		TenantID: "acme", TicketID: 100, PriorityID: 1, BoardID: 5, AssigneeID: int64Ptr(9),
	})
	require.NoError(t, err)
	require.NotNil(t, record)

	require.NotNil(t, record.ResponseDeadline)
	assert.True(t, record.ResponseDeadline.Equal(time.Date(2025, 1, 13, 9, 30, 0, 0, ny)),
		"response deadline = %v", record.ResponseDeadline.In(ny))
	require.NotNil(t, record.ResolutionDeadline)
	assert.True(t, record.ResolutionDeadline.Equal(time.Date(2025, 1, 13, 16, 30, 0, 0, ny)),
		"resolution deadline = %v", record.ResolutionDeadline.In(ny))
	assert.Zero(t, record.TotalPauseMinutes)
	assert.True(t, record.Active)
}

func TestStartTracking24x7TargetUsesWallClock(t *testing.T) {
	f := newFixture(t)
	f.now = time.Date(2025, 1, 11, 23, 0, 0, 0, time.UTC) // Saturday 23:00

	record, err := f.service.StartTracking(context.Background(), StartParams{
		TenantID: "acme", TicketID: 101, PriorityID: 2,
	})
	require.NoError(t, err)
	require.NotNil(t, record)

	assert.Nil(t, record.ResponseDeadline)
	require.NotNil(t, record.ResolutionDeadline)
	assert.True(t, record.ResolutionDeadline.Equal(time.Date(2025, 1, 12, 1, 0, 0, 0, time.UTC)),
		"resolution deadline = %v", record.ResolutionDeadline)
}

func TestStartTrackingWithoutTargetIsNotTracked(t *testing.T) {
	f := newFixture(t)
	f.now = time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)

	record, err := f.service.StartTracking(context.Background(), StartParams{
		TenantID: "acme", TicketID: 102, PriorityID: 99,
	})
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestStartTrackingMissingScheduleIsConfigurationError(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemorySlaRepository()
	pol := &models.SlaPolicy{TenantID: "acme", Name: "broken", IsDefault: true}
	require.NoError(t, repo.CreatePolicy(ctx, pol))
	require.NoError(t, repo.CreateTarget(ctx, &models.SlaPolicyTarget{
		PolicyID: pol.ID, PriorityID: 1, ResponseTimeMinutes: intPtr(60),
	}))

	svc := NewService(repo, businesshours.NewCalculator(), policy.NewResolver(repo))
	_, err := svc.StartTracking(ctx, StartParams{TenantID: "acme", TicketID: 1, PriorityID: 1})
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestCompleteResponseIdempotentAndBreachPermanent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.now = time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC) // Monday

	record, err := f.service.StartTracking(ctx, StartParams{
		TenantID: "acme", TicketID: 103, PriorityID: 1, AssigneeID: int64Ptr(9),
	})
	require.NoError(t, err)

	// Respond well past the 60-minute deadline: breached.
	late := record.ResponseDeadline.Add(3 * time.Hour)
	require.NoError(t, f.service.CompleteResponse(ctx, "acme", 103, late))

	stored, err := f.repo.GetTracking(ctx, "acme", 103)
	require.NoError(t, err)
	require.NotNil(t, stored.ResponseMet)
	assert.False(t, *stored.ResponseMet)

	// A second completion, even an in-time one, never flips the flag.
	require.NoError(t, f.service.CompleteResponse(ctx, "acme", 103, record.ResponseDeadline.Add(-time.Minute)))
	stored, err = f.repo.GetTracking(ctx, "acme", 103)
	require.NoError(t, err)
	assert.False(t, *stored.ResponseMet)
	assert.True(t, stored.FirstResponseAt.Equal(late.UTC()))

	// Exactly one breach notification went out.
	sent := f.dispatcher.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, models.TemplateSlaBreach, sent[0].TemplateKey)
	assert.Equal(t, int64(9), sent[0].RecipientID)
}

func TestPauseExtendsEffectiveDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.now = time.Date(2025, 1, 11, 23, 0, 0, 0, time.UTC)

	record, err := f.service.StartTracking(ctx, StartParams{
		TenantID: "acme", TicketID: 104, PriorityID: 2, AssigneeID: int64Ptr(9),
	})
	require.NoError(t, err)
	deadline := *record.ResolutionDeadline

	// 45 wall-clock minutes of pause.
	pausedAt := f.now.Add(10 * time.Minute)
	opened, err := f.repo.OpenPause(ctx, "acme", 104, models.PauseReasonAwaitingClient, pausedAt)
	require.NoError(t, err)
	require.True(t, opened)
	minutes, closed, err := f.repo.ClosePause(ctx, "acme", 104, pausedAt.Add(45*time.Minute))
	require.NoError(t, err)
	require.True(t, closed)
	require.Equal(t, 45, minutes)

	// Resolving 40 minutes past the stored deadline is still within the
	// effective deadline (stored + 45).
	require.NoError(t, f.service.CompleteResolution(ctx, "acme", 104, deadline.Add(40*time.Minute)))

	stored, err := f.repo.GetTracking(ctx, "acme", 104)
	require.NoError(t, err)
	require.NotNil(t, stored.ResolutionMet)
	assert.True(t, *stored.ResolutionMet)
}

func TestCancelTrackingExcludesFromScans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.now = time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)

	_, err := f.service.StartTracking(ctx, StartParams{TenantID: "acme", TicketID: 105, PriorityID: 1})
	require.NoError(t, err)
	require.NoError(t, f.service.CancelTracking(ctx, "acme", 105))

	active, err := f.repo.ListActiveTracking(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestGetStatusStates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Date(2025, 1, 11, 23, 0, 0, 0, time.UTC)
	f.now = start

	_, err := f.service.StartTracking(ctx, StartParams{TenantID: "acme", TicketID: 106, PriorityID: 2})
	require.NoError(t, err)

	status, err := f.service.GetStatus(ctx, "acme", 106, start.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.SlaStateOnTrack, status.Status)
	require.NotNil(t, status.ResolutionRemainingMinutes)
	assert.Equal(t, 110, *status.ResolutionRemainingMinutes)
	assert.Nil(t, status.ResponseRemainingMinutes)

	// Past the 120-minute deadline: resolution breached.
	status, err = f.service.GetStatus(ctx, "acme", 106, start.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.SlaStateResolutionBreached, status.Status)
	assert.Equal(t, -60, *status.ResolutionRemainingMinutes)
}

func TestGetStatusWhilePaused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Date(2025, 1, 11, 23, 0, 0, 0, time.UTC)
	f.now = start

	_, err := f.service.StartTracking(ctx, StartParams{TenantID: "acme", TicketID: 107, PriorityID: 2})
	require.NoError(t, err)

	pausedAt := start.Add(30 * time.Minute)
	opened, err := f.repo.OpenPause(ctx, "acme", 107, models.PauseReasonAwaitingClient, pausedAt)
	require.NoError(t, err)
	require.True(t, opened)

	// Remaining time freezes at the value it had when the pause opened: the
	// open interval extends the effective deadline minute for minute.
	atPause, err := f.service.GetStatus(ctx, "acme", 107, pausedAt)
	require.NoError(t, err)
	later, err := f.service.GetStatus(ctx, "acme", 107, pausedAt.Add(4*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, models.SlaStatePaused, later.Status)
	assert.True(t, later.IsPaused)
	assert.Equal(t, models.PauseReasonAwaitingClient, later.PauseReason)
	require.NotNil(t, later.ResolutionRemainingMinutes)
	assert.Equal(t, *atPause.ResolutionRemainingMinutes, *later.ResolutionRemainingMinutes)
}

func TestGetStatusAtRisk(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.CreateThreshold(ctx, &models.SlaNotificationThreshold{
		PolicyID: f.policy.ID, ThresholdPercent: 50, Type: models.ThresholdTypeWarning, NotifyAssignee: true,
	}))

	start := time.Date(2025, 1, 11, 23, 0, 0, 0, time.UTC)
	f.now = start
	_, err := f.service.StartTracking(ctx, StartParams{TenantID: "acme", TicketID: 108, PriorityID: 2})
	require.NoError(t, err)

	// 60% of the 120-minute target consumed: past the 50% warning line.
	status, err := f.service.GetStatus(ctx, "acme", 108, start.Add(72*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.SlaStateAtRisk, status.Status)
}

func TestGetStatusSurvivesRemovedTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Date(2025, 1, 11, 23, 0, 0, 0, time.UTC)
	deadline := start.Add(2 * time.Hour)

	// A record whose priority no longer has a target on the policy. Status is
	// classified from the recorded flags; remaining minutes are unavailable.
	require.NoError(t, f.repo.CreateTracking(ctx, &models.TicketSlaTracking{
		TenantID:           "acme",
		TicketID:           109,
		SlaPolicyID:        f.policy.ID,
		PriorityID:         99,
		StartedAt:          start,
		ResolutionDeadline: &deadline,
		Active:             true,
	}))

	status, err := f.service.GetStatus(ctx, "acme", 109, start.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.SlaStateOnTrack, status.Status)
	assert.Nil(t, status.ResolutionRemainingMinutes)
	assert.Nil(t, status.ResponseRemainingMinutes)

	missed := false
	require.NoError(t, f.repo.UpdateTracking(ctx, "acme", 109, func(rec *models.TicketSlaTracking) error {
		rec.ResolutionMet = &missed
		return nil
	}))

	status, err = f.service.GetStatus(ctx, "acme", 109, start.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.SlaStateResolutionBreached, status.Status)
}
