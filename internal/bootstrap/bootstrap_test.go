package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servicedesk-io/sla-engine/internal/models"
	"github.com/servicedesk-io/sla-engine/internal/repository"
)

const seedYAML = `
tenants:
  - tenant_id: acme
    settings:
      pause_on_awaiting_client: true
      pausing_statuses: [on_hold]
      backend: orchestrated
    schedules:
      - name: weekdays
        timezone: America/New_York
        days:
          - { day: Monday, start: "09:00", end: "17:00" }
          - { day: Tuesday, start: "09:00", end: "17:00" }
          - { day: Wednesday, start: "09:00", end: "17:00" }
          - { day: Thursday, start: "09:00", end: "17:00" }
          - { day: Friday, start: "09:00", end: "17:00" }
        holidays:
          - { name: New Year, date: "2025-01-01", recurring: true }
    policies:
      - name: Gold
        description: premium support
        default: true
        schedule: weekdays
        targets:
          - priority_id: 1
            response_minutes: 60
            resolution_minutes: 480
            escalation_1_percent: 50
            escalation_2_percent: 75
          - priority_id: 2
            resolution_minutes: 120
            is_24x7: true
        thresholds:
          - { percent: 75, type: warning, notify_assignee: true, channels: [in_app] }
          - { percent: 100, type: breach, notify_assignee: true, notify_escalation_manager: true, channels: [in_app, email] }
    escalation_managers:
      - { board_id: 5, level: 1, user_id: 40 }
      - { board_id: 5, level: 2, user_id: 88, channels: [email] }
`

func writeSeedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFileSeedsTenant(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemorySlaRepository()

	require.NoError(t, LoadFile(ctx, repo, writeSeedFile(t, seedYAML), nil))

	settings, err := repo.GetSettings(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "orchestrated", settings.Backend)
	assert.True(t, settings.PauseOnAwaitingClient)
	assert.Equal(t, []string{"on_hold"}, settings.PausingStatuses)

	policy, err := repo.GetDefaultPolicy(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "Gold", policy.Name)
	require.NotNil(t, policy.BusinessHoursScheduleID)

	schedule, err := repo.GetSchedule(ctx, *policy.BusinessHoursScheduleID)
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", schedule.Timezone)
	assert.Len(t, schedule.Entries, 5)
	require.Len(t, schedule.Holidays, 1)
	assert.Equal(t, "New Year", schedule.Holidays[0].Name)
	assert.True(t, schedule.Holidays[0].IsRecurring)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), schedule.Holidays[0].Date)

	target, err := repo.GetTarget(ctx, policy.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, target.ResponseTimeMinutes)
	assert.Equal(t, 60, *target.ResponseTimeMinutes)
	require.NotNil(t, target.Escalation2Percent)
	assert.Equal(t, 75, *target.Escalation2Percent)

	target, err = repo.GetTarget(ctx, policy.ID, 2)
	require.NoError(t, err)
	assert.Nil(t, target.ResponseTimeMinutes)
	assert.True(t, target.Is24x7)

	thresholds, err := repo.ListThresholds(ctx, policy.ID)
	require.NoError(t, err)
	require.Len(t, thresholds, 2)
	assert.Equal(t, models.ThresholdTypeWarning, thresholds[0].Type)
	assert.Equal(t, models.ThresholdTypeBreach, thresholds[1].Type)
	assert.Equal(t, []string{"in_app", "email"}, thresholds[1].Channels)

	mgr, err := repo.GetEscalationManager(ctx, "acme", 5, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(88), mgr.UserID)
	assert.Equal(t, []string{"email"}, mgr.NotifyChannels)
}

func TestApplyRejectsUnknownScheduleReference(t *testing.T) {
	seed := &Seed{
		Tenants: []TenantSeed{{
			TenantID: "acme",
			Policies: []PolicySeed{{Name: "Gold", Schedule: "does-not-exist"}},
		}},
	}
	err := Apply(context.Background(), repository.NewMemorySlaRepository(), seed, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConfiguration)
	assert.Contains(t, err.Error(), "does-not-exist")
}

func TestApplyRejectsTenantWithoutID(t *testing.T) {
	seed := &Seed{Tenants: []TenantSeed{{}}}
	err := Apply(context.Background(), repository.NewMemorySlaRepository(), seed, nil)
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestBuildScheduleRejectsUnknownDayAndBadDate(t *testing.T) {
	_, _, err := buildSchedule("acme", &ScheduleSeed{
		Name: "bad",
		Days: []DaySeed{{Day: "Funday", Start: "09:00", End: "17:00"}},
	})
	assert.ErrorIs(t, err, models.ErrConfiguration)

	_, _, err = buildSchedule("acme", &ScheduleSeed{
		Name:     "bad",
		Holidays: []HolidaySeed{{Name: "oops", Date: "01/01/2025"}},
	})
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestLoadFileMissingFile(t *testing.T) {
	err := LoadFile(context.Background(), repository.NewMemorySlaRepository(), "/nonexistent/seed.yaml", nil)
	assert.Error(t, err)
}
