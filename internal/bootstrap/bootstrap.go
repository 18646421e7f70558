// Package bootstrap seeds SLA configuration (schedules, policies, targets,
// thresholds, escalation managers, tenant settings) from a YAML file at
// startup. Intended for fresh deployments and tests; existing rows are left
// alone on conflict.
package bootstrap

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/servicedesk-io/sla-engine/internal/models"
	"github.com/servicedesk-io/sla-engine/internal/repository"
)

// Seed is the root of the bootstrap file.
type Seed struct {
	Tenants []TenantSeed `yaml:"tenants"`
}

// TenantSeed holds one tenant's SLA configuration.
type TenantSeed struct {
	TenantID  string         `yaml:"tenant_id"`
	Settings  *SettingsSeed  `yaml:"settings"`
	Schedules []ScheduleSeed `yaml:"schedules"`
	Policies  []PolicySeed   `yaml:"policies"`
	Managers  []ManagerSeed  `yaml:"escalation_managers"`
}

type SettingsSeed struct {
	PauseOnAwaitingClient bool     `yaml:"pause_on_awaiting_client"`
	PausingStatuses       []string `yaml:"pausing_statuses"`
	Backend               string   `yaml:"backend"`
}

type ScheduleSeed struct {
	Name     string        `yaml:"name"`
	Timezone string        `yaml:"timezone"`
	Is24x7   bool          `yaml:"is_24x7"`
	Days     []DaySeed     `yaml:"days"`
	Holidays []HolidaySeed `yaml:"holidays"`
}

type DaySeed struct {
	Day   string `yaml:"day"` // Monday..Sunday
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type HolidaySeed struct {
	Name      string `yaml:"name"`
	Date      string `yaml:"date"` // YYYY-MM-DD
	Recurring bool   `yaml:"recurring"`
}

type PolicySeed struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Default     bool            `yaml:"default"`
	Schedule    string          `yaml:"schedule"` // schedule name, optional
	Targets     []TargetSeed    `yaml:"targets"`
	Thresholds  []ThresholdSeed `yaml:"thresholds"`
}

type TargetSeed struct {
	PriorityID         int64 `yaml:"priority_id"`
	ResponseMinutes    *int  `yaml:"response_minutes"`
	ResolutionMinutes  *int  `yaml:"resolution_minutes"`
	Escalation1Percent *int  `yaml:"escalation_1_percent"`
	Escalation2Percent *int  `yaml:"escalation_2_percent"`
	Escalation3Percent *int  `yaml:"escalation_3_percent"`
	Is24x7             bool  `yaml:"is_24x7"`
}

type ThresholdSeed struct {
	Percent                 int      `yaml:"percent"`
	Type                    string   `yaml:"type"` // warning|breach
	NotifyAssignee          bool     `yaml:"notify_assignee"`
	NotifyBoardManager      bool     `yaml:"notify_board_manager"`
	NotifyEscalationManager bool     `yaml:"notify_escalation_manager"`
	Channels                []string `yaml:"channels"`
}

type ManagerSeed struct {
	BoardID  int64    `yaml:"board_id"`
	Level    int      `yaml:"level"`
	UserID   int64    `yaml:"user_id"`
	Channels []string `yaml:"channels"`
}

var weekdays = map[string]time.Weekday{
	"Sunday":    time.Sunday,
	"Monday":    time.Monday,
	"Tuesday":   time.Tuesday,
	"Wednesday": time.Wednesday,
	"Thursday":  time.Thursday,
	"Friday":    time.Friday,
	"Saturday":  time.Saturday,
}

// LoadFile parses and applies a seed file.
func LoadFile(ctx context.Context, repo repository.SlaRepository, path string, logger *log.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}
	return Apply(ctx, repo, &seed, logger)
}

// Apply writes the seed through the repository.
func Apply(ctx context.Context, repo repository.SlaRepository, seed *Seed, logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}
	for _, tenant := range seed.Tenants {
		if tenant.TenantID == "" {
			return fmt.Errorf("seed tenant without tenant_id: %w", models.ErrConfiguration)
		}
		if err := applyTenant(ctx, repo, &tenant); err != nil {
			return fmt.Errorf("seed tenant %s: %w", tenant.TenantID, err)
		}
		logger.Printf("bootstrap: seeded tenant %s (%d schedules, %d policies)", tenant.TenantID, len(tenant.Schedules), len(tenant.Policies))
	}
	return nil
}

func applyTenant(ctx context.Context, repo repository.SlaRepository, tenant *TenantSeed) error {
	if tenant.Settings != nil {
		settings := &models.SlaSettings{
			TenantID:              tenant.TenantID,
			PauseOnAwaitingClient: tenant.Settings.PauseOnAwaitingClient,
			PausingStatuses:       tenant.Settings.PausingStatuses,
			Backend:               tenant.Settings.Backend,
		}
		if err := repo.SaveSettings(ctx, settings); err != nil {
			return fmt.Errorf("settings: %w", err)
		}
	}

	scheduleIDs := make(map[string]int64)
	for _, sc := range tenant.Schedules {
		schedule, holidays, err := buildSchedule(tenant.TenantID, &sc)
		if err != nil {
			return err
		}
		if err := repo.CreateSchedule(ctx, schedule); err != nil {
			return fmt.Errorf("schedule %s: %w", sc.Name, err)
		}
		for i := range holidays {
			holidays[i].ScheduleID = &schedule.ID
			if err := repo.AddHoliday(ctx, &holidays[i]); err != nil {
				return fmt.Errorf("schedule %s holiday %s: %w", sc.Name, holidays[i].Name, err)
			}
		}
		scheduleIDs[sc.Name] = schedule.ID
	}

	for _, ps := range tenant.Policies {
		policy := &models.SlaPolicy{
			TenantID:    tenant.TenantID,
			Name:        ps.Name,
			Description: ps.Description,
			IsDefault:   ps.Default,
		}
		if ps.Schedule != "" {
			id, ok := scheduleIDs[ps.Schedule]
			if !ok {
				return fmt.Errorf("policy %s references unknown schedule %s: %w", ps.Name, ps.Schedule, models.ErrConfiguration)
			}
			policy.BusinessHoursScheduleID = &id
		}
		if err := repo.CreatePolicy(ctx, policy); err != nil {
			return fmt.Errorf("policy %s: %w", ps.Name, err)
		}

		for _, ts := range ps.Targets {
			target := &models.SlaPolicyTarget{
				PolicyID:              policy.ID,
				PriorityID:            ts.PriorityID,
				ResponseTimeMinutes:   ts.ResponseMinutes,
				ResolutionTimeMinutes: ts.ResolutionMinutes,
				Escalation1Percent:    ts.Escalation1Percent,
				Escalation2Percent:    ts.Escalation2Percent,
				Escalation3Percent:    ts.Escalation3Percent,
				Is24x7:                ts.Is24x7,
			}
			if err := repo.CreateTarget(ctx, target); err != nil {
				return fmt.Errorf("policy %s priority %d: %w", ps.Name, ts.PriorityID, err)
			}
		}

		for _, th := range ps.Thresholds {
			thresholdType := models.ThresholdTypeWarning
			if th.Type == string(models.ThresholdTypeBreach) {
				thresholdType = models.ThresholdTypeBreach
			}
			threshold := &models.SlaNotificationThreshold{
				PolicyID:                policy.ID,
				ThresholdPercent:        th.Percent,
				Type:                    thresholdType,
				NotifyAssignee:          th.NotifyAssignee,
				NotifyBoardManager:      th.NotifyBoardManager,
				NotifyEscalationManager: th.NotifyEscalationManager,
				Channels:                th.Channels,
			}
			if err := repo.CreateThreshold(ctx, threshold); err != nil {
				return fmt.Errorf("policy %s threshold %d%%: %w", ps.Name, th.Percent, err)
			}
		}
	}

	for _, ms := range tenant.Managers {
		mgr := &models.EscalationManager{
			TenantID:       tenant.TenantID,
			BoardID:        ms.BoardID,
			Level:          ms.Level,
			UserID:         ms.UserID,
			NotifyChannels: ms.Channels,
		}
		if err := repo.UpsertEscalationManager(ctx, mgr); err != nil {
			return fmt.Errorf("escalation manager board %d level %d: %w", ms.BoardID, ms.Level, err)
		}
	}
	return nil
}

func buildSchedule(tenantID string, sc *ScheduleSeed) (*models.BusinessHoursSchedule, []models.Holiday, error) {
	schedule := &models.BusinessHoursSchedule{
		TenantID: tenantID,
		Name:     sc.Name,
		Timezone: sc.Timezone,
		Is24x7:   sc.Is24x7,
	}
	for _, day := range sc.Days {
		weekday, ok := weekdays[day.Day]
		if !ok {
			return nil, nil, fmt.Errorf("schedule %s: unknown day %q: %w", sc.Name, day.Day, models.ErrConfiguration)
		}
		schedule.Entries = append(schedule.Entries, models.BusinessHoursEntry{
			DayOfWeek: weekday,
			StartTime: day.Start,
			EndTime:   day.End,
			IsEnabled: true,
		})
	}
	var holidays []models.Holiday
	for _, h := range sc.Holidays {
		date, err := time.Parse("2006-01-02", h.Date)
		if err != nil {
			return nil, nil, fmt.Errorf("schedule %s holiday %s: %w", sc.Name, h.Name, models.ErrConfiguration)
		}
		holidays = append(holidays, models.Holiday{
			TenantID:    tenantID,
			Name:        h.Name,
			Date:        date,
			IsRecurring: h.Recurring,
		})
	}
	return schedule, holidays, nil
}
