package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/servicedesk-io/sla-engine/internal/models"
)

type ticketKey struct {
	tenantID string
	ticketID int64
}

// MemorySlaRepository is an in-memory implementation of SlaRepository used in
// tests and for single-process deployments without a database.
type MemorySlaRepository struct {
	mu sync.RWMutex

	policies   map[int64]*models.SlaPolicy
	targets    []*models.SlaPolicyTarget
	schedules  map[int64]*models.BusinessHoursSchedule
	holidays   []*models.Holiday
	thresholds []*models.SlaNotificationThreshold
	managers   []*models.EscalationManager
	tracking   map[ticketKey]*models.TicketSlaTracking
	pauses     []*models.SlaPauseHistory
	settings   map[string]*models.SlaSettings
	audits     []*models.SlaNotificationAudit

	nextPolicyID    int64
	nextTargetID    int64
	nextScheduleID  int64
	nextHolidayID   int64
	nextThresholdID int64
	nextManagerID   int64
	nextTrackingID  int64
	nextPauseID     int64
}

// NewMemorySlaRepository creates an empty in-memory repository.
func NewMemorySlaRepository() *MemorySlaRepository {
	return &MemorySlaRepository{
		policies:        make(map[int64]*models.SlaPolicy),
		schedules:       make(map[int64]*models.BusinessHoursSchedule),
		tracking:        make(map[ticketKey]*models.TicketSlaTracking),
		settings:        make(map[string]*models.SlaSettings),
		nextPolicyID:    1,
		nextTargetID:    1,
		nextScheduleID:  1,
		nextHolidayID:   1,
		nextThresholdID: 1,
		nextManagerID:   1,
		nextTrackingID:  1,
		nextPauseID:     1,
	}
}

// CreatePolicy stores a new policy.
func (r *MemorySlaRepository) CreatePolicy(ctx context.Context, policy *models.SlaPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	policy.ID = r.nextPolicyID
	r.nextPolicyID++
	policy.CreatedAt = time.Now().UTC()
	policy.UpdatedAt = policy.CreatedAt

	stored := *policy
	r.policies[policy.ID] = &stored
	return nil
}

// GetPolicy retrieves a tenant's policy by ID.
func (r *MemorySlaRepository) GetPolicy(ctx context.Context, tenantID string, id int64) (*models.SlaPolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	policy, ok := r.policies[id]
	if !ok || policy.TenantID != tenantID {
		return nil, fmt.Errorf("policy %d for tenant %s: %w", id, tenantID, models.ErrNotFound)
	}
	result := *policy
	return &result, nil
}

// GetDefaultPolicy returns the tenant's default policy.
func (r *MemorySlaRepository) GetDefaultPolicy(ctx context.Context, tenantID string) (*models.SlaPolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, policy := range r.policies {
		if policy.TenantID == tenantID && policy.IsDefault {
			result := *policy
			return &result, nil
		}
	}
	return nil, fmt.Errorf("default policy for tenant %s: %w", tenantID, models.ErrNotFound)
}

// CreateTarget stores a policy target after validating the escalation ladder.
func (r *MemorySlaRepository) CreateTarget(ctx context.Context, target *models.SlaPolicyTarget) error {
	if err := validateTarget(target); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	target.ID = r.nextTargetID
	r.nextTargetID++
	stored := *target
	r.targets = append(r.targets, &stored)
	return nil
}

// GetTarget resolves the target for a (policy, priority) pair.
func (r *MemorySlaRepository) GetTarget(ctx context.Context, policyID, priorityID int64) (*models.SlaPolicyTarget, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, target := range r.targets {
		if target.PolicyID == policyID && target.PriorityID == priorityID {
			result := *target
			return &result, nil
		}
	}
	return nil, fmt.Errorf("target for policy %d priority %d: %w", policyID, priorityID, models.ErrNotFound)
}

// CreateSchedule stores a schedule with its entries.
func (r *MemorySlaRepository) CreateSchedule(ctx context.Context, schedule *models.BusinessHoursSchedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	schedule.ID = r.nextScheduleID
	r.nextScheduleID++
	schedule.UpdatedAt = time.Now().UTC()
	for i := range schedule.Entries {
		schedule.Entries[i].ScheduleID = schedule.ID
	}

	stored := *schedule
	stored.Entries = append([]models.BusinessHoursEntry(nil), schedule.Entries...)
	stored.Holidays = append([]models.Holiday(nil), schedule.Holidays...)
	r.schedules[schedule.ID] = &stored
	return nil
}

// GetSchedule returns a schedule hydrated with entries and all holidays that
// apply to it (schedule-scoped plus tenant-global).
func (r *MemorySlaRepository) GetSchedule(ctx context.Context, id int64) (*models.BusinessHoursSchedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schedule, ok := r.schedules[id]
	if !ok {
		return nil, fmt.Errorf("schedule %d: %w", id, models.ErrNotFound)
	}

	result := *schedule
	result.Entries = append([]models.BusinessHoursEntry(nil), schedule.Entries...)
	result.Holidays = append([]models.Holiday(nil), schedule.Holidays...)
	for _, h := range r.holidays {
		if h.TenantID != schedule.TenantID {
			continue
		}
		if h.ScheduleID == nil || *h.ScheduleID == id {
			result.Holidays = append(result.Holidays, *h)
		}
	}
	return &result, nil
}

// AddHoliday registers a holiday, schedule-scoped or tenant-global.
func (r *MemorySlaRepository) AddHoliday(ctx context.Context, holiday *models.Holiday) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	holiday.ID = r.nextHolidayID
	r.nextHolidayID++
	stored := *holiday
	r.holidays = append(r.holidays, &stored)
	return nil
}

// CreateThreshold stores a notification threshold.
func (r *MemorySlaRepository) CreateThreshold(ctx context.Context, threshold *models.SlaNotificationThreshold) error {
	if threshold.ThresholdPercent < 0 {
		return fmt.Errorf("threshold percent %d: %w", threshold.ThresholdPercent, models.ErrConfiguration)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	threshold.ID = r.nextThresholdID
	r.nextThresholdID++
	stored := *threshold
	stored.Channels = append([]string(nil), threshold.Channels...)
	r.thresholds = append(r.thresholds, &stored)
	return nil
}

// ListThresholds returns a policy's thresholds in ascending percent order.
func (r *MemorySlaRepository) ListThresholds(ctx context.Context, policyID int64) ([]models.SlaNotificationThreshold, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var list []models.SlaNotificationThreshold
	for _, t := range r.thresholds {
		if t.PolicyID == policyID {
			copied := *t
			copied.Channels = append([]string(nil), t.Channels...)
			list = append(list, copied)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ThresholdPercent < list[j].ThresholdPercent })
	return list, nil
}

// UpsertEscalationManager creates or replaces the manager for (board, level).
func (r *MemorySlaRepository) UpsertEscalationManager(ctx context.Context, mgr *models.EscalationManager) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.managers {
		if existing.TenantID == mgr.TenantID && existing.BoardID == mgr.BoardID && existing.Level == mgr.Level {
			mgr.ID = existing.ID
			stored := *mgr
			stored.NotifyChannels = append([]string(nil), mgr.NotifyChannels...)
			r.managers[i] = &stored
			return nil
		}
	}

	mgr.ID = r.nextManagerID
	r.nextManagerID++
	stored := *mgr
	stored.NotifyChannels = append([]string(nil), mgr.NotifyChannels...)
	r.managers = append(r.managers, &stored)
	return nil
}

// GetEscalationManager returns the manager for (board, level), if configured.
func (r *MemorySlaRepository) GetEscalationManager(ctx context.Context, tenantID string, boardID int64, level int) (*models.EscalationManager, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, mgr := range r.managers {
		if mgr.TenantID == tenantID && mgr.BoardID == boardID && mgr.Level == level {
			result := *mgr
			result.NotifyChannels = append([]string(nil), mgr.NotifyChannels...)
			return &result, nil
		}
	}
	return nil, fmt.Errorf("escalation manager for board %d level %d: %w", boardID, level, models.ErrNotFound)
}

// CreateTracking stores a new tracking record.
func (r *MemorySlaRepository) CreateTracking(ctx context.Context, tracking *models.TicketSlaTracking) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := ticketKey{tracking.TenantID, tracking.TicketID}
	if existing, ok := r.tracking[key]; ok && existing.Active {
		return fmt.Errorf("tracking for ticket %d already active: %w", tracking.TicketID, models.ErrConflict)
	}

	tracking.ID = r.nextTrackingID
	r.nextTrackingID++
	tracking.CreatedAt = time.Now().UTC()
	tracking.UpdatedAt = tracking.CreatedAt
	stored := *tracking
	r.tracking[key] = &stored
	return nil
}

// GetTracking retrieves the tracking record for a ticket.
func (r *MemorySlaRepository) GetTracking(ctx context.Context, tenantID string, ticketID int64) (*models.TicketSlaTracking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tracking, ok := r.tracking[ticketKey{tenantID, ticketID}]
	if !ok {
		return nil, fmt.Errorf("tracking for ticket %d: %w", ticketID, models.ErrNotFound)
	}
	result := *tracking
	return &result, nil
}

// UpdateTracking applies mutate under the repository lock, emulating the
// transactional read-modify-write of the SQL implementation.
func (r *MemorySlaRepository) UpdateTracking(ctx context.Context, tenantID string, ticketID int64, mutate func(*models.TicketSlaTracking) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tracking, ok := r.tracking[ticketKey{tenantID, ticketID}]
	if !ok {
		return fmt.Errorf("tracking for ticket %d: %w", ticketID, models.ErrNotFound)
	}

	working := *tracking
	if err := mutate(&working); err != nil {
		return err
	}
	working.UpdatedAt = time.Now().UTC()
	r.tracking[ticketKey{tenantID, ticketID}] = &working
	return nil
}

// ListActiveTracking returns records still needing threshold evaluation.
func (r *MemorySlaRepository) ListActiveTracking(ctx context.Context, tenantID string) ([]models.TicketSlaTracking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var list []models.TicketSlaTracking
	for key, tracking := range r.tracking {
		if key.tenantID != tenantID || !tracking.Active {
			continue
		}
		if tracking.Completed(models.SlaTypeResponse) && tracking.Completed(models.SlaTypeResolution) {
			continue
		}
		if r.openPauseLocked(tenantID, key.ticketID) != nil {
			continue
		}
		list = append(list, *tracking)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].TicketID < list[j].TicketID })
	return list, nil
}

// ListTenants enumerates tenants with active tracking records.
func (r *MemorySlaRepository) ListTenants(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var tenants []string
	for key, tracking := range r.tracking {
		if tracking.Active && !seen[key.tenantID] {
			seen[key.tenantID] = true
			tenants = append(tenants, key.tenantID)
		}
	}
	sort.Strings(tenants)
	return tenants, nil
}

// AdvanceWatermark moves the per-type notification watermark forward only.
func (r *MemorySlaRepository) AdvanceWatermark(ctx context.Context, tenantID string, ticketID int64, slaType models.SlaType, percent int) error {
	return r.UpdateTracking(ctx, tenantID, ticketID, func(t *models.TicketSlaTracking) error {
		switch slaType {
		case models.SlaTypeResolution:
			if percent > t.LastResolutionThreshold {
				t.LastResolutionThreshold = percent
			}
		default:
			if percent > t.LastResponseThreshold {
				t.LastResponseThreshold = percent
			}
		}
		return nil
	})
}

func (r *MemorySlaRepository) openPauseLocked(tenantID string, ticketID int64) *models.SlaPauseHistory {
	for _, p := range r.pauses {
		if p.TenantID == tenantID && p.TicketID == ticketID && p.ResumedAt == nil {
			return p
		}
	}
	return nil
}

// OpenPause opens a pause interval unless one is already open.
func (r *MemorySlaRepository) OpenPause(ctx context.Context, tenantID string, ticketID int64, reason models.PauseReason, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.openPauseLocked(tenantID, ticketID) != nil {
		return false, nil
	}

	pause := &models.SlaPauseHistory{
		ID:          r.nextPauseID,
		TenantID:    tenantID,
		TicketID:    ticketID,
		PausedAt:    at,
		PauseReason: reason,
	}
	r.nextPauseID++
	r.pauses = append(r.pauses, pause)
	return true, nil
}

// ClosePause closes the open interval and adds its wall-clock duration to
// total_pause_minutes in the same critical section.
func (r *MemorySlaRepository) ClosePause(ctx context.Context, tenantID string, ticketID int64, at time.Time) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	open := r.openPauseLocked(tenantID, ticketID)
	if open == nil {
		return 0, false, nil
	}

	resumed := at
	open.ResumedAt = &resumed
	minutes := int(at.Sub(open.PausedAt).Minutes())
	if minutes < 0 {
		minutes = 0
	}

	if tracking, ok := r.tracking[ticketKey{tenantID, ticketID}]; ok {
		tracking.TotalPauseMinutes += minutes
		tracking.UpdatedAt = time.Now().UTC()
	}
	return minutes, true, nil
}

// GetOpenPause returns the currently open pause interval, if any.
func (r *MemorySlaRepository) GetOpenPause(ctx context.Context, tenantID string, ticketID int64) (*models.SlaPauseHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	open := r.openPauseLocked(tenantID, ticketID)
	if open == nil {
		return nil, fmt.Errorf("open pause for ticket %d: %w", ticketID, models.ErrNotFound)
	}
	result := *open
	return &result, nil
}

// ListPauseHistory returns the full pause log for a ticket, oldest first.
func (r *MemorySlaRepository) ListPauseHistory(ctx context.Context, tenantID string, ticketID int64) ([]models.SlaPauseHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var list []models.SlaPauseHistory
	for _, p := range r.pauses {
		if p.TenantID == tenantID && p.TicketID == ticketID {
			list = append(list, *p)
		}
	}
	return list, nil
}

// SaveSettings stores tenant-level SLA settings.
func (r *MemorySlaRepository) SaveSettings(ctx context.Context, settings *models.SlaSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *settings
	stored.PausingStatuses = append([]string(nil), settings.PausingStatuses...)
	r.settings[settings.TenantID] = &stored
	return nil
}

// GetSettings returns tenant settings, defaulting to the polling backend with
// no status-driven pausing when nothing has been saved.
func (r *MemorySlaRepository) GetSettings(ctx context.Context, tenantID string) (*models.SlaSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if settings, ok := r.settings[tenantID]; ok {
		result := *settings
		result.PausingStatuses = append([]string(nil), settings.PausingStatuses...)
		return &result, nil
	}
	return &models.SlaSettings{TenantID: tenantID, Backend: "polling"}, nil
}

// RecordNotification appends a dispatch attempt to the audit log.
func (r *MemorySlaRepository) RecordNotification(ctx context.Context, audit *models.SlaNotificationAudit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *audit
	r.audits = append(r.audits, &stored)
	return nil
}

// ListNotifications returns the audit log for a ticket, oldest first.
func (r *MemorySlaRepository) ListNotifications(ctx context.Context, tenantID string, ticketID int64) ([]models.SlaNotificationAudit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var list []models.SlaNotificationAudit
	for _, a := range r.audits {
		if a.TenantID == tenantID && a.TicketID == ticketID {
			list = append(list, *a)
		}
	}
	return list, nil
}

func validateTarget(target *models.SlaPolicyTarget) error {
	percents := []*int{target.Escalation1Percent, target.Escalation2Percent, target.Escalation3Percent}
	last := -1
	for i, p := range percents {
		if p == nil {
			continue
		}
		if *p < 0 || *p > 100 {
			return fmt.Errorf("escalation_%d_percent %d out of range: %w", i+1, *p, models.ErrConfiguration)
		}
		if *p < last {
			return fmt.Errorf("escalation percentages must be non-decreasing: %w", models.ErrConfiguration)
		}
		last = *p
	}
	return nil
}
