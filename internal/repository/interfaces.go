package repository

import (
	"context"
	"time"

	"github.com/servicedesk-io/sla-engine/internal/models"
)

// SlaRepository is the persistence contract for the SLA engine. Both backends
// write through this interface so read paths stay backend-agnostic.
//
// Per-ticket mutations (pause/resume/complete/cancel) are serialized at the
// storage layer: implementations run them as transactional read-modify-writes
// keyed by (tenant, ticket). Conflicts surface as models.ErrConflict and are
// safe to retry because every operation is idempotent.
type SlaRepository interface {
	// Policies and targets.
	CreatePolicy(ctx context.Context, policy *models.SlaPolicy) error
	GetPolicy(ctx context.Context, tenantID string, id int64) (*models.SlaPolicy, error)
	GetDefaultPolicy(ctx context.Context, tenantID string) (*models.SlaPolicy, error)
	CreateTarget(ctx context.Context, target *models.SlaPolicyTarget) error
	GetTarget(ctx context.Context, policyID, priorityID int64) (*models.SlaPolicyTarget, error)

	// Business hours schedules. GetSchedule hydrates entries and holidays,
	// including tenant-global holidays (schedule_id IS NULL).
	CreateSchedule(ctx context.Context, schedule *models.BusinessHoursSchedule) error
	GetSchedule(ctx context.Context, id int64) (*models.BusinessHoursSchedule, error)
	AddHoliday(ctx context.Context, holiday *models.Holiday) error

	// Notification thresholds, ascending by threshold_percent.
	CreateThreshold(ctx context.Context, threshold *models.SlaNotificationThreshold) error
	ListThresholds(ctx context.Context, policyID int64) ([]models.SlaNotificationThreshold, error)

	// Escalation managers. GetEscalationManager returns models.ErrNotFound
	// when no manager is configured at the level; callers skip the recipient.
	UpsertEscalationManager(ctx context.Context, mgr *models.EscalationManager) error
	GetEscalationManager(ctx context.Context, tenantID string, boardID int64, level int) (*models.EscalationManager, error)

	// Tracking records.
	CreateTracking(ctx context.Context, tracking *models.TicketSlaTracking) error
	GetTracking(ctx context.Context, tenantID string, ticketID int64) (*models.TicketSlaTracking, error)
	// UpdateTracking runs mutate inside the (tenant, ticket) transaction.
	// Returning models.ErrConflict from the implementation means retry.
	UpdateTracking(ctx context.Context, tenantID string, ticketID int64, mutate func(*models.TicketSlaTracking) error) error
	// ListActiveTracking batch-fetches records still needing evaluation:
	// active, not currently paused, and with at least one SLA type open.
	ListActiveTracking(ctx context.Context, tenantID string) ([]models.TicketSlaTracking, error)
	// ListTenants enumerates tenants that have active tracking records.
	ListTenants(ctx context.Context) ([]string, error)
	// AdvanceWatermark moves the per-type watermark forward. Moves backwards
	// are ignored so re-run scans stay idempotent.
	AdvanceWatermark(ctx context.Context, tenantID string, ticketID int64, slaType models.SlaType, percent int) error

	// Pause history. OpenPause is a no-op returning false when an open
	// interval already exists. ClosePause closes the open interval and
	// increments total_pause_minutes in the same transaction; it returns the
	// wall-clock minutes added and false when the ticket was not paused.
	OpenPause(ctx context.Context, tenantID string, ticketID int64, reason models.PauseReason, at time.Time) (bool, error)
	ClosePause(ctx context.Context, tenantID string, ticketID int64, at time.Time) (int, bool, error)
	GetOpenPause(ctx context.Context, tenantID string, ticketID int64) (*models.SlaPauseHistory, error)
	ListPauseHistory(ctx context.Context, tenantID string, ticketID int64) ([]models.SlaPauseHistory, error)

	// Tenant settings.
	SaveSettings(ctx context.Context, settings *models.SlaSettings) error
	GetSettings(ctx context.Context, tenantID string) (*models.SlaSettings, error)

	// Notification audit log.
	RecordNotification(ctx context.Context, audit *models.SlaNotificationAudit) error
	ListNotifications(ctx context.Context, tenantID string, ticketID int64) ([]models.SlaNotificationAudit, error)
}
