package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/servicedesk-io/sla-engine/internal/database"
	"github.com/servicedesk-io/sla-engine/internal/models"
)

// SQLSlaRepository is the sqlx-backed implementation of SlaRepository.
// Queries are written with `?` placeholders and rebound per driver.
type SQLSlaRepository struct {
	db     *sqlx.DB
	driver string
}

// NewSQLSlaRepository wraps an open connection.
func NewSQLSlaRepository(db *sqlx.DB) *SQLSlaRepository {
	return &SQLSlaRepository{db: db, driver: db.DriverName()}
}

func (r *SQLSlaRepository) rebind(query string) string {
	return r.db.Rebind(query)
}

func (r *SQLSlaRepository) insertID(ctx context.Context, tx *sqlx.Tx, query string, args ...interface{}) (int64, error) {
	if database.UsesReturning(r.driver) {
		var id int64
		err := tx.QueryRowContext(ctx, r.rebind(query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}
	res, err := tx.ExecContext(ctx, r.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// isSerializationFailure detects transactional conflicts across drivers.
func isSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "40001") || // postgres serialization_failure
		strings.Contains(msg, "Error 1213") || // mysql deadlock
		strings.Contains(msg, "database is locked") // sqlite busy
}

func wrapTxErr(err error, op string) error {
	if isSerializationFailure(err) {
		return fmt.Errorf("%s: %w", op, models.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// CreatePolicy inserts a policy and fills in its generated ID.
func (r *SQLSlaRepository) CreatePolicy(ctx context.Context, policy *models.SlaPolicy) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create policy: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	id, err := r.insertID(ctx, tx, `
		INSERT INTO sla_policy (tenant_id, name, description, is_default, business_hours_schedule_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		policy.TenantID, policy.Name, policy.Description, policy.IsDefault,
		policy.BusinessHoursScheduleID, now, now)
	if err != nil {
		return fmt.Errorf("insert policy: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return wrapTxErr(err, "commit create policy")
	}
	policy.ID = id
	policy.CreatedAt = now
	policy.UpdatedAt = now
	return nil
}

// GetPolicy fetches a tenant's policy by ID.
func (r *SQLSlaRepository) GetPolicy(ctx context.Context, tenantID string, id int64) (*models.SlaPolicy, error) {
	var policy models.SlaPolicy
	err := r.db.GetContext(ctx, &policy, r.rebind(`
		SELECT id, tenant_id, name, description, is_default, business_hours_schedule_id, created_at, updated_at
		FROM sla_policy WHERE tenant_id = ? AND id = ?`), tenantID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("policy %d for tenant %s: %w", id, tenantID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get policy %d: %w", id, err)
	}
	return &policy, nil
}

// GetDefaultPolicy fetches the tenant's default policy.
func (r *SQLSlaRepository) GetDefaultPolicy(ctx context.Context, tenantID string) (*models.SlaPolicy, error) {
	var policy models.SlaPolicy
	err := r.db.GetContext(ctx, &policy, r.rebind(`
		SELECT id, tenant_id, name, description, is_default, business_hours_schedule_id, created_at, updated_at
		FROM sla_policy WHERE tenant_id = ? AND is_default = ? LIMIT 1`), tenantID, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("default policy for tenant %s: %w", tenantID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get default policy: %w", err)
	}
	return &policy, nil
}

// CreateTarget inserts a policy target after validating the escalation ladder.
func (r *SQLSlaRepository) CreateTarget(ctx context.Context, target *models.SlaPolicyTarget) error {
	if err := validateTarget(target); err != nil {
		return err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create target: %w", err)
	}
	defer tx.Rollback()

	id, err := r.insertID(ctx, tx, `
		INSERT INTO sla_policy_target
			(policy_id, priority_id, response_time_minutes, resolution_time_minutes,
			 escalation_1_percent, escalation_2_percent, escalation_3_percent, is_24x7)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		target.PolicyID, target.PriorityID, target.ResponseTimeMinutes, target.ResolutionTimeMinutes,
		target.Escalation1Percent, target.Escalation2Percent, target.Escalation3Percent, target.Is24x7)
	if err != nil {
		return fmt.Errorf("insert target: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return wrapTxErr(err, "commit create target")
	}
	target.ID = id
	return nil
}

// GetTarget resolves the target for a (policy, priority) pair.
func (r *SQLSlaRepository) GetTarget(ctx context.Context, policyID, priorityID int64) (*models.SlaPolicyTarget, error) {
	var target models.SlaPolicyTarget
	err := r.db.GetContext(ctx, &target, r.rebind(`
		SELECT id, policy_id, priority_id, response_time_minutes, resolution_time_minutes,
		       escalation_1_percent, escalation_2_percent, escalation_3_percent, is_24x7
		FROM sla_policy_target WHERE policy_id = ? AND priority_id = ?`), policyID, priorityID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("target for policy %d priority %d: %w", policyID, priorityID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get target: %w", err)
	}
	return &target, nil
}

// CreateSchedule inserts a schedule with its per-day entries.
func (r *SQLSlaRepository) CreateSchedule(ctx context.Context, schedule *models.BusinessHoursSchedule) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create schedule: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	id, err := r.insertID(ctx, tx, `
		INSERT INTO business_hours_schedule (tenant_id, name, timezone, is_24x7, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		schedule.TenantID, schedule.Name, schedule.Timezone, schedule.Is24x7, now)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}

	for i := range schedule.Entries {
		entry := &schedule.Entries[i]
		entry.ScheduleID = id
		entryID, err := r.insertID(ctx, tx, `
			INSERT INTO business_hours_entry (schedule_id, day_of_week, start_time, end_time, is_enabled)
			VALUES (?, ?, ?, ?, ?)`,
			id, int(entry.DayOfWeek), entry.StartTime, entry.EndTime, entry.IsEnabled)
		if err != nil {
			return fmt.Errorf("insert schedule entry: %w", err)
		}
		entry.ID = entryID
	}

	if err := tx.Commit(); err != nil {
		return wrapTxErr(err, "commit create schedule")
	}
	schedule.ID = id
	schedule.UpdatedAt = now
	return nil
}

// GetSchedule hydrates a schedule with entries and applicable holidays
// (schedule-scoped plus tenant-global).
func (r *SQLSlaRepository) GetSchedule(ctx context.Context, id int64) (*models.BusinessHoursSchedule, error) {
	var schedule models.BusinessHoursSchedule
	err := r.db.GetContext(ctx, &schedule, r.rebind(`
		SELECT id, tenant_id, name, timezone, is_24x7, updated_at
		FROM business_hours_schedule WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("schedule %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule %d: %w", id, err)
	}

	err = r.db.SelectContext(ctx, &schedule.Entries, r.rebind(`
		SELECT id, schedule_id, day_of_week, start_time, end_time, is_enabled
		FROM business_hours_entry WHERE schedule_id = ? ORDER BY day_of_week`), id)
	if err != nil {
		return nil, fmt.Errorf("get schedule entries: %w", err)
	}

	err = r.db.SelectContext(ctx, &schedule.Holidays, r.rebind(`
		SELECT id, schedule_id, tenant_id, name, date, is_recurring
		FROM holiday WHERE tenant_id = ? AND (schedule_id IS NULL OR schedule_id = ?)
		ORDER BY date`), schedule.TenantID, id)
	if err != nil {
		return nil, fmt.Errorf("get schedule holidays: %w", err)
	}
	return &schedule, nil
}

// AddHoliday registers a holiday, schedule-scoped or tenant-global.
func (r *SQLSlaRepository) AddHoliday(ctx context.Context, holiday *models.Holiday) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add holiday: %w", err)
	}
	defer tx.Rollback()

	id, err := r.insertID(ctx, tx, `
		INSERT INTO holiday (schedule_id, tenant_id, name, date, is_recurring)
		VALUES (?, ?, ?, ?, ?)`,
		holiday.ScheduleID, holiday.TenantID, holiday.Name, holiday.Date, holiday.IsRecurring)
	if err != nil {
		return fmt.Errorf("insert holiday: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return wrapTxErr(err, "commit add holiday")
	}
	holiday.ID = id
	return nil
}

type thresholdRow struct {
	ID                      int64                `db:"id"`
	PolicyID                int64                `db:"policy_id"`
	ThresholdPercent        int                  `db:"threshold_percent"`
	Type                    models.ThresholdType `db:"type"`
	NotifyAssignee          bool                 `db:"notify_assignee"`
	NotifyBoardManager      bool                 `db:"notify_board_manager"`
	NotifyEscalationManager bool                 `db:"notify_escalation_manager"`
	Channels                string               `db:"channels"`
}

func (row thresholdRow) toModel() models.SlaNotificationThreshold {
	t := models.SlaNotificationThreshold{
		ID:                      row.ID,
		PolicyID:                row.PolicyID,
		ThresholdPercent:        row.ThresholdPercent,
		Type:                    row.Type,
		NotifyAssignee:          row.NotifyAssignee,
		NotifyBoardManager:      row.NotifyBoardManager,
		NotifyEscalationManager: row.NotifyEscalationManager,
	}
	if row.Channels != "" {
		t.Channels = strings.Split(row.Channels, ",")
	}
	return t
}

// CreateThreshold inserts a notification threshold.
func (r *SQLSlaRepository) CreateThreshold(ctx context.Context, threshold *models.SlaNotificationThreshold) error {
	if threshold.ThresholdPercent < 0 {
		return fmt.Errorf("threshold percent %d: %w", threshold.ThresholdPercent, models.ErrConfiguration)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create threshold: %w", err)
	}
	defer tx.Rollback()

	id, err := r.insertID(ctx, tx, `
		INSERT INTO sla_notification_threshold
			(policy_id, threshold_percent, type, notify_assignee, notify_board_manager, notify_escalation_manager, channels)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		threshold.PolicyID, threshold.ThresholdPercent, threshold.Type,
		threshold.NotifyAssignee, threshold.NotifyBoardManager, threshold.NotifyEscalationManager,
		strings.Join(threshold.Channels, ","))
	if err != nil {
		return fmt.Errorf("insert threshold: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return wrapTxErr(err, "commit create threshold")
	}
	threshold.ID = id
	return nil
}

// ListThresholds returns a policy's thresholds in ascending percent order.
func (r *SQLSlaRepository) ListThresholds(ctx context.Context, policyID int64) ([]models.SlaNotificationThreshold, error) {
	var rows []thresholdRow
	err := r.db.SelectContext(ctx, &rows, r.rebind(`
		SELECT id, policy_id, threshold_percent, type, notify_assignee, notify_board_manager, notify_escalation_manager, channels
		FROM sla_notification_threshold WHERE policy_id = ? ORDER BY threshold_percent`), policyID)
	if err != nil {
		return nil, fmt.Errorf("list thresholds: %w", err)
	}
	list := make([]models.SlaNotificationThreshold, 0, len(rows))
	for _, row := range rows {
		list = append(list, row.toModel())
	}
	return list, nil
}

type managerRow struct {
	ID             int64  `db:"id"`
	TenantID       string `db:"tenant_id"`
	BoardID        int64  `db:"board_id"`
	Level          int    `db:"level"`
	UserID         int64  `db:"user_id"`
	NotifyChannels string `db:"notify_channels"`
}

func (row managerRow) toModel() *models.EscalationManager {
	mgr := &models.EscalationManager{
		ID:       row.ID,
		TenantID: row.TenantID,
		BoardID:  row.BoardID,
		Level:    row.Level,
		UserID:   row.UserID,
	}
	if row.NotifyChannels != "" {
		mgr.NotifyChannels = strings.Split(row.NotifyChannels, ",")
	}
	return mgr
}

// UpsertEscalationManager creates or replaces the manager for (board, level).
func (r *SQLSlaRepository) UpsertEscalationManager(ctx context.Context, mgr *models.EscalationManager) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert manager: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, r.rebind(`
		UPDATE escalation_manager SET user_id = ?, notify_channels = ?
		WHERE tenant_id = ? AND board_id = ? AND level = ?`),
		mgr.UserID, strings.Join(mgr.NotifyChannels, ","), mgr.TenantID, mgr.BoardID, mgr.Level)
	if err != nil {
		return fmt.Errorf("update manager: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update manager: %w", err)
	}
	if affected == 0 {
		id, err := r.insertID(ctx, tx, `
			INSERT INTO escalation_manager (tenant_id, board_id, level, user_id, notify_channels)
			VALUES (?, ?, ?, ?, ?)`,
			mgr.TenantID, mgr.BoardID, mgr.Level, mgr.UserID, strings.Join(mgr.NotifyChannels, ","))
		if err != nil {
			return fmt.Errorf("insert manager: %w", err)
		}
		mgr.ID = id
	}
	if err := tx.Commit(); err != nil {
		return wrapTxErr(err, "commit upsert manager")
	}
	return nil
}

// GetEscalationManager returns the manager for (board, level), if configured.
func (r *SQLSlaRepository) GetEscalationManager(ctx context.Context, tenantID string, boardID int64, level int) (*models.EscalationManager, error) {
	var row managerRow
	err := r.db.GetContext(ctx, &row, r.rebind(`
		SELECT id, tenant_id, board_id, level, user_id, notify_channels
		FROM escalation_manager WHERE tenant_id = ? AND board_id = ? AND level = ?`),
		tenantID, boardID, level)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("escalation manager for board %d level %d: %w", boardID, level, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get escalation manager: %w", err)
	}
	return row.toModel(), nil
}

const trackingColumns = `id, tenant_id, ticket_id, sla_policy_id, priority_id, board_id, assignee_id,
	started_at, response_deadline, resolution_deadline, first_response_at, resolved_at,
	response_met, resolution_met, total_pause_minutes,
	last_response_threshold, last_resolution_threshold, active, created_at, updated_at`

// CreateTracking inserts a new tracking record.
func (r *SQLSlaRepository) CreateTracking(ctx context.Context, tracking *models.TicketSlaTracking) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create tracking: %w", err)
	}
	defer tx.Rollback()

	var existing int
	err = tx.GetContext(ctx, &existing, r.rebind(`
		SELECT COUNT(1) FROM ticket_sla_tracking WHERE tenant_id = ? AND ticket_id = ? AND active = ?`),
		tracking.TenantID, tracking.TicketID, true)
	if err != nil {
		return fmt.Errorf("check existing tracking: %w", err)
	}
	if existing > 0 {
		return fmt.Errorf("tracking for ticket %d already active: %w", tracking.TicketID, models.ErrConflict)
	}

	now := time.Now().UTC()
	id, err := r.insertID(ctx, tx, `
		INSERT INTO ticket_sla_tracking
			(tenant_id, ticket_id, sla_policy_id, priority_id, board_id, assignee_id,
			 started_at, response_deadline, resolution_deadline, first_response_at, resolved_at,
			 response_met, resolution_met, total_pause_minutes,
			 last_response_threshold, last_resolution_threshold, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tracking.TenantID, tracking.TicketID, tracking.SlaPolicyID, tracking.PriorityID,
		tracking.BoardID, tracking.AssigneeID, tracking.StartedAt,
		tracking.ResponseDeadline, tracking.ResolutionDeadline,
		tracking.FirstResponseAt, tracking.ResolvedAt,
		tracking.ResponseMet, tracking.ResolutionMet, tracking.TotalPauseMinutes,
		tracking.LastResponseThreshold, tracking.LastResolutionThreshold,
		tracking.Active, now, now)
	if err != nil {
		return fmt.Errorf("insert tracking: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return wrapTxErr(err, "commit create tracking")
	}
	tracking.ID = id
	tracking.CreatedAt = now
	tracking.UpdatedAt = now
	return nil
}

// GetTracking fetches the tracking record for a ticket.
func (r *SQLSlaRepository) GetTracking(ctx context.Context, tenantID string, ticketID int64) (*models.TicketSlaTracking, error) {
	var tracking models.TicketSlaTracking
	err := r.db.GetContext(ctx, &tracking, r.rebind(
		`SELECT `+trackingColumns+` FROM ticket_sla_tracking WHERE tenant_id = ? AND ticket_id = ?`),
		tenantID, ticketID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tracking for ticket %d: %w", ticketID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get tracking: %w", err)
	}
	return &tracking, nil
}

// UpdateTracking runs mutate inside a (tenant, ticket) keyed transaction with
// a row lock where the driver supports one.
func (r *SQLSlaRepository) UpdateTracking(ctx context.Context, tenantID string, ticketID int64, mutate func(*models.TicketSlaTracking) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update tracking: %w", err)
	}
	defer tx.Rollback()

	var tracking models.TicketSlaTracking
	err = tx.GetContext(ctx, &tracking, r.rebind(
		`SELECT `+trackingColumns+` FROM ticket_sla_tracking WHERE tenant_id = ? AND ticket_id = ?`+database.ForUpdate(r.driver)),
		tenantID, ticketID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("tracking for ticket %d: %w", ticketID, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("select tracking for update: %w", err)
	}

	if err := mutate(&tracking); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, r.rebind(`
		UPDATE ticket_sla_tracking SET
			assignee_id = ?, response_deadline = ?, resolution_deadline = ?,
			first_response_at = ?, resolved_at = ?, response_met = ?, resolution_met = ?,
			total_pause_minutes = ?, last_response_threshold = ?, last_resolution_threshold = ?,
			active = ?, updated_at = ?
		WHERE id = ?`),
		tracking.AssigneeID, tracking.ResponseDeadline, tracking.ResolutionDeadline,
		tracking.FirstResponseAt, tracking.ResolvedAt, tracking.ResponseMet, tracking.ResolutionMet,
		tracking.TotalPauseMinutes, tracking.LastResponseThreshold, tracking.LastResolutionThreshold,
		tracking.Active, time.Now().UTC(), tracking.ID)
	if err != nil {
		return wrapTxErr(err, "update tracking")
	}
	if err := tx.Commit(); err != nil {
		return wrapTxErr(err, "commit update tracking")
	}
	return nil
}

// ListActiveTracking batch-fetches all records of a tenant still needing
// threshold evaluation in one query.
func (r *SQLSlaRepository) ListActiveTracking(ctx context.Context, tenantID string) ([]models.TicketSlaTracking, error) {
	var list []models.TicketSlaTracking
	err := r.db.SelectContext(ctx, &list, r.rebind(`
		SELECT `+trackingColumns+` FROM ticket_sla_tracking t
		WHERE t.tenant_id = ? AND t.active = ?
		  AND (t.response_met IS NULL OR t.resolution_met IS NULL)
		  AND NOT EXISTS (
			SELECT 1 FROM sla_pause_history p
			WHERE p.tenant_id = t.tenant_id AND p.ticket_id = t.ticket_id AND p.resumed_at IS NULL)
		ORDER BY t.ticket_id`), tenantID, true)
	if err != nil {
		return nil, fmt.Errorf("list active tracking: %w", err)
	}
	return list, nil
}

// ListTenants enumerates tenants with active tracking records.
func (r *SQLSlaRepository) ListTenants(ctx context.Context) ([]string, error) {
	var tenants []string
	err := r.db.SelectContext(ctx, &tenants, r.rebind(`
		SELECT DISTINCT tenant_id FROM ticket_sla_tracking WHERE active = ? ORDER BY tenant_id`), true)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return tenants, nil
}

// AdvanceWatermark moves the per-type notification watermark forward only.
func (r *SQLSlaRepository) AdvanceWatermark(ctx context.Context, tenantID string, ticketID int64, slaType models.SlaType, percent int) error {
	column := "last_response_threshold"
	if slaType == models.SlaTypeResolution {
		column = "last_resolution_threshold"
	}
	_, err := r.db.ExecContext(ctx, r.rebind(`
		UPDATE ticket_sla_tracking SET `+column+` = ?, updated_at = ?
		WHERE tenant_id = ? AND ticket_id = ? AND `+column+` < ?`),
		percent, time.Now().UTC(), tenantID, ticketID, percent)
	if err != nil {
		return wrapTxErr(err, "advance watermark")
	}
	return nil
}

// OpenPause opens a pause interval unless one is already open.
func (r *SQLSlaRepository) OpenPause(ctx context.Context, tenantID string, ticketID int64, reason models.PauseReason, at time.Time) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin pause: %w", err)
	}
	defer tx.Rollback()

	// Lock the open row itself; postgres rejects FOR UPDATE on aggregates.
	var openID int64
	err = tx.GetContext(ctx, &openID, r.rebind(`
		SELECT id FROM sla_pause_history
		WHERE tenant_id = ? AND ticket_id = ? AND resumed_at IS NULL`+database.ForUpdate(r.driver)),
		tenantID, ticketID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("check open pause: %w", err)
	}

	_, err = r.insertID(ctx, tx, `
		INSERT INTO sla_pause_history (tenant_id, ticket_id, paused_at, resumed_at, pause_reason)
		VALUES (?, ?, ?, NULL, ?)`,
		tenantID, ticketID, at, reason)
	if err != nil {
		return false, fmt.Errorf("insert pause: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, wrapTxErr(err, "commit pause")
	}
	return true, nil
}

// ClosePause closes the open interval and adds its wall-clock duration to
// total_pause_minutes inside the same transaction, keeping the accumulator
// and the history in lockstep.
func (r *SQLSlaRepository) ClosePause(ctx context.Context, tenantID string, ticketID int64, at time.Time) (int, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin resume: %w", err)
	}
	defer tx.Rollback()

	var pause models.SlaPauseHistory
	err = tx.GetContext(ctx, &pause, r.rebind(`
		SELECT id, tenant_id, ticket_id, paused_at, resumed_at, pause_reason
		FROM sla_pause_history
		WHERE tenant_id = ? AND ticket_id = ? AND resumed_at IS NULL`+database.ForUpdate(r.driver)),
		tenantID, ticketID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("select open pause: %w", err)
	}

	minutes := int(at.Sub(pause.PausedAt).Minutes())
	if minutes < 0 {
		minutes = 0
	}

	_, err = tx.ExecContext(ctx, r.rebind(`
		UPDATE sla_pause_history SET resumed_at = ? WHERE id = ?`), at, pause.ID)
	if err != nil {
		return 0, false, wrapTxErr(err, "close pause")
	}
	_, err = tx.ExecContext(ctx, r.rebind(`
		UPDATE ticket_sla_tracking SET total_pause_minutes = total_pause_minutes + ?, updated_at = ?
		WHERE tenant_id = ? AND ticket_id = ?`),
		minutes, time.Now().UTC(), tenantID, ticketID)
	if err != nil {
		return 0, false, wrapTxErr(err, "increment pause accumulator")
	}
	if err := tx.Commit(); err != nil {
		return 0, false, wrapTxErr(err, "commit resume")
	}
	return minutes, true, nil
}

// GetOpenPause returns the currently open pause interval, if any.
func (r *SQLSlaRepository) GetOpenPause(ctx context.Context, tenantID string, ticketID int64) (*models.SlaPauseHistory, error) {
	var pause models.SlaPauseHistory
	err := r.db.GetContext(ctx, &pause, r.rebind(`
		SELECT id, tenant_id, ticket_id, paused_at, resumed_at, pause_reason
		FROM sla_pause_history WHERE tenant_id = ? AND ticket_id = ? AND resumed_at IS NULL`),
		tenantID, ticketID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("open pause for ticket %d: %w", ticketID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get open pause: %w", err)
	}
	return &pause, nil
}

// ListPauseHistory returns the full pause log for a ticket, oldest first.
func (r *SQLSlaRepository) ListPauseHistory(ctx context.Context, tenantID string, ticketID int64) ([]models.SlaPauseHistory, error) {
	var list []models.SlaPauseHistory
	err := r.db.SelectContext(ctx, &list, r.rebind(`
		SELECT id, tenant_id, ticket_id, paused_at, resumed_at, pause_reason
		FROM sla_pause_history WHERE tenant_id = ? AND ticket_id = ? ORDER BY paused_at, id`),
		tenantID, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list pause history: %w", err)
	}
	return list, nil
}

type settingsRow struct {
	TenantID              string `db:"tenant_id"`
	PauseOnAwaitingClient bool   `db:"pause_on_awaiting_client"`
	PausingStatuses       string `db:"pausing_statuses"`
	Backend               string `db:"backend"`
}

// SaveSettings stores tenant-level SLA settings.
func (r *SQLSlaRepository) SaveSettings(ctx context.Context, settings *models.SlaSettings) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save settings: %w", err)
	}
	defer tx.Rollback()

	statuses := strings.Join(settings.PausingStatuses, ",")
	res, err := tx.ExecContext(ctx, r.rebind(`
		UPDATE sla_settings SET pause_on_awaiting_client = ?, pausing_statuses = ?, backend = ?
		WHERE tenant_id = ?`),
		settings.PauseOnAwaitingClient, statuses, settings.Backend, settings.TenantID)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	if affected == 0 {
		_, err = tx.ExecContext(ctx, r.rebind(`
			INSERT INTO sla_settings (tenant_id, pause_on_awaiting_client, pausing_statuses, backend)
			VALUES (?, ?, ?, ?)`),
			settings.TenantID, settings.PauseOnAwaitingClient, statuses, settings.Backend)
		if err != nil {
			return fmt.Errorf("insert settings: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapTxErr(err, "commit save settings")
	}
	return nil
}

// GetSettings returns tenant settings, defaulting to the polling backend.
func (r *SQLSlaRepository) GetSettings(ctx context.Context, tenantID string) (*models.SlaSettings, error) {
	var row settingsRow
	err := r.db.GetContext(ctx, &row, r.rebind(`
		SELECT tenant_id, pause_on_awaiting_client, pausing_statuses, backend
		FROM sla_settings WHERE tenant_id = ?`), tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.SlaSettings{TenantID: tenantID, Backend: "polling"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	settings := &models.SlaSettings{
		TenantID:              row.TenantID,
		PauseOnAwaitingClient: row.PauseOnAwaitingClient,
		Backend:               row.Backend,
	}
	if row.PausingStatuses != "" {
		settings.PausingStatuses = strings.Split(row.PausingStatuses, ",")
	}
	return settings, nil
}

// RecordNotification appends a dispatch attempt to the audit log.
func (r *SQLSlaRepository) RecordNotification(ctx context.Context, audit *models.SlaNotificationAudit) error {
	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO sla_notification_audit
			(id, tenant_id, ticket_id, sla_type, threshold_percent, template_key,
			 recipient_id, channel, dispatched_at, success, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		audit.ID, audit.TenantID, audit.TicketID, audit.SlaType, audit.ThresholdPercent,
		audit.TemplateKey, audit.RecipientID, audit.Channel, audit.DispatchedAt,
		audit.Success, audit.Error)
	if err != nil {
		return fmt.Errorf("record notification: %w", err)
	}
	return nil
}

// ListNotifications returns the audit log for a ticket, oldest first.
func (r *SQLSlaRepository) ListNotifications(ctx context.Context, tenantID string, ticketID int64) ([]models.SlaNotificationAudit, error) {
	var list []models.SlaNotificationAudit
	err := r.db.SelectContext(ctx, &list, r.rebind(`
		SELECT id, tenant_id, ticket_id, sla_type, threshold_percent, template_key,
		       recipient_id, channel, dispatched_at, success, error
		FROM sla_notification_audit WHERE tenant_id = ? AND ticket_id = ?
		ORDER BY dispatched_at, id`), tenantID, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return list, nil
}
