package models

import (
	"time"
)

// SlaType identifies which deadline of a tracking record an operation refers to.
type SlaType string

const (
	SlaTypeResponse   SlaType = "response"
	SlaTypeResolution SlaType = "resolution"
)

// PauseReason records what triggered the currently open pause interval.
type PauseReason string

const (
	PauseReasonAwaitingClient PauseReason = "awaiting_client"
	PauseReasonStatusPause    PauseReason = "status_pause"
)

// ThresholdType classifies a notification threshold.
type ThresholdType string

const (
	ThresholdTypeWarning ThresholdType = "warning"
	ThresholdTypeBreach  ThresholdType = "breach"
)

// Notification channels supported by the dispatcher contract.
const (
	ChannelInApp = "in_app"
	ChannelEmail = "email"
)

// Template keys for the outbound dispatcher contract.
const (
	TemplateSlaWarning       = "sla-warning"
	TemplateSlaBreach        = "sla-breach"
	TemplateSlaResponseMet   = "sla-response-met"
	TemplateSlaResolutionMet = "sla-resolution-met"
)

// SlaPolicy is a tenant-scoped named policy. Priority-based targets hang off it.
type SlaPolicy struct {
	ID                      int64     `json:"id" db:"id"`
	TenantID                string    `json:"tenant_id" db:"tenant_id"`
	Name                    string    `json:"name" db:"name"`
	Description             string    `json:"description" db:"description"`
	IsDefault               bool      `json:"is_default" db:"is_default"`
	BusinessHoursScheduleID *int64    `json:"business_hours_schedule_id,omitempty" db:"business_hours_schedule_id"`
	CreatedAt               time.Time `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time `json:"updated_at" db:"updated_at"`
}

// SlaPolicyTarget maps a ticket priority to response/resolution targets.
// A nil minutes value means that SLA type is not tracked for the priority.
type SlaPolicyTarget struct {
	ID                    int64 `json:"id" db:"id"`
	PolicyID              int64 `json:"policy_id" db:"policy_id"`
	PriorityID            int64 `json:"priority_id" db:"priority_id"`
	ResponseTimeMinutes   *int  `json:"response_time_minutes,omitempty" db:"response_time_minutes"`
	ResolutionTimeMinutes *int  `json:"resolution_time_minutes,omitempty" db:"resolution_time_minutes"`
	Escalation1Percent    *int  `json:"escalation_1_percent,omitempty" db:"escalation_1_percent"`
	Escalation2Percent    *int  `json:"escalation_2_percent,omitempty" db:"escalation_2_percent"`
	Escalation3Percent    *int  `json:"escalation_3_percent,omitempty" db:"escalation_3_percent"`
	Is24x7                bool  `json:"is_24x7" db:"is_24x7"`
}

// EscalationLevel returns the highest escalation level (1-3) whose configured
// percentage has been reached by elapsedPercent, or 0 if none has.
func (t *SlaPolicyTarget) EscalationLevel(elapsedPercent float64) int {
	level := 0
	for i, p := range []*int{t.Escalation1Percent, t.Escalation2Percent, t.Escalation3Percent} {
		if p != nil && elapsedPercent >= float64(*p) {
			level = i + 1
		}
	}
	return level
}

// BusinessHoursSchedule defines a weekly availability window with holiday
// exceptions, anchored to a timezone. Is24x7 short-circuits everything to
// plain wall-clock time.
type BusinessHoursSchedule struct {
	ID        int64                `json:"id" db:"id"`
	TenantID  string               `json:"tenant_id" db:"tenant_id"`
	Name      string               `json:"name" db:"name"`
	Timezone  string               `json:"timezone" db:"timezone"`
	Is24x7    bool                 `json:"is_24x7" db:"is_24x7"`
	Entries   []BusinessHoursEntry `json:"entries,omitempty" db:"-"`
	Holidays  []Holiday            `json:"holidays,omitempty" db:"-"`
	UpdatedAt time.Time            `json:"updated_at" db:"updated_at"`
}

// BusinessHoursEntry is the enabled window for one day of the week.
// StartTime/EndTime are "HH:MM" in the schedule's timezone.
type BusinessHoursEntry struct {
	ID         int64        `json:"id" db:"id"`
	ScheduleID int64        `json:"schedule_id" db:"schedule_id"`
	DayOfWeek  time.Weekday `json:"day_of_week" db:"day_of_week"`
	StartTime  string       `json:"start_time" db:"start_time"`
	EndTime    string       `json:"end_time" db:"end_time"`
	IsEnabled  bool         `json:"is_enabled" db:"is_enabled"`
}

// Holiday removes a day's contribution entirely. ScheduleID nil means the
// holiday applies globally to every schedule of the tenant.
type Holiday struct {
	ID          int64     `json:"id" db:"id"`
	ScheduleID  *int64    `json:"schedule_id,omitempty" db:"schedule_id"`
	TenantID    string    `json:"tenant_id" db:"tenant_id"`
	Name        string    `json:"name" db:"name"`
	Date        time.Time `json:"date" db:"date"`
	IsRecurring bool      `json:"is_recurring" db:"is_recurring"`
}

// TicketSlaTracking is one row per ticket per active SLA attachment.
// Board, assignee and priority are snapshotted at start so the threshold scan
// can resolve recipients without calling back into the ticket service.
type TicketSlaTracking struct {
	ID                 int64      `json:"id" db:"id"`
	TenantID           string     `json:"tenant_id" db:"tenant_id"`
	TicketID           int64      `json:"ticket_id" db:"ticket_id"`
	SlaPolicyID        int64      `json:"sla_policy_id" db:"sla_policy_id"`
	PriorityID         int64      `json:"priority_id" db:"priority_id"`
	BoardID            int64      `json:"board_id" db:"board_id"`
	AssigneeID         *int64     `json:"assignee_id,omitempty" db:"assignee_id"`
	StartedAt          time.Time  `json:"started_at" db:"started_at"`
	ResponseDeadline   *time.Time `json:"response_deadline,omitempty" db:"response_deadline"`
	ResolutionDeadline *time.Time `json:"resolution_deadline,omitempty" db:"resolution_deadline"`
	FirstResponseAt    *time.Time `json:"first_response_at,omitempty" db:"first_response_at"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	ResponseMet        *bool      `json:"response_met,omitempty" db:"response_met"`
	ResolutionMet      *bool      `json:"resolution_met,omitempty" db:"resolution_met"`
	TotalPauseMinutes  int        `json:"total_pause_minutes" db:"total_pause_minutes"`
	// Highest threshold percent already notified, per SLA type. Zero means
	// nothing notified yet.
	LastResponseThreshold   int       `json:"last_response_threshold" db:"last_response_threshold"`
	LastResolutionThreshold int       `json:"last_resolution_threshold" db:"last_resolution_threshold"`
	Active                  bool      `json:"active" db:"active"`
	CreatedAt               time.Time `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time `json:"updated_at" db:"updated_at"`
}

// Deadline returns the stored deadline for the given type, or nil if the
// type is untracked for this ticket.
func (t *TicketSlaTracking) Deadline(slaType SlaType) *time.Time {
	if slaType == SlaTypeResolution {
		return t.ResolutionDeadline
	}
	return t.ResponseDeadline
}

// EffectiveDeadline returns the stored deadline pushed forward by the
// accumulated pause minutes, or nil if the type is untracked.
func (t *TicketSlaTracking) EffectiveDeadline(slaType SlaType) *time.Time {
	base := t.Deadline(slaType)
	if base == nil {
		return nil
	}
	d := base.Add(time.Duration(t.TotalPauseMinutes) * time.Minute)
	return &d
}

// Watermark returns the last notified threshold percent for the given type.
func (t *TicketSlaTracking) Watermark(slaType SlaType) int {
	if slaType == SlaTypeResolution {
		return t.LastResolutionThreshold
	}
	return t.LastResponseThreshold
}

// Completed reports whether the given SLA type has already reached its
// terminal met/breached state.
func (t *TicketSlaTracking) Completed(slaType SlaType) bool {
	if slaType == SlaTypeResolution {
		return t.ResolutionMet != nil
	}
	return t.ResponseMet != nil
}

// SlaPauseHistory is the append-only pause log. A ticket is currently paused
// iff exactly one row for it has ResumedAt == nil.
type SlaPauseHistory struct {
	ID          int64       `json:"id" db:"id"`
	TenantID    string      `json:"tenant_id" db:"tenant_id"`
	TicketID    int64       `json:"ticket_id" db:"ticket_id"`
	PausedAt    time.Time   `json:"paused_at" db:"paused_at"`
	ResumedAt   *time.Time  `json:"resumed_at,omitempty" db:"resumed_at"`
	PauseReason PauseReason `json:"pause_reason" db:"pause_reason"`
}

// SlaNotificationThreshold is a watermark threshold attached to a policy.
// For a given elapsed percentage the matching threshold is the one with the
// largest ThresholdPercent that does not exceed it.
type SlaNotificationThreshold struct {
	ID                      int64         `json:"id" db:"id"`
	PolicyID                int64         `json:"policy_id" db:"policy_id"`
	ThresholdPercent        int           `json:"threshold_percent" db:"threshold_percent"`
	Type                    ThresholdType `json:"type" db:"type"`
	NotifyAssignee          bool          `json:"notify_assignee" db:"notify_assignee"`
	NotifyBoardManager      bool          `json:"notify_board_manager" db:"notify_board_manager"`
	NotifyEscalationManager bool          `json:"notify_escalation_manager" db:"notify_escalation_manager"`
	Channels                []string      `json:"channels" db:"-"`
}

// TemplateKey maps the threshold type to the dispatcher template contract.
func (t *SlaNotificationThreshold) TemplateKey() string {
	if t.Type == ThresholdTypeBreach {
		return TemplateSlaBreach
	}
	return TemplateSlaWarning
}

// EscalationManager designates the user notified when a board's ticket
// crosses the given escalation level.
type EscalationManager struct {
	ID             int64    `json:"id" db:"id"`
	TenantID       string   `json:"tenant_id" db:"tenant_id"`
	BoardID        int64    `json:"board_id" db:"board_id"`
	Level          int      `json:"level" db:"level"`
	UserID         int64    `json:"user_id" db:"user_id"`
	NotifyChannels []string `json:"notify_channels" db:"-"`
}

// SlaNotificationAudit records every dispatch attempt, successful or not.
// Together with the per-record watermark it makes scans idempotent and
// re-runnable after partial failure.
type SlaNotificationAudit struct {
	ID               string    `json:"id" db:"id"`
	TenantID         string    `json:"tenant_id" db:"tenant_id"`
	TicketID         int64     `json:"ticket_id" db:"ticket_id"`
	SlaType          SlaType   `json:"sla_type" db:"sla_type"`
	ThresholdPercent int       `json:"threshold_percent" db:"threshold_percent"`
	TemplateKey      string    `json:"template_key" db:"template_key"`
	RecipientID      int64     `json:"recipient_id" db:"recipient_id"`
	Channel          string    `json:"channel" db:"channel"`
	DispatchedAt     time.Time `json:"dispatched_at" db:"dispatched_at"`
	Success          bool      `json:"success" db:"success"`
	Error            string    `json:"error,omitempty" db:"error"`
}

// SlaSettings are tenant-level switches consumed by the event ingress.
type SlaSettings struct {
	TenantID              string `json:"tenant_id" db:"tenant_id"`
	PauseOnAwaitingClient bool   `json:"pause_on_awaiting_client" db:"pause_on_awaiting_client"`
	// Statuses whose per-status pauses_sla flag is set.
	PausingStatuses []string `json:"pausing_statuses" db:"-"`
	// Backend selects the execution model for the tenant: "polling" or
	// "orchestrated".
	Backend string `json:"backend" db:"backend"`
}

// PausesOnStatus reports whether entering the given ticket status should open
// a pause interval for this tenant, and with which reason.
func (s *SlaSettings) PausesOnStatus(status string) (bool, PauseReason) {
	if s.PauseOnAwaitingClient && status == "awaiting_client" {
		return true, PauseReasonAwaitingClient
	}
	for _, st := range s.PausingStatuses {
		if st == status {
			return true, PauseReasonStatusPause
		}
	}
	return false, ""
}
