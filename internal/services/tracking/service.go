// Package tracking owns the per-ticket SLA lifecycle: deadline computation at
// attach time, response/resolution completion, cancellation and the derived
// status projection.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/servicedesk-io/sla-engine/internal/metrics"
	"github.com/servicedesk-io/sla-engine/internal/models"
	"github.com/servicedesk-io/sla-engine/internal/notifications"
	"github.com/servicedesk-io/sla-engine/internal/repository"
	"github.com/servicedesk-io/sla-engine/internal/services/businesshours"
	"github.com/servicedesk-io/sla-engine/internal/services/policy"
)

// Service is the SLA tracking state machine.
type Service struct {
	repo       repository.SlaRepository
	calculator *businesshours.Calculator
	resolver   *policy.Resolver
	dispatcher notifications.Dispatcher
	metrics    *metrics.Engine
	logger     *log.Logger
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithDispatcher sets the outbound notification dispatcher.
func WithDispatcher(d notifications.Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Engine) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService wires the state machine over its collaborators.
func NewService(repo repository.SlaRepository, calculator *businesshours.Calculator, resolver *policy.Resolver, opts ...Option) *Service {
	s := &Service{
		repo:       repo,
		calculator: calculator,
		resolver:   resolver,
		dispatcher: notifications.NewMemoryDispatcher(),
		metrics:    metrics.NewNop(),
		logger:     log.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartParams describes the ticket being attached to a policy. Board,
// assignee and priority are snapshotted onto the tracking record.
type StartParams struct {
	TenantID   string
	TicketID   int64
	PolicyID   int64 // zero selects the tenant's default policy
	PriorityID int64
	BoardID    int64
	AssigneeID *int64
}

// StartTracking resolves targets for the ticket's priority, computes both
// deadlines and persists a fresh tracking record. A missing target (or a
// target with neither time set) means the ticket is not tracked; the returned
// record is nil without error. A non-24x7 target whose policy has no schedule
// is a configuration error surfaced synchronously.
func (s *Service) StartTracking(ctx context.Context, params StartParams) (*models.TicketSlaTracking, error) {
	pol, err := s.resolver.ResolvePolicy(ctx, params.TenantID, params.PolicyID)
	if err != nil {
		return nil, fmt.Errorf("resolve policy: %w", err)
	}

	target, err := s.resolver.ResolveTarget(ctx, pol.ID, params.PriorityID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve target: %w", err)
	}
	if target.ResponseTimeMinutes == nil && target.ResolutionTimeMinutes == nil {
		return nil, nil
	}

	schedule, err := s.scheduleFor(ctx, pol, target)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	tracking := &models.TicketSlaTracking{
		TenantID:    params.TenantID,
		TicketID:    params.TicketID,
		SlaPolicyID: pol.ID,
		PriorityID:  params.PriorityID,
		BoardID:     params.BoardID,
		AssigneeID:  params.AssigneeID,
		StartedAt:   now,
		Active:      true,
	}

	if target.ResponseTimeMinutes != nil {
		deadline, err := s.calculator.AddMinutes(schedule, now, *target.ResponseTimeMinutes)
		if err != nil {
			return nil, fmt.Errorf("compute response deadline: %w", err)
		}
		tracking.ResponseDeadline = &deadline
	}
	if target.ResolutionTimeMinutes != nil {
		deadline, err := s.calculator.AddMinutes(schedule, now, *target.ResolutionTimeMinutes)
		if err != nil {
			return nil, fmt.Errorf("compute resolution deadline: %w", err)
		}
		tracking.ResolutionDeadline = &deadline
	}

	if err := s.repo.CreateTracking(ctx, tracking); err != nil {
		return nil, fmt.Errorf("persist tracking: %w", err)
	}
	s.metrics.TrackingStarted.Inc()
	s.logger.Printf("sla tracking started tenant=%s ticket=%d policy=%d", params.TenantID, params.TicketID, pol.ID)
	return tracking, nil
}

// CompleteResponse records the first response. Idempotent: once response_met
// is set it never changes, breached or not.
func (s *Service) CompleteResponse(ctx context.Context, tenantID string, ticketID int64, at time.Time) error {
	return s.complete(ctx, tenantID, ticketID, models.SlaTypeResponse, at)
}

// CompleteResolution records the resolution. Idempotent like CompleteResponse.
func (s *Service) CompleteResolution(ctx context.Context, tenantID string, ticketID int64, at time.Time) error {
	return s.complete(ctx, tenantID, ticketID, models.SlaTypeResolution, at)
}

func (s *Service) complete(ctx context.Context, tenantID string, ticketID int64, slaType models.SlaType, at time.Time) error {
	at = at.UTC()
	var met *bool
	var assignee *int64

	err := s.repo.UpdateTracking(ctx, tenantID, ticketID, func(t *models.TicketSlaTracking) error {
		met = nil
		if t.Completed(slaType) {
			return nil
		}
		deadline := t.EffectiveDeadline(slaType)
		if deadline == nil {
			return nil
		}
		result := !at.After(*deadline)
		met = &result
		assignee = t.AssigneeID
		if slaType == models.SlaTypeResolution {
			t.ResolvedAt = &at
			t.ResolutionMet = met
		} else {
			t.FirstResponseAt = &at
			t.ResponseMet = met
		}
		return nil
	})
	if err != nil {
		return err
	}
	if met == nil {
		return nil
	}

	if !*met {
		s.metrics.BreachesDetected.WithLabelValues(string(slaType)).Inc()
	}
	s.notifyCompletion(ctx, tenantID, ticketID, slaType, *met, assignee)
	return nil
}

// notifyCompletion sends the one-time met/breach notification. Fire and
// forget: dispatch failures are logged, never retried here.
func (s *Service) notifyCompletion(ctx context.Context, tenantID string, ticketID int64, slaType models.SlaType, met bool, assignee *int64) {
	if assignee == nil {
		return
	}
	templateKey := models.TemplateSlaBreach
	if met {
		templateKey = models.TemplateSlaResponseMet
		if slaType == models.SlaTypeResolution {
			templateKey = models.TemplateSlaResolutionMet
		}
	}
	n := notifications.Notification{
		TenantID:    tenantID,
		RecipientID: *assignee,
		Channel:     models.ChannelInApp,
		TemplateKey: templateKey,
		Data: map[string]interface{}{
			"ticket_id": ticketID,
			"sla_type":  string(slaType),
			"met":       met,
		},
	}
	if err := s.dispatcher.Dispatch(ctx, n); err != nil {
		s.metrics.DispatchFailures.WithLabelValues(n.Channel).Inc()
		s.logger.Printf("sla completion dispatch failed tenant=%s ticket=%d template=%s: %v", tenantID, ticketID, templateKey, err)
		return
	}
	s.metrics.NotificationsSent.WithLabelValues(templateKey).Inc()
}

// CancelTracking retires the record; subsequent scans skip it.
func (s *Service) CancelTracking(ctx context.Context, tenantID string, ticketID int64) error {
	err := s.repo.UpdateTracking(ctx, tenantID, ticketID, func(t *models.TicketSlaTracking) error {
		t.Active = false
		return nil
	})
	if err != nil {
		return err
	}
	s.metrics.TrackingCancelled.Inc()
	return nil
}

// Tracking returns the raw tracking record.
func (s *Service) Tracking(ctx context.Context, tenantID string, ticketID int64) (*models.TicketSlaTracking, error) {
	return s.repo.GetTracking(ctx, tenantID, ticketID)
}

// GetStatus projects the current SLA status from the tracking record, the
// pause history and "now". Nothing is persisted.
func (s *Service) GetStatus(ctx context.Context, tenantID string, ticketID int64, now time.Time) (*models.SlaStatus, error) {
	now = now.UTC()
	t, err := s.repo.GetTracking(ctx, tenantID, ticketID)
	if err != nil {
		return nil, err
	}

	status := &models.SlaStatus{
		Status:            models.SlaStateOnTrack,
		TotalPauseMinutes: t.TotalPauseMinutes,
	}

	pauseExtension := 0
	open, err := s.repo.GetOpenPause(ctx, tenantID, ticketID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	if open != nil {
		status.IsPaused = true
		status.PauseReason = open.PauseReason
		pauseExtension = int(now.Sub(open.PausedAt).Minutes())
		if pauseExtension < 0 {
			pauseExtension = 0
		}
	}

	target, err := s.resolver.ResolveTarget(ctx, t.SlaPolicyID, t.PriorityID)
	if errors.Is(err, models.ErrNotFound) {
		// The target was removed after tracking started. Classify from the
		// recorded flags only; remaining minutes cannot be computed.
		switch {
		case status.IsPaused:
			status.Status = models.SlaStatePaused
		case breached(t, models.SlaTypeResolution, nil):
			status.Status = models.SlaStateResolutionBreached
		case breached(t, models.SlaTypeResponse, nil):
			status.Status = models.SlaStateResponseBreached
		}
		return status, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve target for status: %w", err)
	}
	pol, err := s.repo.GetPolicy(ctx, tenantID, t.SlaPolicyID)
	if err != nil {
		return nil, err
	}
	schedule, err := s.scheduleFor(ctx, pol, target)
	if err != nil {
		return nil, err
	}

	extend := time.Duration(pauseExtension) * time.Minute
	if t.ResponseDeadline != nil {
		effective := t.EffectiveDeadline(models.SlaTypeResponse).Add(extend)
		remaining, err := s.calculator.RemainingMinutes(schedule, now, effective)
		if err != nil {
			return nil, err
		}
		status.ResponseRemainingMinutes = &remaining
	}
	if t.ResolutionDeadline != nil {
		effective := t.EffectiveDeadline(models.SlaTypeResolution).Add(extend)
		remaining, err := s.calculator.RemainingMinutes(schedule, now, effective)
		if err != nil {
			return nil, err
		}
		status.ResolutionRemainingMinutes = &remaining
	}

	switch {
	case status.IsPaused:
		status.Status = models.SlaStatePaused
	case breached(t, models.SlaTypeResolution, status.ResolutionRemainingMinutes):
		status.Status = models.SlaStateResolutionBreached
	case breached(t, models.SlaTypeResponse, status.ResponseRemainingMinutes):
		status.Status = models.SlaStateResponseBreached
	case s.atRisk(ctx, t, target, schedule, now):
		status.Status = models.SlaStateAtRisk
	}
	return status, nil
}

// breached reports breach for a type: either recorded as missed, or still
// open with negative remaining time.
func breached(t *models.TicketSlaTracking, slaType models.SlaType, remaining *int) bool {
	if slaType == models.SlaTypeResolution && t.ResolutionMet != nil {
		return !*t.ResolutionMet
	}
	if slaType == models.SlaTypeResponse && t.ResponseMet != nil {
		return !*t.ResponseMet
	}
	return remaining != nil && *remaining < 0
}

// atRisk reports whether any open SLA type has crossed the policy's lowest
// warning threshold.
func (s *Service) atRisk(ctx context.Context, t *models.TicketSlaTracking, target *models.SlaPolicyTarget, schedule *models.BusinessHoursSchedule, now time.Time) bool {
	thresholds, err := s.repo.ListThresholds(ctx, t.SlaPolicyID)
	if err != nil || len(thresholds) == 0 {
		return false
	}
	warn := -1
	for _, th := range thresholds {
		if th.Type == models.ThresholdTypeWarning {
			warn = th.ThresholdPercent
			break
		}
	}
	if warn < 0 {
		return false
	}

	for _, slaType := range []models.SlaType{models.SlaTypeResponse, models.SlaTypeResolution} {
		if t.Completed(slaType) || t.Deadline(slaType) == nil {
			continue
		}
		percent, err := ElapsedPercent(s.calculator, schedule, t, target, slaType, now)
		if err != nil {
			continue
		}
		if percent >= float64(warn) {
			return true
		}
	}
	return false
}

// scheduleFor returns the schedule the target measures time against: a
// synthetic 24x7 schedule when the target overrides the policy, otherwise the
// policy's configured schedule, which must exist.
func (s *Service) scheduleFor(ctx context.Context, pol *models.SlaPolicy, target *models.SlaPolicyTarget) (*models.BusinessHoursSchedule, error) {
	if target.Is24x7 {
		return &models.BusinessHoursSchedule{Is24x7: true}, nil
	}
	if pol.BusinessHoursScheduleID == nil {
		return nil, fmt.Errorf("policy %d has no schedule and target is not 24x7: %w", pol.ID, models.ErrConfiguration)
	}
	schedule, err := s.repo.GetSchedule(ctx, *pol.BusinessHoursScheduleID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("policy %d schedule %d missing: %w", pol.ID, *pol.BusinessHoursScheduleID, models.ErrConfiguration)
		}
		return nil, err
	}
	return schedule, nil
}

// ElapsedPercent computes how much of the (pause-extended) target has been
// consumed for one SLA type. Business-hours targets measure elapsed time with
// the calculator; 24x7 targets use raw wall-clock.
func ElapsedPercent(calc *businesshours.Calculator, schedule *models.BusinessHoursSchedule, t *models.TicketSlaTracking, target *models.SlaPolicyTarget, slaType models.SlaType, now time.Time) (float64, error) {
	var targetMinutes *int
	if slaType == models.SlaTypeResolution {
		targetMinutes = target.ResolutionTimeMinutes
	} else {
		targetMinutes = target.ResponseTimeMinutes
	}
	if targetMinutes == nil || *targetMinutes <= 0 {
		return 0, nil
	}

	elapsed, err := calc.ElapsedMinutes(schedule, t.StartedAt, now)
	if err != nil {
		return 0, err
	}
	denominator := float64(*targetMinutes + t.TotalPauseMinutes)
	return 100 * float64(elapsed) / denominator, nil
}
