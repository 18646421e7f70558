// Package threshold implements the periodic notification scan: elapsed-percent
// evaluation against policy thresholds, watermark-gated at-most-once dispatch
// and the audit trail behind it.
package threshold

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/servicedesk-io/sla-engine/internal/metrics"
	"github.com/servicedesk-io/sla-engine/internal/models"
	"github.com/servicedesk-io/sla-engine/internal/notifications"
	"github.com/servicedesk-io/sla-engine/internal/repository"
	"github.com/servicedesk-io/sla-engine/internal/services/businesshours"
	"github.com/servicedesk-io/sla-engine/internal/services/policy"
	"github.com/servicedesk-io/sla-engine/internal/services/tracking"
)

const defaultWorkers = 8

// Engine evaluates active tracking records against their policy thresholds.
// A partially completed scan is safe to re-run: the per-record watermark makes
// each threshold fire at most once.
type Engine struct {
	repo       repository.SlaRepository
	calculator *businesshours.Calculator
	resolver   *policy.Resolver
	dispatcher notifications.Dispatcher
	boards     BoardDirectory
	metrics    *metrics.Engine
	logger     *log.Logger
	workers    int
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithDispatcher sets the outbound notification dispatcher.
func WithDispatcher(d notifications.Dispatcher) Option {
	return func(e *Engine) { e.dispatcher = d }
}

// WithBoardDirectory sets the board manager lookup.
func WithBoardDirectory(b BoardDirectory) Option {
	return func(e *Engine) { e.boards = b }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Engine) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithWorkers bounds scan parallelism. Sized to what the dispatcher can
// absorb, not to the record count.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine wires the scan over its collaborators.
func NewEngine(repo repository.SlaRepository, calculator *businesshours.Calculator, resolver *policy.Resolver, opts ...Option) *Engine {
	e := &Engine{
		repo:       repo,
		calculator: calculator,
		resolver:   resolver,
		dispatcher: notifications.NewMemoryDispatcher(),
		boards:     NewMemoryBoardDirectory(),
		metrics:    metrics.NewNop(),
		logger:     log.Default(),
		workers:    defaultWorkers,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EvaluateTenant batch-fetches the tenant's active records and evaluates them
// with a bounded worker pool. Per-record errors are logged and do not abort
// the scan; only the batch fetch itself is fatal.
func (e *Engine) EvaluateTenant(ctx context.Context, tenantID string) error {
	started := time.Now()
	defer func() {
		e.metrics.ScanDuration.Observe(time.Since(started).Seconds())
	}()

	records, err := e.repo.ListActiveTracking(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list active tracking for %s: %w", tenantID, err)
	}
	if len(records) == 0 {
		return nil
	}

	jobs := make(chan *models.TicketSlaTracking)
	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for record := range jobs {
				if err := e.evaluateRecord(ctx, record); err != nil {
					e.logger.Printf("sla scan tenant=%s ticket=%d: %v", record.TenantID, record.TicketID, err)
				}
			}
		}()
	}
	for i := range records {
		jobs <- &records[i]
	}
	close(jobs)
	wg.Wait()
	return nil
}

// EvaluateTicket evaluates one ticket, used when an external durable timer
// fires for it.
func (e *Engine) EvaluateTicket(ctx context.Context, tenantID string, ticketID int64) error {
	record, err := e.repo.GetTracking(ctx, tenantID, ticketID)
	if err != nil {
		return err
	}
	if !record.Active {
		return nil
	}
	return e.evaluateRecord(ctx, record)
}

func (e *Engine) evaluateRecord(ctx context.Context, record *models.TicketSlaTracking) error {
	e.metrics.RecordsEvaluated.Inc()
	now := e.now().UTC()

	target, err := e.resolver.ResolveTarget(ctx, record.SlaPolicyID, record.PriorityID)
	if err != nil {
		return fmt.Errorf("resolve target: %w", err)
	}
	pol, err := e.repo.GetPolicy(ctx, record.TenantID, record.SlaPolicyID)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}
	schedule, err := e.scheduleFor(ctx, pol, target)
	if err != nil {
		return err
	}
	thresholds, err := e.repo.ListThresholds(ctx, record.SlaPolicyID)
	if err != nil {
		return fmt.Errorf("list thresholds: %w", err)
	}
	if len(thresholds) == 0 {
		return nil
	}

	for _, slaType := range []models.SlaType{models.SlaTypeResponse, models.SlaTypeResolution} {
		if record.Completed(slaType) || record.Deadline(slaType) == nil {
			continue
		}
		if err := e.evaluateType(ctx, record, target, schedule, thresholds, slaType, now); err != nil {
			return err
		}
	}
	return nil
}

// evaluateType picks the highest threshold at or below the elapsed percentage
// that is still above the watermark. Polling cadence never lands exactly on a
// boundary, so crossing several thresholds between ticks collapses into one
// notification at the highest boundary reached.
func (e *Engine) evaluateType(ctx context.Context, record *models.TicketSlaTracking, target *models.SlaPolicyTarget, schedule *models.BusinessHoursSchedule, thresholds []models.SlaNotificationThreshold, slaType models.SlaType, now time.Time) error {
	percent, err := tracking.ElapsedPercent(e.calculator, schedule, record, target, slaType, now)
	if err != nil {
		return fmt.Errorf("elapsed percent: %w", err)
	}

	var matched *models.SlaNotificationThreshold
	for i := range thresholds {
		th := &thresholds[i]
		if float64(th.ThresholdPercent) <= percent && th.ThresholdPercent > record.Watermark(slaType) {
			matched = th
		}
	}
	if matched == nil {
		return nil
	}

	// Advance first: once the watermark moves, a crash mid-dispatch cannot
	// produce a duplicate on the re-run.
	if err := e.repo.AdvanceWatermark(ctx, record.TenantID, record.TicketID, slaType, matched.ThresholdPercent); err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}
	if matched.Type == models.ThresholdTypeBreach {
		e.metrics.BreachesDetected.WithLabelValues(string(slaType)).Inc()
	}

	recipients := e.resolveRecipients(ctx, record, target, matched, percent)
	if len(recipients) == 0 {
		return nil
	}

	data := e.notificationData(record, schedule, slaType, matched.ThresholdPercent, now)
	channels := matched.Channels
	if len(channels) == 0 {
		channels = []string{models.ChannelInApp}
	}

	for _, recipient := range recipients {
		for _, channel := range channels {
			e.dispatch(ctx, record, slaType, matched, recipient, channel, data, now)
		}
	}
	return nil
}

func (e *Engine) dispatch(ctx context.Context, record *models.TicketSlaTracking, slaType models.SlaType, matched *models.SlaNotificationThreshold, recipient int64, channel string, data map[string]interface{}, now time.Time) {
	n := notifications.Notification{
		TenantID:    record.TenantID,
		RecipientID: recipient,
		Channel:     channel,
		TemplateKey: matched.TemplateKey(),
		Data:        data,
	}
	err := e.dispatcher.Dispatch(ctx, n)

	audit := &models.SlaNotificationAudit{
		ID:               uuid.NewString(),
		TenantID:         record.TenantID,
		TicketID:         record.TicketID,
		SlaType:          slaType,
		ThresholdPercent: matched.ThresholdPercent,
		TemplateKey:      n.TemplateKey,
		RecipientID:      recipient,
		Channel:          channel,
		DispatchedAt:     now,
		Success:          err == nil,
	}
	if err != nil {
		audit.Error = err.Error()
		e.metrics.DispatchFailures.WithLabelValues(channel).Inc()
		e.logger.Printf("sla dispatch failed tenant=%s ticket=%d template=%s channel=%s: %v", record.TenantID, record.TicketID, n.TemplateKey, channel, err)
	} else {
		e.metrics.NotificationsSent.WithLabelValues(n.TemplateKey).Inc()
	}
	if auditErr := e.repo.RecordNotification(ctx, audit); auditErr != nil {
		e.logger.Printf("sla audit write failed tenant=%s ticket=%d: %v", record.TenantID, record.TicketID, auditErr)
	}
}

// resolveRecipients collects the de-duplicated recipient set for a matched
// threshold. Missing optional recipients (no board manager, no escalation
// manager at the level) are skipped silently.
func (e *Engine) resolveRecipients(ctx context.Context, record *models.TicketSlaTracking, target *models.SlaPolicyTarget, matched *models.SlaNotificationThreshold, percent float64) []int64 {
	seen := make(map[int64]bool)
	var recipients []int64
	add := func(userID int64) {
		if userID != 0 && !seen[userID] {
			seen[userID] = true
			recipients = append(recipients, userID)
		}
	}

	if matched.NotifyAssignee && record.AssigneeID != nil {
		add(*record.AssigneeID)
	}
	if matched.NotifyBoardManager && e.boards != nil {
		userID, err := e.boards.BoardManager(ctx, record.TenantID, record.BoardID)
		if err == nil {
			add(userID)
		} else if !errors.Is(err, models.ErrNotFound) {
			e.logger.Printf("sla board manager lookup tenant=%s board=%d: %v", record.TenantID, record.BoardID, err)
		}
	}
	if matched.NotifyEscalationManager {
		if level := target.EscalationLevel(percent); level > 0 {
			mgr, err := e.repo.GetEscalationManager(ctx, record.TenantID, record.BoardID, level)
			if err == nil {
				add(mgr.UserID)
			} else if !errors.Is(err, models.ErrNotFound) {
				e.logger.Printf("sla escalation manager lookup tenant=%s board=%d level=%d: %v", record.TenantID, record.BoardID, level, err)
			}
		}
	}
	return recipients
}

func (e *Engine) notificationData(record *models.TicketSlaTracking, schedule *models.BusinessHoursSchedule, slaType models.SlaType, thresholdPercent int, now time.Time) map[string]interface{} {
	data := map[string]interface{}{
		"ticket_id":         record.TicketID,
		"sla_type":          string(slaType),
		"threshold_percent": thresholdPercent,
	}
	if deadline := record.EffectiveDeadline(slaType); deadline != nil {
		data["due_at"] = deadline.Format(time.RFC3339)
		if remaining, err := e.calculator.RemainingMinutes(schedule, now, *deadline); err == nil {
			data["remaining_minutes"] = remaining
		}
	}
	return data
}

func (e *Engine) scheduleFor(ctx context.Context, pol *models.SlaPolicy, target *models.SlaPolicyTarget) (*models.BusinessHoursSchedule, error) {
	if target.Is24x7 {
		return &models.BusinessHoursSchedule{Is24x7: true}, nil
	}
	if pol.BusinessHoursScheduleID == nil {
		return nil, fmt.Errorf("policy %d has no schedule: %w", pol.ID, models.ErrConfiguration)
	}
	return e.repo.GetSchedule(ctx, *pol.BusinessHoursScheduleID)
}
