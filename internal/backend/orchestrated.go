package backend

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/servicedesk-io/sla-engine/internal/models"
	"github.com/servicedesk-io/sla-engine/internal/services/pause"
	"github.com/servicedesk-io/sla-engine/internal/services/threshold"
	"github.com/servicedesk-io/sla-engine/internal/services/tracking"
)

// OrchestratedBackend writes through the same persistence as the polling
// backend and additionally keeps an external workflow engine's durable timers
// in sync with the effective deadlines. Evaluation happens when the engine
// calls back via HandleTimerFired instead of on a scheduler tick.
type OrchestratedBackend struct {
	tracking  *tracking.Service
	pauses    *pause.Service
	evaluator *threshold.Engine
	workflow  WorkflowClient
	logger    *log.Logger
}

// NewOrchestratedBackend wires the orchestrated backend.
func NewOrchestratedBackend(trackingSvc *tracking.Service, pauseSvc *pause.Service, evaluator *threshold.Engine, workflow WorkflowClient, logger *log.Logger) *OrchestratedBackend {
	if logger == nil {
		logger = log.Default()
	}
	return &OrchestratedBackend{
		tracking:  trackingSvc,
		pauses:    pauseSvc,
		evaluator: evaluator,
		workflow:  workflow,
		logger:    logger,
	}
}

// StartTracking persists the record then arms one timer per tracked deadline.
// Persistence errors abort; timer publish errors are returned after the state
// is already durable, so retries are safe.
func (b *OrchestratedBackend) StartTracking(ctx context.Context, params tracking.StartParams) (*models.TicketSlaTracking, error) {
	record, err := b.tracking.StartTracking(ctx, params)
	if err != nil || record == nil {
		return record, err
	}
	if err := b.scheduleTimers(ctx, record); err != nil {
		return record, err
	}
	return record, nil
}

// Pause opens the pause interval and disarms the ticket's timers; they are
// re-armed with pause-extended deadlines on Resume.
func (b *OrchestratedBackend) Pause(ctx context.Context, tenantID string, ticketID int64, reason models.PauseReason) error {
	opened, err := b.pauses.Pause(ctx, tenantID, ticketID, reason)
	if err != nil || !opened {
		return err
	}
	return b.cancelTimers(ctx, tenantID, ticketID)
}

// Resume closes the pause interval and re-arms timers at the new effective
// deadlines.
func (b *OrchestratedBackend) Resume(ctx context.Context, tenantID string, ticketID int64) error {
	resumed, err := b.pauses.Resume(ctx, tenantID, ticketID)
	if err != nil || !resumed {
		return err
	}
	record, err := b.tracking.Tracking(ctx, tenantID, ticketID)
	if err != nil {
		return err
	}
	return b.scheduleTimers(ctx, record)
}

// CompleteResponse records the response and disarms its timer.
func (b *OrchestratedBackend) CompleteResponse(ctx context.Context, tenantID string, ticketID int64, at time.Time) error {
	if err := b.tracking.CompleteResponse(ctx, tenantID, ticketID, at); err != nil {
		return err
	}
	return b.publishCancel(ctx, tenantID, ticketID, models.SlaTypeResponse)
}

// CompleteResolution records the resolution and disarms its timer.
func (b *OrchestratedBackend) CompleteResolution(ctx context.Context, tenantID string, ticketID int64, at time.Time) error {
	if err := b.tracking.CompleteResolution(ctx, tenantID, ticketID, at); err != nil {
		return err
	}
	return b.publishCancel(ctx, tenantID, ticketID, models.SlaTypeResolution)
}

// Cancel retires the record and disarms everything.
func (b *OrchestratedBackend) Cancel(ctx context.Context, tenantID string, ticketID int64) error {
	if err := b.tracking.CancelTracking(ctx, tenantID, ticketID); err != nil {
		return err
	}
	return b.cancelTimers(ctx, tenantID, ticketID)
}

// GetStatus implements SlaBackend; reads are identical across backends.
func (b *OrchestratedBackend) GetStatus(ctx context.Context, tenantID string, ticketID int64, now time.Time) (*models.SlaStatus, error) {
	return b.tracking.GetStatus(ctx, tenantID, ticketID, now)
}

// HandleTimerFired is the workflow engine's callback: evaluate the single
// ticket the timer belonged to.
func (b *OrchestratedBackend) HandleTimerFired(ctx context.Context, tenantID string, ticketID int64) error {
	return b.evaluator.EvaluateTicket(ctx, tenantID, ticketID)
}

func (b *OrchestratedBackend) scheduleTimers(ctx context.Context, record *models.TicketSlaTracking) error {
	for _, slaType := range []models.SlaType{models.SlaTypeResponse, models.SlaTypeResolution} {
		if record.Completed(slaType) {
			continue
		}
		deadline := record.EffectiveDeadline(slaType)
		if deadline == nil {
			continue
		}
		cmd := TimerCommand{
			Action:   TimerActionSchedule,
			TenantID: record.TenantID,
			TicketID: record.TicketID,
			SlaType:  slaType,
			FireAt:   deadline,
		}
		if err := b.workflow.Publish(ctx, cmd); err != nil {
			return fmt.Errorf("schedule %s timer for ticket %d: %w", slaType, record.TicketID, err)
		}
	}
	return nil
}

func (b *OrchestratedBackend) cancelTimers(ctx context.Context, tenantID string, ticketID int64) error {
	for _, slaType := range []models.SlaType{models.SlaTypeResponse, models.SlaTypeResolution} {
		if err := b.publishCancel(ctx, tenantID, ticketID, slaType); err != nil {
			return err
		}
	}
	return nil
}

func (b *OrchestratedBackend) publishCancel(ctx context.Context, tenantID string, ticketID int64, slaType models.SlaType) error {
	cmd := TimerCommand{
		Action:   TimerActionCancel,
		TenantID: tenantID,
		TicketID: ticketID,
		SlaType:  slaType,
	}
	if err := b.workflow.Publish(ctx, cmd); err != nil {
		return fmt.Errorf("cancel %s timer for ticket %d: %w", slaType, ticketID, err)
	}
	return nil
}
