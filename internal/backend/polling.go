package backend

import (
	"context"
	"time"

	"github.com/servicedesk-io/sla-engine/internal/models"
	"github.com/servicedesk-io/sla-engine/internal/services/pause"
	"github.com/servicedesk-io/sla-engine/internal/services/tracking"
)

// PollingBackend performs every operation synchronously in-process. Deadline
// evaluation is driven by the external scheduler tick, not by this type.
type PollingBackend struct {
	tracking *tracking.Service
	pauses   *pause.Service
}

// NewPollingBackend wires the polling backend over the core services.
func NewPollingBackend(trackingSvc *tracking.Service, pauseSvc *pause.Service) *PollingBackend {
	return &PollingBackend{tracking: trackingSvc, pauses: pauseSvc}
}

// StartTracking implements SlaBackend.
func (b *PollingBackend) StartTracking(ctx context.Context, params tracking.StartParams) (*models.TicketSlaTracking, error) {
	return b.tracking.StartTracking(ctx, params)
}

// Pause implements SlaBackend.
func (b *PollingBackend) Pause(ctx context.Context, tenantID string, ticketID int64, reason models.PauseReason) error {
	_, err := b.pauses.Pause(ctx, tenantID, ticketID, reason)
	return err
}

// Resume implements SlaBackend.
func (b *PollingBackend) Resume(ctx context.Context, tenantID string, ticketID int64) error {
	_, err := b.pauses.Resume(ctx, tenantID, ticketID)
	return err
}

// CompleteResponse implements SlaBackend.
func (b *PollingBackend) CompleteResponse(ctx context.Context, tenantID string, ticketID int64, at time.Time) error {
	return b.tracking.CompleteResponse(ctx, tenantID, ticketID, at)
}

// CompleteResolution implements SlaBackend.
func (b *PollingBackend) CompleteResolution(ctx context.Context, tenantID string, ticketID int64, at time.Time) error {
	return b.tracking.CompleteResolution(ctx, tenantID, ticketID, at)
}

// Cancel implements SlaBackend.
func (b *PollingBackend) Cancel(ctx context.Context, tenantID string, ticketID int64) error {
	return b.tracking.CancelTracking(ctx, tenantID, ticketID)
}

// GetStatus implements SlaBackend.
func (b *PollingBackend) GetStatus(ctx context.Context, tenantID string, ticketID int64, now time.Time) (*models.SlaStatus, error) {
	return b.tracking.GetStatus(ctx, tenantID, ticketID, now)
}
