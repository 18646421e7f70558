// Package backend provides the two execution models of the SLA engine behind
// one interface: an in-process polling backend driven by the scheduler, and an
// orchestrated backend that delegates deadline timers to an external workflow
// engine. Both write through the same persistence so read paths never care
// which one a tenant runs.
package backend

import (
	"context"
	"time"

	"github.com/servicedesk-io/sla-engine/internal/models"
	"github.com/servicedesk-io/sla-engine/internal/services/tracking"
)

// Backend names accepted in tenant settings and config.
const (
	BackendPolling      = "polling"
	BackendOrchestrated = "orchestrated"
)

// SlaBackend is the tenant-facing surface of the engine. Implementations are
// selected once per tenant at construction time and injected; call sites
// never type-switch.
type SlaBackend interface {
	StartTracking(ctx context.Context, params tracking.StartParams) (*models.TicketSlaTracking, error)
	Pause(ctx context.Context, tenantID string, ticketID int64, reason models.PauseReason) error
	Resume(ctx context.Context, tenantID string, ticketID int64) error
	CompleteResponse(ctx context.Context, tenantID string, ticketID int64, at time.Time) error
	CompleteResolution(ctx context.Context, tenantID string, ticketID int64, at time.Time) error
	Cancel(ctx context.Context, tenantID string, ticketID int64) error
	GetStatus(ctx context.Context, tenantID string, ticketID int64, now time.Time) (*models.SlaStatus, error)
}

// Selector returns the backend serving a tenant.
type Selector struct {
	polling      SlaBackend
	orchestrated SlaBackend
	// tenantBackend maps tenant id to a backend name; missing tenants use
	// defaultName.
	tenantBackend map[string]string
	defaultName   string
}

// NewSelector builds a per-tenant selector. orchestrated may be nil when no
// workflow engine is deployed; such tenants fall back to polling.
func NewSelector(polling, orchestrated SlaBackend, tenantBackend map[string]string, defaultName string) *Selector {
	if defaultName == "" {
		defaultName = BackendPolling
	}
	return &Selector{
		polling:       polling,
		orchestrated:  orchestrated,
		tenantBackend: tenantBackend,
		defaultName:   defaultName,
	}
}

// ForTenant resolves the backend configured for the tenant.
func (s *Selector) ForTenant(tenantID string) SlaBackend {
	name := s.defaultName
	if configured, ok := s.tenantBackend[tenantID]; ok && configured != "" {
		name = configured
	}
	if name == BackendOrchestrated && s.orchestrated != nil {
		return s.orchestrated
	}
	return s.polling
}
