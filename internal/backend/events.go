package backend

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/servicedesk-io/sla-engine/internal/metrics"
	"github.com/servicedesk-io/sla-engine/internal/models"
	"github.com/servicedesk-io/sla-engine/internal/repository"
	"github.com/servicedesk-io/sla-engine/internal/services/tracking"
)

// Events is the ticket-lifecycle ingress. Every method swallows errors after
// logging and counting them: SLA tracking must never block a ticket from
// being created, updated or closed. Transactional conflicts are retried once
// before giving up, since every underlying operation is idempotent.
type Events struct {
	selector *Selector
	repo     repository.SlaRepository
	metrics  *metrics.Engine
	logger   *log.Logger
}

// NewEvents wires the ingress facade.
func NewEvents(selector *Selector, repo repository.SlaRepository, m *metrics.Engine, logger *log.Logger) *Events {
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Events{selector: selector, repo: repo, metrics: m, logger: logger}
}

// TicketCreated attaches SLA tracking to a new ticket.
func (e *Events) TicketCreated(ctx context.Context, params tracking.StartParams) {
	e.run(ctx, "ticket.created", params.TenantID, params.TicketID, func() error {
		_, err := e.selector.ForTenant(params.TenantID).StartTracking(ctx, params)
		return err
	})
}

// TicketStatusChanged maps a status transition to pause/resume per tenant
// settings. Tenants without settings never pause.
func (e *Events) TicketStatusChanged(ctx context.Context, tenantID string, ticketID int64, oldStatus, newStatus string) {
	e.run(ctx, "ticket.statusChanged", tenantID, ticketID, func() error {
		settings, err := e.repo.GetSettings(ctx, tenantID)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		b := e.selector.ForTenant(tenantID)
		if pausesNew, reason := settings.PausesOnStatus(newStatus); pausesNew {
			return b.Pause(ctx, tenantID, ticketID, reason)
		}
		if pausedOld, _ := settings.PausesOnStatus(oldStatus); pausedOld {
			return b.Resume(ctx, tenantID, ticketID)
		}
		return nil
	})
}

// FirstResponseRecorded completes the response SLA.
func (e *Events) FirstResponseRecorded(ctx context.Context, tenantID string, ticketID int64, at time.Time) {
	e.run(ctx, "ticket.firstResponseRecorded", tenantID, ticketID, func() error {
		return e.selector.ForTenant(tenantID).CompleteResponse(ctx, tenantID, ticketID, at)
	})
}

// TicketResolved completes the resolution SLA.
func (e *Events) TicketResolved(ctx context.Context, tenantID string, ticketID int64, at time.Time) {
	e.run(ctx, "ticket.resolved", tenantID, ticketID, func() error {
		return e.selector.ForTenant(tenantID).CompleteResolution(ctx, tenantID, ticketID, at)
	})
}

// TicketDeleted cancels tracking.
func (e *Events) TicketDeleted(ctx context.Context, tenantID string, ticketID int64) {
	e.run(ctx, "ticket.deleted", tenantID, ticketID, func() error {
		return e.selector.ForTenant(tenantID).Cancel(ctx, tenantID, ticketID)
	})
}

func (e *Events) run(ctx context.Context, event, tenantID string, ticketID int64, op func() error) {
	err := op()
	if errors.Is(err, models.ErrConflict) {
		err = op()
	}
	if err == nil || errors.Is(err, models.ErrNotFound) {
		return
	}
	e.metrics.EventErrors.Inc()
	e.logger.Printf("sla event %s tenant=%s ticket=%d: %v", event, tenantID, ticketID, err)
}
