// Package pause maintains the per-ticket pause state and the running total
// of paused minutes on the tracking record.
package pause

import (
	"context"
	"log"
	"time"

	"github.com/servicedesk-io/sla-engine/internal/models"
	"github.com/servicedesk-io/sla-engine/internal/repository"
)

// Service implements the Active <-> Paused transitions. Both operations are
// idempotent: pausing a paused ticket and resuming a running ticket are
// successful no-ops, which makes concurrent pause/resume races harmless under
// the repository's per-ticket transaction.
type Service struct {
	repo   repository.SlaRepository
	logger *log.Logger
	now    func() time.Time
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

// NewService creates a pause service.
func NewService(repo repository.SlaRepository, opts ...Option) *Service {
	s := &Service{repo: repo, logger: log.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pause opens a pause interval for the ticket. Returns false when the ticket
// was already paused. Pause reasons do not stack: the open interval keeps
// whichever reason triggered it first.
func (s *Service) Pause(ctx context.Context, tenantID string, ticketID int64, reason models.PauseReason) (bool, error) {
	opened, err := s.repo.OpenPause(ctx, tenantID, ticketID, reason, s.now().UTC())
	if err != nil {
		return false, err
	}
	if opened {
		s.logger.Printf("sla pause opened tenant=%s ticket=%d reason=%s", tenantID, ticketID, reason)
	}
	return opened, nil
}

// Resume closes the open pause interval and credits its wall-clock duration
// to total_pause_minutes. Returns false when the ticket was not paused.
// The duration is deliberately wall-clock, not business-hours-adjusted:
// deadlines are pushed forward by the raw pause length regardless of whether
// the pause spanned business hours.
func (s *Service) Resume(ctx context.Context, tenantID string, ticketID int64) (bool, error) {
	minutes, closed, err := s.repo.ClosePause(ctx, tenantID, ticketID, s.now().UTC())
	if err != nil {
		return false, err
	}
	if closed {
		s.logger.Printf("sla pause closed tenant=%s ticket=%d minutes=%d", tenantID, ticketID, minutes)
	}
	return closed, nil
}

// OpenPause returns the currently open pause interval, or models.ErrNotFound.
func (s *Service) OpenPause(ctx context.Context, tenantID string, ticketID int64) (*models.SlaPauseHistory, error) {
	return s.repo.GetOpenPause(ctx, tenantID, ticketID)
}

// History returns the full pause log for a ticket.
func (s *Service) History(ctx context.Context, tenantID string, ticketID int64) ([]models.SlaPauseHistory, error) {
	return s.repo.ListPauseHistory(ctx, tenantID, ticketID)
}
