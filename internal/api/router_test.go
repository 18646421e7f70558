package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servicedesk-io/sla-engine/internal/backend"
	"github.com/servicedesk-io/sla-engine/internal/metrics"
	"github.com/servicedesk-io/sla-engine/internal/models"
	"github.com/servicedesk-io/sla-engine/internal/repository"
	"github.com/servicedesk-io/sla-engine/internal/services/businesshours"
	"github.com/servicedesk-io/sla-engine/internal/services/pause"
	"github.com/servicedesk-io/sla-engine/internal/services/policy"
	"github.com/servicedesk-io/sla-engine/internal/services/tracking"
)

func newTestRouter(t *testing.T, registry *prometheus.Registry) (*gin.Engine, repository.SlaRepository) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := repository.NewMemorySlaRepository()
	resolver := policy.NewResolver(repo)
	trackingSvc := tracking.NewService(repo, businesshours.NewCalculator(), resolver)
	polling := backend.NewPollingBackend(trackingSvc, pause.NewService(repo))
	selector := backend.NewSelector(polling, nil, nil, backend.BackendPolling)

	engine := gin.New()
	NewRouter(engine, selector, registry).SetupRoutes()
	return engine, repo
}

func seedTrackedTicket(t *testing.T, repo repository.SlaRepository) {
	t.Helper()
	ctx := context.Background()

	pol := &models.SlaPolicy{TenantID: "acme", Name: "Gold", IsDefault: true}
	require.NoError(t, repo.CreatePolicy(ctx, pol))

	minutes := 120
	require.NoError(t, repo.CreateTarget(ctx, &models.SlaPolicyTarget{
		PolicyID:              pol.ID,
		PriorityID:            1,
		ResolutionTimeMinutes: &minutes,
		Is24x7:                true,
	}))

	deadline := time.Now().UTC().Add(2 * time.Hour)
	require.NoError(t, repo.CreateTracking(ctx, &models.TicketSlaTracking{
		TenantID:           "acme",
		TicketID:           100,
		SlaPolicyID:        pol.ID,
		PriorityID:         1,
		BoardID:            5,
		StartedAt:          time.Now().UTC(),
		ResolutionDeadline: &deadline,
		Active:             true,
	}))
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestSlaStatusRequiresTenantHeader(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tickets/100/sla-status", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "X-Tenant-ID")
}

func TestSlaStatusRejectsBadTicketID(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tickets/abc/sla-status", nil)
	req.Header.Set("X-Tenant-ID", "acme")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSlaStatusUnknownTicketIs404(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tickets/999/sla-status", nil)
	req.Header.Set("X-Tenant-ID", "acme")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSlaStatusReturnsDerivedStatus(t *testing.T) {
	router, repo := newTestRouter(t, nil)
	seedTrackedTicket(t, repo)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tickets/100/sla-status", nil)
	req.Header.Set("X-Tenant-ID", "acme")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var status models.SlaStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, models.SlaStateOnTrack, status.Status)
	assert.False(t, status.IsPaused)
	assert.Nil(t, status.ResponseRemainingMinutes)
	require.NotNil(t, status.ResolutionRemainingMinutes)
	assert.Greater(t, *status.ResolutionRemainingMinutes, 100)
}

func TestMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics.New(registry)
	router, _ := newTestRouter(t, registry)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sla_")
}

func TestMetricsEndpointDisabledWithoutRegistry(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
