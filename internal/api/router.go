// Package api exposes the engine's small ops HTTP surface: health, metrics
// and the per-ticket SLA status read endpoint.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/servicedesk-io/sla-engine/internal/backend"
	"github.com/servicedesk-io/sla-engine/internal/models"
)

// Router handles the ops API routes.
type Router struct {
	router   *gin.Engine
	selector *backend.Selector
	registry *prometheus.Registry
}

// NewRouter creates the ops API router. registry may be nil to disable the
// metrics endpoint.
func NewRouter(router *gin.Engine, selector *backend.Selector, registry *prometheus.Registry) *Router {
	return &Router{router: router, selector: selector, registry: registry}
}

// SetupRoutes configures all routes.
func (r *Router) SetupRoutes() {
	r.router.GET("/healthz", r.healthCheck)
	if r.registry != nil {
		r.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})))
	}

	v1 := r.router.Group("/api/v1")
	v1.GET("/tickets/:ticket_id/sla-status", r.slaStatus)
}

func (r *Router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// slaStatus returns the derived SLA status for one ticket. The tenant comes
// from the X-Tenant-ID header; the surrounding application's gateway is
// expected to have authenticated it.
func (r *Router) slaStatus(c *gin.Context) {
	tenantID := c.GetHeader("X-Tenant-ID")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing X-Tenant-ID header"})
		return
	}
	ticketID, err := strconv.ParseInt(c.Param("ticket_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket id"})
		return
	}

	status, err := r.selector.ForTenant(tenantID).GetStatus(c.Request.Context(), tenantID, ticketID, time.Now())
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no sla tracking for ticket"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}
