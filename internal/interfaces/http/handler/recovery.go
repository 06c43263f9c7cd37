package handler

import (
	"strconv"
	"time"

	apprecovery "github.com/erp/sync-engine/internal/application/recovery"
	"github.com/gin-gonic/gin"
)

// RecoveryHandler exposes error recovery observability
type RecoveryHandler struct {
	BaseHandler
	manager *apprecovery.Manager
	breaker *apprecovery.BreakerService
}

// NewRecoveryHandler creates a recovery handler
func NewRecoveryHandler(manager *apprecovery.Manager, breaker *apprecovery.BreakerService) *RecoveryHandler {
	return &RecoveryHandler{manager: manager, breaker: breaker}
}

// RegisterRoutes registers recovery routes
func (h *RecoveryHandler) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group("/recovery")
	group.GET("/errors/manual", h.ListManual)
	group.GET("/stats", h.Stats)
	group.GET("/breakers", h.ListOpenBreakers)
}

// ListManual returns error records awaiting operator intervention
func (h *RecoveryHandler) ListManual(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := h.manager.PendingManual(c.Request.Context(), limit)
	if err != nil {
		h.InternalError(c, err.Error())
		return
	}
	h.Success(c, records)
}

// Stats returns per-category recovery statistics over a trailing window
func (h *RecoveryHandler) Stats(c *gin.Context) {
	hours, err := strconv.Atoi(c.DefaultQuery("hours", "24"))
	if err != nil || hours <= 0 {
		h.BadRequest(c, "hours must be a positive integer")
		return
	}

	stats, err := h.manager.Stats(c.Request.Context(), time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		h.InternalError(c, err.Error())
		return
	}
	h.Success(c, stats)
}

// ListOpenBreakers returns circuit breakers currently open
func (h *RecoveryHandler) ListOpenBreakers(c *gin.Context) {
	breakers, err := h.breaker.OpenBreakers(c.Request.Context())
	if err != nil {
		h.InternalError(c, err.Error())
		return
	}
	h.Success(c, breakers)
}
