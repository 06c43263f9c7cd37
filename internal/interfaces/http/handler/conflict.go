package handler

import (
	"errors"
	"strconv"

	appconflict "github.com/erp/sync-engine/internal/application/conflict"
	"github.com/erp/sync-engine/internal/domain/sync"
	"github.com/erp/sync-engine/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ConflictHandler exposes the operator conflict workflow
type ConflictHandler struct {
	BaseHandler
	service *appconflict.Service
}

// NewConflictHandler creates a conflict handler
func NewConflictHandler(service *appconflict.Service) *ConflictHandler {
	return &ConflictHandler{service: service}
}

// RegisterRoutes registers conflict routes
func (h *ConflictHandler) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group("/conflicts")
	group.GET("", h.ListPending)
	group.GET("/session/:sync_id", h.ListBySession)
	group.POST("/:id/resolve", h.Resolve)
}

// ListPending returns conflicts awaiting operator review
func (h *ConflictHandler) ListPending(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	conflicts, err := h.service.GetPendingConflicts(c.Request.Context(), limit)
	if err != nil {
		h.InternalError(c, err.Error())
		return
	}
	h.Success(c, conflictResponses(conflicts))
}

// ListBySession returns every conflict recorded during one session
func (h *ConflictHandler) ListBySession(c *gin.Context) {
	syncID, err := uuid.Parse(c.Param("sync_id"))
	if err != nil {
		h.BadRequest(c, "invalid sync ID")
		return
	}

	conflicts, err := h.service.GetConflictsBySession(c.Request.Context(), syncID)
	if err != nil {
		h.InternalError(c, err.Error())
		return
	}
	h.Success(c, conflictResponses(conflicts))
}

// Resolve applies an operator decision to one conflict
func (h *ConflictHandler) Resolve(c *gin.Context) {
	conflictID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "invalid conflict ID")
		return
	}

	var req dto.ResolveConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Error(c, 400, dto.ErrCodeInvalidJSON, err.Error())
		return
	}

	resolved, err := h.service.ResolveManually(c.Request.Context(), appconflict.ManualResolutionInput{
		ConflictID:  conflictID,
		Winner:      appconflict.Winner(req.Winner),
		CustomValue: req.CustomValue,
	})
	if err != nil {
		switch {
		case errors.Is(err, sync.ErrConflictNotFound):
			h.NotFound(c, "conflict not found")
		case errors.Is(err, sync.ErrConflictAlreadyClosed):
			h.UnprocessableEntity(c, dto.ErrCodeInvalidState, err.Error())
		case errors.Is(err, appconflict.ErrInvalidWinner):
			h.Error(c, 400, dto.ErrCodeInvalidInput, err.Error())
		default:
			h.InternalError(c, err.Error())
		}
		return
	}
	h.Success(c, dto.ConflictResponseFromDomain(resolved))
}

func conflictResponses(conflicts []sync.Conflict) []dto.ConflictResponse {
	out := make([]dto.ConflictResponse, len(conflicts))
	for i := range conflicts {
		out[i] = dto.ConflictResponseFromDomain(&conflicts[i])
	}
	return out
}
