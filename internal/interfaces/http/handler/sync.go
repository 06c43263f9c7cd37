package handler

import (
	"errors"

	appsync "github.com/erp/sync-engine/internal/application/sync"
	"github.com/erp/sync-engine/internal/domain/sync"
	"github.com/erp/sync-engine/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SyncHandler exposes sync session operations
type SyncHandler struct {
	BaseHandler
	engine      *appsync.Engine
	sessionRepo sync.SessionRepository
}

// NewSyncHandler creates a sync handler
func NewSyncHandler(engine *appsync.Engine, sessionRepo sync.SessionRepository) *SyncHandler {
	return &SyncHandler{engine: engine, sessionRepo: sessionRepo}
}

// RegisterRoutes registers sync routes
func (h *SyncHandler) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group("/sync")
	group.POST("/sessions", h.StartSync)
	group.GET("/sessions/running", h.ListRunning)
	group.GET("/sessions/:id", h.GetSession)
}

// StartSync launches a sync session in the background and returns its ID
func (h *SyncHandler) StartSync(c *gin.Context) {
	var req dto.StartSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Error(c, 400, dto.ErrCodeInvalidJSON, err.Error())
		return
	}

	session, err := h.engine.StartFullSync(c.Request.Context(), req.ToOptions())
	if err != nil {
		switch {
		case errors.Is(err, sync.ErrSessionLocked):
			h.ErrorWithCode(c, dto.ErrCodeSyncInProgress, err.Error())
		case errors.Is(err, sync.ErrUnknownEntityType):
			h.Error(c, 400, dto.ErrCodeInvalidInput, err.Error())
		default:
			h.BadRequest(c, err.Error())
		}
		return
	}
	h.Accepted(c, dto.SessionResponseFromDomain(session))
}

// GetSession returns one session by sync ID
func (h *SyncHandler) GetSession(c *gin.Context) {
	syncID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "invalid sync ID")
		return
	}

	session, err := h.engine.GetSession(c.Request.Context(), syncID)
	if err != nil {
		if errors.Is(err, sync.ErrSessionNotFound) {
			h.NotFound(c, "sync session not found")
			return
		}
		h.InternalError(c, err.Error())
		return
	}
	h.Success(c, dto.SessionResponseFromDomain(session))
}

// ListRunning returns sessions still in progress
func (h *SyncHandler) ListRunning(c *gin.Context) {
	sessions, err := h.sessionRepo.FindRunning(c.Request.Context())
	if err != nil {
		h.InternalError(c, err.Error())
		return
	}

	out := make([]dto.SessionResponse, len(sessions))
	for i := range sessions {
		out[i] = dto.SessionResponseFromDomain(&sessions[i])
	}
	h.Success(c, out)
}
