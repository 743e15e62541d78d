package participants

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/planpoker/backend/internal/models"
	"github.com/planpoker/backend/internal/realtime"
	"github.com/planpoker/backend/internal/sessions"
	"github.com/planpoker/backend/pkg/response"
)

// JoinRequest is the body for POST /sessions/:id/participants.
type JoinRequest struct {
	Name string `json:"name" binding:"required,min=3,max=15"`
}

// UpdateRequest is the body for PATCH /participants/:id. Estimate and
// observer mode travel together so the observer flip clears the estimate in
// one observable transition.
type UpdateRequest struct {
	Estimate   *float64 `json:"estimate"`
	IsObserver *bool    `json:"is_observer"`
}

// Handler handles participant HTTP and realtime events.
type Handler struct {
	repo        *Repository
	sessionRepo *sessions.Repository
	hub         *realtime.Hub
	logger      *zap.Logger
}

// NewHandler creates a participants handler.
func NewHandler(repo *Repository, sessionRepo *sessions.Repository, hub *realtime.Hub, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, sessionRepo: sessionRepo, hub: hub, logger: logger}
}

// Join handles POST /sessions/:id/participants.
func (h *Handler) Join(c *gin.Context) {
	sessionID := c.Param("id")

	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "name must be 3-15 characters")
		return
	}

	exists, err := h.sessionRepo.Exists(c.Request.Context(), sessionID)
	if err != nil {
		response.Internal(c, "failed to fetch session")
		return
	}
	if !exists {
		response.NotFound(c, "session not found")
		return
	}

	p := &models.Participant{
		SessionID: sessionID,
		Name:      strings.TrimSpace(req.Name),
	}
	if err := h.repo.Create(c.Request.Context(), p); err != nil {
		h.logger.Error("create participant", zap.String("session_id", sessionID), zap.Error(err))
		response.Internal(c, "failed to create participant")
		return
	}

	h.hub.PublishChange(sessionID, "participant", "INSERT", nil, p)
	response.Created(c, p)
}

// ListBySession handles GET /sessions/:id/participants.
func (h *Handler) ListBySession(c *gin.Context) {
	list, err := h.repo.ListBySession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("list participants", zap.String("session_id", c.Param("id")), zap.Error(err))
		response.Internal(c, "failed to list participants")
		return
	}
	if list == nil {
		list = []models.Participant{}
	}
	response.OK(c, gin.H{"participants": list})
}

// Update handles PATCH /participants/:id.
func (h *Handler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid participant id")
		return
	}

	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	old, err := h.repo.GetByID(c.Request.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		response.NotFound(c, "participant not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to fetch participant")
		return
	}

	updated, err := h.repo.Update(c.Request.Context(), id, req.Estimate, req.IsObserver)
	if err != nil {
		h.logger.Error("update participant", zap.String("participant_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to update participant")
		return
	}

	h.hub.PublishChange(updated.SessionID, "participant", "UPDATE", old, updated)
	response.OK(c, updated)
}

// ClearEstimates handles POST /sessions/:id/participants/clear-estimates,
// the restart fan-out. A single participant_changed broadcast follows;
// listeners refresh the whole roster on any participant event.
func (h *Handler) ClearEstimates(c *gin.Context) {
	sessionID := c.Param("id")

	cleared, err := h.repo.ClearEstimates(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("clear estimates", zap.String("session_id", sessionID), zap.Error(err))
		response.Internal(c, "failed to clear estimates")
		return
	}

	h.hub.PublishChange(sessionID, "participant", "UPDATE", nil, nil)
	response.OK(c, gin.H{"cleared": cleared})
}
