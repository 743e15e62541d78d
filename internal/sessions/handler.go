package sessions

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/planpoker/backend/internal/models"
	"github.com/planpoker/backend/internal/realtime"
	"github.com/planpoker/backend/pkg/response"
	"github.com/planpoker/backend/pkg/utils"
)

// ConflictCode is the machine-readable code for a lost average-estimate race.
const ConflictCode = "CONFLICT_ESTIMATE_ALREADY_UPDATED"

// CreateRequest is the body for POST /sessions.
type CreateRequest struct {
	EstimateOptions string `json:"estimate_options" binding:"required"`
}

// UpdateRequest is the body for PATCH /sessions/:id.
type UpdateRequest struct {
	EstimateOptions string `json:"estimate_options" binding:"required"`
}

// AverageEstimateRequest is the body for PUT /sessions/:id/average-estimate.
// A null average is the restart signal.
type AverageEstimateRequest struct {
	AverageEstimate *float64 `json:"average_estimate"`
	ExpectedVersion int64    `json:"expected_version"`
}

// Handler handles session HTTP and realtime events.
type Handler struct {
	repo   *Repository
	hub    *realtime.Hub
	logger *zap.Logger
}

// NewHandler creates a sessions handler.
func NewHandler(repo *Repository, hub *realtime.Hub, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, hub: hub, logger: logger}
}

// Create handles POST /sessions.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := models.ValidateEstimateOptions(req.EstimateOptions); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	s := &models.Session{
		ID:              utils.GenerateID(utils.SessionIDLength),
		EstimateOptions: req.EstimateOptions,
	}
	if err := h.repo.Create(c.Request.Context(), s); err != nil {
		h.logger.Error("create session", zap.Error(err))
		response.Internal(c, "failed to create session")
		return
	}
	response.Created(c, s)
}

// GetByID handles GET /sessions/:id.
func (h *Handler) GetByID(c *gin.Context) {
	s, err := h.repo.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, pgx.ErrNoRows) {
		response.NotFound(c, "session not found")
		return
	}
	if err != nil {
		h.logger.Error("get session", zap.String("session_id", c.Param("id")), zap.Error(err))
		response.Internal(c, "failed to fetch session")
		return
	}
	response.OK(c, s)
}

// Update handles PATCH /sessions/:id (estimate options only).
func (h *Handler) Update(c *gin.Context) {
	id := c.Param("id")

	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := models.ValidateEstimateOptions(req.EstimateOptions); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	old, err := h.repo.GetByID(c.Request.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		response.NotFound(c, "session not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to fetch session")
		return
	}

	updated, err := h.repo.UpdateEstimateOptions(c.Request.Context(), id, req.EstimateOptions)
	if err != nil {
		h.logger.Error("update session", zap.String("session_id", id), zap.Error(err))
		response.Internal(c, "failed to update session")
		return
	}

	h.hub.PublishChange(id, "session", "UPDATE", old, updated)
	response.OK(c, updated)
}

// UpdateAverageEstimate handles PUT /sessions/:id/average-estimate, the
// version-guarded write. A stale expected_version yields 409 with
// ConflictCode and no mutation.
func (h *Handler) UpdateAverageEstimate(c *gin.Context) {
	id := c.Param("id")

	var req AverageEstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	old, err := h.repo.GetByID(c.Request.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		response.NotFound(c, "session not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to fetch session")
		return
	}

	updated, err := h.repo.UpdateAverageEstimate(c.Request.Context(), id, req.AverageEstimate, req.ExpectedVersion)
	switch {
	case errors.Is(err, ErrVersionConflict):
		response.Conflict(c, "estimate already updated by another participant", ConflictCode)
		return
	case errors.Is(err, pgx.ErrNoRows):
		response.NotFound(c, "session not found")
		return
	case err != nil:
		h.logger.Error("update average estimate", zap.String("session_id", id), zap.Error(err))
		response.Internal(c, "failed to update average estimate")
		return
	}

	h.hub.PublishChange(id, "session", "UPDATE", old, updated)
	response.OK(c, updated)
}
