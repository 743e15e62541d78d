package results

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/planpoker/backend/internal/models"
	"github.com/planpoker/backend/pkg/response"
)

// CreateRequest is the body for POST /sessions/:id/results.
type CreateRequest struct {
	AverageEstimate float64 `json:"average_estimate"`
	GeneratedBy     string  `json:"generated_by" binding:"required"`
	Description     string  `json:"description"`
}

// UpdateRequest is the body for PATCH /results/:id.
type UpdateRequest struct {
	Description string `json:"description" binding:"required"`
}

// Handler handles session result HTTP endpoints.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a results handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// Create handles POST /sessions/:id/results.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	res := &models.SessionResult{
		SessionID:       c.Param("id"),
		AverageEstimate: req.AverageEstimate,
		GeneratedBy:     req.GeneratedBy,
		Description:     req.Description,
	}
	if res.Description == "" {
		res.Description = models.DefaultResultDescription
	}
	if err := h.repo.Create(c.Request.Context(), res); err != nil {
		h.logger.Error("create session result", zap.String("session_id", res.SessionID), zap.Error(err))
		response.Internal(c, "failed to record session result")
		return
	}
	response.Created(c, res)
}

// ListBySession handles GET /sessions/:id/results.
func (h *Handler) ListBySession(c *gin.Context) {
	list, err := h.repo.ListBySession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("list session results", zap.String("session_id", c.Param("id")), zap.Error(err))
		response.Internal(c, "failed to list session results")
		return
	}
	if list == nil {
		list = []models.SessionResult{}
	}
	response.OK(c, gin.H{"results": list})
}

// Update handles PATCH /results/:id (description only).
func (h *Handler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid result id")
		return
	}

	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	res, err := h.repo.UpdateDescription(c.Request.Context(), id, req.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		response.NotFound(c, "result not found")
		return
	}
	if err != nil {
		h.logger.Error("update session result", zap.String("result_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to update session result")
		return
	}
	response.OK(c, res)
}

// Delete handles DELETE /results/:id.
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid result id")
		return
	}
	if err := h.repo.Delete(c.Request.Context(), id); err != nil {
		h.logger.Error("delete session result", zap.String("result_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to delete session result")
		return
	}
	response.NoContent(c)
}
