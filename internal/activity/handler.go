package activity

import (
	"github.com/gin-gonic/gin"

	"github.com/planpoker/backend/internal/models"
	"github.com/planpoker/backend/pkg/response"
)

// Handler handles GET /sessions/:id/activity.
type Handler struct {
	repo *Repository
}

// NewHandler creates an activity handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// ListBySession handles GET /sessions/:id/activity (attendance intervals).
func (h *Handler) ListBySession(c *gin.Context) {
	list, err := h.repo.ListBySession(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Internal(c, "failed to list session activity")
		return
	}
	if list == nil {
		list = []models.SessionActivity{}
	}
	response.OK(c, gin.H{"activity": list})
}
