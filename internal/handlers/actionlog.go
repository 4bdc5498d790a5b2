// This file implements list/show/resolve endpoints over action logs:
// the manual-resolution tasks (C7) the archive pipeline raises when it
// can't resolve something itself, such as an overlap conflict or a
// malformed category.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/auriora/calendar-archivist/internal/repository"
)

// ActionLogHandler handles action log list/show/resolve endpoints.
type ActionLogHandler struct {
	logs *repository.ActionLogRepository
}

// NewActionLogHandler creates a new action log handler.
func NewActionLogHandler(logs *repository.ActionLogRepository) *ActionLogHandler {
	return &ActionLogHandler{logs: logs}
}

// RegisterRoutes registers action log routes.
func (h *ActionLogHandler) RegisterRoutes(router *gin.RouterGroup) {
	actionLogs := router.Group("/action-logs")
	{
		actionLogs.GET("", h.List)
		actionLogs.GET("/:id", h.Get)
		actionLogs.POST("/:id/resolve", h.Resolve)
	}
}

func (h *ActionLogHandler) List(c *gin.Context) {
	logs, err := h.logs.ListForUser(c.Request.Context(), userIDFromContext(c), c.Query("state"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list action logs", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"action_logs": logs})
}

func (h *ActionLogHandler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
		return
	}
	log, err := h.logs.GetByID(c.Request.Context(), id)
	if err != nil {
		if _, ok := err.(*repository.NotFoundError); ok {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "action log not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to get action log", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, log)
}

func (h *ActionLogHandler) Resolve(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
		return
	}
	if err := h.logs.Resolve(c.Request.Context(), id); err != nil {
		if _, ok := err.(*repository.NotFoundError); ok {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "action log not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to resolve action log", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "action log resolved"})
}
