// This file implements read-only endpoints over the audit trail (C8):
// a user's own recent activity, and the full nested trail sharing one
// correlation id.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/auriora/calendar-archivist/internal/audit"
)

// AuditTrailHandler handles audit log list/show endpoints.
type AuditTrailHandler struct {
	service *audit.Service
}

// NewAuditTrailHandler creates a new audit trail handler.
func NewAuditTrailHandler(service *audit.Service) *AuditTrailHandler {
	return &AuditTrailHandler{service: service}
}

// RegisterRoutes registers audit trail routes.
func (h *AuditTrailHandler) RegisterRoutes(router *gin.RouterGroup) {
	auditGroup := router.Group("/audit-logs")
	{
		auditGroup.GET("", h.List)
		auditGroup.GET("/:id", h.Get)
		auditGroup.GET("/correlation/:correlationId", h.ListByCorrelation)
	}
}

func (h *AuditTrailHandler) List(c *gin.Context) {
	limit := 50
	if limitParam := c.Query("limit"); limitParam != "" {
		if v, err := strconv.Atoi(limitParam); err == nil {
			limit = v
		}
	}
	logs, err := h.service.ListForUser(c.Request.Context(), userIDFromContext(c), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list audit logs", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit_logs": logs})
}

func (h *AuditTrailHandler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
		return
	}
	record, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		if _, ok := err.(*audit.NotFoundError); ok {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "audit log not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to get audit log", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *AuditTrailHandler) ListByCorrelation(c *gin.Context) {
	logs, err := h.service.ListByCorrelationID(c.Request.Context(), c.Param("correlationId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list audit logs", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit_logs": logs})
}
