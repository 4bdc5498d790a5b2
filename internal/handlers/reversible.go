// This file implements list/show/reverse endpoints over the
// reversible operation ledger (C9).
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/auriora/calendar-archivist/internal/reversible"
)

// ReversibleHandler handles reversible-operation list/show/reverse endpoints.
type ReversibleHandler struct {
	service   *reversible.Service
	reversers map[string]reversible.ItemReverser
}

// NewReversibleHandler creates a new reversible-operation handler.
// reversers maps item_type to the handler that knows how to
// restore/delete/update it; the composition root wires it in at
// startup.
func NewReversibleHandler(service *reversible.Service, reversers map[string]reversible.ItemReverser) *ReversibleHandler {
	return &ReversibleHandler{service: service, reversers: reversers}
}

// RegisterRoutes registers reversible-operation routes.
func (h *ReversibleHandler) RegisterRoutes(router *gin.RouterGroup) {
	ops := router.Group("/reversible-operations")
	{
		ops.GET("", h.List)
		ops.GET("/:id", h.Get)
		ops.POST("/:id/reverse", h.Reverse)
	}
}

func (h *ReversibleHandler) List(c *gin.Context) {
	filter := reversible.ListFilter{UserID: userIDFromContext(c), Limit: 50}
	if opType := c.Query("operation_type"); opType != "" {
		filter.OperationType = opType
	}
	if reversedParam := c.Query("is_reversed"); reversedParam != "" {
		v := reversedParam == "true"
		filter.IsReversed = &v
	}

	ops, err := h.service.ListOperations(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list operations", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"operations": ops})
}

func (h *ReversibleHandler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
		return
	}
	op, err := h.service.GetOperation(c.Request.Context(), id)
	if err != nil {
		if _, ok := err.(*reversible.NotFoundError); ok {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "operation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to get operation", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, op)
}

type reverseRequest struct {
	Reason string `json:"reason"`
	DryRun bool   `json:"dry_run"`
}

func (h *ReversibleHandler) Reverse(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
		return
	}
	var req reverseRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request format", Message: err.Error()})
		return
	}

	result, err := h.service.Reverse(c.Request.Context(), id, userIDFromContext(c), req.Reason, req.DryRun, h.reversers)
	if err != nil {
		if unauthorized, ok := err.(*reversible.UnauthorizedError); ok {
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "not authorized to reverse this operation", Message: unauthorized.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "reverse failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}
