// Package handlers provides HTTP handlers for the calendar archivist API.
// This file implements CRUD and run-now endpoints for archive
// configurations: recurring archive job definitions bound to a
// source/destination calendar URI pair.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/auriora/calendar-archivist/internal/archive"
	"github.com/auriora/calendar-archivist/internal/models"
	"github.com/auriora/calendar-archivist/internal/repository"
	"github.com/auriora/calendar-archivist/internal/validator"
)

// RepositoryResolver resolves a calendar URI's scheme to the concrete
// AppointmentRepository backing it (msgraph vs local). Handlers never
// construct provider clients themselves since that requires
// credentials scoped outside this package.
type RepositoryResolver func(userID int64, calendarURI string) (repository.AppointmentRepository, error)

// ArchiveConfigHandler handles archive configuration CRUD and
// archive-run endpoints.
type ArchiveConfigHandler struct {
	configs      *repository.ArchiveConfigRepository
	orchestrator *archive.Orchestrator
	resolveRepo  RepositoryResolver
}

// NewArchiveConfigHandler creates a new archive configuration handler.
func NewArchiveConfigHandler(configs *repository.ArchiveConfigRepository, orchestrator *archive.Orchestrator, resolveRepo RepositoryResolver) *ArchiveConfigHandler {
	return &ArchiveConfigHandler{configs: configs, orchestrator: orchestrator, resolveRepo: resolveRepo}
}

// RegisterRoutes registers archive configuration routes.
func (h *ArchiveConfigHandler) RegisterRoutes(router *gin.RouterGroup) {
	configs := router.Group("/archive-configs")
	{
		configs.GET("", h.List)
		configs.POST("", h.Create)
		configs.GET("/:id", h.Get)
		configs.PUT("/:id", h.Update)
		configs.DELETE("/:id", h.Delete)
		configs.POST("/:id/run", h.Run)
	}
}

// archiveConfigRequest is the create/update request body.
type archiveConfigRequest struct {
	Name           string `json:"name" validate:"required"`
	SourceURI      string `json:"source_uri" validate:"required"`
	DestinationURI string `json:"destination_uri" validate:"required"`
	IsActive       bool   `json:"is_active"`
	Timezone       string `json:"timezone"`
	AllowOverlaps  bool   `json:"allow_overlaps"`
	ArchivePurpose string `json:"archive_purpose" validate:"required,oneof=general timesheet billing travel"`
	IncludeTravel  bool   `json:"include_travel"`
}

func userIDFromContext(c *gin.Context) int64 {
	if v, ok := c.Get("user_id"); ok {
		if id, ok := v.(int64); ok {
			return id
		}
	}
	return 0
}

func (h *ArchiveConfigHandler) List(c *gin.Context) {
	configs, err := h.configs.ListForUser(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list archive configurations", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"configurations": configs})
}

func (h *ArchiveConfigHandler) Create(c *gin.Context) {
	var req archiveConfigRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}

	config := &models.ArchiveConfiguration{
		UserID:         userIDFromContext(c),
		Name:           req.Name,
		SourceURI:      req.SourceURI,
		DestinationURI: req.DestinationURI,
		IsActive:       req.IsActive,
		Timezone:       req.Timezone,
		AllowOverlaps:  req.AllowOverlaps,
		ArchivePurpose: req.ArchivePurpose,
		IncludeTravel:  req.IncludeTravel,
	}
	if config.Timezone == "" {
		config.Timezone = "UTC"
	}

	if err := h.configs.Create(c.Request.Context(), config); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to create archive configuration", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, config)
}

func (h *ArchiveConfigHandler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
		return
	}
	config, err := h.configs.GetByID(c.Request.Context(), id)
	if err != nil {
		if _, ok := err.(*repository.NotFoundError); ok {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "archive configuration not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to get archive configuration", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, config)
}

func (h *ArchiveConfigHandler) Update(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
		return
	}
	var req archiveConfigRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}

	config := &models.ArchiveConfiguration{
		ID: id, Name: req.Name, SourceURI: req.SourceURI, DestinationURI: req.DestinationURI,
		IsActive: req.IsActive, Timezone: req.Timezone, AllowOverlaps: req.AllowOverlaps,
		ArchivePurpose: req.ArchivePurpose, IncludeTravel: req.IncludeTravel,
	}
	if err := h.configs.Update(c.Request.Context(), config); err != nil {
		if _, ok := err.(*repository.NotFoundError); ok {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "archive configuration not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to update archive configuration", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, config)
}

func (h *ArchiveConfigHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
		return
	}
	if err := h.configs.Delete(c.Request.Context(), id); err != nil {
		if _, ok := err.(*repository.NotFoundError); ok {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "archive configuration not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to delete archive configuration", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "archive configuration deleted"})
}

// runRequest narrows a configured run to an explicit date range.
type runRequest struct {
	Start time.Time `json:"start" validate:"required"`
	End   time.Time `json:"end" validate:"required"`
}

// Run executes one archive run for a saved configuration over the
// requested date range, synchronously, returning the archival result.
func (h *ArchiveConfigHandler) Run(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
		return
	}
	var req runRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}

	config, err := h.configs.GetByID(c.Request.Context(), id)
	if err != nil {
		if _, ok := err.(*repository.NotFoundError); ok {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "archive configuration not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load archive configuration", Message: err.Error()})
		return
	}

	sourceRepo, err := h.resolveRepo(config.UserID, config.SourceURI)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "failed to resolve source calendar", Message: err.Error()})
		return
	}
	destRepo, err := h.resolveRepo(config.UserID, config.DestinationURI)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "failed to resolve destination calendar", Message: err.Error()})
		return
	}

	params := archive.Params{
		UserID: config.UserID, SourceURI: config.SourceURI, DestinationURI: config.DestinationURI,
		Start: req.Start, End: req.End, Purpose: config.ArchivePurpose,
		AllowOverlaps: config.AllowOverlaps, IncludeTravel: config.IncludeTravel,
		SourceRepo: sourceRepo, DestRepo: destRepo,
	}

	var result *archive.Result
	if config.ArchivePurpose == models.ArchivePurposeTimesheet {
		result, err = h.orchestrator.ArchiveTimesheet(c.Request.Context(), params)
	} else {
		result, err = h.orchestrator.Archive(c.Request.Context(), params)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "archive run failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}
