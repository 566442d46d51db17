// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/mediasentry/pkg/validation"
	"github.com/AleutianAI/mediasentry/services/catalog"
	"github.com/AleutianAI/mediasentry/services/scheduler"
)

// =============================================================================
// Exclusions
// =============================================================================

type addExclusionRequest struct {
	Type  string `json:"type" binding:"required,oneof=path extension"`
	Value string `json:"value" binding:"required"`
}

// ListExclusions serves the exclusion table, optionally filtered by
// type.
func (a *API) ListExclusions(c *gin.Context) {
	rows, err := a.store.ListExclusions(c.Request.Context(), c.Query("type"))
	if err != nil {
		a.logger.Error("list exclusions failed", "error", err)
		respondError(c, http.StatusInternalServerError, "could not list exclusions")
		return
	}
	c.JSON(http.StatusOK, gin.H{"exclusions": rows})
}

// AddExclusion validates and inserts one exclusion.
func (a *API) AddExclusion(c *gin.Context) {
	var req addExclusionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	value := strings.TrimSpace(req.Value)
	switch req.Type {
	case catalog.ExclusionPath:
		if err := validation.CheckFilePath(value); err != nil {
			a.logger.Warn("exclusion path rejected", "value", value, "error", err)
			respondError(c, http.StatusBadRequest, "invalid path: %v", err)
			return
		}
	case catalog.ExclusionExtension:
		if err := validation.CheckExtension(value); err != nil {
			respondError(c, http.StatusBadRequest, "invalid extension: %v", err)
			return
		}
	}

	row, err := a.store.AddExclusion(c.Request.Context(), req.Type, value)
	if errors.Is(err, catalog.ErrDuplicate) {
		respondError(c, http.StatusConflict, "exclusion already exists")
		return
	}
	if err != nil {
		a.logger.Error("add exclusion failed", "error", err)
		respondError(c, http.StatusInternalServerError, "could not add exclusion")
		return
	}
	c.JSON(http.StatusCreated, row)
}

// RemoveExclusion deletes one exclusion by id.
func (a *API) RemoveExclusion(c *gin.Context) {
	a.removeByID(c, a.store.RemoveExclusion, "exclusion")
}

// =============================================================================
// Ignored error patterns
// =============================================================================

type addPatternRequest struct {
	Pattern     string `json:"pattern" binding:"required"`
	Description string `json:"description"`
}

// ListIgnoredPatterns serves all ignored error patterns.
func (a *API) ListIgnoredPatterns(c *gin.Context) {
	rows, err := a.store.ListIgnoredPatterns(c.Request.Context())
	if err != nil {
		a.logger.Error("list patterns failed", "error", err)
		respondError(c, http.StatusInternalServerError, "could not list ignored patterns")
		return
	}
	c.JSON(http.StatusOK, gin.H{"patterns": rows})
}

// AddIgnoredPattern inserts one pattern.
func (a *API) AddIgnoredPattern(c *gin.Context) {
	var req addPatternRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	pattern := strings.TrimSpace(req.Pattern)
	if pattern == "" {
		respondError(c, http.StatusBadRequest, "pattern must not be blank")
		return
	}
	row, err := a.store.AddIgnoredPattern(c.Request.Context(), pattern, req.Description)
	if errors.Is(err, catalog.ErrDuplicate) {
		respondError(c, http.StatusConflict, "pattern already exists")
		return
	}
	if err != nil {
		a.logger.Error("add pattern failed", "error", err)
		respondError(c, http.StatusInternalServerError, "could not add pattern")
		return
	}
	c.JSON(http.StatusCreated, row)
}

// RemoveIgnoredPattern deletes one pattern by id.
func (a *API) RemoveIgnoredPattern(c *gin.Context) {
	a.removeByID(c, a.store.RemoveIgnoredPattern, "pattern")
}

// =============================================================================
// Scan configurations
// =============================================================================

type addConfigurationRequest struct {
	Path string `json:"path" binding:"required"`
}

// ListScanConfigurations serves the configured scan roots.
func (a *API) ListScanConfigurations(c *gin.Context) {
	rows, err := a.store.ListScanConfigurations(c.Request.Context())
	if err != nil {
		a.logger.Error("list configurations failed", "error", err)
		respondError(c, http.StatusInternalServerError, "could not list scan configurations")
		return
	}
	c.JSON(http.StatusOK, gin.H{"configurations": rows})
}

// AddScanConfiguration validates and inserts one scan root.
func (a *API) AddScanConfiguration(c *gin.Context) {
	var req addConfigurationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	path := strings.TrimSpace(req.Path)
	if err := validation.CheckFilePath(path); err != nil {
		a.logger.Warn("scan root rejected", "path", path, "error", err)
		respondError(c, http.StatusBadRequest, "invalid scan root: %v", err)
		return
	}
	row, err := a.store.AddScanConfiguration(c.Request.Context(), path)
	if errors.Is(err, catalog.ErrDuplicate) {
		respondError(c, http.StatusConflict, "scan root already configured")
		return
	}
	if err != nil {
		a.logger.Error("add configuration failed", "error", err)
		respondError(c, http.StatusInternalServerError, "could not add scan configuration")
		return
	}
	c.JSON(http.StatusCreated, row)
}

// RemoveScanConfiguration deletes one scan root by id.
func (a *API) RemoveScanConfiguration(c *gin.Context) {
	a.removeByID(c, a.store.RemoveScanConfiguration, "scan configuration")
}

// =============================================================================
// Schedules
// =============================================================================

type addScheduleRequest struct {
	Name       string `json:"name" binding:"required"`
	Expression string `json:"expression" binding:"required"`
	Variant    string `json:"variant" binding:"required,oneof=scan cleanup file_changes"`
	DeepScan   bool   `json:"deep_scan"`
	Active     *bool  `json:"active"`
}

// ListSchedules serves the schedule table.
func (a *API) ListSchedules(c *gin.Context) {
	rows, err := a.store.ListSchedules(c.Request.Context())
	if err != nil {
		a.logger.Error("list schedules failed", "error", err)
		respondError(c, http.StatusInternalServerError, "could not list schedules")
		return
	}
	c.JSON(http.StatusOK, gin.H{"schedules": rows})
}

// AddSchedule validates the expression and inserts one schedule.
func (a *API) AddSchedule(c *gin.Context) {
	var req addScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if _, err := scheduler.ParseExpression(req.Expression); err != nil {
		respondError(c, http.StatusBadRequest, "%v", err)
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	row, err := a.store.AddSchedule(c.Request.Context(), catalog.ScanSchedule{
		Name:       strings.TrimSpace(req.Name),
		Expression: req.Expression,
		Variant:    req.Variant,
		DeepScan:   req.DeepScan,
		Active:     active,
	})
	if errors.Is(err, catalog.ErrDuplicate) {
		respondError(c, http.StatusConflict, "schedule name already exists")
		return
	}
	if err != nil {
		a.logger.Error("add schedule failed", "error", err)
		respondError(c, http.StatusInternalServerError, "could not add schedule")
		return
	}
	c.JSON(http.StatusCreated, row)
}

// RemoveSchedule deletes one schedule by id.
func (a *API) RemoveSchedule(c *gin.Context) {
	a.removeByID(c, a.store.RemoveSchedule, "schedule")
}

// removeByID is the shared delete-by-id handler body.
func (a *API) removeByID(c *gin.Context, remove func(ctx context.Context, id int64) error, noun string) {
	id, err := idParam(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid id")
		return
	}
	err = remove(c.Request.Context(), id)
	if errors.Is(err, catalog.ErrNotFound) {
		respondError(c, http.StatusNotFound, "%s %d not found", noun, id)
		return
	}
	if err != nil {
		a.logger.Error("delete failed", "kind", noun, "id", id, "error", err)
		respondError(c, http.StatusInternalServerError, "could not delete %s", noun)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "deleted": true})
}
