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
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/mediasentry/services/catalog"
	"github.com/AleutianAI/mediasentry/services/engine"
)

// startScanRequest is the body for POST /api/scan/start.
type startScanRequest struct {
	Deep bool `json:"deep"`
}

// rescanRequest is the body for POST /api/scan/rescan.
type rescanRequest struct {
	FilePaths []string `json:"file_paths" binding:"required,min=1,dive,abspath"`
	Deep      bool     `json:"deep"`
}

// StartScan launches a full scan.
func (a *API) StartScan(c *gin.Context) {
	var req startScanRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
	}
	opID, err := a.engine.StartScan(c.Request.Context(), engine.ScanRequest{Deep: req.Deep})
	a.respondStart(c, catalog.VariantScan, opID, err)
}

// StartRescan launches a targeted rescan of explicit paths.
func (a *API) StartRescan(c *gin.Context) {
	var req rescanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	opID, err := a.engine.StartScan(c.Request.Context(), engine.ScanRequest{
		Rescan: true,
		Paths:  req.FilePaths,
		Deep:   req.Deep,
	})
	a.respondStart(c, catalog.VariantScan, opID, err)
}

// StartCleanup launches an orphan cleanup.
func (a *API) StartCleanup(c *gin.Context) {
	opID, err := a.engine.StartCleanup(c.Request.Context())
	a.respondStart(c, catalog.VariantCleanup, opID, err)
}

// StartFileChanges launches a file-change check.
func (a *API) StartFileChanges(c *gin.Context) {
	opID, err := a.engine.StartFileChanges(c.Request.Context())
	a.respondStart(c, catalog.VariantFileChanges, opID, err)
}

func (a *API) respondStart(c *gin.Context, variant, opID string, err error) {
	switch {
	case errors.Is(err, engine.ErrOperationActive):
		respondError(c, http.StatusConflict, "a %s operation is already active", variant)
	case errors.Is(err, engine.ErrNoRootsConfigured):
		respondError(c, http.StatusBadRequest, "no scan roots configured")
	case err != nil:
		a.logger.Error("operation start failed", "variant", variant, "error", err)
		respondError(c, http.StatusInternalServerError, "could not start %s", variant)
	default:
		c.JSON(http.StatusOK, gin.H{
			"operation_id": opID,
			"variant":      variant,
			"status":       "started",
		})
	}
}

// CancelScan, CancelCleanup, and CancelFileChanges request cooperative
// cancellation. The response acknowledges the request; the persisted
// row transitions at the worker's next check point.
func (a *API) CancelScan(c *gin.Context)        { a.cancel(c, catalog.VariantScan) }
func (a *API) CancelCleanup(c *gin.Context)     { a.cancel(c, catalog.VariantCleanup) }
func (a *API) CancelFileChanges(c *gin.Context) { a.cancel(c, catalog.VariantFileChanges) }

func (a *API) cancel(c *gin.Context, variant string) {
	err := a.engine.Cancel(c.Request.Context(), variant)
	if errors.Is(err, engine.ErrNoActiveOperation) {
		respondError(c, http.StatusBadRequest, "no active %s operation", variant)
		return
	}
	if err != nil {
		a.logger.Error("cancel failed", "variant", variant, "error", err)
		respondError(c, http.StatusInternalServerError, "could not cancel %s", variant)
		return
	}
	c.JSON(http.StatusOK, gin.H{"variant": variant, "status": "cancel_requested"})
}

// RecoverScan clears state a dead process left behind: active rows
// become interrupted and stuck scanning rows return to pending.
func (a *API) RecoverScan(c *gin.Context) {
	if a.engine.Active(catalog.VariantScan) {
		respondError(c, http.StatusConflict, "a scan operation is running; cancel it first")
		return
	}
	if err := a.engine.Recover(c.Request.Context()); err != nil {
		a.logger.Error("recovery failed", "error", err)
		respondError(c, http.StatusInternalServerError, "recovery failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recovered"})
}

// ResetCleanup and ResetFileChanges force a stale active row for their
// variant out of the way when no worker exists in this process.
func (a *API) ResetCleanup(c *gin.Context)     { a.reset(c, catalog.VariantCleanup) }
func (a *API) ResetFileChanges(c *gin.Context) { a.reset(c, catalog.VariantFileChanges) }

func (a *API) reset(c *gin.Context, variant string) {
	if a.engine.Active(variant) {
		respondError(c, http.StatusConflict, "a %s operation is running; cancel it first", variant)
		return
	}
	_, err := a.store.ActiveOperation(c.Request.Context(), variant)
	if errors.Is(err, catalog.ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{"variant": variant, "status": "nothing_to_reset"})
		return
	}
	if err != nil {
		a.logger.Error("reset lookup failed", "variant", variant, "error", err)
		respondError(c, http.StatusInternalServerError, "could not reset %s", variant)
		return
	}
	if _, err := a.store.MarkInterrupted(c.Request.Context()); err != nil {
		a.logger.Error("reset failed", "variant", variant, "error", err)
		respondError(c, http.StatusInternalServerError, "could not reset %s", variant)
		return
	}
	c.JSON(http.StatusOK, gin.H{"variant": variant, "status": "reset"})
}

// ScanStatus, CleanupStatus, and FileChangesStatus serve the persisted
// operation row. They read one row by partial index; no tree walks, no
// table scans.
func (a *API) ScanStatus(c *gin.Context)        { a.status(c, catalog.VariantScan) }
func (a *API) CleanupStatus(c *gin.Context)     { a.status(c, catalog.VariantCleanup) }
func (a *API) FileChangesStatus(c *gin.Context) { a.status(c, catalog.VariantFileChanges) }

func (a *API) status(c *gin.Context, variant string) {
	state, err := a.store.LatestOperation(c.Request.Context(), variant)
	if errors.Is(err, catalog.ErrNotFound) {
		// The variant has never run.
		c.JSON(http.StatusOK, gin.H{"is_running": false, "variant": variant})
		return
	}
	if err != nil {
		a.logger.Error("status query failed", "variant", variant, "error", err)
		respondError(c, http.StatusInternalServerError, "could not load %s status", variant)
		return
	}

	body := gin.H{
		"variant":             variant,
		"operation_id":        state.OperationID,
		"is_running":          state.IsActive,
		"phase":               state.Phase,
		"phase_number":        state.PhaseNumber,
		"total_phases":        3,
		"phase_current":       state.PhaseCurrent,
		"phase_total":         state.PhaseTotal,
		"files_processed":     state.FilesProcessed,
		"total_files":         state.TotalFiles,
		"current_file":        state.CurrentFile,
		"progress_message":    state.ProgressMessage,
		"progress_percentage": engine.StatePercent(state),
		"cancel_requested":    state.CancelRequested,
	}
	if state.ErrorMessage != "" {
		body["error_message"] = state.ErrorMessage
	}
	if state.IsActive {
		body["start_time"] = state.StartTime
		body["duration_seconds"] = time.Since(state.StartTime).Seconds()
	} else if state.EndTime != nil {
		body["start_time"] = state.StartTime
		body["end_time"] = state.EndTime
		body["duration_seconds"] = state.EndTime.Sub(state.StartTime).Seconds()
	}

	switch variant {
	case catalog.VariantScan:
		body["estimated_total"] = state.EstimatedTotal
		body["discovery_count"] = state.DiscoveryCount
	case catalog.VariantCleanup:
		body["orphaned_found"] = state.OrphanedFound
	case catalog.VariantFileChanges:
		body["changes_found"] = state.ChangesFound
		body["corrupted_found"] = state.CorruptedFound
		if state.ChangedFilesJSON != "" {
			var changes []engine.ChangeDescriptor
			if json.Unmarshal([]byte(state.ChangedFilesJSON), &changes) == nil {
				body["changed_files"] = changes
			}
		}
	}
	c.JSON(http.StatusOK, body)
}
