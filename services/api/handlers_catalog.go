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
	"errors"
	"net/http"
	"os"
	"runtime"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/mediasentry/services/catalog"
)

// ListScanResults serves the paginated catalog listing.
//
// Query parameters: status (pending|scanning|completed|error or the
// effective-health pseudo statuses corrupted|healthy|warning), search
// (substring on file_path), sort_by (whitelisted column), sort_order
// (asc|desc), limit, offset.
func (a *API) ListScanResults(c *gin.Context) {
	limit, err := intQuery(c, "limit", 100)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid limit: %v", err)
		return
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid offset: %v", err)
		return
	}

	filter := catalog.ListFilter{
		Search:   c.Query("search"),
		SortBy:   c.Query("sort_by"),
		SortDesc: c.Query("sort_order") == "desc",
		Limit:    limit,
		Offset:   offset,
	}
	// The status parameter accepts both raw scan statuses and the
	// effective-health pseudo statuses.
	yes := true
	switch status := c.Query("status"); status {
	case "":
	case "corrupted":
		filter.Corrupted = &yes
	case "warning":
		filter.Warnings = &yes
	case "healthy":
		no := false
		filter.Corrupted = &no
	case "marked_good":
		filter.MarkedGood = &yes
	case catalog.StatusPending, catalog.StatusScanning, catalog.StatusCompleted, catalog.StatusError:
		filter.Status = status
	default:
		respondError(c, http.StatusBadRequest, "unknown status %q", status)
		return
	}
	results, total, err := a.store.ListScanResults(c.Request.Context(), filter)
	if err != nil {
		if errors.Is(err, catalog.ErrInvalidSort) {
			respondError(c, http.StatusBadRequest, "%v", err)
			return
		}
		a.logger.Error("list scan results failed", "error", err)
		respondError(c, http.StatusInternalServerError, "could not list scan results")
		return
	}
	if results == nil {
		results = []catalog.ScanResult{}
	}
	c.JSON(http.StatusOK, gin.H{
		"results": results,
		"total":   total,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// GetScanResult serves one catalog row by id.
func (a *API) GetScanResult(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid id")
		return
	}
	result, err := a.store.GetScanResult(c.Request.Context(), id)
	if errors.Is(err, catalog.ErrNotFound) {
		respondError(c, http.StatusNotFound, "scan result %d not found", id)
		return
	}
	if err != nil {
		a.logger.Error("get scan result failed", "error", err)
		respondError(c, http.StatusInternalServerError, "could not load scan result")
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetStats serves the single-pass catalog aggregates.
func (a *API) GetStats(c *gin.Context) {
	stats, err := a.store.GetStats(c.Request.Context())
	if err != nil {
		a.logger.Error("stats query failed", "error", err)
		respondError(c, http.StatusInternalServerError, "could not compute statistics")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// SystemInfo reports host facts, tool availability, and storage
// footprint.
func (a *API) SystemInfo(c *gin.Context) {
	hostname, _ := os.Hostname()

	var dbSize int64
	if info, err := os.Stat(a.cfg.DatabasePath()); err == nil {
		dbSize = info.Size()
	}

	var mediaBytes int64
	if err := a.store.DB().GetContext(c.Request.Context(), &mediaBytes,
		`SELECT COALESCE(SUM(file_size), 0) FROM scan_results`); err != nil {
		a.logger.Warn("media size aggregate failed", "error", err)
	}

	stats, err := a.store.GetStats(c.Request.Context())
	if err != nil {
		a.logger.Error("stats query failed", "error", err)
		respondError(c, http.StatusInternalServerError, "could not compute statistics")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"hostname":         hostname,
		"platform":         runtime.GOOS + "/" + runtime.GOARCH,
		"cpu_count":        runtime.NumCPU(),
		"go_version":       runtime.Version(),
		"max_workers":      a.cfg.MaxWorkers,
		"scan_roots":       a.cfg.ScanRoots,
		"database_size":    humanize.Bytes(uint64(dbSize)),
		"total_media_size": humanize.Bytes(uint64(mediaBytes)),
		"catalog":          stats,
		"tools": gin.H{
			"ffmpeg":  a.tools.FFmpeg,
			"ffprobe": a.tools.FFprobe,
			"magick":  a.tools.Magick,
		},
	})
}

// MarkGood sets the user health override on one row.
func (a *API) MarkGood(c *gin.Context)   { a.setMarkedGood(c, true) }
func (a *API) UnmarkGood(c *gin.Context) { a.setMarkedGood(c, false) }

func (a *API) setMarkedGood(c *gin.Context, marked bool) {
	id, err := idParam(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid id")
		return
	}
	err = a.store.SetMarkedAsGood(c.Request.Context(), id, marked)
	if errors.Is(err, catalog.ErrNotFound) {
		respondError(c, http.StatusNotFound, "scan result %d not found", id)
		return
	}
	if err != nil {
		a.logger.Error("mark-good update failed", "error", err)
		respondError(c, http.StatusInternalServerError, "could not update record")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "marked_as_good": marked})
}

// RequestDeepScan flags one row for the enhanced checks on its next
// scan.
func (a *API) RequestDeepScan(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid id")
		return
	}
	err = a.store.SetDeepScan(c.Request.Context(), id, true)
	if errors.Is(err, catalog.ErrNotFound) {
		respondError(c, http.StatusNotFound, "scan result %d not found", id)
		return
	}
	if err != nil {
		a.logger.Error("deep-scan update failed", "error", err)
		respondError(c, http.StatusInternalServerError, "could not update record")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "deep_scan": true})
}

func idParam(c *gin.Context) (int64, error) {
	return strconv.ParseInt(c.Param("id"), 10, 64)
}

func intQuery(c *gin.Context, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
