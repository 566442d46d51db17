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
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/mediasentry/services/catalog"
)

// ListReports serves the report history with optional type filter and
// pagination.
func (a *API) ListReports(c *gin.Context) {
	limit, err := intQuery(c, "limit", 50)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid limit: %v", err)
		return
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid offset: %v", err)
		return
	}
	reports, total, err := a.store.ListReports(c.Request.Context(), c.Query("type"), limit, offset)
	if err != nil {
		a.logger.Error("list reports failed", "error", err)
		respondError(c, http.StatusInternalServerError, "could not list reports")
		return
	}
	if reports == nil {
		reports = []catalog.ScanReport{}
	}
	c.JSON(http.StatusOK, gin.H{
		"reports": reports,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// GetReport serves one report by id.
func (a *API) GetReport(c *gin.Context) {
	report, err := a.store.GetReport(c.Request.Context(), c.Param("id"))
	if errors.Is(err, catalog.ErrNotFound) {
		respondError(c, http.StatusNotFound, "report not found")
		return
	}
	if err != nil {
		a.logger.Error("get report failed", "error", err)
		respondError(c, http.StatusInternalServerError, "could not load report")
		return
	}
	c.JSON(http.StatusOK, report)
}

// LatestReport serves the newest report of one type.
func (a *API) LatestReport(c *gin.Context) {
	scanType := c.Param("type")
	switch scanType {
	case catalog.VariantScan, catalog.VariantCleanup, catalog.VariantFileChanges:
	default:
		respondError(c, http.StatusBadRequest, "unknown report type %q", scanType)
		return
	}
	report, err := a.store.LatestReport(c.Request.Context(), scanType)
	if errors.Is(err, catalog.ErrNotFound) {
		respondError(c, http.StatusNotFound, "no %s reports yet", scanType)
		return
	}
	if err != nil {
		a.logger.Error("latest report failed", "error", err)
		respondError(c, http.StatusInternalServerError, "could not load report")
		return
	}
	c.JSON(http.StatusOK, report)
}

// DeleteReport removes one report.
func (a *API) DeleteReport(c *gin.Context) {
	id := c.Param("id")
	err := a.store.DeleteReport(c.Request.Context(), id)
	if errors.Is(err, catalog.ErrNotFound) {
		respondError(c, http.StatusNotFound, "report not found")
		return
	}
	if err != nil {
		a.logger.Error("delete report failed", "error", err)
		respondError(c, http.StatusInternalServerError, "could not delete report")
		return
	}
	c.JSON(http.StatusOK, gin.H{"report_id": id, "deleted": true})
}

type downloadReportsRequest struct {
	ReportIDs []string `json:"report_ids" binding:"required,min=1"`
}

// DownloadReports bundles the requested reports into one JSON
// attachment.
func (a *API) DownloadReports(c *gin.Context) {
	var req downloadReportsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	reports := make([]catalog.ScanReport, 0, len(req.ReportIDs))
	for _, id := range req.ReportIDs {
		report, err := a.store.GetReport(c.Request.Context(), id)
		if errors.Is(err, catalog.ErrNotFound) {
			respondError(c, http.StatusNotFound, "report %s not found", id)
			return
		}
		if err != nil {
			a.logger.Error("bundle load failed", "error", err)
			respondError(c, http.StatusInternalServerError, "could not load reports")
			return
		}
		reports = append(reports, *report)
	}

	filename := fmt.Sprintf("mediasentry-reports-%s.json", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.JSON(http.StatusOK, gin.H{
		"generated_at": time.Now().UTC(),
		"reports":      reports,
	})
}
