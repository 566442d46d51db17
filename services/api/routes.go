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
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// writeEndpointsPerMinute is the per-client budget for endpoints that
// produce writes. Status and catalog reads are exempt.
const writeEndpointsPerMinute = 60

// Router assembles the full route table.
func (a *API) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	registerBindingRules()
	router := gin.New()
	router.Use(gin.Recovery(), corsMiddleware(), requestLogger(a.logger))

	router.GET("/health", a.Health)
	if a.registry != nil {
		router.GET("/metrics", gin.WrapH(
			promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))
	}

	writes := newRateLimiter(writeEndpointsPerMinute).middleware()

	v1 := router.Group("/api")
	{
		// Catalog queries.
		v1.GET("/scan-results", a.ListScanResults)
		v1.GET("/scan-results/:id", a.GetScanResult)
		v1.GET("/stats", a.GetStats)
		v1.GET("/system-info", a.SystemInfo)

		// Per-record flags.
		v1.POST("/scan-results/:id/mark-good", writes, a.MarkGood)
		v1.POST("/scan-results/:id/unmark-good", writes, a.UnmarkGood)
		v1.POST("/scan-results/:id/deep-scan", writes, a.RequestDeepScan)

		// File serving.
		v1.GET("/files/:id/stream", a.StreamFile)
		v1.GET("/files/:id/download", a.DownloadFile)

		// Operation control. Start endpoints return 409 while their
		// variant is active; cancels return 400 with nothing to cancel.
		scan := v1.Group("/scan")
		{
			scan.POST("/start", writes, a.StartScan)
			scan.POST("/rescan", writes, a.StartRescan)
			scan.POST("/cancel", writes, a.CancelScan)
			scan.POST("/recover", writes, a.RecoverScan)
			scan.GET("/status", a.ScanStatus)
		}
		cleanup := v1.Group("/cleanup")
		{
			cleanup.POST("/start", writes, a.StartCleanup)
			cleanup.POST("/cancel", writes, a.CancelCleanup)
			cleanup.POST("/reset", writes, a.ResetCleanup)
			cleanup.GET("/status", a.CleanupStatus)
		}
		fileChanges := v1.Group("/file-changes")
		{
			fileChanges.POST("/start", writes, a.StartFileChanges)
			fileChanges.POST("/cancel", writes, a.CancelFileChanges)
			fileChanges.POST("/reset", writes, a.ResetFileChanges)
			fileChanges.GET("/status", a.FileChangesStatus)
		}

		// Administration.
		v1.GET("/exclusions", a.ListExclusions)
		v1.POST("/exclusions", writes, a.AddExclusion)
		v1.DELETE("/exclusions/:id", writes, a.RemoveExclusion)

		v1.GET("/ignored-patterns", a.ListIgnoredPatterns)
		v1.POST("/ignored-patterns", writes, a.AddIgnoredPattern)
		v1.DELETE("/ignored-patterns/:id", writes, a.RemoveIgnoredPattern)

		v1.GET("/scan-configurations", a.ListScanConfigurations)
		v1.POST("/scan-configurations", writes, a.AddScanConfiguration)
		v1.DELETE("/scan-configurations/:id", writes, a.RemoveScanConfiguration)

		v1.GET("/schedules", a.ListSchedules)
		v1.POST("/schedules", writes, a.AddSchedule)
		v1.DELETE("/schedules/:id", writes, a.RemoveSchedule)

		// Reports.
		v1.GET("/reports", a.ListReports)
		v1.GET("/reports/latest/:type", a.LatestReport)
		v1.GET("/reports/:id", a.GetReport)
		v1.DELETE("/reports/:id", writes, a.DeleteReport)
		v1.POST("/reports/download", a.DownloadReports)
	}

	return router
}

// Health is the liveness endpoint.
func (a *API) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
