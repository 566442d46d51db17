// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes the HTTP surface: catalog queries, operation
// control and status, administration, reports, and file streaming.
//
// All non-streaming endpoints speak JSON. Status endpoints read the
// persisted operation row only; they never walk trees or scan tables.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/mediasentry/services/catalog"
	"github.com/AleutianAI/mediasentry/services/config"
	"github.com/AleutianAI/mediasentry/services/engine"
	"github.com/AleutianAI/mediasentry/services/probe"
)

// API bundles the dependencies the handlers need.
type API struct {
	store  *catalog.Store
	engine *engine.Engine
	cfg    *config.Config
	tools  probe.Tools
	logger *slog.Logger

	// registry backs the /metrics endpoint.
	registry *prometheus.Registry
}

// New builds the handler set. registry may be nil to disable /metrics.
func New(store *catalog.Store, eng *engine.Engine, cfg *config.Config,
	tools probe.Tools, registry *prometheus.Registry, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		store:    store,
		engine:   eng,
		cfg:      cfg,
		tools:    tools,
		logger:   logger.With(slog.String("component", "api")),
		registry: registry,
	}
}

// Server wraps the HTTP listener for graceful shutdown.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds the production server around a configured router.
func NewServer(a *API, port int) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           a.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: a.logger,
	}
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("http server listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// errorResponse is the uniform JSON error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

func respondError(c *gin.Context, status int, format string, args ...any) {
	c.JSON(status, errorResponse{Error: fmt.Sprintf(format, args...)})
}
