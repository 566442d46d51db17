// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler submits recurring operations from the
// database-backed schedule table. Schedules are pure submission
// sources: every start goes through the engine's entry points, so an
// already-active variant simply skips a round.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/mediasentry/services/catalog"
	"github.com/AleutianAI/mediasentry/services/engine"
)

// ErrBadExpression rejects schedule expressions that do not parse.
var ErrBadExpression = errors.New("invalid schedule expression")

const (
	// pollInterval is how often due schedules are evaluated.
	pollInterval = time.Minute

	// minInterval is the smallest accepted schedule interval.
	minInterval = time.Minute
)

// ParseExpression validates an "interval:<duration>" expression and
// returns the interval.
func ParseExpression(expr string) (time.Duration, error) {
	raw, ok := strings.CutPrefix(expr, "interval:")
	if !ok {
		return 0, fmt.Errorf("%w: %q must start with \"interval:\"", ErrBadExpression, expr)
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadExpression, err)
	}
	if d < minInterval {
		return 0, fmt.Errorf("%w: interval %s below minimum %s", ErrBadExpression, d, minInterval)
	}
	return d, nil
}

// Scheduler polls the schedule table and submits due operations.
//
// Thread Safety: Start and Stop must be called from one goroutine.
type Scheduler struct {
	store  *catalog.Store
	engine *engine.Engine
	logger *slog.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a Scheduler over the given store and engine.
func New(store *catalog.Store, eng *engine.Engine, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:  store,
		engine: eng,
		logger: logger.With(slog.String("component", "scheduler")),
		stop:   make(chan struct{}),
	}
}

// Start launches the polling loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.Tick(context.Background(), time.Now().UTC())
			}
		}
	}()
}

// Stop halts the polling loop and waits for it to exit.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

// Tick evaluates every active schedule once, submitting the due ones.
// Exported so tests and the serve command can drive rounds directly.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	schedules, err := s.store.ListSchedules(ctx)
	if err != nil {
		s.logger.Error("could not list schedules", slog.Any("error", err))
		return
	}
	for _, schedule := range schedules {
		if !schedule.Active {
			continue
		}
		due, err := Due(schedule, now)
		if err != nil {
			s.logger.Warn("skipping schedule with bad expression",
				slog.String("name", schedule.Name),
				slog.String("expression", schedule.Expression),
				slog.Any("error", err))
			continue
		}
		if !due {
			continue
		}
		s.submit(ctx, schedule, now)
	}
}

// Due reports whether a schedule should fire at the given instant.
func Due(schedule catalog.ScanSchedule, now time.Time) (bool, error) {
	interval, err := ParseExpression(schedule.Expression)
	if err != nil {
		return false, err
	}
	if schedule.LastRun == nil {
		return true, nil
	}
	return now.Sub(schedule.LastRun.UTC()) >= interval, nil
}

func (s *Scheduler) submit(ctx context.Context, schedule catalog.ScanSchedule, now time.Time) {
	var err error
	switch schedule.Variant {
	case catalog.VariantScan:
		_, err = s.engine.StartScan(ctx, engine.ScanRequest{Deep: schedule.DeepScan})
	case catalog.VariantCleanup:
		_, err = s.engine.StartCleanup(ctx)
	case catalog.VariantFileChanges:
		_, err = s.engine.StartFileChanges(ctx)
	default:
		s.logger.Warn("schedule names unknown variant",
			slog.String("name", schedule.Name),
			slog.String("variant", schedule.Variant))
		return
	}

	switch {
	case errors.Is(err, engine.ErrOperationActive):
		// Busy variant; try again next round without touching last_run.
		return
	case err != nil:
		s.logger.Error("scheduled operation failed to start",
			slog.String("name", schedule.Name),
			slog.String("variant", schedule.Variant),
			slog.Any("error", err))
		return
	}

	if err := s.store.TouchSchedule(ctx, schedule.ID, now); err != nil {
		s.logger.Error("could not record schedule run",
			slog.String("name", schedule.Name), slog.Any("error", err))
	}
	s.logger.Info("scheduled operation submitted",
		slog.String("name", schedule.Name),
		slog.String("variant", schedule.Variant))
}
