// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package discovery walks the configured media roots and returns the
// files not yet present in the catalog.
package discovery

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/mediasentry/services/probe"
)

// progressEvery is how many examined files pass between progress
// callbacks.
const progressEvery = 100

// File is one newly discovered media file.
type File struct {
	Path     string
	Size     int64
	ModTime  time.Time
	FileType string
}

// Options configures a walk.
type Options struct {
	// Roots are the absolute directories to walk. Each root gets its
	// own worker.
	Roots []string

	// ExcludedPaths are directory prefixes to skip entirely.
	ExcludedPaths []string

	// ExcludedExtensions are lowercase extensions (with dot) to skip.
	ExcludedExtensions []string

	// Existing holds paths already in the catalog; matches are counted
	// as examined but not returned.
	Existing map[string]bool

	// Limit caps the number of discovered files across all roots.
	// Zero means unlimited.
	Limit int

	// MaxWorkers bounds the per-root parallelism. The effective worker
	// count is min(MaxWorkers, len(Roots)).
	MaxWorkers int

	// Progress, if set, is called roughly every progressEvery examined
	// files with the running examined and discovered totals.
	Progress func(examined, discovered int64)

	// Cancelled, if set, is polled at directory boundaries; a true
	// return stops the walk without error.
	Cancelled func() bool
}

// Walk traverses every root in parallel and returns the supported
// media files that are not already in the catalog, ordered by
// modification time ascending so older files scan first.
//
// Edge cases:
//   - Unreadable directories are logged and skipped, never fatal.
//   - The discovery limit is shared across roots; once reached every
//     worker stops.
func Walk(ctx context.Context, opts Options, logger *slog.Logger) ([]File, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		mu         sync.Mutex
		discovered []File
		examined   atomic.Int64
		found      atomic.Int64
	)

	workers := opts.MaxWorkers
	if workers <= 0 || workers > len(opts.Roots) {
		workers = len(opts.Roots)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, root := range opts.Roots {
		root := root
		g.Go(func() error {
			return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					logger.Warn("discovery skipping unreadable entry",
						slog.String("path", path), slog.Any("error", err))
					if d != nil && d.IsDir() {
						return filepath.SkipDir
					}
					return nil
				}

				if d.IsDir() {
					if gctx.Err() != nil {
						return filepath.SkipAll
					}
					if opts.Cancelled != nil && opts.Cancelled() {
						return filepath.SkipAll
					}
					if excludedPath(path, opts.ExcludedPaths) {
						return filepath.SkipDir
					}
					return nil
				}

				if opts.Limit > 0 && found.Load() >= int64(opts.Limit) {
					return filepath.SkipAll
				}

				if !probe.Supported(path) || excludedExtension(path, opts.ExcludedExtensions) ||
					excludedPath(path, opts.ExcludedPaths) {
					return nil
				}

				n := examined.Add(1)
				if opts.Progress != nil && n%progressEvery == 0 {
					opts.Progress(n, found.Load())
				}

				if opts.Existing[path] {
					return nil
				}

				info, err := d.Info()
				if err != nil {
					logger.Warn("discovery could not stat file",
						slog.String("path", path), slog.Any("error", err))
					return nil
				}

				if n := found.Add(1); opts.Limit > 0 && n > int64(opts.Limit) {
					found.Add(-1)
					return filepath.SkipAll
				}

				mu.Lock()
				discovered = append(discovered, File{
					Path:     path,
					Size:     info.Size(),
					ModTime:  info.ModTime(),
					FileType: probe.MIMEType(path),
				})
				mu.Unlock()
				return nil
			})
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(discovered, func(i, j int) bool {
		if !discovered[i].ModTime.Equal(discovered[j].ModTime) {
			return discovered[i].ModTime.Before(discovered[j].ModTime)
		}
		return discovered[i].Path < discovered[j].Path
	})

	if opts.Progress != nil {
		opts.Progress(examined.Load(), int64(len(discovered)))
	}
	logger.Info("discovery complete",
		slog.Int64("examined", examined.Load()),
		slog.Int("discovered", len(discovered)))
	return discovered, nil
}

// excludedPath reports whether path is at or under any excluded
// prefix. Comparison is segment-wise so /media/tv does not exclude
// /media/tvshows.
func excludedPath(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix == "" {
			continue
		}
		prefix = strings.TrimRight(prefix, "/")
		if path == prefix || strings.HasPrefix(path, prefix+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func excludedExtension(path string, extensions []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range extensions {
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}
