// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package probe

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Register decoders for the header and load checks.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const imageProbeTimeout = 30 * time.Second

// probeImage runs the image pipeline:
//
//  1. Header verification with the in-process decoder.
//  2. Full decode plus a cheap pixel transform, which catches
//     truncation the header check misses.
//  3. External raster identify with stderr classification.
//  4. For GIF and WebP, an ffmpeg acceptance check backing the
//     demotion heuristics.
func (p *Prober) probeImage(ctx context.Context, path string, ignored []string) Result {
	ext := strings.ToLower(filepath.Ext(path))

	var corruptParts, warningParts, outputParts []string

	headerErr := decodeImageHeader(path)
	if headerErr != nil {
		corruptParts = append(corruptParts, fmt.Sprintf("header check failed: %v", headerErr))
		outputParts = append(outputParts, "header: FAIL")
	} else {
		outputParts = append(outputParts, "header: PASS")

		if loadErr := loadAndTransform(path); loadErr != nil {
			corruptParts = append(corruptParts, fmt.Sprintf("load check failed: %v", loadErr))
			outputParts = append(outputParts, "load: FAIL")
		} else {
			outputParts = append(outputParts, "load: PASS")
		}
	}

	rasterCorrupt := false
	if p.tools.Magick {
		run, err := runTool(ctx, toolMagick, []string{"identify", "-verbose", path}, imageProbeTimeout)
		switch {
		case err != nil:
			warningParts = append(warningParts, fmt.Sprintf("identify unavailable: %v", err))
		case run.TimedOut:
			corruptParts = append(corruptParts, "identify timed out")
			rasterCorrupt = true
		default:
			outputParts = append(outputParts, run.Output)
			c := classifyRasterOutput(run.Output, ignored)
			warningParts = append(warningParts, c.WarningLines...)
			if c.corrupted() {
				corruptParts = append(corruptParts, c.CorruptLines...)
				rasterCorrupt = true
			}
		}
	}

	// GIF demotion: header complaints on a GIF that ffmpeg decodes
	// cleanly mean the file is typically displayable.
	if ext == ".gif" && len(corruptParts) > 0 && p.ffmpegAccepts(ctx, path, ignored) {
		demotable := true
		for _, line := range corruptParts {
			if !isGIFHeaderComplaint(line) && !strings.HasPrefix(line, "header check failed") &&
				!strings.HasPrefix(line, "load check failed") {
				demotable = false
				break
			}
		}
		if demotable {
			warningParts = append(warningParts, corruptParts...)
			warningParts = append(warningParts, "GIF accepted by decoder despite header complaints")
			corruptParts = nil
		}
	}

	// WebP demotion: EXIF complaints alone do not fail a file whose
	// header and identify steps otherwise pass.
	if ext == ".webp" && len(corruptParts) > 0 && headerErr == nil && !rasterCorrupt {
		demotable := true
		for _, line := range corruptParts {
			if !isEXIFComplaint(line) {
				demotable = false
				break
			}
		}
		if demotable {
			warningParts = append(warningParts, corruptParts...)
			corruptParts = nil
		}
	}

	result := Result{
		Tool:           "image-decoder",
		Output:         TruncateOutput(strings.Join(outputParts, "\n")),
		Details:        joinDetails(corruptParts...),
		WarningDetails: joinDetails(warningParts...),
	}
	if p.tools.Magick {
		result.Tool = "magick"
	}
	switch {
	case len(corruptParts) > 0:
		result.Status = StatusCorrupted
	case len(warningParts) > 0:
		result.Status = StatusWarning
	default:
		result.Status = StatusHealthy
	}
	return result
}

// decodeImageHeader verifies the file header with the registered
// in-process decoders.
func decodeImageHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	config, _, err := image.DecodeConfig(f)
	if err != nil {
		return err
	}
	if config.Width <= 0 || config.Height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", config.Width, config.Height)
	}
	return nil
}

// loadAndTransform fully decodes the image and samples a pixel grid.
// A truncated file either fails the decode or produces a zero-area
// bounds; the sampling pass forces the decoder to materialize pixels.
func loadAndTransform(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return err
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return fmt.Errorf("decoded image has empty bounds %v", bounds)
	}

	stepX := max(bounds.Dx()/64, 1)
	stepY := max(bounds.Dy()/64, 1)
	var luma uint64
	for y := bounds.Min.Y; y < bounds.Max.Y; y += stepY {
		for x := bounds.Min.X; x < bounds.Max.X; x += stepX {
			r, g, b, _ := img.At(x, y).RGBA()
			luma += uint64(r + g + b)
		}
	}
	_ = luma
	return nil
}

// ffmpegAccepts reports whether ffmpeg decodes the file to the null
// sink without corruption-classified complaints.
func (p *Prober) ffmpegAccepts(ctx context.Context, path string, ignored []string) bool {
	if !p.tools.FFmpeg {
		return false
	}
	run, err := runTool(ctx, toolFFmpeg,
		[]string{"-v", "error", "-i", path, "-f", "null", "-"}, imageProbeTimeout)
	if err != nil || run.TimedOut || run.ExitCode != 0 {
		return false
	}
	return !classifyDecodeOutput(run.Output, ignored).corrupted()
}
