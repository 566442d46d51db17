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
	"log/slog"
	"os"
	"strings"
	"time"
)

// PatternSource supplies the user-managed ignored error patterns. The
// catalog store satisfies this.
type PatternSource interface {
	ActiveIgnoredPatterns(ctx context.Context) ([]string, error)
}

// Prober inspects individual media files and returns verdicts. It
// never writes to the catalog.
//
// Thread Safety: Safe for concurrent use; all state is immutable after
// construction.
type Prober struct {
	tools    Tools
	patterns PatternSource
	logger   *slog.Logger
}

// NewProber builds a Prober with the detected tool set. patterns may
// be nil, in which case no lines are ignored.
func NewProber(tools Tools, patterns PatternSource, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{tools: tools, patterns: patterns, logger: logger}
}

// Probe inspects one file and returns its verdict.
//
// Description:
//
//	Dispatches to the video, image, or audio pipeline by extension.
//	Unsupported types return a healthy verdict with Tool set to
//	"unsupported" so they are recorded without penalty. Any failure of
//	the probing machinery itself (missing file, tool errors, decoder
//	panics) yields StatusError, never a corruption verdict.
//
// Inputs:
//   - ctx: Cancellation for the external tool invocations.
//   - path: Absolute path of the file to inspect.
//   - deep: Forces the enhanced video checks regardless of suspicion.
//
// Outputs:
//   - Result: Verdict with details, tool name, truncated output, and
//     wall-clock duration.
func (p *Prober) Probe(ctx context.Context, path string, deep bool) (result Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("probe panicked",
				slog.String("path", path), slog.Any("panic", r))
			result = Result{
				Status:  StatusError,
				Details: fmt.Sprintf("probe failure: %v", r),
				Tool:    "prober",
			}
		}
		result.Duration = time.Since(start)
	}()

	info, err := os.Stat(path)
	if err != nil {
		return Result{
			Status:  StatusError,
			Details: fmt.Sprintf("file not accessible: %v", err),
			Tool:    "prober",
		}
	}
	if info.Size() == 0 {
		return Result{
			Status:  StatusCorrupted,
			Details: "file is empty",
			Tool:    "prober",
		}
	}

	ignored := p.ignoredPatterns(ctx)

	switch KindForPath(path) {
	case KindVideo:
		return p.probeVideo(ctx, path, info.Size(), deep, ignored)
	case KindImage:
		return p.probeImage(ctx, path, ignored)
	case KindAudio:
		return p.probeAudio(ctx, path, ignored)
	default:
		return Result{Status: StatusHealthy, Tool: "unsupported"}
	}
}

func (p *Prober) ignoredPatterns(ctx context.Context) []string {
	if p.patterns == nil {
		return nil
	}
	patterns, err := p.patterns.ActiveIgnoredPatterns(ctx)
	if err != nil {
		p.logger.Warn("could not load ignored patterns", slog.Any("error", err))
		return nil
	}
	return patterns
}

// probeAudio verifies an audio file: structural probe for a decodable
// audio stream, then a full decode to the null sink. EXIF and other
// metadata complaints classify as warnings.
func (p *Prober) probeAudio(ctx context.Context, path string, ignored []string) Result {
	if !p.tools.FFmpeg || !p.tools.FFprobe {
		return Result{
			Status:  StatusError,
			Details: "ffmpeg/ffprobe not available",
			Tool:    toolFFmpeg,
		}
	}

	var corruptParts, warningParts, outputParts []string

	report, structuralOut, structuralErr := p.structuralProbe(ctx, path)
	outputParts = append(outputParts, structuralOut)
	switch {
	case structuralErr == errStructuralTimeout:
		warningParts = append(warningParts, "structural probe timed out")
	case structuralErr != nil:
		corruptParts = append(corruptParts, structuralErr.Error())
	case !report.hasStream("audio"):
		corruptParts = append(corruptParts, "no audio stream found")
	}

	run, err := runTool(ctx, toolFFmpeg,
		[]string{"-v", "error", "-i", path, "-f", "null", "-"},
		decodeTimeout(0))
	if err != nil {
		return Result{Status: StatusError, Details: err.Error(), Tool: toolFFmpeg}
	}
	outputParts = append(outputParts, run.Output)
	if run.TimedOut {
		corruptParts = append(corruptParts, "decode timed out")
	}
	class := classifyDecodeOutput(run.Output, ignored)
	warningParts = append(warningParts, class.WarningLines...)
	corruptParts = append(corruptParts, class.CorruptLines...)

	result := Result{
		Tool:           toolFFmpeg,
		Output:         TruncateOutput(strings.Join(outputParts, "\n")),
		Details:        joinDetails(dedupe(corruptParts)...),
		WarningDetails: joinDetails(dedupe(warningParts)...),
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
