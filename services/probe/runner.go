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
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/AleutianAI/mediasentry/pkg/validation"
)

// Output capture limits. Tool output is truncated to maxOutputChars
// first, then to maxOutputLines, each step appending its sentinel.
const (
	maxOutputChars = 5000
	maxOutputLines = 100

	charTruncationSentinel = "... [output truncated]"
	lineTruncationSentinel = "... [remaining lines truncated]"
)

// Tool binary names probed on the PATH.
const (
	toolFFmpeg  = "ffmpeg"
	toolFFprobe = "ffprobe"
	toolMagick  = "magick"
)

// ErrToolUnavailable is returned when a required binary is not on the
// PATH.
var ErrToolUnavailable = errors.New("probe tool not available")

// Tools tracks which external binaries were found at startup.
//
// Thread Safety: Immutable after DetectTools.
type Tools struct {
	FFmpeg  bool
	FFprobe bool
	Magick  bool
}

// DetectTools probes the PATH for each external tool, logging a
// warning for any that is missing. Missing tools degrade the affected
// pipelines to whatever the remaining checks can decide.
func DetectTools(logger *slog.Logger) Tools {
	if logger == nil {
		logger = slog.Default()
	}
	tools := Tools{}
	for _, t := range []struct {
		name  string
		found *bool
	}{
		{toolFFmpeg, &tools.FFmpeg},
		{toolFFprobe, &tools.FFprobe},
		{toolMagick, &tools.Magick},
	} {
		_, err := exec.LookPath(t.name)
		*t.found = err == nil
		if err == nil {
			logger.Info("probe tool available", slog.String("tool", t.name))
		} else {
			logger.Warn("probe tool not installed", slog.String("tool", t.name))
		}
	}
	return tools
}

// runResult is the raw outcome of one external-tool invocation.
type runResult struct {
	// Output is stdout+stderr, untruncated. Callers classify it and
	// store TruncateOutput of it.
	Output string

	// ExitCode is the tool's exit code; -1 when the process did not
	// run or was killed.
	ExitCode int

	// TimedOut is true when the per-call timeout expired.
	TimedOut bool
}

// runTool invokes one external tool with an argument list (never a
// shell) and an overall timeout.
//
// Description:
//
//	Arguments are validated against the shell-metacharacter blacklist
//	before the process starts; a rejection is returned as an error so
//	the caller can audit-log it. A non-zero exit is not an error here:
//	exit codes and stderr content are classification inputs.
func runTool(ctx context.Context, name string, args []string, timeout time.Duration) (runResult, error) {
	if err := validation.CheckToolArgs(args); err != nil {
		return runResult{}, fmt.Errorf("unsafe tool invocation: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	out, err := cmd.CombinedOutput()

	result := runResult{Output: string(out), ExitCode: -1}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}
	if runCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		return result, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Tool ran and failed; that is a verdict input.
			return result, nil
		}
		if errors.Is(err, exec.ErrNotFound) {
			return result, fmt.Errorf("%w: %s", ErrToolUnavailable, name)
		}
		return result, fmt.Errorf("run %s: %w", name, err)
	}
	return result, nil
}

// TruncateOutput bounds captured tool output for storage: at most
// maxOutputChars characters, then at most maxOutputLines lines, with a
// sentinel appended at each truncation point.
func TruncateOutput(output string) string {
	if len(output) > maxOutputChars {
		output = output[:maxOutputChars] + "\n" + charTruncationSentinel
	}
	lines := strings.Split(output, "\n")
	if len(lines) > maxOutputLines {
		lines = append(lines[:maxOutputLines], lineTruncationSentinel)
	}
	return strings.Join(lines, "\n")
}

// decodeTimeout computes the dynamic timeout for the primary video
// decode: 30 s plus 10 s per GiB, capped at 300 s.
func decodeTimeout(fileSize int64) time.Duration {
	const gib = int64(1 << 30)
	seconds := 30 + 10*float64(fileSize)/float64(gib)
	if seconds > 300 {
		seconds = 300
	}
	return time.Duration(seconds * float64(time.Second))
}
