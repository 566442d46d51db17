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
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

const (
	structuralTimeout = 30 * time.Second
	quickScanTimeout  = 30 * time.Second
	sampleTimeout     = 60 * time.Second

	// Size thresholds gating the expensive enhanced checks.
	signalStatsMinSize = int64(1 << 30) // 1 GiB
	multiPointMinSize  = int64(5 << 30) // 5 GiB

	// Frame loss thresholds for the frame integrity check.
	frameLossCorruptRatio = 0.05
	frameLossWarnRatio    = 0.01
)

// ffprobeReport mirrors the subset of `ffprobe -of json` output the
// video pipeline reads.
type ffprobeReport struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		RFrameRate   string `json:"r_frame_rate"`
		NbReadFrames string `json:"nb_read_frames"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// probeVideo runs the video pipeline:
//
//  1. Structural probe (ffprobe): stream layout and duration.
//  2. Bounded decode of the first 30 s with a size-scaled timeout.
//  3. A 10 s quick scan as a cheap second opinion.
//  4. Enhanced checks when corruption is suspected or deep mode is
//     requested: full frame count integrity, temporal outlier stats
//     for large files, multi-point sampling for very large files, and
//     a strict pattern pass over everything captured.
//
// A timeout is a warning for the structural probe but corruption for
// the bounded decode, since a healthy file decodes its first 30 s well
// inside the budget.
func (p *Prober) probeVideo(ctx context.Context, path string, fileSize int64, deep bool, ignored []string) Result {
	if !p.tools.FFmpeg || !p.tools.FFprobe {
		return Result{
			Status:  StatusError,
			Details: "ffmpeg/ffprobe not available",
			Tool:    toolFFmpeg,
		}
	}

	var corruptParts, warningParts, outputParts []string

	// Phase 1: structural.
	report, structuralOut, structuralErr := p.structuralProbe(ctx, path)
	outputParts = append(outputParts, structuralOut)
	duration := 0.0
	switch {
	case structuralErr == errStructuralTimeout:
		warningParts = append(warningParts, "structural probe timed out")
	case structuralErr != nil:
		corruptParts = append(corruptParts, structuralErr.Error())
	default:
		duration = report.duration()
		if !report.hasStream("video") {
			corruptParts = append(corruptParts, "no video stream found")
		}
		if duration <= 0 {
			warningParts = append(warningParts, "container reports no duration")
		}
	}

	// Phase 2: bounded decode of the leading 30 s.
	decodeRun, err := runTool(ctx, toolFFmpeg,
		[]string{"-v", "error", "-t", "30", "-i", path, "-f", "null", "-"},
		decodeTimeout(fileSize))
	if err != nil {
		return Result{Status: StatusError, Details: err.Error(), Tool: toolFFmpeg}
	}
	outputParts = append(outputParts, decodeRun.Output)
	if decodeRun.TimedOut {
		corruptParts = append(corruptParts, "decode timed out")
	}
	decodeClass := classifyDecodeOutput(decodeRun.Output, ignored)
	warningParts = append(warningParts, decodeClass.WarningLines...)
	corruptParts = append(corruptParts, decodeClass.CorruptLines...)

	// Phase 3: quick scan, a short re-decode that catches transient
	// tool failures in the primary decode.
	quickRun, err := runTool(ctx, toolFFmpeg,
		[]string{"-v", "error", "-t", "10", "-i", path, "-f", "null", "-"},
		quickScanTimeout)
	if err == nil && !quickRun.TimedOut {
		outputParts = append(outputParts, quickRun.Output)
		quickClass := classifyDecodeOutput(quickRun.Output, ignored)
		corruptParts = append(corruptParts, quickClass.CorruptLines...)
	}

	// Phase 4: enhanced checks.
	if len(corruptParts) > 0 || deep {
		enhanced := p.enhancedChecks(ctx, path, fileSize, duration, ignored)
		corruptParts = append(corruptParts, enhanced.CorruptLines...)
		warningParts = append(warningParts, enhanced.WarningLines...)
		outputParts = append(outputParts, enhanced.output...)

		if strict := strictErrors(strings.Join(outputParts, "\n"), ignored); len(strict) > 0 {
			corruptParts = append(corruptParts, strict...)
		}
	}

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

var errStructuralTimeout = fmt.Errorf("structural probe timed out")

// structuralProbe runs ffprobe and parses its JSON report.
func (p *Prober) structuralProbe(ctx context.Context, path string) (*ffprobeReport, string, error) {
	run, err := runTool(ctx, toolFFprobe,
		[]string{
			"-v", "error",
			"-show_entries", "stream=codec_type,codec_name,duration:format=duration",
			"-of", "json",
			path,
		}, structuralTimeout)
	if err != nil {
		return nil, "", err
	}
	if run.TimedOut {
		return nil, run.Output, errStructuralTimeout
	}
	if run.ExitCode != 0 {
		return nil, run.Output, fmt.Errorf("structural probe failed: %s",
			firstLine(run.Output))
	}
	var report ffprobeReport
	if err := json.Unmarshal([]byte(jsonPortion(run.Output)), &report); err != nil {
		return nil, run.Output, fmt.Errorf("structural probe produced unreadable output")
	}
	return &report, run.Output, nil
}

func (r *ffprobeReport) hasStream(codecType string) bool {
	for _, s := range r.Streams {
		if s.CodecType == codecType {
			return true
		}
	}
	return false
}

func (r *ffprobeReport) duration() float64 {
	if d, err := strconv.ParseFloat(r.Format.Duration, 64); err == nil && d > 0 {
		return d
	}
	for _, s := range r.Streams {
		if d, err := strconv.ParseFloat(s.Duration, 64); err == nil && d > 0 {
			return d
		}
	}
	return 0
}

// enhancedClass extends classification with the raw output of the
// enhanced tools, which feeds the strict pass.
type enhancedClass struct {
	classification
	output []string
}

// enhancedChecks runs the expensive integrity checks. Each check is
// size-gated so routine scans never pay for signalstats or multi-point
// sampling on small files.
func (p *Prober) enhancedChecks(ctx context.Context, path string, fileSize int64, duration float64, ignored []string) enhancedClass {
	var out enhancedClass

	// Frame count integrity.
	if verdict, raw := p.frameIntegrity(ctx, path, fileSize); verdict != "" {
		out.output = append(out.output, raw)
		if strings.HasPrefix(verdict, "frame loss") {
			out.CorruptLines = append(out.CorruptLines, verdict)
		} else {
			out.WarningLines = append(out.WarningLines, verdict)
		}
	}

	// Temporal outlier statistics for large files.
	if fileSize > signalStatsMinSize {
		if verdict, raw := p.temporalOutliers(ctx, path, fileSize, ignored); verdict != "" {
			out.output = append(out.output, raw)
			out.CorruptLines = append(out.CorruptLines, verdict)
		}
	}

	// Multi-point sampling for very large files.
	if fileSize > multiPointMinSize && duration > 30 {
		for _, offset := range []float64{0, duration / 2, duration - 10} {
			if offset < 0 {
				offset = 0
			}
			run, err := runTool(ctx, toolFFmpeg,
				[]string{
					"-v", "error",
					"-err_detect", "crccheck+bitstream+explode",
					"-ss", strconv.FormatFloat(offset, 'f', 1, 64),
					"-t", "10",
					"-i", path,
					"-f", "null", "-",
				}, sampleTimeout)
			if err != nil {
				continue
			}
			out.output = append(out.output, run.Output)
			if run.TimedOut || classifyDecodeOutput(run.Output, ignored).corrupted() {
				out.CorruptLines = append(out.CorruptLines,
					fmt.Sprintf("sample at %.0fs failed strict decode", offset))
			}
		}
	}

	return out
}

// frameIntegrity counts decodable frames and compares them against the
// frame count the container's rate and duration imply. Returns a
// verdict string ("" when the check passes or cannot run) and the raw
// tool output.
func (p *Prober) frameIntegrity(ctx context.Context, path string, fileSize int64) (string, string) {
	run, err := runTool(ctx, toolFFprobe,
		[]string{
			"-v", "error",
			"-count_frames",
			"-select_streams", "v:0",
			"-show_entries", "stream=nb_read_frames,r_frame_rate,duration",
			"-of", "json",
			path,
		}, decodeTimeout(fileSize))
	if err != nil || run.TimedOut || run.ExitCode != 0 {
		return "", ""
	}
	var report ffprobeReport
	if json.Unmarshal([]byte(jsonPortion(run.Output)), &report) != nil || len(report.Streams) == 0 {
		return "", run.Output
	}
	s := report.Streams[0]
	counted, err := strconv.ParseFloat(s.NbReadFrames, 64)
	if err != nil || counted <= 0 {
		return "", run.Output
	}
	fps := parseFrameRate(s.RFrameRate)
	dur, _ := strconv.ParseFloat(s.Duration, 64)
	if fps <= 0 || dur <= 0 {
		return "", run.Output
	}
	expected := fps * dur
	loss := (expected - counted) / expected
	switch {
	case loss >= frameLossCorruptRatio:
		return fmt.Sprintf("frame loss %.1f%% (%d of %d frames decodable)",
			loss*100, int64(counted), int64(expected)), run.Output
	case loss >= frameLossWarnRatio:
		return fmt.Sprintf("minor frame count inconsistency (%.1f%% loss)", loss*100), run.Output
	default:
		return "", run.Output
	}
}

// temporalOutliers decodes the file through signalstats and flags
// excessive temporal outliers (TOUT) or vertical line repetitions
// (VREP), both signatures of bitstream damage in large recordings.
func (p *Prober) temporalOutliers(ctx context.Context, path string, fileSize int64, ignored []string) (string, string) {
	run, err := runTool(ctx, toolFFmpeg,
		[]string{
			"-i", path,
			"-vf", "signalstats,metadata=mode=print",
			"-f", "null", "-",
		}, decodeTimeout(fileSize))
	if err != nil || run.TimedOut {
		return "", ""
	}

	var frames, toutHigh, vrepHigh int
	for _, line := range splitLines(run.Output) {
		switch {
		case strings.Contains(line, "lavfi.signalstats.TOUT="):
			frames++
			if v := metadataValue(line); v > 0.01 {
				toutHigh++
			}
		case strings.Contains(line, "lavfi.signalstats.VREP="):
			if v := metadataValue(line); v > 0.02 {
				vrepHigh++
			}
		}
	}
	if frames == 0 {
		return "", run.Output
	}
	if float64(toutHigh)/float64(frames) > 0.05 {
		p.logger.Debug("temporal outlier threshold exceeded",
			slog.String("path", path), slog.Int("frames", frames), slog.Int("high", toutHigh))
		return fmt.Sprintf("temporal outliers in %d of %d frames", toutHigh, frames), run.Output
	}
	if float64(vrepHigh)/float64(frames) > 0.10 {
		return fmt.Sprintf("vertical line repetition in %d of %d frames", vrepHigh, frames), run.Output
	}
	return "", run.Output
}

func metadataValue(line string) float64 {
	i := strings.LastIndexByte(line, '=')
	if i < 0 {
		return 0
	}
	v, _ := strconv.ParseFloat(strings.TrimSpace(line[i+1:]), 64)
	return v
}

// parseFrameRate parses ffprobe's "num/den" rational frame rate.
func parseFrameRate(rate string) float64 {
	num, den, ok := strings.Cut(rate, "/")
	if !ok {
		v, _ := strconv.ParseFloat(rate, 64)
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

// jsonPortion trims leading stderr noise ffprobe sometimes emits before
// the JSON document.
func jsonPortion(output string) string {
	if i := strings.IndexByte(output, '{'); i >= 0 {
		return output[i:]
	}
	return output
}

func firstLine(output string) string {
	lines := splitLines(output)
	if len(lines) == 0 {
		return "no output"
	}
	return lines[0]
}

func dedupe(lines []string) []string {
	seen := make(map[string]bool, len(lines))
	var kept []string
	for _, line := range lines {
		if line == "" || seen[line] {
			continue
		}
		seen[line] = true
		kept = append(kept, line)
	}
	return kept
}
