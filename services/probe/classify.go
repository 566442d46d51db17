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
	"strings"
)

// =============================================================================
// Phrase tables
//
// External media tools have no machine-stable output format, so
// classification works by substring search. Every phrase and demotion
// rule lives in this file; the pipelines in image.go and video.go only
// call the classifiers below.
// =============================================================================

// corruptionKeywords mark a stderr line as a corruption candidate when
// it matches none of the warning whitelists.
var corruptionKeywords = []string{
	"error",
	"corrupt",
	"truncated",
	"damaged",
}

// profileWarningSubstrings identify metadata/profile complaints from
// the raster tool's profile subsystem. These are display-safe noise.
var profileWarningSubstrings = []string{
	"CorruptImageProfile",
	"incorrect sRGB profile",
	"known incorrect sRGB profile",
	"iCCP: cHRM chunk does not match sRGB",
	"Incompatible type for \"Exif",
	"profile matches sRGB but writing iCCP",
}

// exifWarningSubstrings identify EXIF metadata complaints, demoted to
// warnings in the video/audio probe and for WebP files.
var exifWarningSubstrings = []string{
	"exif",
	"invalid TIFF header in Exif data",
}

// nalWarningSubstrings are decoder complaints that, standing alone,
// indicate a stream quirk rather than corruption.
var nalWarningSubstrings = []string{
	"invalid nal unit",
	"reference frames exceed profile limit",
}

// strictErrorSubstrings is the full pattern table for the enhanced
// strict error pass. A match here is corruption even in deep mode,
// unless the line is NAL-only noise.
var strictErrorSubstrings = []string{
	"error while decoding mb",
	"macroblock",
	"cabac",
	"concealing",
	"error concealment",
	"corrupted frame",
	"packet corrupt",
	"crc mismatch",
	"invalid data found when processing input",
}

// gifHeaderComplaintSubstrings identify GIF header complaints eligible
// for demotion when ffmpeg accepts the file.
var gifHeaderComplaintSubstrings = []string{
	"improper image header",
	"corrupt image",
	"negative or zero image size",
	"gif: image decode failed",
}

// =============================================================================
// Classification
// =============================================================================

// classification buckets stderr lines by severity.
type classification struct {
	CorruptLines []string
	WarningLines []string
}

func (c classification) corrupted() bool { return len(c.CorruptLines) > 0 }

func (c classification) details() string {
	return strings.Join(c.CorruptLines, "; ")
}

func (c classification) warnings() string {
	return strings.Join(c.WarningLines, "; ")
}

func splitLines(output string) []string {
	var lines []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func containsAny(line string, substrings []string) bool {
	lower := strings.ToLower(line)
	for _, s := range substrings {
		if strings.Contains(lower, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

// stripIgnored removes lines matching any user-managed ignored
// pattern. Matching is a plain case-sensitive substring test, the same
// contract the patterns were created under.
func stripIgnored(lines []string, ignoredPatterns []string) []string {
	if len(ignoredPatterns) == 0 {
		return lines
	}
	kept := lines[:0:0]
	for _, line := range lines {
		ignored := false
		for _, pattern := range ignoredPatterns {
			if pattern != "" && strings.Contains(line, pattern) {
				ignored = true
				break
			}
		}
		if !ignored {
			kept = append(kept, line)
		}
	}
	return kept
}

// classifyRasterOutput classifies ImageMagick stderr: profile noise is
// a warning, corruption keywords outside the whitelist are corruption.
func classifyRasterOutput(output string, ignoredPatterns []string) classification {
	var c classification
	for _, line := range stripIgnored(splitLines(output), ignoredPatterns) {
		switch {
		case containsAny(line, profileWarningSubstrings):
			c.WarningLines = append(c.WarningLines, line)
		case containsAny(line, corruptionKeywords):
			c.CorruptLines = append(c.CorruptLines, line)
		}
	}
	return c
}

// classifyDecodeOutput classifies ffmpeg/ffprobe stderr. EXIF
// complaints and NAL-only lines are demoted to warnings.
func classifyDecodeOutput(output string, ignoredPatterns []string) classification {
	var c classification
	for _, line := range stripIgnored(splitLines(output), ignoredPatterns) {
		switch {
		case containsAny(line, exifWarningSubstrings):
			c.WarningLines = append(c.WarningLines, line)
		case containsAny(line, nalWarningSubstrings):
			c.WarningLines = append(c.WarningLines, line)
		case containsAny(line, corruptionKeywords):
			c.CorruptLines = append(c.CorruptLines, line)
		}
	}
	return c
}

// strictErrors runs the enhanced pattern table over accumulated
// stderr. NAL-only complaints stay out of the result so they remain
// warnings even in the strict pass.
func strictErrors(output string, ignoredPatterns []string) []string {
	var matches []string
	for _, line := range stripIgnored(splitLines(output), ignoredPatterns) {
		if containsAny(line, nalWarningSubstrings) {
			continue
		}
		if containsAny(line, strictErrorSubstrings) {
			matches = append(matches, line)
		}
	}
	return matches
}

// isGIFHeaderComplaint reports whether a corruption line is a GIF
// header complaint eligible for the displayability demotion.
func isGIFHeaderComplaint(line string) bool {
	return containsAny(line, gifHeaderComplaintSubstrings)
}

// isEXIFComplaint reports whether a corruption line is EXIF metadata
// noise eligible for the WebP demotion.
func isEXIFComplaint(line string) bool {
	return containsAny(line, exifWarningSubstrings)
}

// joinDetails concatenates detail fragments with "; ", skipping
// empties.
func joinDetails(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "; ")
}
