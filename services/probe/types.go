// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package probe inspects media files for corruption using external
// tools (ffmpeg, ffprobe, ImageMagick) plus in-process image decoding.
//
// The prober is pure with respect to the catalog: Probe returns a
// Result and persists nothing. Classification of noisy tool output is
// centralized in classify.go so the demotion heuristics (GIF, WebP
// EXIF, NAL-only complaints) cannot drift between pipelines.
package probe

import (
	"mime"
	"path/filepath"
	"strings"
	"time"
)

// Status is the per-file verdict.
type Status int

const (
	// StatusHealthy means no evidence of corruption.
	StatusHealthy Status = iota

	// StatusWarning means known-noisy complaints that do not imply
	// playback failure.
	StatusWarning

	// StatusCorrupted means the file failed integrity checks.
	StatusCorrupted

	// StatusError means probing itself failed (tool missing, I/O error).
	StatusError
)

// String returns "healthy", "warning", "corrupted", or "error".
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusWarning:
		return "warning"
	case StatusCorrupted:
		return "corrupted"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Result is the structured verdict for one file.
type Result struct {
	// Status is the classification.
	Status Status

	// Details concatenates corruption causes with "; ".
	Details string

	// WarningDetails concatenates demoted complaints with "; ".
	WarningDetails string

	// Tool names the probe that produced the verdict ("ffmpeg",
	// "magick", "image-decoder", "unsupported").
	Tool string

	// Output is the truncated captured tool output.
	Output string

	// Duration is the wall-clock probe time.
	Duration time.Duration
}

// FileKind is the coarse media type inferred from the extension.
type FileKind int

// File kinds understood by the prober.
const (
	KindOther FileKind = iota
	KindVideo
	KindImage
	KindAudio
)

var videoExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true,
	".wmv": true, ".flv": true, ".webm": true, ".m4v": true,
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".tiff": true, ".webp": true,
}

var audioExtensions = map[string]bool{
	".mp3": true, ".flac": true, ".wav": true, ".aac": true,
	".ogg": true, ".m4a": true, ".wma": true,
}

// KindForPath classifies a path by extension.
func KindForPath(path string) FileKind {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case videoExtensions[ext]:
		return KindVideo
	case imageExtensions[ext]:
		return KindImage
	case audioExtensions[ext]:
		return KindAudio
	default:
		return KindOther
	}
}

// Supported reports whether the prober can inspect this path.
func Supported(path string) bool {
	return KindForPath(path) != KindOther
}

// MIMEType returns a MIME-like type string for the catalog's file_type
// column.
func MIMEType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t := mime.TypeByExtension(ext); t != "" {
		if i := strings.IndexByte(t, ';'); i >= 0 {
			t = t[:i]
		}
		return t
	}
	switch KindForPath(path) {
	case KindVideo:
		return "video/" + strings.TrimPrefix(ext, ".")
	case KindImage:
		return "image/" + strings.TrimPrefix(ext, ".")
	case KindAudio:
		return "audio/" + strings.TrimPrefix(ext, ".")
	default:
		return "application/octet-stream"
	}
}
