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
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/mediasentry/services/catalog"
	"github.com/AleutianAI/mediasentry/services/probe"
)

// maxRangeChunk caps one range response. Browser players issue
// follow-up requests for the rest.
const maxRangeChunk = 1 << 20 // 1 MiB

// StreamFile serves a catalog file for in-browser playback. Video
// requests with a Range header get 206 responses in bounded chunks;
// everything else is served whole.
func (a *API) StreamFile(c *gin.Context) {
	row, file, info, ok := a.openCatalogFile(c)
	if !ok {
		return
	}
	defer file.Close()

	contentType := probe.MIMEType(row.FilePath)
	rangeHeader := c.GetHeader("Range")
	if rangeHeader == "" || probe.KindForPath(row.FilePath) != probe.KindVideo {
		c.Header("Accept-Ranges", "bytes")
		c.DataFromReader(http.StatusOK, info.Size(), contentType, file, nil)
		return
	}

	start, end, err := parseRange(rangeHeader, info.Size())
	if err != nil {
		c.Header("Content-Range", fmt.Sprintf("bytes */%d", info.Size()))
		respondError(c, http.StatusRequestedRangeNotSatisfiable, "%v", err)
		return
	}

	// Bound the chunk regardless of how much was asked for.
	if end-start+1 > maxRangeChunk {
		end = start + maxRangeChunk - 1
	}
	if _, err := file.Seek(start, io.SeekStart); err != nil {
		a.logger.Error("stream seek failed", "path", row.FilePath, "error", err)
		respondError(c, http.StatusInternalServerError, "could not read file")
		return
	}

	length := end - start + 1
	c.Header("Accept-Ranges", "bytes")
	c.Header("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, info.Size()))
	c.DataFromReader(http.StatusPartialContent, length, contentType,
		io.LimitReader(file, length), nil)
}

// DownloadFile serves a catalog file as an attachment.
func (a *API) DownloadFile(c *gin.Context) {
	row, file, info, ok := a.openCatalogFile(c)
	if !ok {
		return
	}
	defer file.Close()

	c.Header("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(row.FilePath)))
	c.DataFromReader(http.StatusOK, info.Size(), "application/octet-stream", file, nil)
}

// openCatalogFile resolves the id parameter to a catalog row and opens
// its file. On failure the response has already been written.
func (a *API) openCatalogFile(c *gin.Context) (*catalog.ScanResult, *os.File, os.FileInfo, bool) {
	id, err := idParam(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid id")
		return nil, nil, nil, false
	}
	row, err := a.store.GetScanResult(c.Request.Context(), id)
	if errors.Is(err, catalog.ErrNotFound) {
		respondError(c, http.StatusNotFound, "scan result %d not found", id)
		return nil, nil, nil, false
	}
	if err != nil {
		a.logger.Error("file lookup failed", "error", err)
		respondError(c, http.StatusInternalServerError, "could not load record")
		return nil, nil, nil, false
	}

	file, err := os.Open(row.FilePath)
	if os.IsNotExist(err) {
		respondError(c, http.StatusNotFound, "file no longer exists on disk")
		return nil, nil, nil, false
	}
	if err != nil {
		a.logger.Error("file open failed", "path", row.FilePath, "error", err)
		respondError(c, http.StatusInternalServerError, "could not open file")
		return nil, nil, nil, false
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		a.logger.Error("file stat failed", "path", row.FilePath, "error", err)
		respondError(c, http.StatusInternalServerError, "could not read file")
		return nil, nil, nil, false
	}
	return row, file, info, true
}

// parseRange parses a single "bytes=start-end" header against the file
// size. Suffix ranges ("bytes=-N") and open ends ("bytes=N-") are
// accepted; multipart ranges are not.
func parseRange(header string, size int64) (start, end int64, err error) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return 0, 0, fmt.Errorf("unsupported range %q", header)
	}
	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, 0, fmt.Errorf("malformed range %q", header)
	}

	if startStr == "" {
		// Suffix form: the last N bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, fmt.Errorf("malformed range %q", header)
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, nil
	}

	start, err = strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, fmt.Errorf("range start out of bounds in %q", header)
	}
	if endStr == "" {
		return start, size - 1, nil
	}
	end, err = strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return 0, 0, fmt.Errorf("malformed range %q", header)
	}
	if end >= size {
		end = size - 1
	}
	return start, end, nil
}
