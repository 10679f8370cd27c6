package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"

	"pulsecast/internal/hls"
)

func mediaContentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	default:
		return "application/octet-stream"
	}
}

// Media handles GET and HEAD /media/{...path}. Segments are mutated and
// pruned continuously by the transcoder, so every response disables caching
// and allows cross-origin playback.
func (h *Handler) Media(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, "GET, HEAD")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	raw := strings.TrimPrefix(r.URL.Path, "/media/")
	segments := strings.Split(raw, "/")
	filtered := segments[:0]
	for _, segment := range segments {
		if segment != "" {
			filtered = append(filtered, segment)
		}
	}
	if len(filtered) == 0 {
		writeErrorCode(w, http.StatusNotFound, CodeNotFound)
		return
	}
	resolved, err := h.Segments.Resolve(filtered...)
	if err != nil {
		if errors.Is(err, hls.ErrOutsideRoot) {
			writeErrorCode(w, http.StatusForbidden, CodeForbidden)
			return
		}
		writeErrorCode(w, http.StatusInternalServerError, CodeInternal)
		return
	}
	file, err := os.Open(resolved)
	if err != nil {
		writeErrorCode(w, http.StatusNotFound, CodeNotFound)
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil || info.IsDir() {
		writeErrorCode(w, http.StatusNotFound, CodeNotFound)
		return
	}
	size := info.Size()
	w.Header().Set("Content-Type", mediaContentType(resolved))

	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		return
	}

	// Ranges are honored on segments only; manifests are served whole.
	if isSegment(resolved) {
		if start, end, ok := parseRange(r.Header.Get("Range"), size); ok {
			h.serveRange(w, file, start, end, size)
			return
		}
	}

	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, file)
}

func isSegment(name string) bool {
	return strings.EqualFold(path.Ext(name), ".ts")
}

func (h *Handler) serveRange(w http.ResponseWriter, file *os.File, start, end, size int64) {
	length := end - start + 1
	if _, err := file.Seek(start, io.SeekStart); err != nil {
		writeErrorCode(w, http.StatusInternalServerError, CodeInternal)
		return
	}
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)
	_, _ = io.CopyN(w, file, length)
}

// parseRange interprets a single "bytes=start-end" header. Anything it
// cannot satisfy reports false and the caller falls back to a full
// response; range support is best-effort.
func parseRange(header string, size int64) (int64, int64, bool) {
	if header == "" || size == 0 {
		return 0, 0, false
	}
	spec, found := strings.CutPrefix(header, "bytes=")
	if !found || strings.Contains(spec, ",") {
		return 0, 0, false
	}
	startText, endText, found := strings.Cut(spec, "-")
	if !found {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(strings.TrimSpace(startText), 10, 64)
	if err != nil || start < 0 {
		return 0, 0, false
	}
	end := size - 1
	if trimmed := strings.TrimSpace(endText); trimmed != "" {
		end, err = strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return 0, 0, false
		}
	}
	if end > size-1 {
		end = size - 1
	}
	if start > end {
		return 0, 0, false
	}
	return start, end, true
}
