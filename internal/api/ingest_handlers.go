package api

import (
	"errors"
	"net/http"

	"pulsecast/internal/hls"
	"pulsecast/internal/ingest"
	"pulsecast/internal/observability/logging"
)

type startIngestRequest struct {
	CategoryID  string `json:"categoryId"`
	DisplayName string `json:"displayName"`
}

type startIngestResponse struct {
	PID        int    `json:"pid"`
	InputURL   string `json:"inputUrl"`
	OutputPath string `json:"outputPath"`
}

// IngestStart handles POST /ingest/start.
func (h *Handler) IngestStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	var req startIngestRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body")
			return
		}
	}
	ctx := logging.ContextWithStreamKey(r.Context(), user.StreamKey)
	result, err := h.Coordinator.StartIngest(ctx, user, ingest.StartParams{
		CategoryID:  req.CategoryID,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrStreamKeyMissing):
			writeErrorCode(w, http.StatusBadRequest, CodeStreamKeyMissing)
		default:
			logging.WithContext(ctx, h.logger()).Error("ingest start failed", "userId", user.ID, "error", err)
			writeErrorCode(w, http.StatusInternalServerError, CodeSpawnFailure)
		}
		return
	}
	writeJSON(w, http.StatusOK, startIngestResponse{
		PID:        result.PID,
		InputURL:   result.InputURL,
		OutputPath: result.PlaybackPath,
	})
}

// IngestStop handles POST /ingest/stop.
func (h *Handler) IngestStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	if user.StreamKey == "" {
		writeErrorCode(w, http.StatusBadRequest, CodeStreamKeyMissing)
		return
	}
	ctx := logging.ContextWithStreamKey(r.Context(), user.StreamKey)
	result, err := h.Coordinator.StopIngest(ctx, user)
	if err != nil {
		switch {
		case errors.Is(err, hls.ErrOutsideRoot):
			writeErrorCode(w, http.StatusForbidden, CodeForbidden)
		default:
			logging.WithContext(ctx, h.logger()).Error("ingest stop failed", "userId", user.ID, "error", err)
			writeErrorCode(w, http.StatusInternalServerError, CodeInternal)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": result.Removed})
}
