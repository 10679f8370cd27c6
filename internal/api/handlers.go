// Package api implements the HTTP handlers: account and session management,
// stream keys, ingest control, the stream directory, segment serving, and
// chat.
package api

import (
	"log/slog"
	"time"

	"pulsecast/internal/auth"
	"pulsecast/internal/chat"
	"pulsecast/internal/hls"
	"pulsecast/internal/ingest"
	"pulsecast/internal/observability/metrics"
	"pulsecast/internal/store"
)

// Handler bundles the collaborators the HTTP surface needs.
type Handler struct {
	Store       store.Repository
	Sessions    *auth.SessionManager
	Coordinator *ingest.Coordinator
	Segments    *hls.Store
	Chat        chat.Log
	Metrics     *metrics.Recorder
	Logger      *slog.Logger
}

// NewHandler constructs a Handler. A nil session manager falls back to an
// in-memory store with a 24-hour TTL.
func NewHandler(repo store.Repository, sessions *auth.SessionManager) *Handler {
	if sessions == nil {
		sessions = auth.NewSessionManager(24 * time.Hour)
	}
	return &Handler{Store: repo, Sessions: sessions, Logger: slog.Default()}
}

func (h *Handler) sessionManager() *auth.SessionManager {
	if h.Sessions == nil {
		h.Sessions = auth.NewSessionManager(24 * time.Hour)
	}
	return h.Sessions
}

func (h *Handler) metricsRecorder() *metrics.Recorder {
	if h.Metrics == nil {
		return metrics.Default()
	}
	return h.Metrics
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}
