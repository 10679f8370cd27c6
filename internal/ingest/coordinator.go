// Package ingest turns an authenticated "go live" request into a supervised
// transcoder worker and a catalog entry, and tears both down on stop.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"pulsecast/internal/hls"
	"pulsecast/internal/models"
	"pulsecast/internal/observability/logging"
	"pulsecast/internal/store"
	"pulsecast/internal/supervisor"
)

// ErrStreamKeyMissing is returned when the account has no stream key yet. The
// caller must request one before going live.
var ErrStreamKeyMissing = errors.New("stream key missing")

// Coordinator drives the start and stop flows for a broadcaster.
type Coordinator struct {
	repo     store.Repository
	segments *hls.Store
	registry *supervisor.Registry
	rtmpHost string
	logger   *slog.Logger
}

// NewCoordinator wires the coordinator's collaborators. rtmpHost is the
// host[:port] the transcoder pulls from, typically the local RTMP server.
func NewCoordinator(repo store.Repository, segments *hls.Store, registry *supervisor.Registry, rtmpHost string, logger *slog.Logger) *Coordinator {
	if strings.TrimSpace(rtmpHost) == "" {
		rtmpHost = "localhost"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		repo:     repo,
		segments: segments,
		registry: registry,
		rtmpHost: rtmpHost,
		logger:   logger,
	}
}

// StartParams carries the optional catalog metadata submitted at start.
type StartParams struct {
	CategoryID  string
	DisplayName string
}

// StartResult reports the spawned worker and where its output lands.
type StartResult struct {
	PID          int
	StreamKey    string
	InputURL     string
	OutputDir    string
	PlaybackPath string
}

// StopResult reports what the stop flow actually did.
type StopResult struct {
	Stopped bool
	Removed bool
}

// StartIngest upserts the stream's catalog entry and replaces any live worker
// for the account with a fresh one pulling from the account's ingest URL.
// The catalog write happens first so the directory reflects the stream even
// if the spawn fails and the client retries.
func (c *Coordinator) StartIngest(ctx context.Context, user models.User, params StartParams) (StartResult, error) {
	key := user.StreamKey
	if key == "" {
		return StartResult{}, ErrStreamKeyMissing
	}
	ctx = logging.ContextWithStreamKey(ctx, key)
	logger := logging.WithContext(ctx, c.logger)
	if _, err := c.repo.UpsertStreamMetadata(store.UpsertStreamParams{
		StreamKey:   key,
		OwnerID:     user.ID,
		CategoryID:  params.CategoryID,
		DisplayName: params.DisplayName,
	}); err != nil {
		logger.Warn("catalog upsert failed", "error", err)
	}
	outputDir, err := c.segments.EnsureDir(key)
	if err != nil {
		return StartResult{}, fmt.Errorf("prepare output dir: %w", err)
	}
	inputURL := fmt.Sprintf("rtmp://%s/live/%s", c.rtmpHost, key)
	handle, err := c.registry.Start(user.ID, supervisor.Spec{
		Args:      TranscodeArgs(inputURL, outputDir),
		InputURL:  inputURL,
		OutputDir: outputDir,
	})
	if err != nil {
		return StartResult{}, err
	}
	logger.Info("ingest started", "userId", user.ID, "pid", handle.PID())
	return StartResult{
		PID:          handle.PID(),
		StreamKey:    key,
		InputURL:     inputURL,
		OutputDir:    outputDir,
		PlaybackPath: "/media/" + key + "/" + hls.ManifestName,
	}, nil
}

// StopIngest signals the account's worker if one is live and removes the
// stream's segment directory. Both halves run regardless of the other's
// outcome; a stop with no live worker still cleans up segments.
func (c *Coordinator) StopIngest(ctx context.Context, user models.User) (StopResult, error) {
	result := StopResult{Stopped: c.registry.Stop(user.ID)}
	if user.StreamKey == "" {
		return result, nil
	}
	removed, err := c.segments.Remove(user.StreamKey)
	if err != nil {
		return result, err
	}
	result.Removed = removed
	ctx = logging.ContextWithStreamKey(ctx, user.StreamKey)
	logging.WithContext(ctx, c.logger).Info("ingest stopped",
		"userId", user.ID,
		"stopped", result.Stopped,
		"removed", result.Removed,
	)
	return result, nil
}
