package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pulsecast/internal/hls"
	"pulsecast/internal/models"
	"pulsecast/internal/observability/metrics"
	"pulsecast/internal/store"
	"pulsecast/internal/supervisor"
)

type fakeHandle struct {
	pid        int
	terminated bool
}

func (h *fakeHandle) PID() int         { return h.pid }
func (h *fakeHandle) Terminate() error { h.terminated = true; return nil }

type fakeLauncher struct {
	nextPID  int
	specs    []supervisor.Spec
	failWith error
}

func (l *fakeLauncher) Launch(spec supervisor.Spec, onExit func(error)) (supervisor.Handle, error) {
	if l.failWith != nil {
		return nil, l.failWith
	}
	l.nextPID++
	l.specs = append(l.specs, spec)
	return &fakeHandle{pid: l.nextPID}, nil
}

func newTestCoordinator(t *testing.T, launcher *fakeLauncher) (*Coordinator, store.Repository, *hls.Store) {
	t.Helper()
	repo, err := store.NewStorage(filepath.Join(t.TempDir(), "catalog.json"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	segments, err := hls.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("hls.NewStore: %v", err)
	}
	registry := supervisor.NewRegistry(launcher, nil, metrics.New())
	return NewCoordinator(repo, segments, registry, "localhost", nil), repo, segments
}

func liveUser(t *testing.T, repo store.Repository) models.User {
	t.Helper()
	user, err := repo.CreateUser("caster@example.com", "Caster", "hunter22")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	user, err = repo.EnsureStreamKey(user.ID)
	if err != nil {
		t.Fatalf("EnsureStreamKey: %v", err)
	}
	return user
}

func TestStartIngestRequiresStreamKey(t *testing.T) {
	coordinator, repo, _ := newTestCoordinator(t, &fakeLauncher{})
	user, err := repo.CreateUser("caster@example.com", "Caster", "hunter22")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := coordinator.StartIngest(context.Background(), user, StartParams{}); !errors.Is(err, ErrStreamKeyMissing) {
		t.Fatalf("expected ErrStreamKeyMissing, got %v", err)
	}
}

func TestStartIngestSpawnsWorkerAndWritesCatalog(t *testing.T) {
	launcher := &fakeLauncher{}
	coordinator, repo, segments := newTestCoordinator(t, launcher)
	user := liveUser(t, repo)

	result, err := coordinator.StartIngest(context.Background(), user, StartParams{
		CategoryID:  "music",
		DisplayName: "Evening Set",
	})
	if err != nil {
		t.Fatalf("StartIngest: %v", err)
	}
	if result.PID == 0 {
		t.Fatal("expected nonzero pid")
	}
	if result.StreamKey != user.StreamKey {
		t.Fatalf("StreamKey = %q, want %q", result.StreamKey, user.StreamKey)
	}
	if want := "/media/" + user.StreamKey + "/index.m3u8"; result.PlaybackPath != want {
		t.Fatalf("PlaybackPath = %q, want %q", result.PlaybackPath, want)
	}
	if _, err := os.Stat(result.OutputDir); err != nil {
		t.Fatalf("output dir not created: %v", err)
	}

	meta, ok, err := repo.GetStreamMetadata(user.StreamKey)
	if err != nil || !ok {
		t.Fatalf("GetStreamMetadata = (%v, %v)", ok, err)
	}
	if meta.OwnerID != user.ID || meta.CategoryID != "music" || meta.DisplayName != "Evening Set" {
		t.Fatalf("catalog entry wrong: %+v", meta)
	}

	if len(launcher.specs) != 1 {
		t.Fatalf("launched %d workers, want 1", len(launcher.specs))
	}
	spec := launcher.specs[0]
	if want := "rtmp://localhost/live/" + user.StreamKey; spec.InputURL != want {
		t.Fatalf("InputURL = %q, want %q", spec.InputURL, want)
	}
	joined := strings.Join(spec.Args, " ")
	if !strings.Contains(joined, "-hls_time 2") || !strings.Contains(joined, "delete_segments+append_list+omit_endlist") {
		t.Fatalf("unexpected transcode args: %v", spec.Args)
	}
	if !strings.HasSuffix(spec.Args[len(spec.Args)-1], "index.m3u8") {
		t.Fatalf("final arg should be the playlist path, got %q", spec.Args[len(spec.Args)-1])
	}
	_ = segments
}

func TestStartIngestSurfacesSpawnFailure(t *testing.T) {
	spawnErr := errors.New("ffmpeg not found")
	coordinator, repo, _ := newTestCoordinator(t, &fakeLauncher{failWith: spawnErr})
	user := liveUser(t, repo)
	if _, err := coordinator.StartIngest(context.Background(), user, StartParams{}); !errors.Is(err, spawnErr) {
		t.Fatalf("expected spawn error, got %v", err)
	}
	// The catalog entry is written before the spawn attempt.
	if _, ok, _ := repo.GetStreamMetadata(user.StreamKey); !ok {
		t.Fatal("catalog entry missing after failed spawn")
	}
}

func TestStopIngestSignalsWorkerAndRemovesSegments(t *testing.T) {
	launcher := &fakeLauncher{}
	coordinator, repo, segments := newTestCoordinator(t, launcher)
	user := liveUser(t, repo)

	if _, err := coordinator.StartIngest(context.Background(), user, StartParams{}); err != nil {
		t.Fatalf("StartIngest: %v", err)
	}
	result, err := coordinator.StopIngest(context.Background(), user)
	if err != nil {
		t.Fatalf("StopIngest: %v", err)
	}
	if !result.Stopped {
		t.Fatal("expected live worker to be stopped")
	}
	if !result.Removed {
		t.Fatal("expected segment dir to be removed")
	}
	if segments.Exists(user.StreamKey) {
		t.Fatal("segment dir still present")
	}
}

func TestStopIngestWithoutWorkerStillCleansUp(t *testing.T) {
	coordinator, repo, segments := newTestCoordinator(t, &fakeLauncher{})
	user := liveUser(t, repo)
	if _, err := segments.EnsureDir(user.StreamKey); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	result, err := coordinator.StopIngest(context.Background(), user)
	if err != nil {
		t.Fatalf("StopIngest: %v", err)
	}
	if result.Stopped {
		t.Fatal("no worker was live, Stopped should be false")
	}
	if !result.Removed {
		t.Fatal("expected orphaned segment dir to be removed")
	}
}

func TestStopIngestReportsNothingRemoved(t *testing.T) {
	coordinator, repo, _ := newTestCoordinator(t, &fakeLauncher{})
	user := liveUser(t, repo)
	result, err := coordinator.StopIngest(context.Background(), user)
	if err != nil {
		t.Fatalf("StopIngest: %v", err)
	}
	if result.Stopped || result.Removed {
		t.Fatalf("expected no-op stop, got %+v", result)
	}
}

func TestStartIngestLogsStreamKey(t *testing.T) {
	repo, err := store.NewStorage(filepath.Join(t.TempDir(), "catalog.json"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	segments, err := hls.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("hls.NewStore: %v", err)
	}
	registry := supervisor.NewRegistry(&fakeLauncher{}, nil, metrics.New())
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	coordinator := NewCoordinator(repo, segments, registry, "localhost", logger)
	user := liveUser(t, repo)

	if _, err := coordinator.StartIngest(context.Background(), user, StartParams{}); err != nil {
		t.Fatalf("StartIngest: %v", err)
	}

	found := false
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var payload map[string]any
		if err := json.Unmarshal([]byte(line), &payload); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		if payload["msg"] != "ingest started" {
			continue
		}
		found = true
		if payload["stream_key"] != user.StreamKey {
			t.Fatalf("stream_key = %v, want %q", payload["stream_key"], user.StreamKey)
		}
	}
	if !found {
		t.Fatal("no start entry logged")
	}
}
