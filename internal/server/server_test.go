package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pulsecast/internal/api"
	"pulsecast/internal/auth"
	"pulsecast/internal/chat"
	"pulsecast/internal/hls"
	"pulsecast/internal/ingest"
	"pulsecast/internal/observability/metrics"
	"pulsecast/internal/store"
	"pulsecast/internal/supervisor"
)

type noopHandle struct{}

func (noopHandle) PID() int         { return 4242 }
func (noopHandle) Terminate() error { return nil }

type noopLauncher struct{}

func (noopLauncher) Launch(spec supervisor.Spec, onExit func(error)) (supervisor.Handle, error) {
	return noopHandle{}, nil
}

func newTestServer(t *testing.T) (*Server, *hls.Store, store.Repository) {
	t.Helper()
	repo, err := store.NewStorage(filepath.Join(t.TempDir(), "catalog.json"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	segments, err := hls.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("hls.NewStore: %v", err)
	}
	recorder := metrics.New()
	registry := supervisor.NewRegistry(noopLauncher{}, nil, recorder)
	handler := api.NewHandler(repo, auth.NewSessionManager(time.Hour))
	handler.Segments = segments
	handler.Coordinator = ingest.NewCoordinator(repo, segments, registry, "localhost", nil)
	handler.Chat = chat.NewFileLog(segments)
	handler.Metrics = recorder
	srv, err := New(handler, Config{Addr: "127.0.0.1:0", Metrics: recorder})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv, segments, repo
}

func TestRoutesAreRegistered(t *testing.T) {
	srv, segments, _ := newTestServer(t)
	dir, err := segments.EnsureDir("livekey")
	if err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, hls.ManifestName), []byte("#EXTM3U\n"), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	for _, tc := range []struct {
		method string
		target string
		status int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/streams", http.StatusOK},
		{http.MethodGet, "/streams/livekey", http.StatusOK},
		{http.MethodGet, "/streams/ghost", http.StatusNotFound},
		{http.MethodGet, "/media/livekey/index.m3u8", http.StatusOK},
		{http.MethodPost, "/ingest/start", http.StatusUnauthorized},
		{http.MethodPost, "/ingest/stop", http.StatusUnauthorized},
		{http.MethodGet, "/api/me", http.StatusUnauthorized},
		{http.MethodGet, "/api/categories", http.StatusOK},
	} {
		req := httptest.NewRequest(tc.method, tc.target, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != tc.status {
			t.Fatalf("%s %s = %d, want %d", tc.method, tc.target, rec.Code, tc.status)
		}
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("X-Request-Id not set")
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "given-id")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != "given-id" {
		t.Fatalf("X-Request-Id = %q, want caller-provided id", got)
	}
}

func TestRequestLogCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	chain := requestIDMiddleware(loggingMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	req := httptest.NewRequest(http.MethodGet, "/streams", nil)
	req.Header.Set("X-Request-Id", "trace-me")
	chain.ServeHTTP(httptest.NewRecorder(), req)

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if payload["request_id"] != "trace-me" {
		t.Fatalf("request_id = %v, want trace-me", payload["request_id"])
	}
	if payload["status"] != float64(http.StatusNoContent) {
		t.Fatalf("status = %v, want %d", payload["status"], http.StatusNoContent)
	}
}

func TestEndToEndStartThenPlayback(t *testing.T) {
	srv, segments, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"email": "caster@example.com", "password": "hunter22"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup = %d: %s", rec.Code, rec.Body.String())
	}
	var signup struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &signup); err != nil {
		t.Fatalf("decode signup: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/stream-key", nil)
	req.Header.Set("Authorization", "Bearer "+signup.Token)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("stream-key = %d", rec.Code)
	}
	var keyResp struct {
		StreamKey string `json:"streamKey"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &keyResp); err != nil {
		t.Fatalf("decode stream key: %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/ingest/start", nil)
	req.Header.Set("Authorization", "Bearer "+signup.Token)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("ingest start = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "4242") {
		t.Fatalf("response missing worker pid: %s", rec.Body.String())
	}

	// Before the transcoder publishes a manifest the stream is not listed.
	req = httptest.NewRequest(http.MethodGet, "/streams/"+keyResp.StreamKey, nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("pre-manifest describe = %d, want 404", rec.Code)
	}

	dir, err := segments.StreamDir(keyResp.StreamKey)
	if err != nil {
		t.Fatalf("StreamDir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, hls.ManifestName), []byte("#EXTM3U\n"), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/streams/"+keyResp.StreamKey, nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("post-manifest describe = %d, want 200", rec.Code)
	}
}
