package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pulsecast/internal/auth"
	"pulsecast/internal/chat"
	"pulsecast/internal/hls"
	"pulsecast/internal/ingest"
	"pulsecast/internal/models"
	"pulsecast/internal/observability/metrics"
	"pulsecast/internal/store"
	"pulsecast/internal/supervisor"
)

type stubHandleAPI struct {
	pid        int
	terminated bool
}

func (h *stubHandleAPI) PID() int         { return h.pid }
func (h *stubHandleAPI) Terminate() error { h.terminated = true; return nil }

type stubLauncher struct {
	nextPID  int
	handles  []*stubHandleAPI
	failWith error
}

func (l *stubLauncher) Launch(spec supervisor.Spec, onExit func(error)) (supervisor.Handle, error) {
	if l.failWith != nil {
		return nil, l.failWith
	}
	l.nextPID++
	handle := &stubHandleAPI{pid: l.nextPID}
	l.handles = append(l.handles, handle)
	return handle, nil
}

type testEnv struct {
	handler  *Handler
	repo     store.Repository
	segments *hls.Store
	registry *supervisor.Registry
	launcher *stubLauncher
	recorder *metrics.Recorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo, err := store.NewStorage(filepath.Join(t.TempDir(), "catalog.json"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	segments, err := hls.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("hls.NewStore: %v", err)
	}
	launcher := &stubLauncher{}
	recorder := metrics.New()
	registry := supervisor.NewRegistry(launcher, nil, recorder)
	handler := NewHandler(repo, auth.NewSessionManager(time.Hour))
	handler.Segments = segments
	handler.Coordinator = ingest.NewCoordinator(repo, segments, registry, "localhost", nil)
	handler.Chat = chat.NewFileLog(segments)
	handler.Metrics = recorder
	return &testEnv{
		handler:  handler,
		repo:     repo,
		segments: segments,
		registry: registry,
		launcher: launcher,
		recorder: recorder,
	}
}

// signup registers an account and returns the user plus a session token.
func (e *testEnv) signup(t *testing.T, email string) (models.User, string) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{
		"email":       email,
		"displayName": "",
		"password":    "hunter22",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	e.handler.Signup(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		User  userPayload `json:"user"`
		Token string      `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode signup response: %v", err)
	}
	user, ok := e.repo.GetUser(resp.User.ID)
	if !ok {
		t.Fatalf("signed-up user %s not found", resp.User.ID)
	}
	return user, resp.Token
}

// broadcaster registers an account with a stream key assigned.
func (e *testEnv) broadcaster(t *testing.T, email string) (models.User, string) {
	t.Helper()
	user, token := e.signup(t, email)
	user, err := e.repo.EnsureStreamKey(user.ID)
	if err != nil {
		t.Fatalf("EnsureStreamKey: %v", err)
	}
	return user, token
}

func (e *testEnv) publishManifest(t *testing.T, streamKey string) {
	t.Helper()
	dir, err := e.segments.EnsureDir(streamKey)
	if err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, hls.ManifestName), []byte("#EXTM3U\n"), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

func authedRequest(method, target, token string, body []byte) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response %q: %v", rec.Body.String(), err)
	}
	return resp.Error
}
