// Package supervisor owns the lifecycle of transcode workers: at most one
// live worker per identity, tracked in an injectable registry owned by the
// server's composition root.
package supervisor

import (
	"fmt"
	"log/slog"
	"sync"

	"pulsecast/internal/observability/metrics"
)

// Handle abstracts a live worker process so the registry can be exercised in
// tests without spawning real processes.
type Handle interface {
	PID() int
	Terminate() error
}

// Spec describes the worker to launch.
type Spec struct {
	// Args is the full argument vector passed to the transcoder binary.
	Args []string
	// InputURL and OutputDir are carried for logging only; Args already
	// encodes both.
	InputURL  string
	OutputDir string
}

// Launcher spawns a worker and arranges for onExit to run exactly once when
// the process finishes, regardless of how it finishes. Spawn failures are
// returned synchronously; anything after a successful spawn is
// fire-and-forget.
type Launcher interface {
	Launch(spec Spec, onExit func(error)) (Handle, error)
}

type entry struct {
	handle Handle
}

// Registry maps identity IDs to live worker handles. All mutation goes
// through its methods; the mutex serializes starts for the same identity so
// two workers can never write into one stream directory.
type Registry struct {
	mu       sync.Mutex
	launcher Launcher
	logger   *slog.Logger
	metrics  *metrics.Recorder
	workers  map[string]*entry
}

// NewRegistry constructs a Registry using the provided launcher.
func NewRegistry(launcher Launcher, logger *slog.Logger, recorder *metrics.Recorder) *Registry {
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Registry{
		launcher: launcher,
		logger:   logger,
		metrics:  recorder,
		workers:  make(map[string]*entry),
	}
}

// Start launches a worker for the identity. An existing worker is terminated
// and unregistered before the replacement is spawned, so there is no window
// where two workers for the same identity are both registered. The spawn
// error, if any, is surfaced to the caller; runtime failures after a
// successful spawn are only observable through the segment store's liveness
// predicate.
func (r *Registry) Start(identityID string, spec Spec) (Handle, error) {
	if identityID == "" {
		return nil, fmt.Errorf("identity id is required")
	}
	if r.launcher == nil {
		return nil, fmt.Errorf("launcher is not configured")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.workers[identityID]; ok {
		if err := existing.handle.Terminate(); err != nil && r.logger != nil {
			r.logger.Warn("terminate superseded worker", "identity", identityID, "error", err)
		}
		delete(r.workers, identityID)
		r.metrics.StreamStopped()
	}

	r.metrics.ObserveSpawnAttempt()
	current := &entry{}
	handle, err := r.launcher.Launch(spec, func(exitErr error) {
		r.removeOnExit(identityID, current, exitErr)
	})
	if err != nil {
		r.metrics.ObserveSpawnFailure()
		return nil, fmt.Errorf("spawn transcode worker: %w", err)
	}
	current.handle = handle
	r.workers[identityID] = current
	r.metrics.StreamStarted()
	if r.logger != nil {
		r.logger.Info("transcode worker started",
			"identity", identityID,
			"pid", handle.PID(),
			"input", spec.InputURL,
			"output", spec.OutputDir)
	}
	return handle, nil
}

// removeOnExit drops the table entry when its worker exits on its own. The
// entry pointer identifies the generation: a superseded worker's late exit
// must not unregister its replacement.
func (r *Registry) removeOnExit(identityID string, owner *entry, exitErr error) {
	r.mu.Lock()
	current, ok := r.workers[identityID]
	if ok && current == owner {
		delete(r.workers, identityID)
	}
	r.mu.Unlock()
	if !ok || current != owner {
		return
	}
	r.metrics.StreamStopped()
	if r.logger != nil {
		if exitErr != nil {
			r.logger.Info("transcode worker exited", "identity", identityID, "error", exitErr)
		} else {
			r.logger.Info("transcode worker exited", "identity", identityID)
		}
	}
}

// Stop terminates and unregisters the identity's worker if present. The
// table entry is removed immediately; the OS process may take longer to exit.
func (r *Registry) Stop(identityID string) bool {
	r.mu.Lock()
	existing, ok := r.workers[identityID]
	if ok {
		delete(r.workers, identityID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	if err := existing.handle.Terminate(); err != nil && r.logger != nil {
		r.logger.Warn("terminate worker", "identity", identityID, "error", err)
	}
	r.metrics.StreamStopped()
	return true
}

// Worker returns the live handle for the identity, if any.
func (r *Registry) Worker(identityID string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.workers[identityID]
	if !ok {
		return nil, false
	}
	return existing.handle, true
}

// Count reports the number of live workers in the table.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

// Shutdown terminates every registered worker. Used when the server stops;
// the registry is in-memory only, so orphaned workers would otherwise outlive
// a restart unnoticed.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	workers := r.workers
	r.workers = make(map[string]*entry)
	r.mu.Unlock()
	for identityID, existing := range workers {
		if err := existing.handle.Terminate(); err != nil && r.logger != nil {
			r.logger.Warn("terminate worker during shutdown", "identity", identityID, "error", err)
		}
		r.metrics.StreamStopped()
	}
}
