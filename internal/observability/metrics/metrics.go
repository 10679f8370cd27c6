// Package metrics aggregates in-process counters for the Pulsecast API and
// exposes them in Prometheus text format without an external client library.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory metrics for HTTP requests, stream lifecycle
// events, transcode worker spawns, and chat activity. A RWMutex coordinates
// concurrent writers while the active-stream gauge uses an atomic counter.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	streamEvents    map[string]uint64
	spawnAttempts   uint64
	spawnFailures   uint64
	chatEvents      map[string]uint64
	activeWorkers   atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		streamEvents:    make(map[string]uint64),
		chatEvents:      make(map[string]uint64),
	}
}

// Default returns the shared Recorder used when no custom instance is injected.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates request count and cumulative duration by HTTP
// method, normalized path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// StreamStarted records a start lifecycle event and increments the active
// worker gauge.
func (r *Recorder) StreamStarted() {
	r.incrementStreamEvent("start")
	r.activeWorkers.Add(1)
}

// StreamStopped records a stop lifecycle event and decrements the active
// worker gauge, guarding against negative counts when updates race.
func (r *Recorder) StreamStopped() {
	r.incrementStreamEvent("stop")
	for {
		current := r.activeWorkers.Load()
		if current <= 0 {
			return
		}
		if r.activeWorkers.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func (r *Recorder) incrementStreamEvent(event string) {
	normalized := strings.ToLower(strings.TrimSpace(event))
	if normalized == "" {
		normalized = "unknown"
	}
	r.mu.Lock()
	r.streamEvents[normalized]++
	r.mu.Unlock()
}

// ObserveSpawnAttempt records an attempt to launch a transcode worker.
func (r *Recorder) ObserveSpawnAttempt() {
	r.mu.Lock()
	r.spawnAttempts++
	r.mu.Unlock()
}

// ObserveSpawnFailure records a worker launch that failed synchronously.
func (r *Recorder) ObserveSpawnFailure() {
	r.mu.Lock()
	r.spawnFailures++
	r.mu.Unlock()
}

// ObserveChatEvent records a chat event type for throughput monitoring.
func (r *Recorder) ObserveChatEvent(event string) {
	normalized := strings.ToLower(strings.TrimSpace(event))
	if normalized == "" {
		normalized = "unknown"
	}
	r.mu.Lock()
	r.chatEvents[normalized]++
	r.mu.Unlock()
}

// ActiveWorkers exposes the current gauge of live transcode workers.
func (r *Recorder) ActiveWorkers() int64 {
	return r.activeWorkers.Load()
}

// SpawnCounts returns the attempt and failure counters for worker launches.
func (r *Recorder) SpawnCounts() (attempts, failures uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.spawnAttempts, r.spawnFailures
}

// Reset clears all counters and gauges. It is intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.streamEvents = make(map[string]uint64)
	r.chatEvents = make(map[string]uint64)
	r.spawnAttempts = 0
	r.spawnFailures = 0
	r.activeWorkers.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the metrics in Prometheus text format, sorting label sets so
// output is stable for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	streamEvents := sortedKeys(r.streamEvents)
	chatEvents := sortedKeys(r.chatEvents)

	fmt.Fprintln(w, "# HELP pulsecast_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE pulsecast_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "pulsecast_http_requests_total{method=%q,path=%q,status=%q} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP pulsecast_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE pulsecast_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "pulsecast_http_request_duration_seconds_sum{method=%q,path=%q,status=%q} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP pulsecast_stream_events_total Stream lifecycle events by type")
	fmt.Fprintln(w, "# TYPE pulsecast_stream_events_total counter")
	for _, event := range streamEvents {
		fmt.Fprintf(w, "pulsecast_stream_events_total{event=%q} %d\n", event, r.streamEvents[event])
	}

	fmt.Fprintln(w, "# HELP pulsecast_active_workers Current number of live transcode workers")
	fmt.Fprintln(w, "# TYPE pulsecast_active_workers gauge")
	fmt.Fprintf(w, "pulsecast_active_workers %d\n", r.activeWorkers.Load())

	fmt.Fprintln(w, "# HELP pulsecast_worker_spawn_attempts_total Transcode worker launch attempts")
	fmt.Fprintln(w, "# TYPE pulsecast_worker_spawn_attempts_total counter")
	fmt.Fprintf(w, "pulsecast_worker_spawn_attempts_total %d\n", r.spawnAttempts)

	fmt.Fprintln(w, "# HELP pulsecast_worker_spawn_failures_total Transcode worker launches that failed synchronously")
	fmt.Fprintln(w, "# TYPE pulsecast_worker_spawn_failures_total counter")
	fmt.Fprintf(w, "pulsecast_worker_spawn_failures_total %d\n", r.spawnFailures)

	fmt.Fprintln(w, "# HELP pulsecast_chat_events_total Chat events by type")
	fmt.Fprintln(w, "# TYPE pulsecast_chat_events_total counter")
	for _, event := range chatEvents {
		fmt.Fprintf(w, "pulsecast_chat_events_total{event=%q} %d\n", event, r.chatEvents[event])
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// normalizePath collapses per-stream identifiers so label cardinality stays
// bounded: media and stream paths report only their first segment.
func normalizePath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || trimmed == "/" {
		return "/"
	}
	segments := strings.Split(strings.Trim(trimmed, "/"), "/")
	switch segments[0] {
	case "media", "streams":
		return "/" + segments[0]
	}
	return "/" + strings.Join(segments, "/")
}
