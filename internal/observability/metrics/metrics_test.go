package metrics

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		name string
		path string
		want string
	}{
		{name: "root", path: "/", want: "/"},
		{name: "empty", path: "", want: "/"},
		{name: "media segment", path: "/media/deadbeef/segment_3.ts", want: "/media"},
		{name: "stream detail", path: "/streams/deadbeef", want: "/streams"},
		{name: "stream chat", path: "/streams/deadbeef/chat", want: "/streams"},
		{name: "static route", path: "/api/auth/login", want: "/api/auth/login"},
		{name: "trailing slash", path: "/api/me/", want: "/api/me"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := normalizePath(tc.path); got != tc.want {
				t.Fatalf("normalizePath(%q) = %q, want %q", tc.path, got, tc.want)
			}
		})
	}
}

func TestObserveRequestMergesLabels(t *testing.T) {
	recorder := New()

	recorder.ObserveRequest("get", "/media/abc/index.m3u8", 200, 150*time.Millisecond)
	recorder.ObserveRequest("GET", "/media/def/segment_1.ts", 200, 50*time.Millisecond)

	label := requestLabel{method: "GET", path: "/media", status: "200"}
	if got := recorder.requestCount[label]; got != 2 {
		t.Fatalf("expected merged count 2, got %d", got)
	}
	if got := recorder.requestDuration[label]; got != 200*time.Millisecond {
		t.Fatalf("expected merged duration 200ms, got %s", got)
	}
}

func TestWorkerGaugeConcurrent(t *testing.T) {
	recorder := New()

	var wg sync.WaitGroup
	starts := 100
	stops := 150

	wg.Add(starts + stops)
	for i := 0; i < starts; i++ {
		go func() {
			defer wg.Done()
			recorder.StreamStarted()
		}()
	}
	for i := 0; i < stops; i++ {
		go func() {
			defer wg.Done()
			recorder.StreamStopped()
		}()
	}

	wg.Wait()

	if active := recorder.ActiveWorkers(); active != 0 {
		t.Fatalf("active workers should not go negative; got %d", active)
	}

	if count := recorder.streamEvents["start"]; count != uint64(starts) {
		t.Fatalf("unexpected start events: got %d want %d", count, starts)
	}
	if count := recorder.streamEvents["stop"]; count != uint64(stops) {
		t.Fatalf("unexpected stop events: got %d want %d", count, stops)
	}
}

func TestSpawnCountsAndReset(t *testing.T) {
	recorder := New()

	recorder.ObserveSpawnAttempt()
	recorder.ObserveSpawnAttempt()
	recorder.ObserveSpawnFailure()

	attempts, failures := recorder.SpawnCounts()
	if attempts != 2 || failures != 1 {
		t.Fatalf("expected 2 attempts and 1 failure, got %d/%d", attempts, failures)
	}

	recorder.StreamStarted()
	recorder.Reset()

	attempts, failures = recorder.SpawnCounts()
	if attempts != 0 || failures != 0 {
		t.Fatalf("expected counters cleared after reset, got %d/%d", attempts, failures)
	}
	if recorder.ActiveWorkers() != 0 {
		t.Fatalf("expected gauge cleared after reset, got %d", recorder.ActiveWorkers())
	}
}

func TestWriteAndHandlerOutput(t *testing.T) {
	recorder := New()

	recorder.ObserveRequest("GET", "/media/abc/index.m3u8", 200, 150*time.Millisecond)
	recorder.ObserveRequest("get", "/media/def/segment_1.ts", 200, 50*time.Millisecond)
	recorder.ObserveRequest("POST", "/ingest/start", 200, time.Second)

	recorder.StreamStarted()
	recorder.StreamStarted()
	recorder.StreamStopped()

	recorder.ObserveSpawnAttempt()
	recorder.ObserveSpawnAttempt()
	recorder.ObserveSpawnFailure()

	recorder.ObserveChatEvent("message")
	recorder.ObserveChatEvent("message")

	var buf bytes.Buffer
	recorder.Write(&buf)

	expected := `# HELP pulsecast_http_requests_total Total number of HTTP requests processed by the API
# TYPE pulsecast_http_requests_total counter
pulsecast_http_requests_total{method="POST",path="/ingest/start",status="200"} 1
pulsecast_http_requests_total{method="GET",path="/media",status="200"} 2
# HELP pulsecast_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds
# TYPE pulsecast_http_request_duration_seconds_sum counter
pulsecast_http_request_duration_seconds_sum{method="POST",path="/ingest/start",status="200"} 1.000000
pulsecast_http_request_duration_seconds_sum{method="GET",path="/media",status="200"} 0.200000
# HELP pulsecast_stream_events_total Stream lifecycle events by type
# TYPE pulsecast_stream_events_total counter
pulsecast_stream_events_total{event="start"} 2
pulsecast_stream_events_total{event="stop"} 1
# HELP pulsecast_active_workers Current number of live transcode workers
# TYPE pulsecast_active_workers gauge
pulsecast_active_workers 1
# HELP pulsecast_worker_spawn_attempts_total Transcode worker launch attempts
# TYPE pulsecast_worker_spawn_attempts_total counter
pulsecast_worker_spawn_attempts_total 2
# HELP pulsecast_worker_spawn_failures_total Transcode worker launches that failed synchronously
# TYPE pulsecast_worker_spawn_failures_total counter
pulsecast_worker_spawn_failures_total 1
# HELP pulsecast_chat_events_total Chat events by type
# TYPE pulsecast_chat_events_total counter
pulsecast_chat_events_total{event="message"} 2`

	if diff := compareLines(buf.String(), expected); diff != "" {
		t.Fatalf("unexpected write output:\n%s", diff)
	}

	res := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(res, httptest.NewRequest("GET", "/metrics", nil))

	if contentType := res.Result().Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/plain") {
		t.Fatalf("unexpected content type: %s", contentType)
	}

	if diff := compareLines(res.Body.String(), expected); diff != "" {
		t.Fatalf("unexpected handler output:\n%s", diff)
	}
}

func compareLines(actual, expected string) string {
	actualLines := strings.Split(strings.TrimSpace(actual), "\n")
	expectedLines := strings.Split(strings.TrimSpace(expected), "\n")
	if len(actualLines) != len(expectedLines) {
		return formatDiff(actualLines, expectedLines)
	}
	for i := range actualLines {
		if actualLines[i] != expectedLines[i] {
			return formatDiff(actualLines, expectedLines)
		}
	}
	return ""
}

func formatDiff(actual, expected []string) string {
	var b strings.Builder
	b.WriteString("expected\n")
	for _, line := range expected {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("got\n")
	for _, line := range actual {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
