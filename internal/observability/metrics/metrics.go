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

// Recorder aggregates in-memory metrics counters and gauges for HTTP requests,
// document upload lifecycle events, and session activity. It coordinates
// concurrent writers via a RWMutex while exposing a thread-safe gauge for
// pending document tracking.
type Recorder struct {
	mu               sync.RWMutex
	requestCount     map[requestLabel]uint64
	requestDuration  map[requestLabel]time.Duration
	documentEvents   map[string]uint64
	sessionEvents    map[string]uint64
	pendingDocuments atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers can
// immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		documentEvents:  make(map[string]uint64),
		sessionEvents:   make(map[string]uint64),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
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

// DocumentUploaded records an accepted upload and increments the pending
// document gauge.
func (r *Recorder) DocumentUploaded() {
	r.incrementDocumentEvent("uploaded")
	r.pendingDocuments.Add(1)
}

// DocumentVerified records a successful scan and decrements the pending gauge.
func (r *Recorder) DocumentVerified() {
	r.incrementDocumentEvent("verified")
	r.decrementGauge(&r.pendingDocuments)
}

// DocumentFailed records a failed scan and decrements the pending gauge.
func (r *Recorder) DocumentFailed() {
	r.incrementDocumentEvent("failed")
	r.decrementGauge(&r.pendingDocuments)
}

func (r *Recorder) incrementDocumentEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.documentEvents[normalized]++
	r.mu.Unlock()
}

// ObserveSessionEvent records session lifecycle events such as "created",
// "revoked", or "purged".
func (r *Recorder) ObserveSessionEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.sessionEvents[normalized]++
	r.mu.Unlock()
}

// PendingDocuments exposes the current gauge of documents awaiting
// verification.
func (r *Recorder) PendingDocuments() int64 {
	return r.pendingDocuments.Load()
}

// DocumentCounts returns a copy of the document event counters for testing and
// reporting purposes.
func (r *Recorder) DocumentCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]uint64, len(r.documentEvents))
	for k, v := range r.documentEvents {
		counts[k] = v
	}
	return counts
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.documentEvents = make(map[string]uint64)
	r.sessionEvents = make(map[string]uint64)
	r.pendingDocuments.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting label
// sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	documentEvents := r.sortedEvents(r.documentEvents)
	sessionEvents := r.sortedEvents(r.sessionEvents)

	fmt.Fprintln(w, "# HELP studyhub_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE studyhub_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "studyhub_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP studyhub_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE studyhub_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "studyhub_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP studyhub_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE studyhub_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "studyhub_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP studyhub_document_events_total Document upload lifecycle events by type")
	fmt.Fprintln(w, "# TYPE studyhub_document_events_total counter")
	for _, event := range documentEvents {
		value := r.documentEvents[event]
		fmt.Fprintf(w, "studyhub_document_events_total{event=\"%s\"} %d\n", event, value)
	}

	fmt.Fprintln(w, "# HELP studyhub_pending_documents Current number of documents awaiting verification")
	fmt.Fprintln(w, "# TYPE studyhub_pending_documents gauge")
	fmt.Fprintf(w, "studyhub_pending_documents %d\n", r.pendingDocuments.Load())

	fmt.Fprintln(w, "# HELP studyhub_session_events_total Session lifecycle events by type")
	fmt.Fprintln(w, "# TYPE studyhub_session_events_total counter")
	for _, event := range sessionEvents {
		value := r.sessionEvents[event]
		fmt.Fprintf(w, "studyhub_session_events_total{event=\"%s\"} %d\n", event, value)
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedEvents(events map[string]uint64) []string {
	names := make([]string, 0, len(events))
	for event := range events {
		names = append(names, event)
	}
	sort.Strings(names)
	return names
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
			continue
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	// Prefixed sequence IDs like u-12 or doc-3.
	if idx := strings.IndexByte(segment, '-'); idx > 0 {
		rest := segment[idx+1:]
		if rest != "" {
			digits := true
			for _, r := range rest {
				if r < '0' || r > '9' {
					digits = false
					break
				}
			}
			if digits {
				return true
			}
		}
	}
	// Random storage tokens are long runs of hex.
	if len(segment) >= 12 && isHexSegment(segment) {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func isHexSegment(segment string) bool {
	for _, r := range segment {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// DocumentUploaded records an accepted upload on the default recorder.
func DocumentUploaded() {
	defaultRecorder.DocumentUploaded()
}

// DocumentVerified records a verified document on the default recorder.
func DocumentVerified() {
	defaultRecorder.DocumentVerified()
}

// DocumentFailed records a failed document scan on the default recorder.
func DocumentFailed() {
	defaultRecorder.DocumentFailed()
}

// ObserveSessionEvent records a session event on the default recorder.
func ObserveSessionEvent(event string) {
	defaultRecorder.ObserveSessionEvent(event)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
