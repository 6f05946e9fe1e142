// Package diag collects run diagnostics for an import: a bounded log
// of outbound requests and their responses, live progress counters and
// periodic snapshots. Everything is in memory and exportable as one
// JSON document for post-run analysis.
package diag

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/flowsma/record-importer/internal/pkg/logger"
)

// ringCapacity bounds each log; older entries are dropped first.
const ringCapacity = 100

// RequestEntry records one outbound API call.
type RequestEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Operation   string    `json:"operation"`
	RecordIndex int       `json:"record_index"`
	Reference   string    `json:"reference,omitempty"`
	TokenHint   string    `json:"token_hint,omitempty"`
}

// ResponseEntry records the outcome of one API call.
type ResponseEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Operation   string    `json:"operation"`
	RecordIndex int       `json:"record_index"`
	Success     bool      `json:"success"`
	Status      int       `json:"status,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

// Progress is the live state of an import run.
type Progress struct {
	Total        int     `json:"total"`
	Processed    int     `json:"processed"`
	Succeeded    int     `json:"succeeded"`
	Duplicates   int     `json:"duplicates"`
	Failed       int     `json:"failed"`
	Percent      float64 `json:"percent"`
	Batch        int     `json:"batch"`
	TotalBatches int     `json:"total_batches"`
}

// Snapshot is a point-in-time copy of the progress counters.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Progress  Progress  `json:"progress"`
}

// Report is the exported diagnostics document.
type Report struct {
	StartedAt  time.Time       `json:"started_at"`
	ExportedAt time.Time       `json:"exported_at"`
	Progress   Progress        `json:"progress"`
	Snapshots  []Snapshot      `json:"snapshots"`
	Requests   []RequestEntry  `json:"requests"`
	Responses  []ResponseEntry `json:"responses"`
}

// ring is a fixed-capacity drop-oldest buffer.
type ring[T any] struct {
	buf  []T
	next int
	full bool
}

func (r *ring[T]) add(v T) {
	if !r.full {
		r.buf = append(r.buf, v)
		if len(r.buf) == ringCapacity {
			r.full = true
		}
		return
	}
	r.buf[r.next] = v
	r.next = (r.next + 1) % ringCapacity
}

// items returns entries oldest-first.
func (r *ring[T]) items() []T {
	out := make([]T, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}

// Tracker accumulates diagnostics for one run. A disabled Tracker
// accepts every call and records nothing, so call sites stay
// unconditional.
type Tracker struct {
	mu        sync.Mutex
	enabled   bool
	startedAt time.Time
	requests  ring[RequestEntry]
	responses ring[ResponseEntry]
	progress  Progress
	snapshots []Snapshot
}

// NewTracker creates a Tracker.
func NewTracker(enabled bool) *Tracker {
	return &Tracker{enabled: enabled, startedAt: time.Now()}
}

// LogRequest records an outbound call. The token is reduced to a
// redacted hint before storage.
func (t *Tracker) LogRequest(op string, recordIndex int, reference, token string) {
	if !t.enabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	entry := RequestEntry{
		Timestamp:   time.Now(),
		Operation:   op,
		RecordIndex: recordIndex,
		Reference:   reference,
	}
	if token != "" {
		entry.TokenHint = logger.RedactToken(token)
	}
	t.requests.add(entry)
}

// LogResponse records a call outcome.
func (t *Tracker) LogResponse(op string, recordIndex int, success bool, status int, detail string) {
	if !t.enabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responses.add(ResponseEntry{
		Timestamp:   time.Now(),
		Operation:   op,
		RecordIndex: recordIndex,
		Success:     success,
		Status:      status,
		Detail:      detail,
	})
}

// UpdateProgress replaces the live counters, recomputing the
// percentage.
func (t *Tracker) UpdateProgress(p Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p.Total > 0 {
		p.Percent = float64(p.Processed) / float64(p.Total) * 100
	}
	t.progress = p
}

// Progress returns a copy of the live counters.
func (t *Tracker) Progress() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// TakeSnapshot appends a timestamped copy of the current progress.
func (t *Tracker) TakeSnapshot() {
	if !t.enabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snapshots = append(t.snapshots, Snapshot{Timestamp: time.Now(), Progress: t.progress})
}

// Requests returns the request log oldest-first.
func (t *Tracker) Requests() []RequestEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requests.items()
}

// Responses returns the response log oldest-first.
func (t *Tracker) Responses() []ResponseEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.responses.items()
}

// Report assembles the full diagnostics document.
func (t *Tracker) Report() *Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &Report{
		StartedAt:  t.startedAt,
		ExportedAt: time.Now(),
		Progress:   t.progress,
		Snapshots:  append([]Snapshot(nil), t.snapshots...),
		Requests:   t.requests.items(),
		Responses:  t.responses.items(),
	}
}

// ExportJSON serializes the report with indentation.
func (t *Tracker) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(t.Report(), "", "  ")
}
