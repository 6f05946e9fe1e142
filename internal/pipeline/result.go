package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DuplicateDetail records one skipped row.
type DuplicateDetail struct {
	Row        int    `json:"row"`
	Reference  string `json:"reference"`
	ExistingID int    `json:"existing_id"`
}

// ErrorDetail records one failed row.
type ErrorDetail struct {
	Row       int    `json:"row"`
	Reference string `json:"reference"`
	Message   string `json:"message"`
}

// VerificationDetail records one post-insert verification.
type VerificationDetail struct {
	Row       int    `json:"row"`
	Reference string `json:"reference"`
	Verified  bool   `json:"verified"`
	Found     bool   `json:"found"`
}

// Result is the full accounting of one import run. A Result is always
// produced: a run that could not even start sets Failed counters to
// zero and Err to true.
type Result struct {
	mu sync.Mutex

	RunID string `json:"run_id"`

	TotalRows           int `json:"total_rows"`
	Imported            int `json:"imported"`
	Duplicates          int `json:"duplicates"`
	Failed              int `json:"failed"`
	VerificationsFailed int `json:"verifications_failed"`

	DuplicateDetails    []DuplicateDetail    `json:"duplicate_details,omitempty"`
	ErrorDetails        []ErrorDetail        `json:"error_details,omitempty"`
	VerificationDetails []VerificationDetail `json:"verification_details,omitempty"`

	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`

	Err        bool   `json:"err"`
	ErrMessage string `json:"err_message,omitempty"`
}

func newResult(total int) *Result {
	return &Result{RunID: uuid.NewString(), TotalRows: total, StartTime: time.Now()}
}

func (r *Result) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)
}

func (r *Result) fail(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Err = true
	r.ErrMessage = msg
}

func (r *Result) addImported() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Imported++
}

func (r *Result) addDuplicate(d DuplicateDetail) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Duplicates++
	r.DuplicateDetails = append(r.DuplicateDetails, d)
}

func (r *Result) addError(d ErrorDetail) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failed++
	r.ErrorDetails = append(r.ErrorDetails, d)
}

func (r *Result) addVerification(d VerificationDetail) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.VerificationDetails = append(r.VerificationDetails, d)
	if d.Verified && !d.Found {
		r.VerificationsFailed++
	}
}

// Processed returns how many rows reached a terminal state.
func (r *Result) Processed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Imported + r.Duplicates + r.Failed
}

// counters returns a consistent snapshot for progress reporting.
func (r *Result) counters() (imported, duplicates, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Imported, r.Duplicates, r.Failed
}
