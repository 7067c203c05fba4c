package pipeline

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/dgallion1/docaudit/internal/config"
	"github.com/dgallion1/docaudit/internal/coordmap"
	"github.com/dgallion1/docaudit/internal/highlight"
)

// JobStatus represents the state of an analysis job.
type JobStatus string

const (
	StatusQueued         JobStatus = "queued"
	StatusParsing        JobStatus = "parsing"
	StatusAnalyzing      JobStatus = "analyzing"
	StatusMapping        JobStatus = "mapping"
	StatusHighlighting   JobStatus = "highlighting"
	StatusCompleted      JobStatus = "completed"
	StatusPartial        JobStatus = "partial"
	StatusCancelled      JobStatus = "cancelled"
	StatusBudgetExceeded JobStatus = "budget_exceeded"
	StatusFailed         JobStatus = "failed"
)

// Terminal reports whether no further transitions happen from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartial, StatusCancelled, StatusBudgetExceeded, StatusFailed:
		return true
	}
	return false
}

// Output is what a finished job produced.
type Output struct {
	Analysis  *Result           `json:"analysis"`
	Mapping   coordmap.Report   `json:"mapping"`
	Highlight *highlight.Result `json:"highlight,omitempty"`
}

// Job tracks the state of a single document analysis.
type Job struct {
	mu sync.Mutex

	ID       string `json:"job_id"`
	DocID    string `json:"doc_id"`
	Filename string `json:"filename"`
	Title    string `json:"title"`
	MimeType string `json:"mime_type"`

	Status JobStatus `json:"status"`
	Phase  string    `json:"phase"`

	Progress Progress `json:"progress"`

	// Analysis and Highlight are the run options chosen at submission.
	Analysis  config.Analysis   `json:"-"`
	Highlight highlight.Request `json:"-"`

	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Internal: not serialized.
	fileData        []byte
	cancel          context.CancelFunc
	cancelRequested bool
	output          *Output
	errors          []string
}

// Progress tracks processing progress.
type Progress struct {
	Stage      Stage    `json:"stage"`
	Percent    float64  `json:"percent"`
	Message    string   `json:"message"`
	UnitsTotal int      `json:"units_total"`
	UnitsDone  int      `json:"units_done"`
	Findings   int      `json:"findings"`
	Unmapped   int      `json:"unmapped"`
	Errors     []string `json:"errors"`
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Len returns the number of tracked jobs.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Cleanup removes expired jobs that are no longer running.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		job.mu.Lock()
		expired := now.Sub(job.UpdatedAt) > s.ttl && (job.Status == "" || job.Status.Terminal())
		job.mu.Unlock()
		if expired {
			delete(s.jobs, id)
		}
	}
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// CurrentStatus returns the job status.
func (j *Job) CurrentStatus() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Status
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// Observe folds a run progress event into the job.
func (j *Job) Observe(ev Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.Stage = ev.Stage
	j.Progress.Percent = ev.Percent
	j.Progress.Message = ev.Message
	j.Progress.UnitsDone = ev.UnitsDone
	j.Progress.UnitsTotal = ev.UnitsTotal
	j.UpdatedAt = time.Now()
}

// SetFileData sets the raw file bytes for processing.
func (j *Job) SetFileData(data []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fileData = data
}

// FileData returns the raw file bytes.
func (j *Job) FileData() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fileData
}

// bind attaches the cancel func of the running analysis. It reports false
// when cancellation was requested before the job started.
func (j *Job) bind(cancel context.CancelFunc) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancel = cancel
	return !j.cancelRequested
}

// Cancel stops the job. A queued job is cancelled before it runs; a
// running one stops dispatching and keeps what it has gathered. It reports
// false when the job had already finished.
func (j *Job) Cancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status.Terminal() {
		return false
	}
	j.cancelRequested = true
	if j.cancel != nil {
		j.cancel()
	}
	j.UpdatedAt = time.Now()
	return true
}

// SetOutput stores the job output and releases the upload.
func (j *Job) SetOutput(out *Output) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.output = out
	if out != nil && out.Analysis != nil {
		j.Progress.Findings = len(out.Analysis.Findings)
		j.Progress.Unmapped = len(out.Mapping.Unmapped)
	}
	j.UpdatedAt = time.Now()
}

// Output returns the job output, nil until the job finished.
func (j *Job) Output() *Output {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.output
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID        string    `json:"job_id"`
	DocID     string    `json:"doc_id"`
	Status    JobStatus `json:"status"`
	Phase     string    `json:"phase"`
	Filename  string    `json:"filename"`
	Title     string    `json:"title"`
	MimeType  string    `json:"mime_type,omitempty"`
	Progress  Progress  `json:"progress"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	p := j.Progress
	p.Errors = append([]string{}, j.Progress.Errors...)
	return JobSnapshot{
		ID:        j.ID,
		DocID:     j.DocID,
		Status:    j.Status,
		Phase:     j.Phase,
		Filename:  j.Filename,
		Title:     j.Title,
		MimeType:  j.MimeType,
		Progress:  p,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
