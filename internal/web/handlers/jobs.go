package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/kozaktomas/photo-stacker/internal/constants"
)

// JobStatus represents the status of an async job.
type JobStatus string

// JobStatus constants define the lifecycle states of an async job.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// JobKind identifies what a job runs.
type JobKind string

// Job kinds handled by the manager.
const (
	JobKindBackfill JobKind = "backfill"
	JobKindGenerate JobKind = "generate"
)

// Job represents an async backfill or generation job.
type Job struct {
	EventBroadcaster

	ID          string     `json:"id"`
	Kind        JobKind    `json:"kind"`
	ProjectID   int64      `json:"project_id"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"` // percentage
	Total       int        `json:"total"`
	Processed   int        `json:"processed"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      any        `json:"result,omitempty"`
}

// JobView is a point-in-time copy of a job's public state. Handlers
// serialize the view, never the live job, so the runner goroutine can keep
// mutating counters while a status request is being encoded.
type JobView struct {
	ID          string     `json:"id"`
	Kind        JobKind    `json:"kind"`
	ProjectID   int64      `json:"project_id"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	Total       int        `json:"total"`
	Processed   int        `json:"processed"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      any        `json:"result,omitempty"`
}

// Snapshot copies the job state under the lock (implements SSEJob).
func (j *Job) Snapshot() JobView {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return JobView{
		ID:          j.ID,
		Kind:        j.Kind,
		ProjectID:   j.ProjectID,
		Status:      j.Status,
		Progress:    j.Progress,
		Total:       j.Total,
		Processed:   j.Processed,
		Error:       j.Error,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		Result:      j.Result,
	}
}

// GetStatus returns the current job status (implements SSEJob).
func (j *Job) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// Cancel cancels the job.
func (j *Job) Cancel() {
	j.EventBroadcaster.Cancel()
	j.mu.Lock()
	j.Status = JobStatusCancelled
	j.mu.Unlock()
}

// setRunning moves the job to running and announces it to listeners.
func (j *Job) setRunning() {
	j.mu.Lock()
	j.Status = JobStatusRunning
	j.mu.Unlock()
	j.SendEvent(JobEvent{Type: "started", Message: string(j.Kind) + " job started"})
}

// setProgress updates the counters and emits a progress event.
func (j *Job) setProgress(current, total int, message string) {
	j.mu.Lock()
	j.Processed = current
	j.Total = total
	if total > 0 {
		j.Progress = int(float64(current) / float64(total) * 100)
	}
	j.mu.Unlock()
	j.SendEvent(JobEvent{
		Type: "progress",
		Data: map[string]any{
			"current": current,
			"total":   total,
			"message": message,
		},
	})
}

// complete marks the job finished and attaches its result.
func (j *Job) complete(result any) {
	now := time.Now()
	j.mu.Lock()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.Progress = 100
	j.Result = result
	j.mu.Unlock()
	j.SendEvent(JobEvent{Type: "completed", Data: result})
}

// fail marks the job failed with a message.
func (j *Job) fail(message string) {
	now := time.Now()
	j.mu.Lock()
	j.Status = JobStatusFailed
	j.Error = message
	j.CompletedAt = &now
	j.mu.Unlock()
	j.SendEvent(JobEvent{Type: "job_error", Message: message})
}

// markCancelled records a cancellation observed by the running goroutine.
func (j *Job) markCancelled() {
	now := time.Now()
	j.mu.Lock()
	j.Status = JobStatusCancelled
	j.CompletedAt = &now
	j.mu.Unlock()
	j.SendEvent(JobEvent{Type: "cancelled", Message: "Job was cancelled"})
}

// JobEvent represents an event from a job.
type JobEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// EventBroadcaster provides listener management and event broadcasting for async jobs.
// Embed this in job structs to get AddListener, RemoveListener, and SendEvent methods.
type EventBroadcaster struct {
	cancel    context.CancelFunc
	listeners []chan JobEvent
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan JobEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan JobEvent, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener.
func (b *EventBroadcaster) RemoveListener(ch chan JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners.
func (b *EventBroadcaster) SendEvent(event JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// Cancel cancels the job via context and sends a cancelled event.
func (b *EventBroadcaster) Cancel() {
	if b.cancel != nil {
		b.cancel()
	}
	b.SendEvent(JobEvent{Type: "cancelled", Message: "Job cancelled by user"})
}

// SSEJob is the interface required by streamSSEEvents to stream job events via SSE.
type SSEJob interface {
	AddListener() chan JobEvent
	RemoveListener(ch chan JobEvent)
	GetStatus() JobStatus
	Snapshot() JobView
}

// JobManager manages async jobs.
type JobManager struct {
	jobs map[string]*Job
	mu   sync.RWMutex
}

// NewJobManager creates a new job manager.
func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*Job),
	}
}

// CreateJob creates a new job of the given kind.
func (m *JobManager) CreateJob(id string, kind JobKind, projectID int64) *Job {
	job := &Job{
		ID:        id,
		Kind:      kind,
		ProjectID: projectID,
		Status:    JobStatusPending,
		StartedAt: time.Now(),
	}

	m.mu.Lock()
	m.jobs[id] = job
	m.mu.Unlock()

	return job
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// DeleteJob removes a job.
func (m *JobManager) DeleteJob(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
}

// ListJobs returns all jobs.
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}
