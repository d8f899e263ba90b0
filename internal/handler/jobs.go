package handler

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/arturoeanton/support-chat-rag/internal/middleware"
	"github.com/gofiber/fiber/v3"
)

// DefaultJobRetention is how long a finished job stays queryable.
const DefaultJobRetention = time.Hour

// Job states.
const (
	JobRunning  = "running"
	JobComplete = "complete"
	JobError    = "error"
)

// JobStatus represents the current state of an ingestion job.
type JobStatus struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	Namespace   string    `json:"namespace"`
	Status      string    `json:"status"` // running, complete, error
	Progress    int       `json:"progress"`
	Total       int       `json:"total"`
	Indexed     int       `json:"indexed"`
	Skipped     int       `json:"skipped"`
	Failed      int       `json:"failed"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

func (j JobStatus) done() bool {
	return j.Status == JobComplete || j.Status == JobError
}

// JobTracker manages ingestion jobs in memory. Finished jobs are evicted
// once they are older than the retention period.
type JobTracker struct {
	mu        sync.RWMutex
	jobs      map[string]*JobStatus
	subs      map[string][]chan JobStatus // subscribers per job
	retention time.Duration
	now       func() time.Time
}

// NewJobTracker creates a new job tracker with DefaultJobRetention.
func NewJobTracker() *JobTracker {
	return &JobTracker{
		jobs:      make(map[string]*JobStatus),
		subs:      make(map[string][]chan JobStatus),
		retention: DefaultJobRetention,
		now:       time.Now,
	}
}

// CreateJob creates a new running job entry and evicts expired finished jobs.
func (t *JobTracker) CreateJob(id, source, namespace string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune()
	t.jobs[id] = &JobStatus{
		ID:        id,
		Source:    source,
		Namespace: namespace,
		Status:    JobRunning,
		StartedAt: t.now(),
	}
}

// prune drops finished jobs past retention that nobody is watching. Callers hold mu.
func (t *JobTracker) prune() {
	cutoff := t.now().Add(-t.retention)
	for id, job := range t.jobs {
		if job.done() && job.CompletedAt.Before(cutoff) && len(t.subs[id]) == 0 {
			delete(t.jobs, id)
		}
	}
}

// UpdateJob applies fn to the job and notifies subscribers.
func (t *JobTracker) UpdateJob(id string, fn func(*JobStatus)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[id]
	if !ok {
		return
	}
	fn(job)
	if job.done() && job.CompletedAt.IsZero() {
		job.CompletedAt = t.now()
	}

	// A full buffer drops progress updates but never the final one.
	snapshot := *job
	for _, ch := range t.subs[id] {
		select {
		case ch <- snapshot:
		default:
			if snapshot.done() {
				select {
				case <-ch:
				default:
				}
				ch <- snapshot
			}
		}
	}
}

// GetJob returns a job status. Expired finished jobs are reported as missing.
func (t *JobTracker) GetJob(id string) (*JobStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[id]
	if !ok || (job.done() && job.CompletedAt.Before(t.now().Add(-t.retention))) {
		return nil, false
	}
	snapshot := *job
	return &snapshot, true
}

// Subscribe returns a channel that receives job updates.
func (t *JobTracker) Subscribe(id string) chan JobStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan JobStatus, 10)
	t.subs[id] = append(t.subs[id], ch)
	return ch
}

// Unsubscribe removes a channel from subscribers.
func (t *JobTracker) Unsubscribe(id string, ch chan JobStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	subs := t.subs[id]
	for i, s := range subs {
		if s == ch {
			t.subs[id] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(t.subs[id]) == 0 {
		delete(t.subs, id)
	}
	close(ch)
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	tracker *JobTracker
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(tracker *JobTracker) *JobsHandler {
	return &JobsHandler{tracker: tracker}
}

// Register sets up job routes. Only admins, who start jobs, may watch them.
func (h *JobsHandler) Register(router fiber.Router) {
	jobs := router.Group("/jobs", middleware.RequireRole(RoleAdmin))
	jobs.Get("/:id", h.GetStatus)
	jobs.Get("/:id/stream", h.StreamSSE)
}

// GetStatus returns the current job status.
func (h *JobsHandler) GetStatus(c fiber.Ctx) error {
	job, ok := h.tracker.GetJob(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "job not found"})
	}
	return c.JSON(job)
}

// StreamSSE streams job updates via Server-Sent Events.
func (h *JobsHandler) StreamSSE(c fiber.Ctx) error {
	id := strings.Clone(c.Params("id"))

	// Subscribe before reading the status so no update falls in between.
	ch := h.tracker.Subscribe(id)
	job, ok := h.tracker.GetJob(id)
	if !ok {
		h.tracker.Unsubscribe(id, ch)
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "job not found"})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	// If already complete, just return the final status
	if job.done() {
		h.tracker.Unsubscribe(id, ch)
		data, _ := json.Marshal(job)
		return c.SendString(fmt.Sprintf("event: %s\ndata: %s\n\n", job.Status, string(data)))
	}

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer h.tracker.Unsubscribe(id, ch)

		data, _ := json.Marshal(job)
		fmt.Fprintf(w, "event: progress\ndata: %s\n\n", string(data))
		if err := w.Flush(); err != nil {
			return
		}

		timeout := time.After(30 * time.Minute)
		for {
			select {
			case update := <-ch:
				data, _ := json.Marshal(update)
				eventType := "progress"
				if update.done() {
					eventType = update.Status
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, string(data))
				if err := w.Flush(); err != nil {
					return
				}
				if update.done() {
					return
				}
			case <-timeout:
				slog.Warn("SSE timeout", "job_id", id)
				return
			}
		}
	})
}
