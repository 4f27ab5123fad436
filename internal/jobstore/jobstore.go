package jobstore

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/viralcut/clipper/internal/models"
)

var (
	ErrNotFound     = errors.New("job not found")
	ErrInvalidState = errors.New("job is already in a terminal state")
)

const (
	// Jobs older than the TTL are swept regardless of state.
	jobTTL        = 72 * time.Hour
	sweepInterval = time.Hour
)

// Store is the in-memory job registry. All mutation goes through its
// methods; Get returns copies so callers never see concurrent writes.
type Store struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
	now  func() time.Time
}

func New() *Store {
	return &Store{jobs: make(map[string]*models.Job), now: time.Now}
}

// Create registers a new job in the queued state.
func (s *Store) Create(id, fileID, webhookURL string, mode models.JobMode) *models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	job := &models.Job{
		ID:              id,
		FileID:          fileID,
		WebhookURL:      webhookURL,
		Mode:            mode,
		Status:          models.JobStatusQueued,
		ProgressMessage: "queued",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.jobs[id] = job
	cp := *job
	return &cp
}

// Get returns a copy of the job, or ErrNotFound.
func (s *Store) Get(id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

// SetProgress moves a non-terminal job to a new status with a progress
// message. Calls against terminal jobs are ignored; the pipeline may race
// its final update against a sweep.
func (s *Store) SetProgress(id string, status models.JobStatus, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status.Terminal() {
		return
	}
	job.Status = status
	job.ProgressMessage = message
	job.UpdatedAt = s.now()
}

// Complete marks the job completed with its result. Returns ErrInvalidState
// if the job already reached a terminal state.
func (s *Store) Complete(id string, result *models.JobResult) error {
	return s.finish(id, models.JobStatusCompleted, "completed", result, nil)
}

// Fail marks the job failed with a classified error.
func (s *Store) Fail(id string, jobErr *models.JobError) error {
	return s.finish(id, models.JobStatusError, jobErr.Message, nil, jobErr)
}

// Cancel marks the job cancelled.
func (s *Store) Cancel(id string) error {
	return s.finish(id, models.JobStatusCancelled, "cancelled", nil, nil)
}

func (s *Store) finish(id string, status models.JobStatus, message string, result *models.JobResult, jobErr *models.JobError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status.Terminal() {
		return ErrInvalidState
	}
	job.Status = status
	job.ProgressMessage = message
	job.Result = result
	job.Error = jobErr
	job.UpdatedAt = s.now()
	return nil
}

// RequestCancel flags a running job for cooperative cancellation. The
// pipeline observes the flag at stage boundaries. Terminal jobs return
// ErrInvalidState, unknown ids ErrNotFound.
func (s *Store) RequestCancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status.Terminal() {
		return ErrInvalidState
	}
	job.CancelRequested = true
	job.UpdatedAt = s.now()
	return nil
}

// CancelRequested reports whether cancellation was requested. Unknown jobs
// report true so an orphaned pipeline stops.
func (s *Store) CancelRequested(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return true
	}
	return job.CancelRequested
}

// Sweep removes jobs older than the TTL and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-jobTTL)
	removed := 0
	for id, job := range s.jobs {
		if job.CreatedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs the TTL sweep hourly until ctx is cancelled.
func (s *Store) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Sweep(); n > 0 {
					log.Printf("[JobStore] Swept %d expired jobs", n)
				}
			}
		}
	}()
}
