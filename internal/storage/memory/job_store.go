// Package memory provides the in-memory job registry.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ferregold/image-scraper/internal/catalog"
)

// JobStore keeps scrape jobs in a process-local map. Each job has a single
// writer (its orchestrator goroutine); pollers get copies, so readers only
// ever observe transient staleness, never a half-written record.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]catalog.Job
	clock catalog.Clock
	ttl   time.Duration
}

// NewJobStore constructs a JobStore. A positive ttl makes Sweep (and the
// janitor) expire terminal jobs that finished longer than ttl ago; zero
// disables expiry, matching callers that delete jobs themselves.
func NewJobStore(clock catalog.Clock, ttl time.Duration) *JobStore {
	return &JobStore{
		jobs:  make(map[string]catalog.Job),
		clock: clock,
		ttl:   ttl,
	}
}

// Put stores the job, silently overwriting any record under the same
// identifier. Duplicate submission is resolved last-writer-wins.
func (s *JobStore) Put(_ context.Context, job catalog.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// Get fetches a copy of the job by ID.
func (s *JobStore) Get(_ context.Context, jobID string) (catalog.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return catalog.Job{}, catalog.ErrJobNotFound
	}
	return cloneJob(job), nil
}

// UpdateProgress records one processed item. Terminal jobs are left alone.
func (s *JobStore) UpdateProgress(
	_ context.Context,
	jobID string,
	current int,
	lastProduct string,
	outcome catalog.ItemOutcome,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return catalog.ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		return nil
	}
	if current > job.Current {
		job.Current = current
	}
	job.LastProduct = lastProduct
	job.LastOutcome = outcome
	s.jobs[jobID] = job
	return nil
}

// Complete transitions the job to completed and attaches its results.
func (s *JobStore) Complete(_ context.Context, jobID string, results []catalog.ProductRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return catalog.ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		return nil
	}
	job.Status = catalog.JobStatusCompleted
	job.Results = cloneResults(results)
	job.Current = job.Total
	job.CompletedAt = pointerTime(s.now())
	s.jobs[jobID] = job
	return nil
}

// Fail transitions the job to error with a diagnostic message. No partial
// results are exposed.
func (s *JobStore) Fail(_ context.Context, jobID string, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return catalog.ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		return nil
	}
	job.Status = catalog.JobStatusError
	job.ErrorText = errText
	job.Results = nil
	job.CompletedAt = pointerTime(s.now())
	s.jobs[jobID] = job
	return nil
}

// Delete removes the record unconditionally. Unknown IDs are a no-op so that
// cleanup is idempotent for callers.
func (s *JobStore) Delete(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
	return nil
}

// Sweep removes terminal jobs whose completion is older than the TTL and
// returns how many were expired. In-flight jobs are never swept, so an
// orchestrator cannot lose its record mid-batch.
func (s *JobStore) Sweep(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	expired := 0
	for id, job := range s.jobs {
		if !job.Status.IsTerminal() || job.CompletedAt == nil {
			continue
		}
		if now.Sub(*job.CompletedAt) > s.ttl {
			delete(s.jobs, id)
			expired++
		}
	}
	return expired
}

// RunJanitor sweeps on the given cadence until the context finishes.
func (s *JobStore) RunJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep(s.now())
		case <-ctx.Done():
			return
		}
	}
}

func (s *JobStore) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now().UTC()
}

func cloneJob(job catalog.Job) catalog.Job {
	cp := job
	cp.Results = cloneResults(job.Results)
	if job.CompletedAt != nil {
		cp.CompletedAt = pointerTime(*job.CompletedAt)
	}
	return cp
}

func cloneResults(src []catalog.ProductRecord) []catalog.ProductRecord {
	if src == nil {
		return nil
	}
	dst := make([]catalog.ProductRecord, len(src))
	copy(dst, src)
	return dst
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
