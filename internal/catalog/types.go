// Package catalog defines core types shared across subsystems.
package catalog

import "time"

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values kept in the job store. Jobs move from processing to
// exactly one terminal state and never leave it.
const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusError      JobStatus = "error"
)

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// ItemOutcome tags the result of resolving one product's image.
type ItemOutcome string

// Per-item outcomes recorded after each product is processed.
const (
	OutcomeSkipped  ItemOutcome = "skipped"
	OutcomeFound    ItemOutcome = "found"
	OutcomeNotFound ItemOutcome = "not_found"
)

// ProductRecord is the unit of scraping. Producto carries the free-text
// description used as the search query. A nil ImageURL is an explicit
// absence, serialized as JSON null.
type ProductRecord struct {
	ID       string  `json:"id,omitempty"`
	Producto string  `json:"producto"`
	ImageURL *string `json:"image_url"`
}

// Job is the orchestration record for one submitted batch. Current is
// monotonically non-decreasing and never exceeds Total; Results is populated
// only once Status is completed.
type Job struct {
	ID          string          `json:"jobId"`
	Status      JobStatus       `json:"status"`
	Total       int             `json:"total"`
	Current     int             `json:"current"`
	LastProduct string          `json:"lastProduct,omitempty"`
	LastOutcome ItemOutcome     `json:"lastStatus,omitempty"`
	Results     []ProductRecord `json:"results,omitempty"`
	ErrorText   string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// Progress is delivered to the progress callback after every processed item.
// Position is 1-based.
type Progress struct {
	Position int
	Total    int
	Record   ProductRecord
	Outcome  ItemOutcome
}

// ProgressFunc receives incremental batch progress.
type ProgressFunc func(Progress)

// CompletionEvent summarizes a finished job for downstream consumers.
type CompletionEvent struct {
	JobID    string    `json:"jobId"`
	Status   JobStatus `json:"status"`
	Total    int       `json:"total"`
	Found    int       `json:"found"`
	Skipped  int       `json:"skipped"`
	NotFound int       `json:"notFound"`
}
