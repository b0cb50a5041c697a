package catalog

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNoResult is returned by an ImageFinder when a source yields nothing
// usable for a query. It is a per-item miss, never a batch failure.
var ErrNoResult = errors.New("no image result")

// ErrJobNotFound is returned by a JobStore for unknown job identifiers.
var ErrJobNotFound = errors.New("job not found")

// ImageFinder resolves a free-text query to an image reference.
// Implementations convert their own timeouts and scrape misses into
// ErrNoResult; any other error is a source-level failure.
type ImageFinder interface {
	FindImage(ctx context.Context, query string) (string, error)
}

// URLChecker probes whether an image URL is currently reachable. The verdict
// is advisory: implementations never return an error.
type URLChecker interface {
	Check(ctx context.Context, url string) bool
}

// JobStore keeps scrape job records keyed by identifier.
type JobStore interface {
	// Put creates the record, silently overwriting any prior job with the
	// same identifier.
	Put(ctx context.Context, job Job) error
	Get(ctx context.Context, jobID string) (Job, error)
	// UpdateProgress records one processed item. It is a no-op on jobs
	// already in a terminal state.
	UpdateProgress(ctx context.Context, jobID string, current int, lastProduct string, outcome ItemOutcome) error
	Complete(ctx context.Context, jobID string, results []ProductRecord) error
	Fail(ctx context.Context, jobID string, errText string) error
	// Delete removes the record unconditionally; unknown identifiers are a
	// no-op.
	Delete(ctx context.Context, jobID string) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
