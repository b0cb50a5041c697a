package api

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ferregold/image-scraper/internal/catalog"
	"github.com/ferregold/image-scraper/internal/metrics"
	"github.com/ferregold/image-scraper/internal/orchestrator"
)

// ScraperFactory builds the primary and fallback image sources for one job.
// Each job gets its own browser session, so the factory is invoked once per
// batch and the returned cleanup tears the session down again.
type ScraperFactory func(ctx context.Context) (primary, fallback catalog.ImageFinder, cleanup func(), err error)

// Archiver mirrors resolved images into durable storage.
type Archiver interface {
	Archive(ctx context.Context, jobID string, records []catalog.ProductRecord) []catalog.ProductRecord
}

// BatchRunner owns the lifecycle of one scrape job: it spawns the
// orchestrator goroutine, relays progress into the job store, mirrors the
// results, and emits the completion event.
type BatchRunner struct {
	store     catalog.JobStore
	factory   ScraperFactory
	checker   catalog.URLChecker
	itemDelay time.Duration
	archiver  Archiver
	publisher catalog.Publisher
	topic     string
	logger    *zap.Logger
}

// NewBatchRunner constructs a BatchRunner. The archiver and publisher are
// optional; a nil archiver skips mirroring and a nil publisher skips
// completion events.
func NewBatchRunner(
	store catalog.JobStore,
	factory ScraperFactory,
	checker catalog.URLChecker,
	itemDelay time.Duration,
	archiver Archiver,
	publisher catalog.Publisher,
	topic string,
	logger *zap.Logger,
) *BatchRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchRunner{
		store:     store,
		factory:   factory,
		checker:   checker,
		itemDelay: itemDelay,
		archiver:  archiver,
		publisher: publisher,
		topic:     topic,
		logger:    logger,
	}
}

// Start launches the job's orchestrator goroutine and returns a channel that
// closes when the job reaches a terminal state. The caller's HTTP request
// does not wait on it; tests do.
func (r *BatchRunner) Start(ctx context.Context, jobID string, products []catalog.ProductRecord) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.run(ctx, jobID, products)
	}()
	return done
}

func (r *BatchRunner) run(ctx context.Context, jobID string, products []catalog.ProductRecord) {
	logger := r.logger.With(zap.String("job_id", jobID))

	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("scrape job panicked", zap.Any("panic", rec))
			r.fail(ctx, jobID, fmt.Sprintf("internal failure: %v", rec))
		}
	}()

	primary, fallback, cleanup, err := r.factory(ctx)
	if err != nil {
		logger.Error("browser session setup failed", zap.Error(err))
		r.fail(ctx, jobID, fmt.Sprintf("browser session setup failed: %v", err))
		return
	}
	defer cleanup()

	var tally outcomeTally
	lastItem := time.Now()

	orch := orchestrator.New(primary, fallback, r.checker, r.itemDelay, logger)
	results, err := orch.Run(ctx, products, func(p catalog.Progress) {
		tally.count(p.Outcome)
		metrics.ObserveItem(string(p.Outcome), time.Since(lastItem))
		lastItem = time.Now()

		if upErr := r.store.UpdateProgress(ctx, jobID, p.Position, p.Record.Producto, p.Outcome); upErr != nil {
			logger.Warn("progress update failed", zap.Error(upErr))
		}
	})
	if err != nil {
		logger.Error("scrape batch failed", zap.Error(err))
		r.fail(ctx, jobID, err.Error())
		return
	}

	if r.archiver != nil {
		results = r.archiver.Archive(ctx, jobID, results)
	}

	if err := r.store.Complete(ctx, jobID, results); err != nil {
		logger.Error("job completion write failed", zap.Error(err))
		return
	}
	metrics.ObserveJob(string(catalog.JobStatusCompleted))
	logger.Info("scrape job completed",
		zap.Int("total", len(results)),
		zap.Int("found", tally.found),
		zap.Int("skipped", tally.skipped),
		zap.Int("not_found", tally.notFound),
	)

	r.publish(ctx, catalog.CompletionEvent{
		JobID:    jobID,
		Status:   catalog.JobStatusCompleted,
		Total:    len(results),
		Found:    tally.found,
		Skipped:  tally.skipped,
		NotFound: tally.notFound,
	})
}

func (r *BatchRunner) fail(ctx context.Context, jobID string, errText string) {
	// The terminal write must land even when the job died to cancellation.
	ctx = context.WithoutCancel(ctx)
	if err := r.store.Fail(ctx, jobID, errText); err != nil {
		r.logger.Error("job failure write failed", zap.String("job_id", jobID), zap.Error(err))
	}
	metrics.ObserveJob(string(catalog.JobStatusError))
	r.publish(ctx, catalog.CompletionEvent{
		JobID:  jobID,
		Status: catalog.JobStatusError,
	})
}

func (r *BatchRunner) publish(ctx context.Context, event catalog.CompletionEvent) {
	if r.publisher == nil {
		return
	}
	if _, err := r.publisher.Publish(ctx, r.topic, event); err != nil {
		r.logger.Warn("completion event publish failed",
			zap.String("job_id", event.JobID),
			zap.Error(err),
		)
	}
}

type outcomeTally struct {
	found    int
	skipped  int
	notFound int
}

func (t *outcomeTally) count(outcome catalog.ItemOutcome) {
	switch outcome {
	case catalog.OutcomeFound:
		t.found++
	case catalog.OutcomeSkipped:
		t.skipped++
	case catalog.OutcomeNotFound:
		t.notFound++
	}
}
