// Package orchestrator implements the batch image-resolution loop.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ferregold/image-scraper/internal/catalog"
)

// Orchestrator resolves images for a batch of products, one at a time, using
// the fixed source priority: keep a still-valid existing image, then the
// primary catalog source, then the image-search fallback.
type Orchestrator struct {
	primary  catalog.ImageFinder
	fallback catalog.ImageFinder
	checker  catalog.URLChecker
	delay    time.Duration
	logger   *zap.Logger
}

// New constructs an Orchestrator.
func New(
	primary catalog.ImageFinder,
	fallback catalog.ImageFinder,
	checker catalog.URLChecker,
	delay time.Duration,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		primary:  primary,
		fallback: fallback,
		checker:  checker,
		delay:    delay,
		logger:   logger,
	}
}

// Run processes the batch strictly in input order and returns a same-length
// batch with every record's image reference resolved or explicitly nil.
// Per-item misses never fail the batch; only source-level failures (session
// death, cancellation) abort, and then no partial results are returned.
// After every item the optional callback fires with 1-based progress, then a
// fixed delay paces the next item to avoid hammering the fallback engine.
func (o *Orchestrator) Run(
	ctx context.Context,
	products []catalog.ProductRecord,
	onProgress catalog.ProgressFunc,
) ([]catalog.ProductRecord, error) {
	total := len(products)
	resolved := make([]catalog.ProductRecord, 0, total)

	for idx, product := range products {
		record, outcome, err := o.processItem(ctx, product)
		if err != nil {
			return nil, fmt.Errorf("batch aborted at item %d/%d: %w", idx+1, total, err)
		}
		resolved = append(resolved, record)

		if onProgress != nil {
			onProgress(catalog.Progress{
				Position: idx + 1,
				Total:    total,
				Record:   record,
				Outcome:  outcome,
			})
		}

		if idx+1 < total {
			if err := o.pause(ctx); err != nil {
				return nil, err
			}
		}
	}
	return resolved, nil
}

// processItem applies the per-product policy and returns the augmented
// record with its outcome tag.
func (o *Orchestrator) processItem(
	ctx context.Context,
	product catalog.ProductRecord,
) (catalog.ProductRecord, catalog.ItemOutcome, error) {
	query := product.Producto

	if product.ImageURL != nil && o.checker.Check(ctx, *product.ImageURL) {
		o.logger.Debug("existing image still valid", zap.String("producto", query))
		return product, catalog.OutcomeSkipped, nil
	}

	imageURL, err := o.findValidated(ctx, o.primary, "primary", query)
	if err != nil {
		return catalog.ProductRecord{}, "", err
	}

	if imageURL == "" {
		o.logger.Debug("primary source exhausted, trying fallback", zap.String("producto", query))
		imageURL, err = o.findValidated(ctx, o.fallback, "fallback", query)
		if err != nil {
			return catalog.ProductRecord{}, "", err
		}
	}

	if imageURL == "" {
		product.ImageURL = nil
		return product, catalog.OutcomeNotFound, nil
	}
	product.ImageURL = &imageURL
	return product, catalog.OutcomeFound, nil
}

// findValidated queries one source and validates the candidate. A miss or an
// invalid candidate yields an empty URL; only source-level errors propagate.
func (o *Orchestrator) findValidated(
	ctx context.Context,
	finder catalog.ImageFinder,
	source string,
	query string,
) (string, error) {
	candidate, err := finder.FindImage(ctx, query)
	if err != nil {
		if errors.Is(err, catalog.ErrNoResult) {
			return "", nil
		}
		return "", fmt.Errorf("%s source failed: %w", source, err)
	}
	if !o.checker.Check(ctx, candidate) {
		o.logger.Debug("discarding unreachable candidate",
			zap.String("source", source),
			zap.String("producto", query),
			zap.String("candidate", candidate),
		)
		return "", nil
	}
	return candidate, nil
}

func (o *Orchestrator) pause(ctx context.Context) error {
	if o.delay <= 0 {
		return nil
	}
	timer := time.NewTimer(o.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("batch canceled during pacing delay: %w", ctx.Err())
	}
}
