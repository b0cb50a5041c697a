package scraper

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/ferregold/image-scraper/internal/catalog"
)

const imageSearchBaseURL = "https://www.google.com/search?tbm=isch&q="

// collectImagesJS snapshots every rendered image's attributes in document
// order. One evaluate call avoids per-node round trips and the stale element
// races a node-by-node walk is prone to.
const collectImagesJS = `Array.from(document.images).map(function (img) {
	return {
		src: img.getAttribute('src') || '',
		width: img.getAttribute('width') || '',
		height: img.getAttribute('height') || ''
	};
})`

// ImageSearch is the fallback scraper: it runs the query through a general
// image-search engine and picks the first plausible result.
type ImageSearch struct {
	session     *Session
	waitTimeout time.Duration
	settleDelay time.Duration
	logger      *zap.Logger
}

// NewImageSearch builds the fallback scraper over a shared session.
func NewImageSearch(session *Session, waitTimeout, settleDelay time.Duration, logger *zap.Logger) *ImageSearch {
	if waitTimeout <= 0 {
		waitTimeout = 10 * time.Second
	}
	if settleDelay <= 0 {
		settleDelay = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImageSearch{
		session:     session,
		waitTimeout: waitTimeout,
		settleDelay: settleDelay,
		logger:      logger,
	}
}

// FindImage loads the image-search results page for the query, lets it
// settle, and scans rendered images in document order for the first one that
// passes the plausibility filter. Everything short of a canceled caller or a
// dead session maps to catalog.ErrNoResult.
func (s *ImageSearch) FindImage(ctx context.Context, query string) (string, error) {
	tabCtx, err := s.session.Ctx()
	if err != nil {
		return "", fmt.Errorf("browser session: %w", err)
	}

	searchURL := imageSearchBaseURL + url.QueryEscape(query)

	var candidates []imageCandidate
	taskCtx, cancel := context.WithTimeout(tabCtx, s.waitTimeout+s.settleDelay)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	runErr := chromedp.Run(taskCtx,
		chromedp.Navigate(searchURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.settleDelay),
		chromedp.Evaluate(collectImagesJS, &candidates),
	)
	if runErr != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("image search canceled: %w", ctx.Err())
		}
		s.logger.Debug("image search miss", zap.String("query", query), zap.Error(runErr))
		return "", catalog.ErrNoResult
	}

	for _, c := range candidates {
		if plausible(c) {
			return c.Src, nil
		}
	}
	return "", catalog.ErrNoResult
}
