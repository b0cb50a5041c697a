package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/ferregold/image-scraper/internal/catalog"
)

// The two scrape sources are fixed; they are properties of the product
// catalog, not deployment knobs.
const (
	catalogBaseURL    = "http://190.183.223.6/gold/"
	catalogSearchPath = "advanced_search_result.php"

	searchInputSelector = `input[name="keywords"]`
	thumbnailSelector   = `img.img-responsive.thumbnail.group.list-group-image`
)

// Catalog is the primary scraper: it searches the vendor catalog site in a
// browser session and extracts the first product thumbnail.
type Catalog struct {
	session     *Session
	waitTimeout time.Duration
	logger      *zap.Logger
}

// NewCatalog builds the primary scraper over a shared session.
func NewCatalog(session *Session, waitTimeout time.Duration, logger *zap.Logger) *Catalog {
	if waitTimeout <= 0 {
		waitTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		session:     session,
		waitTimeout: waitTimeout,
		logger:      logger,
	}
}

// FindImage submits the query on the catalog's search form and returns the
// src of the first matching thumbnail. A timeout or missing element is a
// per-item miss reported as catalog.ErrNoResult; only session-level failures
// (browser won't start, caller canceled) surface as real errors.
func (c *Catalog) FindImage(ctx context.Context, query string) (string, error) {
	tabCtx, err := c.session.Ctx()
	if err != nil {
		return "", fmt.Errorf("browser session: %w", err)
	}

	if err := c.run(ctx, tabCtx, chromedp.Tasks{
		chromedp.Navigate(catalogBaseURL),
		chromedp.WaitVisible(searchInputSelector, chromedp.ByQuery),
		chromedp.Clear(searchInputSelector, chromedp.ByQuery),
		chromedp.SendKeys(searchInputSelector, query+kb.Enter, chromedp.ByQuery),
	}); err != nil {
		return "", c.miss(ctx, query, "search submit", err)
	}

	var (
		src string
		ok  bool
	)
	if err := c.run(ctx, tabCtx, chromedp.Tasks{
		chromedp.WaitVisible(thumbnailSelector, chromedp.ByQuery),
		chromedp.AttributeValue(thumbnailSelector, "src", &src, &ok, chromedp.ByQuery),
	}); err != nil {
		return "", c.miss(ctx, query, "thumbnail wait", err)
	}
	if !ok || strings.TrimSpace(src) == "" {
		return "", catalog.ErrNoResult
	}
	return src, nil
}

// run executes one bounded phase of browser actions.
func (c *Catalog) run(ctx, tabCtx context.Context, tasks chromedp.Tasks) error {
	taskCtx, cancel := context.WithTimeout(tabCtx, c.waitTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func (c *Catalog) miss(ctx context.Context, query, phase string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("catalog scrape canceled: %w", ctx.Err())
	}
	c.logger.Debug("catalog scrape miss",
		zap.String("query", query),
		zap.String("phase", phase),
		zap.Error(err),
	)
	return catalog.ErrNoResult
}
