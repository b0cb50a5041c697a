package scraper

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/ferregold/image-scraper/internal/catalog"
)

// StaticConfig controls the static catalog scraper.
type StaticConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// StaticCatalog searches the vendor catalog without a browser by requesting
// its search endpoint directly and parsing the returned HTML. It honors the
// same ImageFinder contract as the browser-driven Catalog and is used where
// no Chrome runtime is available but the vendor site is reachable.
type StaticCatalog struct {
	cfg           StaticConfig
	baseCollector *colly.Collector
	searchBase    string
	logger        *zap.Logger
}

// NewStaticCatalog builds a StaticCatalog.
func NewStaticCatalog(cfg StaticConfig, logger *zap.Logger) *StaticCatalog {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	return &StaticCatalog{
		cfg:           cfg,
		baseCollector: c,
		searchBase:    catalogBaseURL + catalogSearchPath,
		logger:        logger,
	}
}

// FindImage requests the catalog search results for the query and returns
// the first matching thumbnail's absolute URL. Fetch or parse failures are
// per-item misses (catalog.ErrNoResult); a canceled caller propagates.
func (s *StaticCatalog) FindImage(ctx context.Context, query string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("static catalog scrape canceled: %w", err)
	}

	collector := s.baseCollector.Clone()
	if s.cfg.UserAgent != "" {
		collector.UserAgent = s.cfg.UserAgent
	}
	collector.SetRequestTimeout(s.cfg.Timeout)

	var found string
	collector.OnHTML(thumbnailSelector, func(e *colly.HTMLElement) {
		if found != "" {
			return
		}
		if src := e.Attr("src"); src != "" {
			found = e.Request.AbsoluteURL(src)
		}
	})

	searchURL := s.searchBase + "?keywords=" + url.QueryEscape(query)
	if err := collector.Visit(searchURL); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("static catalog scrape canceled: %w", ctx.Err())
		}
		s.logger.Debug("static catalog miss", zap.String("query", query), zap.Error(err))
		return "", catalog.ErrNoResult
	}
	if found == "" {
		return "", catalog.ErrNoResult
	}
	return found, nil
}
