// Package scraper drives the two image sources: the vendor catalog site and
// a general image-search engine used as a fallback. Both scrapers share one
// exclusive browser session; a static colly-based variant of the catalog
// scraper exists for deployments that can reach the vendor site but cannot
// run a browser.
package scraper
