package scraper

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// SessionConfig controls the shared browser session.
type SessionConfig struct {
	UserAgent string
}

// Session owns one headless Chrome instance via chromedp. The browser is
// started lazily on first use and must be closed by the owner; an unclosed
// session leaks a browser process. A Session is exclusively owned by one
// orchestrator for its lifetime and is not safe for concurrent navigation.
type Session struct {
	cfg SessionConfig

	mu          sync.Mutex
	browserCtx  context.Context
	allocCancel context.CancelFunc
	tabCancel   context.CancelFunc
}

// NewSession prepares a Session without starting the browser.
func NewSession(cfg SessionConfig) *Session {
	return &Session{cfg: cfg}
}

// Ctx returns the tab context, starting the browser on first call.
func (s *Session) Ctx() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browserCtx != nil {
		return s.browserCtx, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	warmup := chromedp.Tasks{network.Enable()}
	if s.cfg.UserAgent != "" {
		warmup = append(warmup, emulation.SetUserAgentOverride(s.cfg.UserAgent))
	}
	if err := chromedp.Run(tabCtx, warmup); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	s.browserCtx = tabCtx
	s.allocCancel = allocCancel
	s.tabCancel = tabCancel
	return s.browserCtx, nil
}

// Close tears down the browser and allocator contexts. Safe to call on a
// session that never started.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tabCancel != nil {
		s.tabCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
	s.browserCtx = nil
	s.tabCancel = nil
	s.allocCancel = nil
}

// forwardCancel propagates parent cancellation into a chromedp task context,
// which hangs off the browser context rather than the request context.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
