// -----------------------------------------------------------------------
// Browser session boundary over chromedp
// The pipeline owns exactly one session; refresh is always a full
// teardown-and-recreate, never a partial reset.
// -----------------------------------------------------------------------

package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
)

// Options holds browser launch configuration
type Options struct {
	Headless       bool
	BlockResources bool
	NoSandbox      bool
	DisableGPU     bool
	UserAgent      string
}

// blockedPatterns are fetched resource types skipped in speed profiles.
// The target site renders its result as plain DOM text, so none of these
// affect extraction.
var blockedPatterns = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.svg", "*.ico",
	"*.woff", "*.woff2", "*.ttf", "*.css",
}

// Session wraps a single controlled Chrome instance. All waits are bounded;
// exceeding a bound surfaces as a context deadline error, never a hang.
type Session struct {
	parent context.Context
	opts   Options
	logger arbor.ILogger

	mu            sync.Mutex
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	closed        bool
}

// NewSession launches a browser instance and verifies it responds
func NewSession(parent context.Context, opts Options, logger arbor.ILogger) (*Session, error) {
	s := &Session{
		parent: parent,
		opts:   opts,
		logger: logger,
	}
	if err := s.start(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) start() error {
	startTime := time.Now()

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.opts.Headless),
		chromedp.Flag("disable-gpu", s.opts.DisableGPU),
		chromedp.Flag("no-sandbox", s.opts.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(s.opts.UserAgent),
	)

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(s.parent, allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	// Startup test with timeout so a broken Chrome install fails fast
	testCtx, testCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer testCancel()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocatorCancel()
		return fmt.Errorf("browser failed startup test: %w", err)
	}

	if s.opts.BlockResources {
		if err := chromedp.Run(testCtx,
			network.Enable(),
			network.SetBlockedURLs(blockedPatterns),
		); err != nil {
			browserCancel()
			allocatorCancel()
			return fmt.Errorf("failed to configure resource blocking: %w", err)
		}
	}

	s.browserCtx = browserCtx
	s.browserCancel = browserCancel
	s.allocCancel = allocatorCancel
	s.closed = false

	s.logger.Debug().
		Bool("headless", s.opts.Headless).
		Bool("block_resources", s.opts.BlockResources).
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser session started")

	return nil
}

// Refresh tears down the current browser instance and launches a fresh one.
// Clears any corrupted UI state and accumulated renderer memory.
func (s *Session) Refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info().Msg("Refreshing browser session")
	s.teardown()
	return s.start()
}

// Close shuts the session down. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.teardown()
	s.closed = true
	s.logger.Debug().Msg("Browser session closed")
}

func (s *Session) teardown() {
	if s.browserCancel != nil {
		s.browserCancel()
		s.browserCancel = nil
	}
	if s.allocCancel != nil {
		s.allocCancel()
		s.allocCancel = nil
	}
	s.browserCtx = nil
}

// Run executes chromedp actions against the live browser context with an
// explicit deadline
func (s *Session) Run(timeout time.Duration, actions ...chromedp.Action) error {
	s.mu.Lock()
	ctx := s.browserCtx
	s.mu.Unlock()

	if ctx == nil {
		return fmt.Errorf("browser session is not open")
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return chromedp.Run(runCtx, actions...)
}

// Navigate loads a URL and waits for the document body to be ready
func (s *Session) Navigate(url string, timeout time.Duration) error {
	return s.Run(timeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// Click waits for the first element matching the selector to become visible
// and clicks it
func (s *Session) Click(sel string, timeout time.Duration) error {
	return s.Run(timeout,
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.Click(sel, chromedp.ByQuery),
	)
}

// WaitVisible blocks until the selector is visible or the timeout elapses
func (s *Session) WaitVisible(sel string, timeout time.Duration) error {
	return s.Run(timeout, chromedp.WaitVisible(sel, chromedp.ByQuery))
}

// OuterHTML returns the rendered HTML of the first element matching the
// selector
func (s *Session) OuterHTML(sel string, timeout time.Duration) (string, error) {
	var html string
	err := s.Run(timeout, chromedp.OuterHTML(sel, &html, chromedp.ByQuery))
	return html, err
}

// clickOptionScript locates a leaf node inside the container whose visible
// text equals the label exactly and clicks it. Returns true once clicked so
// it can be polled while options render.
const clickOptionScript = `(function() {
	const root = document.querySelector(%q);
	if (!root) return false;
	const nodes = root.querySelectorAll("li, a, option, span, div");
	for (const n of nodes) {
		if (n.childElementCount === 0 && n.textContent.trim() === %q) {
			n.click();
			return true;
		}
	}
	return false;
})()`

// ClickOptionByLabel clicks the option inside containerSel whose visible
// label equals label exactly. No fuzzy matching. Polls until the option
// appears or the timeout elapses.
func (s *Session) ClickOptionByLabel(containerSel, label string, timeout time.Duration) error {
	js := fmt.Sprintf(clickOptionScript, containerSel, label)
	var clicked bool
	err := s.Run(timeout,
		chromedp.Poll(js, &clicked,
			chromedp.WithPollingInterval(200*time.Millisecond),
			chromedp.WithPollingTimeout(timeout),
		),
	)
	if err != nil {
		return fmt.Errorf("option %q not found in %s: %w", label, containerSel, err)
	}
	return nil
}

// Sleep pauses between UI operations. The target site throttles rapid
// interaction, so a fixed settle delay is part of the workflow contract.
func (s *Session) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	time.Sleep(d)
}
