// internal/fetch/browser.go - Headless-browser fetch capability
package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/velcourt/pageharvest/pkg/types"
)

// BrowserFetcher renders pages through a headless Chrome instance. Used
// for templates whose stealth level requires JavaScript execution; the
// pipeline stays unaware of which backend produced the document.
type BrowserFetcher struct {
	headless      bool
	disableImages bool
	waitSelector  string
}

// BrowserOption configures a BrowserFetcher
type BrowserOption func(*BrowserFetcher)

// WithHeadful runs the browser with a visible window, useful when
// debugging challenge pages locally.
func WithHeadful() BrowserOption {
	return func(b *BrowserFetcher) { b.headless = false }
}

// WithWaitSelector blocks until the selector is visible before the DOM
// is captured.
func WithWaitSelector(selector string) BrowserOption {
	return func(b *BrowserFetcher) { b.waitSelector = selector }
}

// NewBrowserFetcher creates a chromedp-backed fetcher
func NewBrowserFetcher(opts ...BrowserOption) *BrowserFetcher {
	b := &BrowserFetcher{headless: true, disableImages: true}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// FetchRaw implements Fetcher. Every call runs in a fresh browser
// context so cookies and fingerprint state never leak between proxies.
func (b *BrowserFetcher) FetchRaw(ctx context.Context, pageURL, proxyAddr string, profile types.FetchProfile) (*types.RawDocument, error) {
	opts := append([]chromedp.ExecAllocatorOption{},
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.NoSandbox,
	)
	if b.headless {
		opts = append(opts, chromedp.Headless)
	}
	if b.disableImages {
		opts = append(opts, chromedp.Flag("blink-settings", "imagesEnabled=false"))
	}
	if proxyAddr != "" {
		opts = append(opts, chromedp.ProxyServer(proxyAddr))
	}
	if len(profile.UserAgents) > 0 {
		opts = append(opts, chromedp.UserAgent(profile.UserAgents[0]))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	timeout := profile.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	runCtx, cancelRun := context.WithTimeout(browserCtx, timeout)
	defer cancelRun()

	tasks := []chromedp.Action{
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
	}
	if b.waitSelector != "" {
		tasks = append(tasks, chromedp.WaitVisible(b.waitSelector))
	}

	var html string
	tasks = append(tasks, chromedp.OuterHTML("html", &html))

	start := time.Now()
	if err := chromedp.Run(runCtx, tasks...); err != nil {
		return nil, fmt.Errorf("browser navigation to %s failed: %w", pageURL, err)
	}

	// The CDP session does not expose the HTTP status; a rendered DOM is
	// treated as a 200. Challenge pages still surface via the detector.
	return &types.RawDocument{
		URL:        pageURL,
		StatusCode: 200,
		Body:       html,
		Latency:    time.Since(start),
		ProxyAddr:  proxyAddr,
	}, nil
}

// StealthDispatcher routes each fetch to the backend the profile's
// stealth level asks for, so one pipeline serves both plain and
// browser-rendered templates.
type StealthDispatcher struct {
	Plain   Fetcher
	Browser Fetcher
}

// FetchRaw implements Fetcher
func (d *StealthDispatcher) FetchRaw(ctx context.Context, pageURL, proxyAddr string, profile types.FetchProfile) (*types.RawDocument, error) {
	if profile.Stealth == types.StealthBrowser && d.Browser != nil {
		return d.Browser.FetchRaw(ctx, pageURL, proxyAddr, profile)
	}
	return d.Plain.FetchRaw(ctx, pageURL, proxyAddr, profile)
}
