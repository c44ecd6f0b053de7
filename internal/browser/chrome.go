// Package browser drives headless Chrome to capture rendered page markup.
package browser

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/amishk599/careerscan/internal/model"
)

const (
	defaultNavigationTimeout = 30 * time.Second
	defaultSelectorTimeout   = 10 * time.Second
	userAgent                = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"
)

// Options tunes a ChromeFetcher. Zero timeouts fall back to defaults.
type Options struct {
	NavigationTimeout time.Duration
	SelectorTimeout   time.Duration
	SettleDelay       time.Duration // extra wait for client-side rendering
	Headless          bool
	ExecPath          string // optional Chrome binary
}

// ChromeFetcher launches an isolated browser per Fetch call.
type ChromeFetcher struct {
	opts   Options
	logger *slog.Logger
}

var _ model.PageFetcher = (*ChromeFetcher)(nil)

func NewChromeFetcher(opts Options, logger *slog.Logger) *ChromeFetcher {
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = defaultNavigationTimeout
	}
	if opts.SelectorTimeout <= 0 {
		opts.SelectorTimeout = defaultSelectorTimeout
	}
	return &ChromeFetcher{opts: opts, logger: logger}
}

// Fetch navigates to url, waits for selector to appear in the DOM, waits the
// settle delay and returns the matched element's outer HTML. The browser is
// torn down on every return path.
func (f *ChromeFetcher) Fetch(ctx context.Context, url, selector string) (string, error) {
	url = strings.TrimSpace(url)
	selector = strings.TrimSpace(selector)
	if url == "" || selector == "" {
		return "", &model.FetchError{Kind: model.MissingInput, URL: url, Err: errors.New("url and selector are required")}
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, f.allocatorOptions()...)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	// An empty Run starts the browser so launch failures are told apart from navigation.
	if err := chromedp.Run(browserCtx); err != nil {
		return "", &model.FetchError{Kind: model.BrowserLaunchFailed, URL: url, Err: err}
	}

	navCtx, navCancel := context.WithTimeout(browserCtx, f.opts.NavigationTimeout)
	defer navCancel()
	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		return "", &model.FetchError{Kind: model.NavigationFailed, URL: url, Err: err}
	}

	waitCtx, waitCancel := context.WithTimeout(browserCtx, f.opts.SelectorTimeout)
	defer waitCancel()
	if err := chromedp.Run(waitCtx, chromedp.WaitReady(selector, chromedp.ByQuery)); err != nil {
		return "", &model.FetchError{Kind: model.SelectorNotFound, URL: url, Err: err}
	}

	var markup string
	captureCtx, captureCancel := context.WithTimeout(browserCtx, f.opts.SettleDelay+f.opts.SelectorTimeout)
	defer captureCancel()
	err := chromedp.Run(captureCtx,
		chromedp.Sleep(f.opts.SettleDelay),
		chromedp.OuterHTML(selector, &markup, chromedp.ByQuery),
	)
	if err != nil {
		return "", &model.FetchError{Kind: model.SelectorNotFound, URL: url, Err: err}
	}

	if f.logger != nil {
		f.logger.Debug("page captured", "url", url, "selector", selector, "bytes", len(markup))
	}
	return markup, nil
}

func (f *ChromeFetcher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", f.opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(userAgent),
	)
	if f.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(f.opts.ExecPath))
	}
	return opts
}
