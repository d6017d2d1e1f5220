package browser

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-relay/internal/relay"
	"github.com/JakeFAU/channel-relay/internal/scrape"
)

// Load opens url in a fresh browser carrying cookies and returns the page
// after the settle delay. Non-200 documents are returned without settling.
func (b *Browser) Load(ctx context.Context, url string, cookies []relay.Cookie) (scrape.Page, error) {
	tab, cancel := chromedp.NewContext(b.allocator)
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(tab, meta.captureEvent)

	start := time.Now()
	// The first run starts Chrome and must not carry a deadline.
	if err := chromedp.Run(tab, b.setupAction(cookies)); err != nil {
		return scrape.Page{}, fmt.Errorf("prepare browser: %w", err)
	}
	var finalURL string
	err := run(ctx, tab, b.cfg.NavigationTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&finalURL),
	)
	if err != nil {
		return scrape.Page{}, err
	}

	status, docURL := meta.snapshotWithFallbacks(url, finalURL)
	if status == http.StatusOK && b.cfg.SettleDelay > 0 && b.sleeper != nil {
		if err := b.sleeper.Sleep(ctx, b.cfg.SettleDelay); err != nil {
			return scrape.Page{}, err
		}
	}

	page := scrape.Page{URL: docURL, Status: status}
	err = run(ctx, tab, b.cfg.ReadTimeout,
		chromedp.Title(&page.Title),
		chromedp.OuterHTML("html", &page.HTML, chromedp.ByQuery),
	)
	if err != nil {
		return scrape.Page{}, err
	}
	b.logger.Debug("page loaded",
		zap.String("url", page.URL),
		zap.Int("status", page.Status),
		zap.Int("bytes", len(page.HTML)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return page, nil
}
