// Package browser drives headless Chrome for the source site: loading channel
// pages with a stored cookie set and opening the login surface for the
// session handshake.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-relay/internal/relay"
)

// Config controls the browser.
type Config struct {
	UserAgent         string
	Proxy             string
	Headless          bool
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	ReadTimeout       time.Duration
	HomeURL           string
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 40 * time.Second
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.HomeURL == "" {
		c.HomeURL = "https://tgstat.ru"
	}
	return c
}

// Browser owns a Chrome allocator. Each Load and each login surface gets its
// own browser instance, so cookie jars never leak between them.
type Browser struct {
	cfg         Config
	sleeper     relay.Sleeper
	logger      *zap.Logger
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a Browser. Chrome is started lazily on first use.
func New(cfg Config, sleeper relay.Sleeper, logger *zap.Logger) *Browser {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.Proxy))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Browser{
		cfg:         cfg,
		sleeper:     sleeper,
		logger:      logger,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
}

// Close shuts down every browser started by this allocator.
func (b *Browser) Close() {
	b.allocCancel()
}

// run executes actions on tab with a timeout, aborting early when ctx ends.
// The tab context itself is never given a deadline so that its browser
// survives between runs.
func run(ctx, tab context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(tab, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("chromedp run: %w", ctx.Err())
		}
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func (b *Browser) setupAction(cookies []relay.Cookie) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(cookies) > 0 {
			if err := network.SetCookies(toCookieParams(cookies)).Do(ctx); err != nil {
				return fmt.Errorf("set cookies: %w", err)
			}
		}
		return nil
	})
}
