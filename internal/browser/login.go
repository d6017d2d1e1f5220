package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-relay/internal/relay"
	"github.com/JakeFAU/channel-relay/internal/session"
)

const (
	loginLinkXPath = `//a[contains(normalize-space(.), "Вход на сайт")]`
	authButton     = `a.auth-btn`
	authCodeAttr   = "data-telegram-auth-button"
)

// OpenLogin starts a fresh browser on the site's home page and waits for the
// login link to appear.
func (b *Browser) OpenLogin(ctx context.Context) (session.LoginSurface, error) {
	tab, cancel := chromedp.NewContext(b.allocator)
	if err := chromedp.Run(tab, b.setupAction(nil)); err != nil {
		cancel()
		return nil, fmt.Errorf("prepare browser: %w", err)
	}
	err := run(ctx, tab, b.cfg.NavigationTimeout,
		chromedp.Navigate(b.cfg.HomeURL),
		chromedp.WaitVisible(loginLinkXPath, chromedp.BySearch),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open home page: %w", err)
	}
	return &loginSurface{tab: tab, cancel: cancel, cfg: b.cfg, logger: b.logger}, nil
}

type loginSurface struct {
	tab    context.Context
	cancel context.CancelFunc
	cfg    Config
	logger *zap.Logger
}

// AuthCode opens the login dialog and reads the one-time code from the
// messenger button, then presses it so the site starts polling.
func (s *loginSurface) AuthCode(ctx context.Context) (string, error) {
	var (
		code string
		ok   bool
	)
	err := run(ctx, s.tab, s.cfg.ReadTimeout,
		chromedp.Click(loginLinkXPath, chromedp.BySearch),
		chromedp.WaitVisible(authButton, chromedp.ByQuery),
		chromedp.AttributeValue(authButton, authCodeAttr, &code, &ok, chromedp.ByQuery),
		chromedp.Click(authButton, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("read auth code: %w", err)
	}
	if !ok || code == "" {
		return "", errors.New("auth button carries no code")
	}
	s.logger.Debug("auth code read", zap.Int("length", len(code)))
	return code, nil
}

// Cookies returns every cookie the browser holds.
func (s *loginSurface) Cookies(ctx context.Context) ([]relay.Cookie, error) {
	var cookies []relay.Cookie
	err := run(ctx, s.tab, 10*time.Second, chromedp.ActionFunc(func(ctx context.Context) error {
		raw, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return fmt.Errorf("get cookies: %w", err)
		}
		cookies = fromNetworkCookies(raw)
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return cookies, nil
}

// Close stops the surface's browser, including any tab the login opened.
func (s *loginSurface) Close() error {
	s.cancel()
	return nil
}
