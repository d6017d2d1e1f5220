package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/channel-relay/internal/metrics"
	"github.com/JakeFAU/channel-relay/internal/relay"
	"github.com/JakeFAU/channel-relay/internal/scrape"
)

// LoginSurface is one open login page in the browser.
type LoginSurface interface {
	// AuthCode opens the login dialog and returns the one-time code it shows.
	AuthCode(ctx context.Context) (string, error)
	// Cookies returns the browser's cookies for the site.
	Cookies(ctx context.Context) ([]relay.Cookie, error)
	Close() error
}

// LoginBrowser opens login surfaces.
type LoginBrowser interface {
	OpenLogin(ctx context.Context) (LoginSurface, error)
}

// Confirmer relays the one-time code to the site's bot and approves the
// resulting prompt. The returned future resolves once the prompt was answered;
// canceling ctx abandons the request.
type Confirmer interface {
	RequestConfirmation(ctx context.Context, code string) (*Confirmation, error)
}

// Config controls handshake timing.
type Config struct {
	AuthTimeout   time.Duration
	ConfirmSettle time.Duration
}

// Manager owns the cookie set and its state. It serves one crawl worker; the
// mutex only guards State reads from other goroutines.
type Manager struct {
	mu      sync.Mutex
	state   State
	loaded  bool
	cookies []relay.Cookie

	store     CookieStore
	browser   LoginBrowser
	confirmer Confirmer
	sleeper   relay.Sleeper
	cfg       Config
	logger    *zap.Logger
}

// NewManager constructs a Manager in the Unauthenticated state.
func NewManager(
	store CookieStore,
	browser LoginBrowser,
	confirmer Confirmer,
	sleeper relay.Sleeper,
	cfg Config,
	logger *zap.Logger,
) *Manager {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 15 * time.Second
	}
	if cfg.ConfirmSettle < 0 {
		cfg.ConfirmSettle = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		state:     Unauthenticated,
		store:     store,
		browser:   browser,
		confirmer: confirmer,
		sleeper:   sleeper,
		cfg:       cfg,
		logger:    logger,
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns a cookie set believed valid, logging in when needed.
func (m *Manager) Session(ctx context.Context) ([]relay.Cookie, error) {
	m.mu.Lock()
	if m.state == Authenticated && len(m.cookies) > 0 {
		cookies := m.cookies
		m.mu.Unlock()
		return cookies, nil
	}
	firstUse := m.state == Unauthenticated && !m.loaded
	m.loaded = true
	m.mu.Unlock()

	if firstUse && m.store != nil {
		stored, err := m.store.Load()
		if err != nil {
			m.logger.Warn("stored cookies unreadable, logging in", zap.Error(err))
		}
		if len(stored) > 0 {
			m.setState(Authenticated, stored)
			m.logger.Info("session restored from cookie store", zap.Int("cookies", len(stored)))
			return stored, nil
		}
	}
	return m.Login(ctx)
}

// Invalidate marks the current cookie set as expired.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Authenticated {
		m.logger.Info("session expired")
	}
	m.state = Expired
	m.cookies = nil
	m.loaded = true
}

// Login runs the browser and bot handshake and stores the resulting cookies.
func (m *Manager) Login(ctx context.Context) ([]relay.Cookie, error) {
	cookies, err := m.login(ctx)
	switch {
	case err == nil:
		metrics.ObserveLogin("ok")
	case errors.Is(err, scrape.ErrAuthTimeout):
		metrics.ObserveLogin(scrape.AuthTimeout.String())
	default:
		metrics.ObserveLogin("failed")
	}
	if err != nil {
		m.setState(Unauthenticated, nil)
		return nil, err
	}
	m.setState(Authenticated, cookies)
	return cookies, nil
}

func (m *Manager) login(ctx context.Context) ([]relay.Cookie, error) {
	if m.browser == nil || m.confirmer == nil {
		return nil, scrape.NewError(scrape.Unauthenticated, "", errors.New("login handshake is not configured"))
	}
	surface, err := m.browser.OpenLogin(ctx)
	if err != nil {
		return nil, fmt.Errorf("open login surface: %w", err)
	}
	defer func() {
		if cerr := surface.Close(); cerr != nil {
			m.logger.Warn("close login surface", zap.Error(cerr))
		}
	}()

	code, err := surface.AuthCode(ctx)
	if err != nil {
		return nil, fmt.Errorf("read auth code: %w", err)
	}
	m.setState(AwaitingConfirmation, nil)
	m.logger.Info("login code obtained, awaiting confirmation")

	confirmCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	confirmation, err := m.confirmer.RequestConfirmation(confirmCtx, code)
	if err != nil {
		return nil, fmt.Errorf("request confirmation: %w", err)
	}
	if err := confirmation.Wait(ctx, m.cfg.AuthTimeout); err != nil {
		m.logger.Warn("login not confirmed", zap.Error(err))
		return nil, err
	}

	if m.sleeper != nil && m.cfg.ConfirmSettle > 0 {
		if err := m.sleeper.Sleep(ctx, m.cfg.ConfirmSettle); err != nil {
			return nil, fmt.Errorf("settle after confirmation: %w", err)
		}
	}
	cookies, err := surface.Cookies(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect cookies: %w", err)
	}
	if len(cookies) == 0 {
		return nil, scrape.NewError(scrape.Unauthenticated, "", errors.New("login produced no cookies"))
	}
	if m.store != nil {
		if err := m.store.Save(cookies); err != nil {
			return nil, fmt.Errorf("persist cookies: %w", err)
		}
	}
	m.logger.Info("login confirmed", zap.Int("cookies", len(cookies)))
	return cookies, nil
}

func (m *Manager) setState(s State, cookies []relay.Cookie) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
	m.cookies = cookies
}
