// Package telegram talks to Telegram over MTProto. A user account confirms
// site logins with the analytics bot, and a bot account posts to target
// channels.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gotd "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-relay/internal/policy/ratelimit"
)

// ErrNotAuthorized is returned when a user session has not been signed in yet.
var ErrNotAuthorized = errors.New("telegram session not authorized")

// Config holds MTProto credentials for one account.
type Config struct {
	AppID       int
	AppHash     string
	SessionFile string
	// BotToken selects bot sign-in. Empty means a user account.
	BotToken string
	Phone    string
	Password string
	// RateLimit caps outgoing calls per RPC method. Zero disables it.
	RateLimit ratelimit.Config
}

// Validate checks the fields needed to open a connection.
func (c Config) Validate() error {
	if c.AppID == 0 || strings.TrimSpace(c.AppHash) == "" {
		return errors.New("telegram app id and hash are required")
	}
	if strings.TrimSpace(c.SessionFile) == "" {
		return errors.New("telegram session file is required")
	}
	return nil
}

// CodePrompt returns the login code Telegram sent to the account.
type CodePrompt func(ctx context.Context) (string, error)

// Client owns one MTProto connection and its update dispatcher.
type Client struct {
	cfg        Config
	client     *gotd.Client
	dispatcher tg.UpdateDispatcher
	logger     *zap.Logger
}

// NewClient prepares a client. Nothing is dialed until Run.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := tg.NewUpdateDispatcher()
	client := gotd.NewClient(cfg.AppID, cfg.AppHash, gotd.Options{
		SessionStorage: &gotd.FileSessionStorage{Path: cfg.SessionFile},
		UpdateHandler:  dispatcher,
		Logger:         logger.Named("mtproto").WithOptions(zap.IncreaseLevel(zap.WarnLevel)),
		Middlewares:    []gotd.Middleware{throttle(ratelimit.New(cfg.RateLimit))},
	})
	return &Client{cfg: cfg, client: client, dispatcher: dispatcher, logger: logger}, nil
}

// Dispatcher exposes the update dispatcher so handlers can be registered before Run.
func (c *Client) Dispatcher() *tg.UpdateDispatcher {
	return &c.dispatcher
}

// API returns the raw API. Calls only succeed while Run is active.
func (c *Client) API() *tg.Client {
	return c.client.API()
}

// Run connects, signs in, and calls f with the raw API until f returns or ctx ends.
func (c *Client) Run(ctx context.Context, f func(ctx context.Context, api *tg.Client) error) error {
	return c.client.Run(ctx, func(ctx context.Context) error {
		if err := c.authorize(ctx, nil); err != nil {
			return err
		}
		return f(ctx, c.client.API())
	})
}

// Authorize signs a user account in interactively and stores the session file.
func (c *Client) Authorize(ctx context.Context, prompt CodePrompt) error {
	return c.client.Run(ctx, func(ctx context.Context) error {
		return c.authorize(ctx, prompt)
	})
}

func (c *Client) authorize(ctx context.Context, prompt CodePrompt) error {
	status, err := c.client.Auth().Status(ctx)
	if err != nil {
		return fmt.Errorf("auth status: %w", err)
	}
	if status.Authorized {
		return nil
	}
	if c.cfg.BotToken != "" {
		if _, err := c.client.Auth().Bot(ctx, c.cfg.BotToken); err != nil {
			return fmt.Errorf("bot sign-in: %w", err)
		}
		c.logger.Info("Bot signed in")
		return nil
	}
	if prompt == nil || c.cfg.Phone == "" {
		return ErrNotAuthorized
	}
	flow := auth.NewFlow(
		auth.Constant(c.cfg.Phone, c.cfg.Password, auth.CodeAuthenticatorFunc(
			func(ctx context.Context, _ *tg.AuthSentCode) (string, error) {
				return prompt(ctx)
			},
		)),
		auth.SendCodeOptions{},
	)
	if err := flow.Run(ctx, c.client.Auth()); err != nil {
		return fmt.Errorf("user sign-in: %w", err)
	}
	c.logger.Info("User signed in", zap.String("phone", c.cfg.Phone))
	return nil
}
