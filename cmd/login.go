package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gotd/td/tg"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-relay/internal/telegram"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Signs in to tgstat.ru and stores the session cookies",
		RunE:  runSiteLogin,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "telegram",
		Short: "Signs the confirming user account in to Telegram",
		Long: `Starts the Telegram user sign-in flow. The login code Telegram sends
is read from standard input and the session is saved to the configured file.`,
		RunE: runTelegramLogin,
	})
	return cmd
}

func runSiteLogin(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	client, err := a.UserClient()
	if err != nil {
		return err
	}
	if client == nil {
		return errors.New("telegram user account is not configured")
	}
	sessions, err := a.Sessions(a.Confirmer(client))
	if err != nil {
		return err
	}
	return client.Run(cmd.Context(), func(ctx context.Context, _ *tg.Client) error {
		cookies, err := sessions.Login(ctx)
		if err != nil {
			return fmt.Errorf("site login: %w", err)
		}
		a.Logger.Info("Site session stored",
			zap.Int("cookies", len(cookies)),
			zap.String("file", a.Config.Session.CookieFile),
		)
		return nil
	})
}

func runTelegramLogin(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	client, err := a.UserClient()
	if err != nil {
		return err
	}
	if client == nil {
		return errors.New("telegram user account is not configured")
	}
	in := bufio.NewReader(cmd.InOrStdin())
	prompt := telegram.CodePrompt(func(context.Context) (string, error) {
		fmt.Fprint(cmd.OutOrStdout(), "Enter the code Telegram sent: ")
		code, err := in.ReadString('\n')
		if err != nil && code == "" {
			return "", fmt.Errorf("read login code: %w", err)
		}
		return strings.TrimSpace(code), nil
	})
	if err := client.Authorize(cmd.Context(), prompt); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Signed in. Session saved to", a.Config.Telegram.UserSession)
	return nil
}
