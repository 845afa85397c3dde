package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/savesync/internal/auth"
	"github.com/tonimelisma/savesync/internal/cloud"
	"github.com/tonimelisma/savesync/internal/config"
	"github.com/tonimelisma/savesync/internal/tokenfile"
)

// metaLoggedInAt is the token file metadata key holding the consent time.
const metaLoggedInAt = "logged_in_at"

// tokenHolder is implemented by the OAuth backends.
type tokenHolder interface {
	Auth() *auth.Manager
}

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authorize savesync with the selected provider",
		Long: `Start interactive consent for an OAuth provider (OneDrive, Google Drive).
A browser window opens; the command waits until consent completes.
Providers with static credentials (S3, local) only have their credentials checked.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove saved tokens for the selected provider",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := cliContextFrom(ctx)

	p, err := cc.provider(ctx)
	if err != nil {
		return err
	}

	cc.Logger.Info("login started", slog.String("provider", p.Name()))

	if !p.NeedAuthorization() {
		if err := p.Authenticate(ctx); err != nil {
			return fmt.Errorf("checking credentials for %s: %w", p.Name(), err)
		}

		cc.Statusf("Provider %s uses static credentials; nothing to authorize.\n", p.Name())

		return nil
	}

	done := make(chan bool, 1)

	switch p.Authorize(ctx, func(ok bool) { done <- ok }) {
	case cloud.AuthComplete:
		cc.Statusf("Already logged in to %s.\n", p.Name())
		return nil
	case cloud.AuthFailed:
		return fmt.Errorf("could not start authorization for %s (is client_id set?)", p.Name())
	case cloud.AuthPending:
	}

	cc.Statusf("Waiting for consent in the browser...\n")

	select {
	case ok := <-done:
		if !ok {
			return fmt.Errorf("authorization for %s failed", p.Name())
		}
	case <-ctx.Done():
		return fmt.Errorf("login canceled: %w", ctx.Err())
	}

	if err := recordLogin(p.Name(), time.Now()); err != nil {
		cc.Logger.Warn("recording login time", slog.String("provider", p.Name()), slog.String("error", err.Error()))
	}

	cc.Logger.Info("login successful", slog.String("provider", p.Name()))
	cc.Statusf("Login successful.\n")

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := cliContextFrom(ctx)

	p, err := cc.provider(ctx)
	if err != nil {
		return err
	}

	th, ok := p.(tokenHolder)
	if !ok {
		cc.Statusf("Provider %s keeps no tokens.\n", p.Name())
		return nil
	}

	th.Auth().Forget()

	if err := tokenfile.NewStore(config.TokenDir()).Delete(p.Name()); err != nil {
		return err
	}

	cc.Logger.Info("logout successful", slog.String("provider", p.Name()))
	cc.Statusf("Logged out of %s.\n", p.Name())

	return nil
}

// recordLogin stamps the provider's token file with the consent time shown
// by status.
func recordLogin(provider string, at time.Time) error {
	return tokenfile.NewStore(config.TokenDir()).MergeMeta(provider, map[string]string{
		metaLoggedInAt: at.UTC().Format(time.RFC3339),
	})
}

// loginTime returns the recorded consent time, or the zero time.
func loginTime(provider string) time.Time {
	meta, err := tokenfile.NewStore(config.TokenDir()).Meta(provider)
	if err != nil {
		return time.Time{}
	}

	at, err := time.Parse(time.RFC3339, meta[metaLoggedInAt])
	if err != nil {
		return time.Time{}
	}

	return at
}
