package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/tonimelisma/savesync/internal/cloud"
	"github.com/tonimelisma/savesync/internal/rest"
)

// tokenResponse is the token endpoint reply. Pointer fields distinguish
// "absent" from zero.
type tokenResponse struct {
	AccessToken  *string `json:"access_token"`
	ExpiresIn    *int64  `json:"expires_in"`
	RefreshToken string  `json:"refresh_token"`
}

// Refresh exchanges the refresh token for a new access token. The prior
// token is discarded first. done, if non-nil, is called exactly once: with
// true when the endpoint answered 200 with a JSON body, false otherwise.
//
// A 200 reply missing access_token or expires_in still counts as success
// and leaves no token stored; callers that need a token check Valid or use
// Token, which reports ErrTokenMissing.
func (m *Manager) Refresh(ctx context.Context, done func(success bool)) error {
	err := m.refresh(ctx)

	if m.observer != nil {
		m.observer.ObserveRefresh(m.cfg.Provider, err == nil)
	}

	if done != nil {
		done(err == nil)
	}

	return err
}

// Authenticate refreshes and requires the refresh to have left a usable
// token, reporting ErrTokenMissing for a 200 reply without one.
func (m *Manager) Authenticate(ctx context.Context) error {
	if err := m.Refresh(ctx, nil); err != nil {
		return err
	}

	if !m.Valid() {
		return &cloud.OpError{Op: "Authenticate", Provider: m.cfg.Provider, Err: ErrTokenMissing}
	}

	return nil
}

func (m *Manager) refresh(ctx context.Context) error {
	m.mu.Lock()
	m.token = ""
	m.expiration = time.Time{}
	m.refreshing = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.refreshing = false
		m.mu.Unlock()
	}()

	refreshToken := m.loadRefreshToken()
	if refreshToken == "" {
		return &cloud.OpError{Op: "Refresh", Provider: m.cfg.Provider, Err: fmt.Errorf("%w: no refresh token (login required)", cloud.ErrAuth)}
	}

	form := url.Values{}
	form.Set("client_id", m.cfg.ClientID)

	if m.cfg.ClientSecret != "" {
		form.Set("client_secret", m.cfg.ClientSecret)
	}

	if m.cfg.RedirectURI != "" {
		form.Set("redirect_uri", m.cfg.RedirectURI)
	}

	form.Set("refresh_token", refreshToken)
	form.Set("grant_type", "refresh_token")

	req := rest.NewRequest(http.MethodPost, m.cfg.TokenURL)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Body = []byte(form.Encode())

	op := &rest.Operation[string]{
		Name:    "refresh",
		Request: req,
		State:   refreshToken,
		Default: func(_ context.Context, op *rest.Operation[string], resp *rest.Response) {
			op.Finish(fmt.Errorf("%w: %w", cloud.ErrAuth, rest.StatusError(resp)))
		},
	}
	op.On(http.StatusOK, rest.Succeed(m.acceptToken))

	if err := rest.Execute(ctx, m.engine, op); err != nil {
		m.logger.Warn("token refresh failed",
			slog.String("provider", m.cfg.Provider),
			slog.String("error", err.Error()),
		)

		return &cloud.OpError{Op: "Refresh", Provider: m.cfg.Provider, Err: err}
	}

	return nil
}

// acceptToken handles a 200 from the token endpoint.
func (m *Manager) acceptToken(op *rest.Operation[string], resp *rest.Response) error {
	var tr tokenResponse
	if err := rest.DecodeJSON(resp, &tr); err != nil {
		return fmt.Errorf("%w: %w", cloud.ErrAuth, err)
	}

	if tr.AccessToken == nil || tr.ExpiresIn == nil {
		m.logger.Warn("token response missing access_token or expires_in; no token stored",
			slog.String("provider", m.cfg.Provider),
			slog.Bool("has_access_token", tr.AccessToken != nil),
			slog.Bool("has_expires_in", tr.ExpiresIn != nil),
		)

		return nil
	}

	expiration := m.nowFunc().Add(time.Duration(*tr.ExpiresIn) * time.Second)

	m.mu.Lock()
	m.token = *tr.AccessToken
	m.expiration = expiration

	if tr.RefreshToken != "" && tr.RefreshToken != op.State {
		m.refreshToken = tr.RefreshToken
	}
	m.mu.Unlock()

	m.logger.Info("access token refreshed",
		slog.String("provider", m.cfg.Provider),
		slog.Time("expiration", expiration),
	)

	m.persist(*tr.AccessToken, expiration, tr.RefreshToken, op.State)

	return nil
}

// persist mirrors a token to the store. Store failures are logged, not
// returned: the in-memory token is still usable.
func (m *Manager) persist(token string, expiration time.Time, newRefresh, oldRefresh string) {
	if m.store == nil {
		return
	}

	if err := m.store.SaveAccessToken(m.cfg.Provider, token, expiration); err != nil {
		m.logger.Warn("persisting access token",
			slog.String("provider", m.cfg.Provider),
			slog.String("error", err.Error()),
		)
	}

	if newRefresh == "" || newRefresh == oldRefresh {
		return
	}

	if err := m.store.SaveRefreshToken(m.cfg.Provider, newRefresh); err != nil {
		m.logger.Warn("persisting rotated refresh token",
			slog.String("provider", m.cfg.Provider),
			slog.String("error", err.Error()),
		)
	}
}
