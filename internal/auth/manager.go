// Package auth manages the OAuth refresh-token lifecycle for one provider:
// refreshing short-lived access tokens, mirroring them to a credential
// store, re-authenticating a request that came back 401, and running the
// interactive consent flow that obtains the refresh token in the first place.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tonimelisma/savesync/internal/cloud"
	"github.com/tonimelisma/savesync/internal/rest"
)

// ErrTokenMissing means a refresh succeeded at the HTTP level but left no
// usable access token behind.
var ErrTokenMissing = fmt.Errorf("auth: no access token after refresh: %w", cloud.ErrAuth)

// State is the token lifecycle state.
type State int

const (
	StateNoToken State = iota
	StateRefreshing
	StateValid
)

func (s State) String() string {
	switch s {
	case StateRefreshing:
		return "refreshing"
	case StateValid:
		return "valid"
	default:
		return "no-token"
	}
}

// CredentialStore persists tokens keyed by provider name.
type CredentialStore interface {
	SaveAccessToken(provider, token string, expiration time.Time) error
	// LoadAccessToken returns an empty token if none is stored.
	LoadAccessToken(provider string) (string, time.Time, error)
	SaveRefreshToken(provider, refreshToken string) error
	// LoadRefreshToken returns an empty string if none is stored.
	LoadRefreshToken(provider string) (string, error)
}

// RefreshObserver is notified of every refresh outcome.
type RefreshObserver interface {
	ObserveRefresh(provider string, ok bool)
}

// Config is the per-provider OAuth configuration. It is passed explicitly at
// construction; the manager reads no global settings.
type Config struct {
	Provider     string // credential store key
	ClientID     string
	ClientSecret string // sent only when non-empty
	RedirectURI  string // sent with refresh requests only when non-empty
	AuthURL      string
	TokenURL     string
	Scopes       []string

	// RefreshToken seeds the manager; otherwise it is read from the store.
	RefreshToken string

	// HTTPClient is used for the authorization-code exchange.
	HTTPClient *http.Client

	// OpenURL opens the consent page. Defaults to printing the URL.
	OpenURL func(string) error
}

// Manager owns a provider's access token. Token fields are guarded by mu
// because the consent flow completes on its own goroutine.
type Manager struct {
	cfg      Config
	engine   *rest.Engine
	store    CredentialStore
	logger   *slog.Logger
	observer RefreshObserver

	// nowFunc is replaced in tests.
	nowFunc func() time.Time

	mu           sync.Mutex
	token        string
	expiration   time.Time
	refreshToken string
	refreshing   bool
}

// NewManager returns a Manager. store may be nil, in which case tokens live
// only in memory.
func NewManager(cfg Config, engine *rest.Engine, store CredentialStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		cfg:          cfg,
		engine:       engine,
		store:        store,
		logger:       logger,
		nowFunc:      time.Now,
		refreshToken: cfg.RefreshToken,
	}
}

// SetObserver installs a refresh observer.
func (m *Manager) SetObserver(o RefreshObserver) {
	m.observer = o
}

// Provider returns the provider name used as the store key.
func (m *Manager) Provider() string {
	return m.cfg.Provider
}

// ClientID returns the configured OAuth client id.
func (m *Manager) ClientID() string {
	return m.cfg.ClientID
}

// State reports the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.refreshing:
		return StateRefreshing
	case m.validLocked():
		return StateValid
	default:
		return StateNoToken
	}
}

// Valid reports whether the in-memory access token is usable.
func (m *Manager) Valid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.validLocked()
}

func (m *Manager) validLocked() bool {
	return m.token != "" && m.nowFunc().Before(m.expiration)
}

// AccessToken returns the in-memory token and its expiration.
func (m *Manager) AccessToken() (string, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.token, m.expiration
}

// HasRefreshToken reports whether a refresh token is configured or stored.
func (m *Manager) HasRefreshToken() bool {
	return m.loadRefreshToken() != ""
}

func (m *Manager) loadRefreshToken() string {
	m.mu.Lock()
	rt := m.refreshToken
	m.mu.Unlock()

	if rt != "" || m.store == nil {
		return rt
	}

	rt, err := m.store.LoadRefreshToken(m.cfg.Provider)
	if err != nil {
		m.logger.Warn("loading refresh token",
			slog.String("provider", m.cfg.Provider),
			slog.String("error", err.Error()),
		)

		return ""
	}

	m.mu.Lock()
	m.refreshToken = rt
	m.mu.Unlock()

	return rt
}

// Token returns a usable access token. An expired or absent token is
// reloaded from the store and, failing that, refreshed.
func (m *Manager) Token(ctx context.Context) (string, error) {
	if tok, ok := m.current(); ok {
		return tok, nil
	}

	if m.loadStoredToken() {
		if tok, ok := m.current(); ok {
			return tok, nil
		}
	}

	if err := m.Refresh(ctx, nil); err != nil {
		return "", err
	}

	if tok, ok := m.current(); ok {
		return tok, nil
	}

	return "", ErrTokenMissing
}

// SetAuthHeader sets the bearer header on h.
func (m *Manager) SetAuthHeader(ctx context.Context, h http.Header) error {
	tok, err := m.Token(ctx)
	if err != nil {
		return err
	}

	h.Set("Authorization", "Bearer "+tok)

	return nil
}

// Forget drops every token held in memory.
func (m *Manager) Forget() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.token = ""
	m.expiration = time.Time{}
	m.refreshToken = ""
}

func (m *Manager) current() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.token, m.validLocked()
}

func (m *Manager) loadStoredToken() bool {
	if m.store == nil {
		return false
	}

	tok, exp, err := m.store.LoadAccessToken(m.cfg.Provider)
	if err != nil {
		m.logger.Warn("loading stored access token",
			slog.String("provider", m.cfg.Provider),
			slog.String("error", err.Error()),
		)

		return false
	}

	if tok == "" {
		return false
	}

	m.mu.Lock()
	m.token = tok
	m.expiration = exp
	m.mu.Unlock()

	return true
}

// RetryUnauthorized returns the 401 handler for operations authenticated by
// m: refresh once, install the new bearer, and resubmit. A second 401, a
// failed refresh, or a refresh that produced no token finishes the
// operation.
func RetryUnauthorized[S any](m *Manager) rest.Handler[S] {
	return func(ctx context.Context, op *rest.Operation[S], resp *rest.Response) {
		if op.Resubmitted() {
			op.Finish(rest.StatusError(resp))
			return
		}

		m.logger.Info("access token rejected, refreshing",
			slog.String("provider", m.cfg.Provider),
			slog.String("op", op.Name),
		)

		if err := m.Refresh(ctx, nil); err != nil {
			op.Finish(err)
			return
		}

		tok, ok := m.current()
		if !ok {
			op.Finish(ErrTokenMissing)
			return
		}

		op.Request.Header.Set("Authorization", "Bearer "+tok)
		op.Resubmit()
	}
}
