package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/savesync/internal/cloud"
)

const (
	callbackPath     = "/auth_code"
	stateTokenBytes  = 16
	consentTimeout   = 5 * time.Minute
	shutdownTimeout  = 5 * time.Second
	loopbackListener = "127.0.0.1:0"
)

// callbackResult carries the outcome of the OAuth2 redirect.
type callbackResult struct {
	code string
	err  error
}

// BeginAuthorization starts interactive consent (authorization code with
// PKCE over a localhost redirect). It returns AuthComplete when a refresh
// token already exists and AuthFailed when consent cannot start. On
// AuthPending, callback fires exactly once from a background goroutine after
// the redirect has been handled and the code exchanged.
func (m *Manager) BeginAuthorization(ctx context.Context, callback func(success bool)) cloud.AuthorizationStatus {
	if m.HasRefreshToken() {
		return cloud.AuthComplete
	}

	if m.cfg.ClientID == "" {
		m.logger.Warn("cannot authorize without a client id", slog.String("provider", m.cfg.Provider))
		return cloud.AuthFailed
	}

	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()

	srv, port, err := startCallbackServer(ctx, mux, resultCh, m.logger)
	if err != nil {
		m.logger.Warn("starting callback listener", slog.String("error", err.Error()))
		return cloud.AuthFailed
	}

	state, err := generateState()
	if err != nil {
		shutdownCallbackServer(srv, m.logger)
		return cloud.AuthFailed
	}

	oc := m.oauthConfig(fmt.Sprintf("http://localhost:%d%s", port, callbackPath))
	verifier := oauth2.GenerateVerifier()

	registerCallbackHandler(mux, state, resultCh)

	authURL := oc.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	)

	go func() {
		defer shutdownCallbackServer(srv, m.logger)

		waitCtx, cancel := context.WithTimeout(ctx, consentTimeout)
		defer cancel()

		err := m.completeAuthorization(waitCtx, oc, resultCh, verifier)
		if err != nil {
			m.logger.Warn("authorization failed",
				slog.String("provider", m.cfg.Provider),
				slog.String("error", err.Error()),
			)
		}

		if callback != nil {
			callback(err == nil)
		}
	}()

	launchBrowser(authURL, m.cfg.OpenURL, m.logger)

	return cloud.AuthPending
}

func (m *Manager) oauthConfig(redirect string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     m.cfg.ClientID,
		ClientSecret: m.cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   m.cfg.AuthURL,
			TokenURL:  m.cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: redirect,
		Scopes:      m.cfg.Scopes,
	}
}

// completeAuthorization waits for the redirect, exchanges the code, and
// installs and persists both tokens.
func (m *Manager) completeAuthorization(
	ctx context.Context,
	oc *oauth2.Config,
	resultCh <-chan callbackResult,
	verifier string,
) error {
	code, err := waitForCallback(ctx, resultCh)
	if err != nil {
		return err
	}

	if m.cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, m.cfg.HTTPClient)
	}

	tok, err := oc.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return fmt.Errorf("auth: token exchange failed: %w: %w", cloud.ErrAuth, err)
	}

	if tok.RefreshToken == "" {
		return fmt.Errorf("auth: token exchange returned no refresh token: %w", cloud.ErrAuth)
	}

	m.mu.Lock()
	m.token = tok.AccessToken
	m.expiration = tok.Expiry
	m.refreshToken = tok.RefreshToken
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveRefreshToken(m.cfg.Provider, tok.RefreshToken); err != nil {
			return fmt.Errorf("auth: saving refresh token: %w", err)
		}

		if tok.AccessToken != "" {
			if err := m.store.SaveAccessToken(m.cfg.Provider, tok.AccessToken, tok.Expiry); err != nil {
				return fmt.Errorf("auth: saving access token: %w", err)
			}
		}
	}

	m.logger.Info("authorization complete",
		slog.String("provider", m.cfg.Provider),
		slog.Time("expiry", tok.Expiry),
	)

	return nil
}

// startCallbackServer binds to a loopback port and serves mux on it.
func startCallbackServer(
	ctx context.Context,
	mux *http.ServeMux,
	resultCh chan<- callbackResult,
	logger *slog.Logger,
) (*http.Server, int, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", loopbackListener)
	if err != nil {
		return nil, 0, fmt.Errorf("auth: binding localhost listener: %w", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, 0, errors.New("auth: listener address is not TCP")
	}

	logger.Debug("callback server listening", slog.Int("port", tcpAddr.Port))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			select {
			case resultCh <- callbackResult{err: fmt.Errorf("auth: callback server error: %w", serveErr)}:
			default:
			}
		}
	}()

	return srv, tcpAddr.Port, nil
}

func registerCallbackHandler(mux *http.ServeMux, state string, resultCh chan<- callbackResult) {
	mux.HandleFunc("GET "+callbackPath, func(w http.ResponseWriter, r *http.Request) {
		handleOAuthCallback(w, r, state, resultCh)
	})
}

// handleOAuthCallback validates the state, extracts the code, and sends the
// result. Only the first result is delivered.
func handleOAuthCallback(w http.ResponseWriter, r *http.Request, state string, resultCh chan<- callbackResult) {
	send := func(res callbackResult) {
		select {
		case resultCh <- res:
		default:
		}
	}

	q := r.URL.Query()

	if q.Get("state") != state {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		send(callbackResult{err: errors.New("auth: OAuth2 state mismatch")})

		return
	}

	if errParam := q.Get("error"); errParam != "" {
		http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)
		send(callbackResult{err: fmt.Errorf("auth: authorization denied: %s: %s", errParam, q.Get("error_description"))})

		return
	}

	code := q.Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		send(callbackResult{err: errors.New("auth: callback missing authorization code")})

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Authorization complete</h1>"+
		"<p>You can close this window.</p></body></html>")
	send(callbackResult{code: code})
}

func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

// launchBrowser hands the consent URL to openURL, printing it when there is
// no opener or the opener fails.
func launchBrowser(authURL string, openURL func(string) error, logger *slog.Logger) {
	if openURL == nil {
		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
		return
	}

	if err := openURL(authURL); err != nil {
		logger.Warn("failed to open browser, printing URL", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
	}
}

func waitForCallback(ctx context.Context, resultCh <-chan callbackResult) (string, error) {
	select {
	case result := <-resultCh:
		if result.err != nil {
			return "", result.err
		}

		return result.code, nil
	case <-ctx.Done():
		return "", fmt.Errorf("auth: authorization canceled: %w", ctx.Err())
	}
}

// generateState produces a random hex string for the OAuth2 state parameter.
func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
