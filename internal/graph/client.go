package graph

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2/microsoft"

	"github.com/tonimelisma/savesync/internal/auth"
	"github.com/tonimelisma/savesync/internal/cloud"
	"github.com/tonimelisma/savesync/internal/rest"
)

const (
	// DefaultBaseURL is the Graph v1.0 root.
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"

	// DefaultRedirectURI is the native-client redirect registered for the
	// refresh grant.
	DefaultRedirectURI = "https://login.microsoftonline.com/common/oauth2/nativeclient"

	defaultName = "onedrive"
)

// DefaultClientID is the built-in application id. Empty unless set at link
// time, in which case HaveDefaultCredentials reports true.
var DefaultClientID = ""

// Scopes requested during consent.
var Scopes = []string{"offline_access", "Files.ReadWrite.AppFolder"}

// Config configures a OneDrive provider. Everything the provider needs is
// here; it reads no global settings.
type Config struct {
	// Name is the provider instance name and credential store key.
	Name string

	ClientID     string
	RedirectURI  string
	RefreshToken string

	// BaseURL, AuthURL and TokenURL default to the public Microsoft
	// endpoints. Tests point them at httptest servers.
	BaseURL  string
	AuthURL  string
	TokenURL string

	HTTPClient *http.Client
	UserAgent  string
	Store      auth.CredentialStore
	Observer   rest.Observer
	Refreshes  auth.RefreshObserver
	OpenURL    func(string) error
	Logger     *slog.Logger
}

// Provider is the OneDrive cloud.Provider.
type Provider struct {
	name      string
	baseURL   string
	engine    *rest.Engine
	auth      *auth.Manager
	logger    *slog.Logger
	chunkSize int64
}

var _ cloud.Provider = (*Provider)(nil)

// New returns a OneDrive provider for cfg.
func New(cfg Config) *Provider {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	name := cfg.Name
	if name == "" {
		name = defaultName
	}

	endpoint := microsoft.AzureADEndpoint("common")

	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = endpoint.AuthURL
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = endpoint.TokenURL
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = DefaultClientID
	}

	redirect := cfg.RedirectURI
	if redirect == "" {
		redirect = DefaultRedirectURI
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	transport := rest.NewHTTPTransport(cfg.HTTPClient, cfg.UserAgent, logger)
	engine := rest.NewEngine(name, transport, logger, cfg.Observer)

	mgr := auth.NewManager(auth.Config{
		Provider:     name,
		ClientID:     clientID,
		RedirectURI:  redirect,
		AuthURL:      authURL,
		TokenURL:     tokenURL,
		Scopes:       Scopes,
		RefreshToken: cfg.RefreshToken,
		HTTPClient:   cfg.HTTPClient,
		OpenURL:      cfg.OpenURL,
	}, engine, cfg.Store, logger)

	if cfg.Refreshes != nil {
		mgr.SetObserver(cfg.Refreshes)
	}

	return &Provider{
		name:      name,
		baseURL:   baseURL,
		engine:    engine,
		auth:      mgr,
		logger:    logger,
		chunkSize: uploadChunkSize,
	}
}

// Name returns the provider instance name.
func (p *Provider) Name() string { return p.name }

// NeedAuthorization is true: OneDrive needs interactive consent.
func (p *Provider) NeedAuthorization() bool { return true }

// HaveDefaultCredentials reports whether a built-in client id exists.
func (p *Provider) HaveDefaultCredentials() bool { return DefaultClientID != "" }

// ReadyForRequest reports whether a refresh token is available.
func (p *Provider) ReadyForRequest() bool { return p.auth.HasRefreshToken() }

// Auth exposes the token manager for the login and logout commands.
func (p *Provider) Auth() *auth.Manager { return p.auth }

// Authenticate refreshes the access token.
func (p *Provider) Authenticate(ctx context.Context) error {
	return p.auth.Authenticate(ctx)
}

// Authorize starts interactive consent.
func (p *Provider) Authorize(ctx context.Context, callback func(success bool)) cloud.AuthorizationStatus {
	return p.auth.BeginAuthorization(ctx, callback)
}

// authorized builds an operation carrying the bearer header and the
// one-shot 401 retry.
func authorized[S any](ctx context.Context, p *Provider, name string, req *rest.Request) (*rest.Operation[S], error) {
	if err := p.auth.SetAuthHeader(ctx, req.Header); err != nil {
		return nil, err
	}

	op := &rest.Operation[S]{Name: name, Request: req}
	op.On(http.StatusUnauthorized, auth.RetryUnauthorized[S](p.auth))

	return op, nil
}

func (p *Provider) url(path string) string {
	return p.baseURL + path
}
