// Package gdrive implements the Google Drive backend. Everything lives in
// the hidden appDataFolder space; folders are Drive folders whose parent is
// appDataFolder. Wire types come from the Drive v3 client library, while the
// requests themselves run through the rest operation engine.
package gdrive

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"

	"github.com/tonimelisma/savesync/internal/auth"
	"github.com/tonimelisma/savesync/internal/cloud"
	"github.com/tonimelisma/savesync/internal/rest"
)

const (
	// DefaultBaseURL hosts both the metadata and the upload endpoints.
	DefaultBaseURL = "https://www.googleapis.com"

	// appDataFolder is the alias of the hidden application folder.
	appDataFolder = "appDataFolder"

	folderMimeType = "application/vnd.google-apps.folder"

	// itemFields selects what a single file lookup returns.
	itemFields = "id,name,mimeType,md5Checksum,size"

	defaultName = "gdrive"
)

// DefaultClientID and DefaultClientSecret are the built-in credentials.
// Empty unless set at link time.
var (
	DefaultClientID     = ""
	DefaultClientSecret = ""
)

// ErrNotFolder is returned when a name resolves to a file where a folder was
// expected.
var ErrNotFolder = errors.New("gdrive: item is not a folder")

// ErrNoUploadSession is returned when the upload start request did not name
// a session URL.
var ErrNoUploadSession = errors.New("gdrive: upload start returned no Location")

// Config configures a Google Drive provider.
type Config struct {
	Name string

	ClientID     string
	ClientSecret string
	RefreshToken string

	// BaseURL, AuthURL and TokenURL default to Google's public endpoints.
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

// Provider is the Google Drive cloud.Provider.
type Provider struct {
	name      string
	baseURL   string
	engine    *rest.Engine
	auth      *auth.Manager
	logger    *slog.Logger
	chunkSize int64
}

var _ cloud.Provider = (*Provider)(nil)

// New returns a Google Drive provider for cfg.
func New(cfg Config) *Provider {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	name := cfg.Name
	if name == "" {
		name = defaultName
	}

	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = google.Endpoint.AuthURL
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = google.Endpoint.TokenURL
	}

	clientID, clientSecret := cfg.ClientID, cfg.ClientSecret
	if clientID == "" {
		clientID, clientSecret = DefaultClientID, DefaultClientSecret
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
		ClientSecret: clientSecret,
		AuthURL:      authURL,
		TokenURL:     tokenURL,
		Scopes:       []string{drive.DriveAppdataScope},
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

func (p *Provider) Name() string { return p.name }

func (p *Provider) NeedAuthorization() bool { return true }

func (p *Provider) HaveDefaultCredentials() bool { return DefaultClientID != "" }

func (p *Provider) ReadyForRequest() bool { return p.auth.HasRefreshToken() }

// Auth exposes the token manager for the login and logout commands.
func (p *Provider) Auth() *auth.Manager { return p.auth }

func (p *Provider) Authenticate(ctx context.Context) error {
	return p.auth.Authenticate(ctx)
}

func (p *Provider) Authorize(ctx context.Context, callback func(success bool)) cloud.AuthorizationStatus {
	return p.auth.BeginAuthorization(ctx, callback)
}

func authorized[S any](ctx context.Context, p *Provider, name string, req *rest.Request) (*rest.Operation[S], error) {
	if err := p.auth.SetAuthHeader(ctx, req.Header); err != nil {
		return nil, err
	}

	op := &rest.Operation[S]{Name: name, Request: req}
	op.On(http.StatusUnauthorized, auth.RetryUnauthorized[S](p.auth))

	return op, nil
}

func (p *Provider) filesURL(suffix string) string {
	return p.baseURL + "/drive/v3/files" + suffix
}

func (p *Provider) uploadURL(suffix string) string {
	return p.baseURL + "/upload/drive/v3/files" + suffix
}

func (p *Provider) opError(op, name string, err error) error {
	if err == nil {
		return nil
	}

	return &cloud.OpError{Op: op, Provider: p.name, Name: name, Err: err}
}
