// Package registry builds cloud.Provider values from configuration. Each
// provider type registers a factory; callers select a backend by the type
// named in its [providers.<name>] section.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/tonimelisma/savesync/internal/auth"
	"github.com/tonimelisma/savesync/internal/cloud"
	"github.com/tonimelisma/savesync/internal/config"
	"github.com/tonimelisma/savesync/internal/gdrive"
	"github.com/tonimelisma/savesync/internal/graph"
	"github.com/tonimelisma/savesync/internal/localfs"
	"github.com/tonimelisma/savesync/internal/rest"
	"github.com/tonimelisma/savesync/internal/s3store"
)

// ErrUnknownType is returned for a provider type with no factory.
var ErrUnknownType = errors.New("registry: unknown provider type")

// Observer receives request and refresh events. *metrics.Metrics
// implements it.
type Observer interface {
	rest.Observer
	auth.RefreshObserver
}

// Deps are the process-wide collaborators shared by every provider.
type Deps struct {
	HTTPClient *http.Client
	// ConnectTimeout is applied by backends that build their own client.
	ConnectTimeout time.Duration
	UserAgent      string
	Store      auth.CredentialStore
	Observer   Observer // may be nil
	OpenURL    func(string) error
	Logger     *slog.Logger
}

func (d *Deps) requestObserver() rest.Observer {
	if d.Observer == nil {
		return nil
	}

	return d.Observer
}

func (d *Deps) refreshObserver() auth.RefreshObserver {
	if d.Observer == nil {
		return nil
	}

	return d.Observer
}

// Factory builds one provider instance.
type Factory func(ctx context.Context, name string, pc config.ProviderConfig, deps Deps) (cloud.Provider, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{
		config.TypeOneDrive: newOneDrive,
		config.TypeGDrive:   newGDrive,
		config.TypeS3:       newS3,
		config.TypeLocal:    newLocal,
	}
)

// Register adds or replaces the factory for typ.
func Register(typ string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	factories[typ] = f
}

// Types returns the registered provider types, sorted.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for t := range factories {
		out = append(out, t)
	}

	sort.Strings(out)

	return out
}

// Build constructs the provider called name from its config section.
func Build(ctx context.Context, name string, pc config.ProviderConfig, deps Deps) (cloud.Provider, error) {
	mu.RLock()
	f, ok := factories[pc.Type]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w %q for provider %q (have %v)", ErrUnknownType, pc.Type, name, Types())
	}

	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	p, err := f(ctx, name, pc, deps)
	if err != nil {
		return nil, fmt.Errorf("registry: building provider %q: %w", name, err)
	}

	deps.Logger.Debug("provider built",
		slog.String("provider", name),
		slog.String("type", pc.Type),
		slog.Bool("ready", p.ReadyForRequest()),
	)

	return p, nil
}

// BuildAll constructs every configured provider, in name order.
func BuildAll(ctx context.Context, cfg *config.Config, deps Deps) ([]cloud.Provider, error) {
	names := cfg.ProviderNames()
	out := make([]cloud.Provider, 0, len(names))

	for _, name := range names {
		p, err := Build(ctx, name, cfg.Providers[name], deps)
		if err != nil {
			return nil, err
		}

		out = append(out, p)
	}

	return out, nil
}

func newOneDrive(_ context.Context, name string, pc config.ProviderConfig, deps Deps) (cloud.Provider, error) {
	return graph.New(graph.Config{
		Name:        name,
		ClientID:    pc.ClientID,
		RedirectURI: pc.RedirectURI,
		BaseURL:     pc.BaseURL,
		HTTPClient:  deps.HTTPClient,
		UserAgent:   deps.UserAgent,
		Store:       deps.Store,
		Observer:    deps.requestObserver(),
		Refreshes:   deps.refreshObserver(),
		OpenURL:     deps.OpenURL,
		Logger:      deps.Logger,
	}), nil
}

func newGDrive(_ context.Context, name string, pc config.ProviderConfig, deps Deps) (cloud.Provider, error) {
	return gdrive.New(gdrive.Config{
		Name:         name,
		ClientID:     pc.ClientID,
		ClientSecret: pc.ClientSecret,
		BaseURL:      pc.BaseURL,
		HTTPClient:   deps.HTTPClient,
		UserAgent:    deps.UserAgent,
		Store:        deps.Store,
		Observer:     deps.requestObserver(),
		Refreshes:    deps.refreshObserver(),
		OpenURL:      deps.OpenURL,
		Logger:       deps.Logger,
	}), nil
}

func newS3(ctx context.Context, name string, pc config.ProviderConfig, deps Deps) (cloud.Provider, error) {
	cfg := s3store.Config{
		Name:            name,
		Bucket:          pc.Bucket,
		Region:          pc.Region,
		Endpoint:        pc.Endpoint,
		AccessKeyID:     pc.AccessKeyID,
		SecretAccessKey: pc.SecretAccessKey,
		Root:            pc.Root,
		PathStyle:       pc.PathStyle,
		MaxKeys:         pc.MaxKeys,
		ConnectTimeout:  deps.ConnectTimeout,
		Observer:        deps.requestObserver(),
		Logger:          deps.Logger,
	}

	return s3store.New(ctx, cfg)
}

func newLocal(_ context.Context, name string, pc config.ProviderConfig, deps Deps) (cloud.Provider, error) {
	return localfs.New(localfs.Config{Name: name, Root: pc.LocalRoot(), Logger: deps.Logger})
}
