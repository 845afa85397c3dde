package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/savesync/internal/cloud"
	"github.com/tonimelisma/savesync/internal/config"
	"github.com/tonimelisma/savesync/internal/ledger"
	"github.com/tonimelisma/savesync/internal/metrics"
	"github.com/tonimelisma/savesync/internal/registry"
	"github.com/tonimelisma/savesync/internal/syncer"
	"github.com/tonimelisma/savesync/internal/tokenfile"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagProvider   string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
	flagDebug      bool
)

// tlsHandshakeTimeout bounds the TLS setup of each connection.
const tlsHandshakeTimeout = 10 * time.Second

// skipConfigCommands handle their own config loading, or none at all.
var skipConfigCommands = map[string]bool{
	"savesync config":      true,
	"savesync config show": true,
}

type cliContextKey struct{}

// CLIContext carries what every subcommand needs after the root pre-run:
// the resolved config, a logger, the shared HTTP client and metrics.
type CLIContext struct {
	Cfg     *config.Resolved
	Logger  *slog.Logger
	HTTP    *http.Client
	Metrics *metrics.Metrics
	Quiet   bool
	JSON    bool
	Out     io.Writer
}

// cliContextFrom returns the CLIContext stored by the root pre-run.
func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)
	return cc
}

// newRootCmd builds the root command with all subcommands registered.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "savesync",
		Short:   "Sync game saves with cloud storage",
		Long:    "Keeps save games, save states, runtime logs and screenshots in step with OneDrive, Google Drive, S3 or a local folder.",
		Version: version,
		// Errors are printed by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if skipConfigCommands[cmd.CommandPath()] {
				return nil
			}

			cc, err := loadCLIContext(cmd)
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagProvider, "provider", "", "provider name from [providers.<name>]")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "debug logging with source locations")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newStatCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newMkdirCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadCLIContext resolves configuration through defaults, file, env and
// flags, then builds the logger and shared clients.
func loadCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}

	if cmd.Flags().Changed("provider") {
		cli.Provider = flagProvider
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := buildLogger(resolved.Config, os.Stderr)
	slog.SetDefault(logger)

	return &CLIContext{
		Cfg:     resolved,
		Logger:  logger,
		HTTP:    newHTTPClient(resolved.Network.ConnectTimeoutDuration()),
		Metrics: metrics.New(),
		Quiet:   flagQuiet,
		JSON:    flagJSON,
		Out:     os.Stdout,
	}, nil
}

// buildLogger creates the process logger. The config sets the baseline
// level and format; --verbose, --debug and --quiet override the level.
// Format "auto" picks text on a terminal and JSON otherwise.
func buildLogger(cfg *config.Config, w *os.File) *slog.Logger {
	level := slog.LevelInfo

	if cfg != nil {
		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose || flagDebug {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: flagDebug}

	format := "auto"
	if cfg != nil && cfg.Logging.LogFormat != "" {
		format = cfg.Logging.LogFormat
	}

	if format == "auto" {
		format = "json"
		if isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd()) {
			format = "text"
		}
	}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// newHTTPClient returns the client shared by the HTTP backends. Only the
// connection phase is bounded; transfers may take as long as they need.
func newHTTPClient(connectTimeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: connectTimeout}).DialContext,
			TLSHandshakeTimeout: tlsHandshakeTimeout,
			ForceAttemptHTTP2:   true,
		},
	}
}

func (cc *CLIContext) userAgent() string {
	if cc.Cfg.Network.UserAgent != "" {
		return cc.Cfg.Network.UserAgent
	}

	return "savesync/" + version
}

func (cc *CLIContext) deps() registry.Deps {
	return registry.Deps{
		HTTPClient:     cc.HTTP,
		ConnectTimeout: cc.Cfg.Network.ConnectTimeoutDuration(),
		UserAgent:      cc.userAgent(),
		Store:          tokenfile.NewStore(config.TokenDir()),
		Observer:       cc.Metrics,
		OpenURL:        openBrowser,
		Logger:         cc.Logger,
	}
}

// provider builds the selected provider.
func (cc *CLIContext) provider(ctx context.Context) (cloud.Provider, error) {
	if err := cc.Cfg.RequireProvider(); err != nil {
		return nil, err
	}

	return registry.Build(ctx, cc.Cfg.ProviderName, cc.Cfg.Provider, cc.deps())
}

// readyProvider builds the selected provider and refuses one that has not
// been logged in yet.
func (cc *CLIContext) readyProvider(ctx context.Context) (cloud.Provider, error) {
	p, err := cc.provider(ctx)
	if err != nil {
		return nil, err
	}

	if !p.ReadyForRequest() {
		return nil, fmt.Errorf("provider %q is not logged in: run 'savesync login --provider %s' first", p.Name(), p.Name())
	}

	return p, nil
}

// dataDirPerms restricts the data directory, which also holds tokens.
const dataDirPerms = 0o700

// openLedger opens the run ledger under the data directory.
func (cc *CLIContext) openLedger(ctx context.Context) (*ledger.Ledger, error) {
	path := config.LedgerPath()
	if path == "" {
		return nil, fmt.Errorf("cannot determine data directory")
	}

	if err := os.MkdirAll(filepath.Dir(path), dataDirPerms); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	return ledger.Open(ctx, path, cc.Logger)
}

// newSyncer wires a provider to the configured role directories.
func (cc *CLIContext) newSyncer(p cloud.Provider, led *ledger.Ledger) (*syncer.Syncer, error) {
	filter, err := syncer.NewFilter(cc.Cfg.Sync.Include, cc.Cfg.Sync.Exclude)
	if err != nil {
		return nil, err
	}

	roles := cc.Cfg.Sync.RoleDirs()
	if len(roles) == 0 {
		return nil, fmt.Errorf("no role directories configured: add a [sync.roles] section to %s", cc.Cfg.Path)
	}

	cfg := syncer.Config{
		Provider:   p,
		Roles:      roles,
		Filter:     filter,
		Observer:   cc.Metrics,
		StaleAfter: cc.Cfg.Sync.StaleAfterDuration(),
		Logger:     cc.Logger,
	}

	if led != nil {
		cfg.Ledger = led
	}

	return syncer.New(cfg), nil
}

// Statusf prints a status message to stderr unless quiet mode is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.Quiet, format, args...)
}

// openBrowser hands a URL to the platform opener.
func openBrowser(url string) error {
	var name string

	switch runtime.GOOS {
	case "darwin":
		name = "open"
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		name = "xdg-open"
	}

	return exec.Command(name, url).Start()
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
