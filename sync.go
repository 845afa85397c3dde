package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/savesync/internal/cloud"
	"github.com/tonimelisma/savesync/internal/registry"
	"github.com/tonimelisma/savesync/internal/syncer"
)

const (
	defaultResyncInterval = 5 * time.Minute
	metricsShutdownGrace  = 5 * time.Second
	metricsReadTimeout    = 10 * time.Second
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass",
		Long: `Upload local files the remote lacks or holds an older copy of, then
download remote files the local side lacks or differs from. With --all every
configured provider is synced concurrently.`,
		Args: cobra.NoArgs,
		RunE: runSync,
	}

	cmd.Flags().StringSlice("role", nil, "limit the pass to these roles (repeatable)")
	cmd.Flags().Bool("all", false, "sync every configured provider")

	return cmd
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync continuously, uploading files as they change",
		Args:  cobra.NoArgs,
		RunE:  runWatch,
	}

	cmd.Flags().Duration("interval", defaultResyncInterval, "full resync interval (0 disables)")

	return cmd
}

// syncReportJSON is the JSON output schema for one provider's pass.
type syncReportJSON struct {
	Provider  string   `json:"provider"`
	RunID     string   `json:"run_id,omitempty"`
	Uploads   int      `json:"uploads"`
	Downloads int      `json:"downloads"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors,omitempty"`
}

func parseRoles(names []string) ([]cloud.Role, error) {
	roles := make([]cloud.Role, 0, len(names))

	for _, n := range names {
		r, err := cloud.ParseRole(n)
		if err != nil {
			return nil, err
		}

		roles = append(roles, r)
	}

	return roles, nil
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := cliContextFrom(ctx)

	roleNames, err := cmd.Flags().GetStringSlice("role")
	if err != nil {
		return err
	}

	roles, err := parseRoles(roleNames)
	if err != nil {
		return err
	}

	all, err := cmd.Flags().GetBool("all")
	if err != nil {
		return err
	}

	led, err := cc.openLedger(ctx)
	if err != nil {
		return err
	}
	defer led.Close()

	providers, err := cc.syncProviders(ctx, all)
	if err != nil {
		return err
	}

	syncers := make([]*syncer.Syncer, 0, len(providers))

	for _, p := range providers {
		s, err := cc.newSyncer(p, led)
		if err != nil {
			return err
		}

		syncers = append(syncers, s)
	}

	reports, runErr := syncer.RunAll(ctx, syncers, roles...)

	if err := printSyncReports(cc, syncers, reports); err != nil {
		return err
	}

	return runErr
}

// syncProviders returns the selected provider, or every configured one.
// Providers that are not logged in are skipped with a warning when --all
// is set, and are an error otherwise.
func (cc *CLIContext) syncProviders(ctx context.Context, all bool) ([]cloud.Provider, error) {
	if !all {
		p, err := cc.readyProvider(ctx)
		if err != nil {
			return nil, err
		}

		return []cloud.Provider{p}, nil
	}

	built, err := registry.BuildAll(ctx, cc.Cfg.Config, cc.deps())
	if err != nil {
		return nil, err
	}

	ready := make([]cloud.Provider, 0, len(built))

	for _, p := range built {
		if !p.ReadyForRequest() {
			cc.Logger.Warn("skipping provider that is not logged in", slog.String("provider", p.Name()))
			continue
		}

		ready = append(ready, p)
	}

	if len(ready) == 0 {
		return nil, errors.New("no configured provider is logged in")
	}

	return ready, nil
}

func printSyncReports(cc *CLIContext, syncers []*syncer.Syncer, reports []*syncer.Report) error {
	out := make([]syncReportJSON, 0, len(reports))

	for i, rep := range reports {
		row := syncReportJSON{Provider: syncers[i].Provider().Name()}

		if rep != nil {
			row.RunID = rep.RunID
			row.Uploads = rep.Uploads()
			row.Downloads = rep.Downloads()
			row.Skipped = rep.Skipped

			for _, e := range rep.Errors {
				row.Errors = append(row.Errors, e.Error())
			}
		}

		out = append(out, row)
	}

	if cc.JSON {
		return printJSON(cc.Out, out)
	}

	for _, row := range out {
		cc.Statusf("%s: %d uploaded, %d downloaded, %d skipped, %d failed\n",
			row.Provider, row.Uploads, row.Downloads, row.Skipped, len(row.Errors))
	}

	return nil
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := cliContextFrom(ctx)

	interval, err := cmd.Flags().GetDuration("interval")
	if err != nil {
		return err
	}

	p, err := cc.readyProvider(ctx)
	if err != nil {
		return err
	}

	led, err := cc.openLedger(ctx)
	if err != nil {
		return err
	}
	defer led.Close()

	s, err := cc.newSyncer(p, led)
	if err != nil {
		return err
	}

	q := syncer.NewQueue(s, func(job syncer.Job, rep *syncer.Report, err error) {
		if err == nil && rep != nil && len(rep.Transfers) > 0 {
			cc.Statusf("%s %s: %d uploaded, %d downloaded\n", job.Kind, job.Role, rep.Uploads(), rep.Downloads())
		}
	})

	w := syncer.NewWatcher(s, q, cc.Cfg.Sync.WatchDebounceDuration())

	if err := q.Sync(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return q.Run(gctx) })
	g.Go(func() error { return w.Run(gctx) })

	if interval > 0 {
		g.Go(func() error { return resyncLoop(gctx, s, q, interval) })
	}

	if addr := cc.Cfg.Metrics.Listen; addr != "" {
		g.Go(func() error { return serveMetrics(gctx, cc, addr) })
	}

	cc.Statusf("Watching %d role directories for %s. Press Ctrl-C to stop.\n", len(s.Roles()), p.Name())

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// resyncLoop re-lists every role folder and queues a full pass on each
// tick, picking up files other devices added.
func resyncLoop(ctx context.Context, s *syncer.Syncer, q *syncer.Queue, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Invalidate()

			if err := q.Sync(); err != nil {
				return fmt.Errorf("queueing resync: %w", err)
			}
		}
	}
}

// serveMetrics exposes the Prometheus registry until ctx ends.
func serveMetrics(ctx context.Context, cc *CLIContext, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", cc.Metrics.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		cc.Logger.Info("serving metrics", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("metrics listener: %w", err)
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownGrace)
		defer cancel()

		return srv.Shutdown(shutCtx)
	}
}
