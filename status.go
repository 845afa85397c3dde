package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/savesync/internal/ledger"
	"github.com/tonimelisma/savesync/internal/registry"
)

const defaultStatusLimit = 5

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show login state, last run and recent transfers per provider",
		Long: `Display every configured provider with its login state, the outcome of
its last sync run and its most recent transfers. With --provider only that
provider is shown.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}

	cmd.Flags().Int("limit", defaultStatusLimit, "number of recent transfers to show per provider")

	return cmd
}

// statusJSON is the JSON output schema for one provider.
type statusJSON struct {
	Provider  string         `json:"provider"`
	Type      string         `json:"type"`
	LoggedIn  bool           `json:"logged_in"`
	Since     string         `json:"logged_in_at,omitempty"`
	LastRun   *runJSON       `json:"last_run,omitempty"`
	Transfers []transferJSON `json:"transfers"`

	since time.Time
}

type runJSON struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	Uploads    int    `json:"uploads"`
	Downloads  int    `json:"downloads"`
	Error      string `json:"error,omitempty"`
}

type transferJSON struct {
	Role      string `json:"role"`
	Name      string `json:"name"`
	Direction string `json:"direction"`
	Size      int64  `json:"size"`
	Hash      string `json:"hash,omitempty"`
	At        string `json:"at"`

	at time.Time
}

const jsonTimeLayout = "2006-01-02T15:04:05Z"

func toRunJSON(r *ledger.Run) *runJSON {
	if r == nil {
		return nil
	}

	out := &runJSON{
		ID:        r.ID,
		Status:    string(r.Status),
		StartedAt: r.StartedAt.UTC().Format(jsonTimeLayout),
		Uploads:   r.Uploads,
		Downloads: r.Downloads,
		Error:     r.Error,
	}

	if !r.FinishedAt.IsZero() {
		out.FinishedAt = r.FinishedAt.UTC().Format(jsonTimeLayout)
	}

	return out
}

func toTransferJSON(t ledger.Transfer) transferJSON {
	return transferJSON{
		Role:      string(t.Role),
		Name:      t.Name,
		Direction: string(t.Direction),
		Size:      t.Size,
		Hash:      t.Hash,
		At:        t.At.UTC().Format(jsonTimeLayout),
		at:        t.At,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := cliContextFrom(ctx)

	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	names := cc.Cfg.ProviderNames()
	if cmd.Flags().Changed("provider") {
		names = []string{cc.Cfg.ProviderName}
	}

	if len(names) == 0 {
		return fmt.Errorf("no providers configured in %s", cc.Cfg.Path)
	}

	led, err := cc.openLedger(ctx)
	if err != nil {
		return err
	}
	defer led.Close()

	out := make([]statusJSON, 0, len(names))

	for _, name := range names {
		st, err := cc.providerStatus(ctx, led, name, limit)
		if err != nil {
			return err
		}

		out = append(out, st)
	}

	if cc.JSON {
		return printJSON(cc.Out, out)
	}

	for i := range out {
		printStatus(cc.Out, &out[i])
	}

	return nil
}

func (cc *CLIContext) providerStatus(ctx context.Context, led *ledger.Ledger, name string, limit int) (statusJSON, error) {
	pc := cc.Cfg.Providers[name]
	st := statusJSON{Provider: name, Type: pc.Type, Transfers: []transferJSON{}}

	// A provider that cannot be built is reported as logged out, not fatal.
	if p, err := registry.Build(ctx, name, pc, cc.deps()); err != nil {
		cc.Logger.Warn("building provider for status",
			slog.String("provider", name), slog.String("error", err.Error()))
	} else {
		st.LoggedIn = p.ReadyForRequest()
	}

	if at := loginTime(name); st.LoggedIn && !at.IsZero() {
		st.since = at
		st.Since = at.UTC().Format(jsonTimeLayout)
	}

	run, err := led.LastRun(ctx, name)

	switch {
	case errors.Is(err, ledger.ErrNoRuns):
	case err != nil:
		return st, err
	default:
		st.LastRun = toRunJSON(run)
	}

	transfers, err := led.Recent(ctx, name, limit)
	if err != nil {
		return st, err
	}

	for _, t := range transfers {
		st.Transfers = append(st.Transfers, toTransferJSON(t))
	}

	return st, nil
}

func printStatus(w io.Writer, st *statusJSON) {
	login := "not logged in"

	switch {
	case st.LoggedIn && !st.since.IsZero():
		login = "logged in since " + formatTime(st.since)
	case st.LoggedIn:
		login = "logged in"
	}

	fmt.Fprintf(w, "%s (%s): %s\n", st.Provider, st.Type, login)

	if st.LastRun == nil {
		fmt.Fprintf(w, "  Last run: never\n")
	} else {
		fmt.Fprintf(w, "  Last run: %s at %s, %d uploaded, %d downloaded\n",
			st.LastRun.Status, st.LastRun.StartedAt, st.LastRun.Uploads, st.LastRun.Downloads)

		if st.LastRun.Error != "" {
			fmt.Fprintf(w, "  Error:    %s\n", st.LastRun.Error)
		}
	}

	if len(st.Transfers) == 0 {
		fmt.Fprintln(w)
		return
	}

	rows := make([][]string, 0, len(st.Transfers))
	for _, t := range st.Transfers {
		rows = append(rows, []string{formatTime(t.at), t.Direction, t.Role, t.Name, formatSize(t.Size)})
	}

	printTable(w, []string{"AT", "DIRECTION", "ROLE", "NAME", "SIZE"}, rows)
	fmt.Fprintln(w)
}
