package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// shutdownContext derives a context canceled by the first SIGINT or SIGTERM.
// The in-flight transfer gets to finish; a second signal exits immediately.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancelCause(parent)

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go watchSignals(parent, sigs, cancel, logger)

	return ctx
}

func watchSignals(parent context.Context, sigs chan os.Signal, cancel context.CancelCauseFunc, logger *slog.Logger) {
	defer signal.Stop(sigs)

	for received := 0; ; received++ {
		select {
		case <-parent.Done():
			cancel(context.Cause(parent))
			return

		case sig := <-sigs:
			if received > 0 {
				logger.Warn("second signal, exiting without cleanup", slog.String("signal", sig.String()))
				os.Exit(1)
			}

			logger.Info("received signal, shutting down after current transfer",
				slog.String("signal", sig.String()),
			)
			cancel(fmt.Errorf("interrupted by %s", sig))
		}
	}
}
