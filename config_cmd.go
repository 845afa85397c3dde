package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/savesync/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
}

// runConfigShow resolves configuration itself; the root pre-run skips it.
func runConfigShow(cmd *cobra.Command, _ []string) error {
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}

	if cmd.Flags().Changed("provider") {
		cli.Provider = flagProvider
	}

	return showConfig(config.ReadEnvOverrides(), cli, os.Stdout)
}

// showConfig renders the resolved configuration with secrets redacted.
func showConfig(env config.EnvOverrides, cli config.CLIOverrides, w io.Writer) error {
	resolved, err := config.Resolve(env, cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	return config.RenderEffective(resolved, w)
}
