// Cortex is a multi-tenant gateway exposing a stable, provider-agnostic
// interface in front of heterogeneous generative-model backends. This
// binary is the CLI entry point: `cortex serve` starts the gateway,
// `cortex pathway list`/`cortex pathway test` inspect the configured
// pathway registry without standing up the REST surface.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cortex",
		Short: "Cortex multi-tenant generative-model gateway",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")

	cmd.AddCommand(buildServeCmd(&configPath), buildPathwayCmd(&configPath))
	return cmd
}
