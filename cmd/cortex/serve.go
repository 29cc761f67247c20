package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aj-archipelago/cortex/internal/restapi"
)

func buildServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the Cortex gateway REST surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

// runServe boots the gateway and, when the loaded config enables it,
// serves the REST surface until a shutdown signal arrives. Grounded on the
// teacher's runServe: load config, construct the server, wait on a
// signal-bound context, then shut down with a bounded grace period.
func runServe(ctx context.Context, configPath string) error {
	gw, err := buildGateway(ctx, configPath)
	if err != nil {
		return err
	}

	if !gw.cfg.Server.EnableREST {
		gw.logger.Info("REST surface disabled (CORTEX_ENABLE_REST=false); nothing to serve")
		return nil
	}

	server := restapi.NewServer(gw.executor, gw.registry, gw.dispatcher, gw.models, nil, gw.metrics, gw.metricsReg, gw.logger)

	addr := fmt.Sprintf(":%d", gw.cfg.Server.Port)
	if err := server.Start(addr); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-runCtx.Done()

	gw.logger.Info("shutdown signal received")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}
