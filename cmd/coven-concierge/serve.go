// ABOUTME: serve command: runs the HTTP API and gRPC health endpoint until interrupted
// ABOUTME: Also hosts the health command, which probes a running server's /health

package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/2389/coven-concierge/internal/gateway"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the conversation server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			printBanner()

			cfg, configPath, err := loadConfig()
			if err != nil {
				return err
			}

			logger := setupLogger(cfg.Logging, os.Stdout)

			if configPath == "" {
				configPath = "(defaults)"
			}
			printSetting("Config", configPath)
			printSetting("HTTP", cfg.Server.HTTPAddr)
			if cfg.Server.GRPCAddr != "" {
				printSetting("gRPC", cfg.Server.GRPCAddr)
			}
			printSetting("Store", cfg.Database.Driver)
			printSetting("Engine", cfg.Engine.Kind)
			fmt.Println()

			logger.Info("starting coven-concierge",
				"config", configPath,
				"http_addr", cfg.Server.HTTPAddr,
				"grpc_addr", cfg.Server.GRPCAddr,
				"store", cfg.Database.Driver,
				"engine", cfg.Engine.Kind,
			)

			gw, err := gateway.New(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}

			return gw.Run(ctx)
		},
	}
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check a running server's health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}

			url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
			if err != nil {
				return fmt.Errorf("creating request: %w", err)
			}

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "healthy")
			return nil
		},
	}
}
