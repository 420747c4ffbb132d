/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/icecastgo/internal/config"
	"github.com/friendsincode/icecastgo/internal/logging"
	"github.com/friendsincode/icecastgo/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "icecastgo",
	Short: "A source-ingest and listener-distribution streaming media server",
	Long: `icecastgo accepts SOURCE/PUT audio feeds, distributes them to HTTP
listeners, and serves on-demand files and relays alongside them.

Running it with no subcommand starts the server; "icecastgo seed" applies
a YAML mount seed file to the control-plane store without starting it.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	logger := logging.Setup(cfg.Environment)
	logger.Info().Msg("icecastgo starting")

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize server")
	}

	go func() {
		if err := srv.Serve(); err != nil {
			logger.Fatal().Err(err).Msg("admin server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("icecastgo stopped")
	return nil
}
