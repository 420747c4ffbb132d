/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/icecastgo/internal/config"
	"github.com/friendsincode/icecastgo/internal/mountstore"
)

var seedFilePath string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Apply a mount seed file to the control-plane store",
	Long: `seed loads a YAML seed file describing mounts (with optional source
credentials) and
inserts any that aren't already present, without starting the server.
Existing mounts are left untouched.`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVar(&seedFilePath, "file", "", "Path to the seed file (required)")
	seedCmd.MarkFlagRequired("file")
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	store, err := mountstore.Open(cfg)
	if err != nil {
		return fmt.Errorf("open mountstore: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.LoadSeedFile(ctx, seedFilePath); err != nil {
		return fmt.Errorf("load seed file: %w", err)
	}

	fmt.Println("seed file applied")
	return nil
}
