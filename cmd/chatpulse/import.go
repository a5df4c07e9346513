package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chatpulse/chatpulse/internal/importer"
	"github.com/chatpulse/chatpulse/internal/parser"
)

var importCmd = &cobra.Command{
	Use:   "import <transcript-file>",
	Short: "Import an exported WhatsApp transcript into the message store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(parent context.Context, path string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, log, store, cleanup, err := bootstrap()
	if err != nil {
		return err
	}
	defer cleanup()

	loc, err := cfg.Import.Location()
	if err != nil {
		return fmt.Errorf("invalid timezone: %w", err)
	}

	imp := importer.New(store, parser.New(loc), cfg.Import.BatchSize, log)
	summary, err := imp.ImportFile(ctx, path)
	if err != nil {
		return fmt.Errorf("import failed after %d messages: %w", summary.TotalMessages, err)
	}

	fmt.Printf("Successfully processed %d messages from %d users\n", summary.TotalMessages, summary.TotalUsers)
	return nil
}
