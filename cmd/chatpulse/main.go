// Package main contains the entrypoint for the ChatPulse service.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/chatpulse/chatpulse/internal/config"
	"github.com/chatpulse/chatpulse/internal/database"
	"github.com/chatpulse/chatpulse/internal/logger"

	_ "modernc.org/sqlite"
)

var rootCmd = &cobra.Command{
	Use:           "chatpulse",
	Short:         "ChatPulse - WhatsApp group chat analytics",
	Long:          "ChatPulse imports exported WhatsApp group transcripts and serves engagement analytics over HTTP.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// bootstrap loads configuration, initializes logging and opens the
// migrated database. The returned cleanup closes the database.
func bootstrap() (*config.Config, *slog.Logger, database.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	cleanup := func() { database.CloseDB(db) }

	store := database.NewStore(db, log)
	return cfg, log, store, cleanup, nil
}
