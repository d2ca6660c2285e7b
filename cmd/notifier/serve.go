package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/usncompetitions/notifier/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and the broadcast scheduler",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := app.SetupLogger(cfg.Logging, nil)
	slog.SetDefault(logger)

	a, err := app.New(cfg, version, logger)
	if err != nil {
		return err
	}

	return a.Run(context.Background())
}
