package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/usncompetitions/notifier/internal/app"
	"github.com/usncompetitions/notifier/internal/config"
	"github.com/usncompetitions/notifier/internal/db"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "notifier",
	Short: "Notifier - broadcast messages to competition participants",
	Long: `Notifier delivers templated broadcasts to registered competition participants
over Telegram and email, and records the outcome of every delivery.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("notifier %s (built %s)\n", version, buildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to configuration file (defaults and environment only when empty)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(configFile)
}

// cliLogger logs to stderr so command output stays on stdout
func cliLogger(cfg *config.Config) *slog.Logger {
	return app.SetupLogger(cfg.Logging, os.Stderr)
}

// openDB opens and migrates the configured database
func openDB(cfg *config.Config) (*db.DB, error) {
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}
