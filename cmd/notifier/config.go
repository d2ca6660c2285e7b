package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Println("Configuration is valid")
	fmt.Printf("  Listen address: %s\n", cfg.Server.ListenAddr)
	fmt.Printf("  Database path: %s\n", cfg.Database.Path)
	fmt.Printf("  Telegram: %s\n", enabledLabel(cfg.Telegram.Enabled, cfg.Telegram.Token != ""))
	fmt.Printf("  Email: %s\n", enabledLabel(cfg.Email.Enabled, cfg.Email.IsConfigured()))
	if cfg.Email.DKIM.Enabled {
		fmt.Printf("    DKIM: %s (selector %s)\n", cfg.Email.DKIM.Domain, cfg.Email.DKIM.Selector)
	}
	fmt.Printf("  Scheduler: %v (every %s)\n", cfg.Broadcast.Scheduler, cfg.Broadcast.PollInterval)
	fmt.Printf("  Static API key: %v\n", cfg.Auth.APIKey != "")
	if cfg.Metrics.Enabled {
		addr := cfg.Metrics.ListenAddr
		if addr == "" {
			addr = cfg.Server.ListenAddr
		}
		fmt.Printf("  Metrics: %s%s\n", addr, cfg.Metrics.Path)
	} else {
		fmt.Println("  Metrics: disabled")
	}

	return nil
}

func enabledLabel(enabled, configured bool) string {
	switch {
	case !enabled:
		return "disabled"
	case !configured:
		return "enabled, incomplete credentials"
	default:
		return "enabled"
	}
}
