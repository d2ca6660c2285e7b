package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/usncompetitions/notifier/internal/app"
)

var channelsTimeout time.Duration

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "Delivery channel commands",
}

var channelsTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Check configuration and connectivity of every enabled channel",
	RunE:  runChannelsTest,
}

func init() {
	channelsTestCmd.Flags().DurationVar(&channelsTimeout, "timeout", 15*time.Second, "Timeout per channel")

	channelsCmd.AddCommand(channelsTestCmd)
	rootCmd.AddCommand(channelsCmd)
}

func runChannelsTest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	channels, err := app.BuildChannels(cfg, cliLogger(cfg))
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		fmt.Println("No channels enabled")
		return nil
	}

	names := make([]string, 0, len(channels))
	for name := range channels {
		names = append(names, name)
	}
	sort.Strings(names)

	failed := 0
	for _, name := range names {
		ch := channels[name]
		if !ch.ValidateConfiguration() {
			fmt.Printf("  %-10s misconfigured\n", name)
			failed++
			continue
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), channelsTimeout)
		ok := ch.TestConnection(ctx)
		cancel()

		if ok {
			fmt.Printf("  %-10s ok\n", name)
		} else {
			fmt.Printf("  %-10s unreachable\n", name)
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d channels failed", failed, len(channels))
	}
	return nil
}
