package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/usncompetitions/notifier/internal/app"
	"github.com/usncompetitions/notifier/internal/broadcast"
	"github.com/usncompetitions/notifier/internal/db"
	"github.com/usncompetitions/notifier/internal/models"
	"github.com/usncompetitions/notifier/internal/repository"
	"github.com/usncompetitions/notifier/internal/template"
)

var (
	broadcastListStatus string
	broadcastListLimit  int
	broadcastSample     int
	broadcastDryRun     bool
	broadcastVerbose    bool
	ledgerLimit         int
)

var broadcastCmd = &cobra.Command{
	Use:   "broadcast",
	Short: "Broadcast management commands",
}

var broadcastListCmd = &cobra.Command{
	Use:   "list",
	Short: "List broadcasts",
	RunE:  runBroadcastList,
}

var broadcastPreviewCmd = &cobra.Command{
	Use:   "preview <broadcast_id>",
	Short: "Render sample messages without sending",
	Args:  cobra.ExactArgs(1),
	RunE:  runBroadcastPreview,
}

var broadcastExecuteCmd = &cobra.Command{
	Use:   "execute <broadcast_id>",
	Short: "Send a draft broadcast",
	Args:  cobra.ExactArgs(1),
	RunE:  runBroadcastExecute,
}

var broadcastResetCmd = &cobra.Command{
	Use:   "reset <broadcast_id>",
	Short: "Return a broadcast to draft and clear its delivery ledger",
	Args:  cobra.ExactArgs(1),
	RunE:  runBroadcastReset,
}

var broadcastRecipientsCmd = &cobra.Command{
	Use:   "recipients <broadcast_id>",
	Short: "Show the delivery ledger of a broadcast",
	Args:  cobra.ExactArgs(1),
	RunE:  runBroadcastRecipients,
}

func init() {
	broadcastListCmd.Flags().StringVar(&broadcastListStatus, "status", "", "Filter by status (draft, in_progress, completed, failed)")
	broadcastListCmd.Flags().IntVar(&broadcastListLimit, "limit", 50, "Maximum broadcasts to show")

	broadcastPreviewCmd.Flags().IntVar(&broadcastSample, "sample", 0, "Number of sample recipients (default from config)")

	broadcastExecuteCmd.Flags().BoolVar(&broadcastDryRun, "dry-run", false, "Render and validate every recipient without sending")
	broadcastExecuteCmd.Flags().BoolVarP(&broadcastVerbose, "verbose", "v", false, "Print the result of every recipient")

	broadcastRecipientsCmd.Flags().IntVar(&ledgerLimit, "limit", 100, "Maximum rows to show")

	broadcastCmd.AddCommand(
		broadcastListCmd,
		broadcastPreviewCmd,
		broadcastExecuteCmd,
		broadcastResetCmd,
		broadcastRecipientsCmd,
	)
	rootCmd.AddCommand(broadcastCmd)
}

// getOrchestrator builds an orchestrator over the configured database and
// channels. Metrics are not collected for CLI runs.
func getOrchestrator() (*broadcast.Orchestrator, *db.DB, int, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, 0, err
	}
	logger := cliLogger(cfg)

	database, err := openDB(cfg)
	if err != nil {
		return nil, nil, 0, err
	}

	channels, err := app.BuildChannels(cfg, logger)
	if err != nil {
		database.Close()
		return nil, nil, 0, err
	}

	o := broadcast.New(database.DB, template.NewRenderer(), channels, nil, logger)
	return o, database, cfg.Broadcast.PreviewSampleSize, nil
}

func runBroadcastList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	broadcasts, total, err := repository.NewBroadcastRepository(database.DB).List(cmd.Context(), models.BroadcastListFilter{
		Status: models.BroadcastStatus(broadcastListStatus),
		Limit:  broadcastListLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list broadcasts: %w", err)
	}

	if len(broadcasts) == 0 {
		fmt.Println("No broadcasts found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tCHANNELS\tRECIPIENTS\tSENT\tFAILED\tCREATED")
	for _, b := range broadcasts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			b.ID,
			truncate(b.Name, 30),
			b.Status,
			strings.Join(b.EnabledChannels(), ","),
			b.TotalRecipients,
			b.SentCount,
			b.FailedCount,
			b.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	w.Flush()

	fmt.Printf("\nShowing %d of %d broadcasts\n", len(broadcasts), total)
	return nil
}

func runBroadcastPreview(cmd *cobra.Command, args []string) error {
	o, database, defaultSample, err := getOrchestrator()
	if err != nil {
		return err
	}
	defer database.Close()

	sample := broadcastSample
	if sample <= 0 {
		sample = defaultSample
	}

	preview, err := o.Preview(cmd.Context(), args[0], sample)
	if err != nil {
		return err
	}

	fmt.Printf("Broadcast: %s\n", preview.Name)
	fmt.Printf("Template: %s\n", preview.TemplateName)
	fmt.Printf("Channels: %s\n", strings.Join(preview.Channels, ", "))
	fmt.Printf("Recipients: %d\n", preview.TotalRecipients)
	fmt.Printf("Variables: %s\n", strings.Join(preview.Variables, ", "))

	if len(preview.Errors) > 0 {
		fmt.Println("\nProblems:")
		for _, e := range preview.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}

	for _, s := range preview.Samples {
		fmt.Printf("\n--- %s (user %d) ---\n", s.Name, s.UserID)
		if s.Error != "" {
			fmt.Printf("Error: %s\n", s.Error)
			continue
		}
		fmt.Printf("Subject: %s\n", s.Subject)
		if s.TelegramBody != "" {
			fmt.Printf("[telegram]\n%s\n", s.TelegramBody)
		}
		if s.EmailBody != "" {
			fmt.Printf("[email]\n%s\n", s.EmailBody)
		}
	}

	return nil
}

func runBroadcastExecute(cmd *cobra.Command, args []string) error {
	o, database, _, err := getOrchestrator()
	if err != nil {
		return err
	}
	defer database.Close()

	// Interrupting marks the broadcast failed; reset it to resend
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	summary, err := o.Execute(ctx, args[0], broadcastDryRun)
	if summary != nil {
		printSummary(summary)
	}
	return err
}

func printSummary(s *models.ExecutionSummary) {
	if s.DryRun {
		fmt.Println("Dry run, nothing was sent")
	}
	if s.Note != "" {
		fmt.Println(s.Note)
	}

	if broadcastVerbose || s.DryRun {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "USER\tNAME\tRESULT\tCHANNELS\tERROR")
		for _, r := range s.Results {
			result := "ok"
			if !r.Success {
				result = "failed"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", r.UserID, truncate(r.Name, 25), result, formatOutcomes(r.Channels), r.Error)
		}
		w.Flush()
		fmt.Println()
	}

	fmt.Printf("Recipients: %d\n", s.TotalRecipients)
	fmt.Printf("Sent: %d\n", s.Sent)
	fmt.Printf("Failed: %d\n", s.Failed)
}

func formatOutcomes(outcomes map[string]models.ChannelOutcome) string {
	names := make([]string, 0, len(outcomes))
	for name := range outcomes {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s %s", outcomes[name].Status.Icon(), name))
	}
	return strings.Join(parts, " ")
}

func runBroadcastReset(cmd *cobra.Command, args []string) error {
	o, database, _, err := getOrchestrator()
	if err != nil {
		return err
	}
	defer database.Close()

	if err := o.Reset(cmd.Context(), args[0]); err != nil {
		return err
	}

	fmt.Printf("Broadcast %s reset to draft\n", args[0])
	return nil
}

func runBroadcastRecipients(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	ledger := repository.NewLedgerRepository(database.DB)
	rows, total, err := ledger.List(cmd.Context(), models.LedgerFilter{BroadcastID: args[0], Limit: ledgerLimit})
	if err != nil {
		return fmt.Errorf("failed to list recipients: %w", err)
	}
	if len(rows) == 0 {
		fmt.Println("No delivery records")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tTELEGRAM\tEMAIL\tERROR")
	for _, r := range rows {
		errMsg := r.TelegramError
		if errMsg == "" {
			errMsg = r.EmailError
		}
		fmt.Fprintf(w, "%d\t%s %s\t%s %s\t%s\n",
			r.UserID,
			r.TelegramStatus.Icon(), r.TelegramStatus,
			r.EmailStatus.Icon(), r.EmailStatus,
			truncate(errMsg, 50),
		)
	}
	w.Flush()

	stats, err := ledger.GetStats(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}
	fmt.Printf("\nShowing %d of %d\n", len(rows), total)
	fmt.Printf("Telegram: %d sent, %d failed, %d blocked, %d pending\n",
		stats.TelegramSent, stats.TelegramFailed, stats.TelegramBlocked, stats.TelegramPending)
	fmt.Printf("Email: %d sent, %d failed, %d blocked, %d pending\n",
		stats.EmailSent, stats.EmailFailed, stats.EmailBlocked, stats.EmailPending)
	return nil
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}
