package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/usncompetitions/notifier/internal/repository"
)

var apiKeyName string

var apiKeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "API key management commands",
}

var apiKeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new API key",
	RunE:  runAPIKeyCreate,
}

var apiKeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys",
	RunE:  runAPIKeyList,
}

var apiKeyRevokeCmd = &cobra.Command{
	Use:   "revoke <id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runAPIKeyRevoke,
}

func init() {
	apiKeyCreateCmd.Flags().StringVar(&apiKeyName, "name", "", "Key name (required)")
	apiKeyCreateCmd.MarkFlagRequired("name")

	apiKeyCmd.AddCommand(apiKeyCreateCmd, apiKeyListCmd, apiKeyRevokeCmd)
	rootCmd.AddCommand(apiKeyCmd)
}

func getAPIKeyRepository() (*repository.APIKeyRepository, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	database, err := openDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	return repository.NewAPIKeyRepository(database.DB), func() { database.Close() }, nil
}

func runAPIKeyCreate(cmd *cobra.Command, args []string) error {
	repo, cleanup, err := getAPIKeyRepository()
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := repo.Create(cmd.Context(), apiKeyName, "cli")
	if err != nil {
		return err
	}

	fmt.Printf("API key %q created (id %s)\n\n", result.Name, result.ID)
	fmt.Printf("  %s\n\n", result.Key)
	fmt.Println("Store it now, it cannot be shown again.")
	return nil
}

func runAPIKeyList(cmd *cobra.Command, args []string) error {
	repo, cleanup, err := getAPIKeyRepository()
	if err != nil {
		return err
	}
	defer cleanup()

	keys, err := repo.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Println("No API keys found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPREFIX\tACTIVE\tCREATED\tLAST USED")
	for _, k := range keys {
		lastUsed := "never"
		if k.LastUsedAt != nil {
			lastUsed = k.LastUsedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%s\n",
			k.ID, k.Name, k.KeyPrefix, k.Active, k.CreatedAt.Format("2006-01-02 15:04"), lastUsed)
	}
	w.Flush()
	return nil
}

func runAPIKeyRevoke(cmd *cobra.Command, args []string) error {
	repo, cleanup, err := getAPIKeyRepository()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := repo.Revoke(cmd.Context(), args[0]); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("API key %s not found", args[0])
		}
		return err
	}

	fmt.Printf("API key %s revoked\n", args[0])
	return nil
}
