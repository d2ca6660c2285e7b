package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/usncompetitions/notifier/internal/models"
	"github.com/usncompetitions/notifier/internal/repository"
)

// seedFile is the YAML layout accepted by the seed command
type seedFile struct {
	Competitions  []models.Competition  `yaml:"competitions"`
	Users         []models.User         `yaml:"users"`
	Registrations []models.Registration `yaml:"registrations"`
}

var seedCmd = &cobra.Command{
	Use:   "seed <file.yaml>",
	Short: "Import competitions, users and registrations from YAML",
	Long: `Import competitions, users and registrations from a YAML file.
Existing rows with the same id are updated.`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}

	seed, err := parseSeed(data)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := applySeed(cmd.Context(), repository.NewRegistrationRepository(database.DB), seed); err != nil {
		return err
	}

	fmt.Printf("Imported %d competitions, %d users, %d registrations\n",
		len(seed.Competitions), len(seed.Users), len(seed.Registrations))
	return nil
}

func parseSeed(data []byte) (*seedFile, error) {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	for i, u := range seed.Users {
		if u.ID <= 0 || u.FirstName == "" {
			return nil, fmt.Errorf("users[%d]: id and first_name are required", i)
		}
	}
	for i, c := range seed.Competitions {
		if c.ID <= 0 || c.Name == "" {
			return nil, fmt.Errorf("competitions[%d]: id and name are required", i)
		}
	}
	for i, r := range seed.Registrations {
		if r.ID <= 0 || r.UserID <= 0 || r.CompetitionID <= 0 {
			return nil, fmt.Errorf("registrations[%d]: id, user_id and competition_id are required", i)
		}
		if r.Role == "" {
			seed.Registrations[i].Role = models.RolePlayer
		}
	}
	return &seed, nil
}

// applySeed writes competitions and users before the registrations
// referencing them
func applySeed(ctx context.Context, repo *repository.RegistrationRepository, seed *seedFile) error {
	for i := range seed.Competitions {
		if err := repo.UpsertCompetition(ctx, &seed.Competitions[i]); err != nil {
			return err
		}
	}
	for i := range seed.Users {
		if err := repo.UpsertUser(ctx, &seed.Users[i]); err != nil {
			return err
		}
	}
	for i := range seed.Registrations {
		if err := repo.UpsertRegistration(ctx, &seed.Registrations[i]); err != nil {
			return err
		}
	}
	return nil
}
