package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reloquent/evolve/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored schema version and applied evolutions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		targetSig, err := loadTargetSig(cfg)
		if err != nil {
			return err
		}

		dialect, db, err := connect(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		store, err := storage.NewStore(dialect)
		if err != nil {
			return err
		}

		ctx := context.Background()

		version, err := store.LatestVersion(ctx, db)
		if err != nil {
			if errors.Is(err, storage.ErrNoVersions) {
				fmt.Println("No schema baseline is installed; run `evolve baseline` first.")
				return nil
			}
			return err
		}

		fmt.Printf("Stored version: %d (created %s)\n", version.ID,
			version.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Println()

		applied, err := store.AppliedEvolutions(ctx, db)
		if err != nil {
			return err
		}

		for _, appSig := range version.Signature.AppSigs() {
			fmt.Printf("  %s: %d models", appSig.AppID, len(appSig.ModelSigs()))
			if labels := applied[appSig.AppID]; len(labels) > 0 {
				fmt.Printf(", %d evolutions applied", len(labels))
			}
			fmt.Println()
		}

		diff := targetSig.Diff(version.Signature)
		fmt.Println()
		if diff.Empty() {
			fmt.Println("The models match the stored signature.")
		} else {
			fmt.Println("The models have outstanding changes; run `evolve diff` for details.")
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
