package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/reloquent/evolve/internal/evolver"
	"github.com/reloquent/evolve/internal/storage"
)

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Show differences between the models and the stored signature",
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

		e, err := evolver.New(context.Background(), evolver.Options{
			Database:  databaseName,
			Dialect:   dialect,
			DB:        db,
			TargetSig: targetSig,
			Hinted:    true,
		})
		if err != nil {
			if errors.Is(err, storage.ErrNoVersions) {
				return fmt.Errorf("no schema baseline is installed; run `evolve baseline` first")
			}
			return err
		}

		diff := e.Diff()
		if diff.Empty() {
			fmt.Println("The stored signature already matches the model definitions.")
			return nil
		}

		out, err := yaml.Marshal(diff)
		if err != nil {
			return fmt.Errorf("rendering diff: %w", err)
		}

		fmt.Print(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(diffCmd)
}
