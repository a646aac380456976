package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reloquent/evolve/internal/evolver"
)

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Record the current models as the first schema version",
	Long: `Store the signature of the model definitions as the initial schema
version. The live database schema is assumed to already match the
models; no DDL is generated or executed.`,
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

		versionID, err := evolver.InstallBaseline(context.Background(), evolver.Options{
			Database:  databaseName,
			Dialect:   dialect,
			DB:        db,
			TargetSig: targetSig,
		})
		if err != nil {
			return fmt.Errorf("installing baseline: %w", err)
		}

		fmt.Printf("Baseline installed as version %d.\n", versionID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(baselineCmd)
}
