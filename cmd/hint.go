package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/reloquent/evolve/internal/config"
	"github.com/reloquent/evolve/internal/evolver"
	"github.com/reloquent/evolve/internal/storage"
)

var (
	hintWrite bool
	hintLabel string
)

var hintCmd = &cobra.Command{
	Use:   "hint",
	Short: "Suggest evolution files for outstanding model changes",
	Long: `Compare the model definitions against the stored signature and print a
suggested evolution file for every application that has changed. With
--write, the files are placed in the evolutions directory instead;
remember to add the new label to each application's sequence.yaml.`,
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

		ctx := context.Background()

		e, err := evolver.New(ctx, evolver.Options{
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

		if err := e.QueueEvolveAll(); err != nil {
			return err
		}

		if err := e.Prepare(ctx); err != nil {
			return err
		}

		if !e.EvolutionRequired() {
			fmt.Println("The stored signature already matches the model definitions.")
			return nil
		}

		for _, task := range e.Tasks() {
			evolveTask, ok := task.(*evolver.EvolveAppTask)
			if !ok || !evolveTask.EvolutionRequired() {
				continue
			}

			content := evolveTask.EvolutionContent()

			if hintWrite {
				appDir := filepath.Join(config.ExpandHome(cfg.Evolutions),
					evolveTask.AppLabel)
				if err := os.MkdirAll(appDir, 0o755); err != nil {
					return fmt.Errorf("creating evolution directory: %w", err)
				}

				path := filepath.Join(appDir, hintLabel+".yaml")
				if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
					return fmt.Errorf("writing evolution file: %w", err)
				}

				fmt.Printf("Wrote %s\n", path)
				fmt.Printf("Add %q to %s\n", hintLabel,
					filepath.Join(appDir, "sequence.yaml"))
				continue
			}

			fmt.Printf("# %s/%s.yaml\n", evolveTask.AppLabel, hintLabel)
			fmt.Print(content)
			fmt.Println()
		}

		return nil
	},
}

func init() {
	hintCmd.Flags().BoolVar(&hintWrite, "write", false, "write the suggested files into the evolutions directory")
	hintCmd.Flags().StringVar(&hintLabel, "label", "auto_update", "label for the suggested evolution")
	rootCmd.AddCommand(hintCmd)
}
