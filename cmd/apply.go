package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/reloquent/evolve/internal/evolver"
	"github.com/reloquent/evolve/internal/lock"
	"github.com/reloquent/evolve/internal/storage"
)

var (
	applyHinted bool
	applySQL    bool
	applyDryRun bool
	applyApps   []string
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply pending evolutions to the database",
	Long: `Load the stored schema signature, compute the outstanding evolutions for
every application, and apply them in a single transaction together with
the new signature version.

With --hint, mutations are derived from the difference between the model
definitions and the stored signature instead of the evolution files.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logger, err := buildLogger(cfg)
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

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if !applySQL && !applyDryRun {
			if err := lock.Acquire(""); err != nil {
				return err
			}
			defer lock.Release("")
		}

		e, err := evolver.New(ctx, evolver.Options{
			Database:  databaseName,
			Dialect:   dialect,
			DB:        db,
			Catalog:   openCatalog(cfg),
			TargetSig: targetSig,
			Hinted:    applyHinted,
			Logger:    logger,
		})
		if err != nil {
			if errors.Is(err, storage.ErrNoVersions) {
				return fmt.Errorf("no schema baseline is installed; run `evolve baseline` first")
			}
			return err
		}

		if len(applyApps) > 0 {
			for _, appLabel := range applyApps {
				if err := e.QueueEvolveApp(appLabel); err != nil {
					return err
				}
			}
		} else if err := e.QueueEvolveAll(); err != nil {
			return err
		}

		if err := e.Prepare(ctx); err != nil {
			return err
		}

		if !e.EvolutionRequired() {
			fmt.Println("No evolutions are required.")
			return nil
		}

		if applySQL || applyDryRun {
			for _, task := range e.Tasks() {
				if !task.EvolutionRequired() {
					continue
				}
				fmt.Printf("-- %s\n", task.Description())
				for _, stmt := range task.SQL() {
					fmt.Println(stmt)
				}
			}
			return nil
		}

		if !e.CanSimulate() {
			fmt.Println("Warning: some evolutions could not be simulated; the stored")
			fmt.Println("signature will assume they behave as declared.")
		}

		e.OnApplied = func(event evolver.TaskEvent) {
			fmt.Printf("Applied %s (%d statements)\n",
				event.Task.Description(), len(event.SQL))
		}

		versionID, err := e.Evolve(ctx)
		if err != nil {
			var execErr *evolver.ExecutionError
			if errors.As(err, &execErr) {
				return fmt.Errorf("evolution failed and was rolled back: %w", execErr)
			}
			return err
		}

		fmt.Printf("Schema is up to date (version %d).\n", versionID)
		return nil
	},
}

func init() {
	applyCmd.Flags().BoolVar(&applyHinted, "hint", false, "derive mutations from the model diff instead of evolution files")
	applyCmd.Flags().BoolVar(&applySQL, "sql", false, "print the SQL without executing it")
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "alias for --sql")
	applyCmd.Flags().StringSliceVar(&applyApps, "app", nil, "limit to specific application labels")
	rootCmd.AddCommand(applyCmd)
}
