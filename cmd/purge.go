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

var purgeSQL bool

var purgeCmd = &cobra.Command{
	Use:   "purge <app-label>",
	Short: "Drop every table of an application and forget its signature",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appLabel := args[0]

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

		if targetSig.AppSig(appLabel) != nil {
			return fmt.Errorf("application %q still has model definitions; remove them before purging", appLabel)
		}

		dialect, db, err := connect(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if !purgeSQL {
			if err := lock.Acquire(""); err != nil {
				return err
			}
			defer lock.Release("")
		}

		e, err := evolver.New(ctx, evolver.Options{
			Database:  databaseName,
			Dialect:   dialect,
			DB:        db,
			TargetSig: targetSig,
			Hinted:    true,
			Logger:    logger,
		})
		if err != nil {
			if errors.Is(err, storage.ErrNoVersions) {
				return fmt.Errorf("no schema baseline is installed; run `evolve baseline` first")
			}
			return err
		}

		if err := e.QueuePurgeApp(appLabel); err != nil {
			return err
		}

		if err := e.Prepare(ctx); err != nil {
			return err
		}

		if !e.EvolutionRequired() {
			fmt.Printf("Application %q has no stored tables.\n", appLabel)
			return nil
		}

		if purgeSQL {
			for _, stmt := range e.Tasks()[0].SQL() {
				fmt.Println(stmt)
			}
			return nil
		}

		versionID, err := e.Evolve(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Purged %q (version %d).\n", appLabel, versionID)
		return nil
	},
}

func init() {
	purgeCmd.Flags().BoolVar(&purgeSQL, "sql", false, "print the SQL without executing it")
	rootCmd.AddCommand(purgeCmd)
}
