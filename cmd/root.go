package cmd

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/reloquent/evolve/internal/catalog"
	"github.com/reloquent/evolve/internal/config"
	"github.com/reloquent/evolve/internal/logging"
	"github.com/reloquent/evolve/internal/models"
	"github.com/reloquent/evolve/internal/signature"
	"github.com/reloquent/evolve/internal/storage"
)

var (
	cfgFile      string
	logLevel     string
	databaseName string
	version      = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "evolve",
	Short: "Evolve — schema evolution for YAML-defined database models",
	Long: `Evolve tracks your database schema as versioned signatures and applies
incremental evolutions to keep the live schema in sync with your model
definitions, without hand-writing ALTER statements.`,
}

func Execute() {
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.evolve/evolve.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&databaseName, "database", "default", "configured database to operate on")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func buildLogger(cfg *config.Config) (*slog.Logger, error) {
	level := logLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	return logging.Setup(level, cfg.Logging.Directory)
}

func loadTargetSig(cfg *config.Config) (*signature.ProjectSignature, error) {
	dir := config.ExpandHome(cfg.Models)
	targetSig, err := models.LoadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("loading model definitions: %w", err)
	}
	return targetSig, nil
}

func openCatalog(cfg *config.Config) *catalog.Catalog {
	return catalog.New(config.ExpandHome(cfg.Evolutions))
}

// connect opens the configured database and returns its dialect alongside
// the connection.
func connect(cfg *config.Config) (string, *sql.DB, error) {
	dbCfg, err := cfg.Database(databaseName)
	if err != nil {
		return "", nil, err
	}

	dsn, err := dbCfg.DSN()
	if err != nil {
		return "", nil, err
	}

	db, err := storage.Open(dbCfg.Dialect, dsn)
	if err != nil {
		return "", nil, fmt.Errorf("connecting to %q: %w", databaseName, err)
	}

	return dbCfg.Dialect, db, nil
}
