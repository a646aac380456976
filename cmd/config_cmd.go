package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reloquent/evolve/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and validate the Evolve configuration.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current config (secrets masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		fmt.Println("Current configuration:")
		fmt.Println()

		names := make([]string, 0, len(cfg.Databases))
		for name := range cfg.Databases {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			db := cfg.Databases[name]
			fmt.Printf("  Database %q:\n", name)
			fmt.Printf("    Dialect:   %s\n", db.Dialect)
			fmt.Printf("    Host:      %s\n", db.Host)
			fmt.Printf("    Port:      %d\n", db.Port)
			fmt.Printf("    Database:  %s\n", db.Database)
			fmt.Printf("    Username:  %s\n", db.Username)
			fmt.Printf("    Password:  %s\n", maskSecret(db.Password))
			fmt.Println()
		}

		fmt.Printf("  Models:     %s\n", cfg.Models)
		fmt.Printf("  Evolutions: %s\n", cfg.Evolutions)

		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}

		var problems []string

		if len(cfg.Databases) == 0 {
			problems = append(problems, "at least one database is required")
		}
		if _, ok := cfg.Databases["default"]; !ok {
			problems = append(problems, "a database named \"default\" is required")
		}
		for name, db := range cfg.Databases {
			if db.Dialect != "postgres" && db.Dialect != "mysql" {
				problems = append(problems,
					fmt.Sprintf("database %q: unsupported dialect %q", name, db.Dialect))
			}
			if db.Host == "" {
				problems = append(problems, fmt.Sprintf("database %q: host is required", name))
			}
			if db.Database == "" {
				problems = append(problems, fmt.Sprintf("database %q: database name is required", name))
			}
		}

		if len(problems) > 0 {
			fmt.Println("Validation errors:")
			for _, p := range problems {
				fmt.Printf("  - %s\n", p)
			}
			return fmt.Errorf("%d validation error(s)", len(problems))
		}

		fmt.Println("Configuration is valid.")
		return nil
	},
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
