package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reloquent/evolve/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file interactively",
	Long:  `Walk through prompts to create an Evolve configuration file at ~/.evolve/evolve.yaml.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reader := bufio.NewReader(os.Stdin)

		fmt.Println("Evolve Configuration Setup")
		fmt.Println("==========================")
		fmt.Println()

		fmt.Println("Database")
		fmt.Println("--------")
		dialect := prompt(reader, "Dialect (postgres/mysql)", "postgres")
		host := prompt(reader, "Host", "localhost")
		portStr := prompt(reader, "Port", defaultPort(dialect))
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid port: %s", portStr)
		}
		database := prompt(reader, "Database name", "")
		username := prompt(reader, "Username", "")
		password := prompt(reader, "Password", "")
		fmt.Println()

		fmt.Println("Project")
		fmt.Println("-------")
		modelsDir := prompt(reader, "Models directory", "models")
		evolutionsDir := prompt(reader, "Evolutions directory", "evolutions")
		fmt.Println()

		cfg := &config.Config{
			Version: config.CurrentVersion,
			Databases: map[string]config.DatabaseConfig{
				"default": {
					Dialect:  dialect,
					Host:     host,
					Port:     port,
					Database: database,
					Username: username,
					Password: password,
				},
			},
			Models:     modelsDir,
			Evolutions: evolutionsDir,
		}

		cfgPath := config.ExpandHome(config.DefaultPath)
		if cfgFile != "" {
			cfgPath = cfgFile
		}

		if err := cfg.Save(cfgPath); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}

		fmt.Printf("Config written to %s\n", cfgPath)
		fmt.Println()
		fmt.Println("Next steps:")
		fmt.Println("  evolve baseline   — Record the current models as the first version")
		fmt.Println("  evolve status     — Check the stored schema state")
		fmt.Println("  evolve apply      — Apply pending evolutions")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func prompt(reader *bufio.Reader, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("  %s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("  %s: ", label)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}

func defaultPort(dialect string) string {
	switch dialect {
	case "mysql":
		return "3306"
	default:
		return "5432"
	}
}
