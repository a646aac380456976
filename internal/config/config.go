package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"
)

const (
	CurrentVersion = 1
	DefaultPath    = "~/.evolve/evolve.yaml"
)

// Config is the top-level configuration.
type Config struct {
	Version    int                       `yaml:"version"`
	Databases  map[string]DatabaseConfig `yaml:"databases"`
	Models     string                    `yaml:"models,omitempty"`
	Evolutions string                    `yaml:"evolutions,omitempty"`
	Logging    LogConfig                 `yaml:"logging,omitempty"`
}

// DatabaseConfig defines one named database connection.
type DatabaseConfig struct {
	Dialect  string `yaml:"dialect"` // postgres or mysql
	Host     string `yaml:"host"`
	Port     int    `yaml:"port,omitempty"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password,omitempty"`
	SSLMode  string `yaml:"ssl_mode,omitempty"` // postgres only
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level         string `yaml:"level,omitempty"`          // debug, info, warn, error
	Directory     string `yaml:"directory,omitempty"`      // default ~/.evolve/logs/
	RetentionDays int    `yaml:"retention_days,omitempty"` // default 30
}

// Load reads and parses the config file from the given path.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentVersion)
	}

	if err := cfg.resolveSecrets(); err != nil {
		return nil, fmt.Errorf("resolving secrets: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Save writes the config to the given path.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Database returns the named database connection, defaulting to "default".
func (c *Config) Database(name string) (DatabaseConfig, error) {
	if name == "" {
		name = "default"
	}

	db, ok := c.Databases[name]
	if !ok {
		return DatabaseConfig{}, fmt.Errorf("database %q is not configured", name)
	}
	return db, nil
}

func (c *Config) applyDefaults() {
	for name, db := range c.Databases {
		if db.Port == 0 {
			switch db.Dialect {
			case "postgres":
				db.Port = 5432
			case "mysql":
				db.Port = 3306
			}
		}
		if db.Dialect == "postgres" && db.SSLMode == "" {
			db.SSLMode = "prefer"
		}
		c.Databases[name] = db
	}
	if c.Models == "" {
		c.Models = "models"
	}
	if c.Evolutions == "" {
		c.Evolutions = "evolutions"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Directory == "" {
		c.Logging.Directory = ExpandHome("~/.evolve/logs/")
	}
	if c.Logging.RetentionDays == 0 {
		c.Logging.RetentionDays = 30
	}
}

// DSN builds the driver connection string for this database.
func (d DatabaseConfig) DSN() (string, error) {
	switch d.Dialect {
	case "postgres":
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(d.Username, d.Password),
			Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
			Path:   "/" + d.Database,
		}
		q := url.Values{}
		if d.SSLMode != "" {
			q.Set("sslmode", d.SSLMode)
		}
		u.RawQuery = q.Encode()
		return u.String(), nil
	case "mysql":
		mc := mysql.NewConfig()
		mc.User = d.Username
		mc.Passwd = d.Password
		mc.Net = "tcp"
		mc.Addr = fmt.Sprintf("%s:%d", d.Host, d.Port)
		mc.DBName = d.Database
		mc.ParseTime = true
		return mc.FormatDSN(), nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", d.Dialect)
	}
}

var secretPattern = regexp.MustCompile(`\$\{(ENV|VAULT):([^}]+)\}`)

func (c *Config) resolveSecrets() error {
	for name, db := range c.Databases {
		password, err := ResolveValue(db.Password)
		if err != nil {
			return fmt.Errorf("database %q password: %w", name, err)
		}
		db.Password = password
		c.Databases[name] = db
	}
	return nil
}

// ResolveValue resolves secret references in a string value.
func ResolveValue(val string) (string, error) {
	matches := secretPattern.FindStringSubmatch(val)
	if matches == nil {
		return val, nil
	}

	provider := matches[1]
	ref := matches[2]

	switch provider {
	case "ENV":
		v := os.Getenv(ref)
		if v == "" {
			return "", fmt.Errorf("environment variable %s not set", ref)
		}
		return v, nil
	case "VAULT":
		return resolveVault(ref)
	default:
		return "", fmt.Errorf("unknown secrets provider: %s", provider)
	}
}

// ExpandHome expands ~ to the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
