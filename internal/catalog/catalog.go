// Package catalog reads evolution definitions from disk. Each application
// owns a directory containing a sequence.yaml naming its evolutions in
// order, plus one file per evolution: either a YAML file listing mutations
// in hint syntax, or a raw SQL file. SQL files may be specialized per
// database by prefixing the file name with the database name.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/reloquent/evolve/internal/mutations"
)

// Catalog provides access to the evolution files under one root directory.
type Catalog struct {
	root string
}

// New returns a catalog rooted at the given directory.
func New(root string) *Catalog {
	return &Catalog{root: root}
}

// Root returns the catalog's root directory.
func (c *Catalog) Root() string {
	return c.root
}

// Apps lists the applications that carry evolution sequences, sorted.
func (c *Catalog) Apps() ([]string, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading evolutions directory: %w", err)
	}

	var apps []string

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		sequencePath := filepath.Join(c.root, entry.Name(), "sequence.yaml")
		if _, err := os.Stat(sequencePath); err == nil {
			apps = append(apps, entry.Name())
		}
	}

	sort.Strings(apps)
	return apps, nil
}

type sequenceFile struct {
	Evolutions []string `yaml:"evolutions"`
}

// Sequence returns an application's evolution labels in catalog order. An
// application without a sequence file has no evolutions.
func (c *Catalog) Sequence(appLabel string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(c.root, appLabel, "sequence.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading evolution sequence for %q: %w",
			appLabel, err)
	}

	var sequence sequenceFile
	if err := yaml.Unmarshal(data, &sequence); err != nil {
		return nil, fmt.Errorf("parsing evolution sequence for %q: %w",
			appLabel, err)
	}

	seen := map[string]bool{}
	for _, label := range sequence.Evolutions {
		if seen[label] {
			return nil, fmt.Errorf("the evolution %q appears twice in the "+
				"sequence for %q", label, appLabel)
		}
		seen[label] = true
	}

	return sequence.Evolutions, nil
}

type evolutionFile struct {
	Mutations []string `yaml:"mutations"`
}

// Mutations loads one evolution's mutations. Database-specific SQL files
// take precedence over generic ones, which take precedence over YAML
// mutation files.
func (c *Catalog) Mutations(appLabel, label, database string) (
	[]mutations.Mutation, error) {
	appDir := filepath.Join(c.root, appLabel)

	sqlCandidates := []string{
		filepath.Join(appDir, database+"_"+label+".sql"),
		filepath.Join(appDir, label+".sql"),
	}

	for _, path := range sqlCandidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return nil, fmt.Errorf("reading evolution %s/%s: %w",
				appLabel, label, err)
		}

		return []mutations.Mutation{&mutations.SQLMutation{
			Tag: label,
			SQL: splitStatements(string(data)),
		}}, nil
	}

	yamlPath := filepath.Join(appDir, label+".yaml")

	data, err := os.ReadFile(yamlPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to find an SQL or YAML evolution "+
				"named %q for %q", label, appLabel)
		}

		return nil, fmt.Errorf("reading evolution %s/%s: %w",
			appLabel, label, err)
	}

	var file evolutionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing evolution %s/%s: %w",
			appLabel, label, err)
	}

	if len(file.Mutations) == 0 {
		return nil, fmt.Errorf("the evolution %s/%s defines no mutations",
			appLabel, label)
	}

	parsed, err := mutations.ParseMutations(file.Mutations)
	if err != nil {
		return nil, fmt.Errorf("evolution %s/%s: %w", appLabel, label, err)
	}

	return parsed, nil
}

// splitStatements breaks a SQL file into statements on semicolon
// boundaries, keeping the terminator. Comment-only and blank segments are
// dropped.
func splitStatements(content string) []string {
	var statements []string

	for _, segment := range strings.Split(content, ";") {
		var lines []string

		for _, line := range strings.Split(segment, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "--") {
				continue
			}

			lines = append(lines, trimmed)
		}

		if len(lines) > 0 {
			statements = append(statements, strings.Join(lines, " ")+";")
		}
	}

	return statements
}
