// Package models loads declarative model definitions from YAML files and
// turns them into project signatures. The model files describe the target
// schema; diffing them against the stored signature yields the outstanding
// changes.
package models

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/reloquent/evolve/internal/signature"
)

type appFile struct {
	App    string     `yaml:"app"`
	Models []modelDef `yaml:"models"`
}

type modelDef struct {
	Name           string     `yaml:"name"`
	DBTable        string     `yaml:"db_table"`
	DBTablespace   string     `yaml:"db_tablespace"`
	UniqueTogether any        `yaml:"unique_together"`
	IndexTogether  any        `yaml:"index_together"`
	Indexes        []indexDef `yaml:"indexes"`
	Fields         []fieldDef `yaml:"fields"`
}

type indexDef struct {
	Name   string   `yaml:"name"`
	Fields []string `yaml:"fields"`
}

type fieldDef struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Related string `yaml:"related"`

	Attrs map[string]any `yaml:",inline"`
}

// LoadDir loads every .yaml model file in a directory into one project
// signature. Files are read in name order so the result is stable.
func LoadDir(dir string) (*signature.ProjectSignature, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading models directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	sort.Strings(paths)

	if len(paths) == 0 {
		return nil, fmt.Errorf("no model files found in %s", dir)
	}

	projectSig := signature.NewProjectSignature()

	for _, path := range paths {
		appSig, err := LoadFile(path)
		if err != nil {
			return nil, err
		}

		if existing := projectSig.AppSig(appSig.AppID); existing != nil {
			return nil, fmt.Errorf("application %q is defined in more than "+
				"one model file", appSig.AppID)
		}

		projectSig.AddAppSig(appSig)
	}

	return projectSig, nil
}

// LoadFile loads one application's model definitions.
func LoadFile(path string) (*signature.AppSignature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model file: %w", err)
	}

	appSig, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return appSig, nil
}

// Parse builds an application signature from model file contents.
func Parse(data []byte) (*signature.AppSignature, error) {
	var file appFile

	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing model file: %w", err)
	}

	if file.App == "" {
		return nil, fmt.Errorf("model file is missing the app label")
	}

	if len(file.Models) == 0 {
		return nil, fmt.Errorf("application %q defines no models", file.App)
	}

	appSig := signature.NewAppSignature(file.App)

	for _, model := range file.Models {
		modelSig, err := buildModelSig(file.App, model)
		if err != nil {
			return nil, err
		}

		if appSig.ModelSig(modelSig.ModelName) != nil {
			return nil, fmt.Errorf("application %q defines model %q twice",
				file.App, modelSig.ModelName)
		}

		appSig.AddModelSig(modelSig)
	}

	return appSig, nil
}

func buildModelSig(appLabel string, model modelDef) (
	*signature.ModelSignature, error) {
	if model.Name == "" {
		return nil, fmt.Errorf("application %q has a model without a name",
			appLabel)
	}

	tableName := model.DBTable
	if tableName == "" {
		tableName = appLabel + "_" + strings.ToLower(model.Name)
	}

	modelSig := signature.NewModelSignature(model.Name, tableName)
	modelSig.Tablespace = model.DBTablespace
	modelSig.UniqueTogether = signature.NormalizeTogether(model.UniqueTogether)
	modelSig.IndexTogether = signature.NormalizeTogether(model.IndexTogether)
	modelSig.MarkUniqueTogetherApplied()

	for _, index := range model.Indexes {
		if len(index.Fields) == 0 {
			return nil, fmt.Errorf("model %s.%s has an index without fields",
				appLabel, model.Name)
		}

		modelSig.Indexes = append(modelSig.Indexes, &signature.IndexSignature{
			Name:   index.Name,
			Fields: index.Fields,
		})
	}

	hasPK := false

	for _, field := range model.Fields {
		fieldSig, err := buildFieldSig(appLabel, model.Name, field)
		if err != nil {
			return nil, err
		}

		if modelSig.FieldSig(fieldSig.FieldName) != nil {
			return nil, fmt.Errorf("model %s.%s defines field %q twice",
				appLabel, model.Name, fieldSig.FieldName)
		}

		if fieldSig.BoolAttr("primary_key") {
			if hasPK {
				return nil, fmt.Errorf("model %s.%s has more than one "+
					"primary key field", appLabel, model.Name)
			}

			hasPK = true
			modelSig.PKColumn = fieldColumn(fieldSig)
		}

		modelSig.AddFieldSig(fieldSig)
	}

	if !hasPK {
		// Models without an explicit primary key get the conventional
		// auto-incrementing id column, first in field order.
		idSig := signature.NewFieldSignature("id", signature.AutoField).
			SetAttr("primary_key", true)

		fieldSigs := append([]*signature.FieldSignature{idSig},
			modelSig.FieldSigs()...)

		rebuilt := signature.NewModelSignature(modelSig.ModelName,
			modelSig.TableName)
		rebuilt.Tablespace = modelSig.Tablespace
		rebuilt.UniqueTogether = modelSig.UniqueTogether
		rebuilt.IndexTogether = modelSig.IndexTogether
		rebuilt.Indexes = modelSig.Indexes
		rebuilt.PKColumn = "id"
		rebuilt.MarkUniqueTogetherApplied()

		for _, fieldSig := range fieldSigs {
			rebuilt.AddFieldSig(fieldSig)
		}

		modelSig = rebuilt
	}

	return modelSig, nil
}

func buildFieldSig(appLabel, modelName string, field fieldDef) (
	*signature.FieldSignature, error) {
	if field.Name == "" {
		return nil, fmt.Errorf("model %s.%s has a field without a name",
			appLabel, modelName)
	}

	fieldType := signature.FieldType(field.Type)
	if !fieldType.Known() {
		return nil, fmt.Errorf("field %s.%s.%s has unknown type %q",
			appLabel, modelName, field.Name, field.Type)
	}

	fieldSig := signature.NewFieldSignature(field.Name, fieldType)

	if fieldType.IsRelation() {
		if field.Related == "" {
			return nil, fmt.Errorf("relation field %s.%s.%s is missing the "+
				"related model", appLabel, modelName, field.Name)
		}

		fieldSig.RelatedModel = field.Related
	} else if field.Related != "" {
		return nil, fmt.Errorf("field %s.%s.%s is not a relation but names "+
			"a related model", appLabel, modelName, field.Name)
	}

	for name, value := range field.Attrs {
		fieldSig.SetAttr(name, value)
	}

	if (fieldType == signature.ForeignKey ||
		fieldType == signature.OneToOneField) && !fieldSig.HasAttr("db_column") {
		fieldSig.SetAttr("db_column", field.Name+"_id")
	}

	return fieldSig, nil
}

func fieldColumn(fieldSig *signature.FieldSignature) string {
	if value, ok := fieldSig.Attr("db_column").(string); ok && value != "" {
		return value
	}

	return fieldSig.FieldName
}
