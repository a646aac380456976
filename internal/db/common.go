package db

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/reloquent/evolve/internal/signature"
)

// maxNameLength bounds generated index and constraint names. MySQL caps
// identifiers at 64 characters and PostgreSQL truncates at 63, so generated
// names stay under both.
const maxNameLength = 63

// renderedOp is one schema operation rendered against a single table. Clause
// holds an ALTER TABLE clause that may be merged with adjacent clauses into
// one statement; Pre and Post are standalone statements emitted around it.
type renderedOp struct {
	Pre    []string
	Clause string
	Post   []string
}

// mergeTableSQL flattens rendered operations into statements, combining runs
// of adjacent ALTER TABLE clauses into single multi-clause statements.
func mergeTableSQL(quotedTable string, rendered []renderedOp) []string {
	var statements []string
	var clauses []string
	var pending []string

	flush := func() {
		if len(clauses) > 0 {
			statements = append(statements, fmt.Sprintf("ALTER TABLE %s %s;",
				quotedTable, strings.Join(clauses, ", ")))
			clauses = nil
		}

		statements = append(statements, pending...)
		pending = nil
	}

	for _, op := range rendered {
		if op.Clause == "" {
			flush()
			statements = append(statements, op.Pre...)
			statements = append(statements, op.Post...)
			continue
		}

		if len(op.Pre) > 0 {
			flush()
			statements = append(statements, op.Pre...)
		}

		clauses = append(clauses, op.Clause)
		pending = append(pending, op.Post...)
	}

	flush()
	return statements
}

// sqlLiteral renders a value as a SQL literal for DEFAULT and UPDATE
// expressions.
func sqlLiteral(value any) string {
	switch v := value.(type) {
	case nil:
		return "NULL"
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}

	return fmt.Sprintf("%v", value)
}

// generatedIndexName builds a deterministic index name from a table and its
// column names, truncating over-long names with a hash so they stay unique.
func generatedIndexName(tableName string, columns []string) string {
	return truncateName(tableName + "_" + strings.Join(columns, "_"))
}

// uniqueConstraintName builds the name used for single-column and
// multi-column unique constraints.
func uniqueConstraintName(tableName string, columns []string) string {
	return truncateName(tableName + "_" + strings.Join(columns, "_") + "_key")
}

func truncateName(name string) string {
	if len(name) <= maxNameLength {
		return name
	}

	h := fnv.New32a()
	h.Write([]byte(name))

	suffix := fmt.Sprintf("_%08x", h.Sum32())
	return name[:maxNameLength-len(suffix)] + suffix
}

// columnName returns the column backing a field, honoring db_column.
func columnName(fieldSig *signature.FieldSignature) string {
	if value, ok := fieldSig.Attr("db_column").(string); ok && value != "" {
		return value
	}

	return fieldSig.FieldName
}

// togetherDiff computes the entries to drop and to add when transitioning
// between two together values, comparing entries as sets while preserving
// the input order.
func togetherDiff(old, new [][]string) (dropped, added [][]string) {
	oldKeys := togetherKeys(old)
	newKeys := togetherKeys(new)

	for i, entry := range old {
		if !newKeys[togetherKey(old[i])] {
			dropped = append(dropped, entry)
		}
	}

	for i, entry := range new {
		if !oldKeys[togetherKey(new[i])] {
			added = append(added, entry)
		}
	}

	return dropped, added
}

func togetherKeys(together [][]string) map[string]bool {
	keys := make(map[string]bool, len(together))
	for _, entry := range together {
		keys[togetherKey(entry)] = true
	}

	return keys
}

func togetherKey(entry []string) string {
	return strings.Join(entry, "\x00")
}

// varcharType renders a varchar column definition from a field's max_length.
func varcharType(fieldSig *signature.FieldSignature) (string, error) {
	length, ok := intAttr(fieldSig, "max_length")
	if !ok {
		return "", fmt.Errorf("field %q requires max_length", fieldSig.FieldName)
	}

	return fmt.Sprintf("varchar(%d)", length), nil
}

// decimalType renders a numeric column definition from a field's max_digits
// and decimal_places.
func decimalType(fieldSig *signature.FieldSignature) (string, error) {
	digits, ok := intAttr(fieldSig, "max_digits")
	if !ok {
		return "", fmt.Errorf("field %q requires max_digits", fieldSig.FieldName)
	}

	places, ok := intAttr(fieldSig, "decimal_places")
	if !ok {
		return "", fmt.Errorf("field %q requires decimal_places",
			fieldSig.FieldName)
	}

	return fmt.Sprintf("numeric(%d, %d)", digits, places), nil
}

// intAttr reads an attribute as an int, tolerating the numeric types that
// YAML deserialization produces.
func intAttr(fieldSig *signature.FieldSignature, attrName string) (int, bool) {
	switch v := fieldSig.Attr(attrName).(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}

	return 0, false
}

// m2mTarget derives the join column and target table for a many-to-many
// field from its related model reference ("app.Model").
func m2mTarget(fieldSig *signature.FieldSignature) (toColumn, toTable string) {
	appLabel, modelName, ok := strings.Cut(fieldSig.RelatedModel, ".")
	if !ok {
		return "", ""
	}

	lower := strings.ToLower(modelName)
	return lower + "_id", strings.ToLower(appLabel) + "_" + lower
}

// columnOrDefault returns a string attribute transition value, or the
// fallback when the value is unset.
func columnOrDefault(value any, fallback string) string {
	if s, ok := value.(string); ok && s != "" {
		return s
	}

	return fallback
}

// resolveColumns maps field names to their backing column names.
func resolveColumns(modelSig *signature.ModelSignature,
	fieldNames []string) []string {
	columns := make([]string, len(fieldNames))

	for i, fieldName := range fieldNames {
		if fieldSig := modelSig.FieldSig(fieldName); fieldSig != nil {
			columns[i] = columnName(fieldSig)
		} else {
			columns[i] = fieldName
		}
	}

	return columns
}

// indexChanges computes the index signatures to drop and to add for an
// index_together or indexes meta transition.
func indexChanges(op *Op) (dropped, added []*signature.IndexSignature) {
	oldIndexes := asIndexSigs(op.OldValue)
	newIndexes := asIndexSigs(op.NewValue)

outerOld:
	for _, indexSig := range oldIndexes {
		for _, other := range newIndexes {
			if indexSig.Equal(other) {
				continue outerOld
			}
		}
		dropped = append(dropped, indexSig)
	}

outerNew:
	for _, indexSig := range newIndexes {
		for _, other := range oldIndexes {
			if indexSig.Equal(other) {
				continue outerNew
			}
		}
		added = append(added, indexSig)
	}

	return dropped, added
}

// asIndexSigs coerces a meta transition value into index signatures. The
// value is either a list of index signatures or a together value.
func asIndexSigs(value any) []*signature.IndexSignature {
	if indexes, ok := value.([]*signature.IndexSignature); ok {
		return indexes
	}

	together := signature.NormalizeTogether(value)
	indexes := make([]*signature.IndexSignature, len(together))

	for i, fields := range together {
		indexes[i] = &signature.IndexSignature{Fields: fields}
	}

	return indexes
}

// indexNameFor picks an index name, preferring an explicit one.
func indexNameFor(modelSig *signature.ModelSignature,
	indexSig *signature.IndexSignature, columns []string) string {
	if indexSig.Name != "" {
		return indexSig.Name
	}

	return generatedIndexName(modelSig.TableName, columns)
}

// sortedAttrNames returns the attribute names of a change-column operation
// in a stable order.
func sortedAttrNames(attrs map[string]AttrChange) []string {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}
