package db

import (
	"fmt"
	"strings"

	"github.com/reloquent/evolve/internal/signature"
)

func init() {
	Register(&postgresOps{})
}

// postgresOps renders schema operations as PostgreSQL DDL.
type postgresOps struct{}

func (o *postgresOps) Name() string {
	return "postgres"
}

func (o *postgresOps) QuoteName(name string) string {
	return `"` + name + `"`
}

func (o *postgresOps) ColumnType(fieldSig *signature.FieldSignature) (string, error) {
	switch fieldSig.Type {
	case signature.AutoField:
		return "serial", nil
	case signature.BigIntegerField:
		return "bigint", nil
	case signature.BooleanField:
		return "boolean", nil
	case signature.CharField, signature.EmailField, signature.SlugField,
		signature.URLField:
		return varcharType(fieldSig)
	case signature.DateField:
		return "date", nil
	case signature.DateTimeField:
		return "timestamp with time zone", nil
	case signature.DecimalField:
		return decimalType(fieldSig)
	case signature.FloatField:
		return "double precision", nil
	case signature.ForeignKey, signature.OneToOneField:
		return "integer", nil
	case signature.IntegerField, signature.PositiveIntegerField:
		return "integer", nil
	case signature.SmallIntegerField:
		return "smallint", nil
	case signature.TextField:
		return "text", nil
	case signature.TimeField:
		return "time", nil
	}

	return "", fmt.Errorf("no postgres column type for field type %q",
		fieldSig.Type)
}

func (o *postgresOps) SupportsChangeAttr(attrName string) bool {
	switch attrName {
	case "null", "max_length", "db_column", "db_index", "db_table", "unique":
		return true
	}
	return false
}

func (o *postgresOps) SupportsChangeMeta(prop string) bool {
	switch prop {
	case "unique_together", "index_together", "indexes":
		return true
	}
	return false
}

// Foreign keys are created DEFERRABLE INITIALLY DEFERRED, so constraint
// checking already waits for commit; no session toggles are needed.
func (o *postgresOps) SessionSetupSQL() []string {
	return nil
}

func (o *postgresOps) SessionTeardownSQL() []string {
	return nil
}

func (o *postgresOps) RenameTableSQL(oldName, newName string) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s RENAME TO %s;",
		o.QuoteName(oldName), o.QuoteName(newName))}
}

func (o *postgresOps) DeleteTableSQL(tableName string) []string {
	return []string{fmt.Sprintf("DROP TABLE %s;", o.QuoteName(tableName))}
}

func (o *postgresOps) M2MTableName(modelSig *signature.ModelSignature,
	fieldSig *signature.FieldSignature) string {
	if value, ok := fieldSig.Attr("db_table").(string); ok && value != "" {
		return value
	}

	return modelSig.TableName + "_" + fieldSig.FieldName
}

func (o *postgresOps) AddM2MTableSQL(modelSig *signature.ModelSignature,
	fieldSig *signature.FieldSignature) ([]string, error) {
	tableName := o.M2MTableName(modelSig, fieldSig)
	fromColumn := strings.ToLower(modelSig.ModelName) + "_id"
	toColumn, toTable := m2mTarget(fieldSig)

	if toTable == "" {
		return nil, fmt.Errorf("many-to-many field %q has no related model",
			fieldSig.FieldName)
	}

	return []string{fmt.Sprintf(
		"CREATE TABLE %s (%s serial PRIMARY KEY, "+
			"%s integer NOT NULL REFERENCES %s (%s) DEFERRABLE INITIALLY DEFERRED, "+
			"%s integer NOT NULL REFERENCES %s (%s) DEFERRABLE INITIALLY DEFERRED, "+
			"UNIQUE (%s, %s));",
		o.QuoteName(tableName),
		o.QuoteName("id"),
		o.QuoteName(fromColumn), o.QuoteName(modelSig.TableName),
		o.QuoteName(modelSig.PKColumn),
		o.QuoteName(toColumn), o.QuoteName(toTable), o.QuoteName("id"),
		o.QuoteName(fromColumn), o.QuoteName(toColumn))}, nil
}

func (o *postgresOps) TableOpsSQL(modelSig *signature.ModelSignature,
	ops []*Op) ([]string, error) {
	var rendered []renderedOp

	for _, op := range ops {
		switch op.Type {
		case OpAddColumn:
			r, err := o.renderAddColumn(modelSig, op)
			if err != nil {
				return nil, err
			}
			rendered = append(rendered, r...)

		case OpChangeColumn:
			r, err := o.renderChangeColumn(modelSig, op)
			if err != nil {
				return nil, err
			}
			rendered = append(rendered, r...)

		case OpDeleteColumn:
			rendered = append(rendered, renderedOp{
				Clause: fmt.Sprintf("DROP COLUMN %s CASCADE",
					o.QuoteName(columnName(op.Field))),
			})

		case OpChangeMeta:
			r, err := o.renderChangeMeta(modelSig, op)
			if err != nil {
				return nil, err
			}
			rendered = append(rendered, r...)

		case OpSQL:
			rendered = append(rendered, renderedOp{Pre: op.SQL})

		default:
			return nil, fmt.Errorf("unknown schema operation %d", op.Type)
		}
	}

	return mergeTableSQL(o.QuoteName(modelSig.TableName), rendered), nil
}

func (o *postgresOps) renderAddColumn(modelSig *signature.ModelSignature,
	op *Op) ([]renderedOp, error) {
	fieldSig := op.Field

	if fieldSig.Type == signature.ManyToManyField {
		sql, err := o.AddM2MTableSQL(modelSig, fieldSig)
		if err != nil {
			return nil, err
		}
		return []renderedOp{{Pre: sql}}, nil
	}

	columnType, err := o.ColumnType(fieldSig)
	if err != nil {
		return nil, err
	}

	column := columnName(fieldSig)
	clause := fmt.Sprintf("ADD COLUMN %s %s", o.QuoteName(column), columnType)

	if op.Initial != nil {
		clause += " DEFAULT " + sqlLiteral(op.Initial)
	}

	if !fieldSig.BoolAttr("null") {
		clause += " NOT NULL"
	}

	if fieldSig.BoolAttr("unique") {
		clause += " UNIQUE"
	}

	if op.RefTable != "" {
		clause += fmt.Sprintf(" REFERENCES %s (%s) DEFERRABLE INITIALLY DEFERRED",
			o.QuoteName(op.RefTable), o.QuoteName(op.RefColumn))
	}

	result := renderedOp{Clause: clause}

	if op.Initial != nil {
		// The default exists only to populate existing rows.
		result.Post = append(result.Post, fmt.Sprintf(
			"ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT;",
			o.QuoteName(modelSig.TableName), o.QuoteName(column)))
	}

	if fieldSig.BoolAttr("db_index") && !fieldSig.BoolAttr("unique") {
		result.Post = append(result.Post, o.createIndexSQL(
			generatedIndexName(modelSig.TableName, []string{column}),
			modelSig.TableName, []string{column}))
	}

	return []renderedOp{result}, nil
}

func (o *postgresOps) renderChangeColumn(modelSig *signature.ModelSignature,
	op *Op) ([]renderedOp, error) {
	fieldSig := op.Field
	column := columnName(fieldSig)
	quotedTable := o.QuoteName(modelSig.TableName)

	var rendered []renderedOp

	for _, attrName := range sortedAttrNames(op.NewAttrs) {
		change := op.NewAttrs[attrName]

		switch attrName {
		case "null":
			if change.New == true {
				rendered = append(rendered, renderedOp{
					Clause: fmt.Sprintf("ALTER COLUMN %s DROP NOT NULL",
						o.QuoteName(column)),
				})
				break
			}

			r := renderedOp{
				Clause: fmt.Sprintf("ALTER COLUMN %s SET NOT NULL",
					o.QuoteName(column)),
			}

			if op.Initial != nil {
				r.Pre = []string{fmt.Sprintf(
					"UPDATE %s SET %s = %s WHERE %s IS NULL;",
					quotedTable, o.QuoteName(column), sqlLiteral(op.Initial),
					o.QuoteName(column))}
			}

			rendered = append(rendered, r)

		case "max_length":
			columnType, err := o.ColumnType(fieldSig)
			if err != nil {
				return nil, err
			}

			rendered = append(rendered, renderedOp{
				Clause: fmt.Sprintf("ALTER COLUMN %s TYPE %s",
					o.QuoteName(column), columnType),
			})

		case "db_column":
			oldColumn := columnOrDefault(change.Old, fieldSig.FieldName)
			newColumn := columnOrDefault(change.New, fieldSig.FieldName)

			rendered = append(rendered, renderedOp{
				Pre: []string{fmt.Sprintf(
					"ALTER TABLE %s RENAME COLUMN %s TO %s;",
					quotedTable, o.QuoteName(oldColumn),
					o.QuoteName(newColumn))},
			})

		case "db_table":
			oldTable := columnOrDefault(change.Old,
				o.M2MTableName(modelSig, fieldSig))
			newTable := columnOrDefault(change.New,
				o.M2MTableName(modelSig, fieldSig))

			rendered = append(rendered, renderedOp{
				Pre: o.RenameTableSQL(oldTable, newTable),
			})

		case "db_index":
			indexName := generatedIndexName(modelSig.TableName,
				[]string{column})

			if change.New == true {
				rendered = append(rendered, renderedOp{
					Pre: []string{o.createIndexSQL(indexName,
						modelSig.TableName, []string{column})},
				})
			} else {
				rendered = append(rendered, renderedOp{
					Pre: []string{fmt.Sprintf("DROP INDEX %s;",
						o.QuoteName(indexName))},
				})
			}

		case "unique":
			constraint := uniqueConstraintName(modelSig.TableName,
				[]string{column})

			if change.New == true {
				rendered = append(rendered, renderedOp{
					Clause: fmt.Sprintf("ADD CONSTRAINT %s UNIQUE (%s)",
						o.QuoteName(constraint), o.QuoteName(column)),
				})
			} else {
				rendered = append(rendered, renderedOp{
					Clause: fmt.Sprintf("DROP CONSTRAINT %s",
						o.QuoteName(constraint)),
				})
			}

		default:
			return nil, fmt.Errorf(
				"changing attribute %q is not supported on postgres", attrName)
		}
	}

	return rendered, nil
}

func (o *postgresOps) renderChangeMeta(modelSig *signature.ModelSignature,
	op *Op) ([]renderedOp, error) {
	switch op.Prop {
	case "unique_together":
		dropped, added := togetherDiff(
			signature.NormalizeTogether(op.OldValue),
			signature.NormalizeTogether(op.NewValue))

		var statements []string

		for _, entry := range dropped {
			columns := resolveColumns(modelSig, entry)
			statements = append(statements, fmt.Sprintf(
				"ALTER TABLE %s DROP CONSTRAINT %s;",
				o.QuoteName(modelSig.TableName),
				o.QuoteName(uniqueConstraintName(modelSig.TableName, columns))))
		}

		for _, entry := range added {
			columns := resolveColumns(modelSig, entry)
			statements = append(statements, fmt.Sprintf(
				"ALTER TABLE %s ADD CONSTRAINT %s UNIQUE (%s);",
				o.QuoteName(modelSig.TableName),
				o.QuoteName(uniqueConstraintName(modelSig.TableName, columns)),
				o.quotedList(columns)))
		}

		return []renderedOp{{Pre: statements}}, nil

	case "index_together", "indexes":
		dropped, added := indexChanges(op)

		var statements []string

		for _, entry := range dropped {
			columns := resolveColumns(modelSig, entry.Fields)
			statements = append(statements, fmt.Sprintf("DROP INDEX %s;",
				o.QuoteName(indexNameFor(modelSig, entry, columns))))
		}

		for _, entry := range added {
			columns := resolveColumns(modelSig, entry.Fields)
			statements = append(statements, o.createIndexSQL(
				indexNameFor(modelSig, entry, columns),
				modelSig.TableName, columns))
		}

		return []renderedOp{{Pre: statements}}, nil
	}

	return nil, fmt.Errorf("changing meta property %q is not supported on postgres",
		op.Prop)
}

func (o *postgresOps) createIndexSQL(indexName, tableName string,
	columns []string) string {
	return fmt.Sprintf("CREATE INDEX %s ON %s (%s);",
		o.QuoteName(indexName), o.QuoteName(tableName), o.quotedList(columns))
}

func (o *postgresOps) quotedList(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = o.QuoteName(name)
	}

	return strings.Join(quoted, ", ")
}
