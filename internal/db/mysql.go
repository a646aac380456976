package db

import (
	"fmt"
	"strings"

	"github.com/reloquent/evolve/internal/signature"
)

func init() {
	Register(&mysqlOps{})
}

// mysqlOps renders schema operations as MySQL DDL.
type mysqlOps struct{}

func (o *mysqlOps) Name() string {
	return "mysql"
}

func (o *mysqlOps) QuoteName(name string) string {
	return "`" + name + "`"
}

func (o *mysqlOps) ColumnType(fieldSig *signature.FieldSignature) (string, error) {
	switch fieldSig.Type {
	case signature.AutoField:
		return "integer AUTO_INCREMENT", nil
	case signature.BigIntegerField:
		return "bigint", nil
	case signature.BooleanField:
		return "bool", nil
	case signature.CharField, signature.EmailField, signature.SlugField,
		signature.URLField:
		return varcharType(fieldSig)
	case signature.DateField:
		return "date", nil
	case signature.DateTimeField:
		return "datetime", nil
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
		return "longtext", nil
	case signature.TimeField:
		return "time", nil
	}

	return "", fmt.Errorf("no mysql column type for field type %q",
		fieldSig.Type)
}

func (o *mysqlOps) SupportsChangeAttr(attrName string) bool {
	switch attrName {
	case "null", "max_length", "db_column", "db_index", "db_table", "unique":
		return true
	}
	return false
}

func (o *mysqlOps) SupportsChangeMeta(prop string) bool {
	switch prop {
	case "unique_together", "index_together", "indexes":
		return true
	}
	return false
}

// MySQL checks foreign keys statement by statement, so multi-table drops
// and renames can fail on ordering unless checking is suspended for the
// batch.
func (o *mysqlOps) SessionSetupSQL() []string {
	return []string{"SET FOREIGN_KEY_CHECKS=0;"}
}

func (o *mysqlOps) SessionTeardownSQL() []string {
	return []string{"SET FOREIGN_KEY_CHECKS=1;"}
}

func (o *mysqlOps) RenameTableSQL(oldName, newName string) []string {
	return []string{fmt.Sprintf("RENAME TABLE %s TO %s;",
		o.QuoteName(oldName), o.QuoteName(newName))}
}

func (o *mysqlOps) DeleteTableSQL(tableName string) []string {
	return []string{fmt.Sprintf("DROP TABLE %s;", o.QuoteName(tableName))}
}

func (o *mysqlOps) M2MTableName(modelSig *signature.ModelSignature,
	fieldSig *signature.FieldSignature) string {
	if value, ok := fieldSig.Attr("db_table").(string); ok && value != "" {
		return value
	}

	return modelSig.TableName + "_" + fieldSig.FieldName
}

func (o *mysqlOps) AddM2MTableSQL(modelSig *signature.ModelSignature,
	fieldSig *signature.FieldSignature) ([]string, error) {
	tableName := o.M2MTableName(modelSig, fieldSig)
	fromColumn := strings.ToLower(modelSig.ModelName) + "_id"
	toColumn, toTable := m2mTarget(fieldSig)

	if toTable == "" {
		return nil, fmt.Errorf("many-to-many field %q has no related model",
			fieldSig.FieldName)
	}

	return []string{fmt.Sprintf(
		"CREATE TABLE %s (%s integer AUTO_INCREMENT PRIMARY KEY, "+
			"%s integer NOT NULL, %s integer NOT NULL, "+
			"UNIQUE (%s, %s), "+
			"FOREIGN KEY (%s) REFERENCES %s (%s), "+
			"FOREIGN KEY (%s) REFERENCES %s (%s));",
		o.QuoteName(tableName),
		o.QuoteName("id"),
		o.QuoteName(fromColumn), o.QuoteName(toColumn),
		o.QuoteName(fromColumn), o.QuoteName(toColumn),
		o.QuoteName(fromColumn), o.QuoteName(modelSig.TableName),
		o.QuoteName(modelSig.PKColumn),
		o.QuoteName(toColumn), o.QuoteName(toTable), o.QuoteName("id"))}, nil
}

func (o *mysqlOps) TableOpsSQL(modelSig *signature.ModelSignature,
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
				Clause: fmt.Sprintf("DROP COLUMN %s",
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

func (o *mysqlOps) renderAddColumn(modelSig *signature.ModelSignature,
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

	result := renderedOp{Clause: clause}

	if op.RefTable != "" {
		result.Clause += fmt.Sprintf(
			", ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
			o.QuoteName(generatedIndexName(modelSig.TableName,
				[]string{column, "fk"})),
			o.QuoteName(column), o.QuoteName(op.RefTable),
			o.QuoteName(op.RefColumn))
	}

	if op.Initial != nil {
		result.Post = append(result.Post, fmt.Sprintf(
			"ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT;",
			o.QuoteName(modelSig.TableName), o.QuoteName(column)))
	}

	if fieldSig.BoolAttr("db_index") && !fieldSig.BoolAttr("unique") {
		result.Post = append(result.Post, o.createIndexSQL(
			generatedIndexName(modelSig.TableName, []string{column}),
			modelSig.TableName, []string{column}, false))
	}

	return []renderedOp{result}, nil
}

func (o *mysqlOps) renderChangeColumn(modelSig *signature.ModelSignature,
	op *Op) ([]renderedOp, error) {
	fieldSig := op.Field
	column := columnName(fieldSig)
	quotedTable := o.QuoteName(modelSig.TableName)

	var rendered []renderedOp

	for _, attrName := range sortedAttrNames(op.NewAttrs) {
		change := op.NewAttrs[attrName]

		switch attrName {
		case "null", "max_length":
			// MySQL redefines the whole column on any type or nullability
			// change.
			columnType, err := o.ColumnType(fieldSig)
			if err != nil {
				return nil, err
			}

			nullability := " NOT NULL"
			if fieldSig.BoolAttr("null") {
				nullability = " NULL"
			}

			r := renderedOp{
				Clause: fmt.Sprintf("MODIFY COLUMN %s %s%s",
					o.QuoteName(column), columnType, nullability),
			}

			if attrName == "null" && change.New == false && op.Initial != nil {
				r.Pre = []string{fmt.Sprintf(
					"UPDATE %s SET %s = %s WHERE %s IS NULL;",
					quotedTable, o.QuoteName(column), sqlLiteral(op.Initial),
					o.QuoteName(column))}
			}

			rendered = append(rendered, r)

		case "db_column":
			oldColumn := columnOrDefault(change.Old, fieldSig.FieldName)
			newColumn := columnOrDefault(change.New, fieldSig.FieldName)

			rendered = append(rendered, renderedOp{
				Clause: fmt.Sprintf("RENAME COLUMN %s TO %s",
					o.QuoteName(oldColumn), o.QuoteName(newColumn)),
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
						modelSig.TableName, []string{column}, false)},
				})
			} else {
				rendered = append(rendered, renderedOp{
					Pre: []string{fmt.Sprintf("DROP INDEX %s ON %s;",
						o.QuoteName(indexName), quotedTable)},
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
					Clause: fmt.Sprintf("DROP INDEX %s",
						o.QuoteName(constraint)),
				})
			}

		default:
			return nil, fmt.Errorf(
				"changing attribute %q is not supported on mysql", attrName)
		}
	}

	return rendered, nil
}

func (o *mysqlOps) renderChangeMeta(modelSig *signature.ModelSignature,
	op *Op) ([]renderedOp, error) {
	quotedTable := o.QuoteName(modelSig.TableName)

	switch op.Prop {
	case "unique_together":
		dropped, added := togetherDiff(
			signature.NormalizeTogether(op.OldValue),
			signature.NormalizeTogether(op.NewValue))

		var statements []string

		for _, entry := range dropped {
			columns := resolveColumns(modelSig, entry)
			statements = append(statements, fmt.Sprintf("DROP INDEX %s ON %s;",
				o.QuoteName(uniqueConstraintName(modelSig.TableName, columns)),
				quotedTable))
		}

		for _, entry := range added {
			columns := resolveColumns(modelSig, entry)
			statements = append(statements, o.createIndexSQL(
				uniqueConstraintName(modelSig.TableName, columns),
				modelSig.TableName, columns, true))
		}

		return []renderedOp{{Pre: statements}}, nil

	case "index_together", "indexes":
		dropped, added := indexChanges(op)

		var statements []string

		for _, entry := range dropped {
			columns := resolveColumns(modelSig, entry.Fields)
			statements = append(statements, fmt.Sprintf("DROP INDEX %s ON %s;",
				o.QuoteName(indexNameFor(modelSig, entry, columns)),
				quotedTable))
		}

		for _, entry := range added {
			columns := resolveColumns(modelSig, entry.Fields)
			statements = append(statements, o.createIndexSQL(
				indexNameFor(modelSig, entry, columns),
				modelSig.TableName, columns, false))
		}

		return []renderedOp{{Pre: statements}}, nil
	}

	return nil, fmt.Errorf("changing meta property %q is not supported on mysql",
		op.Prop)
}

func (o *mysqlOps) createIndexSQL(indexName, tableName string,
	columns []string, unique bool) string {
	kind := "INDEX"
	if unique {
		kind = "UNIQUE INDEX"
	}

	quoted := make([]string, len(columns))
	for i, column := range columns {
		quoted[i] = o.QuoteName(column)
	}

	return fmt.Sprintf("CREATE %s %s ON %s (%s);",
		kind, o.QuoteName(indexName), o.QuoteName(tableName),
		strings.Join(quoted, ", "))
}
