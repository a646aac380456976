package signature

// FieldType identifies a supported column kind. The set is closed; schema
// definitions referencing an unknown type are rejected at load time.
type FieldType string

const (
	AutoField            FieldType = "AutoField"
	BigIntegerField      FieldType = "BigIntegerField"
	BooleanField         FieldType = "BooleanField"
	CharField            FieldType = "CharField"
	DateField            FieldType = "DateField"
	DateTimeField        FieldType = "DateTimeField"
	DecimalField         FieldType = "DecimalField"
	EmailField           FieldType = "EmailField"
	FloatField           FieldType = "FloatField"
	ForeignKey           FieldType = "ForeignKey"
	IntegerField         FieldType = "IntegerField"
	ManyToManyField      FieldType = "ManyToManyField"
	OneToOneField        FieldType = "OneToOneField"
	PositiveIntegerField FieldType = "PositiveIntegerField"
	SlugField            FieldType = "SlugField"
	SmallIntegerField    FieldType = "SmallIntegerField"
	TextField            FieldType = "TextField"
	TimeField            FieldType = "TimeField"
	URLField             FieldType = "URLField"
)

// internalTypes maps each field type to its underlying storage class. Two
// field types whose storage class matches (for example EmailField and
// CharField) can be swapped without a column type change.
var internalTypes = map[FieldType]string{
	AutoField:            "serial",
	BigIntegerField:      "bigint",
	BooleanField:         "boolean",
	CharField:            "varchar",
	DateField:            "date",
	DateTimeField:        "timestamp",
	DecimalField:         "numeric",
	EmailField:           "varchar",
	FloatField:           "double precision",
	ForeignKey:           "foreign key",
	IntegerField:         "integer",
	ManyToManyField:      "many to many",
	OneToOneField:        "one to one",
	PositiveIntegerField: "integer",
	SlugField:            "varchar",
	SmallIntegerField:    "smallint",
	TextField:            "text",
	TimeField:            "time",
	URLField:             "varchar",
}

// Known reports whether the field type is part of the supported vocabulary.
func (t FieldType) Known() bool {
	_, ok := internalTypes[t]
	return ok
}

// IsRelation reports whether the field type references another model.
func (t FieldType) IsRelation() bool {
	switch t {
	case ForeignKey, ManyToManyField, OneToOneField:
		return true
	}
	return false
}

// StorageChanged reports whether switching between two field types changes
// the underlying column storage. Unknown types always report a change.
func StorageChanged(oldType, newType FieldType) bool {
	if oldType == newType {
		return false
	}

	oldInternal, oldOK := internalTypes[oldType]
	newInternal, newOK := internalTypes[newType]

	if !oldOK || !newOK {
		// We can't resolve the storage class, so assume it changed.
		return true
	}

	return oldInternal != newInternal
}

// attributeDefaults holds the default value for each schema-relevant field
// attribute. Lookups check the field-type-specific table first, then the
// global "*" table. Only attributes differing from these defaults are kept
// in a field signature.
var attributeDefaults = map[FieldType]map[string]any{
	"*": {
		"primary_key":   false,
		"max_length":    nil,
		"unique":        false,
		"null":          false,
		"db_index":      false,
		"db_column":     nil,
		"db_tablespace": "",
	},
	DecimalField: {
		"max_digits":     nil,
		"decimal_places": nil,
	},
	ForeignKey: {
		"db_index": true,
	},
	ManyToManyField: {
		"db_table": nil,
	},
	OneToOneField: {
		"db_index": true,
	},
}

// attributeAliases redirects historical attribute names found in stored
// signatures to their current names, keeping the wire format stable.
var attributeAliases = map[string]string{
	"rel":     "related_model",
	"_unique": "unique",
}

// AttrDefault returns the default value for an attribute of the given field
// type, consulting the type-specific table before the global one.
func AttrDefault(fieldType FieldType, attrName string) any {
	if defaults, ok := attributeDefaults[fieldType]; ok {
		if value, ok := defaults[attrName]; ok {
			return value
		}
	}

	return attributeDefaults["*"][attrName]
}
