// Package db generates dialect-specific DDL from backend-neutral schema
// operations. Each supported dialect registers an EvolutionOperations
// implementation that renders scheduled operations into SQL statements.
package db

import (
	"github.com/reloquent/evolve/internal/signature"
)

// OpType discriminates the schema operations a mutation can schedule.
type OpType int

const (
	// OpAddColumn adds a column described by Field, optionally populated
	// from Initial.
	OpAddColumn OpType = iota

	// OpChangeColumn alters attributes of the column described by Field.
	// NewAttrs holds the attribute transitions to apply.
	OpChangeColumn

	// OpDeleteColumn drops the column described by Field.
	OpDeleteColumn

	// OpChangeMeta changes a model-level property such as unique_together.
	OpChangeMeta

	// OpSQL injects raw SQL statements verbatim.
	OpSQL
)

// AttrChange records one attribute transition on a changed column.
type AttrChange struct {
	Old any
	New any
}

// Op is one scheduled schema operation against a single model's table.
type Op struct {
	Type  OpType
	Field *signature.FieldSignature

	// Initial is the value used to populate existing rows when adding a
	// non-null column, or when tightening a column to non-null.
	Initial any

	// NewAttrs maps attribute names to their transitions for
	// OpChangeColumn.
	NewAttrs map[string]AttrChange

	// Prop, OldValue and NewValue describe an OpChangeMeta transition.
	Prop     string
	OldValue any
	NewValue any

	// RefTable and RefColumn identify the referenced table and column for
	// relation columns.
	RefTable  string
	RefColumn string

	// SQL holds the statements for OpSQL.
	SQL []string
}
