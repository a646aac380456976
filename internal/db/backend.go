package db

import (
	"fmt"
	"sort"
	"sync"

	"github.com/reloquent/evolve/internal/signature"
)

// EvolutionOperations renders scheduled schema operations into SQL for one
// database dialect.
type EvolutionOperations interface {
	// Name returns the dialect identifier, e.g. "postgres".
	Name() string

	// QuoteName quotes a table, column or index identifier.
	QuoteName(name string) string

	// ColumnType returns the column type definition for a field.
	ColumnType(fieldSig *signature.FieldSignature) (string, error)

	// TableOpsSQL renders the operations scheduled against one model's
	// table. Adjacent column operations are merged into a single ALTER
	// TABLE statement where the dialect allows it.
	TableOpsSQL(modelSig *signature.ModelSignature, ops []*Op) ([]string, error)

	// RenameTableSQL renames a table.
	RenameTableSQL(oldName, newName string) []string

	// DeleteTableSQL drops a table.
	DeleteTableSQL(tableName string) []string

	// AddM2MTableSQL creates the join table backing a many-to-many field.
	AddM2MTableSQL(modelSig *signature.ModelSignature,
		fieldSig *signature.FieldSignature) ([]string, error)

	// M2MTableName returns the join table name for a many-to-many field.
	M2MTableName(modelSig *signature.ModelSignature,
		fieldSig *signature.FieldSignature) string

	// SupportsChangeAttr reports whether the dialect can change the given
	// field attribute in place.
	SupportsChangeAttr(attrName string) bool

	// SupportsChangeMeta reports whether the dialect can change the given
	// model meta property.
	SupportsChangeMeta(prop string) bool

	// SessionSetupSQL and SessionTeardownSQL bracket the execution of a
	// batch of evolution statements. Dialects that enforce foreign keys
	// eagerly use them to relax constraint checking for the duration of
	// the batch; dialects with deferrable constraints return nothing.
	SessionSetupSQL() []string
	SessionTeardownSQL() []string
}

var (
	registryMu sync.RWMutex
	registry   = map[string]EvolutionOperations{}
)

// Register makes a dialect's operations available to Ops. It panics when the
// dialect is already registered, which indicates conflicting init functions.
func Register(ops EvolutionOperations) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, dup := registry[ops.Name()]; dup {
		panic(fmt.Sprintf("db: dialect %q registered twice", ops.Name()))
	}

	registry[ops.Name()] = ops
}

// Ops returns the operations for a dialect.
func Ops(dialect string) (EvolutionOperations, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if ops, ok := registry[dialect]; ok {
		return ops, nil
	}

	return nil, fmt.Errorf("unsupported database dialect %q (supported: %v)",
		dialect, dialectNames())
}

// Dialects returns the registered dialect names, sorted.
func Dialects() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	return dialectNames()
}

func dialectNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}
