package mutations

import (
	"errors"
	"fmt"

	"github.com/reloquent/evolve/internal/db"
	"github.com/reloquent/evolve/internal/signature"
)

// Simulation tracks the evolving schema state for one application while
// mutations are applied. The project signature is mutated in place as each
// mutation simulates its effects.
type Simulation struct {
	AppLabel   string
	ProjectSig *signature.ProjectSignature
	Database   string
	Ops        db.EvolutionOperations
}

// Clone returns a simulation with an independent copy of the project
// signature, for dry runs that must not disturb the live state.
func (s *Simulation) Clone() *Simulation {
	return &Simulation{
		AppLabel:   s.AppLabel,
		ProjectSig: s.ProjectSig.Clone(),
		Database:   s.Database,
		Ops:        s.Ops,
	}
}

// AppSig returns the simulated application signature, translating a missing
// signature into a simulation failure.
func (s *Simulation) AppSig() (*signature.AppSignature, error) {
	appSig, err := s.ProjectSig.AppSigRequired(s.AppLabel)
	if err != nil {
		return nil, &SimulationError{msg: err.Error()}
	}

	return appSig, nil
}

// ModelSig returns a simulated model signature.
func (s *Simulation) ModelSig(modelName string) (*signature.ModelSignature, error) {
	appSig, err := s.AppSig()
	if err != nil {
		return nil, err
	}

	modelSig, err := appSig.ModelSigRequired(modelName)
	if err != nil {
		return nil, &SimulationError{msg: err.Error()}
	}

	return modelSig, nil
}

// FieldSig returns a simulated field signature.
func (s *Simulation) FieldSig(modelName, fieldName string) (*signature.FieldSignature, error) {
	modelSig, err := s.ModelSig(modelName)
	if err != nil {
		return nil, err
	}

	fieldSig, err := modelSig.FieldSigRequired(fieldName)
	if err != nil {
		return nil, &SimulationError{msg: err.Error()}
	}

	return fieldSig, nil
}

// AppMutator collects the schema operations scheduled by an application's
// mutations and renders them to SQL. Operations against the same model are
// batched while they stay adjacent, letting the backend merge them into
// fewer statements.
type AppMutator struct {
	AppLabel   string
	ProjectSig *signature.ProjectSignature
	Database   string
	Ops        db.EvolutionOperations

	segments    []segment
	canSimulate bool
}

type segment interface {
	SQL() ([]string, error)
}

type sqlSegment struct {
	statements []string
}

func (s *sqlSegment) SQL() ([]string, error) {
	return s.statements, nil
}

// NewAppMutator returns a mutator for one application. The project signature
// reflects the schema state before any queued mutation runs.
func NewAppMutator(appLabel string, projectSig *signature.ProjectSignature,
	database string, ops db.EvolutionOperations) *AppMutator {
	return &AppMutator{
		AppLabel:    appLabel,
		ProjectSig:  projectSig,
		Database:    database,
		Ops:         ops,
		canSimulate: true,
	}
}

// ModelMutator returns the mutator for a model, reusing the current one when
// the previous operation targeted the same model so adjacent column changes
// merge into one statement.
func (a *AppMutator) ModelMutator(modelName string) (*ModelMutator, error) {
	if len(a.segments) > 0 {
		if mm, ok := a.segments[len(a.segments)-1].(*ModelMutator); ok &&
			mm.ModelName == modelName {
			return mm, nil
		}
	}

	appSig, err := a.ProjectSig.AppSigRequired(a.AppLabel)
	if err != nil {
		return nil, err
	}

	modelSig, err := appSig.ModelSigRequired(modelName)
	if err != nil {
		return nil, err
	}

	mm := &ModelMutator{
		ModelName: modelName,
		// SQL renders against the schema as it stands before this batch.
		modelSig: modelSig.Clone(),
		ops:      a.Ops,
	}

	a.segments = append(a.segments, mm)
	return mm, nil
}

// AddSQL schedules raw SQL statements at the current position.
func (a *AppMutator) AddSQL(statements []string) {
	a.segments = append(a.segments, &sqlSegment{statements: statements})
}

// RunMutation schedules a mutation's SQL and then simulates its effects on
// the signature. A mutation that cannot be simulated still runs, but the
// mutator stops vouching for the resulting signature.
func (a *AppMutator) RunMutation(mutation Mutation, sim *Simulation) error {
	if err := mutation.Mutate(a); err != nil {
		return err
	}

	if err := mutation.Simulate(sim); err != nil {
		var cannotSim *CannotSimulateError
		if errors.As(err, &cannotSim) {
			a.canSimulate = false
			return nil
		}

		return err
	}

	return nil
}

// RunMutations runs a batch of mutations in order.
func (a *AppMutator) RunMutations(mutations []Mutation, sim *Simulation) error {
	for _, mutation := range mutations {
		if err := a.RunMutation(mutation, sim); err != nil {
			return fmt.Errorf("applying %s: %w", mutation.Hint(), err)
		}
	}

	return nil
}

// CanSimulate reports whether every mutation run so far could be simulated.
func (a *AppMutator) CanSimulate() bool {
	return a.canSimulate
}

// SQL renders all scheduled operations in order.
func (a *AppMutator) SQL() ([]string, error) {
	var statements []string

	for _, seg := range a.segments {
		sql, err := seg.SQL()
		if err != nil {
			return nil, err
		}

		statements = append(statements, sql...)
	}

	return statements, nil
}

// ModelMutator batches schema operations against one model's table.
type ModelMutator struct {
	ModelName string

	modelSig *signature.ModelSignature
	ops      db.EvolutionOperations
	queued   []*db.Op
}

// AddColumn schedules adding a column for the given field.
func (m *ModelMutator) AddColumn(fieldSig *signature.FieldSignature,
	initial any, refTable, refColumn string) {
	m.queued = append(m.queued, &db.Op{
		Type:      db.OpAddColumn,
		Field:     fieldSig,
		Initial:   initial,
		RefTable:  refTable,
		RefColumn: refColumn,
	})
}

// ChangeColumn schedules in-place attribute changes on a column.
func (m *ModelMutator) ChangeColumn(fieldSig *signature.FieldSignature,
	attrs map[string]db.AttrChange, initial any) {
	m.queued = append(m.queued, &db.Op{
		Type:     db.OpChangeColumn,
		Field:    fieldSig,
		NewAttrs: attrs,
		Initial:  initial,
	})
}

// DeleteColumn schedules dropping a column.
func (m *ModelMutator) DeleteColumn(fieldSig *signature.FieldSignature) {
	m.queued = append(m.queued, &db.Op{
		Type:  db.OpDeleteColumn,
		Field: fieldSig,
	})
}

// ChangeMeta schedules a model meta property transition.
func (m *ModelMutator) ChangeMeta(prop string, oldValue, newValue any) {
	m.queued = append(m.queued, &db.Op{
		Type:     db.OpChangeMeta,
		Prop:     prop,
		OldValue: oldValue,
		NewValue: newValue,
	})
}

// AddSQL schedules raw SQL within this model's batch.
func (m *ModelMutator) AddSQL(statements []string) {
	m.queued = append(m.queued, &db.Op{
		Type: db.OpSQL,
		SQL:  statements,
	})
}

// SQL renders the batched operations for this model.
func (m *ModelMutator) SQL() ([]string, error) {
	return m.ops.TableOpsSQL(m.modelSig, m.queued)
}
