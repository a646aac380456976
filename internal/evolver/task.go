package evolver

import (
	"context"
	"fmt"

	"github.com/reloquent/evolve/internal/mutations"
	"github.com/reloquent/evolve/internal/storage"
)

// Task is one unit of schema work queued on an evolver. Tasks move through
// three states: queued, prepared (SQL computed, signature simulated) and
// executed.
type Task interface {
	// ID uniquely identifies the task within one evolver.
	ID() string

	// Prepare computes the task's SQL and simulates its signature
	// effects.
	Prepare(ctx context.Context) error

	// Execute runs the task's SQL on the given connection or transaction.
	Execute(ctx context.Context, q storage.Querier) error

	// EvolutionRequired reports whether the task has any work to do.
	EvolutionRequired() bool

	// CanSimulate reports whether every mutation's signature effects
	// could be simulated.
	CanSimulate() bool

	// SQL returns the prepared statements.
	SQL() []string

	// NewEvolutions returns the ledger rows to record once the task's
	// SQL has been applied.
	NewEvolutions() []storage.AppliedEvolution

	// Description renders a one-line summary for logs and dry runs.
	Description() string
}

// EvolveAppTask applies the outstanding evolutions for one application.
// With no explicit labels, the catalog's unapplied sequence is used; in
// hinted mode the mutations are derived from the signature diff instead.
type EvolveAppTask struct {
	AppLabel string

	// Labels optionally pins the evolution labels to apply instead of
	// everything unapplied.
	Labels []string

	evolver *Evolver

	prepared          bool
	evolutionRequired bool
	canSimulate       bool
	mutations         []mutations.Mutation
	sql               []string
	newEvolutions     []storage.AppliedEvolution
}

func (t *EvolveAppTask) ID() string {
	return "evolve-app:" + t.AppLabel
}

func (t *EvolveAppTask) Description() string {
	return fmt.Sprintf("evolve application %q", t.AppLabel)
}

func (t *EvolveAppTask) Prepare(ctx context.Context) error {
	pending, labels, err := t.pendingMutations(ctx)
	if err != nil {
		return err
	}

	pending = t.evolver.filterMutations(t.AppLabel, pending)
	t.prepared = true
	t.canSimulate = true

	if len(pending) == 0 {
		return nil
	}

	mutator, sim := t.evolver.newMutator(t.AppLabel)

	if err := mutator.RunMutations(pending, sim); err != nil {
		return &ExecutionError{
			AppLabel: t.AppLabel,
			Detail:   err.Error(),
			Err:      err,
		}
	}

	sql, err := mutator.SQL()
	if err != nil {
		return &ExecutionError{
			AppLabel: t.AppLabel,
			Detail:   err.Error(),
			Err:      err,
		}
	}

	t.mutations = pending
	t.sql = sql
	t.canSimulate = mutator.CanSimulate()
	t.evolutionRequired = true

	for _, label := range labels {
		t.newEvolutions = append(t.newEvolutions, storage.AppliedEvolution{
			AppLabel: t.AppLabel,
			Label:    label,
		})
	}

	return nil
}

// pendingMutations resolves the mutations this task should run, plus the
// evolution labels to record in the ledger.
func (t *EvolveAppTask) pendingMutations(ctx context.Context) (
	[]mutations.Mutation, []string, error) {
	e := t.evolver

	if e.opts.Hinted {
		// Hinted evolutions have no catalog labels to record.
		return e.hintedMutations()[t.AppLabel], nil, nil
	}

	labels := t.Labels

	if labels == nil {
		sequence, err := e.opts.Catalog.Sequence(t.AppLabel)
		if err != nil {
			return nil, nil, err
		}

		applied := e.appliedLabels[t.AppLabel]
		appliedSet := make(map[string]bool, len(applied))
		for _, label := range applied {
			appliedSet[label] = true
		}

		for _, label := range sequence {
			if !appliedSet[label] {
				labels = append(labels, label)
			}
		}
	}

	var pending []mutations.Mutation

	for _, label := range labels {
		loaded, err := e.opts.Catalog.Mutations(t.AppLabel, label,
			e.opts.Database)
		if err != nil {
			return nil, nil, err
		}

		pending = append(pending, loaded...)
	}

	return pending, labels, nil
}

func (t *EvolveAppTask) Execute(ctx context.Context, q storage.Querier) error {
	return executeSQL(ctx, q, t.AppLabel, t.sql)
}

func (t *EvolveAppTask) EvolutionRequired() bool {
	return t.evolutionRequired
}

func (t *EvolveAppTask) CanSimulate() bool {
	return t.canSimulate
}

func (t *EvolveAppTask) SQL() []string {
	return t.sql
}

func (t *EvolveAppTask) NewEvolutions() []storage.AppliedEvolution {
	return t.newEvolutions
}

// Mutations returns the prepared mutations, for rendering evolution files.
func (t *EvolveAppTask) Mutations() []mutations.Mutation {
	return t.mutations
}

// EvolutionContent renders the prepared mutations as an evolution file.
func (t *EvolveAppTask) EvolutionContent() string {
	return EvolutionContent(t.mutations)
}

// PurgeAppTask removes every table of an application that is still present
// in the stored signature but no longer defined by any model file.
type PurgeAppTask struct {
	AppLabel string

	evolver *Evolver

	evolutionRequired bool
	canSimulate       bool
	sql               []string
}

func (t *PurgeAppTask) ID() string {
	return "purge-app:" + t.AppLabel
}

func (t *PurgeAppTask) Description() string {
	return fmt.Sprintf("purge application %q", t.AppLabel)
}

func (t *PurgeAppTask) Prepare(ctx context.Context) error {
	t.canSimulate = true

	if t.evolver.projectSig.AppSig(t.AppLabel) == nil {
		return nil
	}

	mutator, sim := t.evolver.newMutator(t.AppLabel)

	if err := mutator.RunMutation(&mutations.DeleteApplication{}, sim); err != nil {
		return &ExecutionError{
			AppLabel: t.AppLabel,
			Detail:   err.Error(),
			Err:      err,
		}
	}

	sql, err := mutator.SQL()
	if err != nil {
		return &ExecutionError{
			AppLabel: t.AppLabel,
			Detail:   err.Error(),
			Err:      err,
		}
	}

	t.sql = sql
	t.canSimulate = mutator.CanSimulate()
	t.evolutionRequired = len(sql) > 0

	return nil
}

func (t *PurgeAppTask) Execute(ctx context.Context, q storage.Querier) error {
	return executeSQL(ctx, q, t.AppLabel, t.sql)
}

func (t *PurgeAppTask) EvolutionRequired() bool {
	return t.evolutionRequired
}

func (t *PurgeAppTask) CanSimulate() bool {
	return t.canSimulate
}

func (t *PurgeAppTask) SQL() []string {
	return t.sql
}

func (t *PurgeAppTask) NewEvolutions() []storage.AppliedEvolution {
	return nil
}

func executeSQL(ctx context.Context, q storage.Querier, appLabel string,
	statements []string) error {
	for _, stmt := range statements {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return &ExecutionError{
				AppLabel: appLabel,
				Detail:   err.Error(),
				LastSQL:  stmt,
				Err:      err,
			}
		}
	}

	return nil
}
