// Package evolver coordinates schema evolutions: it loads the stored
// signature, queues per-application tasks, prepares their SQL against a
// simulated signature, and applies everything in one transaction together
// with the new version record.
package evolver

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/reloquent/evolve/internal/catalog"
	"github.com/reloquent/evolve/internal/db"
	"github.com/reloquent/evolve/internal/mutations"
	"github.com/reloquent/evolve/internal/signature"
	"github.com/reloquent/evolve/internal/storage"
)

// Options configures an evolver.
type Options struct {
	// Database names the configured database being evolved, used to pick
	// database-specific evolution files.
	Database string

	// Dialect selects the SQL generator, e.g. "postgres".
	Dialect string

	// DB is the live connection. It may be nil when StoredSig is set and
	// no SQL will be executed.
	DB *sql.DB

	// Store reads and writes the version ledger. Built from Dialect when
	// nil.
	Store *storage.Store

	// Catalog locates evolution files. Required unless Hinted is set.
	Catalog *catalog.Catalog

	// TargetSig is the schema the model definitions describe.
	TargetSig *signature.ProjectSignature

	// StoredSig overrides the signature loaded from the database,
	// for dry runs without a connection.
	StoredSig *signature.ProjectSignature

	// Hinted derives mutations from the signature diff instead of the
	// catalog.
	Hinted bool

	Logger *slog.Logger
}

// TaskEvent describes a task being applied, for progress callbacks.
type TaskEvent struct {
	Task Task
	SQL  []string
}

// Evolver queues and applies evolution tasks. An evolver is single-use:
// once Evolve has run, a new one must be created for further work.
type Evolver struct {
	opts   Options
	ops    db.EvolutionOperations
	logger *slog.Logger

	version       *storage.Version
	initialSig    *signature.ProjectSignature
	projectSig    *signature.ProjectSignature
	initialDiff   *signature.Diff
	appliedLabels map[string][]string

	tasks    []Task
	taskIDs  map[string]bool
	prepared bool
	executed bool
	hinted   map[string][]mutations.Mutation

	// OnApplying and OnApplied, when set, are called around each task
	// that performs work.
	OnApplying func(TaskEvent)
	OnApplied  func(TaskEvent)
}

// New builds an evolver, loading the stored signature and applied
// evolution labels. storage.ErrNoVersions is returned unwrapped when no
// baseline has been installed yet.
func New(ctx context.Context, opts Options) (*Evolver, error) {
	if opts.TargetSig == nil {
		return nil, fmt.Errorf("evolver requires a target signature")
	}

	if opts.Database == "" {
		opts.Database = "default"
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ops, err := db.Ops(opts.Dialect)
	if err != nil {
		return nil, err
	}

	if opts.Store == nil {
		store, err := storage.NewStore(opts.Dialect)
		if err != nil {
			return nil, err
		}
		opts.Store = store
	}

	if !opts.Hinted && opts.Catalog == nil {
		return nil, fmt.Errorf("evolver requires an evolution catalog")
	}

	e := &Evolver{
		opts:          opts,
		ops:           ops,
		logger:        opts.Logger,
		taskIDs:       map[string]bool{},
		appliedLabels: map[string][]string{},
	}

	if opts.StoredSig != nil {
		e.projectSig = opts.StoredSig.Clone()
	} else {
		if opts.DB == nil {
			return nil, fmt.Errorf("evolver requires a database connection " +
				"or a stored signature")
		}

		if err := opts.Store.EnsureSchema(ctx, opts.DB); err != nil {
			return nil, err
		}

		version, err := opts.Store.LatestVersion(ctx, opts.DB)
		if err != nil {
			return nil, err
		}

		applied, err := opts.Store.AppliedEvolutions(ctx, opts.DB)
		if err != nil {
			return nil, err
		}

		e.version = version
		e.projectSig = version.Signature
		e.appliedLabels = applied
	}

	e.initialSig = e.projectSig.Clone()
	e.initialDiff = opts.TargetSig.Diff(e.projectSig)

	return e, nil
}

// InstallBaseline stores the target signature as the first schema version,
// without generating any DDL. The live schema is assumed to already match.
func InstallBaseline(ctx context.Context, opts Options) (int64, error) {
	if opts.TargetSig == nil {
		return 0, fmt.Errorf("baseline requires a target signature")
	}

	if opts.DB == nil {
		return 0, fmt.Errorf("baseline requires a database connection")
	}

	if opts.Store == nil {
		store, err := storage.NewStore(opts.Dialect)
		if err != nil {
			return 0, err
		}
		opts.Store = store
	}

	if err := opts.Store.EnsureSchema(ctx, opts.DB); err != nil {
		return 0, err
	}

	return opts.Store.CreateVersion(ctx, opts.DB, opts.TargetSig)
}

// Diff returns the difference between the target and stored signatures as
// loaded at construction time.
func (e *Evolver) Diff() *signature.Diff {
	return e.initialDiff
}

// Tasks returns the queued tasks in queue order.
func (e *Evolver) Tasks() []Task {
	return e.tasks
}

// QueueEvolveApp queues evolving one application.
func (e *Evolver) QueueEvolveApp(appLabel string) error {
	return e.queue(&EvolveAppTask{AppLabel: appLabel, evolver: e})
}

// QueuePurgeApp queues removing an application's tables.
func (e *Evolver) QueuePurgeApp(appLabel string) error {
	return e.queue(&PurgeAppTask{AppLabel: appLabel, evolver: e})
}

// QueueEvolveAll queues every application the target signature defines,
// then purges for stored applications the target no longer has.
func (e *Evolver) QueueEvolveAll() error {
	for _, appSig := range e.opts.TargetSig.AppSigs() {
		if err := e.QueueEvolveApp(appSig.AppID); err != nil {
			return err
		}
	}

	for _, appSig := range e.initialSig.AppSigs() {
		if e.opts.TargetSig.AppSig(appSig.AppID) == nil {
			if err := e.QueuePurgeApp(appSig.AppID); err != nil {
				return err
			}
		}
	}

	return nil
}

func (e *Evolver) queue(task Task) error {
	if e.prepared || e.executed {
		return &QueueTaskError{
			msg: fmt.Sprintf("cannot queue %q: the evolver has already "+
				"prepared its tasks", task.ID()),
		}
	}

	if e.taskIDs[task.ID()] {
		return &TaskAlreadyQueuedError{TaskID: task.ID()}
	}

	e.taskIDs[task.ID()] = true
	e.tasks = append(e.tasks, task)

	return nil
}

// Prepare computes SQL for every queued task, simulating each task's
// effects so later tasks see earlier tasks' state.
func (e *Evolver) Prepare(ctx context.Context) error {
	if e.prepared {
		return nil
	}

	for _, task := range e.tasks {
		if err := task.Prepare(ctx); err != nil {
			return err
		}
	}

	e.prepared = true
	return nil
}

// EvolutionRequired reports whether any prepared task has work to do.
func (e *Evolver) EvolutionRequired() bool {
	for _, task := range e.tasks {
		if task.EvolutionRequired() {
			return true
		}
	}

	return false
}

// CanSimulate reports whether the post-evolution signature is trustworthy:
// every task with work to do must have simulated cleanly.
func (e *Evolver) CanSimulate() bool {
	for _, task := range e.tasks {
		if task.EvolutionRequired() && !task.CanSimulate() {
			return false
		}
	}

	return true
}

// Evolve prepares (if needed) and applies all queued tasks in a single
// transaction, along with the new version record and evolution ledger
// rows. Either everything lands or nothing does. The new version ID is
// returned, or zero when there was nothing to apply.
func (e *Evolver) Evolve(ctx context.Context) (int64, error) {
	if e.executed {
		return 0, fmt.Errorf("an evolver can only evolve once")
	}

	if err := e.Prepare(ctx); err != nil {
		return 0, err
	}

	e.executed = true

	if !e.EvolutionRequired() {
		return 0, nil
	}

	if e.opts.DB == nil {
		return 0, fmt.Errorf("cannot evolve without a database connection")
	}

	tx, err := e.opts.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting evolution transaction: %w", err)
	}

	versionID, err := e.ExecuteTasks(ctx, tx)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			e.logger.Error("rollback failed", "error", rbErr)
		}

		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing evolution transaction: %w", err)
	}

	return versionID, nil
}

// ExecuteTasks runs every prepared task's SQL on the given connection or
// transaction, then records the new schema version and its evolutions.
func (e *Evolver) ExecuteTasks(ctx context.Context, q storage.Querier) (
	int64, error) {
	var applied []storage.AppliedEvolution

	for _, stmt := range e.ops.SessionSetupSQL() {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("preparing evolution session: %w", err)
		}
	}

	for _, task := range e.tasks {
		if !task.EvolutionRequired() {
			continue
		}

		event := TaskEvent{Task: task, SQL: task.SQL()}

		if e.OnApplying != nil {
			e.OnApplying(event)
		}

		e.logger.Info("applying schema changes",
			"task", task.ID(),
			"statements", len(task.SQL()))

		if err := task.Execute(ctx, q); err != nil {
			return 0, err
		}

		if e.OnApplied != nil {
			e.OnApplied(event)
		}

		applied = append(applied, task.NewEvolutions()...)
	}

	for _, stmt := range e.ops.SessionTeardownSQL() {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("restoring evolution session: %w", err)
		}
	}

	versionID, err := e.opts.Store.CreateVersion(ctx, q, e.projectSig)
	if err != nil {
		return 0, err
	}

	if err := e.opts.Store.BulkInsertEvolutions(ctx, q, versionID,
		applied); err != nil {
		return 0, err
	}

	return versionID, nil
}

// newMutator builds the mutator and simulation pair for one application,
// both sharing the evolver's working signature.
func (e *Evolver) newMutator(appLabel string) (*mutations.AppMutator,
	*mutations.Simulation) {
	mutator := mutations.NewAppMutator(appLabel, e.projectSig,
		e.opts.Database, e.ops)

	sim := &mutations.Simulation{
		AppLabel:   appLabel,
		ProjectSig: e.projectSig,
		Database:   e.opts.Database,
		Ops:        e.ops,
	}

	return mutator, sim
}

// filterMutations keeps only mutations whose target model actually changed
// between the stored and target signatures. Mutations for unchanged models
// are already reflected in the stored state (a fresh baseline captures the
// full evolution history), and models absent from the stored signature are
// new, so their tables will be created in final form and need no evolution.
// Model renames are always kept since they are the mechanism by which a
// "missing" model gets its new name; a rename of a stored model also marks
// the new name as changed so later mutations in the sequence survive.
func (e *Evolver) filterMutations(appLabel string,
	pending []mutations.Mutation) []mutations.Mutation {
	oldAppSig := e.initialSig.AppSig(appLabel)
	newAppSig := e.opts.TargetSig.AppSig(appLabel)

	changed := map[string]bool{}

	if oldAppSig != nil {
		for _, modelSig := range oldAppSig.ModelSigs() {
			var newModelSig *signature.ModelSignature
			if newAppSig != nil {
				newModelSig = newAppSig.ModelSig(modelSig.ModelName)
			}

			if newModelSig == nil || !modelSig.Equal(newModelSig) {
				changed[modelSig.ModelName] = true
			}
		}
	}

	var kept []mutations.Mutation

	for _, mutation := range pending {
		if rename, ok := mutation.(*mutations.RenameModel); ok {
			if oldAppSig != nil && oldAppSig.ModelSig(rename.OldName) != nil {
				changed[rename.NewName] = true
			}

			kept = append(kept, mutation)
			continue
		}

		if modelMutation, ok := mutation.(mutations.ModelMutation); ok {
			if !changed[modelMutation.TargetModel()] {
				continue
			}
		}

		kept = append(kept, mutation)
	}

	return kept
}

// hintedMutations lazily derives mutations from the initial diff.
func (e *Evolver) hintedMutations() map[string][]mutations.Mutation {
	if e.hinted == nil {
		e.hinted = mutations.HintedMutations(e.initialDiff, e.initialSig,
			e.opts.TargetSig)
	}

	return e.hinted
}
