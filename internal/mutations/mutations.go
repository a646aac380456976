// Package mutations defines the schema change vocabulary applied by
// evolutions. Each mutation knows how to render itself as a hint, simulate
// its effect on a project signature, and schedule the SQL that performs it.
package mutations

import (
	"errors"
	"fmt"
	"strings"

	"github.com/reloquent/evolve/internal/db"
	"github.com/reloquent/evolve/internal/signature"
)

// Mutation is one schema change within an evolution.
type Mutation interface {
	// Hint renders the mutation in hint syntax.
	Hint() string

	// Simulate applies the mutation's effects to the simulated signature.
	Simulate(sim *Simulation) error

	// Mutate schedules the mutation's SQL on the mutator.
	Mutate(mutator *AppMutator) error

	// IsMutable reports whether the mutation can apply to the given
	// schema state without disturbing it.
	IsMutable(sim *Simulation) bool
}

// ModelMutation is implemented by mutations scoped to a single model. The
// evolver uses it to skip mutations targeting models introduced after the
// stored signature was written.
type ModelMutation interface {
	Mutation
	TargetModel() string
}

// isMutable dry-runs a mutation's simulation against a copy of the state.
// A mutation that cannot be simulated is still considered mutable.
func isMutable(m Mutation, sim *Simulation) bool {
	err := m.Simulate(sim.Clone())
	if err == nil {
		return true
	}

	var cannotSim *CannotSimulateError
	return errors.As(err, &cannotSim)
}

// AddField adds a new field to a model.
type AddField struct {
	Model        string
	Name         string
	FieldType    signature.FieldType
	Initial      any
	Attrs        map[string]any
	RelatedModel string
}

func (m *AddField) Hint() string {
	var keywords []hintArg
	if m.Initial != nil {
		keywords = append(keywords, hintArg{Name: "initial", Value: m.Initial})
	}

	keywords = append(keywords, sortedAttrArgs(m.hintAttrs())...)

	return hintCall("AddField",
		[]any{m.Model, m.Name, m.FieldType}, keywords)
}

func (m *AddField) hintAttrs() map[string]any {
	attrs := make(map[string]any, len(m.Attrs)+1)
	for name, value := range m.Attrs {
		attrs[name] = value
	}

	if m.RelatedModel != "" {
		attrs["related_model"] = m.RelatedModel
	}

	return attrs
}

func (m *AddField) fieldSig() *signature.FieldSignature {
	fieldSig := signature.NewFieldSignature(m.Name, m.FieldType)
	fieldSig.RelatedModel = m.RelatedModel

	for name, value := range m.Attrs {
		fieldSig.SetAttr(name, value)
	}

	if relationUsesColumn(m.FieldType) && !fieldSig.HasAttr("db_column") {
		fieldSig.SetAttr("db_column", m.Name+"_id")
	}

	return fieldSig
}

func (m *AddField) TargetModel() string {
	return m.Model
}

func (m *AddField) Simulate(sim *Simulation) error {
	modelSig, err := sim.ModelSig(m.Model)
	if err != nil {
		return err
	}

	if modelSig.FieldSig(m.Name) != nil {
		return simulationErrorf("the model %s.%s already has a field named %q",
			sim.AppLabel, m.Model, m.Name)
	}

	fieldSig := m.fieldSig()

	if m.FieldType != signature.ManyToManyField &&
		!fieldSig.BoolAttr("null") && m.Initial == nil {
		return simulationErrorf("cannot add the non-null field %q to model "+
			"%s.%s without an initial value", m.Name, sim.AppLabel, m.Model)
	}

	modelSig.AddFieldSig(fieldSig)
	return nil
}

func (m *AddField) Mutate(mutator *AppMutator) error {
	initial, err := usableInitial(m.Initial, m.Name)
	if err != nil {
		return err
	}

	mm, err := mutator.ModelMutator(m.Model)
	if err != nil {
		return err
	}

	fieldSig := m.fieldSig()

	var refTable, refColumn string
	if relationUsesColumn(m.FieldType) {
		refTable, refColumn = relatedTarget(mutator.ProjectSig,
			fieldSig.RelatedModel)
	}

	mm.AddColumn(fieldSig, initial, refTable, refColumn)
	return nil
}

func (m *AddField) IsMutable(sim *Simulation) bool {
	return isMutable(m, sim)
}

// DeleteField removes a field from a model.
type DeleteField struct {
	Model string
	Name  string
}

func (m *DeleteField) Hint() string {
	return hintCall("DeleteField", []any{m.Model, m.Name}, nil)
}

func (m *DeleteField) TargetModel() string {
	return m.Model
}

func (m *DeleteField) Simulate(sim *Simulation) error {
	modelSig, err := sim.ModelSig(m.Model)
	if err != nil {
		return err
	}

	fieldSig, err := modelSig.FieldSigRequired(m.Name)
	if err != nil {
		return &SimulationError{msg: err.Error()}
	}

	if fieldSig.BoolAttr("primary_key") {
		return simulationErrorf("cannot delete the primary key field %q "+
			"from model %s.%s", m.Name, sim.AppLabel, m.Model)
	}

	if err := modelSig.RemoveFieldSig(m.Name); err != nil {
		return &SimulationError{msg: err.Error()}
	}

	modelSig.UniqueTogether = stripFieldFromTogether(
		modelSig.UniqueTogether, m.Name)
	modelSig.IndexTogether = stripFieldFromTogether(
		modelSig.IndexTogether, m.Name)

	return nil
}

func (m *DeleteField) Mutate(mutator *AppMutator) error {
	fieldSig, modelSig, err := currentField(mutator, m.Model, m.Name)
	if err != nil {
		return err
	}

	if fieldSig.Type == signature.ManyToManyField {
		mutator.AddSQL(mutator.Ops.DeleteTableSQL(
			mutator.Ops.M2MTableName(modelSig, fieldSig)))
		return nil
	}

	mm, err := mutator.ModelMutator(m.Model)
	if err != nil {
		return err
	}

	mm.DeleteColumn(fieldSig)
	return nil
}

func (m *DeleteField) IsMutable(sim *Simulation) bool {
	return isMutable(m, sim)
}

// RenameField renames a field, optionally pinning the backing column or,
// for many-to-many fields, the join table.
type RenameField struct {
	Model    string
	OldName  string
	NewName  string
	DBColumn string
	DBTable  string
}

func (m *RenameField) Hint() string {
	var keywords []hintArg
	if m.DBColumn != "" {
		keywords = append(keywords, hintArg{Name: "db_column", Value: m.DBColumn})
	}
	if m.DBTable != "" {
		keywords = append(keywords, hintArg{Name: "db_table", Value: m.DBTable})
	}

	return hintCall("RenameField",
		[]any{m.Model, m.OldName, m.NewName}, keywords)
}

func (m *RenameField) TargetModel() string {
	return m.Model
}

func (m *RenameField) Simulate(sim *Simulation) error {
	modelSig, err := sim.ModelSig(m.Model)
	if err != nil {
		return err
	}

	fieldSig, err := modelSig.FieldSigRequired(m.OldName)
	if err != nil {
		return &SimulationError{msg: err.Error()}
	}

	fieldSig.FieldName = m.NewName

	if fieldSig.Type == signature.ManyToManyField {
		if m.DBTable != "" {
			fieldSig.SetAttr("db_table", m.DBTable)
		} else {
			fieldSig.UnsetAttr("db_table")
		}
	} else {
		if m.DBColumn != "" {
			fieldSig.SetAttr("db_column", m.DBColumn)
		} else {
			fieldSig.UnsetAttr("db_column")
		}
	}

	modelSig.UniqueTogether = renameFieldInTogether(
		modelSig.UniqueTogether, m.OldName, m.NewName)
	modelSig.IndexTogether = renameFieldInTogether(
		modelSig.IndexTogether, m.OldName, m.NewName)

	return nil
}

func (m *RenameField) Mutate(mutator *AppMutator) error {
	fieldSig, modelSig, err := currentField(mutator, m.Model, m.OldName)
	if err != nil {
		return err
	}

	if fieldSig.Type == signature.ManyToManyField {
		oldTable := mutator.Ops.M2MTableName(modelSig, fieldSig)

		newTable := m.DBTable
		if newTable == "" {
			newTable = modelSig.TableName + "_" + m.NewName
		}

		if oldTable != newTable {
			mutator.AddSQL(mutator.Ops.RenameTableSQL(oldTable, newTable))
		}

		return nil
	}

	oldColumn := fieldColumn(fieldSig, m.OldName)

	newColumn := m.DBColumn
	if newColumn == "" {
		newColumn = m.NewName
		if relationUsesColumn(fieldSig.Type) {
			newColumn += "_id"
		}
	}

	if oldColumn == newColumn {
		return nil
	}

	mm, err := mutator.ModelMutator(m.Model)
	if err != nil {
		return err
	}

	mm.ChangeColumn(fieldSig, map[string]db.AttrChange{
		"db_column": {Old: oldColumn, New: newColumn},
	}, nil)

	return nil
}

func (m *RenameField) IsMutable(sim *Simulation) bool {
	return isMutable(m, sim)
}

// ChangeField changes attributes of an existing field in place.
type ChangeField struct {
	Model   string
	Name    string
	Attrs   map[string]any
	Initial any
}

func (m *ChangeField) Hint() string {
	keywords := []hintArg{{Name: "initial", Value: m.Initial}}
	keywords = append(keywords, sortedAttrArgs(m.Attrs)...)

	return hintCall("ChangeField", []any{m.Model, m.Name}, keywords)
}

func (m *ChangeField) TargetModel() string {
	return m.Model
}

func (m *ChangeField) Simulate(sim *Simulation) error {
	fieldSig, err := sim.FieldSig(m.Model, m.Name)
	if err != nil {
		return err
	}

	for name, value := range m.Attrs {
		if signature.ValuesEqual(fieldSig.Attr(name), value) {
			continue
		}

		if sim.Ops != nil && !sim.Ops.SupportsChangeAttr(name) {
			return notImplementedErrorf("the %s database does not support "+
				"changing the %q attribute of a field", sim.Ops.Name(), name)
		}

		fieldSig.SetAttr(name, value)
	}

	if fieldSig.Type != signature.ManyToManyField &&
		!fieldSig.BoolAttr("null") && hasFalseNull(m.Attrs) && m.Initial == nil {
		return simulationErrorf("cannot change the field %q on model %s.%s "+
			"to non-null without an initial value", m.Name, sim.AppLabel, m.Model)
	}

	return nil
}

func hasFalseNull(attrs map[string]any) bool {
	value, ok := attrs["null"]
	return ok && value == false
}

func (m *ChangeField) Mutate(mutator *AppMutator) error {
	initial, err := usableInitial(m.Initial, m.Name)
	if err != nil {
		return err
	}

	fieldSig, _, err := currentField(mutator, m.Model, m.Name)
	if err != nil {
		return err
	}

	newFieldSig := fieldSig.Clone()
	changes := map[string]db.AttrChange{}

	for name, value := range m.Attrs {
		oldValue := fieldSig.Attr(name)
		if signature.ValuesEqual(oldValue, value) {
			// Already in the requested state; nothing to emit.
			continue
		}

		newFieldSig.SetAttr(name, value)
		changes[name] = db.AttrChange{Old: oldValue, New: value}
	}

	if len(changes) == 0 {
		return nil
	}

	mm, err := mutator.ModelMutator(m.Model)
	if err != nil {
		return err
	}

	mm.ChangeColumn(newFieldSig, changes, initial)
	return nil
}

func (m *ChangeField) IsMutable(sim *Simulation) bool {
	return isMutable(m, sim)
}

// RenameModel renames a model and retargets its table.
type RenameModel struct {
	OldName string
	NewName string
	DBTable string
}

func (m *RenameModel) Hint() string {
	var keywords []hintArg
	if m.DBTable != "" {
		keywords = append(keywords, hintArg{Name: "db_table", Value: m.DBTable})
	}

	return hintCall("RenameModel", []any{m.OldName, m.NewName}, keywords)
}

func (m *RenameModel) TargetModel() string {
	return m.OldName
}

func (m *RenameModel) Simulate(sim *Simulation) error {
	appSig, err := sim.AppSig()
	if err != nil {
		return err
	}

	modelSig, err := appSig.ModelSigRequired(m.OldName)
	if err != nil {
		return &SimulationError{msg: err.Error()}
	}

	if err := appSig.RenameModelSig(m.OldName, m.NewName); err != nil {
		return &SimulationError{msg: err.Error()}
	}

	if m.DBTable != "" {
		modelSig.TableName = m.DBTable
	}

	// Relations anywhere in the project that pointed at the old name now
	// point at the new one.
	oldRef := sim.AppLabel + "." + m.OldName
	newRef := sim.AppLabel + "." + m.NewName

	for _, otherApp := range sim.ProjectSig.AppSigs() {
		for _, otherModel := range otherApp.ModelSigs() {
			for _, fieldSig := range otherModel.FieldSigs() {
				if fieldSig.RelatedModel == oldRef {
					fieldSig.RelatedModel = newRef
				}
			}
		}
	}

	return nil
}

func (m *RenameModel) Mutate(mutator *AppMutator) error {
	appSig, err := mutator.ProjectSig.AppSigRequired(mutator.AppLabel)
	if err != nil {
		return err
	}

	modelSig, err := appSig.ModelSigRequired(m.OldName)
	if err != nil {
		return err
	}

	if m.DBTable != "" && m.DBTable != modelSig.TableName {
		mutator.AddSQL(mutator.Ops.RenameTableSQL(modelSig.TableName, m.DBTable))
	}

	return nil
}

func (m *RenameModel) IsMutable(sim *Simulation) bool {
	return isMutable(m, sim)
}

// DeleteModel removes a model and its table.
type DeleteModel struct {
	Name string
}

func (m *DeleteModel) Hint() string {
	return hintCall("DeleteModel", []any{m.Name}, nil)
}

func (m *DeleteModel) TargetModel() string {
	return m.Name
}

func (m *DeleteModel) Simulate(sim *Simulation) error {
	appSig, err := sim.AppSig()
	if err != nil {
		return err
	}

	if err := appSig.RemoveModelSig(m.Name); err != nil {
		return &SimulationError{msg: err.Error()}
	}

	return nil
}

func (m *DeleteModel) Mutate(mutator *AppMutator) error {
	appSig, err := mutator.ProjectSig.AppSigRequired(mutator.AppLabel)
	if err != nil {
		return err
	}

	modelSig, err := appSig.ModelSigRequired(m.Name)
	if err != nil {
		return err
	}

	scheduleModelDeletion(mutator, modelSig)
	return nil
}

func (m *DeleteModel) IsMutable(sim *Simulation) bool {
	return isMutable(m, sim)
}

// DeleteApplication removes every model the application still has in the
// stored signature. Missing applications are tolerated so that purges are
// idempotent.
type DeleteApplication struct{}

func (m *DeleteApplication) Hint() string {
	return hintCall("DeleteApplication", nil, nil)
}

func (m *DeleteApplication) Simulate(sim *Simulation) error {
	if sim.ProjectSig.AppSig(sim.AppLabel) == nil {
		return nil
	}

	if err := sim.ProjectSig.RemoveAppSig(sim.AppLabel); err != nil {
		return &SimulationError{msg: err.Error()}
	}

	return nil
}

func (m *DeleteApplication) Mutate(mutator *AppMutator) error {
	appSig := mutator.ProjectSig.AppSig(mutator.AppLabel)
	if appSig == nil {
		return nil
	}

	for _, modelSig := range appSig.ModelSigs() {
		scheduleModelDeletion(mutator, modelSig)
	}

	return nil
}

func (m *DeleteApplication) IsMutable(sim *Simulation) bool {
	return isMutable(m, sim)
}

// ChangeMeta changes a model-level meta property such as unique_together.
type ChangeMeta struct {
	Model string
	Prop  string
	Value any
}

func (m *ChangeMeta) Hint() string {
	return hintCall("ChangeMeta",
		[]any{m.Model, m.Prop, normalizeMetaValue(m.Prop, m.Value)}, nil)
}

func (m *ChangeMeta) TargetModel() string {
	return m.Model
}

func (m *ChangeMeta) Simulate(sim *Simulation) error {
	if sim.Ops != nil && !sim.Ops.SupportsChangeMeta(m.Prop) {
		return notImplementedErrorf("the %s database does not support "+
			"changing the %q meta property", sim.Ops.Name(), m.Prop)
	}

	modelSig, err := sim.ModelSig(m.Model)
	if err != nil {
		return err
	}

	switch m.Prop {
	case "unique_together":
		modelSig.UniqueTogether = signature.NormalizeTogether(m.Value)
		modelSig.MarkUniqueTogetherApplied()

	case "index_together":
		modelSig.IndexTogether = signature.NormalizeTogether(m.Value)

	case "indexes":
		indexes, err := asIndexSignatures(m.Value)
		if err != nil {
			return &SimulationError{msg: err.Error()}
		}
		modelSig.Indexes = indexes

	default:
		return notImplementedErrorf("changing the %q meta property is not "+
			"supported", m.Prop)
	}

	return nil
}

func (m *ChangeMeta) Mutate(mutator *AppMutator) error {
	appSig, err := mutator.ProjectSig.AppSigRequired(mutator.AppLabel)
	if err != nil {
		return err
	}

	modelSig, err := appSig.ModelSigRequired(m.Model)
	if err != nil {
		return err
	}

	var oldValue any
	switch m.Prop {
	case "unique_together":
		oldValue = modelSig.UniqueTogether
	case "index_together":
		oldValue = modelSig.IndexTogether
	case "indexes":
		oldValue = modelSig.Indexes
	}

	mm, err := mutator.ModelMutator(m.Model)
	if err != nil {
		return err
	}

	mm.ChangeMeta(m.Prop, oldValue, normalizeMetaValue(m.Prop, m.Value))
	return nil
}

func (m *ChangeMeta) IsMutable(sim *Simulation) bool {
	return isMutable(m, sim)
}

func normalizeMetaValue(prop string, value any) any {
	switch prop {
	case "unique_together", "index_together":
		return signature.NormalizeTogether(value)
	case "indexes":
		if indexes, err := asIndexSignatures(value); err == nil {
			return indexes
		}
	}

	return value
}

// SQLMutation applies hand-written SQL. Its effects on the signature are
// unknown unless a simulate callback is supplied, and it is never folded
// into neighboring operations.
type SQLMutation struct {
	Tag string
	SQL []string

	// SimulateFunc, when set, applies the SQL's schema effects to the
	// simulated signature.
	SimulateFunc func(sim *Simulation) error
}

func (m *SQLMutation) Hint() string {
	return hintCall("SQLMutation", []any{m.Tag}, nil)
}

func (m *SQLMutation) Simulate(sim *Simulation) error {
	if m.SimulateFunc == nil {
		return &CannotSimulateError{
			Reason: fmt.Sprintf("the SQL mutation %q provides no simulation "+
				"callback", m.Tag),
		}
	}

	return m.SimulateFunc(sim)
}

func (m *SQLMutation) Mutate(mutator *AppMutator) error {
	mutator.AddSQL(m.SQL)
	return nil
}

func (m *SQLMutation) IsMutable(sim *Simulation) bool {
	return true
}

// relationUsesColumn reports whether a relation field type is backed by a
// column on the model's own table.
func relationUsesColumn(fieldType signature.FieldType) bool {
	return fieldType == signature.ForeignKey ||
		fieldType == signature.OneToOneField
}

// usableInitial rejects placeholder initial values left over from an
// unedited hinted evolution.
func usableInitial(initial any, fieldName string) (any, error) {
	if _, ok := initial.(UserValuePlaceholder); ok {
		return nil, fmt.Errorf("the field %q requires a user-specified "+
			"initial value", fieldName)
	}

	return initial, nil
}

// currentField resolves a field against the pre-mutation project state.
func currentField(mutator *AppMutator, modelName, fieldName string) (
	*signature.FieldSignature, *signature.ModelSignature, error) {
	appSig, err := mutator.ProjectSig.AppSigRequired(mutator.AppLabel)
	if err != nil {
		return nil, nil, err
	}

	modelSig, err := appSig.ModelSigRequired(modelName)
	if err != nil {
		return nil, nil, err
	}

	fieldSig, err := modelSig.FieldSigRequired(fieldName)
	if err != nil {
		return nil, nil, err
	}

	return fieldSig, modelSig, nil
}

// relatedTarget resolves the table and primary key column behind a relation
// reference of the form "app.Model". Unresolvable references fall back to
// the conventional lowercase table name.
func relatedTarget(projectSig *signature.ProjectSignature, ref string) (
	table, pkColumn string) {
	appLabel, modelName, ok := strings.Cut(ref, ".")
	if !ok {
		return "", ""
	}

	if appSig := projectSig.AppSig(appLabel); appSig != nil {
		if modelSig := appSig.ModelSig(modelName); modelSig != nil {
			pkColumn := modelSig.PKColumn
			if pkColumn == "" {
				pkColumn = "id"
			}

			return modelSig.TableName, pkColumn
		}
	}

	return strings.ToLower(appLabel) + "_" + strings.ToLower(modelName), "id"
}

// fieldColumn returns the column backing a field, preferring an explicit
// db_column.
func fieldColumn(fieldSig *signature.FieldSignature, fieldName string) string {
	if value, ok := fieldSig.Attr("db_column").(string); ok && value != "" {
		return value
	}

	if relationUsesColumn(fieldSig.Type) {
		return fieldName + "_id"
	}

	return fieldName
}

// scheduleModelDeletion schedules dropping a model's join tables and then
// its own table.
func scheduleModelDeletion(mutator *AppMutator,
	modelSig *signature.ModelSignature) {
	for _, fieldSig := range modelSig.FieldSigs() {
		if fieldSig.Type == signature.ManyToManyField {
			mutator.AddSQL(mutator.Ops.DeleteTableSQL(
				mutator.Ops.M2MTableName(modelSig, fieldSig)))
		}
	}

	mutator.AddSQL(mutator.Ops.DeleteTableSQL(modelSig.TableName))
}

// stripFieldFromTogether removes a deleted field from together entries,
// dropping entries left empty.
func stripFieldFromTogether(together [][]string, fieldName string) [][]string {
	var result [][]string

	for _, entry := range together {
		var kept []string
		for _, name := range entry {
			if name != fieldName {
				kept = append(kept, name)
			}
		}

		if len(kept) > 0 {
			result = append(result, kept)
		}
	}

	return result
}

// renameFieldInTogether rewrites references to a renamed field inside
// together entries.
func renameFieldInTogether(together [][]string, oldName,
	newName string) [][]string {
	for _, entry := range together {
		for i, name := range entry {
			if name == oldName {
				entry[i] = newName
			}
		}
	}

	return together
}

// asIndexSignatures coerces an indexes meta value into index signatures.
// Parsed hint values arrive as lists of {'fields': ..., 'name': ...} maps.
func asIndexSignatures(value any) ([]*signature.IndexSignature, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil

	case []*signature.IndexSignature:
		return v, nil

	case []any:
		indexes := make([]*signature.IndexSignature, 0, len(v))

		for _, entry := range v {
			attrs, ok := entry.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("invalid index definition %v", entry)
			}

			indexSig := &signature.IndexSignature{}
			if name, ok := attrs["name"].(string); ok {
				indexSig.Name = name
			}

			switch fields := attrs["fields"].(type) {
			case []string:
				indexSig.Fields = fields
			case []any:
				for _, field := range fields {
					indexSig.Fields = append(indexSig.Fields,
						fmt.Sprintf("%v", field))
				}
			default:
				return nil, fmt.Errorf("index definition %v has no fields", entry)
			}

			indexes = append(indexes, indexSig)
		}

		return indexes, nil
	}

	return nil, fmt.Errorf("invalid indexes value %v", value)
}
