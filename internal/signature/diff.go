package signature

import (
	"sort"

	"gopkg.in/yaml.v3"
)

// Diff is the structured difference between two project signatures. Branches
// with no content are omitted entirely; an empty Diff means no changes.
type Diff struct {
	Changed []*AppDiff
	Deleted []DeletedApp
}

// DeletedApp records an application present in the old signature but absent
// from the new one, along with the models it carried.
type DeletedApp struct {
	AppID  string
	Models []string
}

// AppDiff is the difference between two application signatures.
type AppDiff struct {
	AppID   string
	Changed []*ModelDiff
	Deleted []string
}

// ModelDiff is the difference between two model signatures.
type ModelDiff struct {
	ModelName   string
	Added       []string
	Changed     []FieldDiff
	Deleted     []string
	MetaChanged []string
}

// FieldDiff lists the attribute names that changed on one field.
type FieldDiff struct {
	FieldName string
	Attrs     []string
}

// Empty reports whether the diff carries no changes.
func (d *Diff) Empty() bool {
	return len(d.Changed) == 0 && len(d.Deleted) == 0
}

// ChangedApp returns the diff entry for an application, or nil.
func (d *Diff) ChangedApp(appID string) *AppDiff {
	for _, appDiff := range d.Changed {
		if appDiff.AppID == appID {
			return appDiff
		}
	}

	return nil
}

// ChangedModel returns the diff entry for a model, or nil.
func (a *AppDiff) ChangedModel(modelName string) *ModelDiff {
	for _, modelDiff := range a.Changed {
		if modelDiff.ModelName == modelName {
			return modelDiff
		}
	}

	return nil
}

// Diff computes the difference between this signature (the new state) and
// an older one. Entries in the old signature missing from the new one are
// deleted; entries in the new signature missing from the old one are added.
func (p *ProjectSignature) Diff(old *ProjectSignature) *Diff {
	diff := &Diff{}

	for _, oldAppSig := range old.AppSigs() {
		newAppSig := p.AppSig(oldAppSig.AppID)

		if newAppSig == nil {
			// The application has been deleted.
			deleted := DeletedApp{AppID: oldAppSig.AppID}

			for _, modelSig := range oldAppSig.ModelSigs() {
				deleted.Models = append(deleted.Models, modelSig.ModelName)
			}

			diff.Deleted = append(diff.Deleted, deleted)
			continue
		}

		if appDiff := newAppSig.Diff(oldAppSig); appDiff != nil {
			diff.Changed = append(diff.Changed, appDiff)
		}
	}

	return diff
}

// Diff computes the difference between this application signature (the new
// state) and an older one. A nil result means no changes.
func (a *AppSignature) Diff(old *AppSignature) *AppDiff {
	appDiff := &AppDiff{AppID: a.AppID}

	for _, oldModelSig := range old.ModelSigs() {
		newModelSig := a.ModelSig(oldModelSig.ModelName)

		if newModelSig == nil {
			// The model has been deleted.
			appDiff.Deleted = append(appDiff.Deleted, oldModelSig.ModelName)
			continue
		}

		if modelDiff := newModelSig.Diff(oldModelSig); modelDiff != nil {
			appDiff.Changed = append(appDiff.Changed, modelDiff)
		}
	}

	if len(appDiff.Changed) == 0 && len(appDiff.Deleted) == 0 {
		return nil
	}

	return appDiff
}

// Diff computes the difference between this model signature (the new state)
// and an older one. A nil result means no changes.
func (m *ModelSignature) Diff(old *ModelSignature) *ModelDiff {
	modelDiff := &ModelDiff{ModelName: m.ModelName}

	// Walk the old fields, classifying each as changed or deleted.
	for _, oldFieldSig := range old.FieldSigs() {
		newFieldSig := m.FieldSig(oldFieldSig.FieldName)

		if newFieldSig == nil {
			modelDiff.Deleted = append(modelDiff.Deleted, oldFieldSig.FieldName)
			continue
		}

		if attrs := newFieldSig.Diff(oldFieldSig); len(attrs) > 0 {
			modelDiff.Changed = append(modelDiff.Changed, FieldDiff{
				FieldName: oldFieldSig.FieldName,
				Attrs:     attrs,
			})
		}
	}

	// Walk the new fields for any the old signature lacks.
	for _, fieldSig := range m.FieldSigs() {
		if old.FieldSig(fieldSig.FieldName) == nil {
			modelDiff.Added = append(modelDiff.Added, fieldSig.FieldName)
		}
	}

	if m.HasUniqueTogetherChanged(old) {
		modelDiff.MetaChanged = append(modelDiff.MetaChanged, "unique_together")
	}

	if !togetherEqual(m.IndexTogether, old.IndexTogether) {
		modelDiff.MetaChanged = append(modelDiff.MetaChanged, "index_together")
	}

	if !indexListEqual(m.Indexes, old.Indexes) {
		modelDiff.MetaChanged = append(modelDiff.MetaChanged, "indexes")
	}

	if len(modelDiff.Added) == 0 && len(modelDiff.Changed) == 0 &&
		len(modelDiff.Deleted) == 0 && len(modelDiff.MetaChanged) == 0 {
		return nil
	}

	return modelDiff
}

// Diff returns the sorted names of attributes that differ between this field
// signature (the new state) and an older one. Two pseudo-attributes are
// reported alongside real attributes: field_type, when the underlying
// storage class changed, and related_model, when the relation target moved.
func (f *FieldSignature) Diff(old *FieldSignature) []string {
	attrNames := map[string]bool{}

	for name := range f.attrs {
		attrNames[name] = true
	}
	for name := range old.attrs {
		attrNames[name] = true
	}

	var changed []string

	for name := range attrNames {
		if !valueEqual(f.Attr(name), old.Attr(name)) {
			changed = append(changed, name)
		}
	}

	if StorageChanged(old.Type, f.Type) {
		changed = append(changed, "field_type")
	}

	if f.RelatedModel != old.RelatedModel {
		changed = append(changed, "related_model")
	}

	sort.Strings(changed)
	return changed
}

func indexListEqual(a, b []*IndexSignature) bool {
	if len(a) != len(b) {
		return false
	}

	for i, indexSig := range a {
		if !indexSig.Equal(b[i]) {
			return false
		}
	}

	return true
}

// MarshalYAML renders the diff as an ordered mapping mirroring its nested
// structure, for human-readable change reports.
func (d *Diff) MarshalYAML() (any, error) {
	root := newMappingNode()

	if len(d.Changed) > 0 {
		changed := newMappingNode()

		for _, appDiff := range d.Changed {
			appendMapping(changed, appDiff.AppID, appDiff.yamlNode())
		}

		appendMapping(root, "changed", changed)
	}

	if len(d.Deleted) > 0 {
		deleted := newMappingNode()

		for _, app := range d.Deleted {
			appendMapping(deleted, app.AppID, stringSequenceNode(app.Models))
		}

		appendMapping(root, "deleted", deleted)
	}

	return root, nil
}

func (a *AppDiff) yamlNode() *yaml.Node {
	node := newMappingNode()

	if len(a.Changed) > 0 {
		changed := newMappingNode()

		for _, modelDiff := range a.Changed {
			appendMapping(changed, modelDiff.ModelName, modelDiff.yamlNode())
		}

		appendMapping(node, "changed", changed)
	}

	if len(a.Deleted) > 0 {
		appendMapping(node, "deleted", stringSequenceNode(a.Deleted))
	}

	return node
}

func (m *ModelDiff) yamlNode() *yaml.Node {
	node := newMappingNode()

	if len(m.Added) > 0 {
		appendMapping(node, "added", stringSequenceNode(m.Added))
	}

	if len(m.Changed) > 0 {
		changed := newMappingNode()

		for _, fieldDiff := range m.Changed {
			appendMapping(changed, fieldDiff.FieldName,
				stringSequenceNode(fieldDiff.Attrs))
		}

		appendMapping(node, "changed", changed)
	}

	if len(m.Deleted) > 0 {
		appendMapping(node, "deleted", stringSequenceNode(m.Deleted))
	}

	if len(m.MetaChanged) > 0 {
		appendMapping(node, "meta_changed", stringSequenceNode(m.MetaChanged))
	}

	return node
}
