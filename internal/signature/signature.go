// Package signature models schema state at project, application, model and
// field granularity. Signatures are serialized into version records, cloned
// for simulation, and diffed to derive evolutions.
package signature

import (
	"fmt"
	"reflect"
	"sort"
)

// CurrentVersion is the signature format version written by Serialize.
const CurrentVersion = 1

// ProjectSignature is the top-level signature. It holds one AppSignature per
// tracked application, in insertion order.
type ProjectSignature struct {
	appSigs []*AppSignature
}

// NewProjectSignature returns an empty project signature.
func NewProjectSignature() *ProjectSignature {
	return &ProjectSignature{}
}

// AppSigs returns the application signatures in insertion order.
func (p *ProjectSignature) AppSigs() []*AppSignature {
	return p.appSigs
}

// AddAppSig adds an application signature, replacing any existing signature
// with the same app ID in place.
func (p *ProjectSignature) AddAppSig(appSig *AppSignature) {
	for i, existing := range p.appSigs {
		if existing.AppID == appSig.AppID {
			p.appSigs[i] = appSig
			return
		}
	}

	p.appSigs = append(p.appSigs, appSig)
}

// RemoveAppSig removes the application signature with the given ID.
func (p *ProjectSignature) RemoveAppSig(appID string) error {
	for i, appSig := range p.appSigs {
		if appSig.AppID == appID {
			p.appSigs = append(p.appSigs[:i], p.appSigs[i+1:]...)
			return nil
		}
	}

	return &MissingSignatureError{
		msg: fmt.Sprintf("an application signature for %q could not be found", appID),
	}
}

// AppSig returns the application signature with the given ID, or nil.
func (p *ProjectSignature) AppSig(appID string) *AppSignature {
	for _, appSig := range p.appSigs {
		if appSig.AppID == appID {
			return appSig
		}
	}

	return nil
}

// AppSigRequired returns the application signature with the given ID, or a
// MissingSignatureError if it is not present.
func (p *ProjectSignature) AppSigRequired(appID string) (*AppSignature, error) {
	if appSig := p.AppSig(appID); appSig != nil {
		return appSig, nil
	}

	return nil, &MissingSignatureError{
		msg: fmt.Sprintf("unable to find an application signature for %q; "+
			"a baseline may need to be installed first", appID),
	}
}

// Clone returns a deep, independent copy of the signature.
func (p *ProjectSignature) Clone() *ProjectSignature {
	cloned := NewProjectSignature()

	for _, appSig := range p.appSigs {
		cloned.AddAppSig(appSig.Clone())
	}

	return cloned
}

// Equal reports structural equality of two project signatures. Application
// order is not significant.
func (p *ProjectSignature) Equal(other *ProjectSignature) bool {
	if other == nil || len(p.appSigs) != len(other.appSigs) {
		return false
	}

	for _, appSig := range p.appSigs {
		otherApp := other.AppSig(appSig.AppID)
		if otherApp == nil || !appSig.Equal(otherApp) {
			return false
		}
	}

	return true
}

// AppSignature holds the model signatures registered for one application.
type AppSignature struct {
	AppID string

	modelSigs []*ModelSignature
}

// NewAppSignature returns an empty application signature for the given ID.
func NewAppSignature(appID string) *AppSignature {
	return &AppSignature{AppID: appID}
}

// ModelSigs returns the model signatures in insertion order.
func (a *AppSignature) ModelSigs() []*ModelSignature {
	return a.modelSigs
}

// AddModelSig adds a model signature, replacing any existing signature with
// the same model name in place.
func (a *AppSignature) AddModelSig(modelSig *ModelSignature) {
	for i, existing := range a.modelSigs {
		if existing.ModelName == modelSig.ModelName {
			a.modelSigs[i] = modelSig
			return
		}
	}

	a.modelSigs = append(a.modelSigs, modelSig)
}

// RemoveModelSig removes the model signature with the given name.
func (a *AppSignature) RemoveModelSig(modelName string) error {
	for i, modelSig := range a.modelSigs {
		if modelSig.ModelName == modelName {
			a.modelSigs = append(a.modelSigs[:i], a.modelSigs[i+1:]...)
			return nil
		}
	}

	return &MissingSignatureError{
		msg: fmt.Sprintf("a model signature for %q could not be found", modelName),
	}
}

// RenameModelSig renames a model signature in place, preserving its position.
func (a *AppSignature) RenameModelSig(oldName, newName string) error {
	for _, modelSig := range a.modelSigs {
		if modelSig.ModelName == oldName {
			modelSig.ModelName = newName
			return nil
		}
	}

	return &MissingSignatureError{
		msg: fmt.Sprintf("a model signature for %q could not be found", oldName),
	}
}

// ModelSig returns the model signature with the given name, or nil.
func (a *AppSignature) ModelSig(modelName string) *ModelSignature {
	for _, modelSig := range a.modelSigs {
		if modelSig.ModelName == modelName {
			return modelSig
		}
	}

	return nil
}

// ModelSigRequired returns the model signature with the given name, or a
// MissingSignatureError if it is not present.
func (a *AppSignature) ModelSigRequired(modelName string) (*ModelSignature, error) {
	if modelSig := a.ModelSig(modelName); modelSig != nil {
		return modelSig, nil
	}

	return nil, &MissingSignatureError{
		msg: fmt.Sprintf("unable to find a model signature for %q.%q; "+
			"a baseline may need to be installed first", a.AppID, modelName),
	}
}

// Clone returns a deep, independent copy of the signature.
func (a *AppSignature) Clone() *AppSignature {
	cloned := NewAppSignature(a.AppID)

	for _, modelSig := range a.modelSigs {
		cloned.AddModelSig(modelSig.Clone())
	}

	return cloned
}

// Equal reports structural equality of two application signatures. Model
// order is not significant.
func (a *AppSignature) Equal(other *AppSignature) bool {
	if other == nil || a.AppID != other.AppID ||
		len(a.modelSigs) != len(other.modelSigs) {
		return false
	}

	for _, modelSig := range a.modelSigs {
		otherModel := other.ModelSig(modelSig.ModelName)
		if otherModel == nil || !modelSig.Equal(otherModel) {
			return false
		}
	}

	return true
}

// ModelSignature holds the schema state of one model: its table, meta
// properties, and field signatures.
type ModelSignature struct {
	ModelName      string
	TableName      string
	Tablespace     string
	PKColumn       string
	UniqueTogether [][]string
	IndexTogether  [][]string
	Indexes        []*IndexSignature

	fieldSigs             []*FieldSignature
	uniqueTogetherApplied bool
}

// NewModelSignature returns a model signature with normalized together
// values and no fields.
func NewModelSignature(modelName, tableName string) *ModelSignature {
	return &ModelSignature{
		ModelName: modelName,
		TableName: tableName,
	}
}

// FieldSigs returns the field signatures in insertion order.
func (m *ModelSignature) FieldSigs() []*FieldSignature {
	return m.fieldSigs
}

// AddFieldSig adds a field signature, replacing any existing signature with
// the same field name in place.
func (m *ModelSignature) AddFieldSig(fieldSig *FieldSignature) {
	for i, existing := range m.fieldSigs {
		if existing.FieldName == fieldSig.FieldName {
			m.fieldSigs[i] = fieldSig
			return
		}
	}

	m.fieldSigs = append(m.fieldSigs, fieldSig)
}

// RemoveFieldSig removes the field signature with the given name.
func (m *ModelSignature) RemoveFieldSig(fieldName string) error {
	for i, fieldSig := range m.fieldSigs {
		if fieldSig.FieldName == fieldName {
			m.fieldSigs = append(m.fieldSigs[:i], m.fieldSigs[i+1:]...)
			return nil
		}
	}

	return &MissingSignatureError{
		msg: fmt.Sprintf("a field signature for %q could not be found", fieldName),
	}
}

// FieldSig returns the field signature with the given name, or nil.
func (m *ModelSignature) FieldSig(fieldName string) *FieldSignature {
	for _, fieldSig := range m.fieldSigs {
		if fieldSig.FieldName == fieldName {
			return fieldSig
		}
	}

	return nil
}

// FieldSigRequired returns the field signature with the given name, or a
// MissingSignatureError if it is not present.
func (m *ModelSignature) FieldSigRequired(fieldName string) (*FieldSignature, error) {
	if fieldSig := m.FieldSig(fieldName); fieldSig != nil {
		return fieldSig, nil
	}

	return nil, &MissingSignatureError{
		msg: fmt.Sprintf("unable to find a field signature for %q.%q; "+
			"a baseline may need to be installed first", m.ModelName, fieldName),
	}
}

// MarkUniqueTogetherApplied records that unique_together constraints have
// been materialized in the database. Older stored signatures predate this
// flag, and models carrying an unapplied unique_together must be treated as
// changed even when the values match.
func (m *ModelSignature) MarkUniqueTogetherApplied() {
	m.uniqueTogetherApplied = true
}

// UniqueTogetherApplied reports whether unique_together constraints have
// been materialized in the database.
func (m *ModelSignature) UniqueTogetherApplied() bool {
	return m.uniqueTogetherApplied
}

// HasUniqueTogetherChanged reports whether unique_together differs from an
// older model signature. The values differing counts as changed, as does
// either side being non-empty while the old signature was never applied.
func (m *ModelSignature) HasUniqueTogetherChanged(old *ModelSignature) bool {
	oldTogether := NormalizeTogether(old.UniqueTogether)
	newTogether := NormalizeTogether(m.UniqueTogether)

	if !togetherEqual(oldTogether, newTogether) {
		return true
	}

	return (len(oldTogether) > 0 || len(newTogether) > 0) &&
		!old.uniqueTogetherApplied
}

// Clone returns a deep, independent copy of the signature.
func (m *ModelSignature) Clone() *ModelSignature {
	cloned := &ModelSignature{
		ModelName:             m.ModelName,
		TableName:             m.TableName,
		Tablespace:            m.Tablespace,
		PKColumn:              m.PKColumn,
		UniqueTogether:        cloneTogether(m.UniqueTogether),
		IndexTogether:         cloneTogether(m.IndexTogether),
		uniqueTogetherApplied: m.uniqueTogetherApplied,
	}

	for _, indexSig := range m.Indexes {
		cloned.Indexes = append(cloned.Indexes, indexSig.Clone())
	}

	for _, fieldSig := range m.fieldSigs {
		cloned.AddFieldSig(fieldSig.Clone())
	}

	return cloned
}

// Equal reports structural equality of two model signatures. Together values
// and explicit indexes compare as sets. Two models whose unique_together
// values match but whose applied flags differ are not equal, forcing
// re-application after an upgrade from a legacy record.
func (m *ModelSignature) Equal(other *ModelSignature) bool {
	if other == nil ||
		m.ModelName != other.ModelName ||
		m.TableName != other.TableName ||
		m.Tablespace != other.Tablespace ||
		m.PKColumn != other.PKColumn ||
		len(m.fieldSigs) != len(other.fieldSigs) {
		return false
	}

	if !togetherSetEqual(NormalizeTogether(m.IndexTogether),
		NormalizeTogether(other.IndexTogether)) {
		return false
	}

	if !indexSetEqual(m.Indexes, other.Indexes) {
		return false
	}

	for _, fieldSig := range m.fieldSigs {
		otherField := other.FieldSig(fieldSig.FieldName)
		if otherField == nil || !fieldSig.Equal(otherField) {
			return false
		}
	}

	return !m.HasUniqueTogetherChanged(other)
}

// NormalizeTogether normalizes a unique_together or index_together value to
// a list of field-name tuples. A single flat tuple is wrapped so that
// ("a", "b") and (("a", "b"),) store identically. Normalizing is idempotent.
func NormalizeTogether(value any) [][]string {
	switch v := value.(type) {
	case nil:
		return nil

	case [][]string:
		if len(v) == 0 {
			return nil
		}
		return cloneTogether(v)

	case []string:
		if len(v) == 0 {
			return nil
		}
		return [][]string{append([]string(nil), v...)}

	case []any:
		if len(v) == 0 {
			return nil
		}

		if _, nested := v[0].([]any); !nested {
			// A single flat tuple of field names.
			return [][]string{anyStrings(v)}
		}

		result := make([][]string, 0, len(v))
		for _, entry := range v {
			if names, ok := entry.([]any); ok {
				result = append(result, anyStrings(names))
			}
		}
		return result
	}

	return nil
}

func anyStrings(values []any) []string {
	result := make([]string, 0, len(values))

	for _, value := range values {
		result = append(result, fmt.Sprintf("%v", value))
	}

	return result
}

func cloneTogether(together [][]string) [][]string {
	if together == nil {
		return nil
	}

	cloned := make([][]string, len(together))
	for i, names := range together {
		cloned[i] = append([]string(nil), names...)
	}

	return cloned
}

func togetherEqual(a, b [][]string) bool {
	return reflect.DeepEqual(NormalizeTogether(a), NormalizeTogether(b))
}

func togetherSetEqual(a, b [][]string) bool {
	return reflect.DeepEqual(togetherKeySet(a), togetherKeySet(b))
}

func togetherKeySet(together [][]string) map[string]bool {
	set := make(map[string]bool, len(together))

	for _, names := range together {
		set[fmt.Sprintf("%q", names)] = true
	}

	return set
}

func indexSetEqual(a, b []*IndexSignature) bool {
	if len(a) != len(b) {
		return false
	}

outer:
	for _, indexSig := range a {
		for _, other := range b {
			if indexSig.Equal(other) {
				continue outer
			}
		}
		return false
	}

	return true
}

// IndexSignature describes an explicit index on a model.
type IndexSignature struct {
	Name   string
	Fields []string
}

// Clone returns a copy of the signature.
func (i *IndexSignature) Clone() *IndexSignature {
	return &IndexSignature{
		Name:   i.Name,
		Fields: append([]string(nil), i.Fields...),
	}
}

// Equal reports whether two index signatures are equal. An unset name on
// both sides compares equal regardless of representation.
func (i *IndexSignature) Equal(other *IndexSignature) bool {
	if other == nil {
		return false
	}

	namesEqual := (i.Name == "" && other.Name == "") || i.Name == other.Name

	return namesEqual && reflect.DeepEqual(i.Fields, other.Fields)
}

// FieldSignature describes one field on a model. The attribute map is
// sparse: it holds only attributes whose value differs from the field
// type's default.
type FieldSignature struct {
	FieldName    string
	Type         FieldType
	RelatedModel string

	attrs map[string]any
}

// NewFieldSignature returns a field signature with no custom attributes.
func NewFieldSignature(fieldName string, fieldType FieldType) *FieldSignature {
	return &FieldSignature{
		FieldName: fieldName,
		Type:      fieldType,
	}
}

// SetAttr sets an attribute value. Values matching the field type's default
// are not stored, keeping the attribute map sparse.
func (f *FieldSignature) SetAttr(name string, value any) *FieldSignature {
	if valueEqual(value, AttrDefault(f.Type, name)) {
		delete(f.attrs, name)
		return f
	}

	if f.attrs == nil {
		f.attrs = map[string]any{}
	}

	f.attrs[name] = value
	return f
}

// UnsetAttr removes an explicit attribute value, reverting it to the
// field type's default.
func (f *FieldSignature) UnsetAttr(name string) {
	delete(f.attrs, name)
}

// Attr returns the value for an attribute, falling back to the field type's
// default when the attribute is not explicitly set.
func (f *FieldSignature) Attr(name string) any {
	if value, ok := f.attrs[name]; ok {
		return value
	}

	return AttrDefault(f.Type, name)
}

// HasAttr reports whether the attribute has an explicit, non-default value.
func (f *FieldSignature) HasAttr(name string) bool {
	_, ok := f.attrs[name]
	return ok
}

// BoolAttr returns an attribute value as a bool, treating non-bool values
// as false.
func (f *FieldSignature) BoolAttr(name string) bool {
	value, _ := f.Attr(name).(bool)
	return value
}

// IsAttrDefault reports whether an attribute carries its default value.
func (f *FieldSignature) IsAttrDefault(name string) bool {
	value, ok := f.attrs[name]
	if !ok {
		return true
	}

	return valueEqual(value, AttrDefault(f.Type, name))
}

// AttrNames returns the explicitly set attribute names, sorted.
func (f *FieldSignature) AttrNames() []string {
	names := make([]string, 0, len(f.attrs))
	for name := range f.attrs {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}

// Clone returns a deep, independent copy of the signature.
func (f *FieldSignature) Clone() *FieldSignature {
	cloned := &FieldSignature{
		FieldName:    f.FieldName,
		Type:         f.Type,
		RelatedModel: f.RelatedModel,
	}

	for name, value := range f.attrs {
		if cloned.attrs == nil {
			cloned.attrs = map[string]any{}
		}
		cloned.attrs[name] = value
	}

	return cloned
}

// Equal reports structural equality of two field signatures.
func (f *FieldSignature) Equal(other *FieldSignature) bool {
	if other == nil ||
		f.FieldName != other.FieldName ||
		f.Type != other.Type ||
		f.RelatedModel != other.RelatedModel ||
		len(f.attrs) != len(other.attrs) {
		return false
	}

	for name, value := range f.attrs {
		otherValue, ok := other.attrs[name]
		if !ok || !valueEqual(value, otherValue) {
			return false
		}
	}

	return true
}

// ValuesEqual compares two attribute values, normalizing numeric types so
// that deserialized and in-memory values compare cleanly.
func ValuesEqual(a, b any) bool {
	return valueEqual(a, b)
}

// valueEqual compares attribute values, normalizing numeric types so that
// deserialized and in-memory values compare cleanly.
func valueEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if na, ok := normalizeNumber(a); ok {
		nb, ok := normalizeNumber(b)
		return ok && na == nb
	}

	return reflect.DeepEqual(a, b)
}

func normalizeNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}

	return 0, false
}
