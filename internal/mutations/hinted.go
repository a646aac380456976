package mutations

import (
	"github.com/reloquent/evolve/internal/signature"
)

// HintedMutations derives mutation lists from a signature diff, keyed by
// application label. Renames cannot be distinguished from a delete plus an
// add, so the hints always spell the latter; users can hand-edit the result
// into RenameField or RenameModel mutations before applying it.
func HintedMutations(diff *signature.Diff, oldSig,
	newSig *signature.ProjectSignature) map[string][]Mutation {
	result := map[string][]Mutation{}

	for _, appDiff := range diff.Changed {
		var appMutations []Mutation

		newAppSig := newSig.AppSig(appDiff.AppID)
		oldAppSig := oldSig.AppSig(appDiff.AppID)

		for _, modelDiff := range appDiff.Changed {
			appMutations = append(appMutations, hintModelChanges(
				modelDiff, oldAppSig, newAppSig)...)
		}

		for _, modelName := range appDiff.Deleted {
			appMutations = append(appMutations, &DeleteModel{Name: modelName})
		}

		if len(appMutations) > 0 {
			result[appDiff.AppID] = appMutations
		}
	}

	return result
}

func hintModelChanges(modelDiff *signature.ModelDiff, oldAppSig,
	newAppSig *signature.AppSignature) []Mutation {
	var result []Mutation

	newModelSig := newAppSig.ModelSig(modelDiff.ModelName)

	for _, fieldName := range modelDiff.Added {
		if fieldSig := newModelSig.FieldSig(fieldName); fieldSig != nil {
			result = append(result, hintAddField(modelDiff.ModelName, fieldSig))
		}
	}

	for _, fieldDiff := range modelDiff.Changed {
		fieldSig := newModelSig.FieldSig(fieldDiff.FieldName)
		if fieldSig == nil {
			continue
		}

		if m := hintChangeField(modelDiff.ModelName, fieldSig,
			fieldDiff.Attrs); m != nil {
			result = append(result, m)
		}
	}

	for _, fieldName := range modelDiff.Deleted {
		result = append(result, &DeleteField{
			Model: modelDiff.ModelName,
			Name:  fieldName,
		})
	}

	for _, prop := range modelDiff.MetaChanged {
		result = append(result, &ChangeMeta{
			Model: modelDiff.ModelName,
			Prop:  prop,
			Value: metaValue(newModelSig, prop),
		})
	}

	return result
}

func hintAddField(modelName string,
	fieldSig *signature.FieldSignature) *AddField {
	attrs := map[string]any{}
	for _, name := range fieldSig.AttrNames() {
		attrs[name] = fieldSig.Attr(name)
	}

	m := &AddField{
		Model:        modelName,
		Name:         fieldSig.FieldName,
		FieldType:    fieldSig.Type,
		Attrs:        attrs,
		RelatedModel: fieldSig.RelatedModel,
	}

	if fieldSig.Type != signature.ManyToManyField && !fieldSig.BoolAttr("null") {
		// The user must choose how existing rows are filled.
		m.Initial = UserValuePlaceholder{}
	}

	return m
}

func hintChangeField(modelName string, fieldSig *signature.FieldSignature,
	changedAttrs []string) *ChangeField {
	attrs := map[string]any{}

	for _, name := range changedAttrs {
		switch name {
		case "field_type", "related_model":
			// Type and relation changes cannot be expressed as in-place
			// attribute changes.
			continue
		}

		attrs[name] = fieldSig.Attr(name)
	}

	if len(attrs) == 0 {
		return nil
	}

	m := &ChangeField{
		Model: modelName,
		Name:  fieldSig.FieldName,
		Attrs: attrs,
	}

	if value, ok := attrs["null"]; ok && value == false {
		m.Initial = UserValuePlaceholder{}
	}

	return m
}

func metaValue(modelSig *signature.ModelSignature, prop string) any {
	switch prop {
	case "unique_together":
		return signature.NormalizeTogether(modelSig.UniqueTogether)
	case "index_together":
		return signature.NormalizeTogether(modelSig.IndexTogether)
	case "indexes":
		return modelSig.Indexes
	}

	return nil
}
