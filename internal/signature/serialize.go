package signature

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// The serialized form is a versioned YAML mapping. Application, model and
// field order from the signature is preserved so that serializing the same
// signature twice yields identical bytes.
//
//	__version__: 1
//	blog:
//	  Post:
//	    meta:
//	      db_table: blog_post
//	      ...
//	    fields:
//	      id:
//	        field_type: AutoField
//	        primary_key: true

const versionKey = "__version__"

// Serialize renders the project signature to YAML, tagged with the given
// signature format version.
func (p *ProjectSignature) Serialize(sigVersion int) ([]byte, error) {
	root := newMappingNode()
	appendMapping(root, versionKey, scalarNode(sigVersion))

	for _, appSig := range p.appSigs {
		appendMapping(root, appSig.AppID, appSig.yamlNode())
	}

	return yaml.Marshal(root)
}

// ParseProject deserializes a project signature from its YAML form.
func ParseProject(data []byte) (*ProjectSignature, error) {
	var doc yaml.Node

	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing project signature: %w", err)
	}

	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("parsing project signature: empty document")
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parsing project signature: expected a mapping")
	}

	projectSig := NewProjectSignature()
	sigVersion := 0

	for i := 0; i < len(root.Content); i += 2 {
		key := root.Content[i].Value
		value := root.Content[i+1]

		if key == versionKey {
			if err := value.Decode(&sigVersion); err != nil {
				return nil, fmt.Errorf("parsing signature version: %w", err)
			}

			if sigVersion > CurrentVersion {
				return nil, fmt.Errorf("unsupported signature version %d "+
					"(expected at most %d)", sigVersion, CurrentVersion)
			}

			continue
		}

		appSig, err := parseAppSig(key, value)
		if err != nil {
			return nil, err
		}

		projectSig.AddAppSig(appSig)
	}

	return projectSig, nil
}

func (a *AppSignature) yamlNode() *yaml.Node {
	node := newMappingNode()

	for _, modelSig := range a.modelSigs {
		appendMapping(node, modelSig.ModelName, modelSig.yamlNode())
	}

	return node
}

func parseAppSig(appID string, node *yaml.Node) (*AppSignature, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parsing application %q: expected a mapping", appID)
	}

	appSig := NewAppSignature(appID)

	for i := 0; i < len(node.Content); i += 2 {
		modelSig, err := parseModelSig(node.Content[i].Value, node.Content[i+1])
		if err != nil {
			return nil, fmt.Errorf("parsing application %q: %w", appID, err)
		}

		appSig.AddModelSig(modelSig)
	}

	return appSig, nil
}

func (m *ModelSignature) yamlNode() *yaml.Node {
	meta := newMappingNode()
	appendMapping(meta, "db_table", scalarNode(m.TableName))
	appendMapping(meta, "db_tablespace", scalarNode(m.Tablespace))
	appendMapping(meta, "index_together", togetherNode(m.IndexTogether))

	indexes := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, indexSig := range m.Indexes {
		indexes.Content = append(indexes.Content, indexSig.yamlNode())
	}
	appendMapping(meta, "indexes", indexes)

	appendMapping(meta, "pk_column", scalarNode(m.PKColumn))
	appendMapping(meta, "unique_together", togetherNode(m.UniqueTogether))
	appendMapping(meta, "__unique_together_applied",
		scalarNode(m.uniqueTogetherApplied))

	fields := newMappingNode()
	for _, fieldSig := range m.fieldSigs {
		appendMapping(fields, fieldSig.FieldName, fieldSig.yamlNode())
	}

	node := newMappingNode()
	appendMapping(node, "meta", meta)
	appendMapping(node, "fields", fields)

	return node
}

func parseModelSig(modelName string, node *yaml.Node) (*ModelSignature, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parsing model %q: expected a mapping", modelName)
	}

	modelSig := NewModelSignature(modelName, "")

	for i := 0; i < len(node.Content); i += 2 {
		key := node.Content[i].Value
		value := node.Content[i+1]

		switch key {
		case "meta":
			if err := modelSig.parseMeta(value); err != nil {
				return nil, fmt.Errorf("parsing model %q: %w", modelName, err)
			}

		case "fields":
			if value.Kind != yaml.MappingNode {
				return nil, fmt.Errorf("parsing model %q: fields must be a mapping",
					modelName)
			}

			for j := 0; j < len(value.Content); j += 2 {
				fieldSig, err := parseFieldSig(value.Content[j].Value,
					value.Content[j+1])
				if err != nil {
					return nil, fmt.Errorf("parsing model %q: %w", modelName, err)
				}

				modelSig.AddFieldSig(fieldSig)
			}
		}
	}

	return modelSig, nil
}

func (m *ModelSignature) parseMeta(node *yaml.Node) error {
	for i := 0; i < len(node.Content); i += 2 {
		key := node.Content[i].Value
		value := node.Content[i+1]

		switch key {
		case "db_table":
			m.TableName = value.Value
		case "db_tablespace":
			m.Tablespace = value.Value
		case "pk_column":
			m.PKColumn = value.Value
		case "unique_together":
			together, err := parseTogether(value)
			if err != nil {
				return fmt.Errorf("parsing unique_together: %w", err)
			}
			m.UniqueTogether = together
		case "index_together":
			together, err := parseTogether(value)
			if err != nil {
				return fmt.Errorf("parsing index_together: %w", err)
			}
			m.IndexTogether = together
		case "__unique_together_applied":
			if err := value.Decode(&m.uniqueTogetherApplied); err != nil {
				return fmt.Errorf("parsing __unique_together_applied: %w", err)
			}
		case "indexes":
			for _, indexNode := range value.Content {
				indexSig, err := parseIndexSig(indexNode)
				if err != nil {
					return err
				}
				m.Indexes = append(m.Indexes, indexSig)
			}
		}
	}

	return nil
}

func (i *IndexSignature) yamlNode() *yaml.Node {
	node := newMappingNode()
	appendMapping(node, "fields", stringSequenceNode(i.Fields))

	if i.Name != "" {
		appendMapping(node, "name", scalarNode(i.Name))
	}

	return node
}

func parseIndexSig(node *yaml.Node) (*IndexSignature, error) {
	indexSig := &IndexSignature{}

	for i := 0; i < len(node.Content); i += 2 {
		key := node.Content[i].Value
		value := node.Content[i+1]

		switch key {
		case "name":
			indexSig.Name = value.Value
		case "fields":
			if err := value.Decode(&indexSig.Fields); err != nil {
				return nil, fmt.Errorf("parsing index fields: %w", err)
			}
		}
	}

	return indexSig, nil
}

func (f *FieldSignature) yamlNode() *yaml.Node {
	node := newMappingNode()
	appendMapping(node, "field_type", scalarNode(string(f.Type)))

	for _, name := range f.AttrNames() {
		appendMapping(node, name, scalarNode(f.attrs[name]))
	}

	if f.RelatedModel != "" {
		appendMapping(node, "related_model", scalarNode(f.RelatedModel))
	}

	return node
}

func parseFieldSig(fieldName string, node *yaml.Node) (*FieldSignature, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parsing field %q: expected a mapping", fieldName)
	}

	fieldSig := NewFieldSignature(fieldName, "")

	for i := 0; i < len(node.Content); i += 2 {
		key := node.Content[i].Value
		value := node.Content[i+1]

		if alias, ok := attributeAliases[key]; ok {
			key = alias
		}

		switch key {
		case "field_type":
			fieldSig.Type = FieldType(value.Value)

		case "related_model":
			fieldSig.RelatedModel = value.Value

		default:
			var attrValue any
			if err := value.Decode(&attrValue); err != nil {
				return nil, fmt.Errorf("parsing field %q attribute %q: %w",
					fieldName, key, err)
			}

			fieldSig.SetAttr(key, attrValue)
		}
	}

	if fieldSig.Type == "" {
		return nil, fmt.Errorf("parsing field %q: missing field_type", fieldName)
	}

	return fieldSig, nil
}

func parseTogether(node *yaml.Node) ([][]string, error) {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return nil, err
	}

	return NormalizeTogether(raw), nil
}

func newMappingNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

func appendMapping(node *yaml.Node, key string, value *yaml.Node) {
	node.Content = append(node.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		value)
}

func scalarNode(value any) *yaml.Node {
	node := &yaml.Node{}

	if err := node.Encode(value); err != nil {
		// Attribute values are plain scalars; encoding cannot fail for them.
		panic(err)
	}

	return node
}

func stringSequenceNode(values []string) *yaml.Node {
	node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Style: yaml.FlowStyle}

	for _, value := range values {
		node.Content = append(node.Content, scalarNode(value))
	}

	return node
}

func togetherNode(together [][]string) *yaml.Node {
	node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}

	for _, names := range together {
		node.Content = append(node.Content, stringSequenceNode(names))
	}

	return node
}
