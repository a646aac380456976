package mutations

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/reloquent/evolve/internal/signature"
)

// ParseMutation reads one mutation from its hint form, the same syntax Hint
// produces. Raw SQL mutations have no hint form; they are loaded from .sql
// files instead.
func ParseMutation(line string) (Mutation, error) {
	p := &hintParser{input: strings.TrimSpace(line)}

	mutation, err := p.parse()
	if err != nil {
		return nil, fmt.Errorf("parsing mutation %q: %w", line, err)
	}

	return mutation, nil
}

// ParseMutations reads a list of mutation lines, skipping blanks and
// comment lines.
func ParseMutations(lines []string) ([]Mutation, error) {
	var result []Mutation

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		mutation, err := ParseMutation(trimmed)
		if err != nil {
			return nil, err
		}

		result = append(result, mutation)
	}

	return result, nil
}

type hintParser struct {
	input string
	pos   int
}

func (p *hintParser) parse() (Mutation, error) {
	name, err := p.ident()
	if err != nil {
		return nil, err
	}

	if err := p.expect('('); err != nil {
		return nil, err
	}

	var positional []any
	keywords := map[string]any{}

	p.skipSpace()
	for !p.peekIs(')') {
		if p.atEnd() {
			return nil, fmt.Errorf("unterminated argument list")
		}

		if kwName, ok := p.tryKeyword(); ok {
			value, err := p.value()
			if err != nil {
				return nil, err
			}
			keywords[kwName] = value
		} else {
			value, err := p.value()
			if err != nil {
				return nil, err
			}
			positional = append(positional, value)
		}

		p.skipSpace()
		if p.peekIs(',') {
			p.pos++
			p.skipSpace()
		}
	}
	p.pos++

	p.skipSpace()
	if !p.atEnd() {
		return nil, fmt.Errorf("trailing content after mutation")
	}

	return buildMutation(name, positional, keywords)
}

func buildMutation(name string, positional []any,
	keywords map[string]any) (Mutation, error) {
	switch name {
	case "AddField":
		model, field, fieldType, err := threeStrings(name, positional)
		if err != nil {
			return nil, err
		}

		m := &AddField{
			Model:     model,
			Name:      field,
			FieldType: signature.FieldType(fieldType),
			Attrs:     map[string]any{},
		}

		for kwName, value := range keywords {
			switch kwName {
			case "initial":
				m.Initial = value
			case "related_model":
				m.RelatedModel, _ = value.(string)
			default:
				m.Attrs[kwName] = value
			}
		}

		return m, nil

	case "ChangeField":
		model, field, err := twoStrings(name, positional)
		if err != nil {
			return nil, err
		}

		m := &ChangeField{Model: model, Name: field, Attrs: map[string]any{}}

		for kwName, value := range keywords {
			if kwName == "initial" {
				m.Initial = value
			} else {
				m.Attrs[kwName] = value
			}
		}

		return m, nil

	case "DeleteField":
		model, field, err := twoStrings(name, positional)
		if err != nil {
			return nil, err
		}

		return &DeleteField{Model: model, Name: field}, nil

	case "RenameField":
		model, oldName, newName, err := threeStrings(name, positional)
		if err != nil {
			return nil, err
		}

		m := &RenameField{Model: model, OldName: oldName, NewName: newName}
		m.DBColumn, _ = keywords["db_column"].(string)
		m.DBTable, _ = keywords["db_table"].(string)

		return m, nil

	case "RenameModel":
		oldName, newName, err := twoStrings(name, positional)
		if err != nil {
			return nil, err
		}

		m := &RenameModel{OldName: oldName, NewName: newName}
		m.DBTable, _ = keywords["db_table"].(string)

		return m, nil

	case "DeleteModel":
		if len(positional) != 1 {
			return nil, fmt.Errorf("DeleteModel takes one argument")
		}

		modelName, ok := positional[0].(string)
		if !ok {
			return nil, fmt.Errorf("DeleteModel requires a model name")
		}

		return &DeleteModel{Name: modelName}, nil

	case "DeleteApplication":
		if len(positional) != 0 || len(keywords) != 0 {
			return nil, fmt.Errorf("DeleteApplication takes no arguments")
		}

		return &DeleteApplication{}, nil

	case "ChangeMeta":
		if len(positional) != 3 {
			return nil, fmt.Errorf("ChangeMeta takes three arguments")
		}

		model, ok1 := positional[0].(string)
		prop, ok2 := positional[1].(string)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("ChangeMeta requires a model and property name")
		}

		return &ChangeMeta{Model: model, Prop: prop, Value: positional[2]}, nil

	case "SQLMutation":
		return nil, fmt.Errorf("SQL mutations cannot be expressed in hint " +
			"form; use a .sql evolution file")
	}

	return nil, fmt.Errorf("unknown mutation %q", name)
}

func twoStrings(name string, positional []any) (string, string, error) {
	if len(positional) != 2 {
		return "", "", fmt.Errorf("%s takes two positional arguments", name)
	}

	first, ok1 := positional[0].(string)
	second, ok2 := positional[1].(string)
	if !ok1 || !ok2 {
		return "", "", fmt.Errorf("%s requires string arguments", name)
	}

	return first, second, nil
}

func threeStrings(name string, positional []any) (string, string, string, error) {
	if len(positional) != 3 {
		return "", "", "", fmt.Errorf("%s takes three positional arguments", name)
	}

	first, ok1 := positional[0].(string)
	second, ok2 := positional[1].(string)
	third, ok3 := positional[2].(string)
	if !ok1 || !ok2 || !ok3 {
		return "", "", "", fmt.Errorf("%s requires string arguments", name)
	}

	return first, second, third, nil
}

func (p *hintParser) atEnd() bool {
	return p.pos >= len(p.input)
}

func (p *hintParser) peekIs(ch byte) bool {
	return !p.atEnd() && p.input[p.pos] == ch
}

func (p *hintParser) skipSpace() {
	for !p.atEnd() && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *hintParser) expect(ch byte) error {
	p.skipSpace()
	if !p.peekIs(ch) {
		return fmt.Errorf("expected %q at offset %d", string(ch), p.pos)
	}

	p.pos++
	return nil
}

func (p *hintParser) ident() (string, error) {
	p.skipSpace()
	start := p.pos

	for !p.atEnd() {
		ch := rune(p.input[p.pos])
		if !unicode.IsLetter(ch) && !unicode.IsDigit(ch) && ch != '_' {
			break
		}
		p.pos++
	}

	if p.pos == start {
		return "", fmt.Errorf("expected an identifier at offset %d", start)
	}

	return p.input[start:p.pos], nil
}

// tryKeyword consumes "name=" when the upcoming tokens form a keyword
// argument, reporting whether it did.
func (p *hintParser) tryKeyword() (string, bool) {
	p.skipSpace()
	saved := p.pos

	name, err := p.ident()
	if err != nil {
		p.pos = saved
		return "", false
	}

	// Keywords are followed by a bare '=', never '=='.
	if p.peekIs('=') {
		p.pos++
		return name, true
	}

	p.pos = saved
	return "", false
}

func (p *hintParser) value() (any, error) {
	p.skipSpace()
	if p.atEnd() {
		return nil, fmt.Errorf("expected a value at offset %d", p.pos)
	}

	switch ch := p.input[p.pos]; {
	case ch == '\'':
		return p.stringValue()

	case ch == '(':
		return p.sequenceValue('(', ')')

	case ch == '[':
		return p.sequenceValue('[', ']')

	case ch == '{':
		return p.mapValue()

	case ch == '<':
		if strings.HasPrefix(p.input[p.pos:], UserValuePlaceholder{}.String()) {
			p.pos += len(UserValuePlaceholder{}.String())
			return UserValuePlaceholder{}, nil
		}
		return nil, fmt.Errorf("unexpected %q at offset %d", string(ch), p.pos)

	case ch == '-' || (ch >= '0' && ch <= '9'):
		return p.numberValue()
	}

	word, err := p.ident()
	if err != nil {
		return nil, err
	}

	switch word {
	case "None":
		return nil, nil
	case "True":
		return true, nil
	case "False":
		return false, nil
	}

	return nil, fmt.Errorf("unexpected token %q", word)
}

func (p *hintParser) stringValue() (string, error) {
	p.skipSpace()
	if !p.peekIs('\'') {
		return "", fmt.Errorf("expected a string at offset %d", p.pos)
	}

	p.pos++
	var sb strings.Builder

	for !p.atEnd() {
		ch := p.input[p.pos]

		switch ch {
		case '\\':
			if p.pos+1 >= len(p.input) {
				return "", fmt.Errorf("unterminated escape in string")
			}
			sb.WriteByte(p.input[p.pos+1])
			p.pos += 2

		case '\'':
			p.pos++
			return sb.String(), nil

		default:
			sb.WriteByte(ch)
			p.pos++
		}
	}

	return "", fmt.Errorf("unterminated string")
}

func (p *hintParser) sequenceValue(open, closing byte) ([]any, error) {
	p.pos++
	var values []any

	p.skipSpace()
	for !p.peekIs(closing) {
		if p.atEnd() {
			return nil, fmt.Errorf("unterminated %q sequence", string(open))
		}

		value, err := p.value()
		if err != nil {
			return nil, err
		}

		values = append(values, value)

		p.skipSpace()
		if p.peekIs(',') {
			p.pos++
			p.skipSpace()
		}
	}
	p.pos++

	return values, nil
}

func (p *hintParser) mapValue() (map[string]any, error) {
	p.pos++
	result := map[string]any{}

	p.skipSpace()
	for !p.peekIs('}') {
		if p.atEnd() {
			return nil, fmt.Errorf("unterminated map")
		}

		key, err := p.stringValue()
		if err != nil {
			return nil, err
		}

		if err := p.expect(':'); err != nil {
			return nil, err
		}

		value, err := p.value()
		if err != nil {
			return nil, err
		}

		result[key] = value

		p.skipSpace()
		if p.peekIs(',') {
			p.pos++
			p.skipSpace()
		}
	}
	p.pos++

	return result, nil
}

func (p *hintParser) numberValue() (any, error) {
	start := p.pos

	if p.peekIs('-') {
		p.pos++
	}

	isFloat := false
	for !p.atEnd() {
		ch := p.input[p.pos]
		if ch == '.' {
			isFloat = true
			p.pos++
			continue
		}
		if ch < '0' || ch > '9' {
			break
		}
		p.pos++
	}

	text := p.input[start:p.pos]

	if isFloat {
		value, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", text)
		}
		return value, nil
	}

	value, err := strconv.Atoi(text)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", text)
	}

	return value, nil
}
