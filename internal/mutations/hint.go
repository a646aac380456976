package mutations

import (
	"fmt"
	"sort"
	"strings"

	"github.com/reloquent/evolve/internal/signature"
)

// UserValuePlaceholder marks an initial value the user must fill in before a
// hinted evolution can run.
type UserValuePlaceholder struct{}

func (UserValuePlaceholder) String() string {
	return "<<USER VALUE REQUIRED>>"
}

// hintValue renders a mutation parameter value in hint syntax. Strings are
// single-quoted, booleans and nil use their keyword spellings, and nested
// tuples keep their structure so that together values read back unchanged.
func hintValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "None"

	case bool:
		if v {
			return "True"
		}
		return "False"

	case string:
		return "'" + strings.ReplaceAll(v, "'", "\\'") + "'"

	case signature.FieldType:
		return "'" + string(v) + "'"

	case UserValuePlaceholder:
		return v.String()

	case []string:
		return hintTuple(stringsToAny(v))

	case [][]string:
		entries := make([]string, len(v))
		for i, entry := range v {
			entries[i] = hintTuple(stringsToAny(entry))
		}
		return "[" + strings.Join(entries, ", ") + "]"

	case []any:
		return hintTuple(v)

	case []*signature.IndexSignature:
		entries := make([]string, len(v))
		for i, indexSig := range v {
			entries[i] = hintIndex(indexSig)
		}
		return "[" + strings.Join(entries, ", ") + "]"
	}

	return fmt.Sprintf("%v", value)
}

func hintTuple(values []any) string {
	rendered := make([]string, len(values))
	for i, value := range values {
		rendered[i] = hintValue(value)
	}

	if len(rendered) == 1 {
		// Single-element tuples keep the trailing comma.
		return "(" + rendered[0] + ",)"
	}

	return "(" + strings.Join(rendered, ", ") + ")"
}

func hintIndex(indexSig *signature.IndexSignature) string {
	parts := []string{
		"'fields': " + hintTuple(stringsToAny(indexSig.Fields)),
	}

	if indexSig.Name != "" {
		parts = append(parts, "'name': "+hintValue(indexSig.Name))
	}

	return "{" + strings.Join(parts, ", ") + "}"
}

func stringsToAny(values []string) []any {
	result := make([]any, len(values))
	for i, value := range values {
		result[i] = value
	}

	return result
}

// hintCall assembles a mutation hint from its name, positional arguments and
// keyword arguments. Keyword order is preserved as given.
type hintArg struct {
	Name  string
	Value any
}

func hintCall(name string, positional []any, keywords []hintArg) string {
	args := make([]string, 0, len(positional)+len(keywords))

	for _, value := range positional {
		args = append(args, hintValue(value))
	}

	for _, kw := range keywords {
		args = append(args, kw.Name+"="+hintValue(kw.Value))
	}

	return name + "(" + strings.Join(args, ", ") + ")"
}

// sortedAttrArgs renders an attribute map as keyword arguments in name
// order.
func sortedAttrArgs(attrs map[string]any) []hintArg {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	args := make([]hintArg, len(names))
	for i, name := range names {
		args[i] = hintArg{Name: name, Value: attrs[name]}
	}

	return args
}
