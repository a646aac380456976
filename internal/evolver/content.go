package evolver

import (
	"strings"

	"github.com/reloquent/evolve/internal/mutations"
)

// EvolutionContent renders mutations as the contents of a YAML evolution
// file, ready to drop into the catalog.
func EvolutionContent(muts []mutations.Mutation) string {
	var sb strings.Builder
	sb.WriteString("mutations:\n")

	for _, mutation := range muts {
		hint := mutation.Hint()
		hint = strings.ReplaceAll(hint, `\`, `\\`)
		hint = strings.ReplaceAll(hint, `"`, `\"`)

		sb.WriteString("  - \"" + hint + "\"\n")
	}

	return sb.String()
}
