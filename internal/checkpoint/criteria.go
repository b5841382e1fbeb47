package checkpoint

import (
	"fmt"
)

// Kind is the comparison a criterion applies to an evidence field.
// The set is closed; unknown kinds fail evaluation as unresolved.
type Kind string

const (
	// KindMin requires a numeric field >= Value.
	KindMin Kind = "min"
	// KindMax requires a numeric field <= Value.
	KindMax Kind = "max"
	// KindEquals requires the field to equal Value exactly.
	KindEquals Kind = "equals"
	// KindOneOf requires the field to be a member of Values.
	KindOneOf Kind = "one_of"
	// KindNonzero requires a numeric field != 0 or a non-empty string.
	KindNonzero Kind = "nonzero"
)

// Criterion is one named predicate over a single evidence field.
type Criterion struct {
	Field  string `json:"field"`
	Kind   Kind   `json:"kind"`
	Value  any    `json:"value,omitempty"`
	Values []any  `json:"values,omitempty"`
}

// Criteria maps predicate names to criteria. It is owned by phase
// configuration and treated as immutable once a phase starts evaluating.
// An empty set always passes: a fast path for phases with no gating
// requirement.
type Criteria map[string]Criterion

// UnresolvedError reports a predicate that cannot be answered from the
// evidence's fields. It is distinct from a failed predicate, which yields
// a failed verdict rather than an error.
type UnresolvedError struct {
	Predicate string
	Field     string
	Reason    string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("criteria unresolved: predicate %q field %q: %s", e.Predicate, e.Field, e.Reason)
}
