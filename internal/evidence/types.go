package evidence

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/upgraded/internal/workflow"
)

// FieldKind is the expected type of one observation field.
type FieldKind string

const (
	KindString FieldKind = "string"
	KindInt    FieldKind = "int"
	KindFloat  FieldKind = "float"
	KindBool   FieldKind = "bool"
)

// Field declares one expected observation field for a phase.
type Field struct {
	Name     string
	Kind     FieldKind
	Required bool
}

// Evidence is an immutable, time-stamped record of the facts one phase
// attempt observed. Multiple attempts produce multiple records; all are
// retained in session history.
type Evidence struct {
	Phase       workflow.Phase              `json:"phase"`
	Fields      map[string]any              `json:"fields"`
	Commands    []workflow.CommandExecution `json:"commands,omitempty"`
	Artifacts   []workflow.PhaseArtifact    `json:"artifacts,omitempty"`
	TimedOut    bool                        `json:"timed_out,omitempty"`
	CollectedAt time.Time                   `json:"collected_at"`
}

// Field returns the named evidence field and whether it is present.
func (e *Evidence) Field(name string) (any, bool) {
	v, ok := e.Fields[name]
	return v, ok
}

// ShapeError reports observations that do not match the expected shape
// for a phase. No state mutation occurs when it is returned.
type ShapeError struct {
	Phase  workflow.Phase
	Field  string
	Reason string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("evidence shape error: phase %d (%s) field %q: %s",
		int(e.Phase), e.Phase, e.Field, e.Reason)
}
