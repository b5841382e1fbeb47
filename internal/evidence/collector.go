package evidence

import (
	"time"

	"github.com/fyrsmithlabs/upgraded/internal/workflow"
)

// Reserved observation keys accepted for every phase.
const (
	keyTimedOut  = "timed_out"
	keyCommands  = "commands"
	keyArtifacts = "artifacts"
)

// phaseShapes declares the expected observation shape per phase.
var phaseShapes = map[workflow.Phase][]Field{
	workflow.PhaseDiscover: {
		{Name: "current_version", Kind: KindString, Required: true},
		{Name: "target_version", Kind: KindString, Required: true},
		{Name: "dependency_count", Kind: KindInt},
	},
	workflow.PhaseSnapshot: {
		{Name: "targets_captured", Kind: KindInt, Required: true},
		{Name: "bytes_captured", Kind: KindInt, Required: true},
		{Name: "manifest_entries", Kind: KindInt},
	},
	workflow.PhaseApply: {
		{Name: "packages_upgraded", Kind: KindInt, Required: true},
		{Name: "diff_lines", Kind: KindInt, Required: true},
	},
	workflow.PhaseBuild: {
		{Name: "build_passed", Kind: KindBool, Required: true},
		{Name: "warning_count", Kind: KindInt},
	},
	workflow.PhaseVerify: {
		{Name: "tests_passed", Kind: KindInt, Required: true},
		{Name: "tests_failed", Kind: KindInt, Required: true},
		{Name: "coverage_percent", Kind: KindFloat},
	},
	workflow.PhaseFinalize: {
		{Name: "changelog_written", Kind: KindBool, Required: true},
		{Name: "summary", Kind: KindString},
	},
}

// Shape returns the declared observation fields for a phase.
func Shape(phase workflow.Phase) []Field {
	return phaseShapes[phase]
}

// Collect validates observations against the shape expected for phase and
// produces an immutable, time-stamped evidence record. It is a pure
// function of the observations: no hidden state, no side effects beyond
// stamping.
//
// A true "timed_out" observation is the timeout sentinel: it is accepted
// without the phase's required fields, and the checkpoint engine turns it
// into an automatic failed verdict.
func Collect(phase workflow.Phase, observations map[string]any) (*Evidence, error) {
	if !phase.Valid() {
		return nil, &ShapeError{Phase: phase, Field: "", Reason: "unknown phase"}
	}

	ev := &Evidence{
		Phase:       phase,
		Fields:      make(map[string]any, len(observations)),
		CollectedAt: time.Now(),
	}

	if v, ok := observations[keyTimedOut]; ok {
		b, ok := v.(bool)
		if !ok {
			return nil, &ShapeError{Phase: phase, Field: keyTimedOut, Reason: "expected bool"}
		}
		ev.TimedOut = b
	}

	if v, ok := observations[keyCommands]; ok {
		cmds, err := decodeCommands(phase, v)
		if err != nil {
			return nil, err
		}
		ev.Commands = cmds
	}
	if v, ok := observations[keyArtifacts]; ok {
		arts, err := decodeArtifacts(phase, v)
		if err != nil {
			return nil, err
		}
		ev.Artifacts = arts
	}

	shape := phaseShapes[phase]
	for _, f := range shape {
		raw, present := observations[f.Name]
		if !present {
			// timeout sentinel evidence carries no required facts
			if f.Required && !ev.TimedOut {
				return nil, &ShapeError{Phase: phase, Field: f.Name, Reason: "required field missing"}
			}
			continue
		}
		val, ok := coerce(raw, f.Kind)
		if !ok {
			return nil, &ShapeError{Phase: phase, Field: f.Name, Reason: "expected " + string(f.Kind)}
		}
		ev.Fields[f.Name] = val
	}

	// Undeclared scalar observations are carried through so criteria can
	// reference workflow-specific extras.
	for k, v := range observations {
		if k == keyTimedOut || k == keyCommands || k == keyArtifacts {
			continue
		}
		if _, declared := ev.Fields[k]; declared {
			continue
		}
		switch v.(type) {
		case string, bool, int, int64, float64:
			ev.Fields[k] = v
		}
	}

	return ev, nil
}

// coerce normalizes a raw observation value to the declared kind.
// JSON decoding yields float64 for all numbers, so integral floats are
// accepted for int fields.
func coerce(v any, kind FieldKind) (any, bool) {
	switch kind {
	case KindString:
		s, ok := v.(string)
		return s, ok
	case KindBool:
		b, ok := v.(bool)
		return b, ok
	case KindInt:
		switch n := v.(type) {
		case int:
			return int64(n), true
		case int64:
			return n, true
		case float64:
			if n == float64(int64(n)) {
				return int64(n), true
			}
			return nil, false
		default:
			return nil, false
		}
	case KindFloat:
		switch n := v.(type) {
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		case float64:
			return n, true
		default:
			return nil, false
		}
	default:
		return nil, false
	}
}

func decodeCommands(phase workflow.Phase, v any) ([]workflow.CommandExecution, error) {
	switch cmds := v.(type) {
	case []workflow.CommandExecution:
		out := make([]workflow.CommandExecution, len(cmds))
		copy(out, cmds)
		return out, nil
	case []any:
		out := make([]workflow.CommandExecution, 0, len(cmds))
		for _, item := range cmds {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, &ShapeError{Phase: phase, Field: keyCommands, Reason: "expected command objects"}
			}
			cmd := workflow.CommandExecution{Timestamp: time.Now()}
			if s, ok := m["command"].(string); ok {
				cmd.Command = s
			} else {
				return nil, &ShapeError{Phase: phase, Field: keyCommands, Reason: "command entry missing command string"}
			}
			if code, ok := coerce(m["exit_code"], KindInt); ok {
				cmd.ExitCode = int(code.(int64))
			}
			if d, ok := coerce(m["duration_ms"], KindInt); ok {
				cmd.Duration = time.Duration(d.(int64)) * time.Millisecond
			}
			out = append(out, cmd)
		}
		return out, nil
	default:
		return nil, &ShapeError{Phase: phase, Field: keyCommands, Reason: "expected list of command objects"}
	}
}

func decodeArtifacts(phase workflow.Phase, v any) ([]workflow.PhaseArtifact, error) {
	switch arts := v.(type) {
	case []workflow.PhaseArtifact:
		out := make([]workflow.PhaseArtifact, len(arts))
		copy(out, arts)
		return out, nil
	case []any:
		out := make([]workflow.PhaseArtifact, 0, len(arts))
		for _, item := range arts {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, &ShapeError{Phase: phase, Field: keyArtifacts, Reason: "expected artifact objects"}
			}
			art := workflow.PhaseArtifact{Phase: phase, CreatedAt: time.Now()}
			if s, ok := m["name"].(string); ok && s != "" {
				art.Name = s
			} else {
				return nil, &ShapeError{Phase: phase, Field: keyArtifacts, Reason: "artifact entry missing name"}
			}
			if s, ok := m["path"].(string); ok {
				art.Path = s
			}
			if s, ok := m["content_hash"].(string); ok {
				art.ContentHash = s
			}
			if s, ok := m["payload"].(string); ok {
				art.Payload = s
			}
			out = append(out, art)
		}
		return out, nil
	default:
		return nil, &ShapeError{Phase: phase, Field: keyArtifacts, Reason: "expected list of artifact objects"}
	}
}
