package checkpoint

import (
	"sort"

	"github.com/fyrsmithlabs/upgraded/internal/evidence"
	"github.com/fyrsmithlabs/upgraded/internal/workflow"
)

// Result is the outcome of evaluating criteria against evidence.
// FailedPredicates lists every resolved-but-untrue predicate, sorted by
// name, so the caller can report exactly what blocked the checkpoint.
type Result struct {
	Status           workflow.CheckpointStatus
	FailedPredicates []string
}

// Evaluate checks every criterion against the evidence and returns the
// verdict. All predicates must pass for a passed verdict; any resolved
// predicate that is untrue yields failed. A predicate whose field is
// absent from the evidence fails with UnresolvedError before any verdict
// is reached. Timeout-sentinel evidence is an automatic failed verdict.
func Evaluate(criteria Criteria, ev *evidence.Evidence) (Result, error) {
	if ev.TimedOut {
		return Result{Status: workflow.StatusFailed, FailedPredicates: []string{"phase timeout"}}, nil
	}
	if len(criteria) == 0 {
		return Result{Status: workflow.StatusPassed}, nil
	}

	// Deterministic order regardless of map iteration.
	names := make([]string, 0, len(criteria))
	for name := range criteria {
		names = append(names, name)
	}
	sort.Strings(names)

	var failed []string
	for _, name := range names {
		c := criteria[name]
		raw, present := ev.Field(c.Field)
		if !present {
			return Result{}, &UnresolvedError{Predicate: name, Field: c.Field, Reason: "field not present in evidence"}
		}
		ok, err := apply(name, c, raw)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			failed = append(failed, name)
		}
	}

	if len(failed) > 0 {
		return Result{Status: workflow.StatusFailed, FailedPredicates: failed}, nil
	}
	return Result{Status: workflow.StatusPassed}, nil
}

func apply(name string, c Criterion, raw any) (bool, error) {
	switch c.Kind {
	case KindMin:
		got, ok := asFloat(raw)
		if !ok {
			return false, &UnresolvedError{Predicate: name, Field: c.Field, Reason: "field is not numeric"}
		}
		want, ok := asFloat(c.Value)
		if !ok {
			return false, &UnresolvedError{Predicate: name, Field: c.Field, Reason: "criterion value is not numeric"}
		}
		return got >= want, nil

	case KindMax:
		got, ok := asFloat(raw)
		if !ok {
			return false, &UnresolvedError{Predicate: name, Field: c.Field, Reason: "field is not numeric"}
		}
		want, ok := asFloat(c.Value)
		if !ok {
			return false, &UnresolvedError{Predicate: name, Field: c.Field, Reason: "criterion value is not numeric"}
		}
		return got <= want, nil

	case KindEquals:
		return scalarEqual(raw, c.Value), nil

	case KindOneOf:
		if len(c.Values) == 0 {
			return false, &UnresolvedError{Predicate: name, Field: c.Field, Reason: "one_of criterion has no values"}
		}
		for _, v := range c.Values {
			if scalarEqual(raw, v) {
				return true, nil
			}
		}
		return false, nil

	case KindNonzero:
		if s, ok := raw.(string); ok {
			return s != "", nil
		}
		if b, ok := raw.(bool); ok {
			return b, nil
		}
		got, ok := asFloat(raw)
		if !ok {
			return false, &UnresolvedError{Predicate: name, Field: c.Field, Reason: "field is not numeric, string, or bool"}
		}
		return got != 0, nil

	default:
		return false, &UnresolvedError{Predicate: name, Field: c.Field, Reason: "unknown criterion kind " + string(c.Kind)}
	}
}

// asFloat widens any numeric value for comparison. JSON decoding yields
// float64, collectors yield int64.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// scalarEqual compares two scalars, treating all numeric types as one.
func scalarEqual(a, b any) bool {
	if af, ok := asFloat(a); ok {
		bf, ok := asFloat(b)
		return ok && af == bf
	}
	return a == b
}
