// Package checkpoint evaluates phase evidence against checkpoint criteria.
//
// Evaluation is deterministic and side-effect-free: the same (criteria,
// evidence) pair always produces the same verdict, which is what makes
// session history replayable and auditable. A predicate that cannot be
// answered from the evidence at all is an UnresolvedError, distinct from
// a predicate that resolves but fails.
package checkpoint
