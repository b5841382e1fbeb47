// Package evidence turns raw phase observations supplied by the calling
// agent into immutable, phase-tagged evidence records. Collection is a
// pure function of the observations: each phase declares the shape it
// expects, and observations that do not match fail with a ShapeError
// before any state is touched.
package evidence
