// Package workflow owns upgrade session state: the six ordered phases,
// checkpoint statuses, the transition table between them, and the
// append-only audit history of commands and artifacts.
//
// The package is pure state: it performs no I/O and holds no locks.
// Callers (the session service) serialize access per session.
package workflow
