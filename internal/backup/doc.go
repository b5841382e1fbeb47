// Package backup captures pre-upgrade project state into content-addressed
// manifests and restores it exactly on rollback.
//
// Every entry carries a SHA-256 content hash that is recomputed and
// compared on restore; a mismatch means the backup itself is corrupt and
// is surfaced as a fatal IntegrityMismatchError, never retried. Restore is
// all-or-nothing: every object is verified before the first byte is
// written back.
package backup
