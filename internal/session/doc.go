// Package session owns the lifecycle of upgrade sessions: creation and
// resume, evidence submission through checkpoint evaluation, skip,
// rollback, abort, and terminal report generation.
//
// The Service is the single writer for a session. All state changes flow
// through the workflow state machine and are persisted atomically after
// each operation, so a daemon restart resumes from the last accepted
// evidence. The file store keeps one JSON document per session.
package session
