package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"time"
)

// Entry records one captured file: where it lives, what it contained, and
// when it was captured. Segment 0 is the session-start snapshot; higher
// segments are appended at declared backup boundaries.
type Entry struct {
	Path       string      `json:"path"`
	Hash       string      `json:"hash"`
	Size       int64       `json:"size"`
	Mode       fs.FileMode `json:"mode"`
	Segment    int         `json:"segment"`
	CapturedAt time.Time   `json:"captured_at"`
}

// Manifest is the content-addressed record of captured state for one
// session. Digest covers all entries and is recomputed whenever a
// boundary segment is appended.
type Manifest struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Entries   []Entry   `json:"entries"`
	CreatedAt time.Time `json:"created_at"`
	Digest    string    `json:"digest"`
}

// RestoreResult summarizes a completed restore.
type RestoreResult struct {
	EntriesRestored int           `json:"entries_restored"`
	BytesRestored   int64         `json:"bytes_restored"`
	Verified        bool          `json:"verified"`
	Duration        time.Duration `json:"duration_ns"`
}

// IntegrityMismatchError reports a captured hash that cannot be reproduced
// from stored content. This implies backup corruption, not transient
// failure, so it is fatal and never retried automatically.
type IntegrityMismatchError struct {
	Path string
	Want string
	Got  string
}

func (e *IntegrityMismatchError) Error() string {
	return fmt.Sprintf("backup integrity mismatch for %s: manifest hash %s, content hash %s", e.Path, e.Want, e.Got)
}

// computeDigest derives the manifest digest over all entries.
func computeDigest(entries []Entry) string {
	h := sha256.New()
	for _, e := range entries {
		fmt.Fprintf(h, "%s\x00%s\x00%d\x00%d\n", e.Path, e.Hash, e.Size, e.Segment)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyDigest reports whether the manifest digest matches its entries.
func (m *Manifest) VerifyDigest() bool {
	return m.Digest == computeDigest(m.Entries)
}

// LatestSegment returns the highest segment number in the manifest.
func (m *Manifest) LatestSegment() int {
	latest := 0
	for _, e := range m.Entries {
		if e.Segment > latest {
			latest = e.Segment
		}
	}
	return latest
}
