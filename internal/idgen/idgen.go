// Package idgen generates the opaque IDs used for jobs, sessions and atomic
// tasks. Job and session IDs are a "job_" / "sess_" prefix on a UUIDv4
// (opacity is all that's required of them).
// Atomic-task IDs inside a single decomposition session must instead be
// deterministic given a fixed session ID and a fixed sequence of splits, so
// that replaying a session with a stubbed oracle produces byte-identical
// output (spec.md §8, round-trip property). A wall-clock-seeded random
// source cannot satisfy that; a counter hashed together with the session ID
// can.
package idgen

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// NewJobID returns a fresh opaque job identifier.
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewSessionID returns a fresh opaque decomposition session identifier.
func NewSessionID() string {
	return "sess_" + uuid.New().String()
}

// SessionSequence deterministically derives atomic-task IDs for one
// decomposition session. Each call to Next advances an internal counter
// seeded from the session ID, so two sequences built from the same session
// ID produce the same ID for the Nth call.
type SessionSequence struct {
	sessionID string
	counter   uint64
}

// NewSessionSequence builds a SessionSequence rooted at sessionID.
func NewSessionSequence(sessionID string) *SessionSequence {
	return &SessionSequence{sessionID: sessionID}
}

// Next returns the next deterministic atomic-task ID in the sequence.
func (s *SessionSequence) Next() string {
	s.counter++
	sum := blake2b.Sum256([]byte(fmt.Sprintf("%s:%d", s.sessionID, s.counter)))
	return "atom_" + hex.EncodeToString(sum[:8])
}

// Counter returns the number of IDs issued so far.
func (s *SessionSequence) Counter() uint64 { return s.counter }
