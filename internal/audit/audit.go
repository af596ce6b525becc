// Package audit provides a hash-chained decision trail: an append-only log
// where each entry's hash covers the previous entry's hash plus its What
// text, so a verifier can detect a reordered or edited log, or one with
// entries removed before its last, by re-walking the chain. Adapted from the teacher's internal/audit package
// (originally a generic action log for the HTTP server) into the merge
// engine's reconciliation trail: one entry per group/entry/tombstone
// decision, so a caller can show what a merge actually did and confirm
// afterward that the record wasn't tampered with.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Entry is one hash-chained record: what happened, when, and the running
// hash over the What text of every entry up to and including this one
// (When is not hashed).
type Entry struct {
	When time.Time
	What string
	Hash string
}

// Log is an append-only, hash-chained sequence of Entries.
type Log struct {
	lastHash []byte
	entries  []Entry
}

// New returns an empty Log.
func New() *Log { return &Log{} }

// Append records what, stamped at when, chaining its hash onto the
// previous entry's.
func (l *Log) Append(when time.Time, what string) Entry {
	h := sha256.New()
	h.Write(l.lastHash)
	h.Write([]byte(what))
	sum := h.Sum(nil)
	l.lastHash = sum
	e := Entry{When: when, What: what, Hash: hex.EncodeToString(sum)}
	l.entries = append(l.entries, e)
	return e
}

// Entries returns a copy of every recorded entry, oldest first.
func (l *Log) Entries() []Entry { return append([]Entry(nil), l.entries...) }

// Verify re-walks the chain, reporting ok=false and the index of the first
// entry whose hash doesn't match a fresh re-derivation from its
// predecessor — a reordered or edited log, or one missing entries before
// its last, fails here. A log cut short at its end still verifies, and
// an edited When is not detected.
func (l *Log) Verify() (ok bool, badIndex int) {
	var prev []byte
	for i, e := range l.entries {
		h := sha256.New()
		h.Write(prev)
		h.Write([]byte(e.What))
		sum := h.Sum(nil)
		if hex.EncodeToString(sum) != e.Hash {
			return false, i
		}
		prev = sum
	}
	return true, -1
}
