// Package platform holds the OS-facing collaborator interfaces spec.md §1
// calls out as external to the core: clipboard handling for the CLI's
// clip subcommand, and process hardening (disabling core dumps) in
// support of spec.md §5's secret-hygiene requirement that derived keys
// never persist somewhere a crash could leak them.
package platform

import (
	"sync/atomic"
	"time"
)

// Clipboard sets the OS clipboard contents and optionally schedules a
// clear after ttl, so a copied password doesn't sit in the clipboard
// indefinitely. Grounded on the teacher's Clipboard interface; the
// no-op default backend is kept as-is (no OS clipboard library appears
// anywhere in the retrieval pack), but Set now takes the TTL
// responsibility the teacher's noopClipboard never needed, since it never
// held anything to clear.
type Clipboard interface {
	Set(text string, ttl time.Duration) error
}

type noopClipboard struct{}

func (n noopClipboard) Set(string, time.Duration) error { return nil }

// NewClipboard returns the default Clipboard backend: a no-op. A real OS
// backend (X11/Wayland/pbcopy/clip.exe shell-outs) is a collaborator
// concern the core does not implement; cmd/vaultkeep's clip subcommand is
// wired against this interface so a caller can substitute one without
// touching the core.
func NewClipboard() Clipboard { return noopClipboard{} }

// TimedClipboard wraps a Clipboard so that every Set schedules a
// follow-up Set("", 0) after ttl, clearing whatever was just copied
// unless a newer Set has already superseded it. Useful for wiring a real
// OS clipboard backend without making every backend implement its own
// timer.
type TimedClipboard struct {
	inner Clipboard
	gen   atomic.Uint64
}

// NewTimedClipboard wraps inner with TTL-based auto-clear.
func NewTimedClipboard(inner Clipboard) *TimedClipboard {
	return &TimedClipboard{inner: inner}
}

func (t *TimedClipboard) Set(text string, ttl time.Duration) error {
	mine := t.gen.Add(1)
	if err := t.inner.Set(text, ttl); err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}
	go func() {
		time.Sleep(ttl)
		if t.gen.Load() == mine {
			_ = t.inner.Set("", 0)
		}
	}()
	return nil
}
