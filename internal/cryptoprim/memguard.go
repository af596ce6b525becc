//go:build linux || darwin

package cryptoprim

import "golang.org/x/sys/unix"

// LockMemory pins b so it is never paged to swap, for the lifetime of a
// transformed master key or a composite key's raw seed.
func LockMemory(b []byte) error { return unix.Mlock(b) }

// UnlockMemory undoes LockMemory. Callers should Zero the buffer first.
func UnlockMemory(b []byte) error { return unix.Munlock(b) }
