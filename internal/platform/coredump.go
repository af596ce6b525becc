//go:build linux || darwin

package platform

import "golang.org/x/sys/unix"

// DisableCoreDumps sets RLIMIT_CORE to zero for the running process, so a
// crash never writes a core file containing a transformed master key or
// decrypted attribute plaintext that outlived its zero-on-drop buffer.
// cmd/vaultkeep calls this once at startup, mirroring the teacher's
// internal/crypto/memguard.go use of golang.org/x/sys/unix for
// process-level memory hardening.
func DisableCoreDumps() error {
	var rlim unix.Rlimit
	rlim.Cur = 0
	rlim.Max = 0
	return unix.Setrlimit(unix.RLIMIT_CORE, &rlim)
}
