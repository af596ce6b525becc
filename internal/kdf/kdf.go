// Package kdf implements the two pluggable key-derivation functions the
// container format supports: legacy AES-KDF and Argon2d. Both turn a
// composite key's raw 32-byte seed into a 32-byte transformed master key,
// and both are deliberately slow — this is the only place in the pipeline
// where the composite key is exposed to expensive cryptography.
package kdf

import (
	"context"

	"github.com/pkg/errors"

	"vaultkeep/internal/errs"
)

// VariantMap holds a KDF's parameters keyed by readable parameter name.
// It is not the on-disk variant-dictionary form; codec.EncodeKDFParameters
// builds that from the concrete KDF.
type VariantMap map[string]any

// KDF transforms a composite key into a transformed master key under a
// fixed set of parameters, and can randomize its own seed.
type KDF interface {
	// Transform derives the 32-byte transformed master key from the
	// composite key's raw seed. ctx is polled for cancellation between
	// rounds/iterations where the underlying primitive supports
	// incremental stepping.
	Transform(ctx context.Context, composite [32]byte) ([32]byte, error)
	// RandomizeSeed replaces the per-database transform seed with fresh
	// random bytes, as required before every save.
	RandomizeSeed() error
	// Params returns the KDF's parameters keyed by readable name.
	Params() VariantMap
}

// ErrAborted is returned by Transform when ctx is cancelled mid-transform.
var ErrAborted = errors.New("kdf: transform aborted")

func cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errs.Cancelled("kdf.Transform", ErrAborted)
	}
	return nil
}
