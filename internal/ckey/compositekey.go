// Package ckey implements the composite key: an ordered list of secret
// factors (password, keyfile, challenge-response token) that combine into
// the 32-byte seed the KDF transforms. Order is significant and is never
// stored on disk — callers must reconstruct components in the same order
// used at creation time.
package ckey

import (
	"context"
	"crypto/subtle"

	"vaultkeep/internal/cryptoprim"
)

// Component contributes 32 bytes of key material to a CompositeKey.
type Component interface {
	// Contribution returns this component's 32-byte seed contribution.
	// seed is the database's master seed, needed by challenge-response
	// components but ignored by the others.
	Contribution(ctx context.Context, seed []byte) ([32]byte, error)
}

// CompositeKey is an ordered collection of key components.
type CompositeKey struct {
	components []Component
}

// New builds a CompositeKey from components in the given order. Reordering
// components produces a different composite, by design.
func New(components ...Component) *CompositeKey {
	return &CompositeKey{components: append([]Component(nil), components...)}
}

// RawKey returns SHA-256 of the concatenation of every component's
// contribution, in order.
func (c *CompositeKey) RawKey(ctx context.Context, masterSeed []byte) ([32]byte, error) {
	h := make([]byte, 0, 32*len(c.components))
	for _, comp := range c.components {
		contrib, err := comp.Contribution(ctx, masterSeed)
		if err != nil {
			return [32]byte{}, err
		}
		h = append(h, contrib[:]...)
		cryptoprim.Zero32(&contrib)
	}
	defer cryptoprim.Zero(h)
	return cryptoprim.SHA256(h), nil
}

// Equal compares two composite keys by the value of their raw key, in
// constant time, given the same master seed to evaluate challenge-response
// components against.
func Equal(ctx context.Context, a, b *CompositeKey, masterSeed []byte) (bool, error) {
	ra, err := a.RawKey(ctx, masterSeed)
	if err != nil {
		return false, err
	}
	defer cryptoprim.Zero32(&ra)
	rb, err := b.RawKey(ctx, masterSeed)
	if err != nil {
		return false, err
	}
	defer cryptoprim.Zero32(&rb)
	return subtle.ConstantTimeCompare(ra[:], rb[:]) == 1, nil
}
