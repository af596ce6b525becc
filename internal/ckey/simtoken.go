package ckey

import (
	"context"
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"

	"github.com/pkg/errors"

	"vaultkeep/internal/cryptoprim"
)

// ChallengeResponseComponent is the hardware-token factor of a composite
// key: the file's master seed is "challenged" to a token, and the token's
// response is mixed into the composite. Real hardware (e.g. a YubiKey HMAC
// slot) is a collaborator concern; Token is the interface the core needs
// from it.
type Token interface {
	Challenge(seed []byte) ([]byte, error)
}

// ChallengeResponseComponent wraps a Token as a key component. Per
// spec.md's Open Question (c), the response is mixed into the composite
// before the KDF transform — the modern path, not the legacy
// after-transform mixing some old clients used.
type ChallengeResponseComponent struct {
	token Token
}

// NewChallengeResponseComponent wraps a Token as a key component.
func NewChallengeResponseComponent(token Token) *ChallengeResponseComponent {
	return &ChallengeResponseComponent{token: token}
}

func (c *ChallengeResponseComponent) Contribution(ctx context.Context, seed []byte) ([32]byte, error) {
	resp, err := c.token.Challenge(seed)
	if err != nil {
		return [32]byte{}, errors.Wrap(err, "ckey: challenge-response token failed")
	}
	defer cryptoprim.Zero(resp)
	return cryptoprim.SHA256(resp), nil
}

// SimulatedToken is the in-tree reference Token implementation, standing in
// for real hardware. It is grounded on the teacher's X25519/Ed25519
// device-identity primitives, repurposed from peer key exchange into a
// deterministic local challenge-response simulator: every Challenge call
// against the same seed reproduces the same response, the way a real
// HMAC-backed token would.
type SimulatedToken struct {
	signPriv ed25519.PrivateKey
	signPub  ed25519.PublicKey
	dhPriv   *ecdh.PrivateKey
	dhPub    *ecdh.PublicKey
}

// NewSimulatedToken generates a fresh device identity: an Ed25519 signing
// keypair and an X25519 exchange keypair. Persisting these is a
// collaborator concern; nothing in this module stores them.
func NewSimulatedToken() (*SimulatedToken, error) {
	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "ckey: generating device signing key")
	}
	dh := ecdh.X25519()
	dhPriv, err := dh.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "ckey: generating device exchange key")
	}
	return &SimulatedToken{
		signPriv: signPriv,
		signPub:  signPub,
		dhPriv:   dhPriv,
		dhPub:    dhPriv.PublicKey(),
	}, nil
}

// Challenge implements Token. A real HMAC token is deterministic — the
// same challenge always yields the same response — so Unlock can
// re-derive the composite key later. Challenge matches that: it signs
// SHA-256(seed) with the static Ed25519 identity key (Ed25519 signing is
// itself deterministic), then ECDH's against its own static public key
// using a scalar derived deterministically from the seed and the static
// private key, rather than a fresh random ephemeral.
func (t *SimulatedToken) Challenge(seed []byte) ([]byte, error) {
	digest := cryptoprim.SHA256(seed)
	sig := ed25519.Sign(t.signPriv, digest[:])

	scalarSeed := cryptoprim.SHA512(seed, t.dhPriv.Bytes())
	dh := ecdh.X25519()
	derived, err := dh.NewPrivateKey(scalarSeed[:32])
	if err != nil {
		return nil, errors.Wrap(err, "ckey: deriving challenge exchange key")
	}
	shared, err := derived.ECDH(t.dhPub)
	if err != nil {
		return nil, errors.Wrap(err, "ckey: computing shared secret")
	}

	out := make([]byte, 0, len(sig)+len(shared))
	out = append(out, sig...)
	out = append(out, shared...)
	return out, nil
}
