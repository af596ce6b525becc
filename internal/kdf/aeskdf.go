package kdf

import (
	"context"
	"crypto/aes"
	"crypto/sha256"
	"time"

	"github.com/pkg/errors"

	"vaultkeep/internal/cryptoprim"
)

// AESKDF is the legacy key-derivation scheme: the transform seed becomes an
// AES-256 key, and the composite key's two 16-byte halves are each run
// through the raw block cipher (ECB, one block at a time, no chaining —
// that's what the format calls for) Rounds times, then the two halves are
// concatenated and SHA-256'd.
type AESKDF struct {
	Seed   [32]byte
	Rounds uint64
}

// NewAESKDF returns an AESKDF with a fresh random seed and the given round
// count.
func NewAESKDF(rounds uint64) (*AESKDF, error) {
	k := &AESKDF{Rounds: rounds}
	if err := k.RandomizeSeed(); err != nil {
		return nil, err
	}
	return k, nil
}

func (k *AESKDF) RandomizeSeed() error {
	seed, err := cryptoprim.RandomBytes(32)
	if err != nil {
		return err
	}
	copy(k.Seed[:], seed)
	return nil
}

func (k *AESKDF) Params() VariantMap {
	return VariantMap{
		"algo":   "aes-kdf",
		"seed":   append([]byte(nil), k.Seed[:]...),
		"rounds": k.Rounds,
	}
}

func (k *AESKDF) Transform(ctx context.Context, composite [32]byte) ([32]byte, error) {
	block, err := aes.NewCipher(k.Seed[:])
	if err != nil {
		return [32]byte{}, errors.Wrap(err, "kdf: constructing AES-KDF block cipher")
	}

	var left, right [16]byte
	copy(left[:], composite[:16])
	copy(right[:], composite[16:])

	for i := uint64(0); i < k.Rounds; i++ {
		if i%4096 == 0 {
			if err := cancelled(ctx); err != nil {
				return [32]byte{}, err
			}
		}
		block.Encrypt(left[:], left[:])
		block.Encrypt(right[:], right[:])
	}

	h := sha256.New()
	h.Write(left[:])
	h.Write(right[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// Benchmark measures how many rounds AES-KDF can perform in targetMs
// milliseconds on this hardware, the way the desktop apps calibrate a new
// database's round count at creation time.
func (k *AESKDF) Benchmark(targetMs int64) (uint64, error) {
	block, err := aes.NewCipher(k.Seed[:])
	if err != nil {
		return 0, errors.Wrap(err, "kdf: constructing AES-KDF block cipher")
	}
	var buf [16]byte
	const sample = 200_000
	start := time.Now()
	for i := 0; i < sample; i++ {
		block.Encrypt(buf[:], buf[:])
	}
	elapsed := time.Since(start)
	if elapsed <= 0 {
		return sample, nil
	}
	perRound := elapsed.Nanoseconds() / sample
	if perRound <= 0 {
		return sample, nil
	}
	return uint64(targetMs*1_000_000) / uint64(perRound), nil
}
