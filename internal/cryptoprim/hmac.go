package cryptoprim

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
)

// HMACBaseKey derives the base key the block stream's per-block HMAC keys
// are derived from: SHA-512(masterSeed || transformedMasterKey || 0x01),
// per spec.md's header-integrity scheme.
func HMACBaseKey(masterSeed, transformedMasterKey []byte) [64]byte {
	h := sha512.New()
	h.Write(masterSeed)
	h.Write(transformedMasterKey)
	h.Write([]byte{0x01})
	var out [64]byte
	copy(out[:], h.Sum(nil))
	return out
}

// BlockHMACKey derives the HMAC key for block index idx:
// SHA-512(idx_u64_le || hmacBaseKey).
func BlockHMACKey(base [64]byte, idx uint64) [64]byte {
	var idxBuf [8]byte
	binary.LittleEndian.PutUint64(idxBuf[:], idx)
	h := sha512.New()
	h.Write(idxBuf[:])
	h.Write(base[:])
	var out [64]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HeaderHMACKey derives the HMAC key covering the outer header: it uses the
// block-index scheme with the all-ones 8-byte index, matching the KDBX4
// convention of treating the header as "block -1" (0xFFFFFFFFFFFFFFFF).
func HeaderHMACKey(base [64]byte) [64]byte {
	return BlockHMACKey(base, ^uint64(0))
}

// CipherKey derives the symmetric encryption key for the payload:
// SHA-256(masterSeed || transformedMasterKey).
func CipherKey(masterSeed, transformedMasterKey []byte) [32]byte {
	h := sha256.New()
	h.Write(masterSeed)
	h.Write(transformedMasterKey)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HMACSHA256 computes HMAC-SHA256(key, data...), concatenating data in
// order, for block-stream and header authentication.
func HMACSHA256(key []byte, data ...[]byte) []byte {
	mac := hmac.New(sha256.New, key)
	for _, d := range data {
		mac.Write(d)
	}
	return mac.Sum(nil)
}

// SHA256 hashes data, used for the header integrity check and for
// password/keyfile composite-key contributions.
func SHA256(data ...[]byte) [32]byte {
	h := sha256.New()
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// SHA512 hashes data into a 64-byte digest.
func SHA512(data ...[]byte) [64]byte {
	h := sha512.New()
	for _, d := range data {
		h.Write(d)
	}
	var out [64]byte
	copy(out[:], h.Sum(nil))
	return out
}
