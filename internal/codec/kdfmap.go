package codec

import (
	"github.com/pkg/errors"

	"vaultkeep/internal/errs"
	"vaultkeep/internal/kdf"
)

// KDF UUIDs identifying which derivation function a header's "$UUID" field
// selects. These mirror the role the cipher UUIDs play for FieldCipherID:
// a fixed 16-byte tag, not random data.
var (
	kdfUUIDAESKDF   = [16]byte{0xC9, 0xD9, 0xF3, 0x9A, 0x62, 0x8A, 0x44, 0x60, 0xBF, 0x74, 0x0D, 0x08, 0xC1, 0x8A, 0x4F, 0xEA}
	kdfUUIDArgon2d  = [16]byte{0xEF, 0x63, 0x6D, 0xDF, 0x8C, 0x29, 0x44, 0x4B, 0x91, 0xF7, 0xA9, 0xA4, 0x03, 0xE3, 0x0A, 0x0C}
	kdfUUIDArgon2id = [16]byte{0x9E, 0x29, 0x8B, 0x19, 0x56, 0xDB, 0x47, 0x73, 0xB2, 0x3D, 0xFC, 0x3E, 0xC6, 0xF0, 0xA1, 0xD2}
)

// EncodeKDFParameters renders k's parameters into the on-disk variant map
// keyed "$UUID"/"R"/"S"/"M"/"P"/"I"/"V", the layout FieldKdfParameters
// carries.
func EncodeKDFParameters(k kdf.KDF) (VariantMap, error) {
	switch typed := k.(type) {
	case *kdf.AESKDF:
		return VariantMap{
			"$UUID": kdfUUIDAESKDF[:],
			"S":     append([]byte(nil), typed.Seed[:]...),
			"R":     typed.Rounds,
		}, nil
	case *kdf.Argon2KDF:
		id := kdfUUIDArgon2id
		if typed.Variant == kdf.Argon2d {
			id = kdfUUIDArgon2d
		}
		return VariantMap{
			"$UUID": id[:],
			"S":     append([]byte(nil), typed.Salt[:]...),
			"M":     uint64(typed.Memory),
			"P":     uint32(typed.Parallelism),
			"I":     uint64(typed.Iterations),
			"V":     uint32(typed.Version),
		}, nil
	default:
		return nil, errors.Errorf("codec: unsupported KDF type %T", k)
	}
}

// DecodeKDFParameters reconstructs a kdf.KDF from a header's variant map.
func DecodeKDFParameters(m VariantMap) (kdf.KDF, error) {
	rawUUID, ok := m.Bytes("$UUID")
	if !ok || len(rawUUID) != 16 {
		return nil, errs.Format("codec.DecodeKDFParameters", errors.New("missing or malformed $UUID"))
	}
	var id [16]byte
	copy(id[:], rawUUID)

	switch id {
	case kdfUUIDAESKDF:
		seed, ok := m.Bytes("S")
		if !ok || len(seed) != 32 {
			return nil, errs.Format("codec.DecodeKDFParameters", errors.New("AES-KDF: missing or malformed seed"))
		}
		rounds, ok := m.Uint64("R")
		if !ok {
			return nil, errs.Format("codec.DecodeKDFParameters", errors.New("AES-KDF: missing round count"))
		}
		k := &kdf.AESKDF{Rounds: rounds}
		copy(k.Seed[:], seed)
		return k, nil
	case kdfUUIDArgon2d, kdfUUIDArgon2id:
		salt, ok := m.Bytes("S")
		if !ok || len(salt) != 32 {
			return nil, errs.Format("codec.DecodeKDFParameters", errors.New("argon2: missing or malformed salt"))
		}
		memory, ok := m.Uint64("M")
		if !ok {
			return nil, errs.Format("codec.DecodeKDFParameters", errors.New("argon2: missing memory parameter"))
		}
		parallelism, ok := m.Uint32("P")
		if !ok {
			return nil, errs.Format("codec.DecodeKDFParameters", errors.New("argon2: missing parallelism parameter"))
		}
		iterations, ok := m.Uint64("I")
		if !ok {
			return nil, errs.Format("codec.DecodeKDFParameters", errors.New("argon2: missing iteration count"))
		}
		version, ok := m.Uint32("V")
		if !ok {
			version = 0x13
		}
		variant := kdf.Argon2id
		if id == kdfUUIDArgon2d {
			variant = kdf.Argon2d
		}
		k := &kdf.Argon2KDF{
			Variant:     variant,
			Memory:      uint32(memory),
			Iterations:  uint32(iterations),
			Parallelism: uint8(parallelism),
			Version:     version,
		}
		copy(k.Salt[:], salt)
		return k, nil
	default:
		return nil, errs.Format("codec.DecodeKDFParameters", errors.New("unrecognized KDF UUID"))
	}
}
