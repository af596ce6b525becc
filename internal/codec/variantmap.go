// Package codec implements the binary container format shared by the
// KDBX4 and KDBX3.1 readers/writers: the outer header TLV, the variant-
// dictionary encoding used for KDF parameters and public custom data, the
// inner header, and the authenticated block stream.
package codec

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"

	"vaultkeep/internal/errs"
)

// VariantType tags the value stored under a VariantMap key.
type VariantType byte

const (
	VariantUInt32    VariantType = 0x04
	VariantUInt64    VariantType = 0x05
	VariantBool      VariantType = 0x08
	VariantInt32     VariantType = 0x0C
	VariantInt64     VariantType = 0x0D
	VariantString    VariantType = 0x18
	VariantByteArray VariantType = 0x42
)

const variantMapVersion uint16 = 0x0100
const variantMapEnd byte = 0x00

// VariantMap is the self-describing key/value dictionary format used for
// KDF parameters (the "$UUID", "R", "S", "M", "P", "V" keys for AES-KDF
// and Argon2) and for the public custom-data header field. Values are
// typed: uint32/uint64/int32/int64/bool/string/[]byte.
type VariantMap map[string]any

// ReadVariantMap decodes a VariantMap from r: a little-endian u16 version,
// then a sequence of (type, key, value) entries terminated by a 0x00 type
// byte.
func ReadVariantMap(r io.Reader) (VariantMap, error) {
	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, errs.Format("codec.ReadVariantMap", errors.Wrap(err, "reading version"))
	}
	if version>>8 != variantMapVersion>>8 {
		return nil, errs.Format("codec.ReadVariantMap", errors.Errorf("unsupported variant map version %#x", version))
	}

	m := VariantMap{}
	for {
		var typ byte
		if err := binary.Read(r, binary.LittleEndian, &typ); err != nil {
			return nil, errs.Format("codec.ReadVariantMap", errors.Wrap(err, "reading entry type"))
		}
		if typ == variantMapEnd {
			return m, nil
		}
		key, err := readVariantBytes(r)
		if err != nil {
			return nil, errs.Format("codec.ReadVariantMap", errors.Wrap(err, "reading key"))
		}
		raw, err := readVariantBytes(r)
		if err != nil {
			return nil, errs.Format("codec.ReadVariantMap", errors.Wrap(err, "reading value"))
		}
		val, err := decodeVariantValue(VariantType(typ), raw)
		if err != nil {
			return nil, errs.Format("codec.ReadVariantMap", err)
		}
		m[string(key)] = val
	}
}

func readVariantBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func decodeVariantValue(typ VariantType, raw []byte) (any, error) {
	switch typ {
	case VariantUInt32:
		if len(raw) != 4 {
			return nil, errors.Errorf("uint32 value has length %d", len(raw))
		}
		return binary.LittleEndian.Uint32(raw), nil
	case VariantUInt64:
		if len(raw) != 8 {
			return nil, errors.Errorf("uint64 value has length %d", len(raw))
		}
		return binary.LittleEndian.Uint64(raw), nil
	case VariantInt32:
		if len(raw) != 4 {
			return nil, errors.Errorf("int32 value has length %d", len(raw))
		}
		return int32(binary.LittleEndian.Uint32(raw)), nil
	case VariantInt64:
		if len(raw) != 8 {
			return nil, errors.Errorf("int64 value has length %d", len(raw))
		}
		return int64(binary.LittleEndian.Uint64(raw)), nil
	case VariantBool:
		if len(raw) != 1 {
			return nil, errors.Errorf("bool value has length %d", len(raw))
		}
		return raw[0] != 0, nil
	case VariantString:
		return string(raw), nil
	case VariantByteArray:
		return raw, nil
	default:
		return nil, errors.Errorf("unknown variant type %#x", typ)
	}
}

// WriteVariantMap encodes m to w in key-insertion order given by keys, so
// callers control field ordering for byte-exact round trips (map iteration
// order is otherwise undefined).
func WriteVariantMap(w io.Writer, m VariantMap, keys []string) error {
	if err := binary.Write(w, binary.LittleEndian, variantMapVersion); err != nil {
		return errs.IO("codec.WriteVariantMap", "", err)
	}
	for _, key := range keys {
		val, ok := m[key]
		if !ok {
			continue
		}
		typ, raw, err := encodeVariantValue(val)
		if err != nil {
			return errs.Format("codec.WriteVariantMap", err)
		}
		if err := writeVariantEntry(w, byte(typ), []byte(key), raw); err != nil {
			return errs.IO("codec.WriteVariantMap", "", err)
		}
	}
	_, err := w.Write([]byte{variantMapEnd})
	if err != nil {
		return errs.IO("codec.WriteVariantMap", "", err)
	}
	return nil
}

func encodeVariantValue(val any) (VariantType, []byte, error) {
	switch v := val.(type) {
	case uint32:
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, v)
		return VariantUInt32, buf, nil
	case uint64:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, v)
		return VariantUInt64, buf, nil
	case int32:
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(v))
		return VariantInt32, buf, nil
	case int64:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(v))
		return VariantInt64, buf, nil
	case bool:
		b := byte(0)
		if v {
			b = 1
		}
		return VariantBool, []byte{b}, nil
	case string:
		return VariantString, []byte(v), nil
	case []byte:
		return VariantByteArray, v, nil
	default:
		return 0, nil, errors.Errorf("unsupported variant map value type %T", val)
	}
}

func writeVariantEntry(w io.Writer, typ byte, key, value []byte) error {
	if len(key) > math.MaxInt32 || len(value) > math.MaxInt32 {
		return errors.New("variant map entry too large")
	}
	if _, err := w.Write([]byte{typ}); err != nil {
		return err
	}
	if err := writeVariantBytes(w, key); err != nil {
		return err
	}
	return writeVariantBytes(w, value)
}

func writeVariantBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// Uint32 reads a uint32-typed entry, returning ok=false if the key is
// absent or holds a different type.
func (m VariantMap) Uint32(key string) (uint32, bool) {
	v, ok := m[key].(uint32)
	return v, ok
}

// Uint64 reads a uint64-typed entry, returning ok=false if the key is
// absent or holds a different type.
func (m VariantMap) Uint64(key string) (uint64, bool) {
	v, ok := m[key].(uint64)
	return v, ok
}

// Bytes reads a byte-array-typed entry, returning ok=false if the key is
// absent or holds a different type.
func (m VariantMap) Bytes(key string) ([]byte, bool) {
	v, ok := m[key].([]byte)
	return v, ok
}
