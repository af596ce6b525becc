package codec

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"vaultkeep/internal/cryptoprim"
	"vaultkeep/internal/errs"
)

// Magic words identifying a KeePass-format database and the KDBX variant.
const (
	SignatureBase  uint32 = 0x9AA2D903
	SignatureKDBX  uint32 = 0xB54BFB67
)

// Outer header field IDs shared by KDBX3 and KDBX4 (KDBX3-only and
// KDBX4-only fields are noted).
const (
	FieldEndOfHeader          byte = 0
	FieldComment              byte = 1
	FieldCipherID              byte = 2
	FieldCompressionFlags      byte = 3
	FieldMasterSeed            byte = 4
	FieldTransformSeed         byte = 5 // KDBX3 only (AES-KDF seed)
	FieldTransformRounds       byte = 6 // KDBX3 only (AES-KDF rounds)
	FieldEncryptionIV          byte = 7
	FieldInnerRandomStreamKey  byte = 8  // KDBX3 only; KDBX4 moves this to the inner header
	FieldStreamStartBytes      byte = 9  // KDBX3 only
	FieldInnerRandomStreamID   byte = 10 // KDBX3 only; KDBX4 moves this to the inner header
	FieldKdfParameters         byte = 11 // KDBX4 only
	FieldPublicCustomData      byte = 12 // KDBX4 only
)

// CompressionFlag selects whether the plaintext payload is gzip-compressed.
type CompressionFlag uint32

const (
	CompressionNone CompressionFlag = 0
	CompressionGzip CompressionFlag = 1
)

// cipherUUIDs maps the 16-byte cipher UUID used on disk to the cipher ID
// used internally. These are the fixed UUIDs the format defines; they are
// not random and must match byte-for-byte.
var (
	cipherUUIDAES256   = [16]byte{0x31, 0xC1, 0xF2, 0xE6, 0xBF, 0x71, 0x43, 0x50, 0xBE, 0x58, 0x05, 0x21, 0x6A, 0xFC, 0x5A, 0xFF}
	cipherUUIDChaCha20 = [16]byte{0xD6, 0x03, 0x8A, 0x2B, 0x8B, 0x6F, 0x4C, 0xB5, 0xA5, 0x24, 0x33, 0x9A, 0x31, 0xDB, 0xB5, 0x9A}
	cipherUUIDTwofish  = [16]byte{0xAD, 0x68, 0xF2, 0x9F, 0x57, 0x6F, 0x4B, 0xB9, 0xA3, 0x6A, 0xD4, 0x7A, 0xF9, 0x65, 0x34, 0x6C}
)

// CipherUUID returns the on-disk UUID for id.
func CipherUUID(id cryptoprim.CipherID) ([16]byte, error) {
	switch id {
	case cryptoprim.CipherAES256CBC:
		return cipherUUIDAES256, nil
	case cryptoprim.CipherChaCha20:
		return cipherUUIDChaCha20, nil
	case cryptoprim.CipherTwofishCBC:
		return cipherUUIDTwofish, nil
	default:
		return [16]byte{}, errors.Errorf("unknown cipher id %d", id)
	}
}

// CipherFromUUID is the inverse of CipherUUID.
func CipherFromUUID(u [16]byte) (cryptoprim.CipherID, error) {
	switch u {
	case cipherUUIDAES256:
		return cryptoprim.CipherAES256CBC, nil
	case cipherUUIDChaCha20:
		return cryptoprim.CipherChaCha20, nil
	case cipherUUIDTwofish:
		return cryptoprim.CipherTwofishCBC, nil
	default:
		return 0, errors.New("unrecognized cipher UUID")
	}
}

// OuterHeader is the parsed, decoded form of the outer header's TLV
// sequence: everything a reader needs before it can start decrypting.
type OuterHeader struct {
	CipherID         cryptoprim.CipherID
	Compression      CompressionFlag
	MasterSeed       [32]byte
	EncryptionIV     []byte
	KDFParameters    VariantMap // KDBX4
	PublicCustomData VariantMap // KDBX4, optional

	// KDBX3-only fields, populated by kdbx3.Read and ignored by kdbx4.
	TransformSeed        []byte
	TransformRounds      uint64
	InnerStreamID        cryptoprim.InnerStreamID
	InnerStreamKey       []byte
	StreamStartBytes     []byte

	// raw holds the exact header bytes read, needed to verify the header
	// SHA-256/HMAC that follows it.
	raw []byte
}

// RawBytes returns the exact bytes the header TLV sequence occupied,
// signature and version included, for integrity verification.
func (h *OuterHeader) RawBytes() []byte { return h.raw }

// ReadOuterHeader reads the magic signature, version, and TLV field
// sequence from r, stopping at FieldEndOfHeader. It validates the
// signature and the major version (minor version upgrades are accepted
// silently, per the format's own forward-compatibility rule).
func ReadOuterHeader(r io.Reader, expectKDBX4 bool) (*OuterHeader, error) {
	var buf bytes.Buffer
	tee := io.TeeReader(r, &buf)

	var sigBase, sigKDBX uint32
	if err := binary.Read(tee, binary.LittleEndian, &sigBase); err != nil {
		return nil, errs.Format("codec.ReadOuterHeader", errors.Wrap(err, "reading base signature"))
	}
	if err := binary.Read(tee, binary.LittleEndian, &sigKDBX); err != nil {
		return nil, errs.Format("codec.ReadOuterHeader", errors.Wrap(err, "reading kdbx signature"))
	}
	if sigBase != SignatureBase || sigKDBX != SignatureKDBX {
		return nil, errs.Format("codec.ReadOuterHeader", errors.New("not a KeePass-format database"))
	}

	var minor, major uint16
	if err := binary.Read(tee, binary.LittleEndian, &minor); err != nil {
		return nil, errs.Format("codec.ReadOuterHeader", err)
	}
	if err := binary.Read(tee, binary.LittleEndian, &major); err != nil {
		return nil, errs.Format("codec.ReadOuterHeader", err)
	}
	if expectKDBX4 && major != 4 {
		return nil, errs.Format("codec.ReadOuterHeader", errors.Errorf("unsupported major version %d, want 4", major))
	}
	if !expectKDBX4 && major != 3 {
		return nil, errs.Format("codec.ReadOuterHeader", errors.Errorf("unsupported major version %d, want 3", major))
	}

	h := &OuterHeader{}
	for {
		var id byte
		if err := binary.Read(tee, binary.LittleEndian, &id); err != nil {
			return nil, errs.Format("codec.ReadOuterHeader", errors.Wrap(err, "reading field id"))
		}
		var length uint32
		if major >= 4 {
			if err := binary.Read(tee, binary.LittleEndian, &length); err != nil {
				return nil, errs.Format("codec.ReadOuterHeader", err)
			}
		} else {
			var length16 uint16
			if err := binary.Read(tee, binary.LittleEndian, &length16); err != nil {
				return nil, errs.Format("codec.ReadOuterHeader", err)
			}
			length = uint32(length16)
		}
		value := make([]byte, length)
		if _, err := io.ReadFull(tee, value); err != nil {
			return nil, errs.Format("codec.ReadOuterHeader", errors.Wrap(err, "reading field value"))
		}
		if id == FieldEndOfHeader {
			h.raw = buf.Bytes()
			return h, nil
		}
		if err := h.applyField(id, value); err != nil {
			return nil, errs.Format("codec.ReadOuterHeader", err)
		}
	}
}

func (h *OuterHeader) applyField(id byte, value []byte) error {
	switch id {
	case FieldCipherID:
		if len(value) != 16 {
			return errors.New("cipher id field has wrong length")
		}
		var u [16]byte
		copy(u[:], value)
		cid, err := CipherFromUUID(u)
		if err != nil {
			return err
		}
		h.CipherID = cid
	case FieldCompressionFlags:
		if len(value) != 4 {
			return errors.New("compression flags field has wrong length")
		}
		h.Compression = CompressionFlag(binary.LittleEndian.Uint32(value))
	case FieldMasterSeed:
		if len(value) != 32 {
			return errors.New("master seed field has wrong length")
		}
		copy(h.MasterSeed[:], value)
	case FieldEncryptionIV:
		h.EncryptionIV = append([]byte(nil), value...)
	case FieldKdfParameters:
		m, err := ReadVariantMap(bytes.NewReader(value))
		if err != nil {
			return err
		}
		h.KDFParameters = m
	case FieldPublicCustomData:
		m, err := ReadVariantMap(bytes.NewReader(value))
		if err != nil {
			return err
		}
		h.PublicCustomData = m
	case FieldTransformSeed:
		h.TransformSeed = append([]byte(nil), value...)
	case FieldTransformRounds:
		if len(value) != 8 {
			return errors.New("transform rounds field has wrong length")
		}
		h.TransformRounds = binary.LittleEndian.Uint64(value)
	case FieldInnerRandomStreamID:
		if len(value) != 4 {
			return errors.New("inner random stream id field has wrong length")
		}
		h.InnerStreamID = cryptoprim.InnerStreamID(binary.LittleEndian.Uint32(value))
	case FieldInnerRandomStreamKey:
		h.InnerStreamKey = append([]byte(nil), value...)
	case FieldStreamStartBytes:
		h.StreamStartBytes = append([]byte(nil), value...)
	case FieldComment:
		// ignored
	default:
		// Unknown fields are preserved byte-for-byte in h.raw (used for the
		// header hash/HMAC) but otherwise skipped, per the format's own
		// forward-compatibility rule for unrecognized header fields.
	}
	return nil
}

// WriteOuterHeader serializes h as a KDBX4 outer header (signature,
// version 4.0, TLV fields, FieldEndOfHeader) to w, returning the exact
// bytes written for later integrity computation.
func WriteOuterHeader(w io.Writer, h *OuterHeader) ([]byte, error) {
	var buf bytes.Buffer
	write := func(v any) error { return binary.Write(&buf, binary.LittleEndian, v) }

	if err := write(SignatureBase); err != nil {
		return nil, err
	}
	if err := write(SignatureKDBX); err != nil {
		return nil, err
	}
	if err := write(uint16(0)); err != nil { // minor
		return nil, err
	}
	if err := write(uint16(4)); err != nil { // major
		return nil, err
	}

	cipherUUID, err := CipherUUID(h.CipherID)
	if err != nil {
		return nil, err
	}
	writeField := func(id byte, value []byte) error {
		if err := buf.WriteByte(id); err != nil {
			return err
		}
		if err := write(uint32(len(value))); err != nil {
			return err
		}
		_, err := buf.Write(value)
		return err
	}

	if err := writeField(FieldCipherID, cipherUUID[:]); err != nil {
		return nil, err
	}
	compression := make([]byte, 4)
	binary.LittleEndian.PutUint32(compression, uint32(h.Compression))
	if err := writeField(FieldCompressionFlags, compression); err != nil {
		return nil, err
	}
	if err := writeField(FieldMasterSeed, h.MasterSeed[:]); err != nil {
		return nil, err
	}
	if err := writeField(FieldEncryptionIV, h.EncryptionIV); err != nil {
		return nil, err
	}

	var kdfBuf bytes.Buffer
	if err := WriteVariantMap(&kdfBuf, h.KDFParameters, kdfParamOrder(h.KDFParameters)); err != nil {
		return nil, err
	}
	if err := writeField(FieldKdfParameters, kdfBuf.Bytes()); err != nil {
		return nil, err
	}

	if len(h.PublicCustomData) > 0 {
		var pcdBuf bytes.Buffer
		keys := make([]string, 0, len(h.PublicCustomData))
		for k := range h.PublicCustomData {
			keys = append(keys, k)
		}
		if err := WriteVariantMap(&pcdBuf, h.PublicCustomData, keys); err != nil {
			return nil, err
		}
		if err := writeField(FieldPublicCustomData, pcdBuf.Bytes()); err != nil {
			return nil, err
		}
	}

	if err := writeField(FieldEndOfHeader, []byte{'\r', '\n', '\r', '\n'}); err != nil {
		return nil, err
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		return nil, errs.IO("codec.WriteOuterHeader", "", err)
	}
	return buf.Bytes(), nil
}

// kdfParamOrder returns a stable field order for the KDF variant map so
// writers produce consistent output: the algorithm UUID first, then
// whatever algorithm-specific keys are present.
func kdfParamOrder(m VariantMap) []string {
	order := []string{"$UUID", "R", "S", "P", "M", "I", "V"}
	seen := map[string]bool{}
	for _, k := range order {
		seen[k] = true
	}
	for k := range m {
		if !seen[k] {
			order = append(order, k)
		}
	}
	return order
}

// VerifyHeaderIntegrity checks the 32-byte SHA-256 hash and 32-byte
// HMAC-SHA-256 that immediately follow the outer header, per the KDBX4
// container's header-authentication step.
func VerifyHeaderIntegrity(r io.Reader, rawHeader []byte, hmacBaseKey [64]byte) error {
	var gotHash [32]byte
	if _, err := io.ReadFull(r, gotHash[:]); err != nil {
		return errs.Format("codec.VerifyHeaderIntegrity", errors.Wrap(err, "reading header hash"))
	}
	wantHash := cryptoprim.SHA256(rawHeader)
	if gotHash != wantHash {
		return errs.Corruption("codec.VerifyHeaderIntegrity", errors.New("header hash mismatch"))
	}

	var gotHMAC [32]byte
	if _, err := io.ReadFull(r, gotHMAC[:]); err != nil {
		return errs.Format("codec.VerifyHeaderIntegrity", errors.Wrap(err, "reading header hmac"))
	}
	headerKey := cryptoprim.HeaderHMACKey(hmacBaseKey)
	wantHMAC := cryptoprim.HMACSHA256(headerKey[:], rawHeader)
	if !bytes.Equal(gotHMAC[:], wantHMAC) {
		return errs.Key("codec.VerifyHeaderIntegrity", errors.New("header HMAC mismatch, likely a wrong key"))
	}
	return nil
}

// WriteHeaderIntegrity writes the SHA-256 hash and HMAC-SHA-256 that must
// follow a freshly written outer header.
func WriteHeaderIntegrity(w io.Writer, rawHeader []byte, hmacBaseKey [64]byte) error {
	hash := cryptoprim.SHA256(rawHeader)
	if _, err := w.Write(hash[:]); err != nil {
		return errs.IO("codec.WriteHeaderIntegrity", "", err)
	}
	headerKey := cryptoprim.HeaderHMACKey(hmacBaseKey)
	mac := cryptoprim.HMACSHA256(headerKey[:], rawHeader)
	if _, err := w.Write(mac); err != nil {
		return errs.IO("codec.WriteHeaderIntegrity", "", err)
	}
	return nil
}
