package codec

import (
	"bytes"
	"testing"

	"vaultkeep/internal/cryptoprim"
)

func TestOuterHeaderRoundTrip(t *testing.T) {
	iv, _ := cryptoprim.RandomBytes(cryptoprim.IVSize(cryptoprim.CipherAES256CBC))
	h := &OuterHeader{
		CipherID:     cryptoprim.CipherAES256CBC,
		Compression:  CompressionGzip,
		EncryptionIV: iv,
		KDFParameters: VariantMap{
			"$UUID": []byte("aeskdf-uuid-1234"),
			"R":     uint64(6),
		},
	}
	if _, err := cryptoprim.RandomBytes(32); err != nil {
		t.Fatalf("random: %v", err)
	}
	copy(h.MasterSeed[:], bytes.Repeat([]byte{0x42}, 32))

	var buf bytes.Buffer
	if _, err := WriteOuterHeader(&buf, h); err != nil {
		t.Fatalf("WriteOuterHeader: %v", err)
	}

	got, err := ReadOuterHeader(&buf, true)
	if err != nil {
		t.Fatalf("ReadOuterHeader: %v", err)
	}
	if got.CipherID != h.CipherID {
		t.Fatalf("CipherID: got %v want %v", got.CipherID, h.CipherID)
	}
	if got.Compression != h.Compression {
		t.Fatalf("Compression: got %v want %v", got.Compression, h.Compression)
	}
	if got.MasterSeed != h.MasterSeed {
		t.Fatal("MasterSeed mismatch")
	}
	if !bytes.Equal(got.EncryptionIV, h.EncryptionIV) {
		t.Fatal("EncryptionIV mismatch")
	}
	if r, ok := got.KDFParameters.Uint64("R"); !ok || r != 6 {
		t.Fatalf("KDF R param: got %v, %v", r, ok)
	}
}

func TestHeaderIntegrityRoundTrip(t *testing.T) {
	seed, _ := cryptoprim.RandomBytes(32)
	tmk, _ := cryptoprim.RandomBytes(32)
	base := cryptoprim.HMACBaseKey(seed, tmk)
	raw := []byte("pretend this is the raw header bytes")

	var buf bytes.Buffer
	if err := WriteHeaderIntegrity(&buf, raw, base); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := VerifyHeaderIntegrity(&buf, raw, base); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestHeaderIntegrityRejectsWrongKey(t *testing.T) {
	seed, _ := cryptoprim.RandomBytes(32)
	tmk, _ := cryptoprim.RandomBytes(32)
	base := cryptoprim.HMACBaseKey(seed, tmk)
	wrongTMK, _ := cryptoprim.RandomBytes(32)
	wrongBase := cryptoprim.HMACBaseKey(seed, wrongTMK)
	raw := []byte("pretend this is the raw header bytes")

	var buf bytes.Buffer
	if err := WriteHeaderIntegrity(&buf, raw, base); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := VerifyHeaderIntegrity(&buf, raw, wrongBase); err == nil {
		t.Fatal("expected hmac mismatch with wrong key")
	}
}
