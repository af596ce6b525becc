package kdbx3

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"vaultkeep/internal/ckey"
	"vaultkeep/internal/codec"
	"vaultkeep/internal/codec/xmltree"
	"vaultkeep/internal/cryptoprim"
	"vaultkeep/internal/kdf"
	"vaultkeep/internal/model"
)

// writeHashedBlock encodes one legacy (index, SHA-256 hash, length,
// payload) frame, mirroring the format codec.ReadHashedBlockStream
// expects. Duplicated here, rather than exported from package codec,
// because nothing in this engine ever writes the legacy format outside
// of test fixtures.
func writeHashedBlockStream(w *bytes.Buffer, data []byte) {
	const blockSize = 1 << 20
	idx := uint32(0)
	for offset := 0; offset < len(data); idx++ {
		end := offset + blockSize
		if end > len(data) {
			end = len(data)
		}
		writeHashedBlock(w, idx, data[offset:end])
		offset = end
	}
	writeHashedBlock(w, idx, nil)
}

func writeHashedBlock(w *bytes.Buffer, idx uint32, chunk []byte) {
	binary.Write(w, binary.LittleEndian, idx)
	hash := [32]byte{}
	if len(chunk) > 0 {
		hash = cryptoprim.SHA256(chunk)
	}
	w.Write(hash[:])
	binary.Write(w, binary.LittleEndian, uint32(len(chunk)))
	w.Write(chunk)
}

func writeField16(w *bytes.Buffer, id byte, value []byte) {
	w.WriteByte(id)
	binary.Write(w, binary.LittleEndian, uint16(len(value)))
	w.Write(value)
}

// buildLegacyFile hand-assembles a minimal valid KDBX3.1 file for
// composite and db, so Read can be exercised without a real legacy file
// fixture on disk.
func buildLegacyFile(t *testing.T, db *model.Database, composite *ckey.CompositeKey, cipher cryptoprim.CipherID, rounds uint64, compress bool) []byte {
	t.Helper()

	masterSeed, err := cryptoprim.RandomBytes(32)
	if err != nil {
		t.Fatalf("random master seed: %v", err)
	}
	transformSeed, err := cryptoprim.RandomBytes(32)
	if err != nil {
		t.Fatalf("random transform seed: %v", err)
	}
	iv, err := cryptoprim.RandomBytes(cryptoprim.IVSize(cipher))
	if err != nil {
		t.Fatalf("random iv: %v", err)
	}
	streamKey, err := cryptoprim.RandomBytes(32)
	if err != nil {
		t.Fatalf("random stream key: %v", err)
	}
	streamStart, err := cryptoprim.RandomBytes(32)
	if err != nil {
		t.Fatalf("random stream start: %v", err)
	}

	aesKDF := &kdf.AESKDF{Rounds: rounds}
	copy(aesKDF.Seed[:], transformSeed)

	var seed32 [32]byte
	copy(seed32[:], masterSeed)
	rawComposite, err := composite.RawKey(context.Background(), masterSeed)
	if err != nil {
		t.Fatalf("raw composite: %v", err)
	}
	tmk, err := aesKDF.Transform(context.Background(), rawComposite)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}

	stream, err := cryptoprim.NewInnerStream(cryptoprim.InnerStreamSalsa20, streamKey)
	if err != nil {
		t.Fatalf("new inner stream: %v", err)
	}
	xmlBytes, err := xmltree.Marshal(db, stream, nil)
	if err != nil {
		t.Fatalf("marshal xml: %v", err)
	}

	payload := xmlBytes
	compression := codec.CompressionNone
	if compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(xmlBytes); err != nil {
			t.Fatalf("gzip write: %v", err)
		}
		if err := zw.Close(); err != nil {
			t.Fatalf("gzip close: %v", err)
		}
		payload = buf.Bytes()
		compression = codec.CompressionGzip
	}

	var hashedStream bytes.Buffer
	writeHashedBlockStream(&hashedStream, payload)

	toEncrypt := append(append([]byte(nil), streamStart...), hashedStream.Bytes()...)
	cipherKey := cryptoprim.CipherKey(masterSeed, tmk[:])
	ciphertext, err := cryptoprim.Encrypt(cipher, cipherKey[:], iv, toEncrypt)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, codec.SignatureBase)
	binary.Write(&out, binary.LittleEndian, codec.SignatureKDBX)
	binary.Write(&out, binary.LittleEndian, uint16(1)) // minor
	binary.Write(&out, binary.LittleEndian, uint16(3)) // major

	cipherUUID, err := codec.CipherUUID(cipher)
	if err != nil {
		t.Fatalf("cipher uuid: %v", err)
	}
	writeField16(&out, codec.FieldCipherID, cipherUUID[:])
	compBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(compBuf, uint32(compression))
	writeField16(&out, codec.FieldCompressionFlags, compBuf)
	writeField16(&out, codec.FieldMasterSeed, seed32[:])
	writeField16(&out, codec.FieldTransformSeed, transformSeed)
	roundsBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(roundsBuf, rounds)
	writeField16(&out, codec.FieldTransformRounds, roundsBuf)
	writeField16(&out, codec.FieldEncryptionIV, iv)
	writeField16(&out, codec.FieldInnerRandomStreamKey, streamKey)
	writeField16(&out, codec.FieldStreamStartBytes, streamStart)
	streamIDBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(streamIDBuf, uint32(cryptoprim.InnerStreamSalsa20))
	writeField16(&out, codec.FieldInnerRandomStreamID, streamIDBuf)
	writeField16(&out, codec.FieldEndOfHeader, []byte{'\r', '\n', '\r', '\n'})

	out.Write(ciphertext)
	return out.Bytes()
}

func TestReadLegacyFile(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	db := model.NewDatabase(now)
	db.Metadata.Name = "Legacy Vault"
	e := model.NewEntry(now)
	e.SetAttr(model.AttrTitle, "Old Entry")
	e.SetAttr(model.AttrPassword, "oldsecret")
	_ = db.Root().AddEntry(e)

	composite := ckey.New(ckey.NewPasswordComponent("legacy password"))

	data := buildLegacyFile(t, db, composite, cryptoprim.CipherAES256CBC, 600, true)

	result, err := Read(context.Background(), bytes.NewReader(data), composite)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if result.Database.Metadata.Name != "Legacy Vault" {
		t.Fatalf("metadata name: got %q", result.Database.Metadata.Name)
	}
	got := result.Database.Root().FindEntryByPath("Old Entry")
	if got == nil {
		t.Fatal("entry not found")
	}
	if got.Attr(model.AttrPassword) != "oldsecret" {
		t.Fatalf("password: got %q", got.Attr(model.AttrPassword))
	}
}

func TestReadLegacyFileRejectsWrongPassword(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	db := model.NewDatabase(now)

	right := ckey.New(ckey.NewPasswordComponent("right"))
	wrong := ckey.New(ckey.NewPasswordComponent("wrong"))

	data := buildLegacyFile(t, db, right, cryptoprim.CipherAES256CBC, 600, false)

	if _, err := Read(context.Background(), bytes.NewReader(data), wrong); err == nil {
		t.Fatal("expected Read with the wrong password to fail")
	}
}
