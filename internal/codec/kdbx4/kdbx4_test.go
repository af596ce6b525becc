package kdbx4

import (
	"bytes"
	"context"
	"testing"
	"time"

	"vaultkeep/internal/ckey"
	"vaultkeep/internal/codec"
	"vaultkeep/internal/cryptoprim"
	"vaultkeep/internal/kdf"
	"vaultkeep/internal/model"
)

func newTestDatabase(now time.Time) *model.Database {
	db := model.NewDatabase(now)
	db.Metadata.Name = "Personal"

	banking := model.NewGroup(now)
	banking.Name = "Banking"
	_ = db.Root().AddGroup(banking)

	e := model.NewEntry(now)
	e.SetAttr(model.AttrTitle, "Checking")
	e.SetAttr(model.AttrUserName, "alice")
	e.SetAttr(model.AttrPassword, "s3cr3t")
	e.SetAttr(model.AttrURL, "https://bank.example")
	_ = banking.AddEntry(e)

	return db
}

func TestWriteReadRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	db := newTestDatabase(now)

	composite := ckey.New(ckey.NewPasswordComponent("correct horse battery staple"))

	aesKDF, err := kdf.NewAESKDF(2000)
	if err != nil {
		t.Fatalf("NewAESKDF: %v", err)
	}

	var buf bytes.Buffer
	opts := WriteOptions{
		Cipher:   cryptoprim.CipherAES256CBC,
		Compress: true,
		KDF:      aesKDF,
	}
	if _, err := Write(context.Background(), &buf, db, composite, opts); err != nil {
		t.Fatalf("Write: %v", err)
	}

	result, err := Read(context.Background(), bytes.NewReader(buf.Bytes()), composite)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if result.Database.Metadata.Name != "Personal" {
		t.Fatalf("metadata name: got %q", result.Database.Metadata.Name)
	}
	entry := result.Database.Root().FindEntryByPath("Banking/Checking")
	if entry == nil {
		t.Fatal("entry not found after round trip")
	}
	if entry.Attr(model.AttrPassword) != "s3cr3t" {
		t.Fatalf("password: got %q", entry.Attr(model.AttrPassword))
	}
	if entry.Attr(model.AttrUserName) != "alice" {
		t.Fatalf("username: got %q", entry.Attr(model.AttrUserName))
	}
	if result.Cipher != cryptoprim.CipherAES256CBC {
		t.Fatalf("cipher: got %v", result.Cipher)
	}
	if result.Compression != codec.CompressionGzip {
		t.Fatalf("compression: got %v", result.Compression)
	}
}

// TestWriteReadRoundTripAttachments covers the inner header's binary
// pool end to end: an attachment shared by two entries must be written
// once and resolve back to the same bytes on both sides after a real
// encrypt/decrypt round trip, not just through xmltree in isolation.
func TestWriteReadRoundTripAttachments(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	db := newTestDatabase(now)

	shared := []byte("shared attachment bytes")
	unique := []byte("a different file entirely")

	entry := db.Root().FindEntryByPath("Banking/Checking")
	entry.Attachments["statement.pdf"] = model.Attachment{Name: "statement.pdf", Data: shared, Hash: cryptoprim.SHA256(shared)}

	other := model.NewEntry(now)
	other.SetAttr(model.AttrTitle, "Second")
	other.Attachments["statement.pdf"] = model.Attachment{Name: "statement.pdf", Data: shared, Hash: cryptoprim.SHA256(shared)}
	other.Attachments["note.txt"] = model.Attachment{Name: "note.txt", Data: unique, Hash: cryptoprim.SHA256(unique)}
	if err := db.Root().AddEntry(other); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	composite := ckey.New(ckey.NewPasswordComponent("correct horse battery staple"))
	aesKDF, err := kdf.NewAESKDF(2000)
	if err != nil {
		t.Fatalf("NewAESKDF: %v", err)
	}

	var buf bytes.Buffer
	opts := WriteOptions{Cipher: cryptoprim.CipherAES256CBC, Compress: true, KDF: aesKDF}
	if _, err := Write(context.Background(), &buf, db, composite, opts); err != nil {
		t.Fatalf("Write: %v", err)
	}

	result, err := Read(context.Background(), bytes.NewReader(buf.Bytes()), composite)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	gotChecking := result.Database.Root().FindEntryByPath("Banking/Checking")
	if gotChecking == nil {
		t.Fatal("Checking entry not found after round trip")
	}
	if string(gotChecking.Attachments["statement.pdf"].Data) != string(shared) {
		t.Fatalf("statement.pdf on Checking: got %q", gotChecking.Attachments["statement.pdf"].Data)
	}

	gotSecond := result.Database.Root().FindEntryByPath("Second")
	if gotSecond == nil {
		t.Fatal("Second entry not found after round trip")
	}
	if string(gotSecond.Attachments["statement.pdf"].Data) != string(shared) {
		t.Fatalf("statement.pdf on Second: got %q", gotSecond.Attachments["statement.pdf"].Data)
	}
	if string(gotSecond.Attachments["note.txt"].Data) != string(unique) {
		t.Fatalf("note.txt on Second: got %q", gotSecond.Attachments["note.txt"].Data)
	}
}

func TestReadRejectsWrongPassword(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	db := newTestDatabase(now)

	right := ckey.New(ckey.NewPasswordComponent("right password"))
	wrong := ckey.New(ckey.NewPasswordComponent("wrong password"))

	aesKDF, err := kdf.NewAESKDF(2000)
	if err != nil {
		t.Fatalf("NewAESKDF: %v", err)
	}

	var buf bytes.Buffer
	opts := WriteOptions{Cipher: cryptoprim.CipherChaCha20, Compress: false, KDF: aesKDF}
	if _, err := Write(context.Background(), &buf, db, right, opts); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, err := Read(context.Background(), bytes.NewReader(buf.Bytes()), wrong); err == nil {
		t.Fatal("expected Read with the wrong password to fail")
	}
}

func TestWriteReadRoundTripArgon2(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	db := newTestDatabase(now)

	composite := ckey.New(ckey.NewPasswordComponent("argon2 password"))
	argonKDF, err := kdf.DefaultArgon2KDF()
	if err != nil {
		t.Fatalf("DefaultArgon2KDF: %v", err)
	}
	argonKDF.Memory = 8 * 1024 // keep the test fast
	argonKDF.Iterations = 1

	var buf bytes.Buffer
	opts := WriteOptions{Cipher: cryptoprim.CipherTwofishCBC, Compress: true, KDF: argonKDF}
	if _, err := Write(context.Background(), &buf, db, composite, opts); err != nil {
		t.Fatalf("Write: %v", err)
	}

	result, err := Read(context.Background(), bytes.NewReader(buf.Bytes()), composite)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if _, ok := result.KDF.(*kdf.Argon2KDF); !ok {
		t.Fatalf("KDF: got %T, want *kdf.Argon2KDF", result.KDF)
	}
}
