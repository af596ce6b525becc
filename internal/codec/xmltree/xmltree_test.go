package xmltree

import (
	"testing"
	"time"

	"vaultkeep/internal/cryptoprim"
	"vaultkeep/internal/model"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	db := model.NewDatabase(now)
	db.Metadata.Name = "Test Vault"

	banking := model.NewGroup(now)
	banking.Name = "Banking"
	if err := db.Root().AddGroup(banking); err != nil {
		t.Fatalf("AddGroup: %v", err)
	}

	e := model.NewEntry(now)
	e.SetAttr(model.AttrTitle, "Checking")
	e.SetAttr(model.AttrUserName, "alice")
	e.SetAttr(model.AttrPassword, "s3cr3t")
	if err := banking.AddEntry(e); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	key, _ := cryptoprim.RandomBytes(32)

	encStream, err := cryptoprim.NewInnerStream(cryptoprim.InnerStreamChaCha20, key)
	if err != nil {
		t.Fatalf("new stream: %v", err)
	}
	data, err := Marshal(db, encStream, nil)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	decStream, err := cryptoprim.NewInnerStream(cryptoprim.InnerStreamChaCha20, key)
	if err != nil {
		t.Fatalf("new stream: %v", err)
	}
	got, err := Unmarshal(data, decStream, now, nil)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got.Metadata.Name != "Test Vault" {
		t.Fatalf("metadata name: got %q", got.Metadata.Name)
	}
	gotEntry := got.Root().FindEntryByPath("Banking/Checking")
	if gotEntry == nil {
		t.Fatal("entry not found after round trip")
	}
	if gotEntry.Attr(model.AttrUserName) != "alice" {
		t.Fatalf("username: got %q", gotEntry.Attr(model.AttrUserName))
	}
	if gotEntry.Attr(model.AttrPassword) != "s3cr3t" {
		t.Fatalf("password: got %q want %q (protected field XOR order must match)", gotEntry.Attr(model.AttrPassword), "s3cr3t")
	}
}

// TestMarshalUnmarshalAttachmentRoundTrip covers an entry attachment
// referencing the binary pool by index rather than carrying its bytes
// inline: two entries sharing identical attachment content must collapse
// to one pool slot, and both must resolve back to the same bytes.
func TestMarshalUnmarshalAttachmentRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	db := model.NewDatabase(now)

	data1 := []byte("the first file's bytes")
	data2 := []byte("a second, different file")

	e1 := model.NewEntry(now)
	e1.SetAttr(model.AttrTitle, "One")
	e1.Attachments["doc.txt"] = model.Attachment{Name: "doc.txt", Data: data1, Hash: cryptoprim.SHA256(data1)}
	if err := db.Root().AddEntry(e1); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	e2 := model.NewEntry(now)
	e2.SetAttr(model.AttrTitle, "Two")
	e2.Attachments["same.txt"] = model.Attachment{Name: "same.txt", Data: data1, Hash: cryptoprim.SHA256(data1)}
	e2.Attachments["other.txt"] = model.Attachment{Name: "other.txt", Data: data2, Hash: cryptoprim.SHA256(data2)}
	if err := db.Root().AddEntry(e2); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	pool := [][]byte{data1, data2}
	binaryIndex := map[[32]byte]int{
		cryptoprim.SHA256(data1): 0,
		cryptoprim.SHA256(data2): 1,
	}

	key, _ := cryptoprim.RandomBytes(32)
	encStream, err := cryptoprim.NewInnerStream(cryptoprim.InnerStreamChaCha20, key)
	if err != nil {
		t.Fatalf("new stream: %v", err)
	}
	xmlBytes, err := Marshal(db, encStream, binaryIndex)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	decStream, err := cryptoprim.NewInnerStream(cryptoprim.InnerStreamChaCha20, key)
	if err != nil {
		t.Fatalf("new stream: %v", err)
	}
	got, err := Unmarshal(xmlBytes, decStream, now, pool)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	gotOne := got.Root().FindEntryByPath("One")
	if gotOne == nil {
		t.Fatal("entry One not found")
	}
	if string(gotOne.Attachments["doc.txt"].Data) != string(data1) {
		t.Fatalf("doc.txt data: got %q", gotOne.Attachments["doc.txt"].Data)
	}

	gotTwo := got.Root().FindEntryByPath("Two")
	if gotTwo == nil {
		t.Fatal("entry Two not found")
	}
	if string(gotTwo.Attachments["same.txt"].Data) != string(data1) {
		t.Fatalf("same.txt data: got %q", gotTwo.Attachments["same.txt"].Data)
	}
	if string(gotTwo.Attachments["other.txt"].Data) != string(data2) {
		t.Fatalf("other.txt data: got %q", gotTwo.Attachments["other.txt"].Data)
	}
}
