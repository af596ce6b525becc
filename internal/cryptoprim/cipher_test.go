package cryptoprim

import (
	"bytes"
	"testing"
)

func TestCBCRoundTrip(t *testing.T) {
	for _, id := range []CipherID{CipherAES256CBC, CipherTwofishCBC} {
		key, _ := RandomBytes(32)
		iv, _ := RandomBytes(IVSize(id))
		pt := []byte("the quick brown fox jumps over the lazy dog")
		ct, err := Encrypt(id, key, iv, pt)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		got, err := Decrypt(id, key, iv, ct)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if !bytes.Equal(got, pt) {
			t.Fatalf("cipher %d: round-trip mismatch", id)
		}
	}
}

func TestChaCha20RoundTrip(t *testing.T) {
	key, _ := RandomBytes(32)
	iv, _ := RandomBytes(IVSize(CipherChaCha20))
	pt := []byte("short")
	ct, err := Encrypt(CipherChaCha20, key, iv, pt)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if len(ct) != len(pt) {
		t.Fatalf("chacha20 must not pad: got %d want %d", len(ct), len(pt))
	}
	got, err := Decrypt(CipherChaCha20, key, iv, ct)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, pt) {
		t.Fatal("chacha20 round-trip mismatch")
	}
}

func TestCBCRejectsTamperedPadding(t *testing.T) {
	key, _ := RandomBytes(32)
	iv, _ := RandomBytes(IVSize(CipherAES256CBC))
	ct, err := Encrypt(CipherAES256CBC, key, iv, []byte("hello world"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	ct[len(ct)-1] ^= 0xFF
	if _, err := Decrypt(CipherAES256CBC, key, iv, ct); err == nil {
		t.Fatal("expected padding error after tamper")
	}
}

func TestInnerStreamOrderMatters(t *testing.T) {
	key, _ := RandomBytes(32)
	enc, err := NewInnerStream(InnerStreamChaCha20, key)
	if err != nil {
		t.Fatalf("new stream: %v", err)
	}
	fields := [][]byte{[]byte("Password"), []byte("hunter2"), []byte("notes")}
	var ciphered [][]byte
	for _, f := range fields {
		out := make([]byte, len(f))
		enc.XOR(out, f)
		ciphered = append(ciphered, out)
	}

	dec, err := NewInnerStream(InnerStreamChaCha20, key)
	if err != nil {
		t.Fatalf("new stream: %v", err)
	}
	for i, c := range ciphered {
		out := make([]byte, len(c))
		dec.XOR(out, c)
		if !bytes.Equal(out, fields[i]) {
			t.Fatalf("field %d: got %q want %q", i, out, fields[i])
		}
	}
}

func FuzzCBCRoundTrip(f *testing.F) {
	f.Add([]byte("the quick brown fox"))
	f.Add([]byte(""))
	f.Add(bytes.Repeat([]byte{0xAA}, 1000))
	f.Fuzz(func(t *testing.T, pt []byte) {
		key, _ := RandomBytes(32)
		iv, _ := RandomBytes(IVSize(CipherAES256CBC))
		ct, err := Encrypt(CipherAES256CBC, key, iv, pt)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		got, err := Decrypt(CipherAES256CBC, key, iv, ct)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if !bytes.Equal(got, pt) {
			t.Fatalf("round-trip mismatch for %d-byte input", len(pt))
		}
	})
}

func TestSalsa20InnerStreamRoundTrip(t *testing.T) {
	key, _ := RandomBytes(64)
	enc, err := NewInnerStream(InnerStreamSalsa20, key)
	if err != nil {
		t.Fatalf("new stream: %v", err)
	}
	pt := bytes.Repeat([]byte("x"), 200)
	ct := make([]byte, len(pt))
	enc.XOR(ct[:50], pt[:50])
	enc.XOR(ct[50:], pt[50:])

	dec, err := NewInnerStream(InnerStreamSalsa20, key)
	if err != nil {
		t.Fatalf("new stream: %v", err)
	}
	got := make([]byte, len(ct))
	dec.XOR(got, ct)
	if !bytes.Equal(got, pt) {
		t.Fatal("salsa20 round-trip mismatch")
	}
}
