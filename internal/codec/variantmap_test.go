package codec

import (
	"bytes"
	"testing"
)

func TestVariantMapRoundTrip(t *testing.T) {
	m := VariantMap{
		"$UUID": []byte{0x01, 0x02, 0x03, 0x04},
		"R":     uint64(2),
		"M":     uint64(1 << 20),
		"P":     uint32(4),
	}
	keys := []string{"$UUID", "R", "M", "P"}

	var buf bytes.Buffer
	if err := WriteVariantMap(&buf, m, keys); err != nil {
		t.Fatalf("WriteVariantMap: %v", err)
	}

	got, err := ReadVariantMap(&buf)
	if err != nil {
		t.Fatalf("ReadVariantMap: %v", err)
	}

	if v, ok := got.Uint64("R"); !ok || v != 2 {
		t.Fatalf("R: got %v, %v", v, ok)
	}
	if v, ok := got.Uint64("M"); !ok || v != 1<<20 {
		t.Fatalf("M: got %v, %v", v, ok)
	}
	if v, ok := got.Bytes("$UUID"); !ok || !bytes.Equal(v, []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Fatalf("$UUID: got %v, %v", v, ok)
	}
}
