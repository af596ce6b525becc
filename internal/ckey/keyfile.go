package ckey

import (
	"context"
	"encoding/hex"
	"encoding/xml"
	"os"

	"github.com/pkg/errors"

	"vaultkeep/internal/cryptoprim"
)

// KeyFileComponent is the keyfile factor of a composite key. It sniffs the
// file's content to decide which of the supported keyfile shapes it is:
// a raw 32-byte binary key, a hex-encoded 64-character key, an
// XML-wrapped key file, or an arbitrary file hashed whole.
type KeyFileComponent struct {
	path string
}

// NewKeyFileComponent wraps a keyfile path as a key component.
func NewKeyFileComponent(path string) *KeyFileComponent {
	return &KeyFileComponent{path: path}
}

type xmlKeyFile struct {
	Key struct {
		Data string `xml:"Data"`
	} `xml:"Key"`
}

func (k *KeyFileComponent) Contribution(ctx context.Context, seed []byte) ([32]byte, error) {
	raw, err := os.ReadFile(k.path)
	if err != nil {
		return [32]byte{}, errors.Wrapf(err, "ckey: reading keyfile %s", k.path)
	}

	if len(raw) == 32 {
		var out [32]byte
		copy(out[:], raw)
		return out, nil
	}

	if len(raw) == 64 {
		if decoded, err := hex.DecodeString(string(raw)); err == nil && len(decoded) == 32 {
			var out [32]byte
			copy(out[:], decoded)
			return out, nil
		}
	}

	var wrapped xmlKeyFile
	if err := xml.Unmarshal(raw, &wrapped); err == nil && wrapped.Key.Data != "" {
		return cryptoprim.SHA256([]byte(wrapped.Key.Data)), nil
	}

	return cryptoprim.SHA256(raw), nil
}
