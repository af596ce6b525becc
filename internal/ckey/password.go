package ckey

import (
	"context"

	"golang.org/x/text/unicode/norm"

	"vaultkeep/internal/cryptoprim"
)

// PasswordComponent is the password factor of a composite key: the
// password text, NFC-normalized so the same password typed on different
// keyboard layouts or input methods produces the same contribution, then
// SHA-256'd.
type PasswordComponent struct {
	password string
}

// NewPasswordComponent wraps a password string as a key component.
func NewPasswordComponent(password string) *PasswordComponent {
	return &PasswordComponent{password: password}
}

func (p *PasswordComponent) Contribution(ctx context.Context, seed []byte) ([32]byte, error) {
	normalized := norm.NFC.String(p.password)
	return cryptoprim.SHA256([]byte(normalized)), nil
}
