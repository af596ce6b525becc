// Package totp implements the TOTP one-time-code settings spec.md §3
// mentions an Entry may carry, encoded into ordinary attribute strings so
// the codec and merge engine need no special casing for them. Adapted
// from the teacher's internal/totp package: the HMAC-SHA1/base32 code
// generation is kept as-is, but secret zeroing now goes through
// cryptoprim.Zero instead of a locally duplicated helper, and two new
// entry points (Encode/Decode) bridge the settings to/from model.Entry's
// attribute map the way KeePass-format clients store them (custom
// attributes prefixed "TOTP ").
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"vaultkeep/internal/cryptoprim"
	"vaultkeep/internal/model"
)

const (
	DefaultStep   = 30 * time.Second
	DefaultDigits = 6
	secretSize    = 20 // 160-bit secret

	attrSeed   = "TOTP Seed"
	attrPeriod = "TOTP Settings"
)

// Settings is one entry's TOTP configuration: the shared secret (base32,
// unpadded) and the step/digit parameters. Digits/Period default to
// DefaultDigits/DefaultStep when zero, matching clients that omit the
// "TOTP Settings" attribute entirely for a secret generated with defaults.
type Settings struct {
	Secret string
	Period time.Duration
	Digits int
}

func (s Settings) period() time.Duration {
	if s.Period <= 0 {
		return DefaultStep
	}
	return s.Period
}

func (s Settings) digits() int {
	if s.Digits <= 0 {
		return DefaultDigits
	}
	return s.Digits
}

// GenerateSecret returns a fresh base32-encoded 160-bit random secret.
func GenerateSecret() (string, error) {
	secret := make([]byte, secretSize)
	if _, err := rand.Read(secret); err != nil {
		return "", err
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(secret)
	return enc, nil
}

// Encode stores s into e's attribute map under the canonical "TOTP Seed"/
// "TOTP Settings" keys, the protected flag set on the seed since it's as
// sensitive as the password itself.
func Encode(e *model.Entry, s Settings) {
	e.Attributes[attrSeed] = model.Attribute{Value: s.Secret, Protected: true}
	e.Attributes[attrPeriod] = model.Attribute{
		Value: fmt.Sprintf("%d;%d", int(s.period()/time.Second), s.digits()),
	}
}

// Decode reads an entry's TOTP settings back out, ok is false if e carries
// no TOTP seed at all.
func Decode(e *model.Entry) (Settings, bool) {
	seed, ok := e.Attributes[attrSeed]
	if !ok || seed.Value == "" {
		return Settings{}, false
	}
	s := Settings{Secret: seed.Value, Period: DefaultStep, Digits: DefaultDigits}
	if raw, ok := e.Attributes[attrPeriod]; ok {
		parts := strings.SplitN(raw.Value, ";", 2)
		if len(parts) == 2 {
			if secs, err := strconv.Atoi(parts[0]); err == nil && secs > 0 {
				s.Period = time.Duration(secs) * time.Second
			}
			if digits, err := strconv.Atoi(parts[1]); err == nil && digits > 0 {
				s.Digits = digits
			}
		}
	}
	return s, true
}

// Code computes the current TOTP code for s as of when.
func Code(s Settings, when time.Time) (string, error) {
	secretBytes, err := decodeSecret(s.Secret)
	if err != nil {
		return "", err
	}
	defer cryptoprim.Zero(secretBytes)

	step := int64(s.period() / time.Second)
	if step <= 0 {
		step = 30
	}
	counter := when.Unix() / step
	return computeCode(secretBytes, uint64(counter), s.digits()), nil
}

// Verify checks code against s, accepting the current step and its
// immediate neighbors to absorb clock skew.
func Verify(code string, s Settings, when time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != s.digits() {
		return false
	}
	secretBytes, err := decodeSecret(s.Secret)
	if err != nil {
		return false
	}
	defer cryptoprim.Zero(secretBytes)

	step := int64(s.period() / time.Second)
	if step <= 0 {
		step = 30
	}
	counter := when.Unix() / step
	for i := int64(-1); i <= 1; i++ {
		cur := counter + i
		if cur < 0 {
			continue
		}
		if computeCode(secretBytes, uint64(cur), s.digits()) == code {
			return true
		}
	}
	return false
}

// ProvisionURI returns an otpauth:// URI suitable for rendering as a QR
// code by a collaborator UI.
func ProvisionURI(account, issuer string, s Settings) string {
	escapedAccount := strings.ReplaceAll(account, " ", "")
	escapedIssuer := strings.ReplaceAll(issuer, " ", "")
	period := int(s.period() / time.Second)
	return fmt.Sprintf("otpauth://totp/%s:%s?secret=%s&issuer=%s&algorithm=SHA1&digits=%d&period=%d",
		urlEscape(escapedIssuer), urlEscape(escapedAccount), s.Secret, urlEscape(escapedIssuer), s.digits(), period)
}

func computeCode(secret []byte, counter uint64, digits int) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], counter)

	mac := hmac.New(sha1.New, secret)
	mac.Write(buf[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0F
	trunc := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7FFFFFFF
	mod := uint32(1)
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	code := trunc % mod
	return fmt.Sprintf("%0*d", digits, code)
}

func decodeSecret(secret string) ([]byte, error) {
	secret = strings.ToUpper(strings.TrimSpace(secret))
	decoder := base32.StdEncoding.WithPadding(base32.NoPadding)
	return decoder.DecodeString(secret)
}

func urlEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		for _, bt := range []byte(string(r)) {
			b.WriteString(fmt.Sprintf("%%%02X", bt))
		}
	}
	return b.String()
}
