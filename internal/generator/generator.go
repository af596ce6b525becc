// Package generator implements the password and diceware passphrase
// generators spec.md §2 lists among the core's external collaborators.
// Grounded on the teacher's cmd/vaultctl genPassword (alphabet + CSPRNG
// byte buffer), but corrected from that function's biased
// byte%len(alphabet) selection to rejection sampling via crypto/rand.Int,
// since a password generator's whole job is uniform output and a biased
// one quietly favors some characters over others.
package generator

import (
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/pkg/errors"
)

// Charset names a character class a generated password may draw from.
type Charset int

const (
	Lower Charset = 1 << iota
	Upper
	Digits
	Symbols
)

const (
	lowerChars   = "abcdefghijklmnopqrstuvwxyz"
	upperChars   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars   = "0123456789"
	symbolChars  = "!@#$%^&*()-_=+[]{}"
)

// DefaultCharsets is the conventional "strong password" mix: all four
// classes.
const DefaultCharsets = Lower | Upper | Digits | Symbols

// Options controls password generation.
type Options struct {
	Length   int
	Charsets Charset
	// ExcludeAmbiguous drops visually similar characters (0/O, 1/l/I)
	// from the pool, trading a little entropy for fewer transcription
	// errors when a human has to type the result.
	ExcludeAmbiguous bool
}

var ambiguous = map[rune]bool{'0': true, 'O': true, '1': true, 'l': true, 'I': true}

func (o Options) alphabet() (string, error) {
	var b strings.Builder
	if o.Charsets&Lower != 0 {
		b.WriteString(lowerChars)
	}
	if o.Charsets&Upper != 0 {
		b.WriteString(upperChars)
	}
	if o.Charsets&Digits != 0 {
		b.WriteString(digitChars)
	}
	if o.Charsets&Symbols != 0 {
		b.WriteString(symbolChars)
	}
	alphabet := b.String()
	if o.ExcludeAmbiguous {
		var filtered strings.Builder
		for _, r := range alphabet {
			if !ambiguous[r] {
				filtered.WriteRune(r)
			}
		}
		alphabet = filtered.String()
	}
	if alphabet == "" {
		return "", errors.New("generator: no character classes selected")
	}
	return alphabet, nil
}

// Password returns a uniformly-random password of opts.Length characters
// drawn from opts.Charsets, each character chosen via crypto/rand.Int
// (rejection sampling under the hood) rather than a modulo-biased byte
// read, so every character in the alphabet is equally likely regardless
// of the alphabet's size.
func Password(opts Options) (string, error) {
	if opts.Length <= 0 {
		return "", errors.New("generator: length must be positive")
	}
	alphabet, err := opts.alphabet()
	if err != nil {
		return "", err
	}
	runes := []rune(alphabet)
	n := big.NewInt(int64(len(runes)))

	out := make([]rune, opts.Length)
	for i := range out {
		idx, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", errors.Wrap(err, "generator: reading random index")
		}
		out[i] = runes[idx.Int64()]
	}
	return string(out), nil
}

// Diceware returns a passphrase of wordCount words drawn uniformly from
// wordlist, joined by sep. A nil/empty wordlist is an error rather than
// silently falling back to a built-in list — the core intentionally
// carries no embedded wordlist (licensing and size), matching spec.md
// §1's framing of the diceware generator as an external collaborator
// that supplies its own list.
func Diceware(wordCount int, sep string, wordlist []string) (string, error) {
	if wordCount <= 0 {
		return "", errors.New("generator: word count must be positive")
	}
	if len(wordlist) == 0 {
		return "", errors.New("generator: wordlist is empty")
	}
	n := big.NewInt(int64(len(wordlist)))
	words := make([]string, wordCount)
	for i := range words {
		idx, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", errors.Wrap(err, "generator: reading random index")
		}
		words[i] = wordlist[idx.Int64()]
	}
	return strings.Join(words, sep), nil
}
