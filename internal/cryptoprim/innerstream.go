package cryptoprim

import (
	"crypto/sha256"
	"crypto/sha512"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/salsa20/salsa"
)

// InnerStreamID selects the keystream used to XOR protected attribute
// values in the XML payload.
type InnerStreamID uint32

const (
	InnerStreamSalsa20 InnerStreamID = 2 // legacy, KDBX3.1
	InnerStreamChaCha20 InnerStreamID = 3 // modern default, KDBX4
)

// InnerStream is a keystream reader positioned at the start of the inner
// random stream. XOR is applied in document order of appearance of
// protected fields — callers must pull bytes from one shared instance in
// that exact order (spec.md's load-bearing ordering invariant).
type InnerStream interface {
	XOR(dst, src []byte)
}

// NewInnerStream builds the keystream for id seeded with key, as read from
// (or about to be written to) the inner header.
func NewInnerStream(id InnerStreamID, key []byte) (InnerStream, error) {
	switch id {
	case InnerStreamChaCha20:
		sum := sha256.Sum256(key)
		nonce := sha256.Sum256(append([]byte("inner-nonce"), key...))
		c, err := chacha20.NewUnauthenticatedCipher(sum[:], nonce[:chacha20.NonceSize])
		if err != nil {
			return nil, errors.Wrap(err, "cryptoprim: constructing inner chacha20 stream")
		}
		return &chachaInnerStream{cipher: c}, nil
	case InnerStreamSalsa20:
		h := sha512.Sum512(key)
		var salsaKey [32]byte
		var counter [16]byte
		copy(salsaKey[:], h[:32])
		copy(counter[:8], h[32:40])
		return &salsaInnerStream{key: salsaKey, counter: counter}, nil
	default:
		return nil, errors.Errorf("cryptoprim: unknown inner stream id %d", id)
	}
}

type chachaInnerStream struct {
	cipher *chacha20.Cipher
}

func (s *chachaInnerStream) XOR(dst, src []byte) {
	s.cipher.XORKeyStream(dst, src)
}

// salsaInnerStream implements the KDBX3.1 legacy inner stream: Salsa20
// keyed off an 8-byte nonce with an explicit 8-byte little-endian block
// counter (the low-level salsa.XORKeyStream 16-byte counter layout), as
// used by keepass2 prior to the KDBX4 format. Keystream bytes are buffered
// one 64-byte block at a time so XOR can be called repeatedly with
// arbitrarily sized slices in document order.
type salsaInnerStream struct {
	key     [32]byte
	counter [16]byte
	buf     [64]byte
	bufLen  int
}

func (s *salsaInnerStream) XOR(dst, src []byte) {
	for i := 0; i < len(src); i++ {
		if s.bufLen == 0 {
			salsa.XORKeyStream(s.buf[:], zero64[:], &s.counter, &s.key)
			s.bufLen = 64
			incrementBlockCounter(&s.counter)
		}
		dst[i] = src[i] ^ s.buf[64-s.bufLen]
		s.bufLen--
	}
}

var zero64 [64]byte

// incrementBlockCounter advances the low 8 bytes of the 16-byte
// nonce||counter array (the block-counter half), leaving the nonce half
// (bytes 0-7) untouched.
func incrementBlockCounter(counter *[16]byte) {
	for i := 8; i < 16; i++ {
		counter[i]++
		if counter[i] != 0 {
			return
		}
	}
}
