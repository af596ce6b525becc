// Package kdbx3 reads the legacy KDBX3.1 container format: a plaintext
// outer header carrying the inner-stream ID/key directly (KDBX4 moved
// those into an encrypted inner header), a stream-start verification
// field, and a SHA-256 hashed (not HMAC'd) block stream. There is no
// Write here — KDBX3.1 files are upgraded by being re-saved through
// kdbx4.Write, per spec.md §4.3's "KDBX3.1 is read-only; saving always
// upgrades to KDBX4."
package kdbx3

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/subtle"
	"io"
	"time"

	"github.com/pkg/errors"

	"vaultkeep/internal/ckey"
	"vaultkeep/internal/codec"
	"vaultkeep/internal/codec/xmltree"
	"vaultkeep/internal/cryptoprim"
	"vaultkeep/internal/errs"
	"vaultkeep/internal/kdf"
	"vaultkeep/internal/model"
)

// Result mirrors kdbx4.Result: the decoded tree plus the container
// parameters, so a caller that re-saves a legacy file can carry its
// cipher choice forward into the KDBX4 writer rather than picking fresh
// defaults.
type Result struct {
	Database       *model.Database
	Cipher         cryptoprim.CipherID
	Compression    codec.CompressionFlag
	KDF            kdf.KDF
	MasterSeed     [32]byte
	TransformedKey [32]byte
}

// Read parses a KDBX3.1 file from r. Unlike kdbx4.Read there is no header
// HMAC to check up front; the legacy format instead embeds
// StreamStartBytes, a known plaintext block checked immediately after
// decryption, as its only tamper/wrong-key detector before the (unkeyed)
// per-block hashes are checked.
func Read(ctx context.Context, r io.Reader, composite *ckey.CompositeKey) (*Result, error) {
	header, err := codec.ReadOuterHeader(r, false)
	if err != nil {
		return nil, errs.Format("kdbx3.Read", err)
	}
	if len(header.TransformSeed) != 32 {
		return nil, errs.Format("kdbx3.Read", errors.New("missing or malformed transform seed"))
	}
	if len(header.StreamStartBytes) == 0 {
		return nil, errs.Format("kdbx3.Read", errors.New("missing stream start verification bytes"))
	}

	aesKDF := &kdf.AESKDF{Rounds: header.TransformRounds}
	copy(aesKDF.Seed[:], header.TransformSeed)

	rawComposite, err := composite.RawKey(ctx, header.MasterSeed[:])
	if err != nil {
		return nil, errs.Key("kdbx3.Read", err)
	}
	defer cryptoprim.Zero32(&rawComposite)

	tmk, err := aesKDF.Transform(ctx, rawComposite)
	if err != nil {
		return nil, errs.Key("kdbx3.Read", err)
	}

	cipherKey := cryptoprim.CipherKey(header.MasterSeed[:], tmk[:])
	rest, err := io.ReadAll(r)
	if err != nil {
		cryptoprim.Zero32(&tmk)
		return nil, errs.IO("kdbx3.Read", "", err)
	}
	plaintext, err := cryptoprim.Decrypt(header.CipherID, cipherKey[:], header.EncryptionIV, rest)
	if err != nil {
		cryptoprim.Zero32(&tmk)
		return nil, errs.Key("kdbx3.Read", errors.Wrap(err, "decrypting payload, likely a wrong key"))
	}

	if len(plaintext) < len(header.StreamStartBytes) ||
		subtle.ConstantTimeCompare(plaintext[:len(header.StreamStartBytes)], header.StreamStartBytes) != 1 {
		cryptoprim.Zero32(&tmk)
		return nil, errs.Key("kdbx3.Read", errors.New("stream start bytes mismatch, wrong key"))
	}
	plaintext = plaintext[len(header.StreamStartBytes):]

	hashed, err := codec.ReadHashedBlockStream(bytes.NewReader(plaintext))
	if err != nil {
		cryptoprim.Zero32(&tmk)
		return nil, err
	}

	payload := hashed
	if header.Compression == codec.CompressionGzip {
		payload, err = gunzip(hashed)
		if err != nil {
			cryptoprim.Zero32(&tmk)
			return nil, errs.Corruption("kdbx3.Read", errors.Wrap(err, "decompressing payload"))
		}
	}

	stream, err := cryptoprim.NewInnerStream(header.InnerStreamID, header.InnerStreamKey)
	if err != nil {
		cryptoprim.Zero32(&tmk)
		return nil, errs.Format("kdbx3.Read", err)
	}

	// KDBX3.1 never populates a binary pool the way KDBX4's inner header
	// does; a legacy file with an actual attachment Ref fails to unmarshal
	// rather than silently losing the attachment bytes.
	db, err := xmltree.Unmarshal(payload, stream, time.Now(), nil)
	if err != nil {
		cryptoprim.Zero32(&tmk)
		return nil, err
	}

	return &Result{
		Database:       db,
		Cipher:         header.CipherID,
		Compression:    header.Compression,
		KDF:            aesKDF,
		MasterSeed:     header.MasterSeed,
		TransformedKey: tmk,
	}, nil
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
