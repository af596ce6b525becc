// Package kdbx4 reads and writes the KDBX4 container format: outer header,
// HMAC-authenticated block stream, encrypted/optionally-gzipped payload,
// inner header, and the KeePassFile XML document. This is the only
// package in the engine that writes a file to disk — kdbx3 is read-only.
package kdbx4

import (
	"bytes"
	"compress/gzip"
	"context"
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

// Result carries everything Read recovers beyond the domain tree itself:
// the container parameters a Save needs to re-encrypt the same way.
type Result struct {
	Database         *model.Database
	Cipher           cryptoprim.CipherID
	Compression      codec.CompressionFlag
	KDF              kdf.KDF
	MasterSeed       [32]byte
	TransformedKey   [32]byte
	PublicCustomData codec.VariantMap
}

// Read parses a KDBX4 file from r, deriving the transformed master key
// from composite via the header's own KDF parameters, verifying the
// header and block-stream integrity, and decoding the XML payload into a
// fresh Database.
func Read(ctx context.Context, r io.Reader, composite *ckey.CompositeKey) (*Result, error) {
	header, err := codec.ReadOuterHeader(r, true)
	if err != nil {
		return nil, errs.Format("kdbx4.Read", err)
	}
	if header.KDFParameters == nil {
		return nil, errs.Format("kdbx4.Read", errors.New("missing KDF parameters"))
	}

	derive, err := codec.DecodeKDFParameters(header.KDFParameters)
	if err != nil {
		return nil, errs.Format("kdbx4.Read", err)
	}

	rawComposite, err := composite.RawKey(ctx, header.MasterSeed[:])
	if err != nil {
		return nil, errs.Key("kdbx4.Read", err)
	}
	defer cryptoprim.Zero32(&rawComposite)

	tmk, err := derive.Transform(ctx, rawComposite)
	if err != nil {
		return nil, errs.Key("kdbx4.Read", err)
	}

	hmacBase := cryptoprim.HMACBaseKey(header.MasterSeed[:], tmk[:])
	if err := codec.VerifyHeaderIntegrity(r, header.RawBytes(), hmacBase); err != nil {
		cryptoprim.Zero32(&tmk)
		return nil, err
	}

	ciphertext, err := codec.ReadHMACBlockStream(r, hmacBase)
	if err != nil {
		cryptoprim.Zero32(&tmk)
		return nil, err
	}

	cipherKey := cryptoprim.CipherKey(header.MasterSeed[:], tmk[:])
	plaintext, err := cryptoprim.Decrypt(header.CipherID, cipherKey[:], header.EncryptionIV, ciphertext)
	if err != nil {
		cryptoprim.Zero32(&tmk)
		// The header HMAC (verified above) and the block stream's own HMAC
		// have both already authenticated this ciphertext under tmk, so a
		// padding failure here means corruption, not a wrong key.
		return nil, errs.Corruption("kdbx4.Read", errors.Wrap(err, "decrypting payload"))
	}

	payload := plaintext
	if header.Compression == codec.CompressionGzip {
		payload, err = gunzip(plaintext)
		if err != nil {
			cryptoprim.Zero32(&tmk)
			return nil, errs.Corruption("kdbx4.Read", errors.Wrap(err, "decompressing payload"))
		}
	}

	inner, err := codec.ReadInnerHeader(bytes.NewReader(payload))
	if err != nil {
		cryptoprim.Zero32(&tmk)
		return nil, err
	}
	xmlStart := innerHeaderSize(payload)
	stream, err := cryptoprim.NewInnerStream(inner.StreamID, inner.StreamKey)
	if err != nil {
		cryptoprim.Zero32(&tmk)
		return nil, errs.Format("kdbx4.Read", err)
	}

	db, err := xmltree.Unmarshal(payload[xmlStart:], stream, time.Now(), inner.Binaries)
	if err != nil {
		cryptoprim.Zero32(&tmk)
		return nil, err
	}

	return &Result{
		Database:         db,
		Cipher:           header.CipherID,
		Compression:      header.Compression,
		KDF:              derive,
		MasterSeed:       header.MasterSeed,
		TransformedKey:   tmk,
		PublicCustomData: header.PublicCustomData,
	}, nil
}

// WriteOptions controls the parameters a fresh save uses. Callers
// (internal/store) populate this from the Database's cached DatabaseData,
// or construct new parameters for a brand-new file.
type WriteOptions struct {
	Cipher           cryptoprim.CipherID
	Compress         bool
	KDF              kdf.KDF
	PublicCustomData codec.VariantMap
}

// Write encodes db as a fresh KDBX4 file to w: generates a new master
// seed and encryption IV, re-derives the transformed master key from
// composite under opts.KDF, serializes the domain tree to XML with a
// fresh inner stream key, compresses, encrypts, block-HMAC-frames, and
// writes the outer header with its integrity trailer.
func Write(ctx context.Context, w io.Writer, db *model.Database, composite *ckey.CompositeKey, opts WriteOptions) (tmkOut [32]byte, err error) {
	masterSeed, err := cryptoprim.RandomBytes(32)
	if err != nil {
		return tmkOut, errs.IO("kdbx4.Write", "", err)
	}
	var seed32 [32]byte
	copy(seed32[:], masterSeed)

	if err := opts.KDF.RandomizeSeed(); err != nil {
		return tmkOut, errs.Key("kdbx4.Write", err)
	}

	rawComposite, err := composite.RawKey(ctx, masterSeed)
	if err != nil {
		return tmkOut, errs.Key("kdbx4.Write", err)
	}
	defer cryptoprim.Zero32(&rawComposite)

	tmk, err := opts.KDF.Transform(ctx, rawComposite)
	if err != nil {
		return tmkOut, errs.Key("kdbx4.Write", err)
	}

	streamKey, err := cryptoprim.RandomBytes(64)
	if err != nil {
		cryptoprim.Zero32(&tmk)
		return tmkOut, errs.IO("kdbx4.Write", "", err)
	}
	stream, err := cryptoprim.NewInnerStream(cryptoprim.InnerStreamChaCha20, streamKey)
	if err != nil {
		cryptoprim.Zero32(&tmk)
		return tmkOut, errs.Format("kdbx4.Write", err)
	}

	pool, binaryIndex := collectBinaries(db)
	xmlBytes, err := xmltree.Marshal(db, stream, binaryIndex)
	if err != nil {
		cryptoprim.Zero32(&tmk)
		return tmkOut, err
	}

	var innerBuf bytes.Buffer
	innerHeader := &codec.InnerHeader{StreamID: cryptoprim.InnerStreamChaCha20, StreamKey: streamKey, Binaries: pool}
	if err := codec.WriteInnerHeader(&innerBuf, innerHeader); err != nil {
		cryptoprim.Zero32(&tmk)
		return tmkOut, err
	}
	innerBuf.Write(xmlBytes)

	payload := innerBuf.Bytes()
	if opts.Compress {
		payload, err = gzipBytes(payload)
		if err != nil {
			cryptoprim.Zero32(&tmk)
			return tmkOut, errs.Format("kdbx4.Write", errors.Wrap(err, "compressing payload"))
		}
	}

	iv, err := cryptoprim.RandomBytes(cryptoprim.IVSize(opts.Cipher))
	if err != nil {
		cryptoprim.Zero32(&tmk)
		return tmkOut, errs.IO("kdbx4.Write", "", err)
	}
	cipherKey := cryptoprim.CipherKey(masterSeed, tmk[:])
	ciphertext, err := cryptoprim.Encrypt(opts.Cipher, cipherKey[:], iv, payload)
	if err != nil {
		cryptoprim.Zero32(&tmk)
		return tmkOut, errs.Crypto("kdbx4.Write", err)
	}

	kdfParams, err := codec.EncodeKDFParameters(opts.KDF)
	if err != nil {
		cryptoprim.Zero32(&tmk)
		return tmkOut, errs.Format("kdbx4.Write", err)
	}

	outer := &codec.OuterHeader{
		CipherID:         opts.Cipher,
		Compression:      codec.CompressionNone,
		MasterSeed:       seed32,
		EncryptionIV:     iv,
		KDFParameters:    kdfParams,
		PublicCustomData: opts.PublicCustomData,
	}
	if opts.Compress {
		outer.Compression = codec.CompressionGzip
	}

	rawHeader, err := codec.WriteOuterHeader(w, outer)
	if err != nil {
		cryptoprim.Zero32(&tmk)
		return tmkOut, err
	}

	hmacBase := cryptoprim.HMACBaseKey(masterSeed, tmk[:])
	if err := codec.WriteHeaderIntegrity(w, rawHeader, hmacBase); err != nil {
		cryptoprim.Zero32(&tmk)
		return tmkOut, err
	}
	if err := codec.WriteHMACBlockStream(w, ciphertext, hmacBase); err != nil {
		cryptoprim.Zero32(&tmk)
		return tmkOut, err
	}

	return tmk, nil
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// innerHeaderSize re-scans payload's inner header to find where the XML
// document begins, since ReadInnerHeader consumed its own io.Reader
// independently of the buffer offset tracking used here.
func innerHeaderSize(payload []byte) int {
	r := bytes.NewReader(payload)
	_, _ = codec.ReadInnerHeader(r)
	return len(payload) - r.Len()
}

// collectBinaries gathers every attachment across every entry (including
// history) into the flat pool the inner header's binary list represents,
// deduplicated by content hash, plus the hash-to-index map xmltree.Marshal
// needs to write each attachment's Ref.
func collectBinaries(db *model.Database) (pool [][]byte, index map[[32]byte]int) {
	index = map[[32]byte]int{}
	for _, e := range db.Root().EntriesRecursive(true) {
		for _, att := range e.Attachments {
			if _, ok := index[att.Hash]; ok {
				continue
			}
			index[att.Hash] = len(pool)
			pool = append(pool, att.Data)
		}
	}
	return pool, index
}
