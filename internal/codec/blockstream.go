package codec

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"vaultkeep/internal/cryptoprim"
	"vaultkeep/internal/errs"
)

// blockSize is the maximum plaintext chunk size the writer splits the
// ciphertext into before block-HMAC-framing it. The reader accepts any
// block length the writer used.
const blockSize = 1 << 20

// ReadHMACBlockStream reads a KDBX4 block stream from r: a sequence of
// (32-byte HMAC, 4-byte little-endian length, payload) frames terminated
// by a zero-length block, verifying each block's HMAC(blockIndex-keyed)
// before returning its concatenated payload. The header HMAC is always
// verified before this is ever called, so a mismatched block HMAC here
// means an otherwise-authentic file was tampered with after the fact,
// not a wrong key — reported as a corrupted-database error.
func ReadHMACBlockStream(r io.Reader, hmacBaseKey [64]byte) ([]byte, error) {
	var out bytes.Buffer
	for idx := uint64(0); ; idx++ {
		var mac [32]byte
		if _, err := io.ReadFull(r, mac[:]); err != nil {
			return nil, errs.Format("codec.ReadHMACBlockStream", errors.Wrap(err, "reading block hmac"))
		}
		var length uint32
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			return nil, errs.Format("codec.ReadHMACBlockStream", errors.Wrap(err, "reading block length"))
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, errs.Format("codec.ReadHMACBlockStream", errors.Wrap(err, "reading block payload"))
		}

		key := cryptoprim.BlockHMACKey(hmacBaseKey, idx)
		idxBuf := make([]byte, 8)
		binary.LittleEndian.PutUint64(idxBuf, idx)
		lenBuf := make([]byte, 4)
		binary.LittleEndian.PutUint32(lenBuf, length)
		want := cryptoprim.HMACSHA256(key[:], idxBuf, lenBuf, payload)
		if !bytes.Equal(mac[:], want) {
			return nil, errs.Corruption("codec.ReadHMACBlockStream", errors.Errorf("block %d: hmac mismatch", idx))
		}

		if length == 0 {
			return out.Bytes(), nil
		}
		out.Write(payload)
	}
}

// WriteHMACBlockStream splits data into blockSize chunks and writes each
// as an HMAC-framed block, followed by a terminating zero-length block.
func WriteHMACBlockStream(w io.Writer, data []byte, hmacBaseKey [64]byte) error {
	idx := uint64(0)
	for offset := 0; ; idx++ {
		end := offset + blockSize
		var chunk []byte
		if end >= len(data) {
			chunk = data[offset:]
		} else {
			chunk = data[offset:end]
		}
		if err := writeHMACBlock(w, idx, chunk, hmacBaseKey); err != nil {
			return err
		}
		if end >= len(data) {
			break
		}
		offset = end
	}
	return writeHMACBlock(w, idx+1, nil, hmacBaseKey)
}

func writeHMACBlock(w io.Writer, idx uint64, chunk []byte, hmacBaseKey [64]byte) error {
	key := cryptoprim.BlockHMACKey(hmacBaseKey, idx)
	idxBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(idxBuf, idx)
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(chunk)))
	mac := cryptoprim.HMACSHA256(key[:], idxBuf, lenBuf, chunk)

	if _, err := w.Write(mac); err != nil {
		return errs.IO("codec.WriteHMACBlockStream", "", err)
	}
	if _, err := w.Write(lenBuf); err != nil {
		return errs.IO("codec.WriteHMACBlockStream", "", err)
	}
	if len(chunk) > 0 {
		if _, err := w.Write(chunk); err != nil {
			return errs.IO("codec.WriteHMACBlockStream", "", err)
		}
	}
	return nil
}

// ReadHashedBlockStream reads the legacy KDBX3.1 block stream format: a
// sequence of (4-byte block index, 32-byte SHA-256 hash, 4-byte length,
// payload) frames terminated by a zero-length, all-zero-hash block. Unlike
// KDBX4's scheme this is a plain integrity check, not a keyed MAC: each
// block's hash is an unkeyed SHA-256 of its payload, and the legacy read
// path has no header HMAC either, so a tampered payload whose block hashes
// were recomputed to match is not detected here. This weakness belongs to
// the legacy format that KDBX4 fixed; it is kept only for read
// compatibility.
func ReadHashedBlockStream(r io.Reader) ([]byte, error) {
	var out bytes.Buffer
	for {
		var idx uint32
		if err := binary.Read(r, binary.LittleEndian, &idx); err != nil {
			return nil, errs.Format("codec.ReadHashedBlockStream", errors.Wrap(err, "reading block index"))
		}
		var hash [32]byte
		if _, err := io.ReadFull(r, hash[:]); err != nil {
			return nil, errs.Format("codec.ReadHashedBlockStream", errors.Wrap(err, "reading block hash"))
		}
		var length uint32
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			return nil, errs.Format("codec.ReadHashedBlockStream", err)
		}
		if length == 0 {
			return out.Bytes(), nil
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, errs.Format("codec.ReadHashedBlockStream", errors.Wrap(err, "reading block payload"))
		}
		got := cryptoprim.SHA256(payload)
		if got != hash {
			return nil, errs.Corruption("codec.ReadHashedBlockStream", errors.Errorf("block %d: hash mismatch", idx))
		}
		out.Write(payload)
	}
}

// writeHashedBlockStream encodes data in the legacy KDBX3.1 hashed-block
// format. Nothing in this module writes KDBX3.1 files — kdbx3.Read is
// read-only, per the format being retained for compatibility only — this
// exists solely so ReadHashedBlockStream's tests can construct valid
// fixtures without a real legacy file on disk.
func writeHashedBlockStream(w io.Writer, data []byte) error {
	idx := uint32(0)
	for offset := 0; offset < len(data); idx++ {
		end := offset + blockSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[offset:end]
		if err := writeHashedBlock(w, idx, chunk); err != nil {
			return err
		}
		offset = end
	}
	return writeHashedBlock(w, idx, nil)
}

func writeHashedBlock(w io.Writer, idx uint32, chunk []byte) error {
	if err := binary.Write(w, binary.LittleEndian, idx); err != nil {
		return err
	}
	hash := cryptoprim.SHA256(chunk)
	if len(chunk) == 0 {
		hash = [32]byte{}
	}
	if _, err := w.Write(hash[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(chunk))); err != nil {
		return err
	}
	_, err := w.Write(chunk)
	return err
}
