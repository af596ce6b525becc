// Package store provides the atomic save / backup wrapper around the
// codec readers and writers: write to a sibling temp file, fsync, rename
// into place, optionally keeping the previous file as a ".old.kdbx"
// backup first. Grounded on the teacher's internal/storage.FileBlobStore
// (write-whole-file-to-a-named-path) and internal/vault's readHeader/
// writeHeader pair, generalized from "overwrite in place" to the
// temp-file-then-rename discipline spec.md §4.3's Atomicity requirement
// and §7's "partial state is never observable" rule both demand.
package store

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"vaultkeep/internal/ckey"
	"vaultkeep/internal/codec"
	"vaultkeep/internal/codec/kdbx3"
	"vaultkeep/internal/codec/kdbx4"
	"vaultkeep/internal/cryptoprim"
	"vaultkeep/internal/errs"
	"vaultkeep/internal/kdf"
	"vaultkeep/internal/model"
)

// saveMutexes serializes concurrent Save calls against the same path, per
// spec.md §5's "between two concurrent save operations on the same
// database, the second must wait for the first" ordering guarantee. Keyed
// by the absolute path, so saves to the same file from different
// *model.Database values also serialize; Save additionally takes the
// Database's own save mutex (db.Lock/db.Unlock in model/database.go).
var (
	saveMutexesGuard sync.Mutex
	saveMutexes      = map[string]*sync.Mutex{}
)

func saveMutexFor(path string) *sync.Mutex {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	saveMutexesGuard.Lock()
	defer saveMutexesGuard.Unlock()
	m, ok := saveMutexes[abs]
	if !ok {
		m = &sync.Mutex{}
		saveMutexes[abs] = m
	}
	return m
}

// OpenResult mirrors kdbx4.Result/kdbx3.Result with the path-independent
// fields needed to re-encrypt the same database with the same cipher and
// KDF without re-prompting for credentials. Save still runs the KDF again
// under a fresh seed.
type OpenResult struct {
	Database    *model.Database
	Cipher      cryptoprim.CipherID
	Compression codec.CompressionFlag
	KDF         kdf.KDF
}

// Open reads the KDBX file at path, trying the modern KDBX4 framing first
// and falling back to the legacy KDBX3.1 framing on a format mismatch, so
// callers don't need to know a file's version ahead of time.
func Open(ctx context.Context, path string, composite *ckey.CompositeKey) (*OpenResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.IO("store.Open", path, err)
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, errs.IO("store.Open", path, err)
	}

	res4, err := kdbx4.Read(ctx, newByteReader(raw), composite)
	if err == nil {
		db := res4.Database
		db.Data.Cipher = res4.Cipher
		db.Data.CompressionGzip = res4.Compression == codec.CompressionGzip
		db.Data.TransformedMasterKey = res4.TransformedKey
		db.Data.HasTransformedKey = true
		db.Data.MasterSeed = res4.MasterSeed
		db.Data.CompositeKey = composite
		db.Data.PublicCustomData = decodePublicCustomData(res4.PublicCustomData)
		return &OpenResult{Database: db, Cipher: res4.Cipher, Compression: res4.Compression, KDF: res4.KDF}, nil
	}
	if !errs.Of(err, errs.KindFormat) {
		return nil, err
	}

	res3, err3 := kdbx3.Read(ctx, newByteReader(raw), composite)
	if err3 != nil {
		return nil, err3
	}
	db := res3.Database
	db.Data.Cipher = res3.Cipher
	db.Data.CompressionGzip = res3.Compression == codec.CompressionGzip
	db.Data.TransformedMasterKey = res3.TransformedKey
	db.Data.HasTransformedKey = true
	db.Data.MasterSeed = res3.MasterSeed
	db.Data.CompositeKey = composite
	return &OpenResult{Database: db, Cipher: res3.Cipher, Compression: res3.Compression, KDF: res3.KDF}, nil
}

// SaveOptions controls how Save persists a Database.
type SaveOptions struct {
	// Backup, if true, renames the existing file at path to
	// "<name>.old.kdbx" before the new file is put in place.
	Backup bool
	// Compress enables gzip compression of the payload. Defaults to
	// whatever db.Data.CompressionGzip was left at if unset via
	// CompressSet.
	Compress    bool
	CompressSet bool
}

// Save atomically writes db to path as KDBX4: the new content lands in a
// sibling temp file first, is fsynced, and only then renamed over path,
// so a crash or failed write mid-save leaves the original file untouched
// (spec.md §4.3 Atomicity, §7 "on failure during save, the original file
// is intact"). If opts.Backup is set, the pre-existing file at path (if
// any) is renamed to "<name>.old.kdbx" before the rename-into-place.
func Save(ctx context.Context, db *model.Database, path string, composite *ckey.CompositeKey, kdfImpl kdf.KDF, opts SaveOptions) error {
	mu := saveMutexFor(path)
	mu.Lock()
	defer mu.Unlock()

	db.Lock()
	defer db.Unlock()
	db.FlushModified()

	compress := db.Data.CompressionGzip
	if opts.CompressSet {
		compress = opts.Compress
	}
	cipher := db.Data.Cipher

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return errs.IO("store.Save", path, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	writeOpts := kdbx4.WriteOptions{
		Cipher:           cipher,
		Compress:         compress,
		KDF:              kdfImpl,
		PublicCustomData: encodePublicCustomData(db.Data.PublicCustomData),
	}
	tmk, err := kdbx4.Write(ctx, tmp, db, composite, writeOpts)
	if err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return errs.IO("store.Save", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errs.IO("store.Save", path, err)
	}

	if opts.Backup {
		if _, err := os.Stat(path); err == nil {
			backupPath := backupPathFor(path)
			if err := os.Rename(path, backupPath); err != nil {
				os.Remove(tmpPath)
				return errs.IO("store.Save", path, err)
			}
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errs.IO("store.Save", path, err)
	}

	db.Data.Cipher = cipher
	db.Data.CompressionGzip = compress
	db.Data.TransformedMasterKey = tmk
	db.Data.HasTransformedKey = true
	db.Data.CompositeKey = composite
	return nil
}

// backupPathFor returns "<name>.old.kdbx" for a path ending in ".kdbx",
// or "<path>.old" otherwise.
func backupPathFor(path string) string {
	ext := filepath.Ext(path)
	if ext == ".kdbx" {
		return path[:len(path)-len(ext)] + ".old.kdbx"
	}
	return path + ".old"
}

func newByteReader(b []byte) io.Reader { return &sliceReader{data: b} }

// sliceReader is a minimal forward-only io.Reader (no Seek, no ReadAt)
// over an in-memory buffer, used instead of bytes.Reader only to keep
// this package's imports to what it actually needs — codec.ReadOuterHeader
// and friends only ever call Read, never Seek.
type sliceReader struct {
	data []byte
	pos  int
}

func (s *sliceReader) Read(p []byte) (int, error) {
	if s.pos >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.pos:])
	s.pos += n
	return n, nil
}

func encodePublicCustomData(m map[string][]byte) codec.VariantMap {
	if len(m) == 0 {
		return nil
	}
	out := make(codec.VariantMap, len(m))
	for k, v := range m {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

func decodePublicCustomData(m codec.VariantMap) map[string][]byte {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string][]byte, len(m))
	for k, v := range m {
		if b, ok := v.([]byte); ok {
			out[k] = append([]byte(nil), b...)
		}
	}
	return out
}
