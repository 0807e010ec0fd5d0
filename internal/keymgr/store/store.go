// Copyright 2026 ckm contributors.
// SPDX-License-Identifier: Apache-2.0

// Package store is the on-disk key store (C2): it reads and writes
// wrapped-key files under a directory, enumerates them by hex
// identifier, and performs the atomic directory swap rotation depends
// on. Every record is small enough that a single write is sector-atomic
// on commodity storage; durability beyond that (fsync of files and
// directories) is the caller's responsibility, per spec.md §5.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/clusterkm/ckm/internal/kmerrors"
)

// MaxKeyLen bounds a single DEK's plaintext length. Combined with the
// crypto package's WrapExpand this fixes the wrapped record's maximum
// ciphertext size, which in turn keeps RecordSize comfortably inside
// the 512-byte single-sector-write budget spec.md §3 requires.
const MaxKeyLen = 64

// wrapExpand mirrors crypto.WrapExpand without importing the crypto
// package, keeping store a leaf package with no dependency on the AEAD
// construction it is oblivious to.
const wrapExpand = 16 + 64

// MaxCiphertextLen is the largest ciphertext a wrapped record can hold.
const MaxCiphertextLen = MaxKeyLen + wrapExpand

// RecordSize is the fixed on-disk size of one wrapped-key file.
const RecordSize = 4 + MaxCiphertextLen

// Wrapped is a fixed-size wrapped-key record as persisted on disk: a
// length prefix followed by ciphertext bytes, zero-padded to
// RecordSize so every write is exactly one record long.
type Wrapped struct {
	// KLen is the length of the meaningful prefix of Key.
	KLen uint32
	// Key holds ciphertext bytes (IV + AEAD body + tag, per the crypto
	// package's layout) in the first KLen bytes; the remainder is
	// padding.
	Key [MaxCiphertextLen]byte
}

// Ciphertext returns the meaningful ciphertext bytes of a wrapped
// record.
func (w Wrapped) Ciphertext() []byte {
	return w.Key[:w.KLen]
}

// NewWrapped packs ciphertext into a fixed-size Wrapped record. It
// fails if ciphertext exceeds MaxCiphertextLen.
func NewWrapped(ciphertext []byte) (Wrapped, error) {
	var w Wrapped
	if len(ciphertext) > MaxCiphertextLen {
		return w, kmerrors.Wrap(kmerrors.ErrCorrupt, "NewWrapped",
			"ciphertext exceeds maximum record size")
	}
	w.KLen = uint32(len(ciphertext))
	copy(w.Key[:], ciphertext)
	return w, nil
}

func keyName(id int) string {
	return fmt.Sprintf("%04X", id)
}

// KeyPath returns the path of the file that holds id's wrapped record
// inside dir.
func KeyPath(dir string, id int) string {
	return filepath.Join(dir, keyName(id))
}

// Exists reports whether dir is present on disk.
func Exists(dir string) bool {
	_, err := os.Stat(dir)
	return err == nil
}

// SaveAll ensures dir exists and writes one file per id in
// [0, len(wrapped)), each with owner-only permissions. Each file is
// produced by a single os.WriteFile call, the commit point for that
// record; the caller fsyncs files and the directory afterward when
// durability is required.
func SaveAll(dir string, wrapped []Wrapped) error {
	const fName = "SaveAll"

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return kmerrors.WrapErr(kmerrors.ErrIO, fName,
			"failed to create directory "+dir, err)
	}

	for id, w := range wrapped {
		buf := encodeRecord(w)
		path := KeyPath(dir, id)
		if err := os.WriteFile(path, buf, 0o600); err != nil {
			return kmerrors.WrapErr(kmerrors.ErrIO, fName,
				"failed to write "+path, err)
		}
	}
	return nil
}

// SyncAll fsyncs every id's file in dir, then the directory itself.
// Callers invoke this after SaveAll when durability across a crash is
// required (bootstrap, rotation staging).
func SyncAll(dir string, n int) error {
	const fName = "SyncAll"

	for id := 0; id < n; id++ {
		path := KeyPath(dir, id)
		f, err := os.OpenFile(path, os.O_RDWR, 0o600)
		if err != nil {
			return kmerrors.WrapErr(kmerrors.ErrIO, fName,
				"failed to open "+path+" for fsync", err)
		}
		syncErr := f.Sync()
		closeErr := f.Close()
		if syncErr != nil {
			return kmerrors.WrapErr(kmerrors.ErrIO, fName,
				"failed to fsync "+path, syncErr)
		}
		if closeErr != nil {
			return kmerrors.WrapErr(kmerrors.ErrIO, fName,
				"failed to close "+path, closeErr)
		}
	}
	return SyncDir(dir)
}

// SyncDir fsyncs dir's directory entry, committing any renames or file
// creations within it.
func SyncDir(dir string) error {
	const fName = "SyncDir"
	d, err := os.Open(dir)
	if err != nil {
		return kmerrors.WrapErr(kmerrors.ErrIO, fName,
			"failed to open directory "+dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return kmerrors.WrapErr(kmerrors.ErrIO, fName,
			"failed to fsync directory "+dir, err)
	}
	return nil
}

// hexFilename reports whether name is exactly four uppercase hex
// characters, the only filenames LoadAll will read. Anything else
// (".", "..", stray filesystem artifacts) is silently ignored, matching
// spec.md §4.2's "strspn(name, 0-9A-F) == 4" contract.
func hexFilename(name string) bool {
	if len(name) != 4 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// LoadAll enumerates dir, parsing every exactly-4-uppercase-hex-char
// filename as a key id, and reads its wrapped record. It fails with
// kmerrors.ErrCorrupt if an id is out of [0, nKeys), if more than nKeys
// matching entries exist, or if any matched file is not exactly
// RecordSize bytes. Non-matching filenames are ignored.
func LoadAll(dir string, nKeys int) ([]Wrapped, error) {
	const fName = "LoadAll"

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, kmerrors.WrapErr(kmerrors.ErrIO, fName,
			"failed to list directory "+dir, err)
	}

	wrapped := make([]Wrapped, nKeys)
	seen := make([]bool, nKeys)
	count := 0

	for _, entry := range entries {
		name := entry.Name()
		if !hexFilename(name) {
			continue
		}

		id64, err := strconv.ParseUint(strings.ToUpper(name), 16, 32)
		if err != nil {
			return nil, kmerrors.WrapErr(kmerrors.ErrCorrupt, fName,
				"malformed hex filename "+name, err)
		}
		id := int(id64)
		if id >= nKeys {
			return nil, kmerrors.Wrap(kmerrors.ErrCorrupt, fName,
				"key id out of range: "+name)
		}

		count++
		if count > nKeys {
			return nil, kmerrors.Wrap(kmerrors.ErrCorrupt, fName,
				"directory contains more than the expected number of keys")
		}

		w, err := readRecord(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		wrapped[id] = w
		seen[id] = true
	}

	for id, ok := range seen {
		if !ok {
			return nil, kmerrors.Wrap(kmerrors.ErrCorrupt, fName,
				fmt.Sprintf("missing key id %04X", id))
		}
	}

	return wrapped, nil
}

// Count reports how many of the nKeys expected wrapped-key files exist
// in dir: files with an in-range uppercase hex name and a size of
// exactly RecordSize, without reading their contents. It is used by
// crash recovery, which must decide completeness from names and sizes
// alone — the correct passphrase is not yet known at that point, so
// AEAD verification cannot serve as the completeness oracle.
func Count(dir string, nKeys int) (int, error) {
	const fName = "Count"

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, kmerrors.WrapErr(kmerrors.ErrIO, fName,
			"failed to list directory "+dir, err)
	}

	count := 0
	for _, entry := range entries {
		name := entry.Name()
		if !hexFilename(name) {
			continue
		}
		id64, err := strconv.ParseUint(name, 16, 32)
		if err != nil || int(id64) >= nKeys {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Size() != RecordSize {
			continue
		}
		count++
	}
	return count, nil
}

func readRecord(path string) (Wrapped, error) {
	const fName = "readRecord"

	buf, err := os.ReadFile(path)
	if err != nil {
		return Wrapped{}, kmerrors.WrapErr(kmerrors.ErrIO, fName,
			"failed to read "+path, err)
	}
	if len(buf) != RecordSize {
		return Wrapped{}, kmerrors.Wrap(kmerrors.ErrCorrupt, fName,
			fmt.Sprintf("short read on %s: got %d bytes, want %d",
				path, len(buf), RecordSize))
	}
	return decodeRecord(buf), nil
}

func encodeRecord(w Wrapped) []byte {
	buf := make([]byte, RecordSize)
	buf[0] = byte(w.KLen)
	buf[1] = byte(w.KLen >> 8)
	buf[2] = byte(w.KLen >> 16)
	buf[3] = byte(w.KLen >> 24)
	copy(buf[4:], w.Key[:])
	return buf
}

func decodeRecord(buf []byte) Wrapped {
	var w Wrapped
	w.KLen = uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	copy(w.Key[:], buf[4:])
	return w
}

// RenameDir performs an atomic rename, relying on the POSIX guarantee
// that rename(2) within a filesystem is atomic.
func RenameDir(from, to string) error {
	const fName = "RenameDir"
	if err := os.Rename(from, to); err != nil {
		return kmerrors.WrapErr(kmerrors.ErrIO, fName,
			"failed to rename "+from+" to "+to, err)
	}
	return nil
}

// RemoveTree recursively deletes dir.
func RemoveTree(dir string) error {
	const fName = "RemoveTree"
	if err := os.RemoveAll(dir); err != nil {
		return kmerrors.WrapErr(kmerrors.ErrIO, fName,
			"failed to remove "+dir, err)
	}
	return nil
}
