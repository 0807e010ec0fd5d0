// Copyright 2026 ckm contributors.
// SPDX-License-Identifier: Apache-2.0

// Package crypto is the crypto primitives binding (C1): passphrase to
// key-encryption-key derivation, the wrap/unwrap AEAD-style protocol
// used to protect data-encryption keys at rest, and strong random byte
// generation. It is the only package in this module that constructs raw
// key material from a passphrase, and the only one that performs
// encryption.
//
// The derivation and wrap steps are deterministic and side-effect free;
// every function here zeroes any sensitive local buffer before
// returning, on every exit path, including error paths.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/clusterkm/ckm/internal/kmerrors"
)

const (
	// EncLen is the size in bytes of the AES-256-CTR encryption key
	// derived from the passphrase.
	EncLen = 32

	// MacLen is the size in bytes of the HMAC-SHA-512 authentication
	// key derived from the passphrase. A full, untruncated HMAC-SHA-512
	// tag (64 bytes) is used as the integrity witness, which is why
	// this is larger than a packaged AEAD's tag would be: the
	// derivation step hands wrap/unwrap two independently-derived keys
	// rather than one, an Encrypt-then-MAC construction no off-the-shelf
	// AEAD exposes directly.
	MacLen = 64

	// ivLen is the AES-CTR initialization vector size.
	ivLen = aes.BlockSize

	// tagLen is the HMAC-SHA-512 tag size, equal to MacLen.
	tagLen = sha512.Size

	// WrapExpand is the fixed AEAD overhead added by Wrap: the IV plus
	// the integrity tag.
	WrapExpand = ivLen + tagLen

	hkdfSalt = "ckm-kek-derivation-v1"
	hkdfInfo = "ckm:kek:v1"
)

// Zero overwrites b with zeros. It is a no-op for a nil slice. Callers
// defer Zero immediately after allocating any buffer that will hold a
// passphrase, a derived key, or plaintext key material.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// DeriveKeys expands passphrase into an encryption key and a MAC key
// using HKDF-SHA256 with a fixed salt and domain-separation info
// string. The function is pure and deterministic: the same passphrase
// bytes always produce the same (encKey, macKey) pair, which is what
// lets startup re-derive the KEK used at bootstrap and what lets
// rotation derive the KEK for the newly supplied passphrase.
func DeriveKeys(passphrase []byte) (encKey [EncLen]byte, macKey [MacLen]byte, err error) {
	const fName = "DeriveKeys"

	reader := hkdf.New(sha256.New, passphrase, []byte(hkdfSalt), []byte(hkdfInfo))

	buf := make([]byte, EncLen+MacLen)
	defer Zero(buf)

	if _, err := io.ReadFull(reader, buf); err != nil {
		return encKey, macKey, kmerrors.WrapErr(
			kmerrors.ErrCryptoInit, fName, "failed to derive key material", err)
	}

	copy(encKey[:], buf[:EncLen])
	copy(macKey[:], buf[EncLen:])
	return encKey, macKey, nil
}

// Context binds one derived (encKey, macKey) pair to an
// Encrypt-then-MAC AEAD-style construction: AES-256 in CTR mode for
// confidentiality, HMAC-SHA-512 over (IV || ciphertext) for integrity.
// A Context is created fresh for every derive-and-use cycle and
// destroyed (zeroed) immediately after.
type Context struct {
	block cipher.Block
	mac   []byte
}

// NewContext constructs an AEAD-style context from a derived key pair.
// It fails with kmerrors.ErrCryptoInit if the encryption key cannot
// seed an AES cipher.
func NewContext(encKey [EncLen]byte, macKey [MacLen]byte) (*Context, error) {
	const fName = "NewContext"

	block, err := aes.NewCipher(encKey[:])
	if err != nil {
		return nil, kmerrors.WrapErr(
			kmerrors.ErrCryptoInit, fName, "failed to create AES cipher", err)
	}

	mac := make([]byte, MacLen)
	copy(mac, macKey[:])

	return &Context{block: block, mac: mac}, nil
}

// Close zeroes the context's retained key material. Callers must call
// Close on every exit path once a Context is no longer needed.
func (c *Context) Close() {
	if c == nil {
		return
	}
	Zero(c.mac)
}

// Wrap encrypts plaintext under the context's encryption key and
// appends an HMAC-SHA-512 tag computed over the IV and ciphertext. The
// returned ciphertext has length len(plaintext) + WrapExpand.
func (c *Context) Wrap(plaintext []byte) ([]byte, error) {
	const fName = "Wrap"

	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, kmerrors.WrapErr(kmerrors.ErrCryptoInit, fName,
			"failed to generate IV", err)
	}

	ciphertext := make([]byte, len(plaintext))
	stream := cipher.NewCTR(c.block, iv)
	stream.XORKeyStream(ciphertext, plaintext)

	h := hmac.New(sha512.New, c.mac)
	h.Write(iv)
	h.Write(ciphertext)
	tag := h.Sum(nil)

	out := make([]byte, 0, ivLen+len(ciphertext)+tagLen)
	out = append(out, iv...)
	out = append(out, ciphertext...)
	out = append(out, tag...)
	return out, nil
}

// Unwrap verifies the HMAC-SHA-512 tag in constant time before
// decrypting. A tag mismatch returns kmerrors.ErrBadPassphrase without
// producing any plaintext; callers must not read the returned slice
// when err is non-nil.
func (c *Context) Unwrap(ciphertext []byte) ([]byte, error) {
	const fName = "Unwrap"

	if len(ciphertext) < ivLen+tagLen {
		return nil, kmerrors.Wrap(kmerrors.ErrCorrupt, fName,
			"ciphertext shorter than IV+tag")
	}

	iv := ciphertext[:ivLen]
	body := ciphertext[ivLen : len(ciphertext)-tagLen]
	gotTag := ciphertext[len(ciphertext)-tagLen:]

	h := hmac.New(sha512.New, c.mac)
	h.Write(iv)
	h.Write(body)
	wantTag := h.Sum(nil)

	if !hmac.Equal(gotTag, wantTag) {
		return nil, kmerrors.Wrap(kmerrors.ErrBadPassphrase, fName,
			"integrity tag mismatch")
	}

	plaintext := make([]byte, len(body))
	stream := cipher.NewCTR(c.block, iv)
	stream.XORKeyStream(plaintext, body)
	return plaintext, nil
}

// RandomBytes returns n cryptographically strong random bytes.
func RandomBytes(n int) ([]byte, error) {
	const fName = "RandomBytes"
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("%s: %w", fName, err)
	}
	return b, nil
}
