// Copyright 2026 ckm contributors.
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"bytes"
	"errors"
	"testing"

	"github.com/clusterkm/ckm/internal/kmerrors"
)

func TestDeriveKeysDeterministic(t *testing.T) {
	enc1, mac1, err := DeriveKeys([]byte("correct horse battery staple"))
	if err != nil {
		t.Fatalf("DeriveKeys: %v", err)
	}

	enc2, mac2, err := DeriveKeys([]byte("correct horse battery staple"))
	if err != nil {
		t.Fatalf("DeriveKeys second call: %v", err)
	}

	if enc1 != enc2 {
		t.Error("DeriveKeys is not deterministic for enc key")
	}
	if mac1 != mac2 {
		t.Error("DeriveKeys is not deterministic for mac key")
	}
}

func TestDeriveKeysDifferentPassphrases(t *testing.T) {
	enc1, mac1, err := DeriveKeys([]byte("passphrase-one-xxxxxxxxxxxxxxxx"))
	if err != nil {
		t.Fatalf("DeriveKeys: %v", err)
	}
	enc2, mac2, err := DeriveKeys([]byte("passphrase-two-xxxxxxxxxxxxxxxx"))
	if err != nil {
		t.Fatalf("DeriveKeys: %v", err)
	}

	if enc1 == enc2 {
		t.Error("different passphrases produced identical enc keys")
	}
	if mac1 == mac2 {
		t.Error("different passphrases produced identical mac keys")
	}
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	encKey, macKey, err := DeriveKeys([]byte("round-trip-passphrase"))
	if err != nil {
		t.Fatalf("DeriveKeys: %v", err)
	}

	ctx, err := NewContext(encKey, macKey)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer ctx.Close()

	plaintext, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}

	wrapped, err := ctx.Wrap(plaintext)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if len(wrapped) != len(plaintext)+WrapExpand {
		t.Fatalf("wrapped length = %d, want %d",
			len(wrapped), len(plaintext)+WrapExpand)
	}

	unwrapped, err := ctx.Unwrap(wrapped)
	if err != nil {
		t.Fatalf("Unwrap: %v", err)
	}
	if !bytes.Equal(plaintext, unwrapped) {
		t.Error("round trip did not preserve plaintext")
	}
}

func TestUnwrapWrongPassphraseFails(t *testing.T) {
	encKey, macKey, _ := DeriveKeys([]byte("original-passphrase"))
	ctx, err := NewContext(encKey, macKey)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer ctx.Close()

	plaintext := []byte("some-dek-bytes-000000000000000")
	wrapped, err := ctx.Wrap(plaintext)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}

	wrongEnc, wrongMac, _ := DeriveKeys([]byte("a-different-passphrase"))
	wrongCtx, err := NewContext(wrongEnc, wrongMac)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer wrongCtx.Close()

	if _, err := wrongCtx.Unwrap(wrapped); err == nil {
		t.Error("expected Unwrap to fail under the wrong passphrase")
	}
}

func TestUnwrapCorruptedCiphertextFails(t *testing.T) {
	encKey, macKey, _ := DeriveKeys([]byte("tamper-test-passphrase"))
	ctx, err := NewContext(encKey, macKey)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer ctx.Close()

	wrapped, err := ctx.Wrap([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}

	tampered := append([]byte(nil), wrapped...)
	tampered[0] ^= 0xFF

	if _, err := ctx.Unwrap(tampered); err == nil {
		t.Error("expected Unwrap to fail on tampered ciphertext")
	}
}

func TestUnwrapShortCiphertextIsCorrupt(t *testing.T) {
	encKey, macKey, _ := DeriveKeys([]byte("short-ciphertext-test"))
	ctx, err := NewContext(encKey, macKey)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer ctx.Close()

	if _, err := ctx.Unwrap([]byte("too-short")); !errors.Is(err, kmerrors.ErrCorrupt) {
		t.Errorf("Unwrap undersized ciphertext error = %v, want ErrCorrupt", err)
	}
}

func TestRandomBytesAreDifferent(t *testing.T) {
	a, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}
	b, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("two calls to RandomBytes produced identical output")
	}
}
