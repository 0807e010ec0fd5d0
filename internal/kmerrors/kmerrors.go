// Copyright 2026 ckm contributors.
// SPDX-License-Identifier: Apache-2.0

// Package kmerrors provides the standardized error taxonomy for the
// cluster key manager. Every failure that can terminate a key-manager
// operation is one of the sentinels below, optionally wrapped with
// operation-specific context via Wrap.
package kmerrors

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every fatal failure kind a key-manager operation can
// report is one of these, matched with errors.Is after Wrap.
var (
	// ErrFeatureDisabled indicates an operation was attempted while key
	// management is disabled by configuration.
	ErrFeatureDisabled = errors.New("key management feature disabled")

	// ErrPassphraseTooShort indicates the passphrase read from the
	// external command is shorter than the configured minimum.
	ErrPassphraseTooShort = errors.New("passphrase too short")

	// ErrPassphraseTooLong indicates the passphrase read from the
	// external command exceeds the configured maximum.
	ErrPassphraseTooLong = errors.New("passphrase too long")

	// ErrCommandSpawn indicates the passphrase command could not be
	// started.
	ErrCommandSpawn = errors.New("failed to spawn passphrase command")

	// ErrCommandRead indicates the passphrase command's stdout could
	// not be read.
	ErrCommandRead = errors.New("failed to read passphrase command output")

	// ErrCommandExit indicates the passphrase command exited non-zero.
	ErrCommandExit = errors.New("passphrase command exited non-zero")

	// ErrCryptoInit indicates the AEAD context could not be constructed
	// from derived key material.
	ErrCryptoInit = errors.New("failed to initialize crypto context")

	// ErrBadPassphrase indicates at least one wrapped key failed to
	// unwrap under the derived KEK: the passphrase is wrong, or the
	// wrapped file is corrupt.
	ErrBadPassphrase = errors.New("passphrase does not unlock the key store")

	// ErrCorrupt indicates a wrapped-key file is short, malformed, or
	// otherwise fails structural validation before any AEAD check runs.
	ErrCorrupt = errors.New("corrupt key store entry")

	// ErrMissingKeystore indicates neither PRIMARY_DIR nor TMP_DIR is
	// present at startup.
	ErrMissingKeystore = errors.New("key store missing")

	// ErrIO indicates a filesystem failure other than the above.
	ErrIO = errors.New("key store I/O error")

	// ErrAlreadyBootstrapped indicates bootstrap was invoked against a
	// data directory that already holds a primary key store.
	ErrAlreadyBootstrapped = errors.New("cluster already bootstrapped")

	// ErrRotationInProgress indicates a second rotation was attempted
	// while one is already running in this process.
	ErrRotationInProgress = errors.New("rotation already in progress")

	// ErrNotLoaded indicates the key cache is not available for the
	// requested operation: Get or Rotate ran before Bootstrap or Startup
	// loaded it, or Install ran on a cache that is already sealed.
	ErrNotLoaded = errors.New("key cache not loaded")

	// ErrOutOfRange indicates a key id outside [0, NKeys) was requested.
	ErrOutOfRange = errors.New("key id out of range")
)

// Wrap attaches fName/message context to a sentinel error while
// preserving the chain for errors.Is(err, sentinel).
func Wrap(sentinel error, fName, message string) error {
	if sentinel == nil {
		return nil
	}
	return fmt.Errorf("%s: %s: %w", fName, message, sentinel)
}

// WrapErr attaches fName/message context to an arbitrary error,
// classifying it under the given sentinel so callers can still match it
// with errors.Is.
func WrapErr(sentinel error, fName, message string, cause error) error {
	if cause == nil {
		return Wrap(sentinel, fName, message)
	}
	return fmt.Errorf("%s: %s: %w: %w", fName, message, sentinel, cause)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
