// Copyright 2026 ckm contributors.
// SPDX-License-Identifier: Apache-2.0

// Package ckm is the programmatic surface of the cluster key manager:
// bootstrap a fresh key store, start up against an existing one, fetch
// a decrypted data-encryption key, rotate the key material, and check
// status. Every exported function here is safe to call from multiple
// goroutines.
package ckm

import (
	"context"
	"sync"

	"github.com/clusterkm/ckm/internal/config"
	"github.com/clusterkm/ckm/internal/keymgr/cache"
	"github.com/clusterkm/ckm/internal/keymgr/lifecycle"
	"github.com/clusterkm/ckm/internal/keymgr/passphrase"
	"github.com/clusterkm/ckm/internal/kmerrors"
)

// nKeys and keyLen fix the build to a single 32-byte DEK, the SQL
// database encryption key, matching the one key the current system
// manages.
const (
	nKeys  = 1
	keyLen = 32
)

var (
	coordinator     *lifecycle.Coordinator
	coordinatorOnce sync.Once
)

func cacheLayout() cache.Layout {
	return cache.Layout{NKeys: nKeys, MaxKeyLen: keyLen}
}

func defaultCoordinator() *lifecycle.Coordinator {
	coordinatorOnce.Do(func() {
		coordinator = lifecycle.New(lifecycle.Config{
			PrimaryDir:    config.PrimaryDir(),
			TmpDir:        config.TmpDir(),
			NKeys:         nKeys,
			KeyLen:        keyLen,
			Passphrase:    passphrase.NewProvider(config.PassphraseCommand(), config.PassphraseMax()+1),
			PassphraseMin: config.PassphraseMin(),
			PassphraseMax: config.PassphraseMax(),
		})
	})
	return coordinator
}

// SharedSize returns the number of bytes the shared key cache occupies
// once loaded, or zero when key management is disabled.
func SharedSize() uintptr {
	if !config.Enabled() {
		return 0
	}
	return cacheLayout().Size()
}

// Bootstrap initializes a brand-new key store. It is a no-op error,
// kmerrors.ErrFeatureDisabled, if the cluster key manager feature is
// disabled via configuration.
func Bootstrap(ctx context.Context) error {
	if !config.Enabled() {
		return kmerrors.Wrap(kmerrors.ErrFeatureDisabled, "Bootstrap", "key management is disabled")
	}
	return defaultCoordinator().Bootstrap(ctx)
}

// Startup loads the existing key store, recovering any interrupted
// rotation first.
func Startup(ctx context.Context) error {
	if !config.Enabled() {
		return kmerrors.Wrap(kmerrors.ErrFeatureDisabled, "Startup", "key management is disabled")
	}
	return defaultCoordinator().Startup(ctx)
}

// Get returns a copy of the plaintext bytes for the data-encryption key
// identified by id.
func Get(id int) ([]byte, error) {
	if !config.Enabled() {
		return nil, kmerrors.Wrap(kmerrors.ErrFeatureDisabled, "Get", "key management is disabled")
	}
	return defaultCoordinator().Get(id)
}

// Rotate re-wraps the existing data-encryption keys under a freshly
// derived key-encryption key and commits the result. The data-encryption
// keys themselves are never replaced.
func Rotate(ctx context.Context) error {
	if !config.Enabled() {
		return kmerrors.Wrap(kmerrors.ErrFeatureDisabled, "Rotate", "key management is disabled")
	}
	return defaultCoordinator().Rotate(ctx)
}

// Status reports the current point-in-time state of the key store.
func Status() lifecycle.Status {
	return defaultCoordinator().Status()
}
