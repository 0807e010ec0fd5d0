// Copyright 2026 ckm contributors.
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle is the lifecycle coordinator (C5): it sequences
// bootstrap, startup, and rotation of the cluster's data-encryption
// keys on top of the crypto, store, passphrase, and cache packages, and
// recovers a crashed rotation on the next startup before anything else
// runs.
package lifecycle

import (
	"context"
	"sync"

	"github.com/clusterkm/ckm/internal/keymgr/cache"
	"github.com/clusterkm/ckm/internal/keymgr/crypto"
	"github.com/clusterkm/ckm/internal/keymgr/passphrase"
	"github.com/clusterkm/ckm/internal/keymgr/store"
	"github.com/clusterkm/ckm/internal/kmerrors"
	"github.com/clusterkm/ckm/internal/log"
)

// Config pins the coordinator to a concrete key layout and passphrase
// source.
type Config struct {
	// PrimaryDir and TmpDir are the two directories the crash-safe
	// rotation protocol rotates between.
	PrimaryDir string
	TmpDir     string
	// NKeys is the number of independent DEK slots managed.
	NKeys int
	// KeyLen is the plaintext length generated for a new DEK.
	KeyLen int
	// Passphrase supplies the KEK-derivation passphrase on demand.
	Passphrase *passphrase.Provider
	// PassphraseMin/PassphraseMax bound an acceptable passphrase length.
	PassphraseMin int
	PassphraseMax int
}

// Coordinator drives the bootstrap/startup/rotate state machine. A
// single Coordinator is shared process-wide; Rotate single-flights
// through an internal mutex: a rotation requested while another is
// running fails with kmerrors.ErrRotationInProgress instead of racing
// on the directory swap.
type Coordinator struct {
	cfg Config
	// rotateMu single-flights Rotate; it is held for the duration of a
	// whole rotation, unlike cacheMu below.
	rotateMu sync.Mutex
	// cacheMu guards swapping the active *cache.Cache pointer. It is
	// a distinct lock from rotateMu so installCache (called from
	// within Rotate, which already holds rotateMu) and Get (called
	// from arbitrary goroutines) never need to reason about rotateMu.
	cacheMu sync.Mutex
	cache   *cache.Cache
}

// New constructs a Coordinator for the given configuration. It does not
// touch the filesystem; call Bootstrap or Startup to do so.
func New(cfg Config) *Coordinator {
	return &Coordinator{cfg: cfg}
}

func (c *Coordinator) layout() cache.Layout {
	return cache.Layout{NKeys: c.cfg.NKeys, MaxKeyLen: c.cfg.KeyLen}
}

func (c *Coordinator) readPassphrase(ctx context.Context) ([]byte, error) {
	raw, err := c.cfg.Passphrase.Run(ctx)
	if err != nil {
		return nil, err
	}
	if err := passphrase.CheckLength(raw, c.cfg.PassphraseMin, c.cfg.PassphraseMax); err != nil {
		crypto.Zero(raw)
		return nil, err
	}
	return raw, nil
}

// Bootstrap initializes a brand-new key store: it generates NKeys fresh
// DEKs, wraps them under a KEK derived from the configured passphrase
// source, and commits them to PrimaryDir. It fails with
// kmerrors.ErrAlreadyBootstrapped if PrimaryDir already exists.
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	const fName = "Bootstrap"
	trailID := log.NewTrailID()

	if store.Exists(c.cfg.PrimaryDir) {
		err := kmerrors.Wrap(kmerrors.ErrAlreadyBootstrapped, fName, "primary key store already exists")
		log.Audit(log.AuditEntry{TrailID: trailID, Action: log.AuditBootstrap, State: log.AuditErrored, Err: err.Error()})
		return err
	}

	passphraseBytes, err := c.readPassphrase(ctx)
	if err != nil {
		log.Audit(log.AuditEntry{TrailID: trailID, Action: log.AuditBootstrap, State: log.AuditErrored, Err: err.Error()})
		return err
	}
	defer crypto.Zero(passphraseBytes)

	encKey, macKey, err := crypto.DeriveKeys(passphraseBytes)
	if err != nil {
		log.Audit(log.AuditEntry{TrailID: trailID, Action: log.AuditBootstrap, State: log.AuditErrored, Err: err.Error()})
		return err
	}
	defer crypto.Zero(encKey[:])
	defer crypto.Zero(macKey[:])

	aead, err := crypto.NewContext(encKey, macKey)
	if err != nil {
		log.Audit(log.AuditEntry{TrailID: trailID, Action: log.AuditBootstrap, State: log.AuditErrored, Err: err.Error()})
		return err
	}
	defer aead.Close()

	plaintexts := make([][]byte, c.cfg.NKeys)
	wrapped := make([]store.Wrapped, c.cfg.NKeys)
	for id := 0; id < c.cfg.NKeys; id++ {
		dek, err := crypto.RandomBytes(c.cfg.KeyLen)
		if err != nil {
			zeroAll(plaintexts)
			log.Audit(log.AuditEntry{TrailID: trailID, Action: log.AuditBootstrap, State: log.AuditErrored, Err: err.Error()})
			return err
		}
		plaintexts[id] = dek

		ciphertext, err := aead.Wrap(dek)
		if err != nil {
			zeroAll(plaintexts)
			log.Audit(log.AuditEntry{TrailID: trailID, Action: log.AuditBootstrap, State: log.AuditErrored, Err: err.Error()})
			return err
		}
		w, err := store.NewWrapped(ciphertext)
		if err != nil {
			zeroAll(plaintexts)
			log.Audit(log.AuditEntry{TrailID: trailID, Action: log.AuditBootstrap, State: log.AuditErrored, Err: err.Error()})
			return err
		}
		wrapped[id] = w
	}
	defer zeroAll(plaintexts)

	if err := store.SaveAll(c.cfg.PrimaryDir, wrapped); err != nil {
		log.Audit(log.AuditEntry{TrailID: trailID, Action: log.AuditBootstrap, State: log.AuditErrored, Err: err.Error()})
		return err
	}
	if err := store.SyncAll(c.cfg.PrimaryDir, c.cfg.NKeys); err != nil {
		log.Audit(log.AuditEntry{TrailID: trailID, Action: log.AuditBootstrap, State: log.AuditErrored, Err: err.Error()})
		return err
	}

	if err := c.installCache(plaintexts); err != nil {
		log.Audit(log.AuditEntry{TrailID: trailID, Action: log.AuditBootstrap, State: log.AuditErrored, Err: err.Error()})
		return err
	}

	log.Audit(log.AuditEntry{TrailID: trailID, Action: log.AuditBootstrap, State: log.AuditSuccess})
	return nil
}

// Startup recovers any interrupted rotation, loads the existing key
// store, and installs the unwrapped DEKs into the shared cache. It
// fails with kmerrors.ErrMissingKeystore if PrimaryDir does not exist,
// and with kmerrors.ErrBadPassphrase if the configured passphrase does
// not unlock the stored keys.
func (c *Coordinator) Startup(ctx context.Context) error {
	const fName = "Startup"
	trailID := log.NewTrailID()

	if err := c.recoverRotation(); err != nil {
		log.Audit(log.AuditEntry{TrailID: trailID, Action: log.AuditRecover, State: log.AuditErrored, Err: err.Error()})
		return err
	}

	if !store.Exists(c.cfg.PrimaryDir) {
		err := kmerrors.Wrap(kmerrors.ErrMissingKeystore, fName, "primary key store does not exist")
		log.Audit(log.AuditEntry{TrailID: trailID, Action: log.AuditStartup, State: log.AuditErrored, Err: err.Error()})
		return err
	}

	passphraseBytes, err := c.readPassphrase(ctx)
	if err != nil {
		log.Audit(log.AuditEntry{TrailID: trailID, Action: log.AuditStartup, State: log.AuditErrored, Err: err.Error()})
		return err
	}
	defer crypto.Zero(passphraseBytes)

	plaintexts, err := c.unwrapAll(passphraseBytes, c.cfg.PrimaryDir)
	if err != nil {
		log.Audit(log.AuditEntry{TrailID: trailID, Action: log.AuditStartup, State: log.AuditErrored, Err: err.Error()})
		return err
	}
	defer zeroAll(plaintexts)

	if err := c.installCache(plaintexts); err != nil {
		log.Audit(log.AuditEntry{TrailID: trailID, Action: log.AuditStartup, State: log.AuditErrored, Err: err.Error()})
		return err
	}

	log.Audit(log.AuditEntry{TrailID: trailID, Action: log.AuditStartup, State: log.AuditSuccess})
	return nil
}

// Get returns a copy of id's plaintext DEK from the shared cache. It
// fails with kmerrors.ErrNotLoaded if Bootstrap or Startup has not run.
func (c *Coordinator) Get(id int) ([]byte, error) {
	const fName = "Get"
	c.cacheMu.Lock()
	ch := c.cache
	c.cacheMu.Unlock()

	if ch == nil {
		return nil, kmerrors.Wrap(kmerrors.ErrNotLoaded, fName, "key cache not initialized")
	}
	return ch.Get(id)
}

// Rotate re-wraps the DEKs already held in the shared cache under a
// freshly derived KEK and atomically swaps the re-wrapped records in
// for the ones currently in PrimaryDir. The DEKs themselves never
// change, only the KEK protecting them; this is what lets the existing
// plaintext cache go on serving Get unchanged across a rotation. Only
// one rotation may be in flight at a time; concurrent callers receive
// kmerrors.ErrRotationInProgress.
func (c *Coordinator) Rotate(ctx context.Context) error {
	const fName = "Rotate"
	trailID := log.NewTrailID()

	if !c.rotateMu.TryLock() {
		return kmerrors.Wrap(kmerrors.ErrRotationInProgress, fName, "a rotation is already running")
	}
	defer c.rotateMu.Unlock()

	if !store.Exists(c.cfg.PrimaryDir) {
		err := kmerrors.Wrap(kmerrors.ErrMissingKeystore, fName, "primary key store does not exist")
		log.Audit(log.AuditEntry{TrailID: trailID, Action: log.AuditRotate, State: log.AuditErrored, Err: err.Error()})
		return err
	}

	c.cacheMu.Lock()
	ch := c.cache
	c.cacheMu.Unlock()
	if ch == nil {
		err := kmerrors.Wrap(kmerrors.ErrNotLoaded, fName, "key cache not initialized")
		log.Audit(log.AuditEntry{TrailID: trailID, Action: log.AuditRotate, State: log.AuditErrored, Err: err.Error()})
		return err
	}

	passphraseBytes, err := c.readPassphrase(ctx)
	if err != nil {
		log.Audit(log.AuditEntry{TrailID: trailID, Action: log.AuditRotate, State: log.AuditErrored, Err: err.Error()})
		return err
	}
	defer crypto.Zero(passphraseBytes)

	encKey, macKey, err := crypto.DeriveKeys(passphraseBytes)
	if err != nil {
		log.Audit(log.AuditEntry{TrailID: trailID, Action: log.AuditRotate, State: log.AuditErrored, Err: err.Error()})
		return err
	}
	defer crypto.Zero(encKey[:])
	defer crypto.Zero(macKey[:])

	aead, err := crypto.NewContext(encKey, macKey)
	if err != nil {
		log.Audit(log.AuditEntry{TrailID: trailID, Action: log.AuditRotate, State: log.AuditErrored, Err: err.Error()})
		return err
	}
	defer aead.Close()

	plaintexts := make([][]byte, c.cfg.NKeys)
	wrapped := make([]store.Wrapped, c.cfg.NKeys)
	for id := 0; id < c.cfg.NKeys; id++ {
		dek, err := ch.Get(id)
		if err != nil {
			zeroAll(plaintexts)
			log.Audit(log.AuditEntry{TrailID: trailID, Action: log.AuditRotate, State: log.AuditErrored, Err: err.Error()})
			return err
		}
		plaintexts[id] = dek

		ciphertext, err := aead.Wrap(dek)
		if err != nil {
			zeroAll(plaintexts)
			log.Audit(log.AuditEntry{TrailID: trailID, Action: log.AuditRotate, State: log.AuditErrored, Err: err.Error()})
			return err
		}
		w, err := store.NewWrapped(ciphertext)
		if err != nil {
			zeroAll(plaintexts)
			log.Audit(log.AuditEntry{TrailID: trailID, Action: log.AuditRotate, State: log.AuditErrored, Err: err.Error()})
			return err
		}
		wrapped[id] = w
	}
	defer zeroAll(plaintexts)

	// Stage the re-wrapped generation fully, durably, in TmpDir before
	// touching PrimaryDir: a crash while staging leaves PrimaryDir
	// untouched and TmpDir absent or incomplete, which recoverRotation
	// resolves by keeping PrimaryDir (discarding an incomplete TmpDir).
	// Once TmpDir holds all NKeys records, recoverRotation treats it as
	// committed and finishes the swap.
	if err := store.RemoveTree(c.cfg.TmpDir); err != nil {
		log.Audit(log.AuditEntry{TrailID: trailID, Action: log.AuditRotate, State: log.AuditErrored, Err: err.Error()})
		return err
	}
	if err := store.SaveAll(c.cfg.TmpDir, wrapped); err != nil {
		log.Audit(log.AuditEntry{TrailID: trailID, Action: log.AuditRotate, State: log.AuditErrored, Err: err.Error()})
		return err
	}
	if err := store.SyncAll(c.cfg.TmpDir, c.cfg.NKeys); err != nil {
		log.Audit(log.AuditEntry{TrailID: trailID, Action: log.AuditRotate, State: log.AuditErrored, Err: err.Error()})
		return err
	}

	if err := c.commitTmpOverPrimary(); err != nil {
		log.Audit(log.AuditEntry{TrailID: trailID, Action: log.AuditRotate, State: log.AuditErrored, Err: err.Error()})
		return err
	}

	log.Audit(log.AuditEntry{TrailID: trailID, Action: log.AuditRotate, State: log.AuditSuccess})
	return nil
}

// Status reports a point-in-time summary of the key store without
// consulting the passphrase source: whether PrimaryDir exists, whether
// a rotation is visibly in flight (TmpDir present), and whether this
// process has the keys loaded into its shared cache.
type Status struct {
	Bootstrapped     bool
	RotationInFlight bool
	Loaded           bool
}

// Status returns the coordinator's current status.
func (c *Coordinator) Status() Status {
	c.cacheMu.Lock()
	loaded := c.cache != nil
	c.cacheMu.Unlock()

	return Status{
		Bootstrapped:     store.Exists(c.cfg.PrimaryDir),
		RotationInFlight: store.Exists(c.cfg.TmpDir),
		Loaded:           loaded,
	}
}

// commitTmpOverPrimary deletes PrimaryDir and renames TmpDir into its
// place. A crash between the two steps is resolved by recoverRotation,
// which sees PrimaryDir absent and TmpDir complete and finishes the
// rename.
func (c *Coordinator) commitTmpOverPrimary() error {
	const fName = "commitTmpOverPrimary"

	if err := store.RemoveTree(c.cfg.PrimaryDir); err != nil {
		return kmerrors.WrapErr(kmerrors.ErrIO, fName, "failed to remove old primary key store", err)
	}
	if err := store.RenameDir(c.cfg.TmpDir, c.cfg.PrimaryDir); err != nil {
		return kmerrors.WrapErr(kmerrors.ErrIO, fName, "failed to rename new key store into place", err)
	}
	return nil
}

// recoverRotation resolves the on-disk state left by a rotation that
// crashed mid-flight, before any passphrase is consulted. The decision
// depends only on which of PrimaryDir/TmpDir exist and how many
// complete entries TmpDir holds, never on whether the stored
// ciphertext decrypts:
//
//   - TmpDir absent: nothing to recover.
//   - TmpDir present and complete (NKeys entries), PrimaryDir present:
//     the crash happened after TmpDir finished staging but before
//     PrimaryDir was removed; a complete TmpDir is effectively
//     committed, so finish the swap (remove PrimaryDir, then rename
//     TmpDir into its place).
//   - TmpDir present and complete, PrimaryDir absent: the crash
//     happened after PrimaryDir was removed but before the rename;
//     finish the rename.
//   - TmpDir present and incomplete, PrimaryDir present: the crash
//     happened while staging TmpDir; TmpDir is discarded.
//   - TmpDir present and incomplete, PrimaryDir absent: unrecoverable,
//     since the old keys are gone and the new ones are incomplete.
func (c *Coordinator) recoverRotation() error {
	const fName = "recoverRotation"

	if !store.Exists(c.cfg.TmpDir) {
		return nil
	}

	tmpCount, err := store.Count(c.cfg.TmpDir, c.cfg.NKeys)
	if err != nil {
		return kmerrors.WrapErr(kmerrors.ErrIO, fName, "failed to inspect tmp key store", err)
	}
	complete := tmpCount == c.cfg.NKeys
	primaryExists := store.Exists(c.cfg.PrimaryDir)

	switch {
	case complete && primaryExists:
		return c.commitTmpOverPrimary()
	case complete && !primaryExists:
		return store.RenameDir(c.cfg.TmpDir, c.cfg.PrimaryDir)
	case !complete && primaryExists:
		return store.RemoveTree(c.cfg.TmpDir)
	default:
		return kmerrors.Wrap(kmerrors.ErrCorrupt, fName,
			"key store unrecoverable: primary missing and tmp generation incomplete")
	}
}

func (c *Coordinator) unwrapAll(passphraseBytes []byte, dir string) ([][]byte, error) {
	const fName = "unwrapAll"

	encKey, macKey, err := crypto.DeriveKeys(passphraseBytes)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(encKey[:])
	defer crypto.Zero(macKey[:])

	aead, err := crypto.NewContext(encKey, macKey)
	if err != nil {
		return nil, err
	}
	defer aead.Close()

	wrapped, err := store.LoadAll(dir, c.cfg.NKeys)
	if err != nil {
		return nil, err
	}

	plaintexts := make([][]byte, c.cfg.NKeys)
	for id, w := range wrapped {
		dek, err := aead.Unwrap(w.Ciphertext())
		if err != nil {
			zeroAll(plaintexts)
			return nil, kmerrors.WrapErr(kmerrors.ErrBadPassphrase, fName, "failed to unwrap key", err)
		}
		plaintexts[id] = dek
	}
	return plaintexts, nil
}

func (c *Coordinator) installCache(plaintexts [][]byte) error {
	ch, err := cache.Init(c.layout())
	if err != nil {
		return err
	}

	for id, dek := range plaintexts {
		if err := ch.Install(id, dek); err != nil {
			_ = ch.Close()
			return err
		}
	}
	ch.Seal()

	c.cacheMu.Lock()
	old := c.cache
	c.cache = ch
	c.cacheMu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

func zeroAll(buffers [][]byte) {
	for _, b := range buffers {
		crypto.Zero(b)
	}
}
