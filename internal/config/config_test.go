// Copyright 2026 ckm contributors.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"path/filepath"
	"testing"
)

func TestEnabledDefaultsToTrue(t *testing.T) {
	t.Setenv("CKM_ENABLED", "")
	if !Enabled() {
		t.Error("Enabled() should default to true")
	}
}

func TestEnabledHonorsEnvOverride(t *testing.T) {
	t.Setenv("CKM_ENABLED", "false")
	if Enabled() {
		t.Error("Enabled() should honor CKM_ENABLED=false")
	}
}

func TestPassphraseMinMaxDefaults(t *testing.T) {
	t.Setenv("CKM_PASSPHRASE_MIN", "")
	t.Setenv("CKM_PASSPHRASE_MAX", "")
	if got := PassphraseMin(); got != defaultPassphraseMin {
		t.Errorf("PassphraseMin() = %d, want %d", got, defaultPassphraseMin)
	}
	if got := PassphraseMax(); got != defaultPassphraseMax {
		t.Errorf("PassphraseMax() = %d, want %d", got, defaultPassphraseMax)
	}
}

func TestPassphraseMinMaxEnvOverride(t *testing.T) {
	t.Setenv("CKM_PASSPHRASE_MIN", "16")
	t.Setenv("CKM_PASSPHRASE_MAX", "256")
	if got := PassphraseMin(); got != 16 {
		t.Errorf("PassphraseMin() = %d, want 16", got)
	}
	if got := PassphraseMax(); got != 256 {
		t.Errorf("PassphraseMax() = %d, want 256", got)
	}
}

func TestDataDirFallsBackUnderHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("CKM_DATA_DIR", "")

	dir := DataDir()
	if dir == "" {
		t.Fatal("DataDir() returned empty string")
	}
	if want := filepath.Join(home, ".ckm", "data"); dir != want {
		t.Errorf("DataDir() = %q, want %q", dir, want)
	}
}

func TestPrimaryAndTmpDirAreSiblings(t *testing.T) {
	t.Setenv("CKM_DATA_DIR", t.TempDir())
	if PrimaryDir() == TmpDir() {
		t.Error("PrimaryDir and TmpDir must not collide")
	}
	if filepath.Dir(PrimaryDir()) != filepath.Dir(TmpDir()) {
		t.Error("PrimaryDir and TmpDir must share a parent directory")
	}
}
