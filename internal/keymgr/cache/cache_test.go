// Copyright 2026 ckm contributors.
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"bytes"
	"testing"
)

func testLayout() Layout {
	return Layout{NKeys: 2, MaxKeyLen: 32}
}

func TestInstallGetRoundTrip(t *testing.T) {
	c, err := Init(testLayout())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer c.Close()

	key := bytes.Repeat([]byte{0xAB}, 32)
	if err := c.Install(0, key); err != nil {
		t.Fatalf("Install: %v", err)
	}

	got, err := c.Get(0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Error("Get did not return the installed key")
	}
}

func TestGetReturnsCopyNotAlias(t *testing.T) {
	c, err := Init(testLayout())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer c.Close()

	if err := c.Install(0, []byte("secret-key-bytes")); err != nil {
		t.Fatalf("Install: %v", err)
	}

	got, err := c.Get(0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	for i := range got {
		got[i] = 0
	}

	got2, err := c.Get(0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got2, []byte("secret-key-bytes")) {
		t.Error("zeroing a Get result corrupted the cache's own copy")
	}
}

func TestInstallRejectsOutOfRangeID(t *testing.T) {
	c, err := Init(testLayout())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer c.Close()

	if err := c.Install(5, []byte("x")); err == nil {
		t.Error("expected Install to reject an out-of-range id")
	}
}

func TestInstallRejectsOversizedKey(t *testing.T) {
	c, err := Init(testLayout())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer c.Close()

	if err := c.Install(0, make([]byte, 1024)); err == nil {
		t.Error("expected Install to reject a key exceeding MaxKeyLen")
	}
}

func TestSealPreventsFurtherInstall(t *testing.T) {
	c, err := Init(testLayout())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer c.Close()

	if err := c.Install(0, []byte("before-seal")); err != nil {
		t.Fatalf("Install: %v", err)
	}
	c.Seal()

	if err := c.Install(1, []byte("after-seal")); err == nil {
		t.Error("expected Install to fail after Seal")
	}

	got, err := c.Get(0)
	if err != nil {
		t.Fatalf("Get after seal: %v", err)
	}
	if !bytes.Equal(got, []byte("before-seal")) {
		t.Error("Get after Seal returned unexpected data")
	}
}

func TestCloseZeroesRegionEvenWhenSealed(t *testing.T) {
	c, err := Init(testLayout())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := c.Install(0, []byte("sensitive")); err != nil {
		t.Fatalf("Install: %v", err)
	}
	c.Seal()

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestLayoutSize(t *testing.T) {
	l := Layout{NKeys: 3, MaxKeyLen: 64}
	want := uintptr((4 + 64) * 3)
	if got := l.Size(); got != want {
		t.Errorf("Size() = %d, want %d", got, want)
	}
}
