// Copyright 2026 ckm contributors.
// SPDX-License-Identifier: Apache-2.0

// Package cache is the shared key cache (C4): a process-wide memory
// region holding the plaintext DEKs once unwrapped, so every goroutine
// reading a key does so from the same page-backed allocation instead of
// re-unwrapping on every access or passing raw key slices around the
// heap. The region is allocated with a plain anonymous mmap rather than
// a shared-memory segment keyed by name, since nothing outside this
// process needs to attach to it; MAP_SHARED only matters here insofar
// as it survives a fork of the process, which callers rely on when a
// worker pool is forked after Install.
package cache

import (
	"sync"
	"syscall"

	"github.com/clusterkm/ckm/internal/kmerrors"
)

// slotHeader precedes each key's bytes in the mapped region: a length
// prefix so Get can report how many of the slot's bytes are meaningful
// without a side channel.
type slotHeader struct {
	length uint32
}

const headerSize = 4

// Layout describes how many keys of what maximum size the cache must
// hold. Size derives the total mapped region length from it.
type Layout struct {
	NKeys     int
	MaxKeyLen int
}

// slotSize is the per-key footprint: a length header plus the maximum
// key payload.
func (l Layout) slotSize() int {
	return headerSize + l.MaxKeyLen
}

// Size returns the total number of bytes Init must map for the given
// layout.
func (l Layout) Size() uintptr {
	return uintptr(l.slotSize() * l.NKeys)
}

// Cache is a process-wide read-mostly region of plaintext key
// material. It is written once per key slot (Install) and read many
// times (Get); after Seal, no further writes are permitted.
type Cache struct {
	mu     sync.RWMutex
	layout Layout
	region []byte
	sealed bool
}

// Init allocates a new anonymous shared mapping (MAP_SHARED|MAP_ANON)
// sized for layout. The mapping is zero-filled by the kernel.
func Init(layout Layout) (*Cache, error) {
	const fName = "Init"

	size := int(layout.Size())
	if size == 0 {
		return nil, kmerrors.Wrap(kmerrors.ErrCryptoInit, fName,
			"cache layout has zero size")
	}

	region, err := syscall.Mmap(-1, 0, size,
		syscall.PROT_READ|syscall.PROT_WRITE,
		syscall.MAP_SHARED|syscall.MAP_ANON)
	if err != nil {
		return nil, kmerrors.WrapErr(kmerrors.ErrCryptoInit, fName,
			"mmap failed", err)
	}

	return &Cache{layout: layout, region: region}, nil
}

func (c *Cache) slot(id int) ([]byte, error) {
	if id < 0 || id >= c.layout.NKeys {
		return nil, kmerrors.Wrap(kmerrors.ErrOutOfRange, "slot", "key id out of range")
	}
	size := c.layout.slotSize()
	start := id * size
	return c.region[start : start+size], nil
}

// Install writes plaintext into id's slot. It fails if the cache has
// been sealed or if plaintext exceeds the layout's MaxKeyLen.
func (c *Cache) Install(id int, plaintext []byte) error {
	const fName = "Install"

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sealed {
		return kmerrors.Wrap(kmerrors.ErrNotLoaded, fName, "cache is sealed")
	}
	if len(plaintext) > c.layout.MaxKeyLen {
		return kmerrors.Wrap(kmerrors.ErrCorrupt, fName, "key exceeds cache slot capacity")
	}

	slot, err := c.slot(id)
	if err != nil {
		return err
	}

	slot[0] = byte(len(plaintext))
	slot[1] = byte(len(plaintext) >> 8)
	slot[2] = byte(len(plaintext) >> 16)
	slot[3] = byte(len(plaintext) >> 24)
	copy(slot[headerSize:], plaintext)
	// Zero any bytes beyond plaintext's length left over from a prior
	// Install into this slot.
	for i := headerSize + len(plaintext); i < len(slot); i++ {
		slot[i] = 0
	}
	return nil
}

// Get returns a copy of id's plaintext key bytes. The cache never hands
// out a slice that aliases the mapped region, so a caller zeroing its
// copy cannot corrupt the cache's own state.
func (c *Cache) Get(id int) ([]byte, error) {
	const fName = "Get"

	c.mu.RLock()
	defer c.mu.RUnlock()

	slot, err := c.slot(id)
	if err != nil {
		return nil, err
	}

	length := uint32(slot[0]) | uint32(slot[1])<<8 | uint32(slot[2])<<16 | uint32(slot[3])<<24
	if int(length) > c.layout.MaxKeyLen {
		return nil, kmerrors.Wrap(kmerrors.ErrCorrupt, fName, "slot length exceeds capacity")
	}

	out := make([]byte, length)
	copy(out, slot[headerSize:headerSize+int(length)])
	return out, nil
}

// Seal marks the cache read-only for the remainder of the process
// lifetime: it flips the in-process write guard in Install and, best
// effort, drops PROT_WRITE on the mapping via mprotect so a stray write
// through a raw pointer into the region also faults. A platform where
// mprotect fails is not treated as fatal: the in-process guard still
// holds.
func (c *Cache) Seal() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sealed {
		return
	}
	c.sealed = true
	_ = syscall.Mprotect(c.region, syscall.PROT_READ)
}

// Close zeroes and unmaps the cache's region. Callers must not use the
// Cache after Close.
func (c *Cache) Close() error {
	const fName = "Close"

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sealed {
		// Undo Seal's mprotect so the zeroing writes below don't fault.
		_ = syscall.Mprotect(c.region, syscall.PROT_READ|syscall.PROT_WRITE)
	}
	for i := range c.region {
		c.region[i] = 0
	}

	if err := syscall.Munmap(c.region); err != nil {
		return kmerrors.WrapErr(kmerrors.ErrIO, fName, "munmap failed", err)
	}
	c.region = nil
	return nil
}
