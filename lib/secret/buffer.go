// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds sensitive material — vault master keys, relay
// secrets, decrypted credential fields — in memory the garbage
// collector never sees.
//
// Buffer allocates its backing store outside the Go heap with
// mmap(MAP_ANONYMOUS), pins it into physical RAM with mlock so it can
// never reach swap, and marks it MADV_DONTDUMP so it is excluded from
// core dumps. Close zeros, unpins, and unmaps the region. Because the
// GC cannot copy or relocate the region, zeroing on Close is the end
// of the secret's life in this process.
package secret

import (
	"crypto/subtle"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Buffer is a protected region holding one secret. It must not be
// copied after creation. After Close, any access to the contents
// panics. All methods are safe for concurrent use.
type Buffer struct {
	mu     sync.Mutex
	region []byte
	size   int
	closed bool
}

// New allocates a zero-filled protected buffer of the given size.
// The caller owns the buffer and must Close it when the secret is no
// longer needed.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: buffer size must be positive, got %d", size)
	}

	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap: %w", err)
	}

	if err := unix.Mlock(region); err != nil {
		unix.Munmap(region)
		return nil, fmt.Errorf("secret: mlock: %w", err)
	}

	if err := unix.Madvise(region, unix.MADV_DONTDUMP); err != nil {
		// Some kernels lack MADV_DONTDUMP. Fail loudly at startup
		// rather than silently degrade the protection contract.
		unix.Munlock(region)
		unix.Munmap(region)
		return nil, fmt.Errorf("secret: madvise(MADV_DONTDUMP): %w", err)
	}

	return &Buffer{region: region, size: size}, nil
}

// NewFromBytes copies source into a protected buffer and zeros the
// source slice in place, so the caller's copy no longer holds the
// secret. Empty sources are rejected.
func NewFromBytes(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("secret: cannot create buffer from empty source")
	}

	buffer, err := New(len(source))
	if err != nil {
		return nil, err
	}
	copy(buffer.region, source)
	Zero(source)
	return buffer, nil
}

// Bytes returns the secret contents. The slice points directly into
// the protected region — do not retain it past the buffer's lifetime.
// Panics if the buffer has been closed.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("secret: read from closed buffer")
	}
	return b.region[:b.size]
}

// String returns the contents as a string. Go strings are immutable
// heap values, so this necessarily makes a transient heap copy; use it
// only at API boundaries that demand a string, and prefer Bytes.
// Panics if the buffer has been closed.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("secret: read from closed buffer")
	}
	return string(b.region[:b.size])
}

// Len returns the secret's size in bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Equal reports whether the buffer's contents equal candidate, in
// constant time with respect to the contents. Used for comparing
// bearer tokens without heap copies of the stored secret.
// Panics if the buffer has been closed.
func (b *Buffer) Equal(candidate []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("secret: read from closed buffer")
	}
	return subtle.ConstantTimeCompare(b.region[:b.size], candidate) == 1
}

// Close zeros the contents and releases the region. Idempotent.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	Zero(b.region)

	var firstError error
	if err := unix.Munlock(b.region); err != nil {
		firstError = fmt.Errorf("secret: munlock: %w", err)
	}
	if err := unix.Munmap(b.region); err != nil && firstError == nil {
		firstError = fmt.Errorf("secret: munmap: %w", err)
	}
	b.region = nil
	return firstError
}

// Zero overwrites every byte of data with zeros. Use on any transient
// heap slice that has held secret material.
func Zero(data []byte) {
	for index := range data {
		data[index] = 0
	}
}
