// Copyright 2026 The Heapcore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arena

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Map reserves a fresh, zeroed, page-aligned region of at least size bytes
// via anonymous mmap. The returned slice's length and capacity both equal
// the rounded-up size.
func Map(size int) ([]byte, error) {
	size = roundUpPage(size)
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("arena: mmap %d bytes: %w", size, err)
	}
	return b, nil
}

// Unmap releases a region obtained from Map. It must be called with the
// exact slice Map returned.
func Unmap(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if err := unix.Munmap(b); err != nil {
		return fmt.Errorf("arena: munmap: %w", err)
	}
	return nil
}

// Advise hints that the region is not presently needed, allowing the
// kernel to reclaim its physical pages without releasing the mapping
// itself. Used by the Immix collector when a block sweeps fully empty;
// the block stays on the free list for future reuse.
func Advise(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Madvise(b, unix.MADV_DONTNEED)
}
