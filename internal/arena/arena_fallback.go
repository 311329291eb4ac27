// Copyright 2026 The Heapcore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package arena

// Map reserves a fresh, zeroed, page-aligned region of at least size bytes.
// Non-Linux platforms have no portable anonymous-mmap-with-madvise story in
// golang.org/x/sys that this module depends on elsewhere, so this falls
// back to the Go allocator; it is still one contiguous slice.
func Map(size int) ([]byte, error) {
	return make([]byte, roundUpPage(size)), nil
}

// Unmap is a no-op; the region is reclaimed by the garbage collector of the
// host Go runtime once unreferenced.
func Unmap(b []byte) error {
	return nil
}

// Advise is a no-op on platforms without Advise support.
func Advise(b []byte) error {
	return nil
}
