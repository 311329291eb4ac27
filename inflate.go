// Copyright 2026 The Heapcore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapcore

import (
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/throneless-labs/heapcore/internal/backoff"
)

// InflatedHeader is the side record a header word escalates to when it
// needs more state than 62 bits of aux can carry: a recursive mutex, an
// identity number, and/or a foreign-handle pointer simultaneously (§3,
// "Inflated Header"). Once allocated its address — and thus the index
// recorded in the owning object's header word — is stable for the
// object's lifetime; compaction copies the index, never the record.
type InflatedHeader struct {
	mu sync.Mutex

	// originalID preserves any identity number the object held before
	// inflation (0 if it never had one).
	originalID uint64

	// foreignHandle is an opaque pointer into the foreign-code bridge;
	// non-nil pins the owning object against relocation until released.
	foreignHandle unsafe.Pointer

	// Recursive mutex state. owner 0 means unlocked.
	owner     uint32
	recursion uint32

	// mark is stamped with the current epoch when the owning object is
	// traced; Sweep frees any record left at a stale epoch.
	mark uint32
}

// OriginalID returns the identity number the object held before
// inflation, or 0 if none was ever assigned.
func (ih *InflatedHeader) OriginalID() uint64 {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	return ih.originalID
}

// ForeignHandle returns the pinned foreign-code handle, or nil.
func (ih *InflatedHeader) ForeignHandle() unsafe.Pointer {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	return ih.foreignHandle
}

// SetForeignHandle installs (or clears, with nil) the foreign-code handle.
func (ih *InflatedHeader) SetForeignHandle(h unsafe.Pointer) {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	ih.foreignHandle = h
}

// Owner returns the thread id currently holding the recursive mutex, or 0
// if unlocked. Exposed for the lock-ownership-preservation property (§8.5).
func (ih *InflatedHeader) Owner() (owner uint32, recursion uint32) {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	return ih.owner, ih.recursion
}

// tryAcquire attempts a non-blocking (re-)acquisition for threadID.
func (ih *InflatedHeader) tryAcquire(threadID uint32) bool {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	if ih.owner == 0 {
		ih.owner = threadID
		ih.recursion = 0
		return true
	}
	if ih.owner == threadID {
		ih.recursion++
		return true
	}
	return false
}

// Lock blocks until the recursive mutex is acquired by threadID.
func (ih *InflatedHeader) Lock(threadID uint32) {
	b := backoff.New()
	for !ih.tryAcquire(threadID) {
		b.Spin()
	}
}

// LockTimeout acquires the mutex, honoring a timeout (0 means "poll once,
// don't block") and an interrupt flag, matching ContendForLock's contract
// in §5. On timeout or interrupt it returns without having acquired
// anything.
func (ih *InflatedHeader) LockTimeout(threadID uint32, timeout time.Duration, interrupt *int32) error {
	if ih.tryAcquire(threadID) {
		return nil
	}
	if timeout <= 0 {
		return ErrLockTimeout
	}
	deadline := time.Now().Add(timeout)
	b := backoff.New()
	for {
		if interrupt != nil && loadFlag(interrupt) {
			return ErrLockInterrupted
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		if ih.tryAcquire(threadID) {
			return nil
		}
		b.Spin()
	}
}

// Unlock releases one level of recursion, unlocking fully once the count
// reaches zero. Unlocking a mutex not held by threadID is a caller error
// and triggers an invariant violation.
func (ih *InflatedHeader) Unlock(threadID uint32) {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	if ih.owner != threadID {
		invariantViolation("unlock of inflated mutex by non-owner thread %d (owner %d)", threadID, ih.owner)
	}
	if ih.recursion > 0 {
		ih.recursion--
		return
	}
	ih.owner = 0
}

// InflatedTable is a slab allocator of InflatedHeader records addressed by
// stable 32-bit index. Grown by doubling; allocation and lookup are O(1).
// Grounded on the teacher's rawBridge.files/freeFiles free-list pattern in
// nodefs/bridge.go's registerFile: append when the free list is empty,
// otherwise pop a recycled slot.
type InflatedTable struct {
	mu      sync.Mutex
	records []*InflatedHeader
	free    []uint32
}

// NewInflatedTable returns an empty table.
func NewInflatedTable() *InflatedTable {
	return &InflatedTable{}
}

// Allocate reserves a fresh InflatedHeader, stamped with the current
// epoch so it survives until the next sweep even if tracing hasn't yet
// visited its owner. Growth never fails in this implementation (it is
// backed by the Go allocator, not a fixed arena); the factor/abort policy
// in spec.md §4.2 exists for hosts with fixed-size slabs and is satisfied
// trivially here.
func (t *InflatedTable) Allocate(epoch uint32) (*InflatedHeader, uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var index uint32
	if n := len(t.free); n > 0 {
		index = t.free[n-1]
		t.free = t.free[:n-1]
		t.records[index] = &InflatedHeader{mark: epoch}
	} else {
		index = uint32(len(t.records))
		t.records = append(t.records, &InflatedHeader{mark: epoch})
	}
	return t.records[index], index
}

// Get returns the record at index. An out-of-range index is a programming
// error (§4.2); in debug builds (see debugChecks) it is validated and
// reported as an invariant violation rather than returning garbage.
func (t *InflatedTable) Get(index uint32) *InflatedHeader {
	t.mu.Lock()
	defer t.mu.Unlock()
	if debugChecks && int(index) >= len(t.records) {
		invariantViolation("inflated table index %d out of range (len %d)", index, len(t.records))
	}
	return t.records[index]
}

// Sweep frees every record whose mark does not equal the current epoch —
// meaning no trace visited its owning object this cycle, so the object
// (and thus the record) is unreachable. Freed slots are returned to the
// free list for reuse by Allocate.
func (t *InflatedTable) Sweep(currentEpoch uint32) (freed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, r := range t.records {
		if r == nil {
			continue
		}
		if r.mark != currentEpoch {
			t.records[i] = nil
			t.free = append(t.free, uint32(i))
			freed++
		}
	}
	return freed
}

// mark stamps the record at index as reached during the current trace.
// Called by the Immix/Large mark phases when they encounter an Inflated
// header.
func (t *InflatedTable) mark(index uint32, epoch uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(index) < len(t.records) && t.records[index] != nil {
		t.records[index].mark = epoch
	}
}

func loadFlag(p *int32) bool {
	return atomic.LoadInt32(p) != 0
}
