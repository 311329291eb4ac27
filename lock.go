// Copyright 2026 The Heapcore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapcore

import (
	"sync/atomic"
	"time"

	"github.com/throneless-labs/heapcore/internal/backoff"
)

// lockInflation/unlockInflation implement the process-wide spinlock §4.1
// requires around inflation: "always performed under a single
// process-wide spinlock ... to ensure only one candidate Inflated record
// is installed". Serializing every inflation attempt through one
// CAS-guarded flag, rather than letting racing callers each allocate an
// InflatedTable record and race the header CAS, means a losing attempt
// never happens — there is always exactly one candidate record per
// inflation, not one winner among several.
func (mgr *Manager) lockInflation() {
	b := backoff.New()
	for !atomic.CompareAndSwapInt32(&mgr.inflationLock, 0, 1) {
		b.Spin()
	}
}

func (mgr *Manager) unlockInflation() {
	atomic.StoreInt32(&mgr.inflationLock, 0)
}

// ensureInflated guarantees obj's header names an Inflated record,
// performing the CAS itself if the header is still lightweight. Any
// identity number or thin-lock ownership already recorded in the header
// is carried over into the fresh InflatedHeader before the CAS installs
// it, so inflation never loses state (§4.1, "absorbs every prior
// meaning"). The whole attempt runs under the process-wide inflation
// spinlock, so no other goroutine is ever concurrently allocating a
// competing InflatedTable record for any object; the retry loop here
// exists only because obj's header can still change out from under us
// between Read and CAS due to ordinary (non-inflating) thin-lock traffic
// from Lock/Unlock, not because of a second inflator.
func (mgr *Manager) ensureInflated(obj *Object) (*InflatedHeader, uint32) {
	mgr.lockInflation()
	defer mgr.unlockInflation()
	var rec *InflatedHeader
	var idx uint32
	for {
		word := obj.Header.Read()
		m, aux := unpack(word)
		if m == Inflated {
			idx := uint32(aux)
			return mgr.inflated.Get(idx), idx
		}

		if rec == nil {
			rec, idx = mgr.inflated.Allocate(mgr.currentEpoch())
		}
		rec.originalID, rec.owner, rec.recursion = 0, 0, 0
		switch m {
		case Identity:
			rec.originalID = aux
		case ThinLock:
			owner, recursion, _ := unpackThin(aux)
			rec.owner = owner
			rec.recursion = recursion
		}

		if obj.Header.CAS(word, pack(Inflated, uint64(idx))) {
			return rec, idx
		}
	}
}

// Inflate forces obj's header to Inflated and returns the stable record,
// for callers — typically a foreign-code bridge — that need to pin a
// handle against relocation regardless of whether the object is
// currently locked or has an assigned identity (§4.2).
func (mgr *Manager) Inflate(obj *Object) *InflatedHeader {
	rec, _ := mgr.ensureInflated(obj)
	return rec
}

// AssignObjectID returns obj's identity number, assigning a fresh one
// from the process-wide monotonic counter on first call (§4.2 "Assign
// object id"). The id survives inflation and relocation: Inflate copies
// it into the InflatedHeader, and InflatedTable entries are addressed by
// stable index rather than moved.
func (mgr *Manager) AssignObjectID(obj *Object) uint64 {
	for {
		word := obj.Header.Read()
		m, aux := unpack(word)
		switch m {
		case Identity:
			return aux
		case Inflated:
			rec := mgr.inflated.Get(uint32(aux))
			rec.mu.Lock()
			if rec.originalID == 0 {
				rec.originalID = atomic.AddUint64(&mgr.nextObjectID, 1)
			}
			id := rec.originalID
			rec.mu.Unlock()
			return id
		case Empty:
			id := atomic.AddUint64(&mgr.nextObjectID, 1)
			if obj.Header.CAS(word, pack(Identity, id)) {
				return id
			}
		case ThinLock:
			// A thin-locked object has no room left in aux for an
			// identity too; escalate and let the Inflated case above
			// pick the word back up on the next loop iteration.
			mgr.ensureInflated(obj)
		}
	}
}

// Lock acquires obj's monitor for threadID, blocking indefinitely. The
// fast path is a single CAS on an uncontended ThinLock header;
// contention (another thread already owns it) and recursion overflow
// both escalate to Inflated (§4.1).
func (mgr *Manager) Lock(obj *Object, threadID uint32) {
	b := backoff.New()
	for {
		word := obj.Header.Read()
		m, aux := unpack(word)
		switch m {
		case Empty:
			if obj.Header.CAS(word, pack(ThinLock, packThin(threadID, 0, false))) {
				return
			}
			continue
		case Identity:
			mgr.ensureInflated(obj)
			continue
		case ThinLock:
			owner, recursion, contended := unpackThin(aux)
			if owner == threadID {
				if recursion >= maxThinRecursion {
					rec, _ := mgr.ensureInflated(obj)
					rec.Lock(threadID)
					return
				}
				if obj.Header.CAS(word, pack(ThinLock, packThin(owner, recursion+1, contended))) {
					return
				}
				continue
			}
			// Contended: flag the header so the current owner inflates
			// on its own Unlock, then wait for that to happen.
			if _, alreadyInflated := obj.Header.setContended(); alreadyInflated {
				continue
			}
		case Inflated:
			mgr.inflated.Get(uint32(aux)).Lock(threadID)
			return
		}
		b.Spin()
	}
}

// Unlock releases one level of obj's monitor, held by threadID.
// Unlocking an object not locked by threadID is a caller error and
// raises an invariant violation rather than silently succeeding.
func (mgr *Manager) Unlock(obj *Object, threadID uint32) {
	for {
		word := obj.Header.Read()
		m, aux := unpack(word)
		switch m {
		case ThinLock:
			owner, recursion, contended := unpackThin(aux)
			if owner != threadID {
				invariantViolation("unlock of thin-locked object by non-owner thread %d (owner %d)", threadID, owner)
			}
			if contended {
				// A waiter flagged contention; it is this owner's job to
				// do the actual inflation, transferring the same
				// ownership/recursion state into the InflatedHeader
				// before releasing through it.
				rec, _ := mgr.ensureInflated(obj)
				rec.Unlock(threadID)
				return
			}
			if recursion > 0 {
				if obj.Header.CAS(word, pack(ThinLock, packThin(owner, recursion-1, false))) {
					return
				}
				continue
			}
			if obj.Header.CAS(word, pack(Empty, 0)) {
				return
			}
		case Inflated:
			mgr.inflated.Get(uint32(aux)).Unlock(threadID)
			return
		default:
			invariantViolation("unlock of object with meaning %d, which is not locked", m)
		}
	}
}

// ContendForLock acquires obj's monitor for threadID, honoring a timeout
// (<=0 means "try once, don't block") and an optional interrupt flag
// (§5's bounded-wait entry point, used where Lock's unbounded block is
// unacceptable — e.g. a foreign-code call-in with a deadline).
func (mgr *Manager) ContendForLock(obj *Object, threadID uint32, timeout time.Duration, interrupt *int32) error {
	deadline := time.Now().Add(timeout)
	b := backoff.New()
	for {
		word := obj.Header.Read()
		m, aux := unpack(word)
		switch m {
		case Empty:
			if obj.Header.CAS(word, pack(ThinLock, packThin(threadID, 0, false))) {
				return nil
			}
			continue
		case Identity:
			mgr.ensureInflated(obj)
			continue
		case ThinLock:
			owner, recursion, contended := unpackThin(aux)
			if owner == threadID {
				if recursion >= maxThinRecursion {
					rec, _ := mgr.ensureInflated(obj)
					return rec.LockTimeout(threadID, time.Until(deadline), interrupt)
				}
				if obj.Header.CAS(word, pack(ThinLock, packThin(owner, recursion+1, contended))) {
					return nil
				}
				continue
			}
			if !contended {
				if _, alreadyInflated := obj.Header.setContended(); alreadyInflated {
					continue
				}
			}
		case Inflated:
			return mgr.inflated.Get(uint32(aux)).LockTimeout(threadID, time.Until(deadline), interrupt)
		}

		if interrupt != nil && loadFlag(interrupt) {
			return ErrLockInterrupted
		}
		if timeout <= 0 || time.Now().After(deadline) {
			return ErrLockTimeout
		}
		b.Spin()
	}
}
