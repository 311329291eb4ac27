// Copyright 2026 The Heapcore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapcore

import "sync/atomic"

// Meaning is the 2-bit tag packed into the low bits of a Header word. The
// three lightweight meanings (Empty, Identity, ThinLock) and the Inflated
// escape hatch are described in
// spec.md §3-§4.1; every transition diagrammed there is a single CAS on
// the full 64-bit word.
type Meaning uint8

const (
	// Empty is the default meaning for a freshly allocated object: aux is
	// always 0.
	Empty Meaning = iota
	// Identity holds a monotonically assigned object id in aux.
	Identity
	// ThinLock packs an owner thread id, a recursion count, and a
	// contended bit into aux. Valid only while the owner is the sole
	// waiter.
	ThinLock
	// Inflated holds, in aux, a 32-bit index into the Inflated Header
	// Table. It absorbs every prior meaning and is terminal: no meaning
	// ever demotes out of Inflated.
	Inflated
)

const (
	meaningBits = 2
	meaningMask = (1 << meaningBits) - 1
	auxBits     = 64 - meaningBits
	auxMask     = (uint64(1) << auxBits) - 1
)

// Thin-lock aux layout: |  owner id (32)  | recursion (29) | contended (1) |
const (
	thinContendedBits = 1
	thinContendedMask = (uint64(1) << thinContendedBits) - 1

	thinRecursionBits = 29
	thinRecursionMask = (uint64(1) << thinRecursionBits) - 1

	thinOwnerBits = auxBits - thinContendedBits - thinRecursionBits
	thinOwnerMask = (uint64(1) << thinOwnerBits) - 1

	maxThinRecursion = uint32(thinRecursionMask)
)

// pack combines a meaning and an aux value (already validated to fit in
// auxBits) into a single header word.
func pack(m Meaning, aux uint64) uint64 {
	return uint64(m)&meaningMask | (aux&auxMask)<<meaningBits
}

func unpack(word uint64) (Meaning, uint64) {
	return Meaning(word & meaningMask), (word >> meaningBits) & auxMask
}

// packThin builds a ThinLock aux word from its three fields.
func packThin(owner uint32, recursion uint32, contended bool) uint64 {
	var c uint64
	if contended {
		c = 1
	}
	aux := (uint64(owner) & thinOwnerMask) << (thinRecursionBits + thinContendedBits)
	aux |= (uint64(recursion) & thinRecursionMask) << thinContendedBits
	aux |= c & thinContendedMask
	return aux
}

func unpackThin(aux uint64) (owner uint32, recursion uint32, contended bool) {
	contended = aux&thinContendedMask != 0
	recursion = uint32((aux >> thinContendedBits) & thinRecursionMask)
	owner = uint32((aux >> (thinContendedBits + thinRecursionBits)) & thinOwnerMask)
	return
}

// Header is the single 64-bit packed metadata word living at the start of
// every heap object. All operations are single-word atomics; a reader that
// observes Inflated may safely dereference Aux() as a C2 index, while a
// reader that observes any lightweight meaning must re-check after any
// operation that could race an inflation (Manager's inflation lock,
// lockInflation, serializes inflating writers, but readers are always
// lock-free).
type Header struct {
	word uint64
}

// Read loads the current header word atomically.
func (h *Header) Read() uint64 {
	return atomic.LoadUint64(&h.word)
}

// Meaning returns the meaning tag of the current header word.
func (h *Header) Meaning() Meaning {
	m, _ := unpack(h.Read())
	return m
}

// Aux returns the 62-bit auxiliary payload of the current header word.
func (h *Header) Aux() uint64 {
	_, aux := unpack(h.Read())
	return aux
}

// IsInflated reports whether the header currently names an Inflated
// record.
func (h *Header) IsInflated() bool {
	return h.Meaning() == Inflated
}

// CAS attempts to replace the header word, failing if the current word is
// not exactly expected. Every meaning transition in §4.1 is performed
// through CAS so a racing writer is always detected rather than clobbered.
func (h *Header) CAS(expected, new uint64) bool {
	return atomic.CompareAndSwapUint64(&h.word, expected, new)
}

// store writes the word unconditionally. No allocation or inflation path
// calls it: fresh objects start with a zero (Empty) header and every
// meaning transition goes through CAS. The tests use it to set up header
// states directly.
func (h *Header) store(word uint64) {
	atomic.StoreUint64(&h.word, word)
}

// setContended sets the advisory contended bit on a ThinLock header,
// asking the owner to inflate on unlock. It retries against concurrent
// unlock/inflate until it either wins or observes the header is no
// longer a ThinLock (in which case the caller must re-classify).
//
// Returns ok=false, alreadyInflated=true if the header had already been
// inflated out from under the caller.
func (h *Header) setContended() (ok bool, alreadyInflated bool) {
	for {
		word := h.Read()
		m, aux := unpack(word)
		if m == Inflated {
			return false, true
		}
		if m != ThinLock {
			return false, false
		}
		owner, recursion, contended := unpackThin(aux)
		if contended {
			return true, false
		}
		newWord := pack(ThinLock, packThin(owner, recursion, true))
		if h.CAS(word, newWord) {
			return true, false
		}
	}
}
