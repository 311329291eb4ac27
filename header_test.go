// Copyright 2026 The Heapcore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapcore

import "testing"

func TestPackUnpackRoundTrip(t *testing.T) {
	cases := []struct {
		m   Meaning
		aux uint64
	}{
		{Empty, 0},
		{Identity, 12345},
		{ThinLock, packThin(7, 3, true)},
		{Inflated, 1 << 20},
	}
	for _, c := range cases {
		word := pack(c.m, c.aux)
		gotM, gotAux := unpack(word)
		if gotM != c.m || gotAux != c.aux {
			t.Fatalf("pack/unpack(%v, %d) round-tripped to (%v, %d)", c.m, c.aux, gotM, gotAux)
		}
	}
}

func TestThinLockPacking(t *testing.T) {
	aux := packThin(42, 17, true)
	owner, recursion, contended := unpackThin(aux)
	if owner != 42 || recursion != 17 || !contended {
		t.Fatalf("unpackThin(packThin(42,17,true)) = (%d,%d,%v)", owner, recursion, contended)
	}
}

func TestHeaderCAS(t *testing.T) {
	var h Header
	h.store(pack(Empty, 0))

	newWord := pack(ThinLock, packThin(1, 0, false))
	if !h.CAS(pack(Empty, 0), newWord) {
		t.Fatal("CAS from known-good expected word failed")
	}
	if h.Meaning() != ThinLock {
		t.Fatalf("Meaning() = %v, want ThinLock", h.Meaning())
	}
	if h.CAS(pack(Empty, 0), 0) {
		t.Fatal("CAS succeeded against a stale expected word")
	}
}

func TestSetContended(t *testing.T) {
	var h Header
	h.store(pack(ThinLock, packThin(9, 0, false)))

	ok, alreadyInflated := h.setContended()
	if !ok || alreadyInflated {
		t.Fatalf("setContended = (%v, %v), want (true, false)", ok, alreadyInflated)
	}
	_, _, contended := unpackThin(h.Aux())
	if !contended {
		t.Fatal("contended bit not observed set after setContended")
	}

	// Calling again on an already-contended header is a no-op success.
	ok, alreadyInflated = h.setContended()
	if !ok || alreadyInflated {
		t.Fatalf("second setContended = (%v, %v), want (true, false)", ok, alreadyInflated)
	}

	h.store(pack(Inflated, 0))
	ok, alreadyInflated = h.setContended()
	if ok || !alreadyInflated {
		t.Fatalf("setContended on Inflated header = (%v, %v), want (false, true)", ok, alreadyInflated)
	}
}

func TestIsInflated(t *testing.T) {
	var h Header
	h.store(pack(Identity, 5))
	if h.IsInflated() {
		t.Fatal("IsInflated true for Identity header")
	}
	h.store(pack(Inflated, 5))
	if !h.IsInflated() {
		t.Fatal("IsInflated false for Inflated header")
	}
}
