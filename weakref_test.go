// Copyright 2026 The Heapcore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapcore

import "testing"

func TestWeakRefReconcileClearsUnmarked(t *testing.T) {
	s := NewWeakRefSet()
	live := newObjectValue(leafType, Mature)
	dead := newObjectValue(leafType, Mature)

	wLive := s.NewWeakRef(live)
	wDead := s.NewWeakRef(dead)

	live.setMark(1)
	s.Reconcile(func(o *Object) bool { return o.markedAt(1) })

	if wLive.Get() != live {
		t.Fatal("weak ref to a marked object was cleared")
	}
	if wDead.Get() != nil {
		t.Fatal("weak ref to an unmarked object was not cleared")
	}
}

func TestWeakRefReconcileRetargetsThroughForwarding(t *testing.T) {
	s := NewWeakRefSet()
	from := newObjectValue(leafType, Young)
	to := newObjectValue(leafType, Young)
	from.SetForward(to)

	w := s.NewWeakRef(from)
	to.setMark(1)
	s.Reconcile(func(o *Object) bool { return resolve(o).markedAt(1) })

	if w.Get() != to {
		t.Fatalf("Get() = %p, want %p (retargeted through forwarding)", w.Get(), to)
	}
}
