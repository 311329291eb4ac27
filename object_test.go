// Copyright 2026 The Heapcore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapcore

import "testing"

var leafType = &TypeInfo{Name: "leaf", Size: 8}

func TestZoneMonotone(t *testing.T) {
	o := newObjectValue(leafType, Young)
	o.setZone(Mature)
	if o.Zone() != Mature {
		t.Fatalf("Zone() = %v, want Mature", o.Zone())
	}
	o.setZone(Large)
	if o.Zone() != Large {
		t.Fatalf("Zone() = %v, want Large", o.Zone())
	}
}

func TestZoneMonotoneViolationPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("setZone(Young) after Large did not panic")
		}
	}()
	o := newObjectValue(leafType, Large)
	o.setZone(Young)
}

func TestForwardResolveChain(t *testing.T) {
	a := newObjectValue(leafType, Young)
	b := newObjectValue(leafType, Young)
	c := newObjectValue(leafType, Mature)

	if resolve(a) != a {
		t.Fatal("resolve(a) with no forward should return a")
	}
	a.SetForward(b)
	b.SetForward(c)
	if got := resolve(a); got != c {
		t.Fatalf("resolve(a) = %p, want %p (c)", got, c)
	}
}

func TestSetMarkIdempotentWithinEpoch(t *testing.T) {
	o := newObjectValue(leafType, Young)
	if was := o.setMark(5); was {
		t.Fatal("first setMark(5) reported already marked")
	}
	if was := o.setMark(5); !was {
		t.Fatal("second setMark(5) within the same epoch reported not-already-marked")
	}
	if !o.markedAt(5) {
		t.Fatal("markedAt(5) false after setMark(5)")
	}
	if o.markedAt(6) {
		t.Fatal("markedAt(6) true before any mark at epoch 6")
	}
	if was := o.setMark(6); was {
		t.Fatal("setMark(6) after rotation reported already marked")
	}
}

func TestIncAge(t *testing.T) {
	o := newObjectValue(leafType, Young)
	if o.Age() != 0 {
		t.Fatalf("fresh object Age() = %d, want 0", o.Age())
	}
	for i := 1; i <= 3; i++ {
		if got := o.incAge(); got != i {
			t.Fatalf("incAge() call %d = %d, want %d", i, got, i)
		}
	}
	if o.Age() != 3 {
		t.Fatalf("Age() = %d, want 3", o.Age())
	}
}
