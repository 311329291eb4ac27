// Copyright 2026 The Heapcore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapcore

import (
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := NewConfig()
	cfg.YoungSize = 1 << 16
	mgr, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(mgr.Close)
	return mgr
}

func TestAssignObjectIDStable(t *testing.T) {
	mgr := newTestManager(t)
	obj := newObjectValue(leafType, Young)

	id1 := mgr.AssignObjectID(obj)
	id2 := mgr.AssignObjectID(obj)
	if id1 != id2 {
		t.Fatalf("AssignObjectID is not stable across calls: %d then %d", id1, id2)
	}
	if id1 == 0 {
		t.Fatal("AssignObjectID returned 0")
	}
}

func TestAssignObjectIDSurvivesInflation(t *testing.T) {
	mgr := newTestManager(t)
	obj := newObjectValue(leafType, Young)

	id := mgr.AssignObjectID(obj)
	mgr.Inflate(obj)
	if got := mgr.AssignObjectID(obj); got != id {
		t.Fatalf("AssignObjectID after Inflate = %d, want %d (preserved)", got, id)
	}
	if !obj.Header.IsInflated() {
		t.Fatal("object not Inflated after Inflate()")
	}
}

func TestLockUnlockThinFastPath(t *testing.T) {
	mgr := newTestManager(t)
	obj := newObjectValue(leafType, Young)

	mgr.Lock(obj, 1)
	if obj.Header.Meaning() != ThinLock {
		t.Fatalf("Meaning() after uncontended Lock = %v, want ThinLock", obj.Header.Meaning())
	}
	mgr.Lock(obj, 1) // recursive re-acquire
	mgr.Unlock(obj, 1)
	mgr.Unlock(obj, 1)
	if obj.Header.Meaning() != Empty {
		t.Fatalf("Meaning() after fully unlocking = %v, want Empty", obj.Header.Meaning())
	}
}

func TestUnlockByNonOwnerPanics(t *testing.T) {
	mgr := newTestManager(t)
	obj := newObjectValue(leafType, Young)
	mgr.Lock(obj, 1)

	defer func() {
		if recover() == nil {
			t.Fatal("Unlock by a non-owner thread did not panic")
		}
	}()
	mgr.Unlock(obj, 2)
}

func TestContendForLockTimesOut(t *testing.T) {
	mgr := newTestManager(t)
	obj := newObjectValue(leafType, Young)
	mgr.Lock(obj, 1)

	err := mgr.ContendForLock(obj, 2, 20*time.Millisecond, nil)
	if err != ErrLockTimeout {
		t.Fatalf("ContendForLock against a held lock = %v, want ErrLockTimeout", err)
	}
}

func TestContendForLockInterrupted(t *testing.T) {
	mgr := newTestManager(t)
	obj := newObjectValue(leafType, Young)
	mgr.Lock(obj, 1)

	var interrupt int32 = 1
	err := mgr.ContendForLock(obj, 2, time.Second, &interrupt)
	if err != ErrLockInterrupted {
		t.Fatalf("ContendForLock with interrupt pre-set = %v, want ErrLockInterrupted", err)
	}
}

func TestLockContentionEscalatesToInflated(t *testing.T) {
	mgr := newTestManager(t)
	obj := newObjectValue(leafType, Young)

	mgr.Lock(obj, 1)

	contenderDone := make(chan struct{})
	go func() {
		mgr.Lock(obj, 2)
		mgr.Unlock(obj, 2)
		close(contenderDone)
	}()

	// Give the contender a chance to observe the ThinLock and flag it
	// contended before the owner releases.
	time.Sleep(10 * time.Millisecond)
	mgr.Unlock(obj, 1)

	select {
	case <-contenderDone:
	case <-time.After(2 * time.Second):
		t.Fatal("contending Lock never completed after the owner unlocked")
	}

	if !obj.Header.IsInflated() {
		t.Fatal("a contended thin lock did not escalate to Inflated")
	}
}
