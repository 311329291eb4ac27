// Copyright 2026 The Heapcore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapcore

import "testing"

func TestSimpleFinalizerQueueRunsEachOnce(t *testing.T) {
	q := NewSimpleFinalizerQueue()
	obj := newObjectValue(leafType, Mature)

	runs := 0
	q.SetFinalizer(obj, func(*Object) { runs++ })
	if !q.HasFinalizer(obj) {
		t.Fatal("HasFinalizer false right after SetFinalizer")
	}

	q.StartCollection()
	q.Record(obj)
	q.FinishCollection()

	if runs != 1 {
		t.Fatalf("finalizer ran %d times, want 1", runs)
	}
	if q.HasFinalizer(obj) {
		t.Fatal("finalizer still registered after running")
	}

	// A second collection must not re-run it, since Record was never
	// called again for obj.
	q.StartCollection()
	q.FinishCollection()
	if runs != 1 {
		t.Fatalf("finalizer ran %d times across two collections, want 1", runs)
	}
}

func TestSimpleFinalizerQueueClearFinalizer(t *testing.T) {
	q := NewSimpleFinalizerQueue()
	obj := newObjectValue(leafType, Mature)

	q.SetFinalizer(obj, func(*Object) {})
	q.SetFinalizer(obj, nil)
	if q.HasFinalizer(obj) {
		t.Fatal("HasFinalizer true after clearing with a nil function")
	}

	q.StartCollection()
	q.Record(obj) // not in q.finalizers anymore, so Record is a no-op
	q.FinishCollection()
}
