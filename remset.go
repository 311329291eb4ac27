// Copyright 2026 The Heapcore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapcore

import "sync"

// RememberedSet tracks mature objects known to hold a pointer into the
// young space, recorded by the write barrier at field stores (§3,
// "Remembered set"). It is consulted as additional young-collection roots
// and pruned at every mature collection.
//
// A plain mutex-guarded set is enough here: writes happen on the barrier
// fast path but are rare relative to reads-of-young-object-fields, and the
// teacher shows the same posture (a single mutex guarding a small map) in
// nodefs/bridge.go's node table.
type RememberedSet struct {
	mu   sync.Mutex
	objs map[*Object]struct{}
}

// NewRememberedSet returns an empty remembered set.
func NewRememberedSet() *RememberedSet {
	return &RememberedSet{objs: make(map[*Object]struct{})}
}

// Record adds a mature object to the set. Called by the write barrier
// (WriteBarrier, below) before the store that creates the mature->young
// edge becomes visible — recording first and storing second is what
// makes the barrier correct under concurrent young collection (§5).
func (r *RememberedSet) Record(mature *Object) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objs[mature] = struct{}{}
}

// Roots returns a snapshot of the currently recorded mature objects, for
// use as extra young-collection roots.
func (r *RememberedSet) Roots() []*Object {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Object, 0, len(r.objs))
	for o := range r.objs {
		out = append(out, o)
	}
	return out
}

// Prune drops every entry for which keep returns false. Called after a
// mature collection (entries whose mature object died don't need to be
// remembered) and after a young collection's rescan (§4.3 step 5), whose
// keep retains only holders that still reference a young object.
func (r *RememberedSet) Prune(keep func(*Object) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for o := range r.objs {
		if !keep(o) {
			delete(r.objs, o)
		}
	}
}

// Len reports the number of recorded mature objects.
func (r *RememberedSet) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.objs)
}

// WriteBarrier must be called by generated/interpreter field-store code
// whenever a reference field of holder is set to point at value. Per §5 it
// records holder in the remembered set before the store becomes visible
// to other threads whenever the edge crosses mature->young; same-zone and
// young-holder stores are no-ops.
func WriteBarrier(rs *RememberedSet, holder *Object, value *Object) {
	if holder == nil || value == nil {
		return
	}
	if holder.Zone() != Young && value.Zone() == Young {
		rs.Record(holder)
	}
}
