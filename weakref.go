// Copyright 2026 The Heapcore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapcore

import "sync"

// WeakRef is a handle that observes an object without keeping it alive.
// Get returns nil once a mature collection has found the referent
// unreachable; weak references are reconciled once per mature collection
// (after the transitive closure, before sweep), not continuously. Young
// collections do not reconcile them, so until the next mature collection
// a WeakRef to a young object still returns it, whether the object was
// copied (Get then returns the from-space original, which forwards to the
// copy) or dropped.
type WeakRef struct {
	mu  sync.Mutex
	ref *Object
}

// Get returns the referent, or nil if it has been cleared.
func (w *WeakRef) Get() *Object {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ref
}

func (w *WeakRef) clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ref = nil
}

func (w *WeakRef) retarget(to *Object) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ref = to
}

// WeakRefSet is the global table of outstanding weak references, visited
// once per mature collection by Reconcile.
type WeakRefSet struct {
	mu   sync.Mutex
	refs []*WeakRef
}

// NewWeakRefSet returns an empty set.
func NewWeakRefSet() *WeakRefSet {
	return &WeakRefSet{}
}

// NewWeakRef registers and returns a new weak reference to obj.
func (s *WeakRefSet) NewWeakRef(obj *Object) *WeakRef {
	w := &WeakRef{ref: obj}
	s.mu.Lock()
	s.refs = append(s.refs, w)
	s.mu.Unlock()
	return w
}

// Reconcile is called by the collection driver after the transitive
// closure has been computed but before sweep (§3). marked reports whether
// an object survived this cycle's trace; reachable-but-relocated weak
// referents are retargeted to their forwarding address rather than
// cleared, preserving identity-across-relocation (§8.4) for weak
// observers too.
func (s *WeakRefSet) Reconcile(marked func(*Object) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	live := s.refs[:0]
	for _, w := range s.refs {
		target := w.Get()
		if target == nil {
			continue
		}
		if marked(target) {
			w.retarget(resolve(target))
			live = append(live, w)
		} else {
			w.clear()
		}
	}
	s.refs = live
}
