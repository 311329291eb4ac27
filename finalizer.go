// Copyright 2026 The Heapcore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapcore

import "sync"

// FinalizerService is the external collaborator the core calls into
// around a collection (§6). The finalizer queue itself — deciding what
// runs a finalizer and when — lives outside this module; the core only
// needs to bracket each collection and hand it candidate objects.
type FinalizerService interface {
	// StartCollection is called once per collection, before any tracing.
	StartCollection()
	// FinishCollection is called once per collection, after sweep.
	FinishCollection()
	// HasFinalizer reports whether obj currently has a finalizer
	// registered. A mature collection calls this for every Immix and
	// large-pool object its trace left unmarked, before sweep (young
	// collections do not call it), to decide whether the object must be
	// retained (marked live) and offered to Record rather than freed.
	HasFinalizer(obj *Object) bool
	// Record is called, after the transitive closure is computed but
	// before sweep, for every object HasFinalizer reported true for and
	// that was not reached by the trace. The collector marks the object
	// live at the current epoch before calling Record, keeping it alive
	// for one more cycle so the finalizer can still observe valid state.
	Record(obj *Object)
	// SetFinalizer registers (or, with fn == nil, clears) a finalizer
	// callback for obj.
	SetFinalizer(obj *Object, fn func(*Object))
}

// CodeManager is the (out of scope) compiler/JIT's interface into a
// collection: it must stop referencing unmarked code and participate in
// mark-bit rotation the same way the object heap does.
type CodeManager interface {
	ClearMarks()
	Sweep()
}

// SymbolTable is the interned-symbol table's interface into marking: it
// must trace any object references it holds so interned symbols don't
// pin their referents past their real lifetime.
type SymbolTable interface {
	TraceMarks(visit func(*Object))
}

// SimpleFinalizerQueue is a minimal, in-process FinalizerService: exactly
// the shape a standalone test or a small embedding needs to exercise S4
// (finalizer ordering) without a real language runtime attached. An
// embedding runtime with a richer finalizer thread is expected to
// implement FinalizerService itself instead.
type SimpleFinalizerQueue struct {
	mu         sync.Mutex
	finalizers map[*Object]func(*Object)
	pending    []*Object
}

// NewSimpleFinalizerQueue returns an empty queue.
func NewSimpleFinalizerQueue() *SimpleFinalizerQueue {
	return &SimpleFinalizerQueue{finalizers: make(map[*Object]func(*Object))}
}

func (q *SimpleFinalizerQueue) StartCollection() {}

// FinishCollection runs every finalizer queued by Record during this
// collection, exactly once each, and clears them from the registry so a
// second collection never re-invokes one.
func (q *SimpleFinalizerQueue) FinishCollection() {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, obj := range pending {
		q.mu.Lock()
		fn := q.finalizers[obj]
		delete(q.finalizers, obj)
		q.mu.Unlock()
		if fn != nil {
			fn(obj)
		}
	}
}

func (q *SimpleFinalizerQueue) Record(obj *Object) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.finalizers[obj]; ok {
		q.pending = append(q.pending, obj)
	}
}

func (q *SimpleFinalizerQueue) SetFinalizer(obj *Object, fn func(*Object)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if fn == nil {
		delete(q.finalizers, obj)
		return
	}
	q.finalizers[obj] = fn
}

// HasFinalizer reports whether obj currently has a finalizer registered.
// Used by the collectors to decide whether an unmarked object must be
// offered to FinalizerService.Record instead of being freed outright.
func (q *SimpleFinalizerQueue) HasFinalizer(obj *Object) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.finalizers[obj]
	return ok
}
