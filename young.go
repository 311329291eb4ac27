// Copyright 2026 The Heapcore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapcore

import (
	"sync"
	"sync/atomic"

	"github.com/throneless-labs/heapcore/internal/arena"
)

// YoungCollector is a semispace Baker-style copier (§4.3). Two equal-size
// halves alternate as from-space and to-space; a global bump counter
// tracks top-level allocation, while mutators additionally carve
// per-thread slabs out of to-space via RefillSlab to avoid contending on
// the fast path.
//
// The two halves are accounted for as byte budgets backed by an
// internal/arena mapping (so the module's real memory footprint — not
// just its bookkeeping — tracks what a production collector would map);
// the *Object values the budget is charged against are ordinary
// Go-managed values, copied between Go allocations rather than raw
// memmove, since this module sits atop the host Go runtime's own heap
// rather than managing raw process memory for a target language.
type YoungCollector struct {
	cfg *Config

	mu         sync.Mutex
	fromArena  []byte
	toArena    []byte
	toTop      int64 // atomic-ish; protected by mu for swap, atomic for bump
	toCapacity int64
}

// NewYoungCollector allocates both semispace halves up front.
func NewYoungCollector(cfg *Config) (*YoungCollector, error) {
	from, err := arena.Map(cfg.YoungSize)
	if err != nil {
		return nil, err
	}
	to, err := arena.Map(cfg.YoungSize)
	if err != nil {
		return nil, err
	}
	return &YoungCollector{
		cfg:        cfg,
		fromArena:  from,
		toArena:    to,
		toCapacity: int64(cfg.YoungSize),
	}, nil
}

// bump charges n bytes against to-space, returning false if there is no
// room; the caller escalates (spec.md §4.6).
func (y *YoungCollector) bump(n int) bool {
	for {
		cur := atomic.LoadInt64(&y.toTop)
		next := cur + int64(n)
		if next > y.toCapacity {
			return false
		}
		if atomic.CompareAndSwapInt64(&y.toTop, cur, next) {
			return true
		}
	}
}

// RefillSlab reserves a fresh byte range of size bytes for a thread's
// per-thread slab (§5 suspension point (b), the allocation spinlock).
// Returns ok=false when to-space cannot satisfy the request; the caller
// then falls back to direct bump allocation or escalates to the mature
// collector.
func (y *YoungCollector) RefillSlab(size int) (base int64, ok bool) {
	y.mu.Lock()
	defer y.mu.Unlock()
	cur := atomic.LoadInt64(&y.toTop)
	next := cur + int64(size)
	if next > y.toCapacity {
		return 0, false
	}
	atomic.StoreInt64(&y.toTop, next)
	return cur, true
}

// Allocate tries the global to-space bump pointer directly, used when a
// thread's slab is exhausted and a full refill isn't worth it for a
// single object (spec.md §4.3 allocation contract).
func (y *YoungCollector) Allocate(t *TypeInfo) (*Object, bool) {
	if !y.bump(t.Size) {
		return nil, false
	}
	return newObjectValue(t, Young), true
}

// scanChildren walks o's outgoing references via its TypeInfo, a no-op if
// the type declares none (e.g. a leaf value type).
func scanChildren(o *Object, visit func(*Object)) {
	if o == nil || o.Type == nil || o.Type.Scan == nil {
		return
	}
	o.Type.Scan(o, visit)
}

// Collect runs one young collection (§4.3). roots are the thread-stack /
// foreign-handle-table roots; rememberedRoots are the mature objects
// RememberedSet names as holding mature->young edges. promote is called
// (by the facade, which owns the Immix collector) whenever an object's
// age reaches the promotion threshold; it must return the promoted
// object's new address or an error if Immix itself is out of room.
//
// Returns the post-collection, forwarding-resolved addresses of roots (in
// the same order), so callers that don't want to rely on lazy resolve()
// can fix up their root storage immediately; either approach satisfies
// the forwarding-consistency property (§8.3).
func (y *YoungCollector) Collect(roots, rememberedRoots []*Object, promote func(*Object) (*Object, error)) ([]*Object, error) {
	y.mu.Lock()
	y.fromArena, y.toArena = y.toArena, y.fromArena
	atomic.StoreInt64(&y.toTop, 0)
	y.mu.Unlock()

	var queue []*Object
	var firstErr error

	copyIfYoung := func(o *Object) *Object {
		if o == nil || firstErr != nil {
			return o
		}
		o = resolve(o)
		if o.Zone() != Young {
			return o
		}
		if f := o.Forward(); f != nil {
			return f
		}
		age := o.incAge()
		if age >= y.cfg.PromotionAge {
			promoted, err := promote(o)
			if err != nil {
				firstErr = err
				return o
			}
			o.SetForward(promoted)
			watch(y.cfg, "promote", o)
			return promoted
		}
		if !y.bump(o.Type.Size) {
			firstErr = &OOMError{Kind: "young", Bytes: o.Type.Size}
			return o
		}
		cp := newObjectValue(o.Type, Young)
		copy(cp.Slots, o.Slots)
		atomic.StoreInt32(&cp.age, atomic.LoadInt32(&o.age))
		o.SetForward(cp)
		watch(y.cfg, "copy", o)
		queue = append(queue, cp)
		return cp
	}

	visitRoot := func(r *Object) *Object {
		nr := copyIfYoung(r)
		scanChildren(resolve(r), func(child *Object) { copyIfYoung(child) })
		return nr
	}

	updated := make([]*Object, 0, len(roots))
	for _, r := range roots {
		updated = append(updated, visitRoot(r))
	}
	for _, r := range rememberedRoots {
		visitRoot(r)
	}
	for i := 0; i < len(queue) && firstErr == nil; i++ {
		o := queue[i]
		scanChildren(o, func(child *Object) { copyIfYoung(child) })
	}

	if firstErr != nil {
		return nil, firstErr
	}
	return updated, nil
}

// Close releases the semispace arenas. Not part of the spec's operation
// set; provided so long-running tests and the example program can tear a
// Manager down cleanly.
func (y *YoungCollector) Close() {
	arena.Unmap(y.fromArena)
	arena.Unmap(y.toArena)
}
