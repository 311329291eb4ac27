// Copyright 2026 The Heapcore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapcore

import "sync"

// LargeCollector is a mark-and-sweep free-list allocator for oversize
// objects, Immix overflow, and "enduring" objects (class metaobjects,
// system constants) requested directly (§4.5). Objects here are never
// relocated; their address is stable for their lifetime — there is no
// block/arena structure to evacuate out of, unlike C3/C4, so a simple
// mutex-guarded live list plus a byte counter is the whole allocator.
type LargeCollector struct {
	cfg *Config

	mu        sync.Mutex
	live      []*Object
	liveBytes int64

	inflated *InflatedTable
	epoch    uint32
}

// NewLargeCollector returns an empty large/overflow collector sharing the
// given mark epoch source with Immix (they rotate in lockstep, §3).
func NewLargeCollector(cfg *Config, inflated *InflatedTable, epoch uint32) *LargeCollector {
	return &LargeCollector{cfg: cfg, inflated: inflated, epoch: epoch}
}

// Allocate always succeeds unless the host is truly out of memory — this
// module has no configured ceiling on large-object bytes, matching the
// spec's framing of C5 as a fallback of last resort rather than a bounded
// pool.
func (lc *LargeCollector) Allocate(t *TypeInfo) *Object {
	obj := newObjectValue(t, Large)
	lc.mu.Lock()
	lc.live = append(lc.live, obj)
	lc.liveBytes += int64(t.Size)
	lc.mu.Unlock()
	watch(lc.cfg, "alloc-large", obj)
	return obj
}

// Overflow adopts an object that failed to find room in Immix (either
// because it exceeded the per-object size cap, or because an Immix
// promote attempt failed), copying it into the large pool and marking it
// Large. Per §3, zone transitions are monotone, so this is only valid
// coming from Young or Mature, never the reverse.
func (lc *LargeCollector) Overflow(o *Object) *Object {
	cp := newObjectValue(o.Type, Large)
	copy(cp.Slots, o.Slots)
	lc.mu.Lock()
	lc.live = append(lc.live, cp)
	lc.liveBytes += int64(o.Type.Size)
	lc.mu.Unlock()
	watch(lc.cfg, "overflow", o)
	return cp
}

// setEpoch keeps the large collector's notion of "current" in step with
// Immix's rotating epoch; Manager.runCollection calls this once per
// mature collection, after Immix's own rotation.
func (lc *LargeCollector) setEpoch(epoch uint32) {
	lc.epoch = epoch
}

// Mark stamps every object in roots (and anything reachable from them)
// reachable at the current epoch. Large-collector marking shares the
// Immix mark stack's tracing primitive conceptually but keeps its own
// small worklist since large objects are comparatively rare and the
// bookkeeping doesn't justify sharing state across collectors.
func (lc *LargeCollector) Mark(roots []*Object) {
	var stack []*Object
	seen := func(o *Object) bool { return o.setMark(lc.epoch) }
	for _, r := range roots {
		o := resolve(r)
		if !seen(o) {
			stack = append(stack, o)
		}
	}
	for len(stack) > 0 {
		n := len(stack) - 1
		o := stack[n]
		stack = stack[:n]
		if o.Header.Meaning() == Inflated {
			lc.inflated.mark(uint32(o.Header.Aux()), lc.epoch)
		}
		scanChildren(o, func(child *Object) {
			c := resolve(child)
			if !seen(c) {
				stack = append(stack, c)
			}
		})
	}
}

// Sweep walks the explicit live-object list and frees (drops, returning
// storage to the host Go allocator) every object not marked with the
// current epoch (§4.5), except that an unmarked object fin reports a
// finalizer for is marked, offered to fin.Record, and kept. Sweep does
// not look at foreign handles: an unmarked object is freed whether or not
// its inflated header holds one, and nothing is asserted about it.
func (lc *LargeCollector) Sweep(fin FinalizerService) (freed int) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	keep := lc.live[:0]
	var keptBytes int64
	for _, o := range lc.live {
		if o.markedAt(lc.epoch) {
			keep = append(keep, o)
			keptBytes += int64(o.Type.Size)
			continue
		}
		if fin != nil && fin.HasFinalizer(o) {
			o.setMark(lc.epoch)
			fin.Record(o)
			keep = append(keep, o)
			keptBytes += int64(o.Type.Size)
			continue
		}
		freed++
	}
	lc.live = keep
	lc.liveBytes = keptBytes
	return freed
}

// LiveBytes reports the current total size of objects hosted in the
// large/overflow pool.
func (lc *LargeCollector) LiveBytes() int64 {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.liveBytes
}
