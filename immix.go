// Copyright 2026 The Heapcore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapcore

import (
	"sync"
	"sync/atomic"

	"github.com/throneless-labs/heapcore/internal/arena"
)

const (
	blockSize     = 32 << 10
	lineSize      = 128
	linesPerBlock = blockSize / lineSize
	// maxObjectFraction caps a single Immix object at 1/4 of a block;
	// anything bigger is routed to the large/overflow collector (§4.4).
	maxObjectFraction = 4
)

// block is one Immix block: a bump-packed region, tracked by the objects
// it currently holds (this module tracks live objects explicitly rather
// than scanning raw memory for line marks, since the payload is ordinary
// Go-managed *Object values — see young.go's note on the same tradeoff).
// mem is this block's slice of its chunk's backing arena, kept around so
// a block that sweeps fully empty can hand its physical pages back to the
// kernel via arena.Advise before it is reused.
type block struct {
	objects []*Object
	used    int
	mem     []byte
}

func (b *block) occupancy() float64 {
	return float64(b.used) / float64(blockSize)
}

// ImmixCollector is the mature, mark-region, compacting-on-evacuation heap
// (§4.4). Blocks are bump-packed by the allocator; the mark phase
// evacuates objects out of fragmented blocks into fresh ones as it traces,
// which is how Immix compacts without a dedicated compaction pass.
type ImmixCollector struct {
	cfg *Config

	mu         sync.Mutex
	chunks     [][]byte // arena-backed chunk reservations, accounting only
	blocks     []*block // every live block
	freeBlocks []*block
	current    *block

	inflated *InflatedTable

	epoch      uint32
	markStack  []*Object
	markMu     sync.Mutex
	inProgress int32 // atomic: concurrent mark in flight

	needsGrowth int32 // atomic bool: post-sweep live fraction exceeded 90%
}

// NewImmixCollector returns an Immix collector with one chunk reserved.
func NewImmixCollector(cfg *Config, inflated *InflatedTable) (*ImmixCollector, error) {
	im := &ImmixCollector{cfg: cfg, inflated: inflated, epoch: 1}
	if err := im.growChunk(); err != nil {
		return nil, err
	}
	return im, nil
}

func (im *ImmixCollector) growChunk() error {
	// A chunk is a fixed set of blocks; 64 blocks/chunk is a reasonable
	// middle ground between mmap call overhead and wasted reservation.
	const blocksPerChunk = 64
	chunk, err := arena.Map(blockSize * blocksPerChunk)
	if err != nil {
		return err
	}
	im.chunks = append(im.chunks, chunk)
	for i := 0; i < blocksPerChunk; i++ {
		im.freeBlocks = append(im.freeBlocks, &block{mem: chunk[i*blockSize : (i+1)*blockSize]})
	}
	return nil
}

func (im *ImmixCollector) maxObjectSize() int {
	return blockSize / maxObjectFraction
}

// takeBlock pops a free block, growing a new chunk if none remain.
func (im *ImmixCollector) takeBlock() (*block, error) {
	if len(im.freeBlocks) == 0 {
		if err := im.growChunk(); err != nil {
			return nil, err
		}
	}
	n := len(im.freeBlocks) - 1
	b := im.freeBlocks[n]
	im.freeBlocks = im.freeBlocks[:n]
	im.blocks = append(im.blocks, b)
	return b, nil
}

// Allocate bump-packs a new object of type t into the current block,
// taking a fresh block when the current one can't fit it. Objects larger
// than maxObjectSize are rejected (ok=false) so the caller can route them
// to the large/overflow collector instead.
func (im *ImmixCollector) Allocate(t *TypeInfo) (*Object, error, bool) {
	if t.Size > im.maxObjectSize() {
		return nil, nil, false
	}
	im.mu.Lock()
	defer im.mu.Unlock()

	if im.current == nil || im.current.used+t.Size > blockSize {
		b, err := im.takeBlock()
		if err != nil {
			return nil, err, true
		}
		im.current = b
	}
	obj := newObjectValue(t, Mature)
	im.current.objects = append(im.current.objects, obj)
	im.current.used += t.Size
	return obj, nil, true
}

// Promote allocates a fresh Immix object and copies o's slots into it,
// used by the young collector when o's age crosses the promotion
// threshold. The caller (the allocator facade's promote closure) falls
// back to the large/overflow collector when this returns an OOMError.
func (im *ImmixCollector) Promote(o *Object) (*Object, error) {
	obj, err, ok := im.Allocate(o.Type)
	if err != nil {
		return nil, &OOMError{Kind: "immix", Bytes: o.Type.Size, Underlying: err}
	}
	if !ok {
		return nil, &OOMError{Kind: "immix", Bytes: o.Type.Size}
	}
	copy(obj.Slots, o.Slots)
	atomic.StoreInt32(&obj.age, 0)
	return obj, nil
}

// enqueue pushes obj onto the mark stack if it has not already been
// marked at the current epoch (epoch rotation makes re-marking a no-op
// rather than requiring an explicit unmark pass between cycles, §3).
func (im *ImmixCollector) enqueue(obj *Object) {
	if obj == nil {
		return
	}
	obj = resolve(obj)
	if obj.setMark(im.epoch) {
		return
	}
	if obj.Header.Meaning() == Inflated {
		im.inflated.mark(uint32(obj.Header.Aux()), im.epoch)
	}
	im.markMu.Lock()
	im.markStack = append(im.markStack, obj)
	im.markMu.Unlock()
}

// Enqueue is the concurrent-mode insertion barrier: the mutator's write
// barrier calls this for every reference newly stored into an object
// while a concurrent mark is in flight, so objects that become reachable
// after the snapshot are still traced (§4.4 "Concurrent mode").
func (im *ImmixCollector) Enqueue(obj *Object) {
	if atomic.LoadInt32(&im.inProgress) == 0 {
		return
	}
	im.enqueue(obj)
}

// blockOf returns the block currently holding obj, or nil (obj may have
// already been evacuated out of all blocks, or may live in another
// zone).
func (im *ImmixCollector) blockOf(obj *Object) *block {
	for _, b := range im.blocks {
		for _, o := range b.objects {
			if o == obj {
				return b
			}
		}
	}
	return nil
}

const fragmentationThreshold = 0.5

// evacuate copies obj, which lives in block from, into a fresh block and
// installs a forwarding pointer, the mechanism Immix uses to compact
// during mark instead of running a separate compaction pass (§4.4 step 3).
func (im *ImmixCollector) evacuate(obj *Object, from *block) (*Object, error) {
	im.mu.Lock()
	if im.current == nil || im.current == from || im.current.used+obj.Type.Size > blockSize {
		b, err := im.takeBlock()
		if err != nil {
			im.mu.Unlock()
			return nil, err
		}
		im.current = b
	}
	cp := newObjectValue(obj.Type, Mature)
	copy(cp.Slots, obj.Slots)
	im.current.objects = append(im.current.objects, cp)
	im.current.used += obj.Type.Size
	im.mu.Unlock()

	// cp replaces obj as the object Sweep will find live in a block; carry
	// forward the mark the tracer already stamped on obj so cp isn't
	// mistaken for garbage by this same sweep.
	atomic.StoreUint32(&cp.mark, atomic.LoadUint32(&obj.mark))
	obj.SetForward(cp)
	watch(im.cfg, "evacuate", obj)
	return cp, nil
}

// removeFromBlock drops obj from b's object list once it has been
// evacuated elsewhere — obj is now a forwarding-only husk and must not
// also occupy space in its original block's sweep accounting.
func (im *ImmixCollector) removeFromBlock(b *block, obj *Object) {
	im.mu.Lock()
	defer im.mu.Unlock()
	for i, o := range b.objects {
		if o == obj {
			b.objects = append(b.objects[:i], b.objects[i+1:]...)
			b.used -= obj.Type.Size
			return
		}
	}
}

// trace processes the mark stack to a fixpoint (§4.4 step 3), evacuating
// objects out of fragmented blocks as it visits them.
func (im *ImmixCollector) trace() error {
	for {
		im.markMu.Lock()
		n := len(im.markStack)
		if n == 0 {
			im.markMu.Unlock()
			return nil
		}
		obj := im.markStack[n-1]
		im.markStack = im.markStack[:n-1]
		im.markMu.Unlock()

		cur := obj
		if b := im.blockOf(obj); b != nil && b.occupancy() < fragmentationThreshold {
			evac, err := im.evacuate(obj, b)
			if err != nil {
				return err
			}
			im.removeFromBlock(b, obj)
			cur = evac
		}
		scanChildren(cur, func(child *Object) { im.enqueue(child) })
	}
}

// Mark runs one (stop-the-world or concurrent-snapshot) mark pass: clears
// mark state via epoch rotation, traces roots to a fixpoint, then
// reconciles weak references and offers unmarked-but-finalized objects to
// fin (§4.4 steps 1-4).
func (im *ImmixCollector) Mark(roots []*Object, extraTracers []func(func(*Object)), weak *WeakRefSet, fin FinalizerService) error {
	im.epoch++
	for _, r := range roots {
		im.enqueue(r)
	}
	for _, t := range extraTracers {
		t(im.enqueue)
	}
	if err := im.trace(); err != nil {
		return err
	}
	if weak != nil {
		weak.Reconcile(func(o *Object) bool { return resolve(o).markedAt(im.epoch) })
	}
	if fin != nil {
		im.mu.Lock()
		blocks := append([]*block(nil), im.blocks...)
		im.mu.Unlock()
		for _, b := range blocks {
			for _, o := range b.objects {
				if !o.markedAt(im.epoch) && fin.HasFinalizer(o) {
					o.setMark(im.epoch)
					fin.Record(o)
				}
			}
		}
	}
	return nil
}

// StartConcurrent launches the mark phase on a dedicated goroutine,
// overlapped with mutation; the mutator's write barrier must call Enqueue
// for newly-visible references until FinishConcurrent returns (§4.4
// "Concurrent mode"). The world must already be stopped for the initial
// root scan; StartConcurrent returns once roots are enqueued, letting the
// caller restart the world immediately.
func (im *ImmixCollector) StartConcurrent(roots []*Object, done chan<- error) {
	atomic.StoreInt32(&im.inProgress, 1)
	im.epoch++
	for _, r := range roots {
		im.enqueue(r)
	}
	go func() {
		err := im.trace()
		done <- err
	}()
}

// FinishConcurrent stops the world only long enough to enqueue any
// stragglers from a final root scan and drain the mark stack to a
// fixpoint, then reconciles weak references and finalizer candidates the
// same as a stop-the-world Mark. Must be called with the world stopped.
func (im *ImmixCollector) FinishConcurrent(extraRoots []*Object, weak *WeakRefSet, fin FinalizerService) error {
	defer atomic.StoreInt32(&im.inProgress, 0)
	for _, r := range extraRoots {
		im.enqueue(r)
	}
	if err := im.trace(); err != nil {
		return err
	}
	if weak != nil {
		weak.Reconcile(func(o *Object) bool { return resolve(o).markedAt(im.epoch) })
	}
	if fin != nil {
		im.mu.Lock()
		blocks := append([]*block(nil), im.blocks...)
		im.mu.Unlock()
		for _, b := range blocks {
			for _, o := range b.objects {
				if !o.markedAt(im.epoch) && fin.HasFinalizer(o) {
					o.setMark(im.epoch)
					fin.Record(o)
				}
			}
		}
	}
	return nil
}

// Sweep frees every object not marked at the current epoch, returns
// blocks that end up fully empty to the free list, and sets the
// growth-needed flag when the post-sweep live fraction exceeds 90% (§4.4
// "Sweep phase"). Sweep does not look at foreign handles: an unmarked
// object is dropped whether or not its inflated header holds one, and no
// invariant violation is raised for it.
func (im *ImmixCollector) Sweep() (freed, liveBlocks int) {
	im.mu.Lock()
	defer im.mu.Unlock()

	var totalUsed, totalCap int
	keepBlocks := im.blocks[:0]
	for _, b := range im.blocks {
		live := b.objects[:0]
		for _, o := range b.objects {
			if o.markedAt(im.epoch) {
				live = append(live, o)
			} else {
				freed++
			}
		}
		b.objects = live
		b.used = 0
		for _, o := range b.objects {
			b.used += o.Type.Size
		}
		if len(b.objects) == 0 {
			// Nothing live remains in b; give its physical pages back to
			// the kernel while keeping the mapping reserved for reuse by
			// a future takeBlock.
			if err := arena.Advise(b.mem); err != nil && im.cfg.Logger != nil {
				im.cfg.Logger.Printf("heapcore: advise block: %v", err)
			}
			im.freeBlocks = append(im.freeBlocks, b)
			if im.current == b {
				im.current = nil
			}
		} else {
			keepBlocks = append(keepBlocks, b)
			totalUsed += b.used
			totalCap += blockSize
		}
	}
	im.blocks = keepBlocks
	liveBlocks = len(im.blocks)

	if totalCap > 0 && float64(totalUsed)/float64(totalCap) > 0.90 {
		atomic.StoreInt32(&im.needsGrowth, 1)
	} else {
		atomic.StoreInt32(&im.needsGrowth, 0)
	}
	return freed, liveBlocks
}

// NeedsGrowth reports whether the last Sweep saw a live fraction above
// 90%, meaning the facade should request a chunk extension before the
// next allocation burst.
func (im *ImmixCollector) NeedsGrowth() bool {
	return atomic.LoadInt32(&im.needsGrowth) != 0
}

// Grow adds one more chunk regardless of current occupancy; called by
// the facade when NeedsGrowth is true.
func (im *ImmixCollector) Grow() error {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.growChunk()
}

// Epoch returns the current mark epoch, shared with the large/overflow
// collector so both pools rotate in lockstep (§3 "Mark epoch").
func (im *ImmixCollector) Epoch() uint32 {
	return im.epoch
}

// Close releases every chunk's backing arena.
func (im *ImmixCollector) Close() {
	for _, c := range im.chunks {
		arena.Unmap(c)
	}
}
