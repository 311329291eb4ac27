// Copyright 2026 The Heapcore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapcore

import (
	"sync"
	"sync/atomic"

	"github.com/throneless-labs/heapcore/internal/backoff"
)

// RunState is a mutator thread's participation state in the safepoint
// protocol (§4.7).
type RunState int32

const (
	// Dependent threads participate in safepoints; the collector waits
	// for them.
	Dependent RunState = iota
	// Independent threads are ignored by the collector (blocking I/O or
	// foreign code); they must transition back to Dependent, which may
	// block until the world is running, before touching managed objects.
	Independent
	// Sleeping threads are independent and parked on a condition
	// variable.
	Sleeping
)

// ThreadRecord is a mutator's entry in the world coordinator's registry
// (§3 "Thread record"). It borrows, rather than owns, a reference to the
// Manager — per design note §9, avoiding an ownership cycle between
// thread records and the memory manager.
type ThreadRecord struct {
	id  uint32
	mgr *Manager

	mu           sync.Mutex
	state        int32 // atomic RunState
	checkpointed int32 // atomic bool

	// slabBase/slabTop/slabLimit describe this thread's bump-allocation
	// slab carved from young to-space; slabTop==slabLimit means the slab
	// needs a refill.
	slabBase, slabTop, slabLimit int64

	roots map[*Object]struct{}
}

// ID returns the thread record's stable identifier, also used as the
// ThinLock owner id (§3).
func (tr *ThreadRecord) ID() uint32 { return tr.id }

func (tr *ThreadRecord) runState() RunState {
	return RunState(atomic.LoadInt32(&tr.state))
}

func (tr *ThreadRecord) setRunState(s RunState) {
	atomic.StoreInt32(&tr.state, int32(s))
}

// PushRoot registers obj as a root of this thread. In the absence of a
// precise stack map (§1 Non-goals), mutator code is expected to register
// every locally-reachable object it intends to keep alive across a
// safepoint poll, and to call PopRoot once it is done — the cooperative
// equivalent of a stack frame's roots.
func (tr *ThreadRecord) PushRoot(obj *Object) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.roots == nil {
		tr.roots = make(map[*Object]struct{})
	}
	tr.roots[obj] = struct{}{}
}

// PopRoot unregisters obj.
func (tr *ThreadRecord) PopRoot(obj *Object) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	delete(tr.roots, obj)
}

func (tr *ThreadRecord) rootSnapshot() []*Object {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]*Object, 0, len(tr.roots))
	for o := range tr.roots {
		out = append(out, o)
	}
	return out
}

// resolveRoots replaces this thread's registered roots with their
// post-collection (forwarding-resolved) addresses.
func (tr *ThreadRecord) resolveRoots() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.roots) == 0 {
		return
	}
	fresh := make(map[*Object]struct{}, len(tr.roots))
	for o := range tr.roots {
		fresh[resolve(o)] = struct{}{}
	}
	tr.roots = fresh
}

// Checkpoint is the cooperative safepoint poll (§5 suspension point (d)):
// mutator code calls this at allocation, method entry, and explicit
// checkpoints. If the world is stopped, Checkpoint marks this thread
// checkpointed and blocks until the driver restarts the world.
func (tr *ThreadRecord) Checkpoint() {
	w := tr.mgr.world
	if atomic.LoadInt32(&w.stopFlag) == 0 {
		return
	}
	w.cond.L.Lock()
	for atomic.LoadInt32(&w.stopFlag) != 0 {
		atomic.StoreInt32(&tr.checkpointed, 1)
		w.cond.Wait()
	}
	atomic.StoreInt32(&tr.checkpointed, 0)
	w.cond.L.Unlock()
}

// BecomeIndependent marks the thread as no longer participating in
// safepoints, e.g. before a blocking syscall or a foreign-code call.
func (tr *ThreadRecord) BecomeIndependent() {
	tr.setRunState(Independent)
}

// BecomeDependent transitions back to Dependent, blocking until the world
// is running if a collection is in progress — the thread must not touch
// managed objects until this returns (§4.7).
func (tr *ThreadRecord) BecomeDependent() {
	w := tr.mgr.world
	b := backoff.New()
	for atomic.LoadInt32(&w.stopFlag) != 0 {
		b.Spin()
	}
	tr.setRunState(Dependent)
}

// NewObject allocates a Young object of type t, trying this thread's
// local bump slab first and refilling it from young to-space on
// exhaustion, before falling back to Manager's full allocation ladder
// (§4.6). Passing through a ThreadRecord rather than calling
// Manager.NewObject directly is what lets a collection triggered by this
// call exclude tr from the safepoint wait: tr is synchronously blocked
// inside this very call, not concurrently mutating, so it cannot miss a
// checkpoint poll the way another, genuinely running mutator could.
func (tr *ThreadRecord) NewObject(t *TypeInfo) (*Object, error) {
	if t.Size < tr.mgr.cfg.LargeObjectThreshold {
		if tr.slabBump(t.Size) {
			return newObjectValue(t, Young), nil
		}
		if tr.RefillSlab(tr.mgr.cfg.SlabSize) && tr.slabBump(t.Size) {
			return newObjectValue(t, Young), nil
		}
	}
	return tr.mgr.allocate(t, tr)
}

// RunCollection drives a collection on tr's behalf, excluding tr itself
// from the safepoint wait for the reason NewObject's doc explains.
func (tr *ThreadRecord) RunCollection() error {
	return tr.mgr.runCollection(tr)
}

// RefillSlab asks the young collector for a fresh slab. Returns false if
// young to-space is exhausted, at which point the caller should escalate
// (try Immix, then Large) per §4.6.
func (tr *ThreadRecord) RefillSlab(size int) bool {
	base, ok := tr.mgr.young.RefillSlab(size)
	if !ok {
		return false
	}
	tr.slabBase = base
	tr.slabTop = base
	tr.slabLimit = base + int64(size)
	return true
}

// slabBump claims n bytes from this thread's slab, returning false if it
// doesn't fit (slab exhausted or never allocated).
func (tr *ThreadRecord) slabBump(n int) bool {
	if tr.slabTop+int64(n) > tr.slabLimit {
		return false
	}
	tr.slabTop += int64(n)
	return true
}

// WorldCoordinator owns the thread registry, the safepoint flag, and the
// collection driver (§4.7). Exactly one collection runs at a time,
// enforced by driverMu.
type WorldCoordinator struct {
	cfg *Config

	mu           sync.Mutex
	threads      map[uint32]*ThreadRecord
	nextThreadID uint32

	stopFlag int32
	cond     *sync.Cond

	driverMu sync.Mutex

	collectYoung  int32
	collectMature int32

	collections int64 // Stats: completed safepoint collections
}

func newWorldCoordinator(cfg *Config) *WorldCoordinator {
	w := &WorldCoordinator{cfg: cfg, threads: make(map[uint32]*ThreadRecord)}
	w.cond = sync.NewCond(&sync.Mutex{})
	return w
}

// RegisterThread creates and registers a new ThreadRecord in the
// Dependent state.
func (w *WorldCoordinator) RegisterThread(mgr *Manager) *ThreadRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextThreadID++
	tr := &ThreadRecord{id: w.nextThreadID, mgr: mgr, state: int32(Dependent)}
	w.threads[tr.id] = tr
	return tr
}

// UnregisterThread drops a thread record, e.g. on mutator thread exit.
func (w *WorldCoordinator) UnregisterThread(tr *ThreadRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.threads, tr.id)
}

func (w *WorldCoordinator) threadSnapshot() []*ThreadRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*ThreadRecord, 0, len(w.threads))
	for _, tr := range w.threads {
		out = append(out, tr)
	}
	return out
}

// RequestYoung sets the young-collection flag, to be acted on at the next
// safepoint.
func (w *WorldCoordinator) RequestYoung() { atomic.StoreInt32(&w.collectYoung, 1) }

// RequestMature sets the mature-collection flag.
func (w *WorldCoordinator) RequestMature() { atomic.StoreInt32(&w.collectMature, 1) }

// pending reports whether a collection is currently worth running, i.e. the
// collection driver pseudocode's `!young_flag && !mature_flag` guard.
func (w *WorldCoordinator) pending() (young, mature bool) {
	return atomic.LoadInt32(&w.collectYoung) != 0, atomic.LoadInt32(&w.collectMature) != 0
}

// stopTheWorld raises the stop flag and waits until every Dependent
// thread other than initiator has either checkpointed or transitioned to
// Independent/Sleeping (§4.7's safepoint protocol). initiator — the
// thread record of whichever goroutine is driving this very call, if any
// — is excluded: it is synchronously blocked inside this call, not
// concurrently mutating, so waiting on its own Checkpoint would deadlock
// (nothing else polls it on tr's behalf). Pass nil when the caller has no
// ThreadRecord of its own, e.g. a dedicated collector goroutine.
func (w *WorldCoordinator) stopTheWorld(initiator *ThreadRecord) {
	atomic.StoreInt32(&w.stopFlag, 1)
	b := backoff.New()
	for {
		allStopped := true
		for _, tr := range w.threadSnapshot() {
			if tr == initiator {
				continue
			}
			if tr.runState() != Dependent {
				continue
			}
			if atomic.LoadInt32(&tr.checkpointed) == 0 {
				allStopped = false
				break
			}
		}
		if allStopped {
			return
		}
		b.Spin()
	}
}

// restartWorld lowers the stop flag and broadcasts to every thread
// parked in Checkpoint.
func (w *WorldCoordinator) restartWorld() {
	atomic.StoreInt32(&w.stopFlag, 0)
	w.cond.L.Lock()
	w.cond.Broadcast()
	w.cond.L.Unlock()
}

// AfterFork drops all thread records and resets thread ids (the caller is
// expected to re-register the surviving thread), lowers the stop flag,
// clears pending collection requests, and replaces the safepoint
// condition variable (§4.7 "After-fork"). The registry and driver
// mutexes are not reinitialized, and the Immix collector's concurrent-mark
// state is not touched.
func (w *WorldCoordinator) AfterFork() {
	w.mu.Lock()
	w.threads = make(map[uint32]*ThreadRecord)
	w.nextThreadID = 0
	w.mu.Unlock()

	atomic.StoreInt32(&w.stopFlag, 0)
	atomic.StoreInt32(&w.collectYoung, 0)
	atomic.StoreInt32(&w.collectMature, 0)
	w.cond = sync.NewCond(&sync.Mutex{})
}

// Collections reports how many safepoint collections have completed.
func (w *WorldCoordinator) Collections() int64 {
	return atomic.LoadInt64(&w.collections)
}
