// Copyright 2026 The Heapcore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapcore

import (
	"errors"
	"sync/atomic"

	"github.com/throneless-labs/heapcore/internal/backoff"
)

// Manager is the facade tying the three pools (C3/C4/C5), the inflated
// header table (C2), the remembered set, weak references, and the world
// coordinator (C7) together into the single object-memory core a host
// runtime embeds (§2 "Components" / §6). It is the type most callers
// construct directly; every other exported type in this package is a
// collaborator Manager wires up.
type Manager struct {
	cfg *Config

	young    *YoungCollector
	immix    *ImmixCollector
	large    *LargeCollector
	inflated *InflatedTable
	remset   *RememberedSet
	weak     *WeakRefSet
	world    *WorldCoordinator

	nextObjectID  uint64 // atomic, §4.2 "Assign object id"
	foreignBytes  int64  // atomic, charged against cfg.MallocThreshold
	inflationLock int32  // atomic bool: process-wide spinlock serializing inflation (§4.1)
}

// NewManager constructs a Manager from cfg, or from NewConfig()'s
// defaults if cfg is nil. It reserves the young semispace and one Immix
// chunk up front; both can fail if the host is out of virtual memory.
func NewManager(cfg *Config) (*Manager, error) {
	cfg = cfg.withDefaults()

	inflated := NewInflatedTable()
	young, err := NewYoungCollector(cfg)
	if err != nil {
		return nil, err
	}
	immix, err := NewImmixCollector(cfg, inflated)
	if err != nil {
		young.Close()
		return nil, err
	}

	mgr := &Manager{
		cfg:      cfg,
		young:    young,
		immix:    immix,
		large:    NewLargeCollector(cfg, inflated, immix.Epoch()),
		inflated: inflated,
		remset:   NewRememberedSet(),
		weak:     NewWeakRefSet(),
	}
	mgr.world = newWorldCoordinator(cfg)
	return mgr, nil
}

// Close releases every pool's backing arena. Not safe to call while any
// thread is still registered.
func (mgr *Manager) Close() {
	mgr.young.Close()
	mgr.immix.Close()
}

func (mgr *Manager) currentEpoch() uint32 {
	return mgr.immix.Epoch()
}

// RegisterThread creates a ThreadRecord for a new mutator thread,
// participating in the safepoint protocol from the Dependent state.
func (mgr *Manager) RegisterThread() *ThreadRecord {
	return mgr.world.RegisterThread(mgr)
}

// UnregisterThread drops tr from the registry, e.g. on thread exit.
func (mgr *Manager) UnregisterThread(tr *ThreadRecord) {
	mgr.world.UnregisterThread(tr)
}

// AfterFork resets the world coordinator's safepoint state and thread
// registry for a forked child process (§4.7); see
// WorldCoordinator.AfterFork for what is and is not reset. The caller
// must re-register its own (surviving) thread afterward.
func (mgr *Manager) AfterFork() {
	mgr.world.AfterFork()
}

// NewObject allocates a fresh Young object of type t, escalating through
// the allocation ladder of §4.6: a bump-pointer attempt in young
// to-space, then (on failure) a young collection and a second attempt,
// then Immix, then the large/overflow pool. Objects at or above
// cfg.LargeObjectThreshold skip straight to the large pool.
func (mgr *Manager) NewObject(t *TypeInfo) (*Object, error) {
	return mgr.allocate(t, nil)
}

// NewMatureObject allocates directly into the Immix pool, bypassing
// young entirely — for objects the caller already knows will outlive
// several young collections (§4.4's allocation contract covers both
// promotion and direct mature allocation).
func (mgr *Manager) NewMatureObject(t *TypeInfo) (*Object, error) {
	if t.Size >= mgr.cfg.LargeObjectThreshold {
		return mgr.large.Allocate(t), nil
	}
	obj, err, ok := mgr.immix.Allocate(t)
	if err != nil {
		return nil, err
	}
	if ok {
		return obj, nil
	}
	return mgr.large.Allocate(t), nil
}

// NewEnduringObject allocates directly into the large/overflow pool,
// used for class metaobjects and other values the embedding runtime
// knows should never be relocated (§4.5).
func (mgr *Manager) NewEnduringObject(t *TypeInfo) *Object {
	return mgr.large.Allocate(t)
}

// allocate is NewObject's implementation. initiator is the ThreadRecord
// synchronously blocked inside this very call, if any — passed through
// to runCollection so a collection this allocation provokes excludes
// initiator from the safepoint wait rather than deadlocking on it (see
// ThreadRecord.NewObject and stopTheWorld's doc comment). Pass nil from
// a caller with no ThreadRecord of its own.
func (mgr *Manager) allocate(t *TypeInfo, initiator *ThreadRecord) (*Object, error) {
	if t.Size >= mgr.cfg.LargeObjectThreshold {
		return mgr.large.Allocate(t), nil
	}

	if obj, ok := mgr.young.Allocate(t); ok {
		return obj, nil
	}

	mgr.world.RequestYoung()
	if err := mgr.runCollection(initiator); err != nil {
		return nil, err
	}
	if obj, ok := mgr.young.Allocate(t); ok {
		return obj, nil
	}

	obj, err, ok := mgr.immix.Allocate(t)
	if err != nil {
		return nil, err
	}
	if ok {
		return obj, nil
	}
	return mgr.large.Allocate(t), nil
}

// promote is the callback young.Collect invokes when an object's age
// crosses cfg.PromotionAge; it tries Immix first and falls back to the
// large pool's Overflow path when Immix itself cannot find room (§4.3
// step 4, §4.6's escalation ladder applied mid-collection).
func (mgr *Manager) promote(o *Object) (*Object, error) {
	obj, err := mgr.immix.Promote(o)
	if err == nil {
		return obj, nil
	}
	var oom *OOMError
	if errors.As(err, &oom) {
		return mgr.large.Overflow(o), nil
	}
	return nil, err
}

func (mgr *Manager) rootSnapshot() []*Object {
	var roots []*Object
	for _, tr := range mgr.world.threadSnapshot() {
		roots = append(roots, tr.rootSnapshot()...)
	}
	return roots
}

func (mgr *Manager) extraTracers() []func(func(*Object)) {
	var tracers []func(func(*Object))
	if mgr.cfg.SymbolTable != nil {
		tracers = append(tracers, mgr.cfg.SymbolTable.TraceMarks)
	}
	if mgr.cfg.Finalizers != nil {
		// FinalizerService is consulted for candidates directly by the
		// collectors, not traced through, so nothing to add here; listed
		// only to keep this function's shape obvious for the next
		// collaborator that does need tracing.
	}
	return tracers
}

// RunCollection drives one safepoint cycle (§4.7) on behalf of a caller
// with no ThreadRecord of its own, e.g. a dedicated GC-trigger goroutine.
// Mutator code that has registered a ThreadRecord should call
// ThreadRecord.RunCollection instead, so the collection excludes that
// thread from the safepoint wait.
func (mgr *Manager) RunCollection() error {
	return mgr.runCollection(nil)
}

// runCollection is RunCollection's implementation, acting on whatever
// combination of young/mature requests is currently pending. A call with
// nothing pending returns immediately without stopping the world.
// Concurrent callers serialize on the world coordinator's driver lock —
// exactly one collection runs at a time; while waiting for that lock,
// initiator polls its own Checkpoint so a peer driver's stopTheWorld is
// not left waiting on it. initiator is excluded from the safepoint wait;
// see stopTheWorld's doc comment.
func (mgr *Manager) runCollection(initiator *ThreadRecord) error {
	w := mgr.world
	b := backoff.New()
	for !w.driverMu.TryLock() {
		if initiator != nil {
			initiator.Checkpoint()
		}
		b.Spin()
	}
	defer w.driverMu.Unlock()

	young, mature := w.pending()
	if !young && !mature {
		return nil
	}
	atomic.StoreInt32(&w.collectYoung, 0)
	atomic.StoreInt32(&w.collectMature, 0)

	w.stopTheWorld(initiator)
	defer func() {
		w.restartWorld()
		atomic.AddInt64(&w.collections, 1)
	}()

	if mgr.cfg.Finalizers != nil {
		mgr.cfg.Finalizers.StartCollection()
		defer mgr.cfg.Finalizers.FinishCollection()
	}

	roots := mgr.rootSnapshot()

	if young {
		if _, err := mgr.young.Collect(roots, mgr.remset.Roots(), mgr.promote); err != nil {
			return err
		}
		for _, tr := range w.threadSnapshot() {
			tr.resolveRoots()
		}
		mgr.remset.Prune(func(o *Object) bool {
			o = resolve(o)
			stillYoung := false
			scanChildren(o, func(child *Object) {
				if resolve(child).Zone() == Young {
					stillYoung = true
				}
			})
			return stillYoung
		})
		roots = mgr.rootSnapshot()
	}

	if mature {
		if mgr.cfg.ImmixConcurrent {
			done := make(chan error, 1)
			mgr.immix.StartConcurrent(roots, done)
			w.restartWorld()
			err := <-done
			w.stopTheWorld(initiator)
			if err != nil {
				return err
			}
			if err := mgr.immix.FinishConcurrent(mgr.rootSnapshot(), mgr.weak, mgr.cfg.Finalizers); err != nil {
				return err
			}
		} else {
			if err := mgr.immix.Mark(roots, mgr.extraTracers(), mgr.weak, mgr.cfg.Finalizers); err != nil {
				return err
			}
		}
		mgr.immix.Sweep()
		mgr.large.setEpoch(mgr.immix.Epoch())
		mgr.large.Mark(roots)
		mgr.large.Sweep(mgr.cfg.Finalizers)
		epoch := mgr.immix.Epoch()
		mgr.remset.Prune(func(o *Object) bool { return resolve(o).markedAt(epoch) })
		mgr.inflated.Sweep(mgr.immix.Epoch())
		if mgr.cfg.SymbolTable != nil {
			// TraceMarks was folded into extraTracers above; the symbol
			// table's own sweep (if it needs one) is the embedding
			// runtime's responsibility, not this core's.
			_ = mgr.cfg.SymbolTable
		}
		if mgr.immix.NeedsGrowth() {
			if err := mgr.immix.Grow(); err != nil {
				return err
			}
		}
	}

	return nil
}

// ChargeForeignBytes is called by the embedding runtime's raw (non-object)
// byte allocator — string buffers, bignum limbs, and the like — to
// account non-heap bytes against cfg.MallocThreshold (§6). Crossing the
// threshold requests (but does not force) a mature collection at the
// next safepoint.
func (mgr *Manager) ChargeForeignBytes(n int64) {
	total := atomic.AddInt64(&mgr.foreignBytes, n)
	if total >= mgr.cfg.MallocThreshold {
		atomic.StoreInt64(&mgr.foreignBytes, 0)
		mgr.world.RequestMature()
	}
}

// NewWeakRef registers a new weak reference to obj.
func (mgr *Manager) NewWeakRef(obj *Object) *WeakRef {
	return mgr.weak.NewWeakRef(obj)
}

// SetFinalizer registers (or, with fn nil, clears) a finalizer callback
// for obj through the configured FinalizerService. A no-op if no
// FinalizerService was configured.
func (mgr *Manager) SetFinalizer(obj *Object, fn func(*Object)) {
	if mgr.cfg.Finalizers != nil {
		mgr.cfg.Finalizers.SetFinalizer(obj, fn)
	}
}

// StoreBarrier must be called by generated/interpreter field-store code
// whenever a reference field of holder is set to value. It folds two
// concerns into the one call site mutator code actually has available:
// the mature->young write barrier (§5) and, while a concurrent mark is
// in flight, the Immix insertion barrier (§4.4 "Concurrent mode") that
// keeps newly-visible references from being missed by a snapshot trace.
func (mgr *Manager) StoreBarrier(holder, value *Object) {
	WriteBarrier(mgr.remset, holder, value)
	mgr.immix.Enqueue(value)
}
