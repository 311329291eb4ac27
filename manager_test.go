// Copyright 2026 The Heapcore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapcore

import (
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"golang.org/x/sync/errgroup"
)

func TestManagerAllocateSurvivesSmallYoungCollection(t *testing.T) {
	cfg := NewConfig()
	cfg.YoungSize = 512
	mgr, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer mgr.Close()

	tr := mgr.RegisterThread()
	defer mgr.UnregisterThread(tr)

	root, err := tr.NewObject(leafType)
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}
	copy(root.Slots, []byte{9, 8, 7, 6, 5, 4, 3, 2})
	tr.PushRoot(root)

	// Allocate enough objects to exhaust the tiny semispace and force at
	// least one young collection via the escalation ladder in allocate().
	for i := 0; i < 64; i++ {
		if _, err := tr.NewObject(leafType); err != nil {
			t.Fatalf("NewObject (filler %d): %v", i, err)
		}
	}

	survivor := resolve(root)
	if diff := pretty.Compare(root.Slots, survivor.Slots); diff != "" {
		t.Fatalf("survivor slot bytes diverged from the original (-got +want):\n%s", diff)
	}
}

func TestManagerPromotesSurvivorsToImmix(t *testing.T) {
	cfg := NewConfig()
	cfg.YoungSize = 4096
	cfg.PromotionAge = 1
	mgr, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer mgr.Close()

	tr := mgr.RegisterThread()
	defer mgr.UnregisterThread(tr)

	root, err := tr.NewObject(leafType)
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}
	tr.PushRoot(root)

	mgr.world.RequestYoung()
	if err := tr.RunCollection(); err != nil {
		t.Fatalf("RunCollection: %v", err)
	}

	if got := resolve(root).Zone(); got != Mature {
		t.Fatalf("root Zone() = %v, want Mature after crossing PromotionAge=1", got)
	}
}

func TestManagerWeakRefClearedAfterMatureCollection(t *testing.T) {
	mgr := newTestManager(t)
	garbage := newObjectValue(leafType, Young)
	w := mgr.NewWeakRef(garbage)

	mgr.world.RequestMature()
	if err := mgr.RunCollection(); err != nil {
		t.Fatalf("RunCollection: %v", err)
	}
	if w.Get() != nil {
		t.Fatal("weak ref to an unrooted object survived a mature collection")
	}
}

func TestManagerFinalizerRunsOnUnreachedObject(t *testing.T) {
	cfg := NewConfig()
	cfg.Finalizers = NewSimpleFinalizerQueue()
	mgr, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer mgr.Close()

	obj, _, ok := mgr.immix.Allocate(leafType)
	if !ok {
		t.Fatal("immix.Allocate failed")
	}
	ran := false
	cfg.Finalizers.SetFinalizer(obj, func(*Object) { ran = true })

	mgr.world.RequestMature()
	if err := mgr.RunCollection(); err != nil {
		t.Fatalf("RunCollection: %v", err)
	}
	if !ran {
		t.Fatal("finalizer did not run for an object unreached by the trace")
	}
}

func TestManagerConcurrentAllocation(t *testing.T) {
	cfg := NewConfig()
	cfg.YoungSize = 1 << 14
	mgr, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer mgr.Close()

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		g.Go(func() error {
			tr := mgr.RegisterThread()
			defer mgr.UnregisterThread(tr)
			for i := 0; i < 500; i++ {
				obj, err := tr.NewObject(leafType)
				if err != nil {
					return err
				}
				tr.Checkpoint()
				_ = obj
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent allocation: %v", err)
	}

	stats := mgr.Stats()
	if stats.Collections == 0 {
		t.Fatal("8*500 allocations against a 16KiB young semispace triggered no collections")
	}
}
