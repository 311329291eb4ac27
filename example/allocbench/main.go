// Copyright 2026 The Heapcore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// A small allocation/collection stress test for the heapcore package:
// spins up a configurable number of worker goroutines, each registered
// as its own mutator thread, allocating and dropping short-lived objects
// while occasionally promoting one into a long-lived root.

package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"runtime/pprof"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/throneless-labs/heapcore"
)

var nodeType = &heapcore.TypeInfo{
	Name: "Node",
	Size: 32,
	Scan: func(obj *heapcore.Object, visit func(*heapcore.Object)) {
		// Leaf type for this benchmark: no outgoing references to scan.
	},
}

type stdLogger struct{}

func (stdLogger) Println(v ...interface{})               { log.Println(v...) }
func (stdLogger) Printf(format string, v ...interface{}) { log.Printf(format, v...) }

func worker(mgr *heapcore.Manager, id int, allocations int) error {
	tr := mgr.RegisterThread()
	defer mgr.UnregisterThread(tr)

	var survivor *heapcore.Object
	for i := 0; i < allocations; i++ {
		obj, err := tr.NewObject(nodeType)
		if err != nil {
			return fmt.Errorf("worker %d: allocate: %w", id, err)
		}
		if i%997 == 0 {
			tr.PushRoot(obj)
			if survivor != nil {
				tr.PopRoot(survivor)
			}
			survivor = obj
		}
		tr.Checkpoint()
	}
	return nil
}

func main() {
	log.SetFlags(log.Lmicroseconds)

	workers := flag.Int("workers", 4, "number of concurrent mutator goroutines")
	allocations := flag.Int("allocations", 200000, "allocations performed per worker")
	concurrentMark := flag.Bool("concurrent-mark", false, "enable concurrent Immix marking")
	cpuprofile := flag.String("cpuprofile", "", "write cpu profile to this file")
	flag.Parse()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatalf("create cpu profile: %v", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatalf("start cpu profile: %v", err)
		}
		defer pprof.StopCPUProfile()
	}

	cfg := heapcore.NewConfig()
	cfg.ImmixConcurrent = *concurrentMark
	cfg.Logger = stdLogger{}

	mgr, err := heapcore.NewManager(cfg)
	if err != nil {
		log.Fatalf("new manager: %v", err)
	}
	defer mgr.Close()

	start := time.Now()
	var g errgroup.Group
	for i := 0; i < *workers; i++ {
		id := i
		g.Go(func() error { return worker(mgr, id, *allocations) })
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("worker failed: %v", err)
	}

	log.Printf("completed %d allocations across %d workers in %s", (*workers)*(*allocations), *workers, time.Since(start))
	log.Printf("%s", mgr.Stats().DebugString())
}
