// Copyright 2026 The Heapcore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapcore

import "fmt"

// Stats is a point-in-time snapshot of heap occupancy across all three
// pools, plus the inflation table and collection counters. It supports
// the operator-facing diagnostics spec.md's ambient observability
// expectations call for without committing this package to a metrics
// backend — callers wire Stats fields into whatever the embedding
// runtime already uses (structured log fields, a /debug/vars handler,
// a periodic log line), the way the teacher's FileSystemConnector
// exposes its own debug counters through plain getter methods rather
// than a metrics dependency.
type Stats struct {
	YoungCapacity int64
	YoungUsed     int64

	ImmixLiveBlocks  int
	ImmixNeedsGrowth bool
	MatureEpoch      uint32

	LargeLiveBytes int64

	InflatedRecords int

	RegisteredThreads int
	Collections       int64
}

// Stats gathers a consistent-enough snapshot for diagnostics. It takes
// each pool's own lock briefly rather than stopping the world — fields
// read from different pools may be a few allocations apart, which is
// fine for a debug string and unacceptable for anything safety-critical.
func (mgr *Manager) Stats() Stats {
	mgr.young.mu.Lock()
	youngUsed := mgr.young.toTop
	youngCap := mgr.young.toCapacity
	mgr.young.mu.Unlock()

	mgr.immix.mu.Lock()
	liveBlocks := len(mgr.immix.blocks)
	mgr.immix.mu.Unlock()

	mgr.inflated.mu.Lock()
	inflatedLive := 0
	for _, r := range mgr.inflated.records {
		if r != nil {
			inflatedLive++
		}
	}
	mgr.inflated.mu.Unlock()

	return Stats{
		YoungCapacity:     youngCap,
		YoungUsed:         youngUsed,
		ImmixLiveBlocks:   liveBlocks,
		ImmixNeedsGrowth:  mgr.immix.NeedsGrowth(),
		MatureEpoch:       mgr.immix.Epoch(),
		LargeLiveBytes:    mgr.large.LiveBytes(),
		InflatedRecords:   inflatedLive,
		RegisteredThreads: len(mgr.world.threadSnapshot()),
		Collections:       mgr.world.Collections(),
	}
}

// DebugString renders Stats as a single human-readable line, suitable
// for a periodic log.Printf during development or load testing.
func (s Stats) DebugString() string {
	return fmt.Sprintf(
		"young=%d/%d immix_blocks=%d(grow=%v) epoch=%d large_bytes=%d inflated=%d threads=%d collections=%d",
		s.YoungUsed, s.YoungCapacity, s.ImmixLiveBlocks, s.ImmixNeedsGrowth, s.MatureEpoch,
		s.LargeLiveBytes, s.InflatedRecords, s.RegisteredThreads, s.Collections,
	)
}
