// Copyright 2026 The Heapcore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapcore

// Config collects the tunables enumerated in §6 of the object-memory core
// specification. Pass nil to NewManager to get NewConfig()'s defaults.
//
// Config is read by the allocating thread at allocation and safepoint
// time; per design note §9, it is kept off the global namespace and
// threaded through explicitly via the Manager it is attached to, rather
// than read from package-level mutable state.
type Config struct {
	// YoungSize is the size, in bytes, of each of the two young semispace
	// halves.
	YoungSize int

	// SlabSize is the size of the per-thread bump-allocation slab carved
	// out of the young to-space.
	SlabSize int

	// PromotionAge is the number of young survivals after which an object
	// is promoted to the Immix mature space instead of being copied again.
	PromotionAge int

	// LargeObjectThreshold is the size, in bytes, at or above which an
	// allocation is routed directly to the large/overflow collector,
	// bypassing young and Immix entirely.
	LargeObjectThreshold int

	// ImmixConcurrent enables the concurrent marker goroutine for mature
	// collections; when false, mature marking runs entirely under the
	// stop-the-world safepoint.
	ImmixConcurrent bool

	// MallocThreshold is the number of raw (non-object) bytes foreign
	// code may allocate before the facade requests a mature collection.
	// See Manager.ChargeForeignBytes.
	MallocThreshold int64

	// WatchAddress, if non-nil, names a single object whose mentions are
	// logged through Logger when it is copied or promoted by a young
	// collection, evacuated by Immix, allocated in or overflowed into the
	// large pool. Young and Immix allocation and mark-time scanning do not
	// log. Nil (the default) makes the watch a complete no-op.
	WatchAddress *Object

	// Logger receives diagnostic output, including watch-address
	// mentions. A nil Logger disables all logging.
	Logger Logger

	// Finalizers and SymbolTable are the collaborator callback sets
	// described in §6; both may be left nil if the embedding runtime has
	// no finalizers or symbol table to notify.
	Finalizers  FinalizerService
	SymbolTable SymbolTable
}

const (
	defaultYoungSize             = 8 << 20 // 8 MiB per semispace half
	defaultSlabSize              = 4096
	defaultPromotionAge          = 3
	defaultLargeObjectThreshold  = 32 << 10 // 32 KiB
	defaultMallocThreshold int64 = 4 << 20  // 4 MiB of foreign bytes
)

// NewConfig returns a Config filled in with the defaults implied by §4:
// 8 MiB young semispace halves, 4 KiB mutator slabs, promotion after 3
// survivals, a 32 KiB large-object threshold, concurrent Immix marking
// off, and a 4 MiB foreign-allocation malloc threshold.
func NewConfig() *Config {
	return &Config{
		YoungSize:            defaultYoungSize,
		SlabSize:             defaultSlabSize,
		PromotionAge:         defaultPromotionAge,
		LargeObjectThreshold: defaultLargeObjectThreshold,
		ImmixConcurrent:      false,
		MallocThreshold:      defaultMallocThreshold,
	}
}

func (c *Config) withDefaults() *Config {
	if c == nil {
		return NewConfig()
	}
	out := *c
	if out.YoungSize <= 0 {
		out.YoungSize = defaultYoungSize
	}
	if out.SlabSize <= 0 {
		out.SlabSize = defaultSlabSize
	}
	if out.PromotionAge <= 0 {
		out.PromotionAge = defaultPromotionAge
	}
	if out.LargeObjectThreshold <= 0 {
		out.LargeObjectThreshold = defaultLargeObjectThreshold
	}
	if out.MallocThreshold <= 0 {
		out.MallocThreshold = defaultMallocThreshold
	}
	return &out
}
