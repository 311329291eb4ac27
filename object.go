// Copyright 2026 The Heapcore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapcore

import (
	"sync/atomic"
	"unsafe"
)

// Zone names the pool an object currently lives in. Transitions are
// monotone: Young -> Mature -> Large, never backward (§3).
type Zone int32

const (
	Young Zone = iota
	Mature
	Large
)

func (z Zone) String() string {
	switch z {
	case Young:
		return "young"
	case Mature:
		return "mature"
	case Large:
		return "large"
	default:
		return "unknown"
	}
}

// TypeInfo describes the layout of a logical object type: its payload
// size in bytes and a Scan callback the collectors use to enumerate the
// outgoing object references held in an object's slots. This is the only
// interface the (out of scope) class model needs to implement against
// this core.
type TypeInfo struct {
	Name string
	Size int

	// Scan calls visit once for every live outgoing reference in obj's
	// slots. Scan must not itself allocate or mutate obj.
	Scan func(obj *Object, visit func(*Object))
}

// Object is every heap value's common prefix: a packed Header (C1), a
// type tag, and the zone/age/forwarding bookkeeping the collectors need.
// The payload is an opaque byte slice whose meaning is owned by Type.
//
// Identity is stable across relocation: whichever of address or assigned
// id a caller used to name the object, both remain valid after a copy,
// because copying installs a forwarding pointer in the source (see
// Forward/SetForward) rather than leaving stale pointers dangling.
type Object struct {
	Header Header
	Type   *TypeInfo

	zone int32 // Zone value; atomic, written by the owning collector
	age  int32 // young-only; atomic, incremented on every young survival

	// forward is set by a copying collector (young promote/copy, or
	// Immix evacuate) once this object's contents have been relocated.
	// It is deliberately orthogonal to Header's meaning bits rather than
	// overloading them (see DESIGN.md): Header's 2-bit meaning field has
	// all four values already assigned, so a 64-bit word has no spare
	// encoding left to double as "moved"; using a dedicated pointer-sized
	// field is the "dedicated pattern" spec.md §4.3 calls for, and keeps
	// the meaning CAS protocol untouched by relocation.
	forward unsafe.Pointer // *Object, atomic

	// mark is the per-collection mark bit, compared against the current
	// epoch rather than cleared explicitly (epoch rotation, §3).
	mark uint32

	Slots []byte
}

// newObjectValue constructs a fresh, Empty-header object of the given
// type and zone. Collectors call this; mutators go through Manager's
// allocation entry points instead.
func newObjectValue(t *TypeInfo, zone Zone) *Object {
	return &Object{
		Type:  t,
		zone:  int32(zone),
		Slots: make([]byte, t.Size),
	}
}

// Zone returns the object's current zone.
func (o *Object) Zone() Zone {
	return Zone(atomic.LoadInt32(&o.zone))
}

// setZone enforces the monotone Young->Mature->Large invariant (§3).
func (o *Object) setZone(z Zone) {
	old := o.Zone()
	if z < old {
		invariantViolation("zone transition %s -> %s is not monotone", old, z)
	}
	atomic.StoreInt32(&o.zone, int32(z))
}

// Age returns the object's young-generation survival count. Always 0 once
// the object has been promoted out of Young.
func (o *Object) Age() int {
	return int(atomic.LoadInt32(&o.age))
}

func (o *Object) incAge() int {
	return int(atomic.AddInt32(&o.age, 1))
}

// Forward returns the object this one was relocated to, or nil if it has
// not been relocated.
func (o *Object) Forward() *Object {
	p := atomic.LoadPointer(&o.forward)
	return (*Object)(p)
}

// SetForward installs a forwarding pointer. It is only ever called once
// per object per collection, by the collector holding exclusive access to
// the from-space object during copy; callers that read through Forward()
// concurrently always see either nil or the final address, never a torn
// value, because unsafe.Pointer loads/stores are word-atomic on every
// platform this module supports.
func (o *Object) SetForward(to *Object) {
	atomic.StorePointer(&o.forward, unsafe.Pointer(to))
}

// resolve follows a possible forwarding chain to the object's current
// location. Used by root/remembered-set rescans after a young collection
// (§4.3 step 5) and by mutators dereferencing a stale pointer picked up
// mid-collection.
func resolve(o *Object) *Object {
	for {
		f := o.Forward()
		if f == nil {
			return o
		}
		o = f
	}
}

func (o *Object) markedAt(epoch uint32) bool {
	return atomic.LoadUint32(&o.mark) == epoch
}

// setMark stamps the object with epoch, returning whether it was already
// marked at that epoch (idempotent within a cycle, §8.7).
func (o *Object) setMark(epoch uint32) (wasAlreadyMarked bool) {
	for {
		old := atomic.LoadUint32(&o.mark)
		if old == epoch {
			return true
		}
		if atomic.CompareAndSwapUint32(&o.mark, old, epoch) {
			return false
		}
	}
}
