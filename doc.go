// Copyright 2026 The Heapcore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package heapcore implements the object-memory core of a managed-language
// runtime: a three-pool heap (a copying young generation, an Immix mature
// space, and a mark-sweep large/overflow space), a packed object header
// protocol with race-free inflation to a side record, and the stop-the-
// world / safepoint protocol that lets the collector run safely alongside
// parallel mutator threads.
//
// The package does not implement a class model, a compiler or JIT, signal
// handling, telemetry, or a finalizer queue; those are external
// collaborators reached only through the interfaces in finalizer.go.
package heapcore
