// Copyright 2026 The Heapcore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapcore

// debugChecks gates the extra validation spec.md §4.2 calls out as
// "debug builds only": out-of-range InflatedTable index lookups, and a
// handful of other internal-consistency assertions that are too hot a
// path to pay for unconditionally. Off by default, including in this
// module's own test suite; TestInflatedTableGetOutOfRangeIsDebugChecked
// in inflate_test.go flips it on for the duration of that one test.
var debugChecks = false
