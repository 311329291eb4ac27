// Copyright 2026 The Heapcore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapcore

import (
	"errors"
	"fmt"
)

// ErrLockTimeout is returned by ContendForLock when the caller's timeout
// elapsed before the lock could be acquired. The target object's header is
// left still thin-locked by the prior owner, or already inflated; a
// thin lock may now carry its advisory contended bit, set by the failed
// attempt, so the owner inflates on unlock.
var ErrLockTimeout = errors.New("heapcore: lock wait timed out")

// ErrLockInterrupted is returned by ContendForLock when the caller's
// interrupt flag was observed set before the lock could be acquired.
var ErrLockInterrupted = errors.New("heapcore: lock wait interrupted")

// OOMError is raised when an allocation request failed in all pools it was
// routed through. Kind identifies which pool made the final failing
// attempt, for diagnostics only.
type OOMError struct {
	Kind       string // "young", "immix", or "large"
	Bytes      int
	Underlying error
}

func (e *OOMError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("heapcore: out of memory allocating %d bytes in %s pool: %v", e.Bytes, e.Kind, e.Underlying)
	}
	return fmt.Sprintf("heapcore: out of memory allocating %d bytes in %s pool", e.Bytes, e.Kind)
}

func (e *OOMError) Unwrap() error { return e.Underlying }

// invariantViolation reports an internal consistency check failure. There
// is no recovery path for this; fail fatally with a stack trace rather
// than continue with an inconsistent heap.
func invariantViolation(format string, args ...interface{}) {
	panic(fmt.Sprintf("heapcore: invariant violation: "+format, args...))
}
