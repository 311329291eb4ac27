// Copyright 2026 The Heapcore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package backoff implements the exponential spin/sleep backoff used by
// heapcore's spin-waits: the inflation lock, monitor lock waits, the
// collection driver's wait for the driver lock, and the safepoint waits
// in stopTheWorld and BecomeDependent.
package backoff

import "time"

const (
	startingDelay = 50 * time.Microsecond
	maxDelay      = 2 * time.Millisecond
	factor        = 2
)

// Backoff is a stateful exponential backoff. It is not safe for concurrent
// use; each spinning goroutine owns one.
type Backoff struct {
	delay time.Duration
}

// New returns a Backoff ready to spin.
func New() *Backoff {
	return &Backoff{delay: startingDelay}
}

// Spin sleeps for the current delay and grows it geometrically, capped at
// maxDelay.
func (b *Backoff) Spin() {
	time.Sleep(b.delay)
	b.delay *= factor
	if b.delay > maxDelay {
		b.delay = maxDelay
	}
}

// Reset returns the backoff to its starting delay.
func (b *Backoff) Reset() {
	b.delay = startingDelay
}
