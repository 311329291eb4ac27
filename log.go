// Copyright 2026 The Heapcore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapcore

// Logger allows the use of custom loggers with heapcore. The log.Logger in
// the standard library implements this interface; a nil Logger silently
// disables logging, including the watch-address observable (watch.go).
type Logger interface {
	Println(v ...interface{})
	Printf(format string, v ...interface{})
}
