// Copyright 2026 The Heapcore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapcore

// watch logs a mention of obj during the named event if obj is the
// configured watch address. It is a complete no-op — not even a pointer
// comparison avoided, just guaranteed not to format or allocate — when
// cfg.WatchAddress is nil or cfg.Logger is nil, per §6's "must be a no-op
// when disabled" requirement.
func watch(cfg *Config, event string, obj *Object) {
	if cfg == nil || cfg.WatchAddress == nil || cfg.Logger == nil {
		return
	}
	if obj != cfg.WatchAddress {
		return
	}
	cfg.Logger.Printf("heapcore: watch %p: %s (zone=%s age=%d)", obj, event, obj.Zone(), obj.Age())
}
