// Copyright (c) 2025 Joshua Skootsky
//
// Licensed under the Business Source License 1.1
// You may use this file only in compliance with one of:
// 1. BSL-1.1 (non-production use is free)
// 2. Commercial License (contact for pricing)
//
// After 4 years (2029-01-01), this becomes Apache-2.0

package btelem

import (
	"time"

	"github.com/agilira/go-timecache"
)

// Clock is the one overridable behaviour in the core (see spec design
// notes): the timestamp a producer stamps on each logged entry.
// Embedded targets without a wall clock supply their own
// implementation (e.g. a hardware cycle counter converted to
// nanoseconds).
type Clock interface {
	// NowNanos returns the current time in nanoseconds. The unit is
	// opaque to the core; it is never interpreted, only recorded and
	// later surfaced to decoders.
	NowNanos() uint64
}

// cachedClock wraps a timecache.TimeCache so repeated Log calls don't
// each pay for a syscall-backed time.Now(); the cache is refreshed on
// its own background ticker at millisecond resolution, the same
// tradeoff agilira/lethe makes for its rotation timestamps.
type cachedClock struct {
	tc *timecache.TimeCache
}

// newCachedClock returns a Clock backed by a millisecond-resolution
// timecache.TimeCache. Call stop on the returned value (via
// Context.Close) to release its background goroutine.
func newCachedClock() *cachedClock {
	return &cachedClock{tc: timecache.NewWithResolution(time.Millisecond)}
}

func (c *cachedClock) NowNanos() uint64 {
	return uint64(c.tc.CachedTime().UnixNano())
}

func (c *cachedClock) stop() {
	c.tc.Stop()
}
