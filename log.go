// Copyright (c) 2025 Joshua Skootsky
//
// Licensed under the Business Source License 1.1
// You may use this file only in compliance with one of:
// 1. BSL-1.1 (non-production use is free)
// 2. Commercial License (contact for pricing)
//
// After 4 years (2029-01-01), this becomes Apache-2.0

package btelem

import "unsafe"

// Log records a raw-byte payload under the given schema tag. It is
// infallible: no error is returned, matching spec.md §4.1 exactly
// ("No failure is reported to the caller; this path is guaranteed
// non-blocking and wait-free for the producer"). A payload longer
// than MaxPayload is truncated rather than panicking, since Log takes
// caller-provided bytes rather than a statically-sized Go value (see
// LogValue for the compile-time-checked path).
func (ctx *Context) Log(tag uint16, payload []byte) {
	n := len(payload)
	if n > MaxPayload {
		n = MaxPayload
	}
	ts := ctx.clock.NowNanos()
	if n == 0 {
		ctx.ring.publish(tag, 0, nil, ts)
		return
	}
	ctx.ring.publish(tag, uint16(n), unsafe.Pointer(&payload[0]), ts)
}

// LogValue records value's raw memory representation under the given
// schema tag, the same wait-free guarantee as Log but for a statically
// sized Go value instead of a byte slice — the closest Go analogue to
// spec.md's compile-time sizeof(value) <= MAX_PAYLOAD assertion. It
// panics if T's size exceeds MaxPayload: spec.md treats this as a
// build-time assertion where the language allows it, and a debug-mode
// check otherwise; Go has no monomorphized build-time constant for an
// arbitrary T, so the check runs once per call instead.
//
// T must not contain any pointers, slices, maps, or other
// reference-typed fields: LogValue copies raw bytes, and a value
// containing a pointer would let the ring alias caller-owned memory
// through a representation the core never re-validates.
func LogValue[T any](ctx *Context, tag uint16, value T) {
	size := int(unsafe.Sizeof(value))
	if size > MaxPayload {
		panic("btelem: LogValue: sizeof(value) exceeds MaxPayload")
	}
	ts := ctx.clock.NowNanos()
	ctx.ring.publish(tag, uint16(size), unsafe.Pointer(&value), ts)
}
