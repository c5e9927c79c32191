// Copyright (c) 2025 Joshua Skootsky
//
// Licensed under the Business Source License 1.1
// You may use this file only in compliance with one of:
// 1. BSL-1.1 (non-production use is free)
// 2. Commercial License (contact for pricing)
//
// After 4 years (2029-01-01), this becomes Apache-2.0

package btelem

import "sync/atomic"

// entry is one fixed-size ring slot. Every slot in a Ring has
// identical layout, matching the teacher's Slot[T] but with a fixed
// byte payload instead of a generic field: the payload's real shape
// is described out-of-band by a registered schema, not by the Go type
// system, since a single ring carries many event shapes at once.
//
// seq coordinates the producer/consumer handoff exactly as in
// Slot[T].sequence: zero while the slot is being written, slotVal+1
// once published. A slot is committed for claim value slotVal when
// seq == slotVal+1.
//
// The second pad field is entryTailPad: zero with the default
// MaxPayload, where the struct already lands on a 256-byte boundary
// (a single cache-line multiple), but it keeps adjacent slots from
// false-sharing a cache line the same way Slot[T] pads small generic
// payloads, if MaxPayload is ever changed to a size that doesn't
// divide evenly by cacheLinePad. It sits before payload rather than
// at the end because Go adds padding after a trailing zero-size
// field, which would push the slot past 256 bytes.
type entry struct {
	seq         atomic.Uint64
	timestamp   uint64
	id          uint16
	payloadSize uint16
	_           [4]byte
	_           [entryTailPad]byte
	payload     [MaxPayload]byte
}

// Event is a copy of one drained entry, safe to read after the
// originating slot has moved on.
type Event struct {
	ID          uint16
	Timestamp   uint64
	PayloadSize uint16
	Payload     [MaxPayload]byte
}

// Bytes returns the portion of Payload that was actually written.
func (e *Event) Bytes() []byte {
	return e.Payload[:e.PayloadSize]
}

func (e *Event) copyFrom(s *entry) {
	e.ID = s.id
	e.Timestamp = s.timestamp
	e.PayloadSize = s.payloadSize
	copy(e.Payload[:e.PayloadSize], s.payload[:e.PayloadSize])
}
