// Copyright (c) 2025 Joshua Skootsky
//
// Licensed under the Business Source License 1.1
// You may use this file only in compliance with one of:
// 1. BSL-1.1 (non-production use is free)
// 2. Commercial License (contact for pricing)
//
// After 4 years (2029-01-01), this becomes Apache-2.0

package btelem

// EmitFunc receives one drained entry. A non-zero return halts the
// drain early; that is a successful stop, not an error (spec.md
// §4.3).
type EmitFunc func(e *Event) int

// Drain walks committed entries from id's cursor toward the ring
// head, copying and reverifying each one (the two-phase torn-read
// guard from spec.md §4.3), and invokes emit for each that passes the
// consumer's filter. Returns the number of entries emitted, or
// ErrInvalidConsumer if id is inactive or out of range.
//
// Adapted from the teacher's ReadWithGap: instead of returning a
// single (data, ok) pair to one SPSC caller, Drain walks as far as it
// can in one call and reports loss through the consumer's persistent
// dropped counter rather than a pair of out-params on every call.
func (ctx *Context) Drain(id ConsumerID, emit EmitFunc) (int, error) {
	ctx.mu.Lock()
	slot, err := ctx.consumerSlotLocked(id)
	if err != nil {
		ctx.mu.Unlock()
		return 0, err
	}
	cursor := slot.cursor
	filter := slot.filter
	ctx.mu.Unlock()

	capacity := ctx.ring.Capacity()
	emitted := 0
	var ev Event

	for {
		head := ctx.ring.Head()
		oldest := oldestFor(head, capacity)
		if cursor < oldest {
			gap := oldest - cursor
			cursor = oldest
			ctx.addDropped(id, gap)
		}
		if cursor >= head {
			break
		}

		s := &ctx.ring.entries[cursor&ctx.ring.mask]
		want := cursor + 1

		seq := s.seq.Load()
		if seq != want {
			break // not yet published
		}

		ev.copyFrom(s)

		seq2 := s.seq.Load()
		if seq2 != seq {
			// overwritten mid-copy: a torn read, accounted as a drop.
			cursor++
			ctx.addDropped(id, 1)
			continue
		}

		cursor++

		if !filter.Accepts(ev.ID) {
			continue
		}

		if emit(&ev) != 0 {
			break
		}
		emitted++
	}

	ctx.mu.Lock()
	if s, err := ctx.consumerSlotLocked(id); err == nil {
		s.cursor = cursor
	}
	ctx.mu.Unlock()

	return emitted, nil
}

// addDropped accumulates n into id's dropped counter.
func (ctx *Context) addDropped(id ConsumerID, n uint64) {
	ctx.mu.Lock()
	if s, err := ctx.consumerSlotLocked(id); err == nil {
		s.dropped += n
	}
	ctx.mu.Unlock()
}
