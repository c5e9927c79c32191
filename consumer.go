// Copyright (c) 2025 Joshua Skootsky
//
// Licensed under the Business Source License 1.1
// You may use this file only in compliance with one of:
// 1. BSL-1.1 (non-production use is free)
// 2. Commercial License (contact for pricing)
//
// After 4 years (2029-01-01), this becomes Apache-2.0

package btelem

// Filter selects which schema ids a consumer accepts. Its
// representation is a dense byte array indexed by schema id rather
// than a 64-bit bitmask: spec.md's Open Question 1 notes that a
// bitmask variant silently fails for ids >= 64 even though
// MaxSchemaEntries is also 64 by default, and explicitly adopts the
// dense-array interpretation to avoid that trap.
type Filter struct {
	acceptAll bool
	accept    [MaxSchemaEntries]bool
}

// AcceptAll returns a filter that passes every schema id.
func AcceptAll() Filter {
	return Filter{acceptAll: true}
}

// NewFilter returns a filter that accepts only the given schema ids.
// ids >= MaxSchemaEntries are silently ignored (they could never be
// registered or logged anyway).
func NewFilter(ids ...uint16) Filter {
	f := Filter{}
	for _, id := range ids {
		if id < MaxSchemaEntries {
			f.accept[id] = true
		}
	}
	return f
}

// Accepts reports whether the filter passes id.
func (f Filter) Accepts(id uint16) bool {
	if f.acceptAll {
		return true
	}
	if id >= MaxSchemaEntries {
		return false
	}
	return f.accept[id]
}

// ConsumerID indexes the fixed consumer table.
type ConsumerID int

// consumerSlot is one entry of the fixed-size consumer table (default
// capacity MaxClients). Lifecycle: populated by consumerOpen at the
// current head (no historical playback), cleared by consumerClose.
type consumerSlot struct {
	active          bool
	cursor          uint64
	filter          Filter
	dropped         uint64
	droppedReported uint64
}

// consumerOpen scans the fixed consumer table for an inactive slot
// and claims it at the current head. Spec.md assumes a single
// supervising thread manages consumer lifecycle; ctx.mu serializes
// table mutation so callers that violate that assumption still get a
// consistent table rather than a corrupted one.
func (ctx *Context) consumerOpen(filter Filter) (ConsumerID, error) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	for i := range ctx.consumers {
		if !ctx.consumers[i].active {
			ctx.consumers[i] = consumerSlot{
				active: true,
				cursor: ctx.ring.Head(),
				filter: filter,
			}
			return ConsumerID(i), nil
		}
	}
	return -1, newErr(NoFreeConsumerSlot, "consumer table full")
}

func (ctx *Context) consumerClose(id ConsumerID) error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	slot, err := ctx.consumerSlotLocked(id)
	if err != nil {
		return err
	}
	*slot = consumerSlot{}
	return nil
}

func (ctx *Context) consumerSetFilter(id ConsumerID, filter Filter) error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	slot, err := ctx.consumerSlotLocked(id)
	if err != nil {
		return err
	}
	slot.filter = filter
	return nil
}

// consumerAvailable computes (available, pending_dropped) without
// mutating cursor or dropped; a pure read per spec.md §4.2.
func (ctx *Context) consumerAvailable(id ConsumerID) (uint64, uint64, error) {
	ctx.mu.Lock()
	slot, err := ctx.consumerSlotLocked(id)
	if err != nil {
		ctx.mu.Unlock()
		return 0, 0, err
	}
	cursor := slot.cursor
	ctx.mu.Unlock()

	head := ctx.ring.Head()
	oldest := oldestFor(head, ctx.ring.Capacity())
	cur := cursor
	if cur < oldest {
		cur = oldest
	}
	available := head - cur
	pendingDropped := uint64(0)
	if oldest > cursor {
		pendingDropped = oldest - cursor
	}
	return available, pendingDropped, nil
}

// consumerSlotLocked returns a pointer to the slot for id, validating
// range and active state. Caller must hold ctx.mu.
func (ctx *Context) consumerSlotLocked(id ConsumerID) (*consumerSlot, error) {
	if id < 0 || int(id) >= len(ctx.consumers) || !ctx.consumers[id].active {
		return nil, newErr(InvalidConsumer, "consumer id inactive or out of range")
	}
	return &ctx.consumers[id], nil
}
