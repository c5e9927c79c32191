// Copyright (c) 2025 Joshua Skootsky
//
// Licensed under the Business Source License 1.1
// You may use this file only in compliance with one of:
// 1. BSL-1.1 (non-production use is free)
// 2. Commercial License (contact for pricing)
//
// After 4 years (2029-01-01), this becomes Apache-2.0

// Package btelem is a zero-copy, lock-free binary telemetry core: a
// call site records a fixed-schema event into a bounded ring buffer;
// one or more independent consumers drain committed events, either
// one at a time via a callback or packed into self-describing
// batches ready for an arbitrary transport.
//
// # Producer path
//
// Log and LogValue are wait-free and never block or return an error
// (LogValue panics only for a value larger than MaxPayload). Under
// sustained overload, old entries are silently overwritten; loss is
// tracked per consumer rather than prevented (see Context.Available).
//
// # Consumer path
//
// A consumer is opened with ConsumerOpen, which starts it at the
// current head (no historical playback). Drain and DrainPacked walk
// forward from the consumer's cursor to the head, reverifying each
// slot's sequence number to detect an in-flight overwrite (a torn
// read), which is accounted as a drop rather than delivered.
//
// # Schema
//
// Register stores a reference to a Descriptor describing one event
// shape. SerializeSchema/StreamSchema emit a self-describing blob of
// every registered schema once per transport session so a decoder
// with no compiled-in knowledge of the schemas can still interpret
// packed batches.
//
// Example:
//
//	ctx := btelem.NewContext(1024)
//	defer ctx.Close()
//
//	ctx.Register(&btelem.Descriptor{ID: 0, Name: "tick", PayloadSize: 4})
//
//	id, _ := ctx.ConsumerOpen(btelem.AcceptAll())
//	defer ctx.ConsumerClose(id)
//
//	ctx.Log(0, []byte{42, 0, 0, 0})
//
//	ctx.Drain(id, func(e *btelem.Event) int {
//		fmt.Println(e.ID, e.Bytes())
//		return 0
//	})
package btelem

import "sync"

// Context is the ownership root: it holds the ring, the schema
// registry, the fixed consumer table and the producer's endianness.
// Ownership is strictly tree-shaped (Context -> ring, Context ->
// consumers, Context -> schema descriptors by reference only); there
// are no back references and no cycles.
type Context struct {
	ring       *ring
	reg        registry
	clock      Clock
	endianness Endianness

	mu        sync.Mutex
	consumers [MaxClients]consumerSlot

	ownedClock *cachedClock
}

// NewContext allocates a Context with a ring of the given power-of-
// two capacity, using the default millisecond-resolution clock. It
// panics if capacity is not a power of two, matching the teacher's
// New/ring.newRing precondition check.
//
// This is the Go-idiomatic stand-in for spec.md's context_init, which
// in the reference design takes caller-allocated ring_memory sized to
// ring_header_size + entry_count*entry_size; Go allocates that memory
// itself rather than asking the embedder to carve it out of a byte
// buffer.
func NewContext(entryCount uint64) *Context {
	r := newRing(entryCount) // panics first on bad capacity, before any background goroutine starts
	cc := newCachedClock()
	return &Context{
		ring:       r,
		clock:      cc,
		endianness: hostEndianness(),
		ownedClock: cc,
	}
}

// NewContextWithClock is like NewContext but lets an embedder supply
// its own timestamp source, e.g. a hardware counter on a target with
// no wall clock.
func NewContextWithClock(entryCount uint64, clock Clock) *Context {
	return &Context{
		ring:       newRing(entryCount),
		clock:      clock,
		endianness: hostEndianness(),
	}
}

// Close releases the Context's owned background resources (the
// default clock's refresh goroutine). Safe to call once; does not
// affect the ring or registry, which are plain memory.
func (ctx *Context) Close() {
	if ctx.ownedClock != nil {
		ctx.ownedClock.stop()
	}
}

// Capacity returns the ring's fixed capacity.
func (ctx *Context) Capacity() uint64 {
	return ctx.ring.Capacity()
}

// Endianness returns the producer's recorded byte order.
func (ctx *Context) Endianness() Endianness {
	return ctx.endianness
}

// Register validates and stores desc in the schema registry, keyed by
// desc.ID. The registry stores a reference, not a copy: desc must
// remain live for the Context's lifetime. Duplicate registration of
// an id replaces the previous entry without error.
func (ctx *Context) Register(desc *Descriptor) error {
	return ctx.reg.register(desc)
}

// Lookup returns the descriptor registered at id, or nil if none.
func (ctx *Context) Lookup(id uint16) *Descriptor {
	return ctx.reg.lookup(id)
}

// SchemaCount returns the number of schemas currently registered, for
// introspection surfaces like transport/tcp's status endpoint.
func (ctx *Context) SchemaCount() int {
	return ctx.reg.count()
}

// ConsumerOpen opens a new consumer with the given filter, starting
// at the current head. Returns ErrNoFreeConsumerSlot if the fixed
// table (default MaxClients) is full.
func (ctx *Context) ConsumerOpen(filter Filter) (ConsumerID, error) {
	return ctx.consumerOpen(filter)
}

// ConsumerClose marks id's slot inactive; cursor, drop counts and
// filter are discarded.
func (ctx *Context) ConsumerClose(id ConsumerID) error {
	return ctx.consumerClose(id)
}

// ConsumerSetFilter replaces id's filter. Must only be called from a
// thread that is not concurrently draining id.
func (ctx *Context) ConsumerSetFilter(id ConsumerID, filter Filter) error {
	return ctx.consumerSetFilter(id, filter)
}

// Available computes (available, pending_dropped) for id without
// mutating any consumer state.
func (ctx *Context) Available(id ConsumerID) (available uint64, pendingDropped uint64, err error) {
	return ctx.consumerAvailable(id)
}
