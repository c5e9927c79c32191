// Copyright (c) 2025 Joshua Skootsky
//
// Licensed under the Business Source License 1.1
// You may use this file only in compliance with one of:
// 1. BSL-1.1 (non-production use is free)
// 2. Commercial License (contact for pricing)
//
// After 4 years (2029-01-01), this becomes Apache-2.0

package btelem

import "testing"

func TestConsumerOpenNoFreeSlot(t *testing.T) {
	ctx := NewContext(16)
	defer ctx.Close()

	for i := 0; i < MaxClients; i++ {
		if _, err := ctx.ConsumerOpen(AcceptAll()); err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
	}

	_, err := ctx.ConsumerOpen(AcceptAll())
	if !IsKind(err, NoFreeConsumerSlot) {
		t.Fatalf("expected NoFreeConsumerSlot, got %v", err)
	}
}

func TestConsumerCloseFreesSlot(t *testing.T) {
	ctx := NewContext(16)
	defer ctx.Close()

	id, err := ctx.ConsumerOpen(AcceptAll())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := ctx.ConsumerClose(id); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := ctx.ConsumerOpen(AcceptAll()); err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
}

func TestConsumerOpenStartsAtHeadNoBackfill(t *testing.T) {
	ctx := NewContext(16)
	defer ctx.Close()

	ctx.Log(0, u32Bytes(1))
	ctx.Log(0, u32Bytes(2))

	id, err := ctx.ConsumerOpen(AcceptAll())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	n, err := ctx.Drain(id, func(e *Event) int { return 0 })
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no backfill, got %d entries", n)
	}
}

func TestTwoConsumersIdenticalTotals(t *testing.T) {
	ctx := NewContext(16)
	defer ctx.Close()

	id1, _ := ctx.ConsumerOpen(AcceptAll())
	id2, _ := ctx.ConsumerOpen(AcceptAll())

	for i := uint32(0); i < 40; i++ {
		ctx.Log(0, u32Bytes(i))
	}

	n1, _ := ctx.Drain(id1, func(e *Event) int { return 0 })
	n2, _ := ctx.Drain(id2, func(e *Event) int { return 0 })

	ctx.mu.Lock()
	d1 := ctx.consumers[id1].dropped
	d2 := ctx.consumers[id2].dropped
	ctx.mu.Unlock()

	if uint64(n1)+d1 != uint64(n2)+d2 {
		t.Fatalf("expected identical totals: (%d+%d) vs (%d+%d)", n1, d1, n2, d2)
	}
	if uint64(n1)+d1 != 40 {
		t.Fatalf("expected total 40, got %d", uint64(n1)+d1)
	}
}

func TestAvailablePureRead(t *testing.T) {
	ctx := NewContext(16)
	defer ctx.Close()

	id, _ := ctx.ConsumerOpen(AcceptAll())
	ctx.Log(0, u32Bytes(1))
	ctx.Log(0, u32Bytes(2))

	for i := 0; i < 3; i++ {
		available, pendingDropped, err := ctx.Available(id)
		if err != nil {
			t.Fatalf("Available: %v", err)
		}
		if available != 2 || pendingDropped != 0 {
			t.Fatalf("expected (2,0), got (%d,%d)", available, pendingDropped)
		}
	}
}

func TestRingCapacityMustBePowerOfTwo(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for non-power-of-two capacity")
		}
	}()
	NewContext(17)
}
