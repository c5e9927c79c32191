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
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// stressEvent mirrors the {magic, thread_id, counter} shape from the
// stress_4p_2c seed scenario (spec.md §8). 16 bytes, well under
// MaxPayload.
type stressEvent struct {
	Magic    uint32
	ThreadID uint32
	Counter  uint64
}

const stressMagic = 0xFEEDFACE

func TestStress4Producers2Consumers(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in -short mode")
	}

	const (
		numProducers  = 4
		perProducer   = 100000
		numConsumers  = 2
		ringCapacity  = 64
		totalExpected = numProducers * perProducer
	)

	ctx := NewContext(ringCapacity)
	defer ctx.Close()

	consumerIDs := make([]ConsumerID, numConsumers)
	for i := range consumerIDs {
		id, err := ctx.ConsumerOpen(AcceptAll())
		if err != nil {
			t.Fatalf("ConsumerOpen: %v", err)
		}
		consumerIDs[i] = id
	}

	var wg sync.WaitGroup
	wg.Add(numProducers)
	for p := 0; p < numProducers; p++ {
		go func(threadID uint32) {
			defer wg.Done()
			for c := uint64(0); c < perProducer; c++ {
				ev := stressEvent{Magic: stressMagic, ThreadID: threadID, Counter: c}
				LogValue(ctx, 0, ev)
			}
		}(uint32(p))
	}

	done := make(chan struct{})
	results := make([]struct {
		emitted uint64
		dropped uint64
		lastSeq map[uint32]uint64
		badMagic bool
	}, numConsumers)

	var consumerWG sync.WaitGroup
	consumerWG.Add(numConsumers)
	for i, id := range consumerIDs {
		results[i].lastSeq = make(map[uint32]uint64)
		go func(idx int, cid ConsumerID) {
			defer consumerWG.Done()
			for {
				n, err := ctx.Drain(cid, func(e *Event) int {
					var ev stressEvent
					bytesToStruct(e.Bytes(), &ev)
					if ev.Magic != stressMagic {
						results[idx].badMagic = true
					}
					prev, ok := results[idx].lastSeq[ev.ThreadID]
					if ok && ev.Counter <= prev {
						results[idx].badMagic = true // reused flag: monotonicity violated
					}
					results[idx].lastSeq[ev.ThreadID] = ev.Counter
					return 0
				})
				if err != nil {
					t.Errorf("consumer %d drain: %v", idx, err)
					return
				}
				results[idx].emitted += uint64(n)

				ctx.mu.Lock()
				results[idx].dropped = ctx.consumers[cid].dropped
				ctx.mu.Unlock()

				select {
				case <-done:
					if n == 0 {
						return
					}
				default:
				}
				time.Sleep(time.Millisecond)
			}
		}(i, id)
	}

	wg.Wait()
	close(done)
	consumerWG.Wait()

	for i, r := range results {
		if r.badMagic {
			t.Fatalf("consumer %d observed a bad magic or non-monotonic counter", i)
		}
		if r.emitted+r.dropped != totalExpected {
			t.Fatalf("consumer %d: emitted(%d)+dropped(%d) != %d", i, r.emitted, r.dropped, totalExpected)
		}
	}
}

// bytesToStruct reinterprets raw bytes as a stressEvent. Used only by
// the test; production decoders use the schema blob instead.
func bytesToStruct(b []byte, out *stressEvent) {
	if len(b) < 16 {
		return
	}
	out.Magic = u32(b[0:4])
	out.ThreadID = u32(b[4:8])
	out.Counter = u64(b[8:16])
}

func u32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func u64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

func TestDropCounterAtomicSanity(t *testing.T) {
	ctx := NewContext(16)
	defer ctx.Close()

	id, _ := ctx.ConsumerOpen(AcceptAll())

	var wg sync.WaitGroup
	var written atomic.Uint64
	wg.Add(2)
	for p := 0; p < 2; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < 10000; i++ {
				ctx.Log(0, u32Bytes(uint32(i)))
				written.Add(1)
			}
		}()
	}
	wg.Wait()

	emitted, err := ctx.Drain(id, func(e *Event) int { return 0 })
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}

	ctx.mu.Lock()
	dropped := ctx.consumers[id].dropped
	ctx.mu.Unlock()

	if uint64(emitted)+dropped != written.Load() {
		t.Fatalf("emitted(%d)+dropped(%d) != written(%d)", emitted, dropped, written.Load())
	}
}
