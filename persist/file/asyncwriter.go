// Copyright (c) 2025 Joshua Skootsky
//
// Licensed under the Business Source License 1.1
// You may use this file only in compliance with one of:
// 1. BSL-1.1 (non-production use is free)
// 2. Commercial License (contact for pricing)
//
// After 4 years (2029-01-01), this becomes Apache-2.0

package file

import (
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/JoshuaSkootsky/btelem/ringbuffer"
)

// AsyncWriter decouples a drain loop's packet hand-off from disk I/O:
// WritePacket is wait-free (it only claims a slot in an in-memory SPSC
// ring), while a single background goroutine drains that ring into the
// underlying Writer. This gives the file collaborator the same
// "producer never blocks" property the core gives its own callers,
// at the cost of bounded queue depth: a sustained write stall on disk
// eventually overwrites queued packets rather than blocking the caller.
//
// AsyncWriter has exactly one producer (WritePacket) and one consumer
// (its own flush goroutine), so it is built directly on
// ringbuffer.RingBuffer, which documents that exact contract.
type AsyncWriter struct {
	w      *Writer
	queue  *ringbuffer.RingBuffer[[]byte]
	cursor uint64
	logger log.Logger

	dropped atomic.Uint64

	stop    chan struct{}
	stopped chan struct{}
}

// NewAsyncWriter starts a background flush goroutine draining into w.
// queueSize must be a power of two (ringbuffer.New's own requirement).
func NewAsyncWriter(w *Writer, queueSize uint64, logger log.Logger) *AsyncWriter {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	aw := &AsyncWriter{
		w:       w,
		queue:   ringbuffer.New[[]byte](queueSize),
		logger:  logger,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go aw.flushLoop()
	return aw
}

// WritePacket copies packet into the queue and returns immediately.
// The copy is necessary because the caller's buffer (typically a
// reused DrainPacked scratch buffer) is not safe to retain past this
// call.
func (aw *AsyncWriter) WritePacket(packet []byte) {
	cp := make([]byte, len(packet))
	copy(cp, packet)
	aw.queue.Write(cp)
}

// Dropped returns the number of queued packets the background flusher
// never saw because the producer lapped it (queue overflow).
func (aw *AsyncWriter) Dropped() uint64 {
	return aw.dropped.Load()
}

func (aw *AsyncWriter) flushLoop() {
	defer close(aw.stopped)
	for {
		select {
		case <-aw.stop:
			aw.drain()
			return
		default:
		}

		data, drained := aw.step()
		if !drained {
			time.Sleep(time.Millisecond)
			continue
		}
		if data == nil {
			continue // a gap was skipped, nothing to write this iteration
		}
		if err := aw.w.WritePacket(data); err != nil {
			level.Error(aw.logger).Log("msg", "packet write failed", "err", err)
		}
	}
}

// step performs one ReadWithGap call. It returns (packet, true) when a
// packet was read, (nil, true) when a gap was detected and skipped
// (the caller should loop again immediately), or (nil, false) when the
// queue is simply empty. Sequence numbers start at 1, so a freshly
// zeroed gapStart distinguishes "no gap reported" from a real one.
func (aw *AsyncWriter) step() ([]byte, bool) {
	var gapStart, gapEnd uint64
	data, ok := aw.queue.ReadWithGap(&aw.cursor, &gapStart, &gapEnd)
	if ok {
		return data, true
	}
	if gapStart == 0 {
		return nil, false
	}
	n := gapEnd - gapStart + 1
	aw.dropped.Add(n)
	level.Warn(aw.logger).Log("msg", "async writer queue overflowed", "dropped", n)
	aw.cursor = gapEnd // skip the lost range, matching ringbuffer's documented recovery idiom
	return nil, true
}

// drain flushes whatever is still queued before Close returns.
func (aw *AsyncWriter) drain() {
	for {
		data, drained := aw.step()
		if !drained {
			return
		}
		if data == nil {
			continue
		}
		if err := aw.w.WritePacket(data); err != nil {
			level.Error(aw.logger).Log("msg", "packet write failed during drain", "err", err)
		}
	}
}

// Close stops the flush goroutine, drains any remaining queued
// packets, and closes the underlying Writer.
func (aw *AsyncWriter) Close() error {
	close(aw.stop)
	<-aw.stopped
	return aw.w.Close()
}
