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
	"encoding/binary"
	"path/filepath"
	"testing"
	"time"
)

func TestAsyncWriterFlushesQueuedPackets(t *testing.T) {
	ctx := newTestContext(t)
	defer ctx.Close()

	path := filepath.Join(t.TempDir(), "async.btlm")
	w, err := Create(path, ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	aw := NewAsyncWriter(w, 16, nil)

	const n = 5
	for i := 0; i < n; i++ {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(i))
		packet := fakePacket(b)
		aw.WritePacket(packet)
	}

	if err := aw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if len(r.Entries()) != n {
		t.Fatalf("expected %d flushed packets, got %d", n, len(r.Entries()))
	}
	if aw.Dropped() != 0 {
		t.Fatalf("expected no drops for a queue sized above the burst, got %d", aw.Dropped())
	}
}

func TestAsyncWriterCloseIsSynchronous(t *testing.T) {
	ctx := newTestContext(t)
	defer ctx.Close()

	path := filepath.Join(t.TempDir(), "sync.btlm")
	w, err := Create(path, ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	aw := NewAsyncWriter(w, 4, nil)

	aw.WritePacket(fakePacket([]byte{1, 2, 3, 4}))

	done := make(chan struct{})
	go func() {
		aw.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	if len(r.Entries()) != 1 {
		t.Fatalf("expected the queued packet to be flushed before Close returned, got %d entries", len(r.Entries()))
	}
}

// fakePacket builds a minimal valid PacketHeader + one EntryHeader +
// payload, just large enough for WritePacket to parse an entry count
// and first timestamp without needing a live Context drain.
func fakePacket(payload []byte) []byte {
	buf := make([]byte, 16+16+len(payload))
	binary.LittleEndian.PutUint16(buf[0:], 1) // entry_count
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(payload)))
	binary.LittleEndian.PutUint16(buf[16:], 0)               // id
	binary.LittleEndian.PutUint16(buf[18:], uint16(len(payload)))
	binary.LittleEndian.PutUint32(buf[20:], 0) // payload offset
	binary.LittleEndian.PutUint64(buf[24:], 1234)
	copy(buf[32:], payload)
	return buf
}
