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
	"os"
	"path/filepath"
	"testing"

	"github.com/JoshuaSkootsky/btelem"
)

func newTestContext(t *testing.T) *btelem.Context {
	t.Helper()
	ctx := btelem.NewContext(16)
	if err := ctx.Register(&btelem.Descriptor{ID: 0, Name: "tick", PayloadSize: 4}); err != nil {
		t.Fatalf("register: %v", err)
	}
	return ctx
}

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := newTestContext(t)
	defer ctx.Close()

	path := filepath.Join(t.TempDir(), "session.btlm")
	w, err := Create(path, ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	id, err := ctx.ConsumerOpen(btelem.AcceptAll())
	if err != nil {
		t.Fatalf("ConsumerOpen: %v", err)
	}

	for _, v := range []uint32{1, 2, 3, 4} {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, v)
		ctx.Log(0, b)
	}

	buf := make([]byte, 4096)
	n, err := ctx.DrainPacked(id, buf)
	if err != nil {
		t.Fatalf("DrainPacked: %v", err)
	}
	if n == 0 {
		t.Fatal("expected a non-empty packet")
	}
	if err := w.WritePacket(buf[:n]); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	entries := r.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 index entry, got %d", len(entries))
	}
	if entries[0].EntryCount != 4 {
		t.Fatalf("expected EntryCount 4, got %d", entries[0].EntryCount)
	}

	packet, err := r.ReadPacket(entries[0])
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if !VerifyChecksum(entries[0], packet) {
		t.Fatal("checksum mismatch on round trip")
	}

	n2, err := ctx.SerializeSchema(nil)
	if err != nil {
		t.Fatalf("SerializeSchema size query: %v", err)
	}
	if len(r.SchemaBlob()) != n2 {
		t.Fatalf("expected schema blob length %d, got %d", n2, len(r.SchemaBlob()))
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.btlm")
	ctx := newTestContext(t)
	defer ctx.Close()

	w, err := Create(path, ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Corrupt the magic in place.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	data[0] = 'X'
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Open(path); err == nil {
		t.Fatal("expected Open to reject a corrupted magic")
	}
}

func TestWriterCloseIsIdempotent(t *testing.T) {
	ctx := newTestContext(t)
	defer ctx.Close()

	path := filepath.Join(t.TempDir(), "idempotent.btlm")
	w, err := Create(path, ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}
