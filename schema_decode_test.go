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

func TestDecodeSchemaBlobRoundtrip(t *testing.T) {
	ctx := NewContext(16)
	defer ctx.Close()

	ctx.Register(&Descriptor{
		ID:          0,
		Name:        "tick",
		Description: "a tick event",
		PayloadSize: 4,
		Fields: []Field{
			{Name: "value", Offset: 0, Size: 4, Type: FieldU32, ArrayCount: 1},
		},
	})
	ctx.Register(&Descriptor{
		ID:          2,
		Name:        "mode",
		PayloadSize: 1,
		Fields: []Field{
			{Name: "state", Offset: 0, Size: 1, Type: FieldEnum, ArrayCount: 1,
				Enum: &EnumSpec{Labels: []string{"idle", "active", "fault"}}},
			{Name: "flags", Offset: 1, Size: 1, Type: FieldBitfield, ArrayCount: 1,
				Bitfield: &BitfieldSpec{Bits: []BitSubField{
					{Name: "ready", Start: 0, Width: 1},
					{Name: "error", Start: 1, Width: 1},
				}}},
		},
	})

	n, err := ctx.SerializeSchema(nil)
	if err != nil {
		t.Fatalf("size query: %v", err)
	}
	buf := make([]byte, n)
	if _, err := ctx.SerializeSchema(buf); err != nil {
		t.Fatalf("SerializeSchema: %v", err)
	}

	decoded, err := DecodeSchemaBlob(buf)
	if err != nil {
		t.Fatalf("DecodeSchemaBlob: %v", err)
	}
	if decoded.Endianness != ctx.Endianness() {
		t.Fatalf("expected endianness %v, got %v", ctx.Endianness(), decoded.Endianness)
	}
	if len(decoded.Descriptors) != 2 {
		t.Fatalf("expected 2 descriptors, got %d", len(decoded.Descriptors))
	}

	byID := make(map[uint16]*Descriptor)
	for _, d := range decoded.Descriptors {
		byID[d.ID] = d
	}

	tick := byID[0]
	if tick == nil || tick.Name != "tick" || tick.Description != "a tick event" {
		t.Fatalf("unexpected tick descriptor: %+v", tick)
	}
	if len(tick.Fields) != 1 || tick.Fields[0].Name != "value" || tick.Fields[0].Type != FieldU32 {
		t.Fatalf("unexpected tick fields: %+v", tick.Fields)
	}

	mode := byID[2]
	if mode == nil || mode.Name != "mode" {
		t.Fatalf("unexpected mode descriptor: %+v", mode)
	}
	if len(mode.Fields) != 2 {
		t.Fatalf("expected 2 mode fields, got %d", len(mode.Fields))
	}
	if mode.Fields[0].Enum == nil || len(mode.Fields[0].Enum.Labels) != 3 || mode.Fields[0].Enum.Labels[1] != "active" {
		t.Fatalf("unexpected enum decode: %+v", mode.Fields[0].Enum)
	}
	if mode.Fields[1].Bitfield == nil || len(mode.Fields[1].Bitfield.Bits) != 2 || mode.Fields[1].Bitfield.Bits[1].Name != "error" {
		t.Fatalf("unexpected bitfield decode: %+v", mode.Fields[1].Bitfield)
	}
}

func TestDecodeSchemaBlobTruncated(t *testing.T) {
	ctx := NewContext(16)
	defer ctx.Close()
	ctx.Register(&Descriptor{ID: 0, Name: "x", PayloadSize: 1})

	n, _ := ctx.SerializeSchema(nil)
	buf := make([]byte, n)
	ctx.SerializeSchema(buf)

	if _, err := DecodeSchemaBlob(buf[:sizeSchemaHeader+1]); err == nil {
		t.Fatal("expected error decoding a truncated blob")
	}
}
