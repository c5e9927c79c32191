// Copyright (c) 2025 Joshua Skootsky
//
// Licensed under the Business Source License 1.1
// You may use this file only in compliance with one of:
// 1. BSL-1.1 (non-production use is free)
// 2. Commercial License (contact for pricing)
//
// After 4 years (2029-01-01), this becomes Apache-2.0

package btelem

// FieldType tags the wire type of one Field in a schema descriptor.
type FieldType uint8

const (
	FieldU8 FieldType = iota
	FieldU16
	FieldU32
	FieldU64
	FieldI8
	FieldI16
	FieldI32
	FieldI64
	FieldF32
	FieldF64
	FieldBool
	FieldBytes
	FieldEnum
	FieldBitfield
)

// EnumSpec describes an ordered label list for an enum-typed field.
type EnumSpec struct {
	Labels []string
}

// BitSubField describes one LSB-based sub-range of a bitfield.
type BitSubField struct {
	Name  string
	Start uint8 // LSB-based bit offset
	Width uint8 // width in bits
}

// BitfieldSpec describes the ordered sub-field list of a
// bitfield-typed field.
type BitfieldSpec struct {
	Bits []BitSubField
}

// Field describes one member of a schema's payload layout.
type Field struct {
	Name       string
	Offset     uint16
	Size       uint16
	Type       FieldType
	ArrayCount uint8 // 1 = scalar

	Enum     *EnumSpec     // non-nil iff Type == FieldEnum
	Bitfield *BitfieldSpec // non-nil iff Type == FieldBitfield
}

// Descriptor is a schema entry descriptor: the layout of one event
// shape a producer may log. The registry stores a reference to the
// descriptor, not a copy, so it must remain live for the owning
// Context's lifetime (spec.md §4.5).
type Descriptor struct {
	ID          uint16
	Name        string
	Description string
	PayloadSize uint16
	Fields      []Field
}

// registry is the fixed table of registered schema descriptors keyed
// by numeric id.
type registry struct {
	entries     [MaxSchemaEntries]*Descriptor
	schemaCount uint16 // largest registered id + 1
}

// register validates and stores desc at desc.ID, replacing any prior
// entry at that id (no error on duplicate registration, per spec.md
// §4.5).
func (r *registry) register(desc *Descriptor) error {
	if desc.ID >= MaxSchemaEntries {
		return newErr(InvalidSchemaID, "id out of range")
	}
	if desc.PayloadSize > MaxPayload {
		return newErr(PayloadTooLarge, "payload_size exceeds MaxPayload")
	}
	if len(desc.Fields) > MaxFields {
		return newErr(InvalidArgument, "too many fields")
	}

	r.entries[desc.ID] = desc
	if uint16(desc.ID)+1 > r.schemaCount {
		r.schemaCount = desc.ID + 1
	}
	return nil
}

// lookup returns the descriptor registered at id, or nil.
func (r *registry) lookup(id uint16) *Descriptor {
	if id >= MaxSchemaEntries {
		return nil
	}
	return r.entries[id]
}

// count returns the number of populated schema slots below
// schemaCount (duplicates of a replaced id don't double count;
// unregistered gaps below schemaCount are simply skipped by callers
// that range entries[:schemaCount] and check for nil).
func (r *registry) count() int {
	n := 0
	for i := uint16(0); i < r.schemaCount; i++ {
		if r.entries[i] != nil {
			n++
		}
	}
	return n
}
