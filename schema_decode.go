// Copyright (c) 2025 Joshua Skootsky
//
// Licensed under the Business Source License 1.1
// You may use this file only in compliance with one of:
// 1. BSL-1.1 (non-production use is free)
// 2. Commercial License (contact for pricing)
//
// After 4 years (2029-01-01), this becomes Apache-2.0

package btelem

import "encoding/binary"

// DecodedSchema is the result of parsing a schema blob produced by
// SerializeSchema/StreamSchema: the producer's recorded endianness and
// its registered descriptors, in ascending id order.
type DecodedSchema struct {
	Endianness  Endianness
	Descriptors []*Descriptor
}

// readFixedString trims a fixed-width wire string at its first zero
// byte; names and descriptions never contain an embedded NUL.
func readFixedString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func decodeFieldWire(src []byte, order binary.ByteOrder) Field {
	off := NameMax
	return Field{
		Name:       readFixedString(src[0:NameMax]),
		Offset:     order.Uint16(src[off:]),
		Size:       order.Uint16(src[off+2:]),
		Type:       FieldType(src[off+4]),
		ArrayCount: src[off+5],
	}
}

func decodeSchemaWire(src []byte, order binary.ByteOrder) *Descriptor {
	id := order.Uint16(src[0:])
	payloadSize := order.Uint16(src[2:])
	fieldCount := order.Uint16(src[4:])
	name := readFixedString(src[6 : 6+NameMax])
	desc := readFixedString(src[6+NameMax : 6+NameMax+DescMax])

	fieldsStart := 6 + NameMax + DescMax
	fields := make([]Field, fieldCount)
	for i := range fields {
		fbuf := src[fieldsStart+i*sizeFieldWire : fieldsStart+(i+1)*sizeFieldWire]
		fields[i] = decodeFieldWire(fbuf, order)
	}

	return &Descriptor{
		ID:          id,
		Name:        name,
		Description: desc,
		PayloadSize: payloadSize,
		Fields:      fields,
	}
}

func decodeEnumWire(src []byte, order binary.ByteOrder) (schemaID uint16, fieldIndex uint8, labels []string) {
	schemaID = order.Uint16(src[0:])
	fieldIndex = src[2]
	labelCount := order.Uint16(src[3:])

	matrixStart := 5
	labels = make([]string, labelCount)
	for i := range labels {
		lbuf := src[matrixStart+i*EnumLabelMax : matrixStart+(i+1)*EnumLabelMax]
		labels[i] = readFixedString(lbuf)
	}
	return
}

func decodeBitfieldWire(src []byte, order binary.ByteOrder) (schemaID uint16, fieldIndex uint8, bits []BitSubField) {
	schemaID = order.Uint16(src[0:])
	fieldIndex = src[2]
	bitCount := order.Uint16(src[3:])

	namesStart := 5
	startsStart := namesStart + BitfieldMaxBits*BitNameMax
	widthsStart := startsStart + BitfieldMaxBits

	bits = make([]BitSubField, bitCount)
	for i := range bits {
		nbuf := src[namesStart+i*BitNameMax : namesStart+(i+1)*BitNameMax]
		bits[i] = BitSubField{
			Name:  readFixedString(nbuf),
			Start: src[startsStart+i],
			Width: src[widthsStart+i],
		}
	}
	return
}

// DecodeSchemaBlob parses a blob produced by Context.SerializeSchema
// (or reassembled from Context.StreamSchema's chunks) back into
// descriptors. It is the reader-side counterpart spec.md leaves to
// "language-specific decoders": the wire layout is fixed and public,
// so a consumer that isn't the producing process can still make sense
// of it.
func DecodeSchemaBlob(blob []byte) (*DecodedSchema, error) {
	if len(blob) < sizeSchemaHeader {
		return nil, newErr(InvalidArgument, "schema blob shorter than its header")
	}
	endian := Endianness(blob[0])
	order := endian.byteOrder()
	schemaCount := order.Uint16(blob[1:])

	off := sizeSchemaHeader
	descs := make([]*Descriptor, 0, schemaCount)
	byID := make(map[uint16]*Descriptor, schemaCount)
	for i := uint16(0); i < schemaCount; i++ {
		if off+sizeSchemaWire > len(blob) {
			return nil, newErr(InvalidArgument, "schema blob truncated in schema entry")
		}
		d := decodeSchemaWire(blob[off:off+sizeSchemaWire], order)
		descs = append(descs, d)
		byID[d.ID] = d
		off += sizeSchemaWire
	}

	if off+2 > len(blob) {
		return nil, newErr(InvalidArgument, "schema blob truncated before enum count")
	}
	enumCount := order.Uint16(blob[off:])
	off += 2
	for i := uint16(0); i < enumCount; i++ {
		if off+sizeEnumWire > len(blob) {
			return nil, newErr(InvalidArgument, "schema blob truncated in enum entry")
		}
		schemaID, fieldIndex, labels := decodeEnumWire(blob[off:off+sizeEnumWire], order)
		off += sizeEnumWire
		if d, ok := byID[schemaID]; ok && int(fieldIndex) < len(d.Fields) {
			d.Fields[fieldIndex].Enum = &EnumSpec{Labels: labels}
		}
	}

	if off+2 > len(blob) {
		return nil, newErr(InvalidArgument, "schema blob truncated before bitfield count")
	}
	bitCount := order.Uint16(blob[off:])
	off += 2
	for i := uint16(0); i < bitCount; i++ {
		if off+sizeBitfieldWire > len(blob) {
			return nil, newErr(InvalidArgument, "schema blob truncated in bitfield entry")
		}
		schemaID, fieldIndex, bits := decodeBitfieldWire(blob[off:off+sizeBitfieldWire], order)
		off += sizeBitfieldWire
		if d, ok := byID[schemaID]; ok && int(fieldIndex) < len(d.Fields) {
			d.Fields[fieldIndex].Bitfield = &BitfieldSpec{Bits: bits}
		}
	}

	return &DecodedSchema{Endianness: endian, Descriptors: descs}, nil
}
