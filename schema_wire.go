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

// Endianness tags the producer's native byte order in the schema
// header so a decoder on a different architecture can convert once
// rather than per field. The core never converts on read itself
// (spec.md §1).
type Endianness uint8

const (
	LittleEndian Endianness = 0
	BigEndian    Endianness = 1
)

// hostEndianness detects the running process's native byte order, the
// same way a systems library distinguishes wire format per target
// without requiring the caller to say so explicitly.
func hostEndianness() Endianness {
	var x uint16 = 1
	b := [2]byte{}
	binary.NativeEndian.PutUint16(b[:], x)
	if b[0] == 1 {
		return LittleEndian
	}
	return BigEndian
}

func (e Endianness) byteOrder() binary.ByteOrder {
	if e == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// putFixedString copies s into dst, zero-filling (and truncating if
// s is longer than dst); the blob is always zero-filled before
// writing so padding bytes are deterministic, per spec.md §4.6.
func putFixedString(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

func encodeFieldWire(dst []byte, order binary.ByteOrder, f Field) {
	putFixedString(dst[0:NameMax], f.Name)
	off := NameMax
	order.PutUint16(dst[off:], f.Offset)
	off += 2
	order.PutUint16(dst[off:], f.Size)
	off += 2
	dst[off] = byte(f.Type)
	off++
	dst[off] = f.ArrayCount
}

func encodeSchemaWire(dst []byte, order binary.ByteOrder, d *Descriptor) {
	order.PutUint16(dst[0:], d.ID)
	order.PutUint16(dst[2:], d.PayloadSize)
	order.PutUint16(dst[4:], uint16(len(d.Fields)))
	putFixedString(dst[6:6+NameMax], d.Name)
	putFixedString(dst[6+NameMax:6+NameMax+DescMax], d.Description)

	fieldsStart := 6 + NameMax + DescMax
	for i := 0; i < MaxFields; i++ {
		fbuf := dst[fieldsStart+i*sizeFieldWire : fieldsStart+(i+1)*sizeFieldWire]
		if i < len(d.Fields) {
			encodeFieldWire(fbuf, order, d.Fields[i])
		}
	}
}

func encodeEnumWire(dst []byte, order binary.ByteOrder, schemaID uint16, fieldIndex uint8, spec *EnumSpec) {
	order.PutUint16(dst[0:], schemaID)
	dst[2] = fieldIndex
	order.PutUint16(dst[3:], uint16(len(spec.Labels)))

	matrixStart := 5
	for i := 0; i < EnumMaxValues; i++ {
		lbuf := dst[matrixStart+i*EnumLabelMax : matrixStart+(i+1)*EnumLabelMax]
		if i < len(spec.Labels) {
			putFixedString(lbuf, spec.Labels[i])
		}
	}
}

func encodeBitfieldWire(dst []byte, order binary.ByteOrder, schemaID uint16, fieldIndex uint8, spec *BitfieldSpec) {
	order.PutUint16(dst[0:], schemaID)
	dst[2] = fieldIndex
	order.PutUint16(dst[3:], uint16(len(spec.Bits)))

	namesStart := 5
	for i := 0; i < BitfieldMaxBits; i++ {
		nbuf := dst[namesStart+i*BitNameMax : namesStart+(i+1)*BitNameMax]
		if i < len(spec.Bits) {
			putFixedString(nbuf, spec.Bits[i].Name)
		}
	}

	startsStart := namesStart + BitfieldMaxBits*BitNameMax
	widthsStart := startsStart + BitfieldMaxBits
	for i := 0; i < BitfieldMaxBits; i++ {
		if i < len(spec.Bits) {
			dst[startsStart+i] = spec.Bits[i].Start
			dst[widthsStart+i] = spec.Bits[i].Width
		}
	}
}

// enumAndBitfieldRefs walks the registered schemas in ascending id
// order and collects every enum/bitfield field reference in the same
// order the blob will emit them.
type enumRef struct {
	schemaID   uint16
	fieldIndex uint8
	spec       *EnumSpec
}

type bitfieldRef struct {
	schemaID   uint16
	fieldIndex uint8
	spec       *BitfieldSpec
}

func (r *registry) orderedDescriptors() []*Descriptor {
	out := make([]*Descriptor, 0, r.schemaCount)
	for i := uint16(0); i < r.schemaCount; i++ {
		if r.entries[i] != nil {
			out = append(out, r.entries[i])
		}
	}
	return out
}

func (r *registry) enumAndBitfieldRefs() ([]enumRef, []bitfieldRef) {
	var enums []enumRef
	var bits []bitfieldRef
	for _, d := range r.orderedDescriptors() {
		for i, f := range d.Fields {
			switch {
			case f.Type == FieldEnum && f.Enum != nil:
				enums = append(enums, enumRef{schemaID: d.ID, fieldIndex: uint8(i), spec: f.Enum})
			case f.Type == FieldBitfield && f.Bitfield != nil:
				bits = append(bits, bitfieldRef{schemaID: d.ID, fieldIndex: uint8(i), spec: f.Bitfield})
			}
		}
	}
	return enums, bits
}

// schemaBlobLen computes the exact byte length of the serialized
// schema blob for the current registry contents.
func (r *registry) schemaBlobLen() int {
	descs := r.orderedDescriptors()
	enums, bits := r.enumAndBitfieldRefs()
	return sizeSchemaHeader +
		len(descs)*sizeSchemaWire +
		2 + len(enums)*sizeEnumWire +
		2 + len(bits)*sizeBitfieldWire
}

// SerializeSchema produces the schema blob described in spec.md §4.6.
// Passing a nil buf returns the exact required size without writing
// anything (size-query mode). Otherwise it writes the entire blob
// into buf, zero-filled first so padding bytes are deterministic, and
// fails with ErrBufferTooSmall if buf is undersized.
func (ctx *Context) SerializeSchema(buf []byte) (int, error) {
	n := ctx.reg.schemaBlobLen()
	if buf == nil {
		return n, nil
	}
	if len(buf) < n {
		return 0, newErr(BufferTooSmall, "schema blob buffer too small")
	}
	for i := range buf[:n] {
		buf[i] = 0
	}

	order := ctx.endianness.byteOrder()
	buf[0] = byte(ctx.endianness)
	descs := ctx.reg.orderedDescriptors()
	order.PutUint16(buf[1:], uint16(len(descs)))

	off := sizeSchemaHeader
	for _, d := range descs {
		encodeSchemaWire(buf[off:off+sizeSchemaWire], order, d)
		off += sizeSchemaWire
	}

	enums, bits := ctx.reg.enumAndBitfieldRefs()
	order.PutUint16(buf[off:], uint16(len(enums)))
	off += 2
	for _, e := range enums {
		encodeEnumWire(buf[off:off+sizeEnumWire], order, e.schemaID, e.fieldIndex, e.spec)
		off += sizeEnumWire
	}

	order.PutUint16(buf[off:], uint16(len(bits)))
	off += 2
	for _, b := range bits {
		encodeBitfieldWire(buf[off:off+sizeBitfieldWire], order, b.schemaID, b.fieldIndex, b.spec)
		off += sizeBitfieldWire
	}

	return n, nil
}

// StreamEmitFunc receives one fixed-size chunk of the schema blob at
// a time. A non-zero return aborts the stream.
type StreamEmitFunc func(chunk []byte) int

// StreamSchema emits the same byte sequence as SerializeSchema, one
// fixed-size record at a time (header, then each schema entry, then
// the enum count and each enum, then the bitfield count and each
// bitfield), so the caller never needs a buffer bigger than one
// record (at most 2053 bytes, an EnumWire record, with default
// constants). Returns ErrAborted if
// emit returns non-zero.
func (ctx *Context) StreamSchema(emit StreamEmitFunc) (int, error) {
	order := ctx.endianness.byteOrder()
	total := 0

	header := make([]byte, sizeSchemaHeader)
	header[0] = byte(ctx.endianness)
	descs := ctx.reg.orderedDescriptors()
	order.PutUint16(header[1:], uint16(len(descs)))
	if emit(header) != 0 {
		return total, newErr(Aborted, "streaming callback aborted at header")
	}
	total += len(header)

	schemaBuf := make([]byte, sizeSchemaWire)
	for _, d := range descs {
		for i := range schemaBuf {
			schemaBuf[i] = 0
		}
		encodeSchemaWire(schemaBuf, order, d)
		if emit(schemaBuf) != 0 {
			return total, newErr(Aborted, "streaming callback aborted at schema entry")
		}
		total += len(schemaBuf)
	}

	enums, bits := ctx.reg.enumAndBitfieldRefs()

	countBuf := make([]byte, 2)
	order.PutUint16(countBuf, uint16(len(enums)))
	if emit(countBuf) != 0 {
		return total, newErr(Aborted, "streaming callback aborted at enum count")
	}
	total += len(countBuf)

	enumBuf := make([]byte, sizeEnumWire)
	for _, e := range enums {
		for i := range enumBuf {
			enumBuf[i] = 0
		}
		encodeEnumWire(enumBuf, order, e.schemaID, e.fieldIndex, e.spec)
		if emit(enumBuf) != 0 {
			return total, newErr(Aborted, "streaming callback aborted at enum entry")
		}
		total += len(enumBuf)
	}

	countBuf2 := make([]byte, 2)
	order.PutUint16(countBuf2, uint16(len(bits)))
	if emit(countBuf2) != 0 {
		return total, newErr(Aborted, "streaming callback aborted at bitfield count")
	}
	total += len(countBuf2)

	bitBuf := make([]byte, sizeBitfieldWire)
	for _, b := range bits {
		for i := range bitBuf {
			bitBuf[i] = 0
		}
		encodeBitfieldWire(bitBuf, order, b.schemaID, b.fieldIndex, b.spec)
		if emit(bitBuf) != 0 {
			return total, newErr(Aborted, "streaming callback aborted at bitfield entry")
		}
		total += len(bitBuf)
	}

	return total, nil
}
