// Copyright (c) 2025 Joshua Skootsky
//
// Licensed under the Business Source License 1.1
// You may use this file only in compliance with one of:
// 1. BSL-1.1 (non-production use is free)
// 2. Commercial License (contact for pricing)
//
// After 4 years (2029-01-01), this becomes Apache-2.0

package btelem

// Compile-time knobs. Changing any of these changes the wire format
// produced by Serialize/Stream and the packed-batch layout, so they
// are plain constants rather than runtime configuration.
const (
	// MaxPayload is the maximum payload size in bytes for a single
	// logged value.
	MaxPayload = 232

	// cacheLinePad is the assumed cache-line size, used to round entry's
	// slot size up to a cache-line multiple so adjacent slots in Ring
	// don't false-share, the same purpose the teacher's Slot[T] padding
	// serves for an arbitrary generic payload.
	cacheLinePad = 64

	// entryBaseSize is one ring slot's size before any trailing
	// cache-line padding: seq(8) + timestamp(8) + id(2) + payloadSize(2)
	// + pad(4) + payload(MaxPayload).
	entryBaseSize = 8 + 8 + 2 + 2 + 4 + MaxPayload

	// entryTailPad rounds entryBaseSize up to the next multiple of
	// cacheLinePad. Zero with the default MaxPayload (232), where
	// entryBaseSize already lands on a 256-byte boundary; nonzero if
	// MaxPayload is ever changed to a value that doesn't divide evenly.
	entryTailPad = (cacheLinePad - entryBaseSize%cacheLinePad) % cacheLinePad

	// EntrySize is the total size of one ring slot, including any
	// trailing cache-line padding. 256 bytes with the default
	// MaxPayload, a single cache-line multiple.
	EntrySize = entryBaseSize + entryTailPad

	// MaxClients is the size of the fixed consumer table.
	MaxClients = 8

	// MaxSchemaEntries bounds registrable schema ids.
	MaxSchemaEntries = 64

	// MaxFields bounds the field table of one schema descriptor.
	MaxFields = 16

	// NameMax is the fixed width of a name field on the wire.
	NameMax = 64

	// DescMax is the fixed width of a description field on the wire.
	DescMax = 128

	// EnumMaxValues bounds the label list of one enum field.
	EnumMaxValues = 64

	// EnumLabelMax is the fixed width of one enum label on the wire.
	EnumLabelMax = 32

	// BitfieldMaxBits bounds the sub-field list of one bitfield field.
	BitfieldMaxBits = 16

	// BitNameMax is the fixed width of one bitfield sub-field name.
	BitNameMax = 32
)

// Fixed packed record sizes, in bytes. Decoders index these tables
// without descriptor parsing, so they must never drift from the
// constants above.
const (
	sizeFieldWire     = 70
	sizeSchemaWire    = 1318
	sizeSchemaHeader  = 3
	sizeEnumWire      = 2053
	sizeBitfieldWire  = 549
	sizePacketHeader  = 16
	sizeEntryHeader   = 16
	sizeIndexEntry    = 28
	sizeIndexFooter   = 16
	sizeFileHeader    = 10
	indexFooterMagic  = 0x494C5442
	fileHeaderMagic   = "BTLM"
	fileFormatVersion = 1
)
