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

// PacketHeader is the 16-byte packed header of a transport unit: a
// packed-batch frame containing PacketHeader | EntryHeader x N |
// PayloadArea (spec.md §3/§6).
type PacketHeader struct {
	EntryCount  uint16
	Flags       uint16
	PayloadSize uint32
	Dropped     uint32
	_reserved   uint32
}

func (h PacketHeader) encode(dst []byte, order binary.ByteOrder) {
	order.PutUint16(dst[0:], h.EntryCount)
	order.PutUint16(dst[2:], h.Flags)
	order.PutUint32(dst[4:], h.PayloadSize)
	order.PutUint32(dst[8:], h.Dropped)
	order.PutUint32(dst[12:], 0)
}

func decodePacketHeader(src []byte, order binary.ByteOrder) PacketHeader {
	return PacketHeader{
		EntryCount:  order.Uint16(src[0:]),
		Flags:       order.Uint16(src[2:]),
		PayloadSize: order.Uint32(src[4:]),
		Dropped:     order.Uint32(src[8:]),
	}
}

// EntryHeader is the 16-byte packed per-entry record inside a
// packet's entry table.
type EntryHeader struct {
	ID            uint16
	PayloadSize   uint16
	PayloadOffset uint32 // relative to the start of PayloadArea
	Timestamp     uint64
}

func (h EntryHeader) encode(dst []byte, order binary.ByteOrder) {
	order.PutUint16(dst[0:], h.ID)
	order.PutUint16(dst[2:], h.PayloadSize)
	order.PutUint32(dst[4:], h.PayloadOffset)
	order.PutUint64(dst[8:], h.Timestamp)
}

func decodeEntryHeader(src []byte, order binary.ByteOrder) EntryHeader {
	return EntryHeader{
		ID:            order.Uint16(src[0:]),
		PayloadSize:   order.Uint16(src[2:]),
		PayloadOffset: order.Uint32(src[4:]),
		Timestamp:     order.Uint64(src[8:]),
	}
}

// byteOrderFor maps the wire Endianness tag recorded in a schema header
// to the binary.ByteOrder a collaborator needs to decode packets that
// travelled through a transport or landed in a file written by this
// producer.
func byteOrderFor(e Endianness) binary.ByteOrder {
	if e == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// DecodePacketHeader decodes the PacketHeader at the start of buf,
// using order to interpret multi-byte fields. Collaborators outside
// this package (persist/file, transport/tcp clients) use this instead
// of reaching into unexported decode helpers.
func DecodePacketHeader(buf []byte, order Endianness) PacketHeader {
	return decodePacketHeader(buf, byteOrderFor(order))
}

// DecodeEntryHeader decodes the EntryHeader at the start of buf.
func DecodeEntryHeader(buf []byte, order Endianness) EntryHeader {
	return decodeEntryHeader(buf, byteOrderFor(order))
}

// DrainPacked walks the same protocol as Drain but assembles a
// [PacketHeader | EntryHeader x N | PayloadArea] batch directly into
// buf, following the single-pass layout algorithm of spec.md §4.4:
// the entry table's worst-case size is reserved up front (since N
// isn't known until the walk completes), the payload area is appended
// immediately after, and if fewer than the worst-case entries were
// actually kept, the payload area is moved down to sit directly after
// the real, shorter table.
//
// Returns (0, ErrBufferTooSmall) if buf is smaller than one
// PacketHeader, (0, nil) if there is nothing to drain, or the total
// byte count written otherwise. PacketHeader.Dropped is the delta
// since the last packet drained for this consumer, not a cumulative
// count, so a decoder can sum incoming packets to reconstruct total
// loss (spec.md §4.4 step 6).
func (ctx *Context) DrainPacked(id ConsumerID, buf []byte) (int, error) {
	if len(buf) < sizePacketHeader {
		return 0, newErr(BufferTooSmall, "buffer smaller than PacketHeader")
	}

	ctx.mu.Lock()
	slot, err := ctx.consumerSlotLocked(id)
	if err != nil {
		ctx.mu.Unlock()
		return 0, err
	}
	cursor := slot.cursor
	filter := slot.filter
	ctx.mu.Unlock()

	capacity := ctx.ring.Capacity()
	head := ctx.ring.Head()
	oldest := oldestFor(head, capacity)
	if cursor < oldest {
		gap := oldest - cursor
		cursor = oldest
		ctx.addDropped(id, gap)
	}

	available := uint64(0)
	if head > cursor {
		available = head - cursor
	}

	maxEntries := available
	if capacity < maxEntries {
		maxEntries = capacity
	}
	tableBudget := uint64((len(buf) - sizePacketHeader) / sizeEntryHeader)
	if tableBudget < maxEntries {
		maxEntries = tableBudget
	}

	if maxEntries == 0 {
		ctx.storeCursor(id, cursor)
		return 0, nil
	}

	tableStart := sizePacketHeader
	payloadAreaStart := tableStart + int(maxEntries)*sizeEntryHeader
	payloadCapacity := len(buf) - payloadAreaStart

	order := ctx.endianness.byteOrder()

	entryCount := uint64(0)
	payloadOffset := 0
	var ev Event
	dropped := uint64(0)

	for entryCount < maxEntries && cursor < head {
		s := &ctx.ring.entries[cursor&ctx.ring.mask]
		want := cursor + 1

		seq := s.seq.Load()
		if seq != want {
			break
		}

		ev.copyFrom(s)

		seq2 := s.seq.Load()
		if seq2 != seq {
			cursor++
			dropped++
			continue
		}

		if !filter.Accepts(ev.ID) {
			cursor++
			continue
		}

		if payloadOffset+int(ev.PayloadSize) > payloadCapacity {
			break
		}

		eh := EntryHeader{
			ID:            ev.ID,
			PayloadSize:   ev.PayloadSize,
			PayloadOffset: uint32(payloadOffset),
			Timestamp:     ev.Timestamp,
		}
		ehOff := tableStart + int(entryCount)*sizeEntryHeader
		eh.encode(buf[ehOff:ehOff+sizeEntryHeader], order)

		pOff := payloadAreaStart + payloadOffset
		copy(buf[pOff:pOff+int(ev.PayloadSize)], ev.Payload[:ev.PayloadSize])

		payloadOffset += int(ev.PayloadSize)
		entryCount++
		cursor++
	}

	if entryCount < maxEntries {
		actualPayloadStart := tableStart + int(entryCount)*sizeEntryHeader
		copy(buf[actualPayloadStart:actualPayloadStart+payloadOffset], buf[payloadAreaStart:payloadAreaStart+payloadOffset])
	}

	ctx.addDropped(id, dropped)
	ctx.storeCursor(id, cursor)

	totalDropped, reported := ctx.dropState(id)
	packetDropped := totalDropped - reported
	if packetDropped > 0xFFFFFFFF {
		packetDropped = 0xFFFFFFFF
	}
	ctx.advanceDroppedReported(id, packetDropped)

	hdr := PacketHeader{
		EntryCount:  uint16(entryCount),
		Flags:       0,
		PayloadSize: uint32(payloadOffset),
		Dropped:     uint32(packetDropped),
	}
	hdr.encode(buf[0:sizePacketHeader], order)

	total := tableStart + int(entryCount)*sizeEntryHeader + payloadOffset
	return total, nil
}

func (ctx *Context) storeCursor(id ConsumerID, cursor uint64) {
	ctx.mu.Lock()
	if s, err := ctx.consumerSlotLocked(id); err == nil {
		s.cursor = cursor
	}
	ctx.mu.Unlock()
}

func (ctx *Context) dropState(id ConsumerID) (dropped, reported uint64) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if s, err := ctx.consumerSlotLocked(id); err == nil {
		return s.dropped, s.droppedReported
	}
	return 0, 0
}

func (ctx *Context) advanceDroppedReported(id ConsumerID, delta uint64) {
	ctx.mu.Lock()
	if s, err := ctx.consumerSlotLocked(id); err == nil {
		s.droppedReported += delta
	}
	ctx.mu.Unlock()
}
