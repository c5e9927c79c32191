// Copyright (c) 2025 Joshua Skootsky
//
// Licensed under the Business Source License 1.1
// You may use this file only in compliance with one of:
// 1. BSL-1.1 (non-production use is free)
// 2. Commercial License (contact for pricing)
//
// After 4 years (2029-01-01), this becomes Apache-2.0

// Package file is the default persistence collaborator spec.md
// describes as "out of scope" for the core: a thin sink that writes a
// schema blob once, appends packed batches as they drain, and closes
// out a .btlm file with a footer index so a reader can iterate packets
// without re-parsing the whole file. It owns no ring/consumer logic of
// its own; every byte it writes comes from a btelem.Context.
package file

import (
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/JoshuaSkootsky/btelem"
)

// File-level constants. These fix the .btlm wire format; changing any
// of them changes files written by prior versions.
const (
	magic           = "BTLM"
	formatVersion   = uint16(1)
	footerMagic     = uint32(0x494C5442)
	headerSize      = 10
	indexEntrySize  = 28
	indexFooterSize = 16
)

// order is the byte order for every file-structural field (header,
// index, footer). It is independent of the schema blob's own
// endianness tag, which is embedded in the blob itself.
var order = binary.LittleEndian

// IndexEntry is the 28-byte per-packet footer record: enough to seek
// directly to a packet and to verify it without re-scanning prior
// packets.
type IndexEntry struct {
	PacketOffset   uint64
	PacketLen      uint32
	EntryCount     uint32
	FirstTimestamp uint64
	Checksum       uint32
}

func encodeIndexEntry(dst []byte, e IndexEntry) {
	order.PutUint64(dst[0:], e.PacketOffset)
	order.PutUint32(dst[8:], e.PacketLen)
	order.PutUint32(dst[12:], e.EntryCount)
	order.PutUint64(dst[16:], e.FirstTimestamp)
	order.PutUint32(dst[24:], e.Checksum)
}

func decodeIndexEntry(src []byte) IndexEntry {
	return IndexEntry{
		PacketOffset:   order.Uint64(src[0:]),
		PacketLen:      order.Uint32(src[8:]),
		EntryCount:     order.Uint32(src[12:]),
		FirstTimestamp: order.Uint64(src[16:]),
		Checksum:       order.Uint32(src[24:]),
	}
}

// IndexFooter is the 16-byte trailer: where the index starts, how
// many entries it holds, and a magic value a reader checks before
// trusting either.
type IndexFooter struct {
	IndexOffset uint64
	EntryCount  uint32
	Magic       uint32
}

func encodeIndexFooter(dst []byte, f IndexFooter) {
	order.PutUint64(dst[0:], f.IndexOffset)
	order.PutUint32(dst[8:], f.EntryCount)
	order.PutUint32(dst[12:], f.Magic)
}

func decodeIndexFooter(src []byte) IndexFooter {
	return IndexFooter{
		IndexOffset: order.Uint64(src[0:]),
		EntryCount:  order.Uint32(src[8:]),
		Magic:       order.Uint32(src[12:]),
	}
}

// checksum is the file collaborator's packet checksum: the low 32
// bits of an xxhash64 digest over the raw packet bytes.
func checksum(packet []byte) uint32 {
	return uint32(xxhash.Sum64(packet))
}

// Writer appends packed batches to a .btlm file and writes the footer
// index on Close. WritePacket and Close hold an internal mutex, so
// calls from several goroutines are serialized; packets land in the
// file in the order those calls acquire it.
type Writer struct {
	mu        sync.Mutex
	f         *os.File
	endian    btelem.Endianness
	offset    uint64
	entries   []IndexEntry
	logger    log.Logger
	sessionID uuid.UUID
	closed    bool
}

// WriterOption mutates Writer construction.
type WriterOption func(*Writer)

// WithLogger overrides the writer's go-kit logger.
func WithLogger(l log.Logger) WriterOption {
	return func(w *Writer) { w.logger = l }
}

// Create opens path for writing and emits the FileHeader followed by
// ctx's current schema blob. The schema is captured once, at open
// time; schemas registered on ctx after Create has no effect on this
// file.
func Create(path string, ctx *btelem.Context, opts ...WriterOption) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "btelem/file: create %s", path)
	}

	w := &Writer{
		f:         f,
		endian:    ctx.Endianness(),
		logger:    log.NewNopLogger(),
		sessionID: uuid.New(),
	}
	for _, opt := range opts {
		opt(w)
	}

	n, err := ctx.SerializeSchema(nil)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "btelem/file: query schema size")
	}
	blob := make([]byte, n)
	if _, err := ctx.SerializeSchema(blob); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "btelem/file: serialize schema")
	}

	header := make([]byte, headerSize)
	copy(header[0:4], magic)
	order.PutUint16(header[4:], formatVersion)
	order.PutUint32(header[6:], uint32(len(blob)))

	if _, err := f.Write(header); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "btelem/file: write header")
	}
	if _, err := f.Write(blob); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "btelem/file: write schema blob")
	}
	w.offset = uint64(headerSize + len(blob))

	level.Info(w.logger).Log("msg", "file opened", "path", path, "session", w.sessionID.String())
	return w, nil
}

// SessionID identifies this writer's lifetime for logging; it is not
// part of the on-disk format, whose fixed 10-byte header has no room
// for one.
func (w *Writer) SessionID() uuid.UUID {
	return w.sessionID
}

// WritePacket appends the bytes of one packed batch (as produced by
// Context.DrainPacked) and records its footer entry. packet must begin
// with a valid PacketHeader.
func (w *Writer) WritePacket(packet []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(packet) < 16 {
		return errors.Errorf("btelem/file: packet too short to contain a header (%d bytes)", len(packet))
	}
	ph := btelem.DecodePacketHeader(packet, w.endian)

	var firstTimestamp uint64
	if ph.EntryCount > 0 {
		entryOff := 16
		if entryOff+16 <= len(packet) {
			eh := btelem.DecodeEntryHeader(packet[entryOff:], w.endian)
			firstTimestamp = eh.Timestamp
		}
	}

	offset := w.offset
	if _, err := w.f.Write(packet); err != nil {
		return errors.Wrapf(err, "btelem/file: write packet at offset %d", offset)
	}
	w.offset += uint64(len(packet))

	w.entries = append(w.entries, IndexEntry{
		PacketOffset:   offset,
		PacketLen:      uint32(len(packet)),
		EntryCount:     uint32(ph.EntryCount),
		FirstTimestamp: firstTimestamp,
		Checksum:       checksum(packet),
	})
	return nil
}

// Close writes the footer index and closes the underlying file. Close
// is idempotent; calling it a second time is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	indexOffset := w.offset
	for _, e := range w.entries {
		buf := make([]byte, indexEntrySize)
		encodeIndexEntry(buf, e)
		if _, err := w.f.Write(buf); err != nil {
			w.f.Close()
			return errors.Wrap(err, "btelem/file: write index entry")
		}
	}

	footer := make([]byte, indexFooterSize)
	encodeIndexFooter(footer, IndexFooter{
		IndexOffset: indexOffset,
		EntryCount:  uint32(len(w.entries)),
		Magic:       footerMagic,
	})
	if _, err := w.f.Write(footer); err != nil {
		w.f.Close()
		return errors.Wrap(err, "btelem/file: write footer")
	}

	level.Info(w.logger).Log("msg", "file closed", "session", w.sessionID.String(), "packets", len(w.entries))
	return w.f.Close()
}

// Reader opens a .btlm file for introspection: the schema blob, the
// footer index, and random-access reads of individual packets by
// IndexEntry.
type Reader struct {
	f          *os.File
	schemaBlob []byte
	entries    []IndexEntry
}

// Open reads path's header, schema blob, and footer index eagerly;
// packet bodies are read lazily via ReadPacket.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "btelem/file: open %s", path)
	}

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(f, header); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "btelem/file: read header")
	}
	if string(header[0:4]) != magic {
		f.Close()
		return nil, errors.Errorf("btelem/file: bad magic %q", header[0:4])
	}
	version := order.Uint16(header[4:])
	if version != formatVersion {
		f.Close()
		return nil, errors.Errorf("btelem/file: unsupported version %d", version)
	}
	schemaLen := order.Uint32(header[6:])

	blob := make([]byte, schemaLen)
	if _, err := io.ReadFull(f, blob); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "btelem/file: read schema blob")
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "btelem/file: stat")
	}
	if info.Size() < int64(indexFooterSize) {
		f.Close()
		return nil, errors.New("btelem/file: file too short for a footer")
	}

	footerBuf := make([]byte, indexFooterSize)
	if _, err := f.ReadAt(footerBuf, info.Size()-int64(indexFooterSize)); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "btelem/file: read footer")
	}
	footer := decodeIndexFooter(footerBuf)
	if footer.Magic != footerMagic {
		f.Close()
		return nil, errors.Errorf("btelem/file: bad footer magic %#x", footer.Magic)
	}

	entries := make([]IndexEntry, footer.EntryCount)
	entryBuf := make([]byte, indexEntrySize)
	for i := uint32(0); i < footer.EntryCount; i++ {
		off := int64(footer.IndexOffset) + int64(i)*indexEntrySize
		if _, err := f.ReadAt(entryBuf, off); err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "btelem/file: read index entry %d", i)
		}
		entries[i] = decodeIndexEntry(entryBuf)
	}

	return &Reader{f: f, schemaBlob: blob, entries: entries}, nil
}

// SchemaBlob returns the raw schema blob captured at write time.
func (r *Reader) SchemaBlob() []byte {
	return r.schemaBlob
}

// Entries returns the footer index in packet order.
func (r *Reader) Entries() []IndexEntry {
	return r.entries
}

// ReadPacket reads the packet bytes described by e.
func (r *Reader) ReadPacket(e IndexEntry) ([]byte, error) {
	buf := make([]byte, e.PacketLen)
	if _, err := r.f.ReadAt(buf, int64(e.PacketOffset)); err != nil {
		return nil, errors.Wrapf(err, "btelem/file: read packet at offset %d", e.PacketOffset)
	}
	return buf, nil
}

// VerifyChecksum reports whether packet's checksum matches e.Checksum.
func VerifyChecksum(e IndexEntry, packet []byte) bool {
	return checksum(packet) == e.Checksum
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.f.Close()
}
