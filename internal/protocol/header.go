package protocol

import (
	"encoding/binary"
	"hash/crc32"
)

// Magic is the fixed protocol magic number ("CCEE" packed into a u32),
// matching original_source/common/protocol.h's PROTOCOL_MAGIC.
const Magic uint32 = 0x43434545

// HeaderSize is the encoded size of Header: u32+u16+u16+u32+u32+u64+u32.
const HeaderSize = 4 + 2 + 2 + 4 + 4 + 8 + 4

// MaxDataLength is the largest payload a single message may carry.
const MaxDataLength = 16 * 1024 * 1024

// Header is the fixed-size frame header preceding every message's payload.
type Header struct {
	Magic         uint32
	Type          MessageType
	Flags         Flags
	DataLength    uint32
	CorrelationID uint32
	TimestampMs   uint64
	Checksum      uint32
}

// Encode serializes h into a HeaderSize-byte big-endian buffer with a fresh
// checksum computed over the header with the checksum field zeroed.
func (h Header) Encode() []byte {
	h.Checksum = 0
	buf := make([]byte, HeaderSize)
	encodeHeaderInto(buf, h)
	h.Checksum = crc32.ChecksumIEEE(buf)
	binary.BigEndian.PutUint32(buf[HeaderSize-4:], h.Checksum)
	return buf
}

func encodeHeaderInto(buf []byte, h Header) {
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], uint16(h.Type))
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Flags))
	binary.BigEndian.PutUint32(buf[8:12], h.DataLength)
	binary.BigEndian.PutUint32(buf[12:16], h.CorrelationID)
	binary.BigEndian.PutUint64(buf[16:24], h.TimestampMs)
	binary.BigEndian.PutUint32(buf[24:28], h.Checksum)
}

// DecodeHeader parses a HeaderSize-byte buffer into a Header without
// validating it; ReadMessage checks the magic, length, type and checksum
// itself after decoding.
func DecodeHeader(buf []byte) Header {
	return Header{
		Magic:         binary.BigEndian.Uint32(buf[0:4]),
		Type:          MessageType(binary.BigEndian.Uint16(buf[4:6])),
		Flags:         Flags(binary.BigEndian.Uint16(buf[6:8])),
		DataLength:    binary.BigEndian.Uint32(buf[8:12]),
		CorrelationID: binary.BigEndian.Uint32(buf[12:16]),
		TimestampMs:   binary.BigEndian.Uint64(buf[16:24]),
		Checksum:      binary.BigEndian.Uint32(buf[24:28]),
	}
}

// expectedChecksum recomputes the checksum a valid encoding of h (as
// contained in buf) must carry, by zeroing the checksum field of a copy of
// the raw bytes and hashing that.
func expectedChecksum(buf []byte) uint32 {
	tmp := make([]byte, HeaderSize)
	copy(tmp, buf)
	binary.BigEndian.PutUint32(tmp[HeaderSize-4:], 0)
	return crc32.ChecksumIEEE(tmp)
}
