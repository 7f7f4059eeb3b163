package protocol

import "errors"

// Codec failure modes, per spec.md §4.L.
var (
	ErrBadMagic       = errors.New("protocol: bad magic")
	ErrBadChecksum    = errors.New("protocol: bad header checksum")
	ErrPayloadTooLarge = errors.New("protocol: payload exceeds max data length")
	ErrUnknownType    = errors.New("protocol: unknown message type")
	ErrTruncated      = errors.New("protocol: truncated message")
)
