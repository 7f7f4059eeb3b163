package protocol

import (
	"fmt"
	"io"
	"time"
)

// Message is a fully decoded frame: header plus raw payload bytes.
type Message struct {
	Header  Header
	Payload []byte
}

// WriteMessage serializes payload with a freshly computed header (length,
// timestamp, checksum) and writes header then payload as a single call
// sequence. Callers must serialize writes to the same sink themselves (the
// session write mutex, per spec.md §5) — WriteMessage does not lock.
func WriteMessage(w io.Writer, msgType MessageType, correlationID uint32, flags Flags, payload []byte) error {
	if len(payload) > MaxDataLength {
		return ErrPayloadTooLarge
	}
	h := Header{
		Magic:         Magic,
		Type:          msgType,
		Flags:         flags,
		DataLength:    uint32(len(payload)),
		CorrelationID: correlationID,
		TimestampMs:   uint64(time.Now().UnixMilli()),
	}
	if _, err := w.Write(h.Encode()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// ReadMessage reads exactly one frame from r, retrying on short reads via
// io.ReadFull, and validates magic/checksum/length/type before returning
// the payload.
func ReadMessage(r io.Reader) (Message, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Message{}, ErrTruncated
		}
		return Message{}, err
	}

	h := DecodeHeader(headerBuf)
	if h.Magic != Magic {
		return Message{}, ErrBadMagic
	}
	if h.Checksum != expectedChecksum(headerBuf) {
		return Message{}, ErrBadChecksum
	}
	if h.DataLength > MaxDataLength {
		return Message{}, ErrPayloadTooLarge
	}
	if !h.Type.IsKnown() {
		return Message{}, ErrUnknownType
	}

	payload := make([]byte, h.DataLength)
	if h.DataLength > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if err == io.ErrUnexpectedEOF {
				return Message{}, ErrTruncated
			}
			return Message{}, err
		}
	}

	return Message{Header: h, Payload: payload}, nil
}
