package protocol

import (
	"bytes"
	"testing"
)

func TestWriteMessageThenReadMessageRoundTrips(t *testing.T) {
	t.Parallel()

	hello := HelloPayload{
		ClientVersionMajor: 1,
		ClientVersionMinor: 2,
		ClientVersionPatch: 3,
		Capabilities:       0x0007,
		ClientName:         "gotest-client",
		ClientPlatform:     "linux/amd64",
	}
	payload, err := hello.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteMessage(&buf, MsgHello, 42, 0, payload); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	msg, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msg.Header.Type != MsgHello {
		t.Errorf("Type = %v, want MsgHello", msg.Header.Type)
	}
	if msg.Header.CorrelationID != 42 {
		t.Errorf("CorrelationID = %d, want 42", msg.Header.CorrelationID)
	}

	got, err := UnmarshalHello(msg.Payload)
	if err != nil {
		t.Fatalf("UnmarshalHello: %v", err)
	}
	if got != hello {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, hello)
	}
}

func TestReadMessageRejectsBadMagic(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := WriteMessage(&buf, MsgPing, 1, 0, nil); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	corrupted := buf.Bytes()
	corrupted[0] ^= 0xFF

	if _, err := ReadMessage(bytes.NewReader(corrupted)); err != ErrBadMagic {
		t.Errorf("err = %v, want ErrBadMagic", err)
	}
}

func TestReadMessageRejectsCorruptedChecksum(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := WriteMessage(&buf, MsgPing, 1, 0, nil); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	corrupted := buf.Bytes()
	// Flip a byte inside the header but leave the magic untouched.
	corrupted[6] ^= 0xFF

	if _, err := ReadMessage(bytes.NewReader(corrupted)); err != ErrBadChecksum {
		t.Errorf("err = %v, want ErrBadChecksum", err)
	}
}

func TestReadMessageRejectsUnknownType(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := WriteMessage(&buf, MessageType(9999), 1, 0, nil); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	if _, err := ReadMessage(&buf); err != ErrUnknownType {
		t.Errorf("err = %v, want ErrUnknownType", err)
	}
}

func TestReadMessageRejectsOversizedLength(t *testing.T) {
	t.Parallel()

	h := Header{Magic: Magic, Type: MsgPing, DataLength: MaxDataLength + 1}
	buf := bytes.NewBuffer(h.Encode())

	if _, err := ReadMessage(buf); err != ErrPayloadTooLarge {
		t.Errorf("err = %v, want ErrPayloadTooLarge", err)
	}
}

func TestReadMessageRejectsTruncatedFrame(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	payload := []byte("truncated body")
	if err := WriteMessage(&buf, MsgHello, 1, 0, payload); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	short := buf.Bytes()[:HeaderSize+len(payload)-3]

	if _, err := ReadMessage(bytes.NewReader(short)); err != ErrTruncated {
		t.Errorf("err = %v, want ErrTruncated", err)
	}
}

func TestWriteMessageRejectsOversizedPayload(t *testing.T) {
	t.Parallel()

	oversized := make([]byte, MaxDataLength+1)
	if err := WriteMessage(&bytes.Buffer{}, MsgResultResponse, 1, 0, oversized); err != ErrPayloadTooLarge {
		t.Errorf("err = %v, want ErrPayloadTooLarge", err)
	}
}

func TestCorrelationIDIsPreservedAcrossMultipleFrames(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ids := []uint32{1, 2, 100, 4294967295}
	for _, id := range ids {
		if err := WriteMessage(&buf, MsgPing, id, 0, nil); err != nil {
			t.Fatalf("WriteMessage(%d): %v", id, err)
		}
	}
	for _, want := range ids {
		msg, err := ReadMessage(&buf)
		if err != nil {
			t.Fatalf("ReadMessage: %v", err)
		}
		if msg.Header.CorrelationID != want {
			t.Errorf("CorrelationID = %d, want %d", msg.Header.CorrelationID, want)
		}
	}
}
