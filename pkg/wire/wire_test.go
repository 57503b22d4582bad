package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	payload := []byte(`{"cmd":"GET","key":"k1"}`)
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("Failed to write frame: %v", err)
	}

	// Header is 4 bytes big-endian length
	hdr := buf.Bytes()[:4]
	if got := binary.BigEndian.Uint32(hdr); got != uint32(len(payload)) {
		t.Errorf("Expected length %d, got %d", len(payload), got)
	}

	out, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Errorf("Expected payload %q, got %q", payload, out)
	}
}

func TestReadFrameEOF(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil))
	if err != io.EOF {
		t.Errorf("Expected io.EOF on empty stream, got %v", err)
	}
}

func TestReadFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("hello world")); err != nil {
		t.Fatalf("Failed to write frame: %v", err)
	}

	// Drop the last byte of the payload
	truncated := buf.Bytes()[:buf.Len()-1]

	_, err := ReadFrame(bytes.NewReader(truncated))
	if err != io.ErrUnexpectedEOF {
		t.Errorf("Expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], MaxFrameSize+1)

	_, err := ReadFrame(bytes.NewReader(hdr[:]))
	if err != ErrFrameTooLarge {
		t.Errorf("Expected ErrFrameTooLarge, got %v", err)
	}
}

func TestPartialReadsRejoined(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte(`{"status":"OK"}`)); err != nil {
		t.Fatalf("Failed to write frame: %v", err)
	}

	// Deliver the frame one byte at a time
	out, err := ReadFrame(iotest{r: &buf})
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	if string(out) != `{"status":"OK"}` {
		t.Errorf("Unexpected payload: %q", out)
	}
}

// iotest returns at most one byte per Read call
type iotest struct {
	r io.Reader
}

func (s iotest) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return s.r.Read(p)
}

func TestNodeRequestEncoding(t *testing.T) {
	v := "v1"
	req := NodeRequest{Cmd: CmdPut, Key: "k1", Value: &v, TxID: "tx-9"}

	data, err := Encode(req)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}

	var decoded NodeRequest
	if err := Decode(data, &decoded); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}

	if decoded.Cmd != CmdPut || decoded.Key != "k1" || decoded.TxID != "tx-9" {
		t.Errorf("Round trip mismatch: %+v", decoded)
	}
	if decoded.Value == nil || *decoded.Value != "v1" {
		t.Errorf("Expected value 'v1', got %v", decoded.Value)
	}
}

func TestValueReplyNullValue(t *testing.T) {
	data, err := Encode(NewValueReply(nil))
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}

	// Absent must be an explicit null, not a missing field
	if !bytes.Contains(data, []byte(`"value":null`)) {
		t.Errorf("Expected explicit null value, got %s", data)
	}

	var reply Reply
	if err := Decode(data, &reply); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if reply.Status != StatusOK {
		t.Errorf("Expected status OK, got %q", reply.Status)
	}
	if reply.Value != nil {
		t.Errorf("Expected nil value, got %v", reply.Value)
	}
}

func TestLockedReply(t *testing.T) {
	data, err := Encode(NewLockedReply("tx-3"))
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}

	var reply Reply
	if err := Decode(data, &reply); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}

	if reply.Status != StatusLocked {
		t.Errorf("Expected status LOCKED, got %q", reply.Status)
	}
	if reply.Owner != "tx-3" {
		t.Errorf("Expected owner 'tx-3', got %q", reply.Owner)
	}
}

func TestConnCall(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		sc := NewConn(server)
		var req CoordRequest
		if err := sc.Recv(&req); err != nil {
			return
		}
		if req.Cmd == CmdStartTx {
			sc.Send(NewTxReply(StatusOK, 7))
		}
	}()

	cc := NewConn(client)
	var reply Reply
	if err := cc.Call(&CoordRequest{Cmd: CmdStartTx}, &reply); err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	if reply.Status != StatusOK {
		t.Errorf("Expected status OK, got %q", reply.Status)
	}
	if reply.TxID != 7 {
		t.Errorf("Expected tx_id 7, got %d", reply.TxID)
	}
}
