package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
)

// MaxFrameSize bounds a single frame payload. Anything larger is
// treated as a malformed stream.
const MaxFrameSize = 16 << 20

var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// WriteFrame writes a length-prefixed frame: a 4-byte unsigned
// big-endian payload length followed by the payload bytes.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return nil
}

// ReadFrame reads one length-prefixed frame. A clean peer close before
// the first header byte returns io.EOF; a close mid-frame returns
// io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(hdr[:])
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// Conn wraps a net.Conn with framed JSON message exchange. The reader
// is buffered; writes go straight to the connection so a frame is
// visible to the peer as soon as Send returns.
type Conn struct {
	nc net.Conn
	r  *bufio.Reader
}

// NewConn wraps an established connection
func NewConn(nc net.Conn) *Conn {
	return &Conn{
		nc: nc,
		r:  bufio.NewReader(nc),
	}
}

// Dial connects to addr and wraps the connection
func Dial(addr string) (*Conn, error) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewConn(nc), nil
}

// Send encodes v and writes it as one frame
func (c *Conn) Send(v interface{}) error {
	payload, err := Encode(v)
	if err != nil {
		return err
	}
	return WriteFrame(c.nc, payload)
}

// Recv reads one frame and decodes it into v
func (c *Conn) Recv(v interface{}) error {
	payload, err := ReadFrame(c.r)
	if err != nil {
		return err
	}
	return Decode(payload, v)
}

// Call sends a request and decodes the next reply. Replies on a
// connection are FIFO, so pairing one send with one receive is a
// complete exchange.
func (c *Conn) Call(req, reply interface{}) error {
	if err := c.Send(req); err != nil {
		return err
	}
	return c.Recv(reply)
}

// RemoteAddr reports the peer address
func (c *Conn) RemoteAddr() string {
	return c.nc.RemoteAddr().String()
}

// Close closes the underlying connection
func (c *Conn) Close() error {
	return c.nc.Close()
}
