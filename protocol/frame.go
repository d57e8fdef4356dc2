// Package protocol implements the wire format spoken between clients and
// flowd: frame envelopes, the binary message encoding carried inside
// MessageFrame bodies, and the line-oriented command grammar clients send.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FrameType identifies the payload carried by a Frame.
type FrameType int32

const (
	FrameTypeResponse FrameType = 0
	FrameTypeError    FrameType = 1
	FrameTypeMessage  FrameType = 2
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeResponse:
		return "response"
	case FrameTypeError:
		return "error"
	case FrameTypeMessage:
		return "message"
	default:
		return fmt.Sprintf("unknown(%d)", int32(t))
	}
}

// MaxFrameBodySize bounds a single frame's body to guard against a
// corrupt or hostile size prefix driving an unbounded allocation.
const MaxFrameBodySize = 64 * 1024 * 1024

// WriteFrame writes size, type, and body as one frame: a 4-byte big-endian
// total size (type + body, 4 bytes plus len(body)), a 4-byte big-endian
// type, then body.
func WriteFrame(w io.Writer, typ FrameType, body []byte) error {
	var header [8]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(4+len(body)))
	binary.BigEndian.PutUint32(header[4:8], uint32(typ))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return err
		}
	}
	return nil
}

// WriteResponse frames body as a response frame.
func WriteResponse(w io.Writer, body []byte) error {
	return WriteFrame(w, FrameTypeResponse, body)
}

// WriteError frames code as an error frame.
func WriteError(w io.Writer, code string) error {
	return WriteFrame(w, FrameTypeError, []byte(code))
}

// WriteMessage frames an already-encoded message body as a message frame.
func WriteMessage(w io.Writer, body []byte) error {
	return WriteFrame(w, FrameTypeMessage, body)
}

// Frame is a fully decoded frame read off the wire.
type Frame struct {
	Type FrameType
	Body []byte
}

// ReadFrame reads one frame from r.
func ReadFrame(r io.Reader) (*Frame, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[0:4])
	if size < 4 {
		return nil, fmt.Errorf("protocol: frame size %d smaller than type field", size)
	}
	if size-4 > MaxFrameBodySize {
		return nil, fmt.Errorf("protocol: frame body %d exceeds max %d", size-4, MaxFrameBodySize)
	}
	typ := FrameType(binary.BigEndian.Uint32(header[4:8]))
	body := make([]byte, size-4)
	if len(body) > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, err
		}
	}
	return &Frame{Type: typ, Body: body}, nil
}
