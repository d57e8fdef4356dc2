package protocol

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageIDLength is the fixed width of a message's wire identifier.
const MessageIDLength = 16

// MessageID is the fixed-width identifier carried on the wire and used as
// the in-flight tracking key.
type MessageID [MessageIDLength]byte

func (id MessageID) String() string {
	return fmt.Sprintf("%x", id[:])
}

// NewMessageID generates a fresh random message identifier.
func NewMessageID() MessageID {
	var id MessageID
	u := uuid.New()
	copy(id[:], u[:])
	return id
}

// Message is a single unit of data flowing through a topic/channel pair.
type Message struct {
	ID        MessageID
	Timestamp time.Time
	Attempts  uint16
	Body      []byte
}

// NewMessage builds a fresh message with a generated ID and the current
// time. Attempts starts at 1: it counts delivery attempts, not requeues,
// so the first time a message goes out over the wire it already carries
// attempt 1.
func NewMessage(body []byte) *Message {
	return &Message{
		ID:        NewMessageID(),
		Timestamp: time.Now(),
		Attempts:  1,
		Body:      body,
	}
}

// WireSize is the encoded size of m: 8-byte timestamp + 2-byte attempts +
// 16-byte id + body.
func (m *Message) WireSize() int {
	return 8 + 2 + MessageIDLength + len(m.Body)
}

// Encode serializes m per the wire layout: an 8-byte big-endian
// nanosecond timestamp, a 2-byte big-endian attempt count, the 16-byte
// id, then the raw body.
func (m *Message) Encode() []byte {
	buf := make([]byte, m.WireSize())
	binary.BigEndian.PutUint64(buf[0:8], uint64(m.Timestamp.UnixNano()))
	binary.BigEndian.PutUint16(buf[8:10], m.Attempts)
	copy(buf[10:10+MessageIDLength], m.ID[:])
	copy(buf[10+MessageIDLength:], m.Body)
	return buf
}

// DecodeMessage parses a message from its wire encoding.
func DecodeMessage(data []byte) (*Message, error) {
	minLen := 8 + 2 + MessageIDLength
	if len(data) < minLen {
		return nil, fmt.Errorf("protocol: message body too short: %d < %d", len(data), minLen)
	}
	ts := int64(binary.BigEndian.Uint64(data[0:8]))
	attempts := binary.BigEndian.Uint16(data[8:10])
	var id MessageID
	copy(id[:], data[10:10+MessageIDLength])
	body := append([]byte(nil), data[10+MessageIDLength:]...)
	return &Message{
		ID:        id,
		Timestamp: time.Unix(0, ts),
		Attempts:  attempts,
		Body:      body,
	}, nil
}
