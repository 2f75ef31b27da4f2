// Package msg defines the messages exchanged by the agreement algorithm and
// their wire encodings. All multibyte integers on the wire are big-endian.
package msg

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	byzantineMessageType = 1
	ackType              = 2

	// Wire layouts. A ByzantineMessage is type(4) | size(4) | round(4) |
	// order(4) followed by 4 bytes per chain id. An Ack is type(4) |
	// size(4) | round(4).
	messageHeaderSize = 16
	ackSize           = 12

	// MaxDatagramSize bounds inbound datagrams. It admits chains up to
	// (1024-16)/4 = 252 ids.
	MaxDatagramSize = 1024
)

// Message is a single message of the agreement algorithm: the order it
// carries and the chain of process ids it has been forwarded through, the
// commander first. A round-r message carries a chain of r+1 ids.
type Message struct {
	Round uint32
	Order Order
	IDs   []uint32
}

func (m Message) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "{round: %d, order: %s, ids: <", m.Round, m.Order)
	for i, id := range m.IDs {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d", id)
	}
	b.WriteString(">}")
	return b.String()
}

// EncodeMessage encodes m into its wire format.
func EncodeMessage(m Message) []byte {
	buf := make([]byte, messageHeaderSize+4*len(m.IDs))
	binary.BigEndian.PutUint32(buf[0:4], byzantineMessageType)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(buf)))
	binary.BigEndian.PutUint32(buf[8:12], m.Round)
	binary.BigEndian.PutUint32(buf[12:16], uint32(m.Order))
	for i, id := range m.IDs {
		binary.BigEndian.PutUint32(buf[messageHeaderSize+4*i:], id)
	}
	return buf
}

// DecodeMessage decodes a Message from buf. The second return value is false
// when buf is shorter than the message header, when the embedded size does
// not match the buffer, when the type tag is wrong, or when the order value
// is out of range.
func DecodeMessage(buf []byte) (Message, bool) {
	if len(buf) < messageHeaderSize {
		return Message{}, false
	}
	if binary.BigEndian.Uint32(buf[0:4]) != byzantineMessageType {
		return Message{}, false
	}
	if binary.BigEndian.Uint32(buf[4:8]) != uint32(len(buf)) {
		return Message{}, false
	}
	m := Message{
		Round: binary.BigEndian.Uint32(buf[8:12]),
		Order: Order(binary.BigEndian.Uint32(buf[12:16])),
	}
	if !m.Order.Valid() {
		return Message{}, false
	}
	m.IDs = make([]uint32, (len(buf)-messageHeaderSize)/4)
	for i := range m.IDs {
		m.IDs[i] = binary.BigEndian.Uint32(buf[messageHeaderSize+4*i:])
	}
	return m, true
}

// EncodeAck encodes an acknowledgement for the given round.
func EncodeAck(round uint32) []byte {
	buf := make([]byte, ackSize)
	binary.BigEndian.PutUint32(buf[0:4], ackType)
	binary.BigEndian.PutUint32(buf[4:8], ackSize)
	binary.BigEndian.PutUint32(buf[8:12], round)
	return buf
}

// DecodeAck decodes an acknowledgement and returns its round number. The
// second return value is false unless buf is exactly an Ack.
func DecodeAck(buf []byte) (uint32, bool) {
	if len(buf) != ackSize {
		return 0, false
	}
	if binary.BigEndian.Uint32(buf[0:4]) != ackType {
		return 0, false
	}
	return binary.BigEndian.Uint32(buf[8:12]), true
}
