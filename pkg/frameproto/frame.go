// Package frameproto implements the length-prefixed, CRC16-checked wire
// protocol spoken by serial and TCP attached field devices.
//
// Frame layout, all multi-byte fields big-endian:
//
//	[0xAA][0x55][length:u16][type:u8][sequence:u8][payload:length bytes][crc16:u16]
//
// The CRC covers every byte from the first header byte through the end of
// the payload, excluding the CRC field itself.
package frameproto

import (
	"encoding/binary"
	"fmt"
)

const (
	Header0 = 0xAA
	Header1 = 0x55

	// MaxPayloadLen bounds the declared payload length in both directions:
	// the parser abandons frames declaring more, the builder refuses them.
	MaxPayloadLen = 1024

	// HeaderLen is header(2) + length(2) + type(1) + sequence(1).
	HeaderLen = 6
	crcLen    = 2
)

// Message type codes.
const (
	MsgTypeMetricReport  byte = 0x01
	MsgTypeMetricRequest byte = 0x02
	MsgTypeCommand       byte = 0x03
	MsgTypeCommandAck    byte = 0x04
	MsgTypeHeartbeat     byte = 0x05
)

// Message is the logical unit carried by one frame.
type Message struct {
	Type     byte
	Sequence byte
	Payload  []byte
}

// ErrPayloadTooLarge is returned by BuildFrame for oversized payloads.
var ErrPayloadTooLarge = fmt.Errorf("frameproto: payload exceeds %d bytes", MaxPayloadLen)

// CRC16 computes CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF) over data.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// BuildFrame serializes m into a transmit-ready frame, appending the CRC16
// of everything that precedes it.
func BuildFrame(m Message) ([]byte, error) {
	if len(m.Payload) > MaxPayloadLen {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, HeaderLen+len(m.Payload)+crcLen)
	buf[0] = Header0
	buf[1] = Header1
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(m.Payload)))
	buf[4] = m.Type
	buf[5] = m.Sequence
	copy(buf[HeaderLen:], m.Payload)
	crc := CRC16(buf[:HeaderLen+len(m.Payload)])
	binary.BigEndian.PutUint16(buf[HeaderLen+len(m.Payload):], crc)
	return buf, nil
}
