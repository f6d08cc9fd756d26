package frameproto

import "encoding/binary"

// State tracks decode progress of exactly one in-flight frame.
type State int

const (
	StateIdle State = iota
	StateHeader1
	StateLength
	StateType
	StateSequence
	StatePayload
	StateCRC
)

// Parser is a resumable byte-at-a-time frame decoder. It tolerates data
// arriving in arbitrarily small chunks and resynchronizes silently on
// garbage, oversized lengths and CRC failures; a noisy line must not take
// the reader down.
//
// A Parser belongs to exactly one reader goroutine per physical connection.
// It is not internally synchronized.
type Parser struct {
	state      State
	buf        []byte
	payloadLen int
	crcBuf     [crcLen]byte
	crcGot     int
	complete   bool
	crcErrors  uint64
}

func NewParser() *Parser {
	return &Parser{buf: make([]byte, 0, HeaderLen+MaxPayloadLen)}
}

// Reset discards any in-flight frame and returns to Idle. It must be called
// between frames; the CRC error counter survives.
func (p *Parser) Reset() {
	p.state = StateIdle
	p.buf = p.buf[:0]
	p.payloadLen = 0
	p.crcGot = 0
	p.complete = false
}

// State reports the current decode state.
func (p *Parser) State() State { return p.state }

// CRCErrors reports how many frames were rejected for CRC mismatch since
// the parser was created.
func (p *Parser) CRCErrors() uint64 { return p.crcErrors }

// ParseByte consumes one byte of the stream. It returns true exactly when a
// frame completes with a valid CRC; the frame is then available from
// GetMessage until Reset.
func (p *Parser) ParseByte(b byte) bool {
	if p.complete {
		// The caller fed more bytes without collecting the finished frame.
		// Discard it and resynchronize rather than corrupting state.
		p.Reset()
	}
	switch p.state {
	case StateIdle:
		if b == Header0 {
			p.buf = append(p.buf[:0], b)
			p.state = StateHeader1
		}

	case StateHeader1:
		switch b {
		case Header1:
			p.buf = append(p.buf, b)
			p.state = StateLength
		case Header0:
			// Another candidate start byte: restart buffering from it.
			p.buf = append(p.buf[:0], b)
		default:
			p.Reset()
		}

	case StateLength:
		p.buf = append(p.buf, b)
		if len(p.buf) == 4 {
			length := int(binary.BigEndian.Uint16(p.buf[2:4]))
			if length > MaxPayloadLen {
				// Protocol-level resync, not an error.
				p.Reset()
				return false
			}
			p.payloadLen = length
			p.state = StateType
		}

	case StateType:
		p.buf = append(p.buf, b)
		p.state = StateSequence

	case StateSequence:
		p.buf = append(p.buf, b)
		if p.payloadLen == 0 {
			p.state = StateCRC
		} else {
			p.state = StatePayload
		}

	case StatePayload:
		p.buf = append(p.buf, b)
		if len(p.buf) == HeaderLen+p.payloadLen {
			p.state = StateCRC
		}

	case StateCRC:
		p.crcBuf[p.crcGot] = b
		p.crcGot++
		if p.crcGot < crcLen {
			return false
		}
		received := binary.BigEndian.Uint16(p.crcBuf[:])
		if received != CRC16(p.buf) {
			p.crcErrors++
			p.Reset()
			return false
		}
		p.complete = true
		return true
	}
	return false
}

// GetMessage extracts the completed frame. It returns false if no frame has
// completed since the last Reset. The payload is copied out, so the caller
// may hold it across Reset.
func (p *Parser) GetMessage() (Message, bool) {
	if !p.complete {
		return Message{}, false
	}
	m := Message{
		Type:     p.buf[4],
		Sequence: p.buf[5],
	}
	if p.payloadLen > 0 {
		m.Payload = make([]byte, p.payloadLen)
		copy(m.Payload, p.buf[HeaderLen:])
	}
	return m, true
}

// Parse feeds buf through a fresh parse cycle byte by byte and collects
// every frame that completes with a valid CRC, silently skipping malformed
// ones. The parser is reset after each completed frame and left mid-frame
// if buf ends inside one, so a follow-up call continues where this left off.
func (p *Parser) Parse(buf []byte) []Message {
	var out []Message
	for _, b := range buf {
		if p.ParseByte(b) {
			if m, ok := p.GetMessage(); ok {
				out = append(out, m)
			}
			p.Reset()
		}
	}
	return out
}

// Parse decodes every valid frame in buf using a throwaway parser.
func Parse(buf []byte) []Message {
	return NewParser().Parse(buf)
}
