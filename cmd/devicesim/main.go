// devicesim is a TCP stand-in for a frame-protocol field device. It answers
// metric requests with slightly jittered readings and acknowledges every
// command, which is enough to exercise the bridge end to end without
// hardware.
package main

import (
	"flag"
	"log"
	"math/rand"
	"net"

	"station-bridge/internal/adapters/frameio"
	"station-bridge/pkg/frameproto"
)

// Simulated readings keyed by record code. Codes match the example bridge
// config: 1 temperature, 2 voltage, 3 current, 4 power output.
var baseline = map[uint8]float32{
	1: 36.5,
	2: 48.0,
	3: 3.2,
	4: 120.0,
}

func main() {
	var addr string
	flag.StringVar(&addr, "listen", ":9500", "listen address")
	flag.Parse()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("listen %s: %v", addr, err)
	}
	log.Printf("devicesim listening on %s", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Fatalf("accept: %v", err)
		}
		go serve(conn)
	}
}

func serve(conn net.Conn) {
	defer conn.Close()
	log.Printf("device link up: %s", conn.RemoteAddr())

	parser := frameproto.NewParser()
	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			log.Printf("device link down: %s: %v", conn.RemoteAddr(), err)
			return
		}
		for _, b := range buf[:n] {
			if !parser.ParseByte(b) {
				continue
			}
			req, _ := parser.GetMessage()
			parser.Reset()
			if err := respond(conn, req); err != nil {
				log.Printf("respond: %v", err)
				return
			}
		}
	}
}

func respond(conn net.Conn, req frameproto.Message) error {
	var resp frameproto.Message
	switch req.Type {
	case frameproto.MsgTypeMetricRequest:
		resp = frameproto.Message{
			Type:     frameproto.MsgTypeMetricReport,
			Sequence: req.Sequence,
			Payload:  report(req.Payload),
		}
	case frameproto.MsgTypeCommand:
		log.Printf("command received: %x", req.Payload)
		resp = frameproto.Message{
			Type:     frameproto.MsgTypeCommandAck,
			Sequence: req.Sequence,
			Payload:  append([]byte{0}, []byte("ok")...),
		}
	case frameproto.MsgTypeHeartbeat:
		resp = frameproto.Message{Type: frameproto.MsgTypeHeartbeat, Sequence: req.Sequence}
	default:
		log.Printf("ignoring frame type 0x%02x", req.Type)
		return nil
	}

	frame, err := frameproto.BuildFrame(resp)
	if err != nil {
		return err
	}
	_, err = conn.Write(frame)
	return err
}

// report encodes either the single requested code or the full baseline set.
func report(requested []byte) []byte {
	jitter := func(v float32) float32 {
		return v + (rand.Float32()-0.5)*v*0.02
	}
	var payload []byte
	if len(requested) == 1 {
		if v, ok := baseline[requested[0]]; ok {
			payload = frameio.EncodeMetricRecord(payload, requested[0], jitter(v))
		}
		return payload
	}
	for code, v := range baseline {
		payload = frameio.EncodeMetricRecord(payload, code, jitter(v))
	}
	return payload
}
