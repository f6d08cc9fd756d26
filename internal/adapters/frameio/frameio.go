// Package frameio carries the request/response plumbing shared by the
// frame-protocol transports: one frame out, read the stream until one valid
// frame comes back, plus the metric record payload codec.
package frameio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"station-bridge/pkg/adapter"
	"station-bridge/pkg/frameproto"
)

// RecordLen is the size of one metric record in a report payload:
// [code:u8][raw:f32 BE].
const RecordLen = 5

// Exchange writes req and feeds the reply stream through parser until one
// frame completes with a valid CRC. The transport's own read timeout bounds
// each Read; ctx is checked between reads so cancellation wins over a
// chatty-but-useless line.
func Exchange(ctx context.Context, conn io.ReadWriter, parser *frameproto.Parser, req frameproto.Message) (frameproto.Message, error) {
	frame, err := frameproto.BuildFrame(req)
	if err != nil {
		return frameproto.Message{}, err
	}
	if _, err := conn.Write(frame); err != nil {
		return frameproto.Message{}, fmt.Errorf("write frame: %w", err)
	}

	parser.Reset()
	buf := make([]byte, 256)
	for {
		select {
		case <-ctx.Done():
			return frameproto.Message{}, ctx.Err()
		default:
		}
		n, err := conn.Read(buf)
		for _, b := range buf[:n] {
			if parser.ParseByte(b) {
				msg, _ := parser.GetMessage()
				parser.Reset()
				return msg, nil
			}
		}
		if err != nil {
			return frameproto.Message{}, fmt.Errorf("read frame: %w", err)
		}
	}
}

// EncodeMetricRecord appends one [code][raw float32] record to dst.
func EncodeMetricRecord(dst []byte, code uint8, raw float32) []byte {
	dst = append(dst, code)
	return binary.BigEndian.AppendUint32(dst, math.Float32bits(raw))
}

// DecodeMetricRecords maps a metric report payload through the adapter's
// mappings. Records with no configured mapping are skipped, not failed: a
// device may report more than the bridge is asked to relay.
func DecodeMetricRecords(payload []byte, mappings map[uint8]adapter.MetricMapping) ([]adapter.Metric, error) {
	if len(payload)%RecordLen != 0 {
		return nil, fmt.Errorf("metric report payload length %d not a multiple of %d", len(payload), RecordLen)
	}
	metrics := make([]adapter.Metric, 0, len(payload)/RecordLen)
	for off := 0; off < len(payload); off += RecordLen {
		code := payload[off]
		raw := math.Float32frombits(binary.BigEndian.Uint32(payload[off+1 : off+RecordLen]))
		mapping, ok := mappings[code]
		if !ok {
			continue
		}
		metrics = append(metrics, mapping.Apply(float64(raw)))
	}
	return metrics, nil
}
