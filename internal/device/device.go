// Package device dispatches cloud commands to the station hardware over a
// frame-protocol link. The command payload is [type:u8][flattened params];
// the ack payload is [return code:u8][output...].
package device

import (
	"context"
	"fmt"

	"station-bridge/internal/command"
	"station-bridge/pkg/frameproto"
)

// FrameExchanger is any transport that can run a frame round-trip; the
// serial and tcp adapters both qualify.
type FrameExchanger interface {
	Exchange(ctx context.Context, req frameproto.Message) (frameproto.Message, error)
}

// Manager implements command.DeviceManager over one frame link.
type Manager struct {
	link FrameExchanger
}

var _ command.DeviceManager = (*Manager)(nil)

func NewManager(link FrameExchanger) *Manager {
	return &Manager{link: link}
}

func (m *Manager) ExecuteCommand(ctx context.Context, cmdType command.Type, params []byte) (*command.ResultPayload, error) {
	payload := make([]byte, 0, 1+len(params))
	payload = append(payload, byte(cmdType))
	payload = append(payload, params...)

	resp, err := m.link.Exchange(ctx, frameproto.Message{
		Type:    frameproto.MsgTypeCommand,
		Payload: payload,
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch %s: %w", cmdType, err)
	}
	if resp.Type != frameproto.MsgTypeCommandAck {
		return nil, fmt.Errorf("dispatch %s: unexpected reply type 0x%02x", cmdType, resp.Type)
	}
	if len(resp.Payload) < 1 {
		return nil, fmt.Errorf("dispatch %s: empty ack payload", cmdType)
	}
	return &command.ResultPayload{
		ReturnCode: int(resp.Payload[0]),
		Output:     string(resp.Payload[1:]),
	}, nil
}
