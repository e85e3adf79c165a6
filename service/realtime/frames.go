package realtime

import (
	"encoding/json"
	"fmt"
)

// Frame is the wire envelope in both directions:
//   {"event": "...", "payload": {...}}
// Payload stays raw; shape validation belongs to the handler registered for
// the event name, not to the router.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Reserved inbound event names handled by the router itself.
const (
	EventRoomJoin  = "room:join"
	EventRoomLeave = "room:leave"
)

// roomPayload is the payload shape for room:join / room:leave.
type roomPayload struct {
	Room string `json:"room"`
}

func ParseFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("unmarshal frame: %w", err)
	}
	if f.Event == "" {
		return nil, fmt.Errorf("frame has no event name")
	}
	return &f, nil
}

// EncodeFrame builds an outbound envelope. Marshal cannot fail for this
// shape, so it returns bytes directly.
func EncodeFrame(event string, payload json.RawMessage) []byte {
	b, _ := json.Marshal(Frame{Event: event, Payload: payload})
	return b
}
