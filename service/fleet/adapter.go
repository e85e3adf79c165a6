package fleet

import (
	"context"
	"encoding/json"
	"time"
)

// Envelope is the cross-process event frame. Exactly one of Room or User is
// set. Origin carries the publishing node id; subscribers drop their own
// publications so a handle is only ever acted on by the process owning it.
type Envelope struct {
	Origin  string          `json:"origin"`
	Room    string          `json:"room,omitempty"`
	User    string          `json:"user,omitempty"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Ts      int64           `json:"ts"`
}

func (e *Envelope) Encode() ([]byte, error) { return json.Marshal(e) }

func DecodeEnvelope(b []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Handler receives envelopes published by other nodes.
type Handler func(env *Envelope)

// Adapter bridges the process fleet over an external pub/sub fabric.
// Publish failures degrade, they do not escalate: the offline queue is the
// correctness backstop, so callers log and move on.
type Adapter interface {
	PublishToUser(ctx context.Context, userID, event string, payload json.RawMessage) error
	PublishToRoom(ctx context.Context, room, event string, payload json.RawMessage) error
	// Subscribe starts consuming fleet traffic; h runs for every remote-origin
	// envelope. Call once, before the gateway accepts connections.
	Subscribe(h Handler) error
	Close() error
}

// Noop is the single-process adapter: no fleet, publishes vanish, nothing is
// ever received. The router then relies on the local registry and the
// offline queue alone.
type Noop struct{}

func (Noop) PublishToUser(context.Context, string, string, json.RawMessage) error { return nil }
func (Noop) PublishToRoom(context.Context, string, string, json.RawMessage) error { return nil }
func (Noop) Subscribe(Handler) error                                              { return nil }
func (Noop) Close() error                                                         { return nil }

func newEnvelope(origin, room, user, event string, payload json.RawMessage) *Envelope {
	return &Envelope{
		Origin:  origin,
		Room:    room,
		User:    user,
		Event:   event,
		Payload: payload,
		Ts:      time.Now().UnixMilli(),
	}
}
