package fleet

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"HabitLink/logger"
)

// NatsAdapter publishes over core NATS subjects:
//   hab.fleet.user.<user>
//   hab.fleet.room.<room>
// Plain (non-queue) wildcard subscription: every node receives every
// envelope, which is exactly the fan-out the fleet needs.

const natsSubjectPrefix = "hab.fleet."

type NatsAdapter struct {
	nc     *nats.Conn
	nodeID string
	sub    *nats.Subscription
}

func NewNatsAdapter(url, nodeID string) (*NatsAdapter, error) {
	opts := []nats.Option{
		nats.Name("hab-gateway-" + nodeID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500 * time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3 * time.Second),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NatsAdapter{nc: nc, nodeID: nodeID}, nil
}

// subjectToken makes a room/user id safe as a NATS subject token.
func subjectToken(s string) string {
	r := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")
	return r.Replace(s)
}

func (a *NatsAdapter) PublishToUser(_ context.Context, userID, event string, payload json.RawMessage) error {
	env := newEnvelope(a.nodeID, "", userID, event, payload)
	return a.publish(natsSubjectPrefix+"user."+subjectToken(userID), env)
}

func (a *NatsAdapter) PublishToRoom(_ context.Context, room, event string, payload json.RawMessage) error {
	env := newEnvelope(a.nodeID, room, "", event, payload)
	return a.publish(natsSubjectPrefix+"room."+subjectToken(room), env)
}

func (a *NatsAdapter) publish(subject string, env *Envelope) error {
	b, err := env.Encode()
	if err != nil {
		return err
	}
	return a.nc.Publish(subject, b)
}

func (a *NatsAdapter) Subscribe(h Handler) error {
	sub, err := a.nc.Subscribe(natsSubjectPrefix+">", func(m *nats.Msg) {
		env, err := DecodeEnvelope(m.Data)
		if err != nil {
			logger.Warnf("[fleet/nats] bad envelope on %s: %v", m.Subject, err)
			return
		}
		if env.Origin == a.nodeID {
			return
		}
		h(env)
	})
	if err != nil {
		return err
	}
	a.sub = sub
	return nil
}

func (a *NatsAdapter) Close() error {
	if a.sub != nil {
		_ = a.sub.Drain()
	}
	if a.nc != nil {
		return a.nc.Drain()
	}
	return nil
}
