package realtime

import (
	"context"
	"encoding/json"
	"time"

	"HabitLink/logger"
	"HabitLink/service/fleet"
	"HabitLink/service/membership"
	"HabitLink/service/storage"
	"HabitLink/tools/decode"
	errs "HabitLink/tools/errs"
)

// HandlerFunc is a business handler bound to an inbound event name. The
// router's job ends at handing over a parsed, rate-limited,
// identity-attributed event.
type HandlerFunc func(ctx context.Context, from *Conn, f *Frame) error

// Router routes events between local connections, the fleet and the offline
// queue. One instance per process, explicitly constructed with its
// collaborators; no ambient globals.
//
// Outbound path per emission: local registry first, then fleet fan-out, then
// the offline queue as the durable backstop. One pass, no retries. The
// return value of Emit reflects local delivery certainty only; pub/sub is
// fire-and-forget and the queue is best-effort.
type Router struct {
	reg     *Registry
	fleet   fleet.Adapter
	queue   storage.OfflineQueue
	members membership.Store

	handlers map[string]HandlerFunc
	queueTTL time.Duration
}

func NewRouter(
	reg *Registry,
	fa fleet.Adapter,
	queue storage.OfflineQueue,
	members membership.Store,
	queueTTL time.Duration,
) *Router {
	if queueTTL <= 0 {
		queueTTL = 72 * time.Hour
	}
	return &Router{
		reg:      reg,
		fleet:    fa,
		queue:    queue,
		members:  members,
		handlers: make(map[string]HandlerFunc),
		queueTTL: queueTTL,
	}
}

// Handle registers a business handler for an inbound event name. Reserved
// room events cannot be overridden.
func (r *Router) Handle(event string, h HandlerFunc) {
	if event == EventRoomJoin || event == EventRoomLeave {
		return
	}
	r.handlers[event] = h
}

// Subscribe wires the router as the fleet consumer. Call once at startup.
func (r *Router) Subscribe() error {
	return r.fleet.Subscribe(r.deliverFleet)
}

// Dispatch routes one inbound event from an authenticated, rate-limit-passed
// connection.
func (r *Router) Dispatch(ctx context.Context, c *Conn, f *Frame) error {
	switch f.Event {
	case EventRoomJoin:
		return r.handleRoomJoin(ctx, c, f)
	case EventRoomLeave:
		return r.handleRoomLeave(c, f)
	}

	h, ok := r.handlers[f.Event]
	if !ok {
		logger.Debug("no handler for inbound event")
		return nil
	}
	return h(ctx, c, f)
}

func (r *Router) handleRoomJoin(ctx context.Context, c *Conn, f *Frame) error {
	p, err := decode.Payload[roomPayload](f.Payload)
	if err != nil || p.Room == "" {
		return errs.ErrRoomUnknown.WithDetail("room:join payload")
	}
	ok, err := r.members.IsMember(ctx, c.UserID, p.Room)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrRoomUnauthorized.WithDetail(p.Room)
	}
	r.reg.JoinRoom(c, p.Room)
	logger.Infof("[router] user=%s conn=%s joined room=%s", c.UserID, c.ID, p.Room)
	return nil
}

func (r *Router) handleRoomLeave(c *Conn, f *Frame) error {
	p, err := decode.Payload[roomPayload](f.Payload)
	if err != nil || p.Room == "" {
		return errs.ErrRoomUnknown.WithDetail("room:leave payload")
	}
	r.reg.LeaveRoom(c, p.Room)
	return nil
}

// Emit delivers an event to one user: every local handle first, then fleet
// fan-out, then the offline queue when nobody is locally reachable. Returns
// true only when at least one local handle took the frame; false means
// best-effort delivery is underway or exhausted, not failure.
func (r *Router) Emit(ctx context.Context, userID, event string, payload json.RawMessage) bool {
	frame := EncodeFrame(event, payload)

	delivered := false
	for _, c := range r.reg.GetLocalConnections(userID) {
		if err := c.Send(frame); err != nil {
			logger.Warnf("[router] local send user=%s conn=%s: %v", userID, c.ID, err)
			continue
		}
		delivered = true
	}
	if delivered {
		return true
	}

	// Fleet publish is an attempt, not a confirmation; failures degrade to
	// the queue path below.
	if err := r.fleet.PublishToUser(ctx, userID, event, payload); err != nil {
		logger.Warnf("[router] fleet publish user=%s event=%s: %v", userID, event, err)
	}

	// Durable backstop. Deliberately redundant with the fleet attempt: if a
	// remote node does hold a connection, the user may see the event twice
	// (at-least-once is the contract).
	id, err := r.queue.Enqueue(ctx, userID, event, payload, r.queueTTL)
	if err != nil {
		logger.Warnf("[router] enqueue user=%s event=%s: %v", userID, event,
			errs.ErrQueueUnavailable.WithDetail(err.Error()))
	} else if id != "" {
		logger.Debug("queued offline event")
	}
	return false
}

// EmitToRoom delivers to every local subscriber of the room, in the order
// emissions are processed, and fans out to the rest of the fleet. No offline
// fallback: queuing is defined per user only.
func (r *Router) EmitToRoom(ctx context.Context, room, event string, payload json.RawMessage) {
	frame := EncodeFrame(event, payload)
	for _, c := range r.reg.RoomConnections(room) {
		if err := c.Send(frame); err != nil {
			logger.Warnf("[router] room send room=%s conn=%s: %v", room, c.ID, err)
		}
	}
	if err := r.fleet.PublishToRoom(ctx, room, event, payload); err != nil {
		logger.Warnf("[router] fleet publish room=%s event=%s: %v", room, event, err)
	}
}

// deliverFleet handles an envelope published by another node. Only local
// handles are acted on; the publishing node already served its own.
func (r *Router) deliverFleet(env *fleet.Envelope) {
	frame := EncodeFrame(env.Event, env.Payload)
	switch {
	case env.User != "":
		for _, c := range r.reg.GetLocalConnections(env.User) {
			if err := c.Send(frame); err != nil {
				logger.Warnf("[router] fleet deliver user=%s conn=%s: %v", env.User, c.ID, err)
			}
		}
	case env.Room != "":
		for _, c := range r.reg.RoomConnections(env.Room) {
			if err := c.Send(frame); err != nil {
				logger.Warnf("[router] fleet deliver room=%s conn=%s: %v", env.Room, c.ID, err)
			}
		}
	}
}

// DrainOffline pushes the user's queued backlog to a freshly registered
// connection, oldest first. Runs once per reconnect, before any other room
// traffic. The whole batch is cleared only after every frame was accepted;
// on partial delivery only the delivered messages are removed, so the rest
// survive for the next attempt.
func (r *Router) DrainOffline(ctx context.Context, c *Conn) {
	msgs, err := r.queue.Drain(ctx, c.UserID)
	if err != nil {
		logger.Warnf("[router] drain user=%s: %v", c.UserID, err)
		return
	}
	if len(msgs) == 0 {
		return
	}

	delivered := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if err := c.Send(EncodeFrame(m.Event, m.Payload)); err != nil {
			logger.Warnf("[router] drain send user=%s msg=%s: %v", c.UserID, m.ID, err)
			break
		}
		delivered = append(delivered, m.ID)
	}

	if len(delivered) == len(msgs) {
		if err := r.queue.Clear(ctx, c.UserID); err != nil {
			logger.Warnf("[router] drain clear user=%s: %v", c.UserID, err)
		}
	} else {
		for _, id := range delivered {
			if err := r.queue.RemoveMessage(ctx, c.UserID, id); err != nil {
				logger.Warnf("[router] drain remove user=%s msg=%s: %v", c.UserID, id, err)
			}
		}
	}
	logger.Infof("[router] drained %d/%d offline messages user=%s", len(delivered), len(msgs), c.UserID)
}

// QueueStats exposes the offline queue snapshot for the stats surface.
func (r *Router) QueueStats(ctx context.Context) (storage.QueueStats, error) {
	return r.queue.Stats(ctx)
}
