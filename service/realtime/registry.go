package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"HabitLink/logger"
)

// PresenceMarker publishes advisory online/offline markers (redis in
// production). Optional; nil disables marking.
type PresenceMarker interface {
	Online(ctx context.Context, user, nodeID string) error
	Offline(ctx context.Context, user string) error
}

// Registry is the process-local connection index. It only ever answers for
// connections owned by this process; cross-process reachability belongs to
// the fleet adapter and is never faked here.
//
// Indexes: byConn (primary), byUser (user -> connID -> conn, multi-device),
// byRoom (room -> connID -> conn). Cleanup is synchronous on Unregister so a
// disconnected handle is never returned.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]*Conn
	byUser map[string]map[string]*Conn
	byRoom map[string]map[string]*Conn

	nodeID   string
	presence PresenceMarker
}

func NewRegistry(nodeID string, presence PresenceMarker) *Registry {
	return &Registry{
		byConn:   make(map[string]*Conn),
		byUser:   make(map[string]map[string]*Conn),
		byRoom:   make(map[string]map[string]*Conn),
		nodeID:   nodeID,
		presence: presence,
	}
}

func (r *Registry) NodeID() string { return r.nodeID }

// Register binds an authenticated identity to the connection and indexes it.
// Must only be called after authentication succeeded; the registry never
// holds unauthenticated handles.
func (r *Registry) Register(userID string, c *Conn) error {
	if userID == "" || c == nil {
		return errors.New("userID/conn empty")
	}
	r.mu.Lock()
	if _, exists := r.byConn[c.ID]; exists {
		r.mu.Unlock()
		return errors.New("connection id exists")
	}
	c.UserID = userID
	r.byConn[c.ID] = c
	m := r.byUser[userID]
	if m == nil {
		m = make(map[string]*Conn)
		r.byUser[userID] = m
	}
	m[c.ID] = c
	r.mu.Unlock()

	r.markOnline(userID)
	return nil
}

// Unregister removes the connection from every index. Synchronous: once it
// returns, no lookup can observe the handle.
func (r *Registry) Unregister(c *Conn) {
	if c == nil {
		return
	}
	r.mu.Lock()
	delete(r.byConn, c.ID)
	if m := r.byUser[c.UserID]; m != nil {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(r.byUser, c.UserID)
		}
	}
	for _, room := range c.Rooms() {
		if m := r.byRoom[room]; m != nil {
			delete(m, c.ID)
			if len(m) == 0 {
				delete(r.byRoom, room)
			}
		}
	}
	lastForUser := len(r.byUser[c.UserID]) == 0
	r.mu.Unlock()

	if lastForUser {
		r.markOffline(c.UserID)
	}
}

// GetLocalConnections returns every local handle for the user.
func (r *Registry) GetLocalConnections(userID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.byUser[userID]
	if len(m) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

func (r *Registry) IsLocallyReachable(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// JoinRoom subscribes the connection to a room. Authorization happens in the
// router before this is called.
func (r *Registry) JoinRoom(c *Conn, room string) {
	r.mu.Lock()
	m := r.byRoom[room]
	if m == nil {
		m = make(map[string]*Conn)
		r.byRoom[room] = m
	}
	m[c.ID] = c
	r.mu.Unlock()
	c.joinRoom(room)
}

func (r *Registry) LeaveRoom(c *Conn, room string) {
	r.mu.Lock()
	if m := r.byRoom[room]; m != nil {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(r.byRoom, room)
		}
	}
	r.mu.Unlock()
	c.leaveRoom(room)
}

// RoomConnections returns the local subscribers of a room.
func (r *Registry) RoomConnections(room string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.byRoom[room]
	if len(m) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

// Counts returns local gauges for the stats endpoint.
func (r *Registry) Counts() (conns, users, rooms int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn), len(r.byUser), len(r.byRoom)
}

// Presence marking is advisory and must never block a register/unregister,
// so it runs fire-and-forget with a short timeout.
func (r *Registry) markOnline(userID string) {
	if r.presence == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := r.presence.Online(ctx, userID, r.nodeID); err != nil {
			logger.Warnf("[registry] presence online user=%s: %v", userID, err)
		}
	}()
}

func (r *Registry) markOffline(userID string) {
	if r.presence == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := r.presence.Offline(ctx, userID); err != nil {
			logger.Warnf("[registry] presence offline user=%s: %v", userID, err)
		}
	}()
}
