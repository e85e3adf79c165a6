package realtime

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const sendBufferSize = 256

var errSendBufferFull = errors.New("send buffer full")

// Conn is one authenticated websocket connection. Identity is bound once at
// registration and never changes for the connection's lifetime. The websocket
// is written only by the write pump; everyone else goes through Send.
type Conn struct {
	ID     string
	UserID string

	ws     *websocket.Conn
	remote net.Addr

	send chan []byte
	done chan struct{}

	mu    sync.RWMutex
	rooms map[string]struct{}

	closeOnce sync.Once
	CreatedAt time.Time
}

func NewConn(id string, ws *websocket.Conn) *Conn {
	c := &Conn{
		ID:        id,
		ws:        ws,
		send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
		rooms:     make(map[string]struct{}),
		CreatedAt: time.Now(),
	}
	if ws != nil {
		c.remote = ws.RemoteAddr()
	}
	return c
}

// Send enqueues a frame for the write pump. Non-blocking: a slow consumer
// whose buffer is full loses the frame rather than stalling the emitter.
func (c *Conn) Send(data []byte) error {
	select {
	case <-c.done:
		return errors.New("connection closed")
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

// WritePump drains the send queue onto the websocket and keeps the peer
// alive with pings. Runs in its own goroutine; returns when the connection
// is closed or a write fails.
func (c *Conn) WritePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.writeMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				c.Close()
				return
			}
		}
	}
}

func (c *Conn) writeMessage(mt int, data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	return c.ws.WriteMessage(mt, data)
}

// Close tears the connection down exactly once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

func (c *Conn) Done() <-chan struct{} { return c.done }

// joinRoom / leaveRoom mutate the connection's room set. Registry keeps the
// inverse index; both are updated under the registry's lock path.
func (c *Conn) joinRoom(room string) {
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
}

func (c *Conn) leaveRoom(room string) {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
}

func (c *Conn) InRoom(room string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

func (c *Conn) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	return out
}
