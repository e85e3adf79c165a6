package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"HabitLink/logger"
	errs "HabitLink/tools/errs"
	"HabitLink/tools/ids"
)

// Server owns the websocket endpoint and the node-local HTTP API. One per
// process; constructed explicitly with its collaborators.
type Server struct {
	reg     *Registry
	router  *Router
	auth    *Authenticator
	limiter *RateLimiter

	pingInterval time.Duration
	readTimeout  time.Duration

	upgrader websocket.Upgrader
}

func NewServer(reg *Registry, router *Router, auth *Authenticator, limiter *RateLimiter,
	pingInterval, readTimeout time.Duration) *Server {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	if readTimeout <= 0 {
		readTimeout = 60 * time.Second
	}
	return &Server{
		reg:          reg,
		router:       router,
		auth:         auth,
		limiter:      limiter,
		pingInterval: pingInterval,
		readTimeout:  readTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Mount attaches the websocket endpoint and the HTTP API to the gin engine.
func (s *Server) Mount(e *gin.Engine) {
	e.GET("/ws", s.HandleWS)

	api := e.Group("/api")
	api.POST("/emit", s.handleEmit)
	api.POST("/emit_room", s.handleEmitRoom)
	api.GET("/stats", s.handleStats)
	api.POST("/token", s.handleToken)
}

// HandleWS authenticates the bearer credential, upgrades, registers the
// connection and runs the read loop until the peer goes away. Authentication
// happens before the upgrade; a failed credential never reaches the registry.
func (s *Server) HandleWS(c *gin.Context) {
	userID, err := s.auth.Authenticate(BearerFromRequest(c.Request))
	if err != nil {
		logger.Warnf("[ws] auth rejected remote=%s: %v", c.ClientIP(), err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Errorf("[ws] upgrade failed remote=%s: %v", c.ClientIP(), err)
		return
	}

	conn := NewConn(ids.GenerateString(), ws)
	if err := s.reg.Register(userID, conn); err != nil {
		logger.Errorf("[ws] register user=%s: %v", userID, err)
		_ = ws.Close()
		return
	}
	logger.Infof("[ws] connected user=%s conn=%s remote=%s", userID, conn.ID, c.ClientIP())

	go conn.WritePump(s.pingInterval)

	// Backlog first, then live traffic. The request context is unusable once
	// the connection is hijacked, so the drain gets its own deadline.
	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	s.router.DrainOffline(drainCtx, conn)
	cancel()

	s.readLoop(conn)

	// Synchronous teardown: after Unregister returns no emission can pick
	// this handle up.
	s.reg.Unregister(conn)
	s.limiter.Remove(conn.ID)
	conn.Close()
	logger.Infof("[ws] disconnected user=%s conn=%s", userID, conn.ID)
}

func (s *Server) readLoop(conn *Conn) {
	ws := conn.ws
	_ = ws.SetReadDeadline(time.Now().Add(s.readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.readTimeout))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warnf("[ws] read conn=%s: %v", conn.ID, err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(s.readTimeout))

		// Every inbound event counts against the window, parseable or not.
		if s.limiter.ShouldReject(conn.ID) {
			logger.Debug("rate limited inbound event")
			if s.limiter.ShouldDisconnect(conn.ID) {
				logger.Warnf("[ws] rate strike limit conn=%s user=%s, closing", conn.ID, conn.UserID)
				return
			}
			continue
		}

		frame, err := ParseFrame(raw)
		if err != nil {
			logger.Warnf("[ws] bad frame conn=%s: %v", conn.ID, err)
			continue
		}

		if err := s.router.Dispatch(context.Background(), conn, frame); err != nil {
			logger.Warnf("[ws] dispatch conn=%s event=%s: %v", conn.ID, frame.Event, err)
			s.sendError(conn, frame.Event, err)
		}
	}
}

// sendError reports a dispatch failure back to the sender as an error frame.
// Best effort.
func (s *Server) sendError(conn *Conn, event string, err error) {
	body := gin.H{"for": event, "error": err.Error()}
	if ce := errs.Unwrap(err); ce != nil {
		body["code"] = ce.Code
		body["error"] = ce.Msg
	}
	payload, _ := json.Marshal(body)
	_ = conn.Send(EncodeFrame("error", payload))
}

type emitRequest struct {
	UserID  string          `json:"user_id"`
	Room    string          `json:"room"`
	Event   string          `json:"event" binding:"required"`
	Payload json.RawMessage `json:"payload"`
}

// handleEmit delivers one event to one user. "delivered" in the response is
// local certainty only; false still means best-effort fleet and queue paths
// were taken.
func (s *Server) handleEmit(c *gin.Context) {
	var req emitRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and event required"})
		return
	}
	delivered := s.router.Emit(c.Request.Context(), req.UserID, req.Event, req.Payload)
	c.JSON(http.StatusOK, gin.H{"delivered": delivered})
}

func (s *Server) handleEmitRoom(c *gin.Context) {
	var req emitRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Room == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room and event required"})
		return
	}
	s.router.EmitToRoom(c.Request.Context(), req.Room, req.Event, req.Payload)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleStats(c *gin.Context) {
	conns, users, rooms := s.reg.Counts()
	out := gin.H{
		"node":        s.reg.NodeID(),
		"connections": conns,
		"users":       users,
		"rooms":       rooms,
	}
	if qs, err := s.router.QueueStats(c.Request.Context()); err == nil {
		out["queued_messages"] = qs.TotalQueued
		out["queued_users"] = qs.UsersWithMessages
	}
	c.JSON(http.StatusOK, out)
}

type tokenRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// handleToken mints a credential for the given user. Dev/ops surface; fronted
// by the platform gateway in production.
func (s *Server) handleToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	token, expireAt, err := s.auth.Mint(req.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "mint failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expire_at": expireAt.Unix()})
}
