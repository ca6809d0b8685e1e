// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/AleutianAI/workgraph/services/workgraph/datatypes"
	"github.com/AleutianAI/workgraph/services/workgraph/entity"
	"github.com/AleutianAI/workgraph/services/workgraph/middleware"
	"github.com/AleutianAI/workgraph/services/workgraph/observability"
	"github.com/AleutianAI/workgraph/services/workgraph/presence"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// LiveConfig tunes the live channel. Zero fields take defaults.
type LiveConfig struct {
	// SendBuffer is the outbound queue length per connection. Default: 64.
	SendBuffer int

	// PatchRate and PatchBurst bound patches per connection.
	// Default: 20/s, burst 40.
	PatchRate  rate.Limit
	PatchBurst int

	// MaxFrameBytes caps an inbound frame. Default: 72 KiB.
	MaxFrameBytes int64

	// PingInterval is how often the server pings. The read deadline is
	// twice this. Default: 30s.
	PingInterval time.Duration

	// WriteTimeout bounds one frame write. Default: 10s.
	WriteTimeout time.Duration
}

func (c LiveConfig) withDefaults() LiveConfig {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.PatchRate <= 0 {
		c.PatchRate = 20
	}
	if c.PatchBurst <= 0 {
		c.PatchBurst = 40
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = presence.DefaultMaxPatchBytes + 8<<10
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

// Live bundles what the live channel handler needs.
type Live struct {
	Hub     *presence.Hub
	Tracker *presence.Tracker
	Relay   *presence.Relay
	Roots   RootChecker
	Metrics *observability.Metrics
	Config  LiveConfig
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// HandleLiveWebSocket handles GET /v1/ws: one multiplexed presence and
// patch channel per browser session.
//
// # Description
//
// After the upgrade the server sends {"type":"session"} with the new
// session id, then processes client frames until the connection ends.
// Malformed frames and frames for documents outside the caller's team are
// ignored. When the read loop ends the session is disconnected from the
// tracker exactly once.
func HandleLiveWebSocket(live *Live) gin.HandlerFunc {
	cfg := live.Config.withDefaults()
	return func(c *gin.Context) {
		caller, ok := middleware.CallerFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Debug("websocket upgrade failed", "error", err)
			return
		}

		conn := &liveConn{
			id:      uuid.NewString(),
			ws:      ws,
			caller:  caller,
			cfg:     cfg,
			out:     make(chan any, cfg.SendBuffer),
			done:    make(chan struct{}),
			flushed: make(chan struct{}),
			limiter: rate.NewLimiter(cfg.PatchRate, cfg.PatchBurst),
			allowed: make(map[int64]bool),
		}
		live.Metrics.ConnectionOpened()
		slog.Info("live session opened", "session_id", conn.id, "user_id", caller.UserID)

		go conn.writeLoop()
		conn.Send(presence.SessionMessage{Type: presence.TypeSession, SessionID: conn.id})

		live.readLoop(c.Request.Context(), conn)

		live.Hub.UnsubscribeAll(conn.id)
		live.Tracker.Disconnect(conn.id)
		conn.close()
		live.Metrics.ConnectionClosed()
		slog.Info("live session closed", "session_id", conn.id)
	}
}

func (live *Live) readLoop(ctx context.Context, conn *liveConn) {
	conn.ws.SetReadLimit(conn.cfg.MaxFrameBytes)
	_ = conn.ws.SetReadDeadline(time.Now().Add(2 * conn.cfg.PingInterval))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(2 * conn.cfg.PingInterval))
	})

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("live read ended", "session_id", conn.id, "error", err)
			}
			return
		}
		_ = conn.ws.SetReadDeadline(time.Now().Add(2 * conn.cfg.PingInterval))

		frame, err := datatypes.ParseClientFrame(data)
		if err != nil {
			slog.Debug("ignoring frame", "session_id", conn.id, "error", err)
			continue
		}
		live.dispatch(ctx, conn, frame)
	}
}

func (live *Live) dispatch(ctx context.Context, conn *liveConn, f *datatypes.ClientFrame) {
	switch f.Type {
	case datatypes.FrameSubscribe:
		if !live.authorize(ctx, conn, f.DocumentID) {
			return
		}
		for _, ch := range f.SubscribedChannels() {
			if ch == presence.ChannelPresence {
				live.Tracker.Subscribe(f.DocumentID, conn)
				continue
			}
			live.Hub.Subscribe(f.DocumentID, ch, conn)
		}

	case datatypes.FrameUnsubscribe:
		for _, ch := range f.SubscribedChannels() {
			live.Hub.Unsubscribe(f.DocumentID, ch, conn.id)
		}

	case datatypes.FrameJoin:
		if !live.authorize(ctx, conn, f.DocumentID) {
			return
		}
		live.Tracker.Join(f.DocumentID, conn.id, f.ClientID, f.DisplayName)

	case datatypes.FrameLeave:
		live.Tracker.Leave(f.DocumentID, conn.id, f.ClientID)

	case datatypes.FramePatch:
		if !live.authorize(ctx, conn, f.DocumentID) {
			return
		}
		if !conn.limiter.Allow() {
			live.Metrics.PatchDropped("rate_limited")
			return
		}
		live.Relay.Relay(f.DocumentID, conn.id, f.Patch)
	}
}

// authorize checks once per connection and document that the document is
// a root in the caller's team.
func (live *Live) authorize(ctx context.Context, conn *liveConn, documentID int64) bool {
	if conn.allowed[documentID] {
		return true
	}
	if err := live.Roots(ctx, conn.caller, documentID); err != nil {
		slog.Debug("live frame for inaccessible document",
			"session_id", conn.id, "document_id", documentID, "error", err)
		return false
	}
	conn.allowed[documentID] = true
	return true
}

// liveConn is one WebSocket session. Only the read loop touches allowed
// and limiter; Send may be called from any goroutine.
type liveConn struct {
	id      string
	ws      *websocket.Conn
	caller  entity.Caller
	cfg     LiveConfig
	out     chan any
	done    chan struct{}
	flushed chan struct{}
	limiter *rate.Limiter
	allowed map[int64]bool

	closeOnce sync.Once
}

var _ presence.Subscriber = (*liveConn)(nil)

func (c *liveConn) SessionID() string { return c.id }

// Send queues msg unless the connection is closing or its queue is full.
func (c *liveConn) Send(msg any) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- msg:
		return true
	default:
		return false
	}
}

func (c *liveConn) writeLoop() {
	defer close(c.flushed)
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteJSON(msg); err != nil {
				slog.Debug("live write failed", "session_id", c.id, "error", err)
				c.ws.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.ws.Close()
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

// close stops the writer and closes the socket. Safe to call repeatedly.
func (c *liveConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		<-c.flushed
		c.ws.Close()
	})
}
