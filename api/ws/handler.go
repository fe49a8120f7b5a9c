// Package ws serves the devserver's push socket.
package ws

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/tovplay/cache"
	"github.com/kasuganosora/tovplay/config"
	mw "github.com/kasuganosora/tovplay/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler is the Gin handler for GET /ws.
type Handler struct {
	db       *gorm.DB
	cache    cache.Cache
	pubsub   cache.PubSub
	sec      config.SecurityConfig
	hub      *Hub
	router   *Router
	presence time.Duration
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket Handler.
// sec.AllowedOrigins controls which WebSocket origins are accepted.
// An empty slice permits all origins (development only).
func NewHandler(
	db *gorm.DB,
	c cache.Cache,
	ps cache.PubSub,
	sec config.SecurityConfig,
	hub *Hub,
	router *Router,
	presence time.Duration,
	logger *zap.Logger,
) *Handler {
	h := &Handler{
		db:       db,
		cache:    c,
		pubsub:   ps,
		sec:      sec,
		hub:      hub,
		router:   router,
		presence: presence,
		logger:   logger,
	}
	allowed := sec.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true // dev mode: allow all
			}
			return slices.Contains(allowed, r.Header.Get("Origin"))
		},
	}
	return h
}

// ServeWS handles GET /ws?token=<jwt>.
func (h *Handler) ServeWS(c *gin.Context) {
	token := c.Query("token")
	claims, msg := mw.Authenticate(c.Request.Context(), token, h.sec, h.cache)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": msg})
		return
	}

	// Subscribe before the upgrade so nothing published after the client
	// sees the handshake complete is lost.
	subCtx, cancel := context.WithCancel(context.Background())
	msgs, unsubscribe, err := h.pubsub.Subscribe(subCtx, Channel(claims.AccountID))
	if err != nil {
		cancel()
		h.logger.Error("ws subscribe failed", zap.Int64("account_id", claims.AccountID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		unsubscribe()
		cancel()
		h.logger.Error("ws upgrade failed", zap.Error(err))
		return
	}

	sess := NewSession(claims.AccountID, claims.Username, conn, h.logger)
	h.hub.Register(sess)
	h.touch(sess)

	go func() {
		for {
			select {
			case m, ok := <-msgs:
				if !ok {
					return
				}
				sess.SendRaw([]byte(m.Payload))
			case <-sess.Done:
				return
			}
		}
	}()

	defer func() {
		unsubscribe()
		cancel()
		h.handleDisconnect(sess)
	}()
	h.readPump(sess)
}

// readPump reads messages from the WebSocket connection and dispatches them.
func (h *Handler) readPump(s *Session) {
	s.SetReadDeadline()
	s.Conn.SetPongHandler(func(string) error {
		s.SetReadDeadline()
		return nil
	})

	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close",
					zap.Int64("account_id", s.AccountID),
					zap.Error(err))
			}
			return
		}
		s.SetReadDeadline()
		h.router.Dispatch(s, raw)
	}
}

func (h *Handler) touch(s *Session) {
	if h.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	mw.Touch(ctx, h.db, h.cache, s.AccountID, h.presence, h.logger)
}

// handleDisconnect cleans up the session after the connection closes.
func (h *Handler) handleDisconnect(s *Session) {
	s.Close()
	h.hub.Unregister(s)
	h.touch(s)
	h.logger.Info("ws disconnected",
		zap.Int64("account_id", s.AccountID),
		zap.String("username", s.Username))
}
