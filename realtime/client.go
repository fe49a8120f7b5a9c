// Package realtime keeps a websocket open to the server and dispatches
// pushed messages to registered handlers.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kasuganosora/tovplay/metrics"
	"go.uber.org/zap"
)

// Message types pushed by the server.
const (
	TypeNotification        = "notification"
	TypeRelationshipChanged = "relationship_changed"
	TypePing                = "ping"
)

var (
	// ErrUnauthorized is returned when the server rejects the token.
	ErrUnauthorized = errors.New("realtime: unauthorized")
	// ErrNoToken is returned when no session token is available.
	ErrNoToken = errors.New("realtime: no session token")
)

// Packet is the envelope of every websocket message.
type Packet struct {
	Seq     uint64          `json:"seq,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RelationshipChanged is the payload of TypeRelationshipChanged. Username
// is the other side of the relationship from the receiver's view.
type RelationshipChanged struct {
	Username string `json:"username"`
	Action   string `json:"action"`
}

// HandlerFunc handles one message payload.
type HandlerFunc func(payload json.RawMessage) error

// TokenFunc returns the current bearer token.
type TokenFunc func(ctx context.Context) (string, error)

// Options configures a Client.
type Options struct {
	// URL is the server root, e.g. ws://localhost:5000.
	URL   string
	Token TokenFunc
	// ReconnectAttempts bounds consecutive failed dials.
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	Dialer            *websocket.Dialer
	Logger            *zap.Logger
}

// Client is a reconnecting websocket client.
type Client struct {
	opts Options

	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	writeMu   sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool
	seq       atomic.Uint64
}

// New creates a Client. Call Run to connect.
func New(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = 1
	}
	return &Client{opts: opts, handlers: make(map[string]HandlerFunc)}
}

// On registers fn for msgType, replacing any previous handler.
func (c *Client) On(msgType string, fn HandlerFunc) {
	c.mu.Lock()
	c.handlers[msgType] = fn
	c.mu.Unlock()
}

// Connected reports whether a connection is currently open.
func (c *Client) Connected() bool { return c.connected.Load() }

func (c *Client) endpoint(token string) string {
	return strings.TrimRight(c.opts.URL, "/") + "/ws?token=" + url.QueryEscape(token)
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	if c.opts.Token == nil {
		return nil, ErrNoToken
	}
	token, err := c.opts.Token(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrNoToken
	}
	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.endpoint(token), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	return conn, nil
}

// Run connects and reads until ctx is done, reconnecting ReconnectDelay
// after a dropped connection. It returns nil when ctx ends and an error once
// ReconnectAttempts consecutive dials failed or the server refused the
// token.
func (c *Client) Run(ctx context.Context) error {
	failures := 0
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNoToken) {
				return err
			}
			failures++
			c.opts.Logger.Warn("realtime dial failed",
				zap.Int("attempt", failures), zap.Error(err))
			if failures >= c.opts.ReconnectAttempts {
				return fmt.Errorf("realtime: giving up after %d attempts: %w", failures, err)
			}
			select {
			case <-time.After(c.opts.ReconnectDelay):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		failures = 0
		c.opts.Logger.Debug("realtime connected")
		c.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		c.opts.Logger.Info("realtime connection lost, reconnecting",
			zap.Duration("delay", c.opts.ReconnectDelay))
		select {
		case <-time.After(c.opts.ReconnectDelay):
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
	c.connected.Store(true)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		c.connected.Store(false)
		c.writeMu.Lock()
		c.conn = nil
		c.writeMu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.opts.Logger.Warn("realtime unexpected close", zap.Error(err))
			}
			return
		}
		c.dispatch(raw)
	}
}

func (c *Client) dispatch(raw []byte) {
	var pkt Packet
	if err := json.Unmarshal(raw, &pkt); err != nil {
		c.opts.Logger.Warn("malformed realtime packet", zap.Error(err))
		return
	}
	metrics.RealtimeMessages.WithLabelValues(pkt.Type).Inc()
	c.mu.RLock()
	fn, ok := c.handlers[pkt.Type]
	c.mu.RUnlock()
	if !ok {
		c.opts.Logger.Debug("unhandled realtime message", zap.String("type", pkt.Type))
		return
	}
	if err := fn(pkt.Payload); err != nil {
		c.opts.Logger.Warn("realtime handler error", zap.String("type", pkt.Type), zap.Error(err))
	}
}

// Send writes one message. It fails when not connected.
func (c *Client) Send(msgType string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(Packet{Seq: c.seq.Add(1), Type: msgType, Payload: b})
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return errors.New("realtime: not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
