package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func staticToken(tok string) TokenFunc {
	return func(context.Context) (string, error) { return tok, nil }
}

// pushServer accepts websocket connections, pushes one notification and
// then either holds or drops the connection.
func pushServer(t *testing.T, drop bool, conns *int32, received chan<- Packet) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "good" {
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := atomic.AddInt32(conns, 1)
		_ = conn.WriteJSON(map[string]any{
			"type":    TypeNotification,
			"payload": map[string]any{"id": n, "message": "hello"},
		})
		if drop {
			return
		}
		for {
			var pkt Packet
			if err := conn.ReadJSON(&pkt); err != nil {
				return
			}
			if received != nil {
				received <- pkt
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClient_DispatchAndSend(t *testing.T) {
	var conns int32
	received := make(chan Packet, 1)
	srv := pushServer(t, false, &conns, received)

	c := New(Options{URL: wsURL(srv), Token: staticToken("good"), Logger: zap.NewNop()})
	got := make(chan json.RawMessage, 1)
	c.On(TypeNotification, func(p json.RawMessage) error {
		got <- p
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case p := <-got:
		assert.JSONEq(t, `{"id":1,"message":"hello"}`, string(p))
	case <-time.After(2 * time.Second):
		t.Fatal("no notification dispatched")
	}
	assert.Eventually(t, c.Connected, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Send(TypePing, map[string]int{"n": 1}))
	select {
	case pkt := <-received:
		assert.Equal(t, TypePing, pkt.Type)
		assert.Equal(t, uint64(1), pkt.Seq)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive ping")
	}

	cancel()
	assert.NoError(t, <-done)
	assert.False(t, c.Connected())
	assert.Error(t, c.Send(TypePing, nil))
}

func TestClient_Reconnects(t *testing.T) {
	var conns int32
	srv := pushServer(t, true, &conns, nil)

	c := New(Options{
		URL: wsURL(srv), Token: staticToken("good"),
		ReconnectAttempts: 3, ReconnectDelay: 10 * time.Millisecond,
	})
	var seen int32
	c.On(TypeNotification, func(json.RawMessage) error {
		atomic.AddInt32(&seen, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&seen) >= 3 },
		2*time.Second, 10*time.Millisecond)
}

func TestClient_WaitsBeforeRedialAfterDrop(t *testing.T) {
	var conns int32
	srv := pushServer(t, true, &conns, nil)

	c := New(Options{
		URL: wsURL(srv), Token: staticToken("good"),
		ReconnectAttempts: 3, ReconnectDelay: 100 * time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Run(ctx))

	// Immediate redials would open dozens of connections in this window.
	n := atomic.LoadInt32(&conns)
	assert.GreaterOrEqual(t, n, int32(1))
	assert.LessOrEqual(t, n, int32(4))
}

func TestClient_Unauthorized(t *testing.T) {
	var conns int32
	srv := pushServer(t, false, &conns, nil)
	c := New(Options{URL: wsURL(srv), Token: staticToken("bad"), ReconnectAttempts: 5})

	err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Zero(t, atomic.LoadInt32(&conns))
}

func TestClient_NoToken(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:1", Token: staticToken("")})
	assert.ErrorIs(t, c.Run(context.Background()), ErrNoToken)
}

func TestClient_GivesUp(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	c := New(Options{URL: url, Token: staticToken("good"), ReconnectAttempts: 2, ReconnectDelay: time.Millisecond})
	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "giving up after 2 attempts")
}

func TestClient_DispatchIgnoresUnknownAndMalformed(t *testing.T) {
	c := New(Options{})
	var called bool
	c.On(TypeRelationshipChanged, func(p json.RawMessage) error {
		var rc RelationshipChanged
		require.NoError(t, json.Unmarshal(p, &rc))
		assert.Equal(t, "bob", rc.Username)
		called = true
		return nil
	})
	c.dispatch([]byte(`not json`))
	c.dispatch([]byte(`{"type":"other"}`))
	c.dispatch([]byte(`{"type":"relationship_changed","payload":{"username":"bob","action":"block"}}`))
	assert.True(t, called)
}
