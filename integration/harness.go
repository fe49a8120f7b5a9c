// Package integration drives the client packages against a real devserver
// stack served over httptest.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/tovplay/api"
	"github.com/kasuganosora/tovplay/app"
	"github.com/kasuganosora/tovplay/cache"
	"github.com/kasuganosora/tovplay/cache/local"
	"github.com/kasuganosora/tovplay/config"
	"github.com/kasuganosora/tovplay/model"
	"github.com/kasuganosora/tovplay/social"
	"github.com/kasuganosora/tovplay/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Password is set on every account created by CreateUser.
const Password = "secret"

// TestServer wraps a real HTTP server with the whole devserver stack.
type TestServer struct {
	DB     *gorm.DB
	Cache  cache.Cache
	PubSub cache.PubSub
	Social *social.Service
	Server *httptest.Server
	URL    string // http://127.0.0.1:<port>
	WSURL  string // ws://127.0.0.1:<port>/ws
	Sec    config.SecurityConfig
}

// NewTestServer creates a devserver for integration testing. It is closed
// through t.Cleanup.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)

	cfg := &config.Config{
		Server: config.ServerConfig{PresenceInterval: time.Minute},
		Security: config.SecurityConfig{
			JWTSecret:      "integration-test-secret",
			JWTTTLH:        72 * time.Hour,
			RateLimitRPS:   1000,
			RateLimitBurst: 2000,
			BcryptCost:     bcrypt.MinCost,
		},
	}
	srv := api.New(api.Deps{Config: cfg, DB: db, Cache: c, PubSub: pubsub, Logger: zap.NewNop()})

	server := httptest.NewServer(srv.Engine)
	ts := &TestServer{
		DB:     db,
		Cache:  c,
		PubSub: pubsub,
		Social: srv.Social,
		Server: server,
		URL:    server.URL,
		WSURL:  "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
		Sec:    cfg.Security,
	}
	t.Cleanup(func() {
		srv.Hub.CloseAll()
		server.Close()
	})
	return ts
}

// --- Account helpers ---

// CreateUser registers username with Password and the email
// <username>@example.com. A non-empty discord links the account.
func (ts *TestServer) CreateUser(t *testing.T, username, discord string) *model.Account {
	t.Helper()
	acc, err := ts.Social.CreateAccount(context.Background(), social.NewAccount{
		Username:        username,
		Email:           username + "@example.com",
		Password:        Password,
		DiscordUsername: discord,
	})
	require.NoError(t, err)
	return acc
}

// SetInCommunity overwrites the stored membership flag of username.
func (ts *TestServer) SetInCommunity(t *testing.T, username string, joined bool) {
	t.Helper()
	require.NoError(t, ts.DB.Model(&model.Account{}).
		Where("username = ?", username).
		Update("in_community", joined).Error)
}

// Login signs username in over REST and returns the token.
func (ts *TestServer) Login(t *testing.T, username string) (token string, accountID int64) {
	t.Helper()
	resp := ts.PostJSON(t, "/api/users/login", map[string]string{
		"Email":    username + "@example.com",
		"Password": Password,
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result struct {
		Token  string `json:"jwt_token"`
		UserID int64  `json:"user_id"`
	}
	ReadJSON(t, resp, &result)
	return result.Token, result.UserID
}

// --- Client helpers ---

// NewClient builds a client App pointed at the server and signs username
// in. With realtime set the App also holds the websocket open.
func (ts *TestServer) NewClient(t *testing.T, username string, realtime bool) *app.App {
	t.Helper()
	kv, err := local.NewCache(local.Config{})
	require.NoError(t, err)
	t.Cleanup(kv.Close)

	cfg := &config.Config{}
	cfg.API.BaseURL = ts.URL
	cfg.API.Timeout = 5 * time.Second
	cfg.Community.MaxAttempts = 3
	cfg.Community.Interval = 5 * time.Millisecond
	if realtime {
		cfg.Realtime.URL = "ws" + strings.TrimPrefix(ts.URL, "http")
		cfg.Realtime.ReconnectAttempts = 3
		cfg.Realtime.ReconnectDelay = 10 * time.Millisecond
	}
	a, err := app.New(app.Options{Config: cfg, Cache: kv})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	_, err = a.Login(context.Background(), username+"@example.com", Password)
	require.NoError(t, err)
	if realtime {
		a.Start(context.Background())
		require.Eventually(t, a.Realtime().Connected, 2*time.Second, 10*time.Millisecond)
	}
	return a
}

// --- HTTP helpers ---

func (ts *TestServer) do(t *testing.T, method, path string, body any, token string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// PostJSON sends a POST request with JSON body and optional Bearer token.
func (ts *TestServer) PostJSON(t *testing.T, path string, body any, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPost, path, body, token)
}

// Get sends a GET request with optional Bearer token.
func (ts *TestServer) Get(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodGet, path, nil, token)
}

// Put sends a PUT request with JSON body and optional Bearer token.
func (ts *TestServer) Put(t *testing.T, path string, body any, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPut, path, body, token)
}

// Delete sends a DELETE request with optional Bearer token.
func (ts *TestServer) Delete(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodDelete, path, nil, token)
}

// ReadJSON reads and decodes a JSON response body into the given target.
func ReadJSON(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// --- WebSocket client ---

// WSClient wraps a raw websocket connection. A background readLoop feeds
// readCh so a timed-out receive leaves the connection usable.
type WSClient struct {
	Conn   *websocket.Conn
	t      *testing.T
	seq    uint64
	readCh chan readResult
}

type readResult struct {
	data []byte
	err  error
}

// Packet is a decoded server message.
type Packet struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ConnectWS dials the websocket endpoint with token.
func (ts *TestServer) ConnectWS(t *testing.T, token string) *WSClient {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(ts.WSURL+"?token="+token, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, err, "WS dial failed")
	wc := &WSClient{Conn: conn, t: t, readCh: make(chan readResult, 256)}
	t.Cleanup(func() { _ = conn.Close() })
	go wc.readLoop()
	return wc
}

func (wc *WSClient) readLoop() {
	for {
		_, data, err := wc.Conn.ReadMessage()
		wc.readCh <- readResult{data, err}
		if err != nil {
			return
		}
	}
}

// Send writes one packet.
func (wc *WSClient) Send(msgType string, payload any) {
	wc.t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(wc.t, err)
	data, err := json.Marshal(Packet{Seq: atomic.AddUint64(&wc.seq, 1), Type: msgType, Payload: raw})
	require.NoError(wc.t, err)
	require.NoError(wc.t, wc.Conn.WriteMessage(websocket.TextMessage, data))
}

// RecvType reads packets until one of msgType arrives or timeout passes.
func (wc *WSClient) RecvType(msgType string, timeout time.Duration) Packet {
	wc.t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case res := <-wc.readCh:
			require.NoError(wc.t, res.err, "WS recv failed while waiting for %q", msgType)
			var pkt Packet
			require.NoError(wc.t, json.Unmarshal(res.data, &pkt))
			if pkt.Type == msgType {
				return pkt
			}
		case <-deadline:
			wc.t.Fatalf("timed out waiting for message type %q", msgType)
			return Packet{}
		}
	}
}
