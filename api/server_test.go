package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/tovplay/api"
	"github.com/kasuganosora/tovplay/config"
	"github.com/kasuganosora/tovplay/model"
	"github.com/kasuganosora/tovplay/social"
	"github.com/kasuganosora/tovplay/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type env struct {
	srv *api.Server
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	cfg := &config.Config{
		Server: config.ServerConfig{PresenceInterval: time.Minute},
		Security: config.SecurityConfig{
			JWTSecret:         "api-test-secret",
			JWTTTLH:           time.Hour,
			RateLimitRPS:      1000,
			RateLimitBurst:    2000,
			MetricsAllowedIPs: []string{"192.0.2.1"},
			BcryptCost:        bcrypt.MinCost,
		},
	}
	srv := api.New(api.Deps{Config: cfg, DB: db, Cache: c, PubSub: ps, Logger: zap.NewNop()})
	for _, u := range []social.NewAccount{
		{Username: "alice", Email: "alice@example.com", Password: "secret", DiscordUsername: "alice#1"},
		{Username: "bob", Email: "bob@example.com", Password: "secret"},
	} {
		_, err := srv.Social.CreateAccount(context.Background(), u)
		require.NoError(t, err)
	}
	return &env{srv: srv}
}

func (e *env) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.RemoteAddr = "192.0.2.1:1234"
	w := httptest.NewRecorder()
	e.srv.Engine.ServeHTTP(w, req)
	return w
}

func (e *env) login(t *testing.T, email string) string {
	t.Helper()
	w := e.do(http.MethodPost, "/api/users/login", "", map[string]string{"Email": email, "Password": "secret"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		Token  string `json:"jwt_token"`
		UserID int64  `json:"user_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.NotEmpty(t, out.Token)
	require.NotZero(t, out.UserID)
	return out.Token
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestLogin(t *testing.T) {
	e := newEnv(t)
	e.login(t, "alice@example.com")

	w := e.do(http.MethodPost, "/api/users/login", "", map[string]string{"Email": "alice@example.com", "Password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid email or password", decode[map[string]string](t, w)["error"])

	w = e.do(http.MethodPost, "/api/users/login", "", map[string]string{"Email": "alice@example.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterAndLogout(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodPost, "/api/users/register", "", map[string]string{
		"username": "carol", "email": "carol@example.com", "password": "secret",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	token := decode[map[string]any](t, w)["jwt_token"].(string)

	w = e.do(http.MethodGet, "/api/user_profiles/", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "carol", decode[social.Profile](t, w).Username)

	w = e.do(http.MethodPost, "/api/users/register", "", map[string]string{
		"username": "carol", "email": "other@example.com", "password": "secret",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/api/users/logout", token, nil).Code)
	w = e.do(http.MethodGet, "/api/user_profiles/", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthRequired(t *testing.T) {
	e := newEnv(t)
	for _, p := range []string{"/api/friends/friends", "/api/notifications/", "/api/discord/in_community_route"} {
		assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, p, "", nil).Code, p)
	}
}

func TestFriendsFlow(t *testing.T) {
	e := newEnv(t)
	alice := e.login(t, "alice@example.com")
	bob := e.login(t, "bob@example.com")

	w := e.do(http.MethodPost, "/api/friends/request", alice, map[string]string{"recipient_username": "bob", "message": "hi"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	fr := decode[social.FriendRequest](t, w)
	assert.Equal(t, "hi", fr.Message)

	w = e.do(http.MethodPost, "/api/friends/request", bob, map[string]string{"recipient_username": "alice"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(http.MethodGet, "/api/friends/check_relationship/alice", bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	rel := decode[social.Relationship](t, w)
	assert.Equal(t, "pending", rel.Status)
	assert.Equal(t, "incoming", rel.Direction)
	assert.Equal(t, fr.ID, rel.RequestID)

	w = e.do(http.MethodGet, "/api/friends/received_requests", bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]social.FriendRequest](t, w), 1)

	w = e.do(http.MethodPut, "/api/friends/accept/"+fr.ID, bob, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code, "accept_invite is required")

	w = e.do(http.MethodPut, "/api/friends/accept/"+fr.ID, bob, map[string]bool{"accept_invite": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "accepted", decode[social.Relationship](t, w).Status)

	w = e.do(http.MethodGet, "/api/friends/friends", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	friends := decode[[]social.Friend](t, w)
	require.Len(t, friends, 1)
	assert.Equal(t, "bob", friends[0].Username)
	assert.NotNil(t, friends[0].LastSeen, "presence is stamped on requests")

	w = e.do(http.MethodGet, "/api/user_profiles/public/bob", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[social.Profile](t, w).FriendCount)

	w = e.do(http.MethodGet, "/api/notifications/", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	notes := decode[[]model.Notification](t, w)
	require.Len(t, notes, 1)
	assert.Equal(t, model.NotificationFriendAccepted, notes[0].Type)

	w = e.do(http.MethodPost, "/api/notifications/mark_read", alice, []string{jsonID(notes[0].ID)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 1, decode[map[string]any](t, w)["updated"])
}

func jsonID(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func TestCancelAndBlock(t *testing.T) {
	e := newEnv(t)
	alice := e.login(t, "alice@example.com")
	bob := e.login(t, "bob@example.com")

	w := e.do(http.MethodPost, "/api/friends/request", alice, map[string]string{"recipient_username": "bob"})
	require.Equal(t, http.StatusCreated, w.Code)
	fr := decode[social.FriendRequest](t, w)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodDelete, "/api/friends/request/"+fr.ID, bob, nil).Code)
	assert.Equal(t, http.StatusNoContent, e.do(http.MethodDelete, "/api/friends/request/"+fr.ID, alice, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodDelete, "/api/friends/request/"+fr.ID, alice, nil).Code)

	w = e.do(http.MethodPut, "/api/friends/block", alice, map[string]string{"username_to_block": "bob", "message": "spam"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(http.MethodGet, "/api/friends/check_relationship/bob", alice, nil)
	rel := decode[social.Relationship](t, w)
	assert.Equal(t, "blocked", rel.Status)
	assert.True(t, rel.BlockedByMe)
	assert.Equal(t, "spam", rel.BlockingReason)

	w = e.do(http.MethodPost, "/api/friends/request", bob, map[string]string{"recipient_username": "alice"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(http.MethodPut, "/api/friends/unblock", alice, map[string]any{"request_id": nil, "username_to_unblock": "bob"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = e.do(http.MethodPut, "/api/friends/unblock", alice, map[string]any{"request_id": nil, "username_to_unblock": "bob"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(http.MethodGet, "/api/friends/check_relationship/nobody", alice, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProfileUpdateValidation(t *testing.T) {
	e := newEnv(t)
	alice := e.login(t, "alice@example.com")

	w := e.do(http.MethodPut, "/api/user_profiles/", alice, map[string]any{"openness": "wide"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodPut, "/api/user_profiles/", alice, map[string]any{"bio": "gamer", "games": []string{"Chess"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	p := decode[social.Profile](t, w)
	assert.Equal(t, "gamer", p.Bio)
	assert.Equal(t, []string{"Chess"}, p.Games)
	assert.Equal(t, "alice#1", p.DiscordUsername)
}

func TestCommunityEndpoints(t *testing.T) {
	e := newEnv(t)
	alice := e.login(t, "alice@example.com")
	bob := e.login(t, "bob@example.com")

	w := e.do(http.MethodGet, "/api/discord/in_community_route", bob, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "User not connected with Discord", decode[map[string]string](t, w)["error"])

	w = e.do(http.MethodGet, "/api/discord/in_community_route", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"in_community": null}`, w.Body.String())

	require.Equal(t, http.StatusOK, e.do(http.MethodPut, "/api/discord/get_in_community", alice, nil).Code)
	w = e.do(http.MethodGet, "/api/discord/in_community_route", alice, nil)
	assert.JSONEq(t, `{"in_community": true}`, w.Body.String())
}

func TestFindPlayers(t *testing.T) {
	e := newEnv(t)
	alice := e.login(t, "alice@example.com")
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/findplayers/", alice, nil).Code)
	w := e.do(http.MethodGet, "/api/findplayers/?recipient_username=bob", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bob", decode[social.OverlappingTimes](t, w).RecipientUsername)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, w)["status"])

	w = e.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "198.51.100.7:1"
	rec := httptest.NewRecorder()
	e.srv.Engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
