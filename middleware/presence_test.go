package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/tovplay/config"
	"github.com/kasuganosora/tovplay/model"
	"github.com/kasuganosora/tovplay/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPresence_TouchesLastSeenOncePerInterval(t *testing.T) {
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	acc := &model.Account{Username: "alice", Email: "a@example.com", PasswordHash: "x"}
	require.NoError(t, db.Create(acc).Error)

	sec := config.SecurityConfig{JWTSecret: "secret"}
	token, err := GenerateToken(acc.ID, acc.Username, sec.JWTSecret, time.Hour)
	require.NoError(t, err)
	require.NoError(t, c.Set(context.Background(), SessionKey(token), "1", time.Hour))

	var gotUser string
	r := gin.New()
	r.Use(Auth(sec, c), Presence(db, c, time.Hour, zap.NewNop()))
	r.GET("/me", func(ctx *gin.Context) {
		gotUser = GetUsername(ctx)
		ctx.Status(http.StatusOK)
	})

	do := func() {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}
	do()
	assert.Equal(t, "alice", gotUser)

	var got model.Account
	require.NoError(t, db.First(&got, acc.ID).Error)
	require.NotNil(t, got.LastSeenAt)
	first := *got.LastSeenAt

	do()
	require.NoError(t, db.First(&got, acc.ID).Error)
	assert.True(t, got.LastSeenAt.Equal(first), "second request inside the interval must not write")
}

func TestBearerToken_Presence(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, BearerToken(c))
	c.Request.Header.Set("Authorization", "Bearer  abc ")
	assert.Equal(t, "abc", BearerToken(c))
	c.Request.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, BearerToken(c))
}
