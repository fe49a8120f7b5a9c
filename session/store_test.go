package session

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kasuganosora/tovplay/cache/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	c, err := local.NewCache(local.Config{})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return New(c)
}

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("k"))
	require.NoError(t, err)
	return tok
}

func TestStore_SignInAndOut(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	tok, err := s.Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok)

	require.NoError(t, s.SignIn(ctx, "tok", "42"))
	tok, _ = s.Token(ctx)
	id, _ := s.UserID(ctx)
	in, _ := s.LoggedIn(ctx)
	assert.Equal(t, "tok", tok)
	assert.Equal(t, "42", id)
	assert.True(t, in)

	require.NoError(t, s.SignOut(ctx))
	id, _ = s.UserID(ctx)
	in, _ = s.LoggedIn(ctx)
	assert.Empty(t, id)
	assert.False(t, in)
}

func TestStore_ClearTokenKeepsUserID(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.SignIn(ctx, "tok", "42"))

	require.NoError(t, s.ClearToken(ctx))

	tok, _ := s.Token(ctx)
	id, _ := s.UserID(ctx)
	in, _ := s.LoggedIn(ctx)
	assert.Empty(t, tok)
	assert.Equal(t, "42", id)
	assert.False(t, in)
}

func TestStore_FlagsAndProfile(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	reg, err := s.DiscordRegistered(ctx)
	require.NoError(t, err)
	assert.False(t, reg)
	require.NoError(t, s.SetDiscordRegistered(ctx, true))
	reg, _ = s.DiscordRegistered(ctx)
	assert.True(t, reg)

	var p struct{ Username string }
	ok, err := s.Profile(ctx, &p)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetProfile(ctx, map[string]string{"Username": "alice"}))
	ok, err = s.Profile(ctx, &p)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "alice", p.Username)
}

func TestStore_TokenExpired(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now()

	exp, err := s.TokenExpired(ctx, now)
	require.NoError(t, err)
	assert.True(t, exp, "no token")

	require.NoError(t, s.SignIn(ctx, signed(t, now.Add(time.Hour)), "1"))
	exp, err = s.TokenExpired(ctx, now)
	require.NoError(t, err)
	assert.False(t, exp)

	require.NoError(t, s.SignIn(ctx, signed(t, now.Add(-time.Minute)), "1"))
	exp, err = s.TokenExpired(ctx, now)
	require.NoError(t, err)
	assert.True(t, exp)

	require.NoError(t, s.SignIn(ctx, "garbage", "1"))
	_, err = s.TokenExpired(ctx, now)
	assert.Error(t, err)
}
