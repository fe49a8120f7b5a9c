// Package session persists the signed-in user's credentials and flags in a
// key-value cache so that any process can pick the session back up.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kasuganosora/tovplay/cache"
)

// Storage keys.
const (
	KeyToken             = "authToken"
	KeyUserID            = "authUserId"
	KeyLoggedIn          = "authisLoggedIn"
	KeyDiscordRegistered = "isDiscordRegistered"
	KeyProfile           = "userProfile"
)

// Store reads and writes session values through a cache.Cache.
type Store struct {
	kv cache.Cache
}

// New wraps kv.
func New(kv cache.Cache) *Store {
	return &Store{kv: kv}
}

func (s *Store) get(ctx context.Context, key string) (string, error) {
	v, err := s.kv.Get(ctx, key)
	if cache.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("session: get %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) flag(ctx context.Context, key string) (bool, error) {
	v, err := s.get(ctx, key)
	if err != nil || v == "" {
		return false, err
	}
	return strconv.ParseBool(v)
}

// Token returns the stored bearer token or "" when signed out.
func (s *Store) Token(ctx context.Context) (string, error) {
	return s.get(ctx, KeyToken)
}

// ClearToken drops the token and the logged-in flag but keeps the user id,
// which is what a server-side session expiry does.
func (s *Store) ClearToken(ctx context.Context) error {
	return s.kv.Del(ctx, KeyToken, KeyLoggedIn)
}

// UserID returns the stored user id or "".
func (s *Store) UserID(ctx context.Context) (string, error) {
	return s.get(ctx, KeyUserID)
}

// LoggedIn reports whether a login completed and has not been cleared.
func (s *Store) LoggedIn(ctx context.Context) (bool, error) {
	return s.flag(ctx, KeyLoggedIn)
}

// SignIn stores the credentials returned by a login.
func (s *Store) SignIn(ctx context.Context, token, userID string) error {
	for k, v := range map[string]string{
		KeyToken:    token,
		KeyUserID:   userID,
		KeyLoggedIn: "true",
	} {
		if err := s.kv.Set(ctx, k, v, 0); err != nil {
			return fmt.Errorf("session: set %s: %w", k, err)
		}
	}
	return nil
}

// SignOut removes every session key.
func (s *Store) SignOut(ctx context.Context) error {
	return s.kv.Del(ctx, KeyToken, KeyUserID, KeyLoggedIn, KeyDiscordRegistered, KeyProfile)
}

// DiscordRegistered reports the cached Discord-linked flag.
func (s *Store) DiscordRegistered(ctx context.Context) (bool, error) {
	return s.flag(ctx, KeyDiscordRegistered)
}

func (s *Store) SetDiscordRegistered(ctx context.Context, v bool) error {
	return s.kv.Set(ctx, KeyDiscordRegistered, strconv.FormatBool(v), 0)
}

// Profile decodes the cached own profile into out. ok is false when nothing
// is cached.
func (s *Store) Profile(ctx context.Context, out any) (bool, error) {
	v, err := s.get(ctx, KeyProfile)
	if err != nil || v == "" {
		return false, err
	}
	if err := json.Unmarshal([]byte(v), out); err != nil {
		return false, fmt.Errorf("session: decode profile: %w", err)
	}
	return true, nil
}

func (s *Store) SetProfile(ctx context.Context, p any) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("session: encode profile: %w", err)
	}
	return s.kv.Set(ctx, KeyProfile, string(b), 0)
}

// TokenExpired reports whether the stored token carries an exp claim in the
// past. The signature is not checked; only the server can do that.
// A missing token counts as expired, a token without exp does not.
func (s *Store) TokenExpired(ctx context.Context, now time.Time) (bool, error) {
	tok, err := s.Token(ctx)
	if err != nil {
		return false, err
	}
	if tok == "" {
		return true, nil
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil {
		return false, fmt.Errorf("session: parse token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return false, nil
	}
	return !now.Before(claims.ExpiresAt.Time), nil
}
