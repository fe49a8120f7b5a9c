// Package app is the application context of the client. It owns the
// session, the API client, the notification feed, background tasks and
// the realtime socket, and opens views on top of them.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/kasuganosora/tovplay/cache"
	"github.com/kasuganosora/tovplay/community"
	"github.com/kasuganosora/tovplay/config"
	"github.com/kasuganosora/tovplay/gateway"
	"github.com/kasuganosora/tovplay/notify"
	"github.com/kasuganosora/tovplay/profile"
	"github.com/kasuganosora/tovplay/realtime"
	"github.com/kasuganosora/tovplay/scheduler"
	"github.com/kasuganosora/tovplay/session"
	"go.uber.org/zap"
)

// ErrNotSignedIn is returned by operations that need a session.
var ErrNotSignedIn = errors.New("app: not signed in")

const taskNotificationSync = "notification_sync"

// Options configures New.
type Options struct {
	Config *config.Config
	Logger *zap.Logger
	// Cache overrides the session backend selected by Config.Session.
	Cache      cache.Cache
	HTTPClient *http.Client
	// Toaster receives transient messages. Defaults to a Feed.
	Toaster notify.Toaster
	// OnSessionExpired runs after the server rejected the token.
	OnSessionExpired func()
}

// App wires the client together. Create it once per process.
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	kv      cache.Cache
	session *session.Store
	api     *gateway.Client
	notes   *notify.Store
	feed    *notify.Feed
	toaster notify.Toaster
	checker *community.Checker
	sched   *scheduler.Scheduler
	socket  *realtime.Client

	onExpired func()
	ownKV     bool

	mu     sync.Mutex
	views  map[*profile.View]struct{}
	runCtx context.Context
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// New builds an App from configuration. Nothing runs until Start.
func New(opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	kv, ownKV := opts.Cache, false
	if kv == nil {
		ownKV = true
		var err error
		kv, err = cache.NewCache(cache.CacheConfig{
			RedisAddr:     cfg.Session.RedisAddr,
			RedisPassword: cfg.Session.RedisPassword,
			RedisDB:       cfg.Session.RedisDB,
			SQLitePath:    cfg.Session.SQLitePath,
		})
		if err != nil {
			return nil, fmt.Errorf("app: session store: %w", err)
		}
	}

	a := &App{
		cfg:       cfg,
		logger:    logger,
		kv:        kv,
		session:   session.New(kv),
		feed:      notify.NewFeed(50),
		sched:     scheduler.New(logger),
		onExpired: opts.OnSessionExpired,
		ownKV:     ownKV,
		views:     make(map[*profile.View]struct{}),
	}
	a.toaster = opts.Toaster
	if a.toaster == nil {
		a.toaster = a.feed
	}
	a.api = gateway.New(gateway.Options{
		BaseURL:        cfg.API.BaseURL,
		Timeout:        cfg.API.Timeout,
		RateLimitRPS:   cfg.API.RateLimitRPS,
		RateLimitBurst: cfg.API.RateLimitBurst,
		HTTPClient:     opts.HTTPClient,
		Tokens:         a.session,
		OnUnauthorized: a.sessionExpired,
		Logger:         logger.Named("gateway"),
	})
	a.notes = notify.NewStore(a.api)
	a.checker = community.New(a.api, cfg.Community.MaxAttempts, cfg.Community.Interval,
		community.WithLogger(logger.Named("community")))
	if cfg.Realtime.URL != "" {
		a.socket = realtime.New(realtime.Options{
			URL:               cfg.Realtime.URL,
			Token:             a.session.Token,
			ReconnectAttempts: cfg.Realtime.ReconnectAttempts,
			ReconnectDelay:    cfg.Realtime.ReconnectDelay,
			Logger:            logger.Named("realtime"),
		})
		a.socket.On(realtime.TypeNotification, a.onNotification)
		a.socket.On(realtime.TypeRelationshipChanged, a.onRelationshipChanged)
	}
	return a, nil
}

func (a *App) API() *gateway.Client { return a.api }
func (a *App) Session() *session.Store { return a.session }
func (a *App) Notifications() *notify.Store { return a.notes }
func (a *App) Community() *community.Checker { return a.checker }
func (a *App) Toasts() *notify.Feed { return a.feed }
func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }
func (a *App) Realtime() *realtime.Client { return a.socket }
func (a *App) Config() *config.Config { return a.cfg }
func (a *App) Logger() *zap.Logger { return a.logger }

func (a *App) sessionExpired() {
	a.logger.Info("session expired")
	notify.ShowError(a.toaster, "Your session has expired. Please log in again.")
	if a.onExpired != nil {
		a.onExpired()
	}
}

// Login signs in and caches the own profile in the session.
func (a *App) Login(ctx context.Context, email, password string) (profile.Profile, error) {
	res, err := a.api.Login(ctx, email, password)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("app: login: %w", err)
	}
	if res.Token == "" {
		return profile.Profile{}, errors.New("app: login: empty token")
	}
	if err := a.session.SignIn(ctx, res.Token, string(res.UserID)); err != nil {
		return profile.Profile{}, err
	}
	p, err := a.refreshOwnProfile(ctx)
	if err != nil {
		return profile.Profile{}, err
	}
	a.logger.Info("signed in", zap.String("username", p.Username))
	return p, nil
}

func (a *App) refreshOwnProfile(ctx context.Context) (profile.Profile, error) {
	w, err := a.api.CurrentProfile(ctx)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("app: load own profile: %w", err)
	}
	if err := a.session.SetProfile(ctx, w); err != nil {
		return profile.Profile{}, err
	}
	if err := a.session.SetDiscordRegistered(ctx, w.DiscordUsername != ""); err != nil {
		return profile.Profile{}, err
	}
	return profile.FromWire(w), nil
}

// Logout closes every view and forgets the session.
func (a *App) Logout(ctx context.Context) error {
	a.closeViews()
	return a.session.SignOut(ctx)
}

// Viewer returns the signed-in username, loading the own profile when it
// is not cached yet.
func (a *App) Viewer(ctx context.Context) (string, error) {
	ok, err := a.session.LoggedIn(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotSignedIn
	}
	var w gateway.Profile
	cached, err := a.session.Profile(ctx, &w)
	if err != nil {
		return "", err
	}
	if cached && w.Username != "" {
		return w.Username, nil
	}
	p, err := a.refreshOwnProfile(ctx)
	if err != nil {
		return "", err
	}
	return p.Username, nil
}

// OpenProfile opens the profile of username, or the own profile when
// username is empty. Close it with CloseProfile.
func (a *App) OpenProfile(ctx context.Context, username string) (*profile.View, error) {
	viewer, err := a.Viewer(ctx)
	if err != nil {
		return nil, err
	}
	v, err := profile.Open(ctx, profile.Options{
		Backend:  a.api,
		Viewer:   viewer,
		Username: username,
		Toaster:  a.toaster,
		Logger:   a.logger.Named("profile"),
	})
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		v.Close()
		return nil, errors.New("app: closed")
	}
	a.views[v] = struct{}{}
	a.mu.Unlock()
	return v, nil
}

// CloseProfile closes v and stops routing updates to it.
func (a *App) CloseProfile(v *profile.View) {
	a.mu.Lock()
	delete(a.views, v)
	a.mu.Unlock()
	v.Close()
}

func (a *App) openViews() []*profile.View {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*profile.View, 0, len(a.views))
	for v := range a.views {
		out = append(out, v)
	}
	return out
}

func (a *App) closeViews() {
	a.mu.Lock()
	views := a.views
	a.views = make(map[*profile.View]struct{})
	a.mu.Unlock()
	for v := range views {
		v.Close()
	}
}

// RefreshRelationship re-reads every open view showing username.
func (a *App) RefreshRelationship(ctx context.Context, username string) {
	for _, v := range a.openViews() {
		if v.Own() || v.Profile().Username != username {
			continue
		}
		if err := v.Refresh(ctx); err != nil {
			a.logger.Debug("refresh after relationship change failed",
				zap.String("username", username), zap.Error(err))
		}
	}
}

func (a *App) onNotification(payload json.RawMessage) error {
	var n gateway.Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return err
	}
	a.notes.Receive(n)
	a.toaster.Toast(notify.Toast{Level: notify.Info, Message: n.Message})
	return nil
}

func (a *App) onRelationshipChanged(payload json.RawMessage) error {
	var ev realtime.RelationshipChanged
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	a.mu.Lock()
	ctx := a.runContext()
	a.mu.Unlock()
	a.RefreshRelationship(ctx, ev.Username)
	return nil
}

// runContext must be called with a.mu held.
func (a *App) runContext() context.Context {
	if a.cancel == nil {
		return context.Background()
	}
	return a.runCtx
}

// Start launches the notification sync task and the realtime socket. It
// returns immediately; Close stops both.
func (a *App) Start(ctx context.Context) {
	a.mu.Lock()
	if a.cancel != nil || a.closed {
		a.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.runCtx = runCtx
	a.cancel = cancel
	a.done = make(chan struct{})
	a.mu.Unlock()

	if iv := a.cfg.Notifications.SyncInterval; iv > 0 {
		a.sched.AddTicker(taskNotificationSync, iv, true, func(ctx context.Context) error {
			if ok, _ := a.session.LoggedIn(ctx); !ok {
				return nil
			}
			return a.notes.Sync(ctx)
		})
	}

	go func() {
		defer close(a.done)
		if a.socket == nil {
			return
		}
		if err := a.socket.Run(runCtx); err != nil {
			a.logger.Warn("realtime stopped", zap.Error(err))
		}
	}()
}

// Close stops background work and closes every open view. It is safe to
// call more than once.
func (a *App) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	cancel, done := a.cancel, a.done
	a.mu.Unlock()

	a.closeViews()
	a.sched.Stop()
	if cancel != nil {
		cancel()
		<-done
	}
	if !a.ownKV {
		return
	}
	if c, ok := a.kv.(interface{ Close() }); ok {
		c.Close()
	} else if c, ok := a.kv.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}
