package relationship

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kasuganosora/tovplay/gateway"
	"github.com/kasuganosora/tovplay/metrics"
	"go.uber.org/zap"
)

// Backend is the subset of the API the reconciler drives. *gateway.Client
// implements it.
type Backend interface {
	CheckRelationship(ctx context.Context, username string) (*gateway.Relationship, error)
	SendFriendRequest(ctx context.Context, recipient, message string) (*gateway.FriendRequest, error)
	CancelFriendRequest(ctx context.Context, requestID string) error
	RespondToFriendRequest(ctx context.Context, requestID string, accept bool) (*gateway.Relationship, error)
	BlockUser(ctx context.Context, username, reason string) error
	UnblockUser(ctx context.Context, requestID, username string) error
}

// Snapshot is a point-in-time copy of the reconciler state.
type Snapshot struct {
	Relationship
	// Confirmed is true when Relationship equals the last server answer.
	Confirmed bool
	// Loaded is false until the first successful fetch.
	Loaded bool
}

// Reconciler applies relationship actions optimistically and then settles
// on the server's answer. Actions on one Reconciler run one at a time.
type Reconciler struct {
	backend  Backend
	username string
	logger   *zap.Logger

	// actionMu serializes actions and refreshes.
	actionMu sync.Mutex

	mu        sync.Mutex
	current   Relationship
	server    Relationship
	confirmed bool
	loaded    bool
	subs      map[int]func(Snapshot)
	nextSub   int

	life  context.Context
	close context.CancelFunc
}

// New creates a Reconciler for the relationship with username. The state
// starts as None until Refresh succeeds.
func New(backend Backend, username string, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	life, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		backend:  backend,
		username: username,
		logger:   logger.With(zap.String("username", username)),
		current:  Relationship{Username: username},
		server:   Relationship{Username: username},
		subs:     make(map[int]func(Snapshot)),
		life:     life,
		close:    cancel,
	}
}

// Username returns the other user's name.
func (r *Reconciler) Username() string { return r.username }

// Snapshot returns the current state.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Reconciler) snapshotLocked() Snapshot {
	return Snapshot{Relationship: r.current, Confirmed: r.confirmed, Loaded: r.loaded}
}

// Subscribe registers fn to run after every state change. fn runs on the
// goroutine that caused the change and must not call back into actions.
func (r *Reconciler) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

// Close abandons in-flight calls. Answers that arrive afterwards are
// dropped and further actions fail with ErrClosed.
func (r *Reconciler) Close() {
	r.close()
	r.mu.Lock()
	clear(r.subs)
	r.mu.Unlock()
}

// Closed reports whether Close was called.
func (r *Reconciler) Closed() bool { return r.life.Err() != nil }

// set replaces the local state and notifies subscribers. It reports false
// and changes nothing once the reconciler is closed.
func (r *Reconciler) set(fn func()) bool {
	r.mu.Lock()
	if r.life.Err() != nil {
		r.mu.Unlock()
		return false
	}
	fn()
	snap := r.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.Unlock()
	for _, s := range subs {
		s(snap)
	}
	return true
}

// bind derives a context that is also cancelled by Close.
func (r *Reconciler) bind(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(r.life, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Refresh re-reads the relationship from the server and overwrites the
// local state with it.
func (r *Reconciler) Refresh(ctx context.Context) (Snapshot, error) {
	r.actionMu.Lock()
	defer r.actionMu.Unlock()
	if r.Closed() {
		return r.Snapshot(), ErrClosed
	}
	ctx, done := r.bind(ctx)
	defer done()
	if err := r.refreshLocked(ctx); err != nil {
		return r.Snapshot(), err
	}
	return r.Snapshot(), nil
}

// fetch reads the server state without touching local state.
func (r *Reconciler) fetch(ctx context.Context) (Relationship, error) {
	w, err := r.backend.CheckRelationship(ctx, r.username)
	if err != nil {
		return Relationship{}, err
	}
	return FromWire(r.username, w)
}

func (r *Reconciler) adopt(srv Relationship) bool {
	return r.set(func() {
		r.current = srv
		r.server = srv
		r.confirmed = true
		r.loaded = true
	})
}

func (r *Reconciler) refreshLocked(ctx context.Context) error {
	srv, err := r.fetch(ctx)
	if err != nil {
		return fmt.Errorf("relationship: check %s: %w", r.username, err)
	}
	if !r.adopt(srv) {
		return ErrClosed
	}
	return nil
}

// SendFriendRequest sends a request with an optional message.
func (r *Reconciler) SendFriendRequest(ctx context.Context, message string) (Snapshot, error) {
	return r.run(ctx, Send, func(cur Relationship) Relationship {
		cur.Message = message
		return cur
	}, func(ctx context.Context, cur Relationship) (string, error) {
		fr, err := r.backend.SendFriendRequest(ctx, cur.Username, message)
		if err != nil {
			return "", err
		}
		return string(fr.Key()), nil
	})
}

// CancelFriendRequest withdraws the outgoing request.
func (r *Reconciler) CancelFriendRequest(ctx context.Context) (Snapshot, error) {
	return r.run(ctx, Cancel, nil, func(ctx context.Context, cur Relationship) (string, error) {
		return "", r.backend.CancelFriendRequest(ctx, cur.RequestID)
	})
}

// Respond accepts or declines the incoming request.
func (r *Reconciler) Respond(ctx context.Context, accept bool) (Snapshot, error) {
	action := Decline
	if accept {
		action = Accept
	}
	return r.run(ctx, action, nil, func(ctx context.Context, cur Relationship) (string, error) {
		_, err := r.backend.RespondToFriendRequest(ctx, cur.RequestID, accept)
		return "", err
	})
}

// Block blocks the user with an optional reason.
func (r *Reconciler) Block(ctx context.Context, reason string) (Snapshot, error) {
	return r.run(ctx, Block, func(cur Relationship) Relationship {
		cur.BlockingReason = reason
		cur.BlockedByMe = true
		return cur
	}, func(ctx context.Context, cur Relationship) (string, error) {
		return "", r.backend.BlockUser(ctx, cur.Username, reason)
	})
}

// Unblock lifts the viewer's block.
func (r *Reconciler) Unblock(ctx context.Context) (Snapshot, error) {
	return r.run(ctx, Unblock, nil, func(ctx context.Context, cur Relationship) (string, error) {
		return "", r.backend.UnblockUser(ctx, cur.RequestID, cur.Username)
	})
}

type commandFn func(ctx context.Context, cur Relationship) (requestID string, err error)

// run drives one action through validate, optimistic apply, command and
// re-read. decorate adjusts the optimistic value after the state change.
func (r *Reconciler) run(ctx context.Context, action Action, decorate func(Relationship) Relationship, command commandFn) (Snapshot, error) {
	r.actionMu.Lock()
	defer r.actionMu.Unlock()
	if r.Closed() {
		return r.Snapshot(), ErrClosed
	}
	ctx, done := r.bind(ctx)
	defer done()

	cur := r.Snapshot().Relationship
	next, err := Next(cur.State, action)
	if err != nil {
		return r.Snapshot(), err
	}
	// Only the blocker can lift a block.
	if action == Unblock && !cur.BlockedByMe {
		return r.Snapshot(), fmt.Errorf("%w: %s of a block placed by %s", ErrInvalidTransition, action, r.username)
	}
	if action.needsRequestID() && cur.RequestID == "" {
		// The id may not have reached us yet; ask the server before failing.
		if err := r.refreshLocked(ctx); err != nil {
			return r.Snapshot(), err
		}
		cur = r.Snapshot().Relationship
		if next, err = Next(cur.State, action); err != nil {
			return r.Snapshot(), err
		}
		if cur.RequestID == "" {
			r.logger.Warn("friend request id missing after re-read", zap.Stringer("action", action))
			return r.Snapshot(), ErrRequestIDMissing
		}
	}

	opt := cur
	opt.State = next
	opt = opt.normalize()
	if decorate != nil {
		opt = decorate(opt)
	}
	r.set(func() {
		r.current = opt
		r.confirmed = false
	})

	reqID, cmdErr := command(ctx, cur)
	if r.Closed() {
		return r.Snapshot(), ErrClosed
	}

	if cmdErr != nil {
		r.logger.Info("relationship action failed",
			zap.Stringer("action", action), zap.Error(cmdErr))
		if !gateway.IsKind(cmdErr, gateway.KindUnauthorized) {
			if srv, err := r.fetch(ctx); err == nil {
				r.adopt(srv)
				r.observe(action, metrics.OutcomeOverwritten)
				return r.Snapshot(), fmt.Errorf("relationship: %s: %w", action, cmdErr)
			}
		}
		r.set(func() {
			r.current = r.server
			r.confirmed = r.loaded
		})
		r.observe(action, metrics.OutcomeReverted)
		return r.Snapshot(), fmt.Errorf("relationship: %s: %w", action, cmdErr)
	}

	if reqID != "" && opt.State.Pending() {
		opt.RequestID = reqID
		r.set(func() { r.current = opt })
	}

	srv, err := r.fetch(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) && r.Closed() {
			return r.Snapshot(), ErrClosed
		}
		r.logger.Warn("relationship re-read failed, keeping optimistic state",
			zap.Stringer("action", action), zap.Error(err))
		r.observe(action, metrics.OutcomeUnconfirmed)
		return r.Snapshot(), nil
	}
	if !r.adopt(srv) {
		return r.Snapshot(), ErrClosed
	}
	if srv.State == opt.State {
		r.observe(action, metrics.OutcomeConfirmed)
	} else {
		r.logger.Info("server overrode optimistic state",
			zap.Stringer("action", action),
			zap.Stringer("optimistic", opt.State),
			zap.Stringer("server", srv.State))
		r.observe(action, metrics.OutcomeOverwritten)
	}
	return r.Snapshot(), nil
}

func (r *Reconciler) observe(action Action, outcome string) {
	metrics.ReconcileOutcomes.WithLabelValues(action.String(), outcome).Inc()
}
