package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kasuganosora/tovplay/gateway"
	"github.com/kasuganosora/tovplay/notify"
	"github.com/kasuganosora/tovplay/relationship"
	"go.uber.org/zap"
)

var (
	// ErrNotOwner is returned when editing someone else's profile.
	ErrNotOwner = errors.New("profile: not the owner")
	// ErrOwnProfile is returned for relationship actions on one's own profile.
	ErrOwnProfile = errors.New("profile: no relationship with yourself")
)

// Backend is the API surface a View needs. *gateway.Client implements it.
type Backend interface {
	relationship.Backend
	CurrentProfile(ctx context.Context) (*gateway.Profile, error)
	PublicProfile(ctx context.Context, username string) (*gateway.Profile, error)
	UpdateProfile(ctx context.Context, upd gateway.ProfileUpdate) (*gateway.Profile, error)
}

// ActionKind identifies a button.
type ActionKind string

const (
	ActionAddFriend     ActionKind = "add_friend"
	ActionRequestSent   ActionKind = "request_sent"
	ActionCancelRequest ActionKind = "cancel_request"
	ActionAccept        ActionKind = "accept_request"
	ActionDecline       ActionKind = "decline_request"
	ActionFriends       ActionKind = "friends"
	ActionUnblock       ActionKind = "unblock"
	ActionBlocked       ActionKind = "blocked"
	ActionEditProfile   ActionKind = "edit_profile"
)

// Button is one rendered action.
type Button struct {
	Kind    ActionKind
	Label   string
	Enabled bool
}

// Actions is what the view offers for the current state.
type Actions struct {
	Primary   Button
	Secondary *Button
	// CanBlock is true wherever blocking is offered next to the primary
	// action.
	CanBlock bool
	// Note is the request message or blocking reason shown with the
	// primary action.
	Note string
}

// ActionsFor derives the actions for a relationship snapshot.
func ActionsFor(own bool, snap relationship.Snapshot) Actions {
	if own {
		return Actions{Primary: Button{ActionEditProfile, "Edit Profile", true}}
	}
	switch snap.State {
	case relationship.PendingOutgoing:
		return Actions{
			Primary:   Button{ActionRequestSent, "Request Sent", true},
			Secondary: &Button{ActionCancelRequest, "Cancel Request", true},
			CanBlock:  true,
			Note:      snap.Message,
		}
	case relationship.PendingIncoming:
		return Actions{
			Primary:   Button{ActionAccept, "Accept Request", true},
			Secondary: &Button{ActionDecline, "Decline", true},
			CanBlock:  true,
			Note:      snap.Message,
		}
	case relationship.Accepted:
		return Actions{Primary: Button{ActionFriends, "Friends", false}, CanBlock: true}
	case relationship.Blocked:
		if snap.BlockedByMe {
			return Actions{Primary: Button{ActionUnblock, "Unblock User", true}, Note: snap.BlockingReason}
		}
		return Actions{Primary: Button{ActionBlocked, "Blocked", false}, CanBlock: true, Note: snap.BlockingReason}
	default:
		return Actions{Primary: Button{ActionAddFriend, "Add Friend", true}, CanBlock: true}
	}
}

// View is an open profile page. It must be closed when navigated away from.
type View struct {
	backend Backend
	rel     *relationship.Reconciler
	own     bool
	toaster notify.Toaster
	logger  *zap.Logger

	mu      sync.Mutex
	profile Profile
}

// Options configures Open.
type Options struct {
	Backend Backend
	// Viewer is the signed-in username. Username == Viewer opens the own
	// profile; an empty Username does too.
	Viewer   string
	Username string
	Toaster  notify.Toaster
	Logger   *zap.Logger
}

// Open loads the profile and, for someone else's profile, the relationship.
// A failed relationship load is reported and leaves the state at None.
func Open(ctx context.Context, opts Options) (*View, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &View{
		backend: opts.Backend,
		own:     opts.Username == "" || opts.Username == opts.Viewer,
		toaster: opts.Toaster,
		logger:  logger.With(zap.String("profile", opts.Username)),
	}
	if err := v.loadProfile(ctx, opts.Username); err != nil {
		return nil, err
	}
	if v.own {
		return v, nil
	}
	v.rel = relationship.New(opts.Backend, v.profile.Username, v.logger)
	if _, err := v.rel.Refresh(ctx); err != nil {
		v.report("Failed to load relationship status.", err)
	}
	return v, nil
}

func (v *View) loadProfile(ctx context.Context, username string) error {
	var (
		w   *gateway.Profile
		err error
	)
	if v.own {
		w, err = v.backend.CurrentProfile(ctx)
	} else {
		w, err = v.backend.PublicProfile(ctx, username)
	}
	if err != nil {
		return fmt.Errorf("profile: load %q: %w", username, err)
	}
	v.mu.Lock()
	v.profile = FromWire(w)
	v.mu.Unlock()
	return nil
}

// Profile returns the loaded profile.
func (v *View) Profile() Profile {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.profile
}

// Own reports whether this is the viewer's own profile.
func (v *View) Own() bool { return v.own }

// Relationship returns the relationship snapshot. On the own profile it is
// always the zero Snapshot.
func (v *View) Relationship() relationship.Snapshot {
	if v.rel == nil {
		return relationship.Snapshot{}
	}
	return v.rel.Snapshot()
}

// Actions returns the actions for the current state.
func (v *View) Actions() Actions {
	return ActionsFor(v.own, v.Relationship())
}

// OnChange registers fn for relationship updates. It is a no-op on the own
// profile.
func (v *View) OnChange(fn func(relationship.Snapshot)) (unsubscribe func()) {
	if v.rel == nil {
		return func() {}
	}
	return v.rel.Subscribe(fn)
}

// Close abandons in-flight calls.
func (v *View) Close() {
	if v.rel != nil {
		v.rel.Close()
	}
}

// report logs err and shows msg. Errors after Close are dropped silently.
func (v *View) report(msg string, err error) {
	if errors.Is(err, relationship.ErrClosed) {
		return
	}
	v.logger.Warn(msg, zap.Error(err), zap.Stringer("kind", gateway.KindOf(err)))
	notify.ShowError(v.toaster, msg)
}

func (v *View) succeed(msg string) {
	notify.ShowSuccess(v.toaster, msg)
}

// act runs a relationship action behind the error boundary.
func (v *View) act(ctx context.Context, okMsg, failMsg string, fn func(context.Context) (relationship.Snapshot, error)) error {
	if v.rel == nil {
		notify.ShowError(v.toaster, failMsg)
		return ErrOwnProfile
	}
	if _, err := fn(ctx); err != nil {
		v.report(failMsg, err)
		return err
	}
	v.succeed(okMsg)
	return nil
}

// AddFriend sends a friend request with an optional message.
func (v *View) AddFriend(ctx context.Context, message string) error {
	return v.act(ctx, "Friend request sent!", "Failed to send friend request.",
		func(ctx context.Context) (relationship.Snapshot, error) {
			return v.rel.SendFriendRequest(ctx, message)
		})
}

// CancelRequest withdraws the outgoing request.
func (v *View) CancelRequest(ctx context.Context) error {
	if v.rel == nil {
		notify.ShowError(v.toaster, "Failed to cancel request")
		return ErrOwnProfile
	}
	_, err := v.rel.CancelFriendRequest(ctx)
	switch {
	case err == nil:
		v.succeed("Friend request cancelled")
	case errors.Is(err, relationship.ErrRequestIDMissing):
		v.report("Cannot cancel request: ID missing", err)
	default:
		v.report("Failed to cancel request", err)
	}
	return err
}

// AcceptRequest accepts the incoming request.
func (v *View) AcceptRequest(ctx context.Context) error {
	return v.act(ctx, "Friend request accepted!", "Failed to accept friend request.",
		func(ctx context.Context) (relationship.Snapshot, error) {
			return v.rel.Respond(ctx, true)
		})
}

// DeclineRequest declines the incoming request.
func (v *View) DeclineRequest(ctx context.Context) error {
	return v.act(ctx, "Friend request declined", "Failed to decline friend request.",
		func(ctx context.Context) (relationship.Snapshot, error) {
			return v.rel.Respond(ctx, false)
		})
}

// Block blocks the user with an optional reason.
func (v *View) Block(ctx context.Context, reason string) error {
	return v.act(ctx, "Blocked "+v.Profile().Username, "Failed to block user.",
		func(ctx context.Context) (relationship.Snapshot, error) {
			return v.rel.Block(ctx, reason)
		})
}

// Unblock lifts the viewer's block.
func (v *View) Unblock(ctx context.Context) error {
	return v.act(ctx, "Unblocked "+v.Profile().Username, "Failed to unblock user.",
		func(ctx context.Context) (relationship.Snapshot, error) {
			return v.rel.Unblock(ctx)
		})
}

// Refresh reloads the profile and the relationship.
func (v *View) Refresh(ctx context.Context) error {
	if err := v.loadProfile(ctx, v.Profile().Username); err != nil {
		v.report("Failed to load profile.", err)
		return err
	}
	if v.rel == nil {
		return nil
	}
	if _, err := v.rel.Refresh(ctx); err != nil {
		v.report("Failed to load relationship status.", err)
		return err
	}
	return nil
}

// Update edits the own profile.
func (v *View) Update(ctx context.Context, u Update) error {
	if !v.own {
		notify.ShowError(v.toaster, "You can only edit your own profile.")
		return ErrNotOwner
	}
	upd, err := u.wire()
	if err != nil {
		v.report("Invalid profile data.", err)
		return err
	}
	w, err := v.backend.UpdateProfile(ctx, upd)
	if err != nil {
		v.report("Failed to update profile.", err)
		return fmt.Errorf("profile: update: %w", err)
	}
	v.mu.Lock()
	v.profile = FromWire(w)
	v.mu.Unlock()
	v.succeed("Profile updated")
	return nil
}
