package profile

import (
	"context"
	"sync"
	"testing"

	"github.com/kasuganosora/tovplay/gateway"
	"github.com/kasuganosora/tovplay/notify"
	"github.com/kasuganosora/tovplay/relationship"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBackend struct {
	mu         sync.Mutex
	profiles   map[string]gateway.Profile
	me         string
	rel        gateway.Relationship
	checkErr   error
	cmdErr     error
	hideID     bool
	lastUpdate gateway.ProfileUpdate
}

func newFake() *fakeBackend {
	return &fakeBackend{
		me: "alice",
		profiles: map[string]gateway.Profile{
			"alice": {Username: "alice", Bio: "me", Games: []string{"Chess"}},
			"bob":   {Username: "bob", Bio: "hi there", FriendCount: 4},
		},
		rel: gateway.Relationship{Status: "none"},
	}
}

func (f *fakeBackend) CheckRelationship(_ context.Context, _ string) (*gateway.Relationship, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	r := f.rel
	if f.hideID {
		r.RequestID = ""
	}
	return &r, nil
}

func (f *fakeBackend) SendFriendRequest(_ context.Context, _, message string) (*gateway.FriendRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cmdErr != nil {
		return nil, f.cmdErr
	}
	f.rel = gateway.Relationship{Status: "pending", Direction: "outgoing", RequestID: "1", Message: message}
	return &gateway.FriendRequest{}, nil
}

func (f *fakeBackend) CancelFriendRequest(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rel = gateway.Relationship{Status: "none"}
	return f.cmdErr
}

func (f *fakeBackend) RespondToFriendRequest(_ context.Context, _ string, accept bool) (*gateway.Relationship, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if accept {
		f.rel = gateway.Relationship{Status: "accepted"}
	} else {
		f.rel = gateway.Relationship{Status: "none"}
	}
	r := f.rel
	return &r, f.cmdErr
}

func (f *fakeBackend) BlockUser(_ context.Context, _, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cmdErr != nil {
		return f.cmdErr
	}
	f.rel = gateway.Relationship{Status: "blocked", BlockingReason: reason, BlockedByMe: true}
	return nil
}

func (f *fakeBackend) UnblockUser(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rel = gateway.Relationship{Status: "none"}
	return f.cmdErr
}

func (f *fakeBackend) CurrentProfile(context.Context) (*gateway.Profile, error) {
	p := f.profiles[f.me]
	return &p, nil
}

func (f *fakeBackend) PublicProfile(_ context.Context, username string) (*gateway.Profile, error) {
	p, ok := f.profiles[username]
	if !ok {
		return nil, &gateway.Error{Kind: gateway.KindNotFound, Status: 404, Message: "user not found"}
	}
	return &p, nil
}

func (f *fakeBackend) UpdateProfile(_ context.Context, upd gateway.ProfileUpdate) (*gateway.Profile, error) {
	f.lastUpdate = upd
	p := f.profiles[f.me]
	if upd.Bio != nil {
		p.Bio = *upd.Bio
	}
	f.profiles[f.me] = p
	return &p, nil
}

func (f *fakeBackend) set(fn func(*fakeBackend)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func open(t *testing.T, f *fakeBackend, username string) (*View, *notify.Feed) {
	t.Helper()
	feed := notify.NewFeed(16)
	v, err := Open(context.Background(), Options{
		Backend: f, Viewer: "alice", Username: username, Toaster: feed, Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(v.Close)
	return v, feed
}

func lastToast(t *testing.T, feed *notify.Feed) notify.Toast {
	t.Helper()
	toasts := feed.Drain()
	require.NotEmpty(t, toasts)
	return toasts[len(toasts)-1]
}

func TestActionsFor(t *testing.T) {
	snap := func(s relationship.State, byMe bool) relationship.Snapshot {
		return relationship.Snapshot{Relationship: relationship.Relationship{State: s, BlockedByMe: byMe, Message: "hi", BlockingReason: "spam"}}
	}
	cases := []struct {
		name      string
		own       bool
		snap      relationship.Snapshot
		primary   ActionKind
		enabled   bool
		secondary ActionKind
	}{
		{"own", true, snap(relationship.Accepted, false), ActionEditProfile, true, ""},
		{"none", false, snap(relationship.None, false), ActionAddFriend, true, ""},
		{"outgoing", false, snap(relationship.PendingOutgoing, false), ActionRequestSent, true, ActionCancelRequest},
		{"incoming", false, snap(relationship.PendingIncoming, false), ActionAccept, true, ActionDecline},
		{"accepted", false, snap(relationship.Accepted, false), ActionFriends, false, ""},
		{"blocked by me", false, snap(relationship.Blocked, true), ActionUnblock, true, ""},
		{"blocked by them", false, snap(relationship.Blocked, false), ActionBlocked, false, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := ActionsFor(tc.own, tc.snap)
			assert.Equal(t, tc.primary, a.Primary.Kind)
			assert.Equal(t, tc.enabled, a.Primary.Enabled)
			if tc.secondary == "" {
				assert.Nil(t, a.Secondary)
			} else {
				require.NotNil(t, a.Secondary)
				assert.Equal(t, tc.secondary, a.Secondary.Kind)
			}
		})
	}
	assert.Equal(t, "hi", ActionsFor(false, snap(relationship.PendingOutgoing, false)).Note)
	assert.Equal(t, "spam", ActionsFor(false, snap(relationship.Blocked, true)).Note)
	assert.False(t, ActionsFor(false, snap(relationship.Blocked, true)).CanBlock)
}

func TestView_SendAndCancel(t *testing.T) {
	f := newFake()
	v, feed := open(t, f, "bob")
	assert.False(t, v.Own())
	assert.Equal(t, 4, v.Profile().FriendCount)
	assert.Equal(t, ActionAddFriend, v.Actions().Primary.Kind)

	require.NoError(t, v.AddFriend(context.Background(), "hi"))
	assert.Equal(t, "Friend request sent!", lastToast(t, feed).Message)
	a := v.Actions()
	assert.Equal(t, ActionRequestSent, a.Primary.Kind)
	assert.Equal(t, "hi", a.Note)

	require.NoError(t, v.CancelRequest(context.Background()))
	assert.Equal(t, "Friend request cancelled", lastToast(t, feed).Message)
	assert.Equal(t, ActionAddFriend, v.Actions().Primary.Kind)
}

func TestView_CancelMissingID(t *testing.T) {
	f := newFake()
	f.rel = gateway.Relationship{Status: "pending", Direction: "outgoing", RequestID: "7"}
	f.hideID = true
	v, feed := open(t, f, "bob")

	err := v.CancelRequest(context.Background())
	assert.ErrorIs(t, err, relationship.ErrRequestIDMissing)
	toast := lastToast(t, feed)
	assert.Equal(t, notify.Error, toast.Level)
	assert.Equal(t, "Cannot cancel request: ID missing", toast.Message)
	assert.Equal(t, ActionRequestSent, v.Actions().Primary.Kind, "view stays interactive")
}

func TestView_ActionFailureIsReported(t *testing.T) {
	f := newFake()
	v, feed := open(t, f, "bob")
	f.set(func(f *fakeBackend) {
		f.cmdErr = &gateway.Error{Kind: gateway.KindServer, Status: 500}
	})

	err := v.Block(context.Background(), "spam")
	assert.True(t, gateway.IsKind(err, gateway.KindServer))
	toast := lastToast(t, feed)
	assert.Equal(t, notify.Error, toast.Level)
	assert.Equal(t, "Failed to block user.", toast.Message)
	assert.Equal(t, ActionAddFriend, v.Actions().Primary.Kind)
}

func TestView_BlockAndUnblock(t *testing.T) {
	f := newFake()
	f.rel = gateway.Relationship{Status: "accepted"}
	v, feed := open(t, f, "bob")
	assert.Equal(t, ActionFriends, v.Actions().Primary.Kind)

	require.NoError(t, v.Block(context.Background(), "spam"))
	assert.Equal(t, "Blocked bob", lastToast(t, feed).Message)
	a := v.Actions()
	assert.Equal(t, ActionUnblock, a.Primary.Kind)
	assert.Equal(t, "spam", a.Note)

	require.NoError(t, v.Unblock(context.Background()))
	assert.Equal(t, "Unblocked bob", lastToast(t, feed).Message)
	assert.Empty(t, v.Relationship().BlockingReason)
}

func TestView_AcceptAndDecline(t *testing.T) {
	f := newFake()
	f.rel = gateway.Relationship{Status: "pending", Direction: "incoming", RequestID: "3"}
	v, _ := open(t, f, "bob")
	assert.Equal(t, ActionAccept, v.Actions().Primary.Kind)
	require.NoError(t, v.AcceptRequest(context.Background()))
	assert.Equal(t, relationship.Accepted, v.Relationship().State)

	f.set(func(f *fakeBackend) { f.rel = gateway.Relationship{Status: "pending", Direction: "incoming", RequestID: "4"} })
	require.NoError(t, v.Refresh(context.Background()))
	require.NoError(t, v.DeclineRequest(context.Background()))
	assert.Equal(t, relationship.None, v.Relationship().State)
}

func TestView_RelationshipLoadFailureIsNotFatal(t *testing.T) {
	f := newFake()
	f.checkErr = &gateway.Error{Kind: gateway.KindNetwork}
	v, feed := open(t, f, "bob")

	assert.Equal(t, relationship.None, v.Relationship().State)
	assert.False(t, v.Relationship().Loaded)
	assert.Equal(t, notify.Error, lastToast(t, feed).Level)
}

func TestView_ProfileNotFound(t *testing.T) {
	_, err := Open(context.Background(), Options{Backend: newFake(), Viewer: "alice", Username: "ghost"})
	assert.True(t, gateway.IsKind(err, gateway.KindNotFound))
}

func TestView_OwnProfile(t *testing.T) {
	f := newFake()
	v, feed := open(t, f, "alice")
	assert.True(t, v.Own())
	assert.Equal(t, ActionEditProfile, v.Actions().Primary.Kind)
	assert.Equal(t, relationship.Snapshot{}, v.Relationship())

	assert.ErrorIs(t, v.AddFriend(context.Background(), ""), ErrOwnProfile)
	assert.ErrorIs(t, v.CancelRequest(context.Background()), ErrOwnProfile)
	feed.Drain()

	bio := "updated"
	require.NoError(t, v.Update(context.Background(), Update{Bio: &bio}))
	assert.Equal(t, "updated", v.Profile().Bio)
	assert.Equal(t, "Profile updated", lastToast(t, feed).Message)

	unsub := v.OnChange(func(relationship.Snapshot) {})
	unsub()
}

func TestView_UpdateNotOwner(t *testing.T) {
	v, _ := open(t, newFake(), "bob")
	bio := "x"
	assert.ErrorIs(t, v.Update(context.Background(), Update{Bio: &bio}), ErrNotOwner)
}

func TestView_ClosedDropsErrors(t *testing.T) {
	v, feed := open(t, newFake(), "bob")
	feed.Drain()
	v.Close()

	assert.ErrorIs(t, v.AddFriend(context.Background(), "hi"), relationship.ErrClosed)
	assert.Empty(t, feed.Drain())
}
