package social_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kasuganosora/tovplay/model"
	"github.com/kasuganosora/tovplay/social"
	"github.com/kasuganosora/tovplay/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
)

type push struct {
	to      int64
	typ     string
	payload any
}

type recorder struct {
	mu     sync.Mutex
	pushes []push
}

func (r *recorder) Push(_ context.Context, to int64, typ string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = append(r.pushes, push{to, typ, payload})
}

func (r *recorder) changes(to int64) []social.RelationshipChanged {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []social.RelationshipChanged
	for _, p := range r.pushes {
		if p.to == to && p.typ == social.PushRelationshipChanged {
			out = append(out, p.payload.(social.RelationshipChanged))
		}
	}
	return out
}

type fixture struct {
	svc        *social.Service
	rec        *recorder
	alice, bob *model.Account
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	rec := &recorder{}
	svc := social.NewService(db, rec, bcrypt.MinCost, zap.NewNop())
	ctx := context.Background()
	alice, err := svc.CreateAccount(ctx, social.NewAccount{
		Username: "alice", Email: "Alice@Example.com", Password: "secret", DiscordUsername: "alice#1",
		Profile: model.Profile{Availability: datatypes.JSONSlice[string]{"mon 18:00", "tue 20:00", "sat 10:00"}},
	})
	require.NoError(t, err)
	bob, err := svc.CreateAccount(ctx, social.NewAccount{
		Username: "bob", Email: "bob@example.com", Password: "secret",
		Profile: model.Profile{Availability: datatypes.JSONSlice[string]{"sat 10:00", "mon 18:00"}},
	})
	require.NoError(t, err)
	return &fixture{svc: svc, rec: rec, alice: alice, bob: bob}
}

func kind(err error) error {
	for _, k := range []error{social.ErrNotFound, social.ErrInvalid, social.ErrConflict, social.ErrForbidden, social.ErrAuth} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

func TestCreateAccountAndAuthenticate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	acc, err := f.svc.Authenticate(ctx, "alice@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, f.alice.ID, acc.ID)

	_, err = f.svc.Authenticate(ctx, "alice@example.com", "wrong")
	assert.Equal(t, social.ErrAuth, kind(err))
	assert.EqualError(t, err, "Invalid email or password")

	_, err = f.svc.CreateAccount(ctx, social.NewAccount{Username: "alice", Email: "x@example.com", Password: "secret"})
	assert.Equal(t, social.ErrConflict, kind(err))

	_, err = f.svc.CreateAccount(ctx, social.NewAccount{Username: "c", Email: "", Password: "secret"})
	assert.Equal(t, social.ErrInvalid, kind(err))
}

func TestRelationship_RequestLifecycle(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rel, err := f.svc.CheckRelationship(ctx, f.alice, "bob")
	require.NoError(t, err)
	assert.Equal(t, social.StatusNone, rel.Status)

	req, err := f.svc.SendFriendRequest(ctx, f.alice, "bob", "  hi  ")
	require.NoError(t, err)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, req.ID, req.RequestID)
	assert.Equal(t, "hi", req.Message)

	rel, err = f.svc.CheckRelationship(ctx, f.alice, "bob")
	require.NoError(t, err)
	assert.Equal(t, social.StatusPending, rel.Status)
	assert.Equal(t, social.DirectionOutgoing, rel.Direction)
	assert.Equal(t, req.ID, rel.RequestID)

	rel, err = f.svc.CheckRelationship(ctx, f.bob, "alice")
	require.NoError(t, err)
	assert.Equal(t, social.DirectionIncoming, rel.Direction)
	assert.Equal(t, "alice", rel.SenderUsername)
	assert.Equal(t, "hi", rel.Message)

	_, err = f.svc.SendFriendRequest(ctx, f.alice, "bob", "")
	assert.Equal(t, social.ErrConflict, kind(err))
	_, err = f.svc.SendFriendRequest(ctx, f.bob, "alice", "")
	assert.Equal(t, social.ErrConflict, kind(err), "incoming request exists")

	received, err := f.svc.ReceivedRequests(ctx, f.bob)
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, "alice", received[0].SenderUsername)

	notes, err := f.svc.Notifications(ctx, f.bob)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, model.NotificationFriendRequest, notes[0].Type)
	assert.Equal(t, []social.RelationshipChanged{{Username: "alice", Action: "request"}}, f.rec.changes(f.bob.ID))

	// Only the recipient may respond, only the sender may cancel.
	_, err = f.svc.RespondToFriendRequest(ctx, f.alice, req.ID, true)
	assert.Equal(t, social.ErrNotFound, kind(err))
	assert.Equal(t, social.ErrNotFound, kind(f.svc.CancelFriendRequest(ctx, f.bob, req.ID)))

	rel, err = f.svc.RespondToFriendRequest(ctx, f.bob, req.ID, true)
	require.NoError(t, err)
	assert.Equal(t, social.StatusAccepted, rel.Status)

	friends, err := f.svc.Friends(ctx, f.alice)
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.Equal(t, "bob", friends[0].Username)

	_, err = f.svc.SendFriendRequest(ctx, f.alice, "bob", "")
	assert.Equal(t, social.ErrConflict, kind(err))

	notes, err = f.svc.Notifications(ctx, f.alice)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, model.NotificationFriendAccepted, notes[0].Type)
}

func TestRelationship_CancelAndDecline(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	req, err := f.svc.SendFriendRequest(ctx, f.alice, "bob", "")
	require.NoError(t, err)
	require.NoError(t, f.svc.CancelFriendRequest(ctx, f.alice, req.ID))
	assert.Equal(t, social.ErrNotFound, kind(f.svc.CancelFriendRequest(ctx, f.alice, req.ID)))

	rel, err := f.svc.CheckRelationship(ctx, f.bob, "alice")
	require.NoError(t, err)
	assert.Equal(t, social.StatusNone, rel.Status)

	req, err = f.svc.SendFriendRequest(ctx, f.alice, "bob", "")
	require.NoError(t, err)
	rel, err = f.svc.RespondToFriendRequest(ctx, f.bob, req.ID, false)
	require.NoError(t, err)
	assert.Equal(t, social.StatusNone, rel.Status)

	changes := f.rec.changes(f.alice.ID)
	require.NotEmpty(t, changes)
	assert.Equal(t, "decline", changes[len(changes)-1].Action)
}

func TestRelationship_Block(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	req, err := f.svc.SendFriendRequest(ctx, f.alice, "bob", "")
	require.NoError(t, err)
	_, err = f.svc.RespondToFriendRequest(ctx, f.bob, req.ID, true)
	require.NoError(t, err)

	require.NoError(t, f.svc.BlockUser(ctx, f.alice, "bob", "spam"))

	rel, err := f.svc.CheckRelationship(ctx, f.alice, "bob")
	require.NoError(t, err)
	assert.Equal(t, social.StatusBlocked, rel.Status)
	assert.True(t, rel.BlockedByMe)
	assert.Equal(t, "spam", rel.BlockingReason)

	rel, err = f.svc.CheckRelationship(ctx, f.bob, "alice")
	require.NoError(t, err)
	assert.Equal(t, social.StatusBlocked, rel.Status)
	assert.False(t, rel.BlockedByMe)
	assert.Empty(t, rel.BlockingReason)

	friends, err := f.svc.Friends(ctx, f.bob)
	require.NoError(t, err)
	assert.Empty(t, friends, "blocking ends the friendship")

	_, err = f.svc.SendFriendRequest(ctx, f.bob, "alice", "")
	assert.Equal(t, social.ErrForbidden, kind(err))

	// Blocking again only updates the reason.
	require.NoError(t, f.svc.BlockUser(ctx, f.alice, "bob", "still spam"))
	rel, err = f.svc.CheckRelationship(ctx, f.alice, "bob")
	require.NoError(t, err)
	assert.Equal(t, "still spam", rel.BlockingReason)

	assert.Equal(t, social.ErrInvalid, kind(f.svc.BlockUser(ctx, f.alice, "alice", "")))
	assert.Equal(t, social.ErrNotFound, kind(f.svc.UnblockUser(ctx, f.bob, "", "alice")))

	require.NoError(t, f.svc.UnblockUser(ctx, f.alice, "ignored", "bob"))
	rel, err = f.svc.CheckRelationship(ctx, f.alice, "bob")
	require.NoError(t, err)
	assert.Equal(t, social.StatusNone, rel.Status)
	assert.Equal(t, social.ErrNotFound, kind(f.svc.UnblockUser(ctx, f.alice, "", "bob")))
}

func TestSendFriendRequest_Validation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.SendFriendRequest(ctx, f.alice, "alice", "")
	assert.Equal(t, social.ErrInvalid, kind(err))
	_, err = f.svc.SendFriendRequest(ctx, f.alice, "nobody", "")
	assert.Equal(t, social.ErrNotFound, kind(err))
	long := make([]byte, 501)
	for i := range long {
		long[i] = 'x'
	}
	_, err = f.svc.SendFriendRequest(ctx, f.alice, "bob", string(long))
	assert.Equal(t, social.ErrInvalid, kind(err))
}

func TestProfiles(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	own, err := f.svc.OwnProfile(ctx, f.alice)
	require.NoError(t, err)
	assert.Equal(t, "alice#1", own.DiscordUsername)
	assert.Equal(t, []string{}, own.Games)

	bio, comm := "hello", "voice"
	games := []string{"Dota 2", " ", "Dota 2", "Apex"}
	upd, err := f.svc.UpdateProfile(ctx, f.alice, social.ProfileUpdate{Bio: &bio, CommunicationPreference: &comm, Games: &games})
	require.NoError(t, err)
	assert.Equal(t, "hello", upd.Bio)
	assert.Equal(t, []string{"Dota 2", "Apex"}, upd.Games)

	bad := "telepathy"
	_, err = f.svc.UpdateProfile(ctx, f.alice, social.ProfileUpdate{Openness: &bad})
	assert.Equal(t, social.ErrInvalid, kind(err))

	pub, err := f.svc.PublicProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "hello", pub.Bio)
	assert.Empty(t, pub.DiscordUsername, "discord handle is private")
	assert.Equal(t, 0, pub.FriendCount)

	_, err = f.svc.PublicProfile(ctx, "nobody")
	assert.Equal(t, social.ErrNotFound, kind(err))
}

func TestOverlappingTimes(t *testing.T) {
	f := setup(t)
	ot, err := f.svc.OverlappingTimes(context.Background(), f.alice, "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", ot.RecipientUsername)
	assert.Equal(t, []string{"mon 18:00", "sat 10:00"}, ot.Slots)
}

func TestNotificationsMarkRead(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	n1, err := f.svc.Notify(ctx, f.bob.ID, model.NotificationSessionCancellation, "session cancelled", "host left")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	n2, err := f.svc.Notify(ctx, f.bob.ID, model.NotificationFriendRequest, "x", "")
	require.NoError(t, err)

	notes, err := f.svc.Notifications(ctx, f.bob)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, n2.ID, notes[0].ID, "newest first")
	assert.Equal(t, "host left", notes[1].CancellationReason)

	n, err := f.svc.MarkRead(ctx, f.alice, []int64{n1.ID})
	require.NoError(t, err)
	assert.Zero(t, n, "other accounts' notifications are untouched")

	n, err = f.svc.MarkRead(ctx, f.bob, []int64{n1.ID, n2.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	n, err = f.svc.MarkRead(ctx, f.bob, []int64{n1.ID})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCommunity(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	st, err := f.svc.CommunityStatus(ctx, f.alice)
	require.NoError(t, err)
	assert.Nil(t, st.InCommunity)

	_, err = f.svc.CommunityStatus(ctx, f.bob)
	assert.Equal(t, social.ErrInvalid, kind(err))
	assert.EqualError(t, err, "User not connected with Discord")

	require.NoError(t, f.svc.SetInCommunity(ctx, f.alice))
	st, err = f.svc.CommunityStatus(ctx, f.alice)
	require.NoError(t, err)
	require.NotNil(t, st.InCommunity)
	assert.True(t, *st.InCommunity)
}

func TestPruneNotifications(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	read, err := f.svc.Notify(ctx, f.bob.ID, model.NotificationFriendRequest, "old", "")
	require.NoError(t, err)
	_, err = f.svc.Notify(ctx, f.bob.ID, model.NotificationFriendRequest, "unread", "")
	require.NoError(t, err)
	_, err = f.svc.MarkRead(ctx, f.bob, []int64{read.ID})
	require.NoError(t, err)

	n, err := f.svc.PruneNotifications(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	notes, err := f.svc.Notifications(ctx, f.bob)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "unread", notes[0].Message)
}
