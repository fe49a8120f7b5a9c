package social

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/tovplay/metrics"
	"github.com/kasuganosora/tovplay/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Wire statuses.
const (
	StatusNone     = "none"
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusBlocked  = "blocked"

	DirectionOutgoing = "outgoing"
	DirectionIncoming = "incoming"
)

const maxMessageLen = 500

// Relationship is the relationship between the viewer and another user,
// seen from the viewer's side.
type Relationship struct {
	Status            string `json:"status"`
	RequestID         string `json:"request_id,omitempty"`
	Message           string `json:"message,omitempty"`
	BlockingReason    string `json:"blocking_reason,omitempty"`
	Direction         string `json:"direction,omitempty"`
	SenderUsername    string `json:"sender_username,omitempty"`
	RecipientUsername string `json:"recipient_username,omitempty"`
	BlockedByMe       bool   `json:"blocked_by_me"`
}

// FriendRequest is a pending request as returned to clients.
type FriendRequest struct {
	ID                string    `json:"id"`
	RequestID         string    `json:"request_id"`
	SenderUsername    string    `json:"sender_username"`
	RecipientUsername string    `json:"recipient_username"`
	Message           string    `json:"message,omitempty"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
}

// Friend is an entry of the friend list.
type Friend struct {
	Username   string     `json:"username"`
	ProfilePic string     `json:"profile_pic,omitempty"`
	LastSeen   *time.Time `json:"last_seen"`
	Games      []string   `json:"games,omitempty"`
}

// RelationshipChanged is pushed to the other side of a mutation.
type RelationshipChanged struct {
	Username string `json:"username"`
	Action   string `json:"action"`
}

func requestView(r *model.FriendRequest, sender, recipient string) FriendRequest {
	return FriendRequest{
		ID:                r.ID,
		RequestID:         r.ID,
		SenderUsername:    sender,
		RecipientUsername: recipient,
		Message:           r.Message,
		Status:            StatusPending,
		CreatedAt:         r.CreatedAt,
	}
}

func lookupBlock(tx *gorm.DB, blocker, blocked int64) (*model.Block, error) {
	var b model.Block
	ok, err := found(tx.Where("blocker_id = ? AND blocked_id = ?", blocker, blocked).First(&b).Error)
	if !ok || err != nil {
		return nil, err
	}
	return &b, nil
}

func lookupRequest(tx *gorm.DB, sender, recipient int64) (*model.FriendRequest, error) {
	var r model.FriendRequest
	ok, err := found(tx.Where("sender_id = ? AND recipient_id = ?", sender, recipient).First(&r).Error)
	if !ok || err != nil {
		return nil, err
	}
	return &r, nil
}

func areFriends(tx *gorm.DB, a, b int64) (bool, error) {
	low, high := model.OrderedPair(a, b)
	var n int64
	err := tx.Model(&model.Friendship{}).Where("low_id = ? AND high_id = ?", low, high).Count(&n).Error
	return n > 0, err
}

func (s *Service) relationship(tx *gorm.DB, viewer, other *model.Account) (*Relationship, error) {
	if b, err := lookupBlock(tx, viewer.ID, other.ID); err != nil {
		return nil, err
	} else if b != nil {
		return &Relationship{Status: StatusBlocked, BlockingReason: b.Reason, BlockedByMe: true}, nil
	}
	// The blocked side learns that it is blocked but not why.
	if b, err := lookupBlock(tx, other.ID, viewer.ID); err != nil {
		return nil, err
	} else if b != nil {
		return &Relationship{Status: StatusBlocked}, nil
	}
	if ok, err := areFriends(tx, viewer.ID, other.ID); err != nil {
		return nil, err
	} else if ok {
		return &Relationship{Status: StatusAccepted}, nil
	}
	if r, err := lookupRequest(tx, viewer.ID, other.ID); err != nil {
		return nil, err
	} else if r != nil {
		return &Relationship{
			Status: StatusPending, RequestID: r.ID, Message: r.Message, Direction: DirectionOutgoing,
			SenderUsername: viewer.Username, RecipientUsername: other.Username,
		}, nil
	}
	if r, err := lookupRequest(tx, other.ID, viewer.ID); err != nil {
		return nil, err
	} else if r != nil {
		return &Relationship{
			Status: StatusPending, RequestID: r.ID, Message: r.Message, Direction: DirectionIncoming,
			SenderUsername: other.Username, RecipientUsername: viewer.Username,
		}, nil
	}
	return &Relationship{Status: StatusNone}, nil
}

// CheckRelationship reports the relationship between viewer and username.
// It has no side effects.
func (s *Service) CheckRelationship(ctx context.Context, viewer *model.Account, username string) (*Relationship, error) {
	other, err := s.AccountByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.relationship(s.db.WithContext(ctx), viewer, other)
}

func (s *Service) pushChange(ctx context.Context, to int64, from, action string) {
	metrics.RelationshipMutations.WithLabelValues(action).Inc()
	s.notifier.Push(ctx, to, PushRelationshipChanged, RelationshipChanged{Username: from, Action: action})
}

func (s *Service) notify(tx *gorm.DB, accountID int64, typ, msg string) (*model.Notification, error) {
	n := &model.Notification{AccountID: accountID, Type: typ, Message: msg}
	if err := tx.Create(n).Error; err != nil {
		return nil, err
	}
	return n, nil
}

// SendFriendRequest creates a request from viewer to recipient. A request
// while the recipient already asked the viewer is a conflict; the client
// resolves it by re-reading the relationship.
func (s *Service) SendFriendRequest(ctx context.Context, viewer *model.Account, recipient, message string) (*FriendRequest, error) {
	message = strings.TrimSpace(message)
	if len(message) > maxMessageLen {
		return nil, fail(ErrInvalid, "Message is too long")
	}
	other, err := s.AccountByUsername(ctx, recipient)
	if err != nil {
		return nil, err
	}
	if other.ID == viewer.ID {
		return nil, fail(ErrInvalid, "You cannot send a friend request to yourself")
	}

	var (
		req  *model.FriendRequest
		note *model.Notification
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rel, err := s.relationship(tx, viewer, other)
		if err != nil {
			return err
		}
		switch {
		case rel.Status == StatusBlocked:
			return fail(ErrForbidden, "You cannot send a friend request to this user")
		case rel.Status == StatusAccepted:
			return fail(ErrConflict, "You are already friends")
		case rel.Direction == DirectionOutgoing:
			return fail(ErrConflict, "Friend request already sent")
		case rel.Direction == DirectionIncoming:
			return fail(ErrConflict, "This user already sent you a friend request")
		}
		req = &model.FriendRequest{ID: uuid.NewString(), SenderID: viewer.ID, RecipientID: other.ID, Message: message}
		if err := tx.Create(req).Error; err != nil {
			if isUniqueViolation(err) {
				return fail(ErrConflict, "Friend request already sent")
			}
			return err
		}
		note, err = s.notify(tx, other.ID, model.NotificationFriendRequest,
			viewer.Username+" sent you a friend request")
		return err
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Push(ctx, other.ID, PushNotification, note)
	s.pushChange(ctx, other.ID, viewer.Username, "request")
	s.logger.Debug("friend request sent",
		zap.String("from", viewer.Username), zap.String("to", other.Username), zap.String("request_id", req.ID))
	v := requestView(req, viewer.Username, other.Username)
	return &v, nil
}

// CancelFriendRequest deletes a request the viewer sent.
func (s *Service) CancelFriendRequest(ctx context.Context, viewer *model.Account, requestID string) error {
	var req model.FriendRequest
	ok, err := found(s.db.WithContext(ctx).
		Where("id = ? AND sender_id = ?", requestID, viewer.ID).First(&req).Error)
	if err != nil {
		return err
	}
	if !ok {
		return fail(ErrNotFound, "Friend request not found")
	}
	res := s.db.WithContext(ctx).Delete(&model.FriendRequest{}, "id = ?", req.ID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fail(ErrNotFound, "Friend request not found")
	}
	s.pushChange(ctx, req.RecipientID, viewer.Username, "cancel")
	return nil
}

// RespondToFriendRequest accepts or declines a request sent to the viewer
// and returns the resulting relationship.
func (s *Service) RespondToFriendRequest(ctx context.Context, viewer *model.Account, requestID string, accept bool) (*Relationship, error) {
	var (
		sender *model.Account
		rel    *Relationship
		note   *model.Notification
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var req model.FriendRequest
		ok, err := found(tx.Where("id = ? AND recipient_id = ?", requestID, viewer.ID).First(&req).Error)
		if err != nil {
			return err
		}
		if !ok {
			return fail(ErrNotFound, "Friend request not found")
		}
		sender = &model.Account{}
		if err := tx.First(sender, req.SenderID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&model.FriendRequest{}, "id = ?", req.ID).Error; err != nil {
			return err
		}
		if accept {
			low, high := model.OrderedPair(viewer.ID, sender.ID)
			f := model.Friendship{LowID: low, HighID: high}
			if err := tx.Where(f).FirstOrCreate(&f).Error; err != nil {
				return err
			}
			note, err = s.notify(tx, sender.ID, model.NotificationFriendAccepted,
				viewer.Username+" accepted your friend request")
			if err != nil {
				return err
			}
		}
		rel, err = s.relationship(tx, viewer, sender)
		return err
	})
	if err != nil {
		return nil, err
	}
	action := "decline"
	if accept {
		action = "accept"
		s.notifier.Push(ctx, sender.ID, PushNotification, note)
	}
	s.pushChange(ctx, sender.ID, viewer.Username, action)
	return rel, nil
}

// BlockUser blocks username. Pending requests in either direction and any
// friendship are removed. Blocking again updates the reason.
func (s *Service) BlockUser(ctx context.Context, viewer *model.Account, username, reason string) error {
	reason = strings.TrimSpace(reason)
	if len(reason) > maxMessageLen {
		return fail(ErrInvalid, "Message is too long")
	}
	other, err := s.AccountByUsername(ctx, username)
	if err != nil {
		return err
	}
	if other.ID == viewer.ID {
		return fail(ErrInvalid, "You cannot block yourself")
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("(sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)",
			viewer.ID, other.ID, other.ID, viewer.ID).Delete(&model.FriendRequest{}).Error; err != nil {
			return err
		}
		low, high := model.OrderedPair(viewer.ID, other.ID)
		if err := tx.Where("low_id = ? AND high_id = ?", low, high).Delete(&model.Friendship{}).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "blocker_id"}, {Name: "blocked_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"reason"}),
		}).Create(&model.Block{BlockerID: viewer.ID, BlockedID: other.ID, Reason: reason}).Error
	})
	if err != nil {
		return err
	}
	s.pushChange(ctx, other.ID, viewer.Username, "block")
	return nil
}

// UnblockUser lifts the viewer's block on username. requestID is accepted
// for compatibility and ignored; blocks are keyed by the pair.
func (s *Service) UnblockUser(ctx context.Context, viewer *model.Account, requestID, username string) error {
	other, err := s.AccountByUsername(ctx, username)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).
		Where("blocker_id = ? AND blocked_id = ?", viewer.ID, other.ID).
		Delete(&model.Block{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fail(ErrNotFound, "User is not blocked")
	}
	s.pushChange(ctx, other.ID, viewer.Username, "unblock")
	return nil
}

// Friends lists the viewer's friends ordered by username.
func (s *Service) Friends(ctx context.Context, viewer *model.Account) ([]Friend, error) {
	var links []model.Friendship
	if err := s.db.WithContext(ctx).
		Where("low_id = ? OR high_id = ?", viewer.ID, viewer.ID).
		Find(&links).Error; err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(links))
	for _, l := range links {
		if l.LowID == viewer.ID {
			ids = append(ids, l.HighID)
		} else {
			ids = append(ids, l.LowID)
		}
	}
	out := make([]Friend, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var accs []model.Account
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Order("username").Find(&accs).Error; err != nil {
		return nil, err
	}
	profiles, err := s.profilesByAccount(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, a := range accs {
		p := profiles[a.ID]
		out = append(out, Friend{Username: a.Username, ProfilePic: p.AvatarURL, LastSeen: a.LastSeenAt, Games: p.Games})
	}
	return out, nil
}

// ReceivedRequests lists pending requests sent to the viewer, newest first.
func (s *Service) ReceivedRequests(ctx context.Context, viewer *model.Account) ([]FriendRequest, error) {
	var reqs []model.FriendRequest
	if err := s.db.WithContext(ctx).
		Where("recipient_id = ?", viewer.ID).
		Order("created_at DESC").
		Find(&reqs).Error; err != nil {
		return nil, err
	}
	out := make([]FriendRequest, 0, len(reqs))
	if len(reqs) == 0 {
		return out, nil
	}
	ids := make([]int64, 0, len(reqs))
	for _, r := range reqs {
		ids = append(ids, r.SenderID)
	}
	var accs []model.Account
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&accs).Error; err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(accs))
	for _, a := range accs {
		names[a.ID] = a.Username
	}
	for i := range reqs {
		out = append(out, requestView(&reqs[i], names[reqs[i].SenderID], viewer.Username))
	}
	return out, nil
}
