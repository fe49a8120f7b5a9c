package social

import (
	"context"
	"time"

	"github.com/kasuganosora/tovplay/model"
)

const notificationLimit = 100

// Notifications lists the viewer's notifications, newest first.
func (s *Service) Notifications(ctx context.Context, viewer *model.Account) ([]model.Notification, error) {
	out := []model.Notification{}
	err := s.db.WithContext(ctx).
		Where("account_id = ?", viewer.ID).
		Order("created_at DESC").Order("id DESC").
		Limit(notificationLimit).
		Find(&out).Error
	return out, err
}

// MarkRead marks the given notifications read. Ids of other accounts are
// ignored. It returns the number of rows changed.
func (s *Service) MarkRead(ctx context.Context, viewer *model.Account, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("account_id = ? AND id IN ? AND is_read = ?", viewer.ID, ids, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}

// Notify stores a notification for accountID and pushes it.
func (s *Service) Notify(ctx context.Context, accountID int64, typ, msg, cancellationReason string) (*model.Notification, error) {
	n := &model.Notification{AccountID: accountID, Type: typ, Message: msg, CancellationReason: cancellationReason}
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return nil, err
	}
	s.notifier.Push(ctx, accountID, PushNotification, n)
	return n, nil
}

// CommunityStatus is the membership flag of an account. A nil InCommunity
// means membership was not checked yet.
type CommunityStatus struct {
	InCommunity *bool `json:"in_community"`
}

// CommunityStatus reports whether the viewer is in the Discord community.
func (s *Service) CommunityStatus(ctx context.Context, viewer *model.Account) (*CommunityStatus, error) {
	acc, err := s.Account(ctx, viewer.ID)
	if err != nil {
		return nil, err
	}
	if acc.DiscordUsername == "" {
		return nil, fail(ErrInvalid, "User not connected with Discord")
	}
	return &CommunityStatus{InCommunity: acc.InCommunity}, nil
}

// SetInCommunity records that the viewer joined the community.
func (s *Service) SetInCommunity(ctx context.Context, viewer *model.Account) error {
	if viewer.DiscordUsername == "" {
		return fail(ErrInvalid, "User not connected with Discord")
	}
	return s.db.WithContext(ctx).Model(&model.Account{}).
		Where("id = ?", viewer.ID).
		Update("in_community", true).Error
}

// TouchLogin records a successful sign-in.
func (s *Service) TouchLogin(ctx context.Context, acc *model.Account, ip string) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&model.Account{}).
		Where("id = ?", acc.ID).
		Updates(map[string]any{"last_login_at": now, "last_login_ip": ip, "last_seen_at": now}).Error
}

// PruneNotifications deletes read notifications created before cutoff.
func (s *Service) PruneNotifications(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("is_read = ? AND created_at < ?", true, cutoff).
		Delete(&model.Notification{})
	return res.RowsAffected, res.Error
}
