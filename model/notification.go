package model

import "time"

// Notification types.
const (
	NotificationFriendRequest       = "friend_request"
	NotificationFriendAccepted      = "friend_accepted"
	NotificationSessionCancellation = "session_cancellation"
)

// Notification is an entry of an account's notification feed.
type Notification struct {
	ID                 int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID          int64     `gorm:"index:idx_notification_account;not null" json:"-"`
	Type               string    `gorm:"size:32;not null" json:"type"`
	Message            string    `gorm:"size:500" json:"message"`
	IsRead             bool      `gorm:"default:false" json:"is_read"`
	CancellationReason string    `gorm:"size:500" json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time `gorm:"index:idx_notification_account;autoCreateTime:milli" json:"created_at"`
}
