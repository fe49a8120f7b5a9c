package model

import "time"

// FriendRequest is a pending request from Sender to Recipient. It is
// deleted when accepted, declined or cancelled.
type FriendRequest struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	SenderID    int64     `gorm:"uniqueIndex:idx_request_pair;not null" json:"-"`
	RecipientID int64     `gorm:"uniqueIndex:idx_request_pair;index;not null" json:"-"`
	Message     string    `gorm:"size:500" json:"message,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Friendship links two accounts. LowID < HighID so a pair is stored once.
type Friendship struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	LowID     int64     `gorm:"uniqueIndex:idx_friend_pair;not null" json:"-"`
	HighID    int64     `gorm:"uniqueIndex:idx_friend_pair;index;not null" json:"-"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// OrderedPair returns a and b with the smaller id first.
func OrderedPair(a, b int64) (low, high int64) {
	if a < b {
		return a, b
	}
	return b, a
}

// Block records that Blocker blocked Blocked. Both sides may block each
// other independently.
type Block struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	BlockerID int64     `gorm:"uniqueIndex:idx_block_pair;not null" json:"-"`
	BlockedID int64     `gorm:"uniqueIndex:idx_block_pair;index;not null" json:"-"`
	Reason    string    `gorm:"size:500" json:"reason,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
