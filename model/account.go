package model

import "time"

// Account is a user who can sign in.
type Account struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string     `gorm:"uniqueIndex;size:32;not null" json:"username"`
	Email        string     `gorm:"uniqueIndex;size:128;not null" json:"email"`
	PasswordHash string     `gorm:"size:64;not null" json:"-"`
	Status       int        `gorm:"default:1" json:"status"` // 0=banned 1=normal
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at"`
	LastLoginIP  string     `gorm:"size:45" json:"last_login_ip"`
	// LastSeenAt is touched on every authenticated request.
	LastSeenAt *time.Time `gorm:"index" json:"last_seen"`

	DiscordUsername string `gorm:"size:64" json:"discord_username"`
	// InCommunity is nil until the Discord bot has checked membership.
	InCommunity *bool `json:"in_community"`
}
