package model

import (
	"time"

	"gorm.io/datatypes"
)

// Profile is the public part of an account.
type Profile struct {
	AccountID     int64                       `gorm:"primaryKey" json:"-"`
	Bio           string                      `gorm:"type:text" json:"bio"`
	AvatarURL     string                      `gorm:"size:255" json:"avatar_url"`
	Languages     datatypes.JSONSlice[string] `json:"languages"`
	Communication string                      `gorm:"size:32" json:"communication_preference"`
	Openness      string                      `gorm:"size:32" json:"openness"`
	Games         datatypes.JSONSlice[string] `json:"games"`
	// Availability lists weekly slots such as "mon 18:00".
	Availability datatypes.JSONSlice[string] `json:"-"`
	UpdatedAt    time.Time                   `gorm:"autoUpdateTime" json:"-"`
}
