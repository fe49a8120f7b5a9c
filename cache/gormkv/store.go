// Package gormkv persists cache entries in a SQL table so that a session
// survives process restarts without a Redis server.
package gormkv

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("cache: key not found")

// Entry is one stored key.
type Entry struct {
	Key       string     `gorm:"column:cache_key;primaryKey;size:191"`
	Value     string     `gorm:"type:text;not null"`
	ExpiresAt *time.Time `gorm:"index"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime"`
}

func (Entry) TableName() string { return "kv_entries" }

// Store implements the Cache interface on top of gorm.
type Store struct {
	db *gorm.DB
}

// New migrates the entry table and returns a Store.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func expiry(ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := time.Now().Add(ttl)
	return &t
}

func (s *Store) live(ctx context.Context, key string) (*Entry, error) {
	var e Entry
	err := s.db.WithContext(ctx).Where("cache_key = ?", key).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if e.ExpiresAt != nil && time.Now().After(*e.ExpiresAt) {
		s.db.WithContext(ctx).Delete(&Entry{}, "cache_key = ?", key)
		return nil, ErrNotFound
	}
	return &e, nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	e, err := s.live(ctx, key)
	if err != nil {
		return "", err
	}
	return e.Value, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	e := Entry{Key: key, Value: value, ExpiresAt: expiry(ttl)}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
	}).Create(&e).Error
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Where("cache_key IN ?", keys).Delete(&Entry{}).Error
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.live(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if _, err := s.live(ctx, key); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&Entry{}).
		Where("cache_key = ?", key).
		Update("expires_at", expiry(ttl)).Error
}
