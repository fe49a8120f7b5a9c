// Package social implements the server side of accounts, profiles,
// friendships, blocks, notifications and community membership.
package social

import (
	"context"
	"errors"
	"strings"

	"github.com/kasuganosora/tovplay/model"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Error kinds. Every error returned by Service wraps one of them.
var (
	ErrNotFound  = errors.New("not found")
	ErrInvalid   = errors.New("invalid request")
	ErrConflict  = errors.New("conflict")
	ErrForbidden = errors.New("forbidden")
	ErrAuth      = errors.New("invalid credentials")
)

// Error carries a user-facing message and one of the error kinds.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }
func (e *Error) Unwrap() error { return e.Kind }

func fail(kind error, msg string) error { return &Error{Kind: kind, Msg: msg} }

// Push message types.
const (
	PushNotification        = "notification"
	PushRelationshipChanged = "relationship_changed"
)

// Notifier delivers realtime messages to a connected account.
type Notifier interface {
	Push(ctx context.Context, accountID int64, msgType string, payload any)
}

type nopNotifier struct{}

func (nopNotifier) Push(context.Context, int64, string, any) {}

// Service is the social backend.
type Service struct {
	db         *gorm.DB
	notifier   Notifier
	bcryptCost int
	logger     *zap.Logger
}

// NewService creates a Service. notifier may be nil.
func NewService(db *gorm.DB, notifier Notifier, bcryptCost int, logger *zap.Logger) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{db: db, notifier: notifier, bcryptCost: bcryptCost, logger: logger}
}

func found(err error) (bool, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Account loads an account by id.
func (s *Service) Account(ctx context.Context, id int64) (*model.Account, error) {
	var acc model.Account
	ok, err := found(s.db.WithContext(ctx).First(&acc, id).Error)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fail(ErrNotFound, "User not found")
	}
	return &acc, nil
}

// AccountByUsername loads an account by username.
func (s *Service) AccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	var acc model.Account
	ok, err := found(s.db.WithContext(ctx).Where("username = ?", username).First(&acc).Error)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fail(ErrNotFound, "User not found")
	}
	return &acc, nil
}

// NewAccount describes an account to create.
type NewAccount struct {
	Username        string
	Email           string
	Password        string
	DiscordUsername string
	Profile         model.Profile
}

// CreateAccount stores an account with a hashed password and its profile.
func (s *Service) CreateAccount(ctx context.Context, in NewAccount) (*model.Account, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if len(in.Username) < 2 || len(in.Username) > 32 || in.Email == "" || len(in.Password) < 4 {
		return nil, fail(ErrInvalid, "Username, email and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, err
	}
	acc := &model.Account{
		Username:        in.Username,
		Email:           in.Email,
		PasswordHash:    string(hash),
		Status:          1,
		DiscordUsername: in.DiscordUsername,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(acc).Error; err != nil {
			return err
		}
		p := in.Profile
		p.AccountID = acc.ID
		return tx.Create(&p).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fail(ErrConflict, "Username or email already taken")
		}
		return nil, err
	}
	return acc, nil
}

// Authenticate checks credentials by email.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*model.Account, error) {
	var acc model.Account
	ok, err := found(s.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&acc).Error)
	if err != nil {
		return nil, err
	}
	if !ok || bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)) != nil {
		return nil, fail(ErrAuth, "Invalid email or password")
	}
	if acc.Status == 0 {
		return nil, fail(ErrForbidden, "Account banned")
	}
	return &acc, nil
}

// isUniqueViolation detects duplicate-key errors from common database drivers.
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "already exists")
}
