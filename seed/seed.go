// Package seed fills an empty devserver database with fake accounts,
// profiles and relationships for demos and manual testing.
package seed

import (
	"context"
	"fmt"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/kasuganosora/tovplay/model"
	"github.com/kasuganosora/tovplay/social"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Password is the password of every seeded account.
const Password = "password123"

var (
	games = []string{
		"Dota 2", "Counter-Strike 2", "Valorant", "League of Legends", "Minecraft",
		"Apex Legends", "Rocket League", "Overwatch 2", "Stardew Valley", "Elden Ring",
	}
	languages = []string{"English", "German", "Spanish", "French", "Hebrew", "Russian", "Japanese"}
	days      = []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}
	hours     = []string{"10:00", "14:00", "18:00", "20:00", "22:00"}
)

// Options controls Run.
type Options struct {
	Accounts int
	// Seed makes the output reproducible. Zero picks a random seed.
	Seed int64
}

// Seeder creates fake data through the social service so that seeded rows
// obey the same rules as real ones.
type Seeder struct {
	db     *gorm.DB
	svc    *social.Service
	fake   *gofakeit.Faker
	logger *zap.Logger
}

// New creates a Seeder.
func New(db *gorm.DB, svc *social.Service, seed int64, logger *zap.Logger) *Seeder {
	return &Seeder{db: db, svc: svc, fake: gofakeit.New(seed), logger: logger}
}

func (s *Seeder) pick(from []string, lo, hi int) []string {
	n := s.fake.Number(lo, hi)
	out := make([]string, 0, n)
	for _, i := range s.fake.Rand.Perm(len(from))[:min(n, len(from))] {
		out = append(out, from[i])
	}
	return out
}

func (s *Seeder) availability() []string {
	var out []string
	for _, d := range s.pick(days, 2, 5) {
		out = append(out, d+" "+s.fake.RandomString(hours))
	}
	return out
}

// Account creates one fake account with a profile.
func (s *Seeder) Account(ctx context.Context, i int) (*model.Account, error) {
	username := fmt.Sprintf("%s%d", s.fake.Username(), i)
	if len(username) > 32 {
		username = username[len(username)-32:]
	}
	in := social.NewAccount{
		Username: username,
		Email:    fmt.Sprintf("user%d.%s", i, s.fake.Email()),
		Password: Password,
		Profile: model.Profile{
			Bio:           s.fake.Sentence(10),
			AvatarURL:     fmt.Sprintf("https://i.pravatar.cc/150?u=%s", s.fake.UUID()),
			Languages:     datatypes.JSONSlice[string](s.pick(languages, 1, 3)),
			Games:         datatypes.JSONSlice[string](s.pick(games, 1, 4)),
			Availability:  datatypes.JSONSlice[string](s.availability()),
			Communication: s.fake.RandomString(social.CommunicationPreferences),
			Openness:      s.fake.RandomString(social.OpennessLevels),
		},
	}
	if s.fake.Bool() {
		in.DiscordUsername = s.fake.Username()
	}
	return s.svc.CreateAccount(ctx, in)
}

// Run seeds opts.Accounts accounts unless the database already has some.
// Consecutive accounts are made friends, every third one has a pending
// request to the next and every seventh blocks its successor.
func Run(ctx context.Context, db *gorm.DB, svc *social.Service, opts Options, logger *zap.Logger) ([]*model.Account, error) {
	var existing int64
	if err := db.WithContext(ctx).Model(&model.Account{}).Count(&existing).Error; err != nil {
		return nil, err
	}
	if existing > 0 || opts.Accounts <= 0 {
		logger.Info("seed skipped", zap.Int64("existing_accounts", existing))
		return nil, nil
	}
	s := New(db, svc, opts.Seed, logger)

	accounts := make([]*model.Account, 0, opts.Accounts)
	for i := 0; i < opts.Accounts; i++ {
		acc, err := s.Account(ctx, i)
		if err != nil {
			return accounts, fmt.Errorf("seed: account %d: %w", i, err)
		}
		accounts = append(accounts, acc)
	}

	for i := 0; i+1 < len(accounts); i++ {
		a, b := accounts[i], accounts[i+1]
		var err error
		switch {
		case i%7 == 6:
			err = svc.BlockUser(ctx, a, b.Username, s.fake.Sentence(3))
		case i%3 == 2:
			_, err = svc.SendFriendRequest(ctx, a, b.Username, s.fake.Sentence(6))
		default:
			err = s.befriend(ctx, a, b)
		}
		if err != nil {
			return accounts, fmt.Errorf("seed: relate %s and %s: %w", a.Username, b.Username, err)
		}
	}
	logger.Info("seed complete", zap.Int("accounts", len(accounts)))
	return accounts, nil
}

func (s *Seeder) befriend(ctx context.Context, a, b *model.Account) error {
	req, err := s.svc.SendFriendRequest(ctx, a, b.Username, "")
	if err != nil {
		return err
	}
	_, err = s.svc.RespondToFriendRequest(ctx, b, req.ID, true)
	return err
}
