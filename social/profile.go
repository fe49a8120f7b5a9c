package social

import (
	"context"
	"slices"
	"strings"

	"github.com/kasuganosora/tovplay/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Allowed values of the enumerated profile fields. Empty is always allowed.
var (
	CommunicationPreferences = []string{"voice", "text", "both"}
	OpennessLevels           = []string{"open", "selective", "closed"}
)

// Profile is the wire form of a profile.
type Profile struct {
	ID                      int64    `json:"id"`
	Username                string   `json:"username"`
	Bio                     string   `json:"bio"`
	AvatarURL               string   `json:"avatar_url,omitempty"`
	Languages               []string `json:"languages"`
	CommunicationPreference string   `json:"communication_preference,omitempty"`
	Openness                string   `json:"openness,omitempty"`
	Games                   []string `json:"games"`
	DiscordUsername         string   `json:"discord_username,omitempty"`
	FriendCount             int      `json:"friend_count"`
}

// ProfileUpdate changes the fields that are non-nil.
type ProfileUpdate struct {
	Bio                     *string   `json:"bio"`
	AvatarURL               *string   `json:"avatar_url"`
	Languages               *[]string `json:"languages"`
	CommunicationPreference *string   `json:"communication_preference"`
	Openness                *string   `json:"openness"`
	Games                   *[]string `json:"games"`
}

// OverlappingTimes lists the weekly slots both users are available in.
type OverlappingTimes struct {
	RecipientUsername string   `json:"recipient_username"`
	Slots             []string `json:"slots"`
}

func (s *Service) profilesByAccount(ctx context.Context, ids []int64) (map[int64]model.Profile, error) {
	var ps []model.Profile
	if err := s.db.WithContext(ctx).Where("account_id IN ?", ids).Find(&ps).Error; err != nil {
		return nil, err
	}
	out := make(map[int64]model.Profile, len(ps))
	for _, p := range ps {
		out[p.AccountID] = p
	}
	return out, nil
}

func (s *Service) loadProfile(tx *gorm.DB, acc *model.Account) (model.Profile, error) {
	p := model.Profile{AccountID: acc.ID}
	if err := tx.Where(model.Profile{AccountID: acc.ID}).FirstOrInit(&p).Error; err != nil {
		return p, err
	}
	return p, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (s *Service) profileView(tx *gorm.DB, acc *model.Account, p model.Profile, private bool) (*Profile, error) {
	var friends int64
	if err := tx.Model(&model.Friendship{}).
		Where("low_id = ? OR high_id = ?", acc.ID, acc.ID).
		Count(&friends).Error; err != nil {
		return nil, err
	}
	out := &Profile{
		ID:                      acc.ID,
		Username:                acc.Username,
		Bio:                     p.Bio,
		AvatarURL:               p.AvatarURL,
		Languages:               nonNil(p.Languages),
		CommunicationPreference: p.Communication,
		Openness:                p.Openness,
		Games:                   nonNil(p.Games),
		FriendCount:             int(friends),
	}
	if private {
		out.DiscordUsername = acc.DiscordUsername
	}
	return out, nil
}

// OwnProfile returns the viewer's profile including private fields.
func (s *Service) OwnProfile(ctx context.Context, viewer *model.Account) (*Profile, error) {
	tx := s.db.WithContext(ctx)
	p, err := s.loadProfile(tx, viewer)
	if err != nil {
		return nil, err
	}
	return s.profileView(tx, viewer, p, true)
}

// PublicProfile returns the public profile of username.
func (s *Service) PublicProfile(ctx context.Context, username string) (*Profile, error) {
	acc, err := s.AccountByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	tx := s.db.WithContext(ctx)
	p, err := s.loadProfile(tx, acc)
	if err != nil {
		return nil, err
	}
	return s.profileView(tx, acc, p, false)
}

func validEnum(v *string, allowed []string) bool {
	return v == nil || *v == "" || slices.Contains(allowed, *v)
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

// UpdateProfile applies upd to the viewer's profile.
func (s *Service) UpdateProfile(ctx context.Context, viewer *model.Account, upd ProfileUpdate) (*Profile, error) {
	if !validEnum(upd.CommunicationPreference, CommunicationPreferences) {
		return nil, fail(ErrInvalid, "Invalid communication preference")
	}
	if !validEnum(upd.Openness, OpennessLevels) {
		return nil, fail(ErrInvalid, "Invalid openness")
	}
	if upd.Bio != nil && len(*upd.Bio) > 1000 {
		return nil, fail(ErrInvalid, "Bio is too long")
	}
	var out *Profile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := s.loadProfile(tx, viewer)
		if err != nil {
			return err
		}
		if upd.Bio != nil {
			p.Bio = strings.TrimSpace(*upd.Bio)
		}
		if upd.AvatarURL != nil {
			p.AvatarURL = strings.TrimSpace(*upd.AvatarURL)
		}
		if upd.Languages != nil {
			p.Languages = datatypes.JSONSlice[string](cleanList(*upd.Languages))
		}
		if upd.Games != nil {
			p.Games = datatypes.JSONSlice[string](cleanList(*upd.Games))
		}
		if upd.CommunicationPreference != nil {
			p.Communication = *upd.CommunicationPreference
		}
		if upd.Openness != nil {
			p.Openness = *upd.Openness
		}
		if err := tx.Save(&p).Error; err != nil {
			return err
		}
		out, err = s.profileView(tx, viewer, p, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// OverlappingTimes returns the viewer's availability slots that recipient
// shares, in the viewer's order.
func (s *Service) OverlappingTimes(ctx context.Context, viewer *model.Account, recipient string) (*OverlappingTimes, error) {
	other, err := s.AccountByUsername(ctx, recipient)
	if err != nil {
		return nil, err
	}
	tx := s.db.WithContext(ctx)
	mine, err := s.loadProfile(tx, viewer)
	if err != nil {
		return nil, err
	}
	theirs, err := s.loadProfile(tx, other)
	if err != nil {
		return nil, err
	}
	slots := []string{}
	for _, slot := range mine.Availability {
		if slices.Contains(theirs.Availability, slot) && !slices.Contains(slots, slot) {
			slots = append(slots, slot)
		}
	}
	return &OverlappingTimes{RecipientUsername: other.Username, Slots: slots}, nil
}
