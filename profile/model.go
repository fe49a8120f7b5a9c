// Package profile is the view model behind a user profile page: the
// profile itself, the relationship with the viewer and the one primary
// action that follows from it.
package profile

import (
	"errors"
	"fmt"
	"net/url"
	"slices"

	"github.com/kasuganosora/tovplay/gateway"
)

// ErrInvalidPreference is returned for an unknown enum value.
var ErrInvalidPreference = errors.New("profile: invalid preference")

// Communication is how a user prefers to talk while playing.
type Communication string

const (
	WrittenMessages Communication = "written_messages"
	VoiceMessages   Communication = "voice_messages"
	PreferNoTalking Communication = "prefer_no_talking"
)

// Label returns the display text. Unknown values read as written messages.
func (c Communication) Label() string {
	switch c {
	case VoiceMessages:
		return "Voice Messages"
	case PreferNoTalking:
		return "Prefer No Talking"
	default:
		return "Written Messages"
	}
}

// ParseCommunication validates s.
func ParseCommunication(s string) (Communication, error) {
	c := Communication(s)
	switch c {
	case WrittenMessages, VoiceMessages, PreferNoTalking:
		return c, nil
	}
	return "", fmt.Errorf("%w: communication %q", ErrInvalidPreference, s)
}

// Openness is how a user feels about playing with strangers.
type Openness string

const (
	OpennessOpen Openness = "open"
	Careful      Openness = "careful"
	OnlyPrevious Openness = "only_previous"
)

// Label returns the display text. Unknown values read as open.
func (o Openness) Label() string {
	switch o {
	case Careful:
		return "Careful with new people"
	case OnlyPrevious:
		return "Only previous contacts"
	default:
		return "Open to new people"
	}
}

// ParseOpenness validates s.
func ParseOpenness(s string) (Openness, error) {
	o := Openness(s)
	switch o {
	case OpennessOpen, Careful, OnlyPrevious:
		return o, nil
	}
	return "", fmt.Errorf("%w: openness %q", ErrInvalidPreference, s)
}

// Profile is a user's public profile. Username never changes.
type Profile struct {
	Username        string
	Bio             string
	AvatarURL       string
	Languages       []string
	Communication   Communication
	Openness        Openness
	Games           []string
	DiscordUsername string
	FriendCount     int
}

// FromWire converts the API form.
func FromWire(w *gateway.Profile) Profile {
	return Profile{
		Username:        w.Username,
		Bio:             w.Bio,
		AvatarURL:       w.AvatarURL,
		Languages:       slices.Clone(w.Languages),
		Communication:   Communication(w.CommunicationPreference),
		Openness:        Openness(w.Openness),
		Games:           slices.Clone(w.Games),
		DiscordUsername: w.DiscordUsername,
		FriendCount:     w.FriendCount,
	}
}

// GameCount is the number of games the user listed.
func (p Profile) GameCount() int { return len(p.Games) }

// Avatar returns the avatar URL, or a generated placeholder seeded by
// the username.
func (p Profile) Avatar() string {
	if p.AvatarURL != "" {
		return p.AvatarURL
	}
	return "https://api.dicebear.com/9.x/thumbs/svg?seed=" + url.QueryEscape(p.Username)
}

// DiscordURL links to the user's Discord page, "" when not linked.
func (p Profile) DiscordURL() string {
	if p.DiscordUsername == "" {
		return ""
	}
	return "https://discord.com/users/" + url.PathEscape(p.DiscordUsername)
}

// Update is an owner edit. Nil fields are left unchanged.
type Update struct {
	Bio           *string
	AvatarURL     *string
	Languages     []string
	Communication *string
	Openness      *string
	Games         []string
}

// wire validates u and converts it to the API form.
func (u Update) wire() (gateway.ProfileUpdate, error) {
	out := gateway.ProfileUpdate{Bio: u.Bio, AvatarURL: u.AvatarURL}
	if u.Communication != nil {
		if _, err := ParseCommunication(*u.Communication); err != nil {
			return out, err
		}
		out.CommunicationPreference = u.Communication
	}
	if u.Openness != nil {
		if _, err := ParseOpenness(*u.Openness); err != nil {
			return out, err
		}
		out.Openness = u.Openness
	}
	if u.Languages != nil {
		l := slices.Clone(u.Languages)
		out.Languages = &l
	}
	if u.Games != nil {
		g := slices.Clone(u.Games)
		out.Games = &g
	}
	return out, nil
}
