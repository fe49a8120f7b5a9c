package gateway

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// ID is an opaque identifier. The backend sends ids as numbers or strings
// and sometimes the literal "None"; all of them decode to a string and
// "None" or null decode to "".
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	var s string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	} else {
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		s = n.String()
	}
	*id = ID(Sanitize(s))
	return nil
}

// Sanitize normalizes an id string; "None" is treated as absent.
func Sanitize(s string) string {
	s = strings.TrimSpace(s)
	if s == "None" {
		return ""
	}
	return s
}

// Wire relationship statuses.
const (
	StatusNone     = "none"
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusBlocked  = "blocked"
)

// Pending request direction from the viewer's point of view.
const (
	DirectionOutgoing = "outgoing"
	DirectionIncoming = "incoming"
)

// Relationship is the server's view of the pair (viewer, username).
type Relationship struct {
	Status            string `json:"status"`
	RequestID         ID     `json:"request_id,omitempty"`
	Message           string `json:"message,omitempty"`
	BlockingReason    string `json:"blocking_reason,omitempty"`
	Direction         string `json:"direction,omitempty"`
	SenderUsername    string `json:"sender_username,omitempty"`
	RecipientUsername string `json:"recipient_username,omitempty"`
	BlockedByMe       bool   `json:"blocked_by_me"`
}

// NormalizedStatus returns the lower-cased status, "none" when empty.
func (r Relationship) NormalizedStatus() string {
	s := strings.ToLower(strings.TrimSpace(r.Status))
	if s == "" {
		return StatusNone
	}
	return s
}

// FriendRequest is returned by the send endpoint and listed by
// received_requests.
type FriendRequest struct {
	ID                ID        `json:"id"`
	RequestID         ID        `json:"request_id,omitempty"`
	SenderUsername    string    `json:"sender_username"`
	RecipientUsername string    `json:"recipient_username"`
	Message           string    `json:"message,omitempty"`
	Status            string    `json:"status,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Key returns request_id when present and id otherwise.
func (f FriendRequest) Key() ID {
	if f.RequestID != "" {
		return f.RequestID
	}
	return f.ID
}

// OnlineWindow is how recently a friend must have been seen to count as
// online.
const OnlineWindow = 6 * time.Minute

// Friend is one entry of the friends list.
type Friend struct {
	Username   string     `json:"username"`
	ProfilePic string     `json:"profile_pic,omitempty"`
	LastSeen   *time.Time `json:"last_seen"`
	Games      []string   `json:"games,omitempty"`
}

// Online reports whether the friend was seen within OnlineWindow of now.
func (f Friend) Online(now time.Time) bool {
	return f.LastSeen != nil && now.Sub(*f.LastSeen) <= OnlineWindow
}

// Profile is the wire form of a user profile.
type Profile struct {
	ID                      ID       `json:"id,omitempty"`
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

// ProfileUpdate is the body of PUT /user_profiles/. Nil fields are left
// unchanged.
type ProfileUpdate struct {
	Bio                     *string   `json:"bio,omitempty"`
	AvatarURL               *string   `json:"avatar_url,omitempty"`
	Languages               *[]string `json:"languages,omitempty"`
	CommunicationPreference *string   `json:"communication_preference,omitempty"`
	Openness                *string   `json:"openness,omitempty"`
	Games                   *[]string `json:"games,omitempty"`
}

// Notification is one entry of the notification feed.
type Notification struct {
	ID                 ID        `json:"id"`
	Type               string    `json:"type"`
	Message            string    `json:"message"`
	IsRead             bool      `json:"is_read"`
	CreatedAt          time.Time `json:"created_at"`
	CancellationReason string    `json:"cancellation_reason,omitempty"`
}

// Notification types with special handling.
const (
	NotificationSessionCancellation = "session_cancellation"
	NotificationFriendRequest       = "friend_request"
	NotificationFriendAccepted      = "friend_accepted"
)

// LoginResult is returned by POST /users/login.
type LoginResult struct {
	Token  string `json:"jwt_token"`
	UserID ID     `json:"user_id"`
}

// CommunityStatus is returned by GET /discord/in_community_route.
type CommunityStatus struct {
	// InCommunity is nil when the server sent null.
	InCommunity *bool
	// Reported is false when the field was missing from the response.
	Reported bool
	Error    string
}

func (s *CommunityStatus) UnmarshalJSON(b []byte) error {
	var raw struct {
		InCommunity json.RawMessage `json:"in_community"`
		Error       string          `json:"error"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s = CommunityStatus{Error: raw.Error}
	if len(raw.InCommunity) == 0 {
		return nil
	}
	s.Reported = true
	switch v := strings.ToLower(string(bytes.TrimSpace(raw.InCommunity))); v {
	case "null":
	case "true", `"true"`:
		t := true
		s.InCommunity = &t
	default:
		f := false
		s.InCommunity = &f
	}
	return nil
}

// Joined reports membership. A reported null counts as joined; a missing
// field does not.
func (s CommunityStatus) Joined() bool {
	return s.Reported && (s.InCommunity == nil || *s.InCommunity)
}

// OverlappingTimes is returned by GET /findplayers/.
type OverlappingTimes struct {
	RecipientUsername string   `json:"recipient_username"`
	Slots             []string `json:"slots"`
}
