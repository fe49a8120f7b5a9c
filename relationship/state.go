// Package relationship tracks the friend/block relationship between the
// signed-in user and one other user and keeps it in line with the server.
package relationship

import (
	"errors"
	"fmt"

	"github.com/kasuganosora/tovplay/gateway"
)

var (
	// ErrInvalidTransition is returned when an action is not allowed from
	// the current state.
	ErrInvalidTransition = errors.New("relationship: invalid transition")
	// ErrClosed is returned by actions on a closed Reconciler.
	ErrClosed = errors.New("relationship: reconciler closed")
	// ErrRequestIDMissing is returned when a pending request has no id even
	// after re-reading the relationship from the server.
	ErrRequestIDMissing = &gateway.Error{Kind: gateway.KindNotFound, Message: "friend request id missing"}
)

// State is the relationship status as seen by the signed-in user.
type State int

const (
	None State = iota
	PendingOutgoing
	PendingIncoming
	Accepted
	Blocked
)

func (s State) String() string {
	switch s {
	case None:
		return "None"
	case PendingOutgoing:
		return "PendingOutgoing"
	case PendingIncoming:
		return "PendingIncoming"
	case Accepted:
		return "Accepted"
	case Blocked:
		return "Blocked"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Pending reports whether s is one of the pending states.
func (s State) Pending() bool { return s == PendingOutgoing || s == PendingIncoming }

// Action is a user-initiated mutation.
type Action int

const (
	Send Action = iota
	Cancel
	Accept
	Decline
	Block
	Unblock
)

func (a Action) String() string {
	switch a {
	case Send:
		return "send"
	case Cancel:
		return "cancel"
	case Accept:
		return "accept"
	case Decline:
		return "decline"
	case Block:
		return "block"
	case Unblock:
		return "unblock"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// needsRequestID reports whether a consumes an existing friend request.
func (a Action) needsRequestID() bool {
	return a == Cancel || a == Accept || a == Decline
}

var transitions = map[State]map[Action]State{
	None: {
		Send:  PendingOutgoing,
		Block: Blocked,
	},
	PendingOutgoing: {
		Cancel: None,
		Block:  Blocked,
	},
	PendingIncoming: {
		Accept:  Accepted,
		Decline: None,
		Block:   Blocked,
	},
	Accepted: {
		Block: Blocked,
	},
	Blocked: {
		// Re-blocking keeps "block from any state ends Blocked" true even
		// when the other side blocked first.
		Block:   Blocked,
		Unblock: None,
	},
}

// Next returns the state reached by applying a to from.
func Next(from State, a Action) (State, error) {
	to, ok := transitions[from][a]
	if !ok {
		return from, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, a, from)
	}
	return to, nil
}

// Allows reports whether a is a valid action from s.
func (s State) Allows(a Action) bool {
	_, ok := transitions[s][a]
	return ok
}

// Relationship is the local copy of the relationship with one user.
// RequestID is set only while pending and BlockingReason only while
// blocked.
type Relationship struct {
	Username       string
	State          State
	RequestID      string
	Message        string
	BlockingReason string
	// BlockedByMe distinguishes a block the viewer placed from one placed
	// on the viewer.
	BlockedByMe bool
}

// normalize enforces the field invariants for the current state.
func (r Relationship) normalize() Relationship {
	if !r.State.Pending() {
		r.RequestID = ""
	}
	if r.State != Blocked {
		r.BlockingReason = ""
		r.BlockedByMe = false
	}
	if r.State == None || r.State == Accepted {
		r.Message = ""
	}
	return r
}

// FromWire converts the server's answer for username into a Relationship.
func FromWire(username string, w *gateway.Relationship) (Relationship, error) {
	r := Relationship{
		Username:  username,
		RequestID: string(w.RequestID),
		Message:   w.Message,
	}
	switch w.NormalizedStatus() {
	case gateway.StatusNone:
		r.State = None
	case gateway.StatusAccepted:
		r.State = Accepted
	case gateway.StatusBlocked:
		r.State = Blocked
		r.BlockedByMe = w.BlockedByMe
		r.BlockingReason = w.BlockingReason
		if r.BlockingReason == "" {
			r.BlockingReason = w.Message
		}
		r.Message = ""
	case gateway.StatusPending:
		switch {
		case w.Direction == gateway.DirectionIncoming:
			r.State = PendingIncoming
		case w.Direction == gateway.DirectionOutgoing:
			r.State = PendingOutgoing
		case w.SenderUsername != "" && w.SenderUsername == username:
			r.State = PendingIncoming
		default:
			r.State = PendingOutgoing
		}
	default:
		return Relationship{}, fmt.Errorf("relationship: unknown status %q", w.Status)
	}
	return r.normalize(), nil
}
