package sharing

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidTransition = errors.New("invalid grant transition")

type State int

const (
	Requested State = iota
	Accepted
	Rejected
	Expired
)

func (s State) String() string {
	switch s {
	case Requested:
		return "requested"
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case Expired:
		return "expired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == Rejected || s == Expired
}

var transitions = map[State][]State{
	Requested: {Accepted, Rejected},
	Accepted:  {Expired},
}

// Grant is one sharing request between two users, as seen by this client.
// Outgoing grants were started here; incoming ones await our answer.
type Grant struct {
	RoomID          string
	FromUserID      string
	FromUserEmail   string
	ToUserID        string
	ByUserEmail     string
	DurationMinutes int
	Outgoing        bool
	State           State
	UpdatedAt       time.Time
}

// Counterpart returns the other user's id.
func (g Grant) Counterpart() string {
	if g.Outgoing {
		return g.ToUserID
	}
	return g.FromUserID
}

func (g *Grant) transition(to State, now time.Time) error {
	for _, next := range transitions[g.State] {
		if next == to {
			g.State = to
			g.UpdatedAt = now
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, g.State, to)
}
