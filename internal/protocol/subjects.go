package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Subject layout on the bus:
//
//	cravecart.up.<userId>.<event>     client → server
//	cravecart.down.<userId>.<event>   server → one client
//	cravecart.down.admin.<event>      server → every admin
//
// where <event> is the event name with ':' replaced by '.'.
const (
	SubjectRoot = "cravecart"
	upToken     = "up"
	downToken   = "down"
	adminToken  = "admin"
)

var ErrInvalidSubject = errors.New("invalid subject")

// ValidUserID reports whether id can be used as a single subject token.
func ValidUserID(id string) bool {
	return id != "" && id != adminToken && !strings.ContainsAny(id, ".*> \t\r\n")
}

func eventToken(e Event) string {
	return strings.Replace(string(e), ":", ".", 1)
}

// UpSubject is where userID publishes e.
func UpSubject(userID string, e Event) string {
	return SubjectRoot + "." + upToken + "." + userID + "." + eventToken(e)
}

// DownSubject is where the server delivers e to userID.
func DownSubject(userID string, e Event) string {
	return SubjectRoot + "." + downToken + "." + userID + "." + eventToken(e)
}

// AdminSubject is where the server broadcasts admin-only events.
func AdminSubject(e Event) string {
	return SubjectRoot + "." + downToken + "." + adminToken + "." + eventToken(e)
}

// UpWildcard matches every client publication.
func UpWildcard() string { return SubjectRoot + "." + upToken + ".*.>" }

// DownWildcard matches everything delivered to userID.
func DownWildcard(userID string) string {
	return SubjectRoot + "." + downToken + "." + userID + ".>"
}

// AdminWildcard matches every admin broadcast.
func AdminWildcard() string { return SubjectRoot + "." + downToken + "." + adminToken + ".>" }

// Route is a parsed subject.
type Route struct {
	Direction Direction
	UserID    string // empty for admin broadcasts
	Admin     bool
	Event     Event
}

// ParseSubject splits a subject produced by this package.
func ParseSubject(subject string) (Route, error) {
	parts := strings.Split(subject, ".")
	if len(parts) != 5 || parts[0] != SubjectRoot {
		return Route{}, fmt.Errorf("%w: %q", ErrInvalidSubject, subject)
	}

	var r Route
	switch parts[1] {
	case upToken:
		r.Direction = Outbound
	case downToken:
		r.Direction = Inbound
	default:
		return Route{}, fmt.Errorf("%w: %q", ErrInvalidSubject, subject)
	}

	if parts[2] == adminToken && r.Direction == Inbound {
		r.Admin = true
	} else if ValidUserID(parts[2]) {
		r.UserID = parts[2]
	} else {
		return Route{}, fmt.Errorf("%w: bad user token in %q", ErrInvalidSubject, subject)
	}

	r.Event = Event(parts[3] + ":" + parts[4])
	if !r.Event.Known() {
		return Route{}, fmt.Errorf("%w: %q", ErrUnknownEvent, r.Event)
	}
	if r.Event.Direction() != r.Direction {
		return Route{}, fmt.Errorf("%w: %s on wrong direction", ErrInvalidSubject, r.Event)
	}
	return r, nil
}
