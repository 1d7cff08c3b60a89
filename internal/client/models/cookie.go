// Package models defines records persisted by the client.
package models

import "time"

// Cookie is one persisted entry of the client's cookie jar.
type Cookie struct {
	Name  string
	Value string

	// ExpiresAt is when the entry stops being readable. The zero value
	// marks a session cookie that never expires on its own.
	ExpiresAt time.Time
}

// Expired reports whether c has a deadline that is not after now.
func (c Cookie) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !c.ExpiresAt.After(now)
}
