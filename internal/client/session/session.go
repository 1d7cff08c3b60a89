// Package session decodes access tokens into identity claims.
//
// The client holds no signing key, so tokens are parsed without signature
// verification; the backend verifies them on every call. Decoding here only
// answers "who is logged in and until when".
package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cravecart/cravecart/internal/common"
)

// Claims is the identity carried by an access token.
type Claims struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

func (c *Claims) IsAdmin() bool {
	return c.Role == common.RoleAdmin
}

// Expiry returns the exp claim, or the zero time when it is absent.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

var parser = jwt.NewParser()

// Decode parses token without verifying its signature. Any malformed input
// fails with common.ErrDecode.
func Decode(token string) (*Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", common.ErrDecode)
	}

	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecode, err)
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: token has no id claim", common.ErrDecode)
	}
	return claims, nil
}

// IsExpired reports whether exp is present and not after now, compared at
// second precision. A token without exp never expires.
func IsExpired(c *Claims, now time.Time) bool {
	if c == nil || c.ExpiresAt == nil {
		return false
	}
	return c.ExpiresAt.Unix() <= now.Unix()
}
