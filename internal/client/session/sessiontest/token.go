// Package sessiontest mints access tokens for tests.
package sessiontest

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var key = []byte("sessiontest")

// Token returns an HS256 token with the given identity. A zero exp omits
// the claim.
func Token(t testing.TB, id, email, role string, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"id": id, "email": email, "role": role, "iat": time.Now().Unix()}
	if !exp.IsZero() {
		claims["exp"] = exp.Unix()
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

// User is Token for a regular user valid for an hour.
func User(t testing.TB, id string) string {
	return Token(t, id, id+"@example.com", "user", time.Now().Add(time.Hour))
}

// Admin is Token for an admin valid for an hour.
func Admin(t testing.TB, id string) string {
	return Token(t, id, id+"@example.com", "admin", time.Now().Add(time.Hour))
}
