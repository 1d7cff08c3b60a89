// Package common defines shared constants and sentinel errors used across
// client and server layers of CraveCart. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorValidation   = errors.New("validation error")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Token lifecycle errors.
	ErrTokenExpired        = errors.New("token expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	// Session errors. All of them end the session.
	ErrDecode         = errors.New("malformed token")
	ErrSessionExpired = errors.New("session expired")
	ErrRefreshFailed  = errors.New("token refresh failed")
	ErrNotLoggedIn    = errors.New("not logged in")

	// Operational errors. Local and recoverable.
	ErrPrecondition = errors.New("precondition failed")
	ErrPositioning  = errors.New("positioning error")

	// Transport errors.
	ErrTransport   = errors.New("realtime transport error")
	ErrUnavailable = errors.New("server unavailable")
)
