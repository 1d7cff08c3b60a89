// Package common contains shared constants and sentinel errors used across
// CraveCart components.
package common

const (
	// AuthorizationHeaderName carries the access token on REST calls.
	AuthorizationHeaderName = "Authorization"

	// BearerPrefix precedes the access token in the Authorization header.
	BearerPrefix = "Bearer "

	// RoleAdmin is the identity role allowed to receive order:new events.
	RoleAdmin = "admin"

	// RoleUser is the default role assigned at registration.
	RoleUser = "user"
)
