// Package api is the client of the CraveCart REST API.
//
// Auth talks to the public /auth endpoints over the plain transport. It is
// also the reauth.Refresher, so the refresh call never goes through the
// gate. Client sends authenticated calls through the gate.
package api
