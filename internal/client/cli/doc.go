// Package cli provides the interactive CraveCart command-line client.
//
// It wires configuration, the local token database, the REST client behind
// the refresh gate, the realtime channel and the location and sharing layers,
// then runs a REPL on top of them. Typical flow: restore the previous session
// or prompt for credentials, then track, query nearby users and negotiate
// location shares.
//
// The prompt shows the current user and mode: online while the realtime
// channel is connected, offline when it is not, disabled without a session.
//
// The REPL is started via App.Root(ctx), which blocks until the user exits.
// See App and runREPL for details.
package cli
