// Package protocol defines the CraveCart realtime protocol shared by the
// client channel and the server hub: the closed set of event names, one
// payload schema per event, and the mapping of events onto bus subjects.
//
// Payloads are validated at the boundary. Decode turns raw bytes received
// for an event into its typed payload or fails with ErrInvalidPayload;
// Encode refuses a payload whose type does not belong to the event.
package protocol
