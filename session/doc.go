// Package session composes the protocol core into one live endpoint.
//
// Ownership boundary:
// - request issue/await surface (Call) and event send surface (Notify)
// - inbound read loop: response correlation, request dispatch, event dispatch
// - expiry timer and teardown (cancel-all on close or transport failure)
//
// The pieces it composes stay independently usable: envelope (wire codec),
// registry (tag table and dispatch), track (pending-request state) and
// transport (byte frames).
package session
