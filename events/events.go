// Package events defines the connection lifecycle notifications a host
// raises around a session: connect, first connect, disconnect, and
// authentication state changes. They are host-side signals, not wire
// envelopes; a host that wants them on the wire registers matching event
// variants in its protocol definition.
package events

import "github.com/danmuck/sockwire/target"

// Authenticated signals that a session's user was authenticated.
type Authenticated struct {
	UserID    target.UserID
	SessionID target.SessionID
}

// Unauthenticated signals that a session's user was unauthenticated.
type Unauthenticated struct {
	UserID    target.UserID
	SessionID target.SessionID
}

// Connected signals a user connected to the server.
type Connected struct {
	UserID    target.UserID
	SessionID target.SessionID
}

// FirstConnected signals a user connected without any previous live session.
type FirstConnected struct {
	UserID    target.UserID
	SessionID target.SessionID
}

// Disconnected signals a user disconnected from the server.
type Disconnected struct {
	UserID    target.UserID
	SessionID target.SessionID
}

// Target returns the wire target of the connecting session.
func (e Connected) Target() target.Target {
	return target.New(e.UserID, e.SessionID)
}

// Target returns the wire target of the first-connecting session.
func (e FirstConnected) Target() target.Target {
	return target.New(e.UserID, e.SessionID)
}

// Target returns the wire target of the disconnecting session.
func (e Disconnected) Target() target.Target {
	return target.New(e.UserID, e.SessionID)
}
