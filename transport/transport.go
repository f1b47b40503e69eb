// Package transport defines the byte-frame boundary the protocol core sits
// on. A transport delivers opaque frames reliably and in order, or reports a
// failure; framing, retries and reconnection live below this interface.
package transport

import "errors"

// ErrClosed is returned once a transport end has been closed, locally or by
// its peer going away.
var ErrClosed = errors.New("transport: closed")

// Transport is one endpoint of a frame-oriented connection. Send and Recv
// may be called from different goroutines; Recv is single-consumer.
type Transport interface {
	// Send delivers one opaque frame to the peer.
	Send(frame []byte) error
	// Recv blocks until the next inbound frame or a transport failure.
	Recv() ([]byte, error)
	// Close tears the connection down; pending and future calls fail.
	Close() error
}
