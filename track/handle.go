package track

import (
	"context"

	"github.com/danmuck/sockwire/envelope"
)

// Handle is the caller's side of one pending request. It observes exactly one
// outcome: the matching response, a timeout, or cancellation on teardown.
type Handle struct {
	corrID uint64
	tag    uint32
	ch     chan envelope.Outcome
}

// CorrID returns the correlation id carried by the request on the wire.
func (h *Handle) CorrID() uint64 { return h.corrID }

// Tag returns the action tag the request was issued for.
func (h *Handle) Tag() uint32 { return h.tag }

// Done exposes the resolution channel for select-based callers. The channel
// receives exactly one outcome and is never closed.
func (h *Handle) Done() <-chan envelope.Outcome {
	return h.ch
}

// Await blocks until the handle resolves or ctx is cancelled.
func (h *Handle) Await(ctx context.Context) (envelope.Outcome, error) {
	select {
	case out := <-h.ch:
		return out, nil
	case <-ctx.Done():
		return envelope.Outcome{}, ctx.Err()
	}
}

// complete delivers the outcome. The tracker removes the entry before calling
// complete, so it runs at most once per handle; the buffered channel makes it
// non-blocking.
func (h *Handle) complete(out envelope.Outcome) {
	h.ch <- out
}
