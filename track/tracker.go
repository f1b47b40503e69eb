// Package track owns the pending-request state of one session: it issues
// correlation ids for outgoing requests and pairs asynchronous responses back
// to their originating callers.
//
// One tracker is shared by the issuing task, the inbound read loop and the
// expiry timer; every operation is short, non-blocking and safe for
// concurrent use. Responses may resolve in any order; only correlation-id
// matching determines pairing.
package track

import (
	"errors"
	"sync"
	"time"

	"github.com/danmuck/sockwire/envelope"
	"github.com/danmuck/sockwire/protoerr"
)

var (
	ErrClosed       = errors.New("track: tracker closed")
	ErrPendingLimit = errors.New("track: pending request limit reached")
	ErrUnsolicited  = errors.New("track: unsolicited response")
)

// Config bounds pending-request state.
type Config struct {
	// Timeout is the deadline for each pending request, measured from issue.
	Timeout time.Duration
	// MaxPending caps concurrently pending requests per session.
	MaxPending int
}

// DefaultConfig returns bounded defaults so abandoned requests cannot grow
// tracker state without limit.
func DefaultConfig() Config {
	return Config{
		Timeout:    30 * time.Second,
		MaxPending: 1024,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.MaxPending <= 0 {
		c.MaxPending = def.MaxPending
	}
	return c
}

type entry struct {
	corrID   uint64
	tag      uint32
	issuedAt time.Time
	handle   *Handle
}

// Tracker is the per-session correlation state machine. Each pending request
// moves Issued -> resolved-by-response | timed-out | cancelled-on-teardown,
// exactly once, and is removed from the live set on resolution.
type Tracker struct {
	cfg Config

	mu     sync.Mutex
	next   uint64
	live   map[uint64]*entry
	closed bool
}

// New creates a live tracker.
func New(cfg Config) *Tracker {
	return &Tracker{
		cfg:  cfg.WithDefaults(),
		live: make(map[uint64]*entry),
	}
}

// Issue allocates a fresh correlation id, records the pending entry and
// returns immediately; the response arrives asynchronously on the handle.
// Ids are monotonic per session and never collide with a live entry.
func (t *Tracker) Issue(tag uint32, now time.Time) (*Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	if len(t.live) >= t.cfg.MaxPending {
		return nil, ErrPendingLimit
	}
	t.next++
	corrID := t.next
	h := &Handle{
		corrID: corrID,
		tag:    tag,
		ch:     make(chan envelope.Outcome, 1),
	}
	t.live[corrID] = &entry{corrID: corrID, tag: tag, issuedAt: now, handle: h}
	return h, nil
}

// Resolve completes the pending entry for corrID with the given outcome and
// removes it. A duplicate, late or fabricated correlation id is reported as
// ErrUnsolicited and changes no state; a slot is never resolved twice.
func (t *Tracker) Resolve(corrID uint64, out envelope.Outcome) error {
	t.mu.Lock()
	e, ok := t.live[corrID]
	if ok {
		delete(t.live, corrID)
	}
	t.mu.Unlock()
	if !ok {
		return ErrUnsolicited
	}
	e.handle.complete(out)
	return nil
}

// Expire resolves every live entry whose deadline has passed with a Timeout
// outcome and returns how many were expired. Work is bounded by the number
// of legitimately pending requests; drive it from a single timer.
func (t *Tracker) Expire(now time.Time) int {
	t.mu.Lock()
	var due []*entry
	for corrID, e := range t.live {
		if !e.issuedAt.Add(t.cfg.Timeout).After(now) {
			due = append(due, e)
			delete(t.live, corrID)
		}
	}
	t.mu.Unlock()
	for _, e := range due {
		e.handle.complete(envelope.Fail(protoerr.Timeout()))
	}
	return len(due)
}

// CancelAll marks the tracker closed and resolves every live entry with a
// Cancelled outcome. Used on session teardown; once closed, Issue fails and
// no handle is ever left unresolved.
func (t *Tracker) CancelAll(reason string) int {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0
	}
	t.closed = true
	cancelled := make([]*entry, 0, len(t.live))
	for _, e := range t.live {
		cancelled = append(cancelled, e)
	}
	t.live = make(map[uint64]*entry)
	t.mu.Unlock()
	for _, e := range cancelled {
		e.handle.complete(envelope.Fail(protoerr.Cancelled(reason)))
	}
	return len(cancelled)
}

// Len returns the number of live pending entries.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

// Closed reports whether CancelAll has run.
func (t *Tracker) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Timeout returns the configured per-request deadline.
func (t *Tracker) Timeout() time.Duration {
	return t.cfg.Timeout
}
