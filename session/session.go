package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/sockwire/envelope"
	"github.com/danmuck/sockwire/observability"
	"github.com/danmuck/sockwire/protoerr"
	"github.com/danmuck/sockwire/registry"
	"github.com/danmuck/sockwire/target"
	"github.com/danmuck/sockwire/track"
	"github.com/danmuck/sockwire/transport"
)

var (
	ErrClosed        = errors.New("session: closed")
	ErrUnknownAction = errors.New("session: unknown action")
	ErrUnknownEvent  = errors.New("session: unknown event")
)

// Session binds one transport endpoint to a protocol: it issues correlated
// requests, answers inbound requests through the dispatcher, and routes
// events. One Session owns one track.Tracker; closing the session cancels
// every pending request before the tracker is discarded.
type Session struct {
	cfg     Config
	disp    *registry.Dispatcher
	tr      transport.Transport
	codec   envelope.Codec
	tracker *track.Tracker
	self    target.Target
	logger  zerolog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// New builds a session over an established transport. self identifies this
// endpoint as the sender of outgoing requests.
func New(cfg Config, disp *registry.Dispatcher, tr transport.Transport, self target.Target) (*Session, error) {
	if disp == nil {
		return nil, errors.New("session: nil dispatcher")
	}
	if tr == nil {
		return nil, errors.New("session: nil transport")
	}
	if self.IsZero() {
		return nil, errors.New("session: zero self target")
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	reg := disp.Registry()
	codec, err := envelope.NewCodec(reg, envelope.Limits{MaxPayloadBytes: cfg.MaxPayloadBytes})
	if err != nil {
		return nil, err
	}
	return &Session{
		cfg:   cfg,
		disp:  disp,
		tr:    tr,
		codec: codec,
		tracker: track.New(track.Config{
			Timeout:    cfg.CallTimeout,
			MaxPending: cfg.MaxPending,
		}),
		self:   self,
		logger: log.With().Str("protocol", reg.Name()).Logger(),
		done:   make(chan struct{}),
	}, nil
}

// Call issues the named action, sends it, and blocks until the matching
// response, a timeout, cancellation on teardown, or ctx expiry. The returned
// outcome is exactly what the tracker resolved the request with. On ctx
// expiry the pending entry stays live until the expiry sweep reclaims it.
func (s *Session) Call(ctx context.Context, action string, payload []byte) (envelope.Outcome, error) {
	desc, ok := s.disp.Registry().ActionByName(action)
	if !ok {
		return envelope.Outcome{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	h, err := s.tracker.Issue(desc.Tag, time.Now())
	if err != nil {
		if errors.Is(err, track.ErrClosed) {
			return envelope.Outcome{}, ErrClosed
		}
		return envelope.Outcome{}, err
	}
	observability.RecordIssued(s.protocol())

	frame, err := s.codec.Encode(envelope.Req{
		CorrID:  h.CorrID(),
		Tag:     desc.Tag,
		From:    s.self,
		Payload: payload,
	})
	if err != nil {
		// The request never left; reclaim the slot.
		_ = s.tracker.Resolve(h.CorrID(), envelope.Fail(protoerr.New(protoerr.KindInvalidMessage)))
		<-h.Done()
		observability.RecordResolved(s.protocol(), observability.OutcomeErr)
		return envelope.Outcome{}, err
	}
	if err := s.tr.Send(frame); err != nil {
		_ = s.tracker.Resolve(h.CorrID(), envelope.Fail(protoerr.SocketError(err.Error())))
		out := <-h.Done()
		observability.RecordResolved(s.protocol(), observability.OutcomeErr)
		return out, nil
	}

	s.logger.Debug().Uint64("corr_id", h.CorrID()).Str("action", action).Msg("request issued")
	return h.Await(ctx)
}

// Notify sends the named event. Events are uncorrelated and never touch
// pending state.
func (s *Session) Notify(event string, payload []byte) error {
	desc, ok := s.disp.Registry().EventByName(event)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
	frame, err := s.codec.Encode(envelope.Event{Tag: desc.Tag, Payload: payload})
	if err != nil {
		return err
	}
	if err := s.tr.Send(frame); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	observability.RecordEventDispatched(s.protocol(), "outbound")
	return nil
}

// Serve runs the inbound loop and the expiry timer until the transport fails
// or ctx ends. It always tears the session down on the way out, so no pending
// handle is left unresolved. A decode failure on a single frame is reported
// and skipped; it does not terminate the session.
func (s *Session) Serve(ctx context.Context) error {
	go s.expireLoop(ctx)
	go func() {
		select {
		case <-ctx.Done():
			s.teardown("context cancelled")
		case <-s.done:
		}
	}()

	for {
		frame, err := s.tr.Recv()
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				s.teardown("connection closed")
				return nil
			}
			s.teardown(err.Error())
			return fmt.Errorf("session: %w", protoerr.SocketError(err.Error()))
		}
		s.handleFrame(ctx, frame)
	}
}

func (s *Session) handleFrame(ctx context.Context, frame []byte) {
	env, err := s.codec.Decode(frame)
	if err != nil {
		ev := envelope.AsErrorValue(err)
		observability.RecordDecodeError(s.protocol(), ev.Kind.Ident())
		s.logger.Warn().Err(err).Msg("inbound frame rejected")
		return
	}
	switch v := env.(type) {
	case envelope.Res:
		s.handleRes(v)
	case envelope.Req:
		s.handleReq(ctx, v)
	case envelope.Event:
		observability.RecordEventDispatched(s.protocol(), "inbound")
		if err := s.disp.DispatchEvent(ctx, v); err != nil {
			s.logger.Warn().Err(err).Uint32("tag", v.Tag).Msg("event handler failed")
		}
	}
}

func (s *Session) handleRes(res envelope.Res) {
	if err := s.tracker.Resolve(res.CorrID, res.Outcome); err != nil {
		observability.RecordUnsolicited(s.protocol())
		s.logger.Warn().Uint64("corr_id", res.CorrID).Msg("unsolicited response dropped")
		return
	}
	outcome := observability.OutcomeOK
	if res.Outcome.IsErr() {
		outcome = observability.OutcomeErr
	}
	observability.RecordResolved(s.protocol(), outcome)
	s.logger.Debug().Uint64("corr_id", res.CorrID).Str("outcome", outcome).Msg("request resolved")
}

func (s *Session) handleReq(ctx context.Context, req envelope.Req) {
	out, err := s.disp.DispatchAction(ctx, req)
	if err != nil {
		s.logger.Error().Err(err).Uint32("tag", req.Tag).Msg("action dispatch failed")
		out = envelope.Fail(protoerr.New(protoerr.KindInvalidMessage))
	}
	frame, err := s.codec.Encode(envelope.Res{CorrID: req.CorrID, Tag: req.Tag, Outcome: out})
	if err != nil {
		s.logger.Error().Err(err).Uint64("corr_id", req.CorrID).Msg("response encode failed")
		return
	}
	if err := s.tr.Send(frame); err != nil {
		s.logger.Warn().Err(err).Uint64("corr_id", req.CorrID).Msg("response send failed")
	}
}

func (s *Session) expireLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ExpireInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.tracker.Expire(time.Now()); n > 0 {
				for i := 0; i < n; i++ {
					observability.RecordResolved(s.protocol(), observability.OutcomeTimeout)
				}
				s.logger.Debug().Int("expired", n).Msg("pending requests timed out")
			}
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

// Close tears the session down: the transport is closed and every pending
// request resolves with a Cancelled outcome exactly once.
func (s *Session) Close() error {
	s.teardown("session closed")
	return nil
}

// Pending returns the number of live pending requests.
func (s *Session) Pending() int {
	return s.tracker.Len()
}

// Closed reports whether teardown has run.
func (s *Session) Closed() bool {
	return s.tracker.Closed()
}

func (s *Session) teardown(reason string) {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.tr.Close()
		n := s.tracker.CancelAll(reason)
		for i := 0; i < n; i++ {
			observability.RecordResolved(s.protocol(), observability.OutcomeCancelled)
		}
		s.logger.Info().Str("reason", reason).Int("cancelled", n).Msg("session closed")
	})
}

func (s *Session) protocol() string {
	return s.disp.Registry().Name()
}
