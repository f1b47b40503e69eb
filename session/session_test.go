package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/danmuck/sockwire/envelope"
	"github.com/danmuck/sockwire/internal/testutil/testlog"
	"github.com/danmuck/sockwire/observability"
	"github.com/danmuck/sockwire/protoerr"
	"github.com/danmuck/sockwire/registry"
	"github.com/danmuck/sockwire/target"
	"github.com/danmuck/sockwire/transport"
)

func gameRegistry() *registry.Registry {
	return registry.MustNew(registry.Protocol{
		Name:    "game",
		Version: 1,
		Actions: []registry.ActionDesc{
			{Name: "login", Tag: 1},
			{Name: "echo", Tag: 2},
		},
		Events: []registry.EventDesc{
			{Name: "player_joined", Tag: 1},
		},
	})
}

type handlerSet struct {
	login  registry.ActionFunc
	echo   registry.ActionFunc
	joined registry.EventFunc
}

func (h handlerSet) dispatcher(t *testing.T, reg *registry.Registry) *registry.Dispatcher {
	t.Helper()
	login := h.login
	if login == nil {
		login = func(context.Context, envelope.Req) envelope.Outcome {
			return envelope.Fail(protoerr.New(protoerr.KindUnauthenticated))
		}
	}
	echo := h.echo
	if echo == nil {
		echo = func(_ context.Context, req envelope.Req) envelope.Outcome {
			return envelope.Ok(req.Payload)
		}
	}
	joined := h.joined
	if joined == nil {
		joined = func(context.Context, envelope.Event) error { return nil }
	}
	d, err := registry.NewDispatcher(reg,
		map[string]registry.ActionHandler{"login": login, "echo": echo},
		map[string]registry.EventHandler{"player_joined": joined},
	)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return d
}

func quickConfig() Config {
	return Config{
		CallTimeout:    2 * time.Second,
		ExpireInterval: 20 * time.Millisecond,
		MaxPending:     64,
	}
}

// startPair wires two served sessions over an in-memory pipe.
func startPair(t *testing.T, clientHandlers, serverHandlers handlerSet) (*Session, *Session) {
	t.Helper()
	reg := gameRegistry()
	clientTr, serverTr := transport.Pipe()

	client, err := New(quickConfig(), clientHandlers.dispatcher(t, reg), clientTr, target.NewRandom())
	if err != nil {
		t.Fatalf("new client session: %v", err)
	}
	server, err := New(quickConfig(), serverHandlers.dispatcher(t, reg), serverTr, target.NewRandom())
	if err != nil {
		t.Fatalf("new server session: %v", err)
	}
	go func() { _ = client.Serve(context.Background()) }()
	go func() { _ = server.Serve(context.Background()) }()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return client, server
}

func TestCallResolvesWithHandlerOutcome(t *testing.T) {
	testlog.Start(t)
	client, _ := startPair(t, handlerSet{}, handlerSet{})

	out, err := client.Call(context.Background(), "echo", []byte("marco"))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if out.IsErr() || string(out.Payload) != "marco" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestLoginErrorScenario(t *testing.T) {
	testlog.Start(t)
	client, _ := startPair(t, handlerSet{}, handlerSet{})

	out, err := client.Call(context.Background(), "login", []byte("guest"))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !out.IsErr() || out.Err.Kind != protoerr.KindUnauthenticated {
		t.Fatalf("expected unauthenticated outcome, got %+v", out)
	}
	if n := client.Pending(); n != 0 {
		t.Fatalf("live set should be empty after resolution, got %d", n)
	}
}

func TestCallUnknownAction(t *testing.T) {
	testlog.Start(t)
	client, _ := startPair(t, handlerSet{}, handlerSet{})
	if _, err := client.Call(context.Background(), "teleport", nil); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}

func TestNotifyReachesEventHandler(t *testing.T) {
	testlog.Start(t)
	payloads := make(chan []byte, 1)
	client, _ := startPair(t, handlerSet{}, handlerSet{
		joined: func(_ context.Context, ev envelope.Event) error {
			payloads <- ev.Payload
			return nil
		},
	})

	if err := client.Notify("player_joined", []byte("p7")); err != nil {
		t.Fatalf("notify: %v", err)
	}
	select {
	case got := <-payloads:
		if string(got) != "p7" {
			t.Fatalf("event payload mismatch: %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("event never dispatched")
	}
}

func TestNotifyUnknownEvent(t *testing.T) {
	testlog.Start(t)
	client, _ := startPair(t, handlerSet{}, handlerSet{})
	if err := client.Notify("comet_strike", nil); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}

// rawPeer drives the far end of a pipe with bare codec calls, for scenarios a
// well-behaved Session will not produce.
type rawPeer struct {
	t     *testing.T
	tr    transport.Transport
	codec envelope.Codec
}

func newRawPeer(t *testing.T, tr transport.Transport, reg *registry.Registry) *rawPeer {
	t.Helper()
	codec, err := envelope.NewCodec(reg, envelope.DefaultLimits())
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return &rawPeer{t: t, tr: tr, codec: codec}
}

func (p *rawPeer) recvReq() envelope.Req {
	p.t.Helper()
	frame, err := p.tr.Recv()
	if err != nil {
		p.t.Fatalf("peer recv: %v", err)
	}
	env, err := p.codec.Decode(frame)
	if err != nil {
		p.t.Fatalf("peer decode: %v", err)
	}
	req, ok := env.(envelope.Req)
	if !ok {
		p.t.Fatalf("expected req, got %T", env)
	}
	return req
}

func (p *rawPeer) send(env envelope.Envelope) {
	p.t.Helper()
	frame, err := p.codec.Encode(env)
	if err != nil {
		p.t.Fatalf("peer encode: %v", err)
	}
	if err := p.tr.Send(frame); err != nil {
		p.t.Fatalf("peer send: %v", err)
	}
}

func startWithRawPeer(t *testing.T) (*Session, *rawPeer) {
	t.Helper()
	reg := gameRegistry()
	clientTr, peerTr := transport.Pipe()
	client, err := New(quickConfig(), handlerSet{}.dispatcher(t, reg), clientTr, target.NewRandom())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	go func() { _ = client.Serve(context.Background()) }()
	t.Cleanup(func() { _ = client.Close() })
	return client, newRawPeer(t, peerTr, reg)
}

func TestOutOfOrderResponses(t *testing.T) {
	testlog.Start(t)
	client, peer := startWithRawPeer(t)

	type result struct {
		name string
		out  envelope.Outcome
		err  error
	}
	results := make(chan result, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		out, err := client.Call(context.Background(), "echo", []byte("first"))
		results <- result{"first", out, err}
	}()
	// The peer answers in reverse arrival order.
	req1 := peer.recvReq()
	go func() {
		defer wg.Done()
		out, err := client.Call(context.Background(), "echo", []byte("second"))
		results <- result{"second", out, err}
	}()
	req2 := peer.recvReq()

	peer.send(envelope.Res{CorrID: req2.CorrID, Tag: req2.Tag, Outcome: envelope.Ok(req2.Payload)})
	peer.send(envelope.Res{CorrID: req1.CorrID, Tag: req1.Tag, Outcome: envelope.Ok(req1.Payload)})
	wg.Wait()
	close(results)

	for r := range results {
		if r.err != nil {
			t.Fatalf("call %s: %v", r.name, r.err)
		}
		if string(r.out.Payload) != r.name {
			t.Fatalf("call %s resolved with %q", r.name, r.out.Payload)
		}
	}
}

func TestUnsolicitedResponseIgnored(t *testing.T) {
	testlog.Start(t)
	client, peer := startWithRawPeer(t)

	peer.send(envelope.Res{CorrID: 424242, Tag: 2, Outcome: envelope.Ok([]byte("ghost"))})

	// The session survives and still serves real traffic.
	done := make(chan envelope.Outcome, 1)
	go func() {
		out, err := client.Call(context.Background(), "echo", []byte("alive"))
		if err != nil {
			t.Errorf("call: %v", err)
		}
		done <- out
	}()
	req := peer.recvReq()
	peer.send(envelope.Res{CorrID: req.CorrID, Tag: req.Tag, Outcome: envelope.Ok(req.Payload)})
	select {
	case out := <-done:
		if string(out.Payload) != "alive" {
			t.Fatalf("unexpected outcome: %+v", out)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("call never resolved")
	}
}

func TestMalformedFrameDoesNotKillSession(t *testing.T) {
	testlog.Start(t)
	client, peer := startWithRawPeer(t)

	if err := peer.tr.Send([]byte{0xBA, 0xD0}); err != nil {
		t.Fatalf("send garbage: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		out, err := client.Call(context.Background(), "echo", []byte("still here"))
		if err != nil || string(out.Payload) != "still here" {
			t.Errorf("call after garbage: out=%+v err=%v", out, err)
		}
	}()
	req := peer.recvReq()
	peer.send(envelope.Res{CorrID: req.CorrID, Tag: req.Tag, Outcome: envelope.Ok(req.Payload)})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("session died on malformed frame")
	}
}

func TestCallTimesOutWithoutResponse(t *testing.T) {
	testlog.Start(t)
	reg := gameRegistry()
	clientTr, peerTr := transport.Pipe()
	cfg := Config{
		CallTimeout:    60 * time.Millisecond,
		ExpireInterval: 10 * time.Millisecond,
		MaxPending:     8,
	}
	client, err := New(cfg, handlerSet{}.dispatcher(t, reg), clientTr, target.NewRandom())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	go func() { _ = client.Serve(context.Background()) }()
	t.Cleanup(func() { _ = client.Close() })
	peer := newRawPeer(t, peerTr, reg)

	start := time.Now()
	out, err := client.Call(context.Background(), "echo", []byte("void"))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !out.IsErr() || out.Err.Kind != protoerr.KindTimeout {
		t.Fatalf("expected timeout outcome, got %+v", out)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout took %v", elapsed)
	}
	_ = peer // request intentionally never answered
	if client.Pending() != 0 {
		t.Fatalf("expired entry still live")
	}
}

func TestCloseCancelsPendingCalls(t *testing.T) {
	testlog.Start(t)
	client, peer := startWithRawPeer(t)

	outcomes := make(chan envelope.Outcome, 3)
	for i := 0; i < 3; i++ {
		go func() {
			out, err := client.Call(context.Background(), "echo", []byte("hang"))
			if err != nil {
				t.Errorf("call: %v", err)
				return
			}
			outcomes <- out
		}()
	}
	for i := 0; i < 3; i++ {
		_ = peer.recvReq()
	}

	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	for i := 0; i < 3; i++ {
		select {
		case out := <-outcomes:
			if !out.IsErr() || out.Err.Kind != protoerr.KindCancelled {
				t.Fatalf("expected cancelled outcome, got %+v", out)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("pending call never resolved after close")
		}
	}
	if !client.Closed() {
		t.Fatalf("session should report closed")
	}
	if _, err := client.Call(context.Background(), "echo", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("call on closed session: %v", err)
	}
}

// counterValue reads a counter from the default registry by name and labels.
func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			matched := 0
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] == lp.GetValue() {
					matched++
				}
			}
			if matched == len(labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestEncodeFailureResolvesCounters(t *testing.T) {
	testlog.Start(t)
	reg := gameRegistry()
	clientTr, _ := transport.Pipe()
	cfg := quickConfig()
	cfg.MaxPayloadBytes = 16
	client, err := New(cfg, handlerSet{}.dispatcher(t, reg), clientTr, target.NewRandom())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	issued := "sockwire_track_requests_issued_total"
	resolved := "sockwire_track_requests_resolved_total"
	labels := map[string]string{"protocol": "game"}
	errLabels := map[string]string{"protocol": "game", "outcome": observability.OutcomeErr}
	issuedBefore := counterValue(t, issued, labels)
	resolvedBefore := counterValue(t, resolved, errLabels)

	oversized := make([]byte, 64)
	if _, err := client.Call(context.Background(), "echo", oversized); err == nil {
		t.Fatalf("oversized payload must fail to encode")
	}
	if client.Pending() != 0 {
		t.Fatalf("failed call left a live pending entry")
	}
	if d := counterValue(t, issued, labels) - issuedBefore; d != 1 {
		t.Fatalf("issued delta=%v", d)
	}
	if d := counterValue(t, resolved, errLabels) - resolvedBefore; d != 1 {
		t.Fatalf("resolved delta=%v, issued and resolved counters drifted", d)
	}

	// The session is still usable for payloads within the limit.
	if _, err := client.Call(context.Background(), "teleport", nil); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("session unusable after encode failure: %v", err)
	}
}

func TestPeerDisconnectCancelsPending(t *testing.T) {
	testlog.Start(t)
	client, peer := startWithRawPeer(t)

	done := make(chan envelope.Outcome, 1)
	go func() {
		out, err := client.Call(context.Background(), "echo", []byte("doomed"))
		if err != nil {
			t.Errorf("call: %v", err)
			return
		}
		done <- out
	}()
	_ = peer.recvReq()
	if err := peer.tr.Close(); err != nil {
		t.Fatalf("peer close: %v", err)
	}

	select {
	case out := <-done:
		if !out.IsErr() || out.Err.Kind != protoerr.KindCancelled {
			t.Fatalf("expected cancelled outcome, got %+v", out)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pending call survived disconnect")
	}
}
