package transport

import "sync"

const pipeDepth = 64

// Pipe returns two connected in-memory transports. Frames written to one end
// are read from the other. Closing either end fails both. Intended for tests
// and same-process peers.
func Pipe() (Transport, Transport) {
	ab := make(chan []byte, pipeDepth)
	ba := make(chan []byte, pipeDepth)
	done := make(chan struct{})
	shared := &pipeShared{done: done}
	return &pipeEnd{out: ab, in: ba, shared: shared},
		&pipeEnd{out: ba, in: ab, shared: shared}
}

type pipeShared struct {
	done      chan struct{}
	closeOnce sync.Once
}

type pipeEnd struct {
	out    chan<- []byte
	in     <-chan []byte
	shared *pipeShared
}

func (p *pipeEnd) Send(frame []byte) error {
	copied := make([]byte, len(frame))
	copy(copied, frame)
	select {
	case <-p.shared.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- copied:
		return nil
	case <-p.shared.done:
		return ErrClosed
	}
}

func (p *pipeEnd) Recv() ([]byte, error) {
	// Drain frames already in flight even after close, so a frame sent just
	// before teardown is not silently lost.
	select {
	case frame := <-p.in:
		return frame, nil
	default:
	}
	select {
	case frame := <-p.in:
		return frame, nil
	case <-p.shared.done:
		return nil, ErrClosed
	}
}

func (p *pipeEnd) Close() error {
	p.shared.closeOnce.Do(func() {
		close(p.shared.done)
	})
	return nil
}
