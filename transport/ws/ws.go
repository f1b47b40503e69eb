// Package ws adapts a gorilla/websocket connection to the transport.Transport
// frame contract. Envelopes travel as binary websocket messages; the adapter
// adds no framing of its own.
package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danmuck/sockwire/transport"
)

// Config tunes the adapter; zero values fall back to defaults.
type Config struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 15 * time.Second
	}
	return c
}

// Conn is a websocket-backed transport endpoint.
type Conn struct {
	cfg  Config
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to a websocket endpoint (ws:// or wss:// URL) and wraps it.
func Dial(ctx context.Context, url string, cfg Config) (*Conn, error) {
	cfg = cfg.withDefaults()
	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws: dial %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return Wrap(conn, cfg), nil
}

// Wrap adapts an established websocket connection, typically one produced by
// websocket.Upgrader on the accepting side.
func Wrap(conn *websocket.Conn, cfg Config) *Conn {
	return &Conn{
		cfg:    cfg.withDefaults(),
		conn:   conn,
		closed: make(chan struct{}),
	}
}

// Send writes one frame as a binary websocket message. Safe for concurrent
// callers; websocket connections allow a single writer at a time.
func (c *Conn) Send(frame []byte) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("ws: set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return c.mapErr(err)
	}
	return nil
}

// Recv blocks for the next binary message. Text and control messages are not
// part of the protocol and are skipped.
func (c *Conn) Recv() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, c.mapErr(err)
		}
		if msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Close sends a close frame on a best-effort basis and tears the connection
// down.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		deadline := time.Now().Add(c.cfg.WriteTimeout)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Conn) mapErr(err error) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return fmt.Errorf("%w: %v", transport.ErrClosed, err)
	}
	return err
}
