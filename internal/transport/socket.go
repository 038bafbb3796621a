package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/luciancaetano/s2snet"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 64
	maxFrameSize   = 10 * 1024 * 1024
)

// Socket is an open RTT socket. Read must be called from a single goroutine;
// Send and Close are safe for concurrent use.
type Socket interface {
	ID() string
	Send(ctx context.Context, data []byte) error
	Read() ([]byte, error)
	Close() error
	IsAlive() bool
}

// Dialer opens RTT sockets.
type Dialer interface {
	Dial(ctx context.Context, uri string) (Socket, error)
}

// WSDialer dials with gorilla/websocket.
type WSDialer struct {
	HandshakeTimeout time.Duration
}

// Dial opens a WebSocket to uri and starts its write pump.
func (d WSDialer) Dial(ctx context.Context, uri string) (Socket, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = s2snet.DefaultRTTHandshakeTimeout
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
		Proxy:            websocket.DefaultDialer.Proxy,
	}

	conn, resp, err := dialer.DialContext(ctx, uri, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("ws dial failed (status: %s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("ws dial failed: %w", err)
	}
	return NewConn(conn), nil
}

// Conn implements Socket over a gorilla connection
type Conn struct {
	id     string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	sendCh chan []byte
	mu     sync.RWMutex
	closed bool
}

// NewConn wraps conn and starts the write pump
func NewConn(conn *websocket.Conn) *Conn {
	ctx, cancel := context.WithCancel(context.Background())

	conn.SetReadLimit(maxFrameSize)

	c := &Conn{
		id:     uuid.New().String(),
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		sendCh: make(chan []byte, sendBufferSize),
	}

	go c.writePump()

	return c
}

// ID returns a unique identifier for the socket
func (c *Conn) ID() string {
	return c.id
}

// Send queues a text frame for delivery
func (c *Conn) Send(ctx context.Context, data []byte) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return errors.New(s2snet.ErrConnectionClosed)
	}

	// Keep the lock while sending to prevent race with Close()
	select {
	case c.sendCh <- data:
		c.mu.RUnlock()
		return nil
	case <-ctx.Done():
		c.mu.RUnlock()
		return ctx.Err()
	case <-c.ctx.Done():
		c.mu.RUnlock()
		return errors.New(s2snet.ErrContextCancelled)
	}
}

// Read blocks until the next data frame arrives
func (c *Conn) Read() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// Close closes the socket with a normal closure
func (c *Conn) Close() error {
	return c.CloseWithCode(websocket.CloseNormalClosure, "")
}

// CloseWithCode closes the socket with a close code and optional reason
func (c *Conn) CloseWithCode(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	message := websocket.FormatCloseMessage(code, reason)
	deadline := time.Now().Add(time.Second)
	c.conn.WriteControl(websocket.CloseMessage, message, deadline)

	c.cancel()
	close(c.sendCh)
	return c.conn.Close()
}

// IsAlive returns true if the socket has not been closed locally
func (c *Conn) IsAlive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// writePump pumps frames from the send channel to the connection
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.sendCh:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// FailureReason classifies a read error as ReasonClose for an orderly or
// abrupt close of the peer, and ReasonError for anything else.
func FailureReason(err error) string {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return s2snet.ReasonClose
	}
	return s2snet.ReasonError
}
