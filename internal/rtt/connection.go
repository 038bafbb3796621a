// Package rtt manages the real-time push connection of a session: channel
// registration through the session, the socket CONNECT handshake, the RTT
// heartbeat and delivery of push messages to an observer.
package rtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/luciancaetano/s2snet"
	"github.com/luciancaetano/s2snet/internal/protocol"
	"github.com/luciancaetano/s2snet/internal/transport"
)

// Requester is the part of a session the connection borrows for registration.
type Requester interface {
	Request(msg s2snet.Message, cb s2snet.ResponseFunc)
	AppID() string
	SessionID() string
}

// Option configures a Connection.
type Option func(*Connection)

// WithLogger sets the logger used for RTT events.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Connection) {
		c.logger = logger
	}
}

// WithHandshakeTimeout bounds the socket dial.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Connection) {
		if d > 0 {
			c.handshakeTimeout = d
		}
	}
}

// subscription scopes one socket and its read loop. Cancelling it detaches
// every handler bound to the socket.
type subscription struct {
	socket transport.Socket
	ctx    context.Context
	cancel context.CancelFunc
}

// Connection implements s2snet.RTT.
type Connection struct {
	id               string
	session          Requester
	dialer           transport.Dialer
	logger           zerolog.Logger
	handshakeTimeout time.Duration
	newTicker        tickerFunc

	mu                sync.Mutex
	status            s2snet.RTTStatus
	attempt           uint64
	sub               *subscription
	heartbeatInterval time.Duration
	heartbeatStop     chan struct{}
	onSuccess         s2snet.RTTSuccessFunc
	onFailure         s2snet.RTTFailureFunc
	observer          s2snet.RTTObserver
	lastDisconnect    *s2snet.DisconnectNotice
}

var _ s2snet.RTT = (*Connection)(nil)

// New creates a disconnected RTT connection registering through session and
// opening sockets with dialer.
func New(session Requester, dialer transport.Dialer, opts ...Option) *Connection {
	c := &Connection{
		id:               uuid.New().String(),
		session:          session,
		dialer:           dialer,
		logger:           zerolog.Nop(),
		handshakeTimeout: s2snet.DefaultRTTHandshakeTimeout,
		newTicker:        newRealTicker,
		status:           s2snet.RTTDisconnected,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.logger.With().
		Str("component", "s2s-rtt").
		Str("rtt", c.id).
		Logger()

	return c
}

// ID returns the local identifier of the connection
func (c *Connection) ID() string {
	return c.id
}

// Enable starts a connection attempt unless one is running or established.
func (c *Connection) Enable(onSuccess s2snet.RTTSuccessFunc, onFailure s2snet.RTTFailureFunc) {
	c.mu.Lock()
	if status := c.status; status == s2snet.RTTConnected || status == s2snet.RTTConnecting {
		c.mu.Unlock()
		c.logger.Debug().Str("status", status.String()).Msg("enable ignored")
		return
	}
	c.status = s2snet.RTTConnecting
	c.attempt++
	gen := c.attempt
	c.onSuccess = onSuccess
	c.onFailure = onFailure
	c.lastDisconnect = nil
	c.mu.Unlock()

	c.logger.Info().Msg("requesting rtt system connection")
	c.session.Request(protocol.RegistrationMessage(), func(res *s2snet.Result, err error) {
		c.onRegistration(gen, res, err)
	})
}

func (c *Connection) onRegistration(gen uint64, res *s2snet.Result, err error) {
	var sc protocol.SystemConnection
	if err == nil && !res.OK() {
		err = fmt.Errorf("%w: status %d reason %d", s2snet.ErrRTTRegistration, res.Status, res.ReasonCode)
	}
	if err == nil {
		if derr := res.Decode(&sc); derr != nil {
			err = fmt.Errorf("%s: %w", s2snet.ErrFailedToDecode, derr)
		}
	}
	ep, ok := sc.Endpoint(s2snet.RTTProtocolWebSocket)
	if err == nil && !ok {
		res = &s2snet.Result{
			Status:        s2snet.StatusRTTEndpointAbsent,
			StatusMessage: s2snet.ErrEndpointMissingReason,
		}
		err = s2snet.ErrRTTEndpointMissing
	}

	if err != nil {
		c.mu.Lock()
		if gen != c.attempt {
			c.mu.Unlock()
			return
		}
		onFailure := c.onFailure
		c.onSuccess, c.onFailure = nil, nil
		c.status = s2snet.RTTDisconnected
		c.mu.Unlock()

		c.logger.Warn().Err(err).Msg("rtt registration failed")
		c.fail(onFailure, &s2snet.RegistrationError{Result: res, Err: err})
		return
	}

	uri := protocol.BuildSocketURI(ep, sc.Auth)
	appID, sessionID := c.session.AppID(), c.session.SessionID()
	go c.open(gen, uri, appID, sessionID, sc.Auth)
}

// open dials the socket, starts its read loop and sends CONNECT.
func (c *Connection) open(gen uint64, uri, appID, sessionID string, auth protocol.AuthParams) {
	c.logger.Debug().Str("uri", uri).Msg("opening rtt socket")

	ctx, cancel := context.WithTimeout(context.Background(), c.handshakeTimeout)
	socket, err := c.dialer.Dial(ctx, uri)
	cancel()

	c.mu.Lock()
	if gen != c.attempt || c.status != s2snet.RTTConnecting {
		c.mu.Unlock()
		if socket != nil {
			socket.Close()
		}
		return
	}
	if err != nil {
		onFailure := c.onFailure
		c.onSuccess, c.onFailure = nil, nil
		c.status = s2snet.RTTDisconnected
		c.mu.Unlock()

		c.logger.Warn().Err(err).Msg("rtt socket error")
		c.fail(onFailure, &s2snet.SocketError{Reason: s2snet.ReasonError, Err: err})
		return
	}

	subCtx, subCancel := context.WithCancel(context.Background())
	sub := &subscription{socket: socket, ctx: subCtx, cancel: subCancel}
	c.sub = sub
	c.mu.Unlock()

	go c.readLoop(sub)

	frame, err := protocol.EncodeConnect(appID, sessionID, auth)
	if err == nil {
		err = socket.Send(subCtx, frame)
	}
	if err != nil {
		c.onSocketClosed(sub, s2snet.ReasonError, err)
		return
	}
	c.logger.Debug().RawJSON("frame", frame).Msg("rtt CONNECT sent")
}

func (c *Connection) readLoop(sub *subscription) {
	for {
		data, err := sub.socket.Read()
		if sub.ctx.Err() != nil {
			return
		}
		if err != nil {
			c.onSocketClosed(sub, transport.FailureReason(err), err)
			return
		}

		event, err := protocol.DecodeRTT(data)
		if err != nil {
			c.logger.Warn().Err(err).Str("frame", string(data)).Msg("ignoring malformed rtt frame")
			continue
		}
		c.dispatch(sub, event)
	}
}

func (c *Connection) dispatch(sub *subscription, event protocol.Event) {
	switch ev := event.(type) {
	case protocol.ConnectAck:
		c.onConnectAck(sub, ev)
	case protocol.Disconnect:
		c.mu.Lock()
		if c.sub == sub {
			notice := ev.Notice
			c.lastDisconnect = &notice
		}
		c.mu.Unlock()
		c.logger.Info().Str("reason", ev.Notice.Reason).Int("reason_code", ev.Notice.ReasonCode).Msg("rtt disconnect notice")
	case protocol.Heartbeat:
		c.logger.Debug().Msg("rtt heartbeat ack")
	case protocol.Control:
		c.logger.Debug().Str("operation", ev.Message.Operation).Msg("rtt control message")
	case protocol.Push:
		c.mu.Lock()
		observer := c.observer
		current := c.sub == sub
		c.mu.Unlock()
		if current {
			c.notify(observer, ev.Message)
		}
	}
}

func (c *Connection) onConnectAck(sub *subscription, ack protocol.ConnectAck) {
	c.mu.Lock()
	if c.sub != sub || c.status != s2snet.RTTConnecting {
		c.mu.Unlock()
		c.logger.Debug().Msg("ignoring unexpected CONNECT ack")
		return
	}

	interval := time.Duration(ack.HeartbeatSeconds) * time.Second
	if interval <= 0 {
		c.logger.Warn().Int("heartbeat_seconds", ack.HeartbeatSeconds).Msg("invalid rtt heartbeat, using fallback")
		interval = s2snet.DefaultRTTHeartbeatFallback
	}
	c.heartbeatInterval = interval
	c.status = s2snet.RTTConnected
	c.startHeartbeatLocked(sub)

	onSuccess := c.onSuccess
	c.onSuccess = nil
	c.mu.Unlock()

	c.logger.Info().Dur("heartbeat", interval).Msg("rtt connected")
	if onSuccess != nil {
		c.guard("success callback", func() { onSuccess(ack.Message) })
	}
}

// onSocketClosed runs the disable path for a socket that failed on its own and
// reports the loss to the pending failure callback.
func (c *Connection) onSocketClosed(sub *subscription, reason string, err error) {
	c.mu.Lock()
	if c.sub != sub {
		c.mu.Unlock()
		return
	}
	onFailure := c.onFailure
	c.onSuccess, c.onFailure = nil, nil
	notice := c.lastDisconnect
	c.teardownLocked()
	c.mu.Unlock()

	c.logger.Warn().Err(err).Str("reason", reason).Msg("rtt socket lost")
	c.fail(onFailure, &s2snet.SocketError{Reason: reason, Err: err, Disconnect: notice})
}

// Disable closes the connection without invoking the failure callback.
func (c *Connection) Disable() {
	c.mu.Lock()
	if c.status == s2snet.RTTDisconnected || c.status == s2snet.RTTDisconnecting {
		c.mu.Unlock()
		return
	}
	c.attempt++
	c.onSuccess, c.onFailure = nil, nil
	c.teardownLocked()
	c.mu.Unlock()

	c.logger.Info().Msg("rtt disabled")
}

// teardownLocked stops the heartbeat, detaches and closes the socket.
func (c *Connection) teardownLocked() {
	c.status = s2snet.RTTDisconnecting
	c.stopHeartbeatLocked()
	if sub := c.sub; sub != nil {
		sub.cancel()
		if err := sub.socket.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("rtt socket close")
		}
		c.sub = nil
	}
	c.status = s2snet.RTTDisconnected
}

// Enabled reports whether the CONNECT handshake has completed
func (c *Connection) Enabled() bool {
	return c.Status() == s2snet.RTTConnected
}

// Status returns the lifecycle status
func (c *Connection) Status() s2snet.RTTStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// HeartbeatInterval returns the interval acknowledged by the server, zero
// before the first CONNECT ack.
func (c *Connection) HeartbeatInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heartbeatInterval
}

// LastDisconnect returns the last DISCONNECT notice received on the current
// attempt.
func (c *Connection) LastDisconnect() (s2snet.DisconnectNotice, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastDisconnect == nil {
		return s2snet.DisconnectNotice{}, false
	}
	return *c.lastDisconnect, true
}

// RegisterObserver sets the push message callback
func (c *Connection) RegisterObserver(observer s2snet.RTTObserver) {
	c.mu.Lock()
	c.observer = observer
	c.mu.Unlock()
}

// DeregisterObserver removes the push message callback
func (c *Connection) DeregisterObserver() {
	c.mu.Lock()
	c.observer = nil
	c.mu.Unlock()
}

func (c *Connection) notify(observer s2snet.RTTObserver, msg s2snet.RTTMessage) {
	if observer == nil {
		c.logger.Debug().Str("service", msg.Service).Msg("push dropped, no observer")
		return
	}
	c.guard("observer", func() { observer(msg) })
}

func (c *Connection) fail(onFailure s2snet.RTTFailureFunc, err error) {
	if onFailure == nil {
		return
	}
	c.guard("failure callback", func() { onFailure(err) })
}

func (c *Connection) guard(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Str("callback", name).Msg("rtt callback panicked")
		}
	}()
	fn()
}
