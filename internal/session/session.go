// Package session implements the authenticated S2S request channel: the
// authentication state machine, the single-in-flight FIFO dispatcher with
// re-authentication on session expiry, and the session heartbeat.
//
// All state lives behind one mutex. Transport calls run on their own
// goroutines and report back under the lock; callbacks are always invoked with
// the lock released, so a callback may call back into the session.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/luciancaetano/s2snet"
	"github.com/luciancaetano/s2snet/internal/transport"
)

// Config is the immutable configuration of a session.
type Config struct {
	AppID        string
	ServerName   string
	ServerSecret string
	// AutoAuthenticate starts the handshake when a request arrives while
	// disconnected.
	AutoAuthenticate bool
	LogEnabled       bool
	// HeartbeatInterval defaults to s2snet.DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration
	// RequestTimeout bounds each transport call; defaults to
	// s2snet.DefaultRequestTimeout.
	RequestTimeout time.Duration
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger used for session events.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithContext sets the parent context of every transport call. Cancelling it
// aborts in-flight requests the same way Close does.
func WithContext(ctx context.Context) Option {
	return func(s *Session) {
		s.ctx, s.cancel = context.WithCancel(ctx)
	}
}

type queuedRequest struct {
	msg s2snet.Message
	cb  s2snet.ResponseFunc
}

// Session implements s2snet.Session.
type Session struct {
	id     string
	cfg    Config
	poster transport.Poster
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	logEnabled atomic.Bool

	mu          sync.Mutex
	state       s2snet.State
	packetID    int64
	sessionID   string
	queue       []*queuedRequest
	inFlight    bool
	retryCount  int
	epoch       uint64
	authWaiters []s2snet.ResponseFunc
	heartbeat   chan struct{}
	closed      bool
}

var _ s2snet.Session = (*Session)(nil)

// New creates a disconnected session posting through poster.
func New(cfg Config, poster transport.Poster, opts ...Option) *Session {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = s2snet.DefaultHeartbeatInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = s2snet.DefaultRequestTimeout
	}

	s := &Session{
		id:     uuid.New().String(),
		cfg:    cfg,
		poster: poster,
		logger: zerolog.Nop(),
		state:  s2snet.StateDisconnected,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.ctx == nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}
	s.logger = s.logger.With().
		Str("component", "s2s-session").
		Str("session", s.id).
		Str("app_id", cfg.AppID).
		Logger()
	s.logEnabled.Store(cfg.LogEnabled)

	return s
}

// ID returns the local identifier of the session
func (s *Session) ID() string {
	return s.id
}

// AppID returns the configured application id
func (s *Session) AppID() string {
	return s.cfg.AppID
}

// SessionID returns the server-issued session id
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// State returns the authentication state
func (s *Session) State() s2snet.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PacketID returns the id the next request will carry
func (s *Session) PacketID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packetID
}

// Pending returns the number of queued requests, including the one in flight
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// SetLogEnabled toggles packet logging
func (s *Session) SetLogEnabled(enabled bool) {
	s.logEnabled.Store(enabled)
}

// Disconnect drops the session and fails everything still queued.
func (s *Session) Disconnect() {
	s.disconnect(s2snet.ErrSessionDisconnected)
}

// Close disconnects and cancels in-flight transport calls.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.disconnect(s2snet.ErrSessionClosed)
	s.cancel()
	return nil
}

func (s *Session) disconnect(reason error) {
	s.mu.Lock()
	drained, waiters := s.resetLocked()
	s.mu.Unlock()

	s.logger.Info().Int("dropped", len(drained)).Msg("session disconnected")
	s.fail(drained, waiters, nil, reason)
}

// resetLocked returns the session to DISCONNECTED and hands back every callback
// still owed an answer. Bumping the epoch makes responses of calls already
// submitted stale.
func (s *Session) resetLocked() ([]*queuedRequest, []s2snet.ResponseFunc) {
	s.stopHeartbeatLocked()

	drained := s.queue
	waiters := s.authWaiters
	s.queue = nil
	s.authWaiters = nil
	s.inFlight = false
	s.retryCount = 0
	s.packetID = 0
	s.sessionID = ""
	s.state = s2snet.StateDisconnected
	s.epoch++

	return drained, waiters
}

func (s *Session) fail(drained []*queuedRequest, waiters []s2snet.ResponseFunc, res *s2snet.Result, err error) {
	for _, req := range drained {
		s.invoke(req.cb, res, err)
	}
	for _, cb := range waiters {
		s.invoke(cb, res, err)
	}
}

// invoke calls cb, logging and swallowing any panic so the dispatcher stays
// consistent.
func (s *Session) invoke(cb s2snet.ResponseFunc, res *s2snet.Result, err error) {
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("response callback panicked")
		}
	}()
	cb(res, err)
}

func (s *Session) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, s.cfg.RequestTimeout)
}

func (s *Session) logSend(body []byte) {
	if s.logEnabled.Load() {
		s.logger.Info().RawJSON("packet", body).Msg("S2S SEND")
	}
}

func (s *Session) logRecv(body []byte) {
	if s.logEnabled.Load() {
		s.logger.Info().Str("packet", string(body)).Msg("S2S RECV")
	}
}
