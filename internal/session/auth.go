package session

import (
	"context"
	"fmt"

	"github.com/luciancaetano/s2snet"
	"github.com/luciancaetano/s2snet/internal/protocol"
)

// Authenticate runs the authentication handshake and calls cb once with its
// outcome. A call made while a handshake is already running waits for that
// handshake; a call made while connected re-authenticates.
func (s *Session) Authenticate(cb s2snet.ResponseFunc) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.invoke(cb, nil, s2snet.ErrSessionClosed)
		return
	}
	if s.state == s2snet.StateConnected {
		// A request already in flight still completes; queued ones wait for
		// the new session.
		s.stopHeartbeatLocked()
		s.state = s2snet.StateDisconnected
		s.packetID = 0
		s.sessionID = ""
	}
	s.beginAuthLocked(cb)
	s.mu.Unlock()
}

// AuthenticateSync authenticates and waits for the outcome. A non-success
// result is returned together with an error wrapping
// s2snet.ErrAuthenticationFailed.
func (s *Session) AuthenticateSync(ctx context.Context) (*s2snet.Result, error) {
	type outcome struct {
		res *s2snet.Result
		err error
	}
	done := make(chan outcome, 1)
	s.Authenticate(func(res *s2snet.Result, err error) {
		done <- outcome{res, err}
	})

	select {
	case o := <-done:
		if o.err == nil && !o.res.OK() {
			o.err = authError(o.res)
		}
		return o.res, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// beginAuthLocked registers cb for the handshake outcome and starts the
// handshake unless one is already running.
func (s *Session) beginAuthLocked(cb s2snet.ResponseFunc) {
	if cb != nil {
		s.authWaiters = append(s.authWaiters, cb)
	}
	if s.state == s2snet.StateAuthenticating {
		return
	}

	s.state = s2snet.StateAuthenticating
	s.logger.Debug().Msg("authenticating")

	msg := protocol.AuthenticateMessage(s.cfg.AppID, s.cfg.ServerName, s.cfg.ServerSecret)
	go s.exchange(s.epoch, protocol.NewPacket(0, "", msg), s.onAuthResponse)
}

func (s *Session) onAuthResponse(epoch uint64, resp *protocol.Response, err error) {
	s.mu.Lock()
	if epoch != s.epoch || s.state != s2snet.StateAuthenticating {
		s.mu.Unlock()
		s.logger.Debug().Msg("ignoring stale authentication response")
		return
	}

	res := resp.First()
	var data protocol.SessionData
	if err == nil && res.OK() {
		if derr := res.Decode(&data); derr != nil || data.SessionID == "" {
			err = fmt.Errorf("%w: response carries no session id", s2snet.ErrAuthenticationFailed)
		}
	}

	if err == nil && res.OK() {
		waiters := s.authWaiters
		s.authWaiters = nil
		s.state = s2snet.StateConnected
		s.sessionID = data.SessionID
		s.packetID = resp.PacketID + 1
		s.startHeartbeatLocked()
		s.pumpLocked()
		s.mu.Unlock()

		s.logger.Info().Str("session_id", data.SessionID).Msg("authenticated")
		for _, cb := range waiters {
			s.invoke(cb, res, nil)
		}
		return
	}

	if res == nil {
		res = resp.Result()
	}
	if err == nil {
		err = authError(res)
	}
	drained, waiters := s.resetLocked()
	s.mu.Unlock()

	s.logger.Warn().Err(err).Int("dropped", len(drained)).Msg("authentication failed")
	s.fail(drained, waiters, res, err)
}

func authError(res *s2snet.Result) error {
	if res == nil {
		return s2snet.ErrAuthenticationFailed
	}
	return fmt.Errorf("%w: status %d reason %d %s", s2snet.ErrAuthenticationFailed, res.Status, res.ReasonCode, res.StatusMessage)
}
