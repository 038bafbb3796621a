package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/luciancaetano/s2snet"
	"github.com/luciancaetano/s2snet/internal/protocol"
)

type responseHandler func(epoch uint64, resp *protocol.Response, err error)

// Request queues msg. It is sent once every earlier request has completed and
// the session is connected.
func (s *Session) Request(msg s2snet.Message, cb s2snet.ResponseFunc) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.invoke(cb, nil, s2snet.ErrSessionClosed)
		return
	}
	if s.state == s2snet.StateDisconnected {
		if !s.cfg.AutoAuthenticate {
			s.mu.Unlock()
			s.logger.Warn().Str("service", msg.Service).Str("operation", msg.Operation).Msg("request rejected, session not authenticated")
			s.invoke(cb, nil, s2snet.ErrNotAuthenticated)
			return
		}
		s.beginAuthLocked(nil)
	}
	s.enqueueLocked(msg, cb)
	s.mu.Unlock()
}

// RequestSync sends msg and waits for its outcome or for ctx to end. A context
// timeout does not remove the request from the queue.
func (s *Session) RequestSync(ctx context.Context, msg s2snet.Message) (*s2snet.Result, error) {
	type outcome struct {
		res *s2snet.Result
		err error
	}
	done := make(chan outcome, 1)
	s.Request(msg, func(res *s2snet.Result, err error) {
		done <- outcome{res, err}
	})

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) enqueueLocked(msg s2snet.Message, cb s2snet.ResponseFunc) {
	s.queue = append(s.queue, &queuedRequest{msg: msg, cb: cb})
	s.pumpLocked()
}

// pumpLocked sends the head of the queue when nothing is in flight and the
// session is connected.
func (s *Session) pumpLocked() {
	if s.inFlight || len(s.queue) == 0 || s.state != s2snet.StateConnected {
		return
	}

	head := s.queue[0]
	packet := protocol.NewPacket(s.packetID, s.sessionID, head.msg)
	s.packetID++
	s.inFlight = true

	go s.exchange(s.epoch, packet, func(epoch uint64, resp *protocol.Response, err error) {
		s.onResponse(epoch, head, resp, err)
	})
}

// exchange posts one packet and hands the decoded reply to handle.
func (s *Session) exchange(epoch uint64, packet protocol.Packet, handle responseHandler) {
	body, err := protocol.EncodePacket(packet)
	if err != nil {
		s.logger.Error().Err(err).Int64("packet_id", packet.PacketID).Msg("encode failed")
		handle(epoch, nil, err)
		return
	}
	s.logSend(body)

	ctx, cancel := s.requestContext()
	raw, err := s.poster.Post(ctx, body)
	cancel()
	if err != nil {
		if s.logEnabled.Load() {
			s.logger.Warn().Err(err).Int64("packet_id", packet.PacketID).Msg("S2S request failed")
		}
		handle(epoch, nil, fmt.Errorf("%w: %w", s2snet.ErrTransport, err))
		return
	}
	s.logRecv(raw)

	resp, err := protocol.DecodeResponse(raw)
	if err != nil {
		s.logger.Error().Err(err).Int64("packet_id", packet.PacketID).Msg("error parsing response data")
		handle(epoch, nil, err)
		return
	}
	handle(epoch, resp, nil)
}

func (s *Session) onResponse(epoch uint64, head *queuedRequest, resp *protocol.Response, err error) {
	s.mu.Lock()
	if epoch != s.epoch || len(s.queue) == 0 || s.queue[0] != head {
		s.mu.Unlock()
		s.logger.Debug().Msg("ignoring response for a torn-down session")
		return
	}

	if resp.SessionExpired() && s.retryCount < s2snet.MaxSessionRetries {
		s.retryCount++
		s.logger.Info().Int("attempt", s.retryCount).Msg("session expired, re-authenticating")
		s.stopHeartbeatLocked()
		s.packetID = 0
		s.sessionID = ""
		// A handshake started by Authenticate may already be on the wire;
		// beginAuthLocked joins it.
		if s.state == s2snet.StateConnected {
			s.state = s2snet.StateDisconnected
		}
		s.inFlight = false
		s.beginAuthLocked(nil)
		s.mu.Unlock()
		return
	}

	// The head leaves the queue before its callback runs while inFlight stays
	// set, so requests queued from the callback wait for it to return.
	s.queue = s.queue[1:]
	s.retryCount = 0
	s.mu.Unlock()

	var res *s2snet.Result
	if resp != nil {
		res = resp.Result()
	}
	if res == nil && err == nil {
		err = errors.New(s2snet.ErrFailedToDecode)
	}
	s.invoke(head.cb, res, err)

	s.mu.Lock()
	if epoch == s.epoch {
		s.inFlight = false
		s.pumpLocked()
	}
	s.mu.Unlock()
}
