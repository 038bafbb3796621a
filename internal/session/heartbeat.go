package session

import (
	"time"

	"github.com/luciancaetano/s2snet"
	"github.com/luciancaetano/s2snet/internal/protocol"
)

// startHeartbeatLocked (re)starts the keepalive ticker.
func (s *Session) startHeartbeatLocked() {
	s.stopHeartbeatLocked()

	stop := make(chan struct{})
	s.heartbeat = stop
	go s.heartbeatLoop(stop, s.cfg.HeartbeatInterval)
}

// stopHeartbeatLocked is safe to call when no heartbeat runs.
func (s *Session) stopHeartbeatLocked() {
	if s.heartbeat != nil {
		close(s.heartbeat)
		s.heartbeat = nil
	}
}

func (s *Session) heartbeatLoop(stop chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.heartbeat != stop {
				s.mu.Unlock()
				return
			}
			epoch := s.epoch
			s.enqueueLocked(protocol.HeartbeatMessage(), func(res *s2snet.Result, err error) {
				s.onHeartbeat(epoch, res, err)
			})
			s.mu.Unlock()
		}
	}
}

// onHeartbeat disconnects on a failed keepalive unless the session it was
// queued on has already been torn down.
func (s *Session) onHeartbeat(epoch uint64, res *s2snet.Result, err error) {
	if err == nil && res.OK() {
		s.logger.Debug().Msg("heartbeat ok")
		return
	}

	s.mu.Lock()
	stale := epoch != s.epoch
	s.mu.Unlock()
	if stale {
		s.logger.Debug().Err(err).Msg("dropping heartbeat outcome of a torn-down session")
		return
	}

	ev := s.logger.Warn()
	if err != nil {
		ev = ev.Err(err)
	} else {
		ev = ev.Int("status", res.Status).Int("reason_code", res.ReasonCode)
	}
	ev.Msg("heartbeat failed, disconnecting")
	s.Disconnect()
}
