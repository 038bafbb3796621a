package rtt

import (
	"time"

	"github.com/luciancaetano/s2snet/internal/protocol"
)

type tickerFunc func(d time.Duration) (<-chan time.Time, func())

func newRealTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// startHeartbeatLocked is a no-op while a heartbeat already runs.
func (c *Connection) startHeartbeatLocked(sub *subscription) {
	if c.heartbeatStop != nil {
		return
	}
	stop := make(chan struct{})
	c.heartbeatStop = stop
	ticks, cancel := c.newTicker(c.heartbeatInterval)
	go c.heartbeatLoop(sub, stop, ticks, cancel)
}

func (c *Connection) stopHeartbeatLocked() {
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
}

func (c *Connection) heartbeatLoop(sub *subscription, stop chan struct{}, ticks <-chan time.Time, cancel func()) {
	defer cancel()

	frame, err := protocol.EncodeHeartbeat()
	if err != nil {
		c.logger.Error().Err(err).Msg("encode rtt heartbeat")
		return
	}

	for {
		select {
		case <-stop:
			return
		case <-sub.ctx.Done():
			return
		case <-ticks:
			if !sub.socket.IsAlive() {
				c.logger.Debug().Msg("rtt socket closed, stopping heartbeat")
				return
			}
			if err := sub.socket.Send(sub.ctx, frame); err != nil {
				c.logger.Warn().Err(err).Msg("rtt heartbeat send failed")
				continue
			}
			c.logger.Debug().Msg("rtt heartbeat sent")
		}
	}
}
