package backendtest

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/s2snet"
	"github.com/luciancaetano/s2snet/internal/transport"
)

const (
	readWait    = 60 * time.Second
	rejectGrace = 100 * time.Millisecond
)

type rttClient struct {
	conn       *transport.Conn
	ws         *websocket.Conn
	sessionID  string
	limiter    *rate.Limiter
	connected  atomic.Bool
	heartbeats atomic.Int64
}

type rttFrame struct {
	Service   string          `json:"service"`
	Operation string          `json:"operation"`
	Data      json.RawMessage `json:"data"`
}

func (s *Server) handleRTT(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("X-RTT-SECRET")
	s.mu.Lock()
	sessionID, ok := s.rttTokens[token]
	delete(s.rttTokens, token)
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown rtt token", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("rtt upgrade failed")
		return
	}

	client := &rttClient{
		conn:      transport.NewConn(ws),
		ws:        ws,
		sessionID: sessionID,
	}
	if s.cfg.RateLimitConfig.Enabled {
		client.limiter = rate.NewLimiter(s.cfg.RateLimitConfig.MessagesPerSecond, s.cfg.RateLimitConfig.Burst)
	}
	s.clients.Store(client.conn.ID(), client)

	go s.serveRTT(client)
}

func (s *Server) serveRTT(client *rttClient) {
	defer func() {
		s.clients.Delete(client.conn.ID())
		client.conn.Close()
	}()

	client.ws.SetReadDeadline(time.Now().Add(readWait))
	client.ws.SetPongHandler(func(string) error {
		client.ws.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	for {
		data, err := client.conn.Read()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Str("client", client.conn.ID()).Msg("rtt client gone")
			}
			return
		}
		client.ws.SetReadDeadline(time.Now().Add(readWait))

		if client.limiter != nil && !client.limiter.Allow() {
			s.logger.Warn().Str("client", client.conn.ID()).Msg("rtt rate limit exceeded")
			client.conn.CloseWithCode(websocket.ClosePolicyViolation, "Rate limit exceeded")
			return
		}

		var frame rttFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Service != s2snet.ServiceRTT {
			client.conn.CloseWithCode(websocket.CloseProtocolError, "invalid rtt frame")
			return
		}

		switch frame.Operation {
		case s2snet.OperationRTTConnect:
			s.onConnect(client, frame.Data)
		case s2snet.OperationRTTHeartbeat:
			client.heartbeats.Add(1)
			s.send(client, s2snet.ServiceRTT, s2snet.OperationRTTHeartbeat, nil)
		}
	}
}

func (s *Server) onConnect(client *rttClient, data json.RawMessage) {
	var req struct {
		AppID     string `json:"appId"`
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		s.logger.Debug().Err(err).Str("client", client.conn.ID()).Msg("bad rtt connect frame")
		s.reject(client, s2snet.DisconnectNotice{Reason: "invalid connect frame"}, websocket.CloseProtocolError)
		return
	}

	s.mu.RLock()
	valid := s.sessions[req.SessionID] && req.SessionID == client.sessionID && req.AppID == s.cfg.AppID
	s.mu.RUnlock()
	if !valid {
		s.reject(client, s2snet.DisconnectNotice{Reason: "invalid session", ReasonCode: s2snet.ReasonSessionExpired}, websocket.ClosePolicyViolation)
		return
	}

	client.connected.Store(true)
	s.send(client, s2snet.ServiceRTT, s2snet.OperationRTTConnect, map[string]any{
		"heartbeatSeconds": s.cfg.HeartbeatSeconds,
		"cxId":             client.conn.ID(),
	})
}

// reject answers a failed CONNECT with a DISCONNECT notice and closes the
// socket once the write pump has had time to flush it.
func (s *Server) reject(client *rttClient, notice s2snet.DisconnectNotice, code int) {
	if err := s.send(client, s2snet.ServiceRTT, s2snet.OperationRTTDisconnect, notice); err != nil {
		s.logger.Debug().Err(err).Str("client", client.conn.ID()).Msg("rtt reject notice failed")
	}
	time.AfterFunc(rejectGrace, func() {
		client.conn.CloseWithCode(code, notice.Reason)
	})
}

func (s *Server) send(client *rttClient, service, operation string, data any) error {
	frame, err := json.Marshal(map[string]any{
		"service":   service,
		"operation": operation,
		"data":      data,
	})
	if err != nil {
		return err
	}
	return client.conn.Send(context.Background(), frame)
}

func (s *Server) each(fn func(*rttClient)) {
	s.clients.Range(func(_, value any) bool {
		if client, ok := value.(*rttClient); ok && client.connected.Load() && client.conn.IsAlive() {
			fn(client)
		}
		return true
	})
}

// Push sends an application message to every connected RTT client.
func (s *Server) Push(service, operation string, data any) {
	s.each(func(c *rttClient) {
		if err := s.send(c, service, operation, data); err != nil {
			s.logger.Warn().Err(err).Str("client", c.conn.ID()).Msg("push failed")
		}
	})
}

// SendDisconnect sends a DISCONNECT notice to every connected RTT client
// without closing the sockets.
func (s *Server) SendDisconnect(reason string, code int) {
	s.each(func(c *rttClient) {
		s.send(c, s2snet.ServiceRTT, s2snet.OperationRTTDisconnect, s2snet.DisconnectNotice{Reason: reason, ReasonCode: code})
	})
}

// DropRTT closes every RTT socket.
func (s *Server) DropRTT() {
	s.clients.Range(func(_, value any) bool {
		if client, ok := value.(*rttClient); ok {
			client.conn.CloseWithCode(websocket.CloseGoingAway, "server closing")
		}
		return true
	})
}

// RTTClients returns the number of RTT clients that completed CONNECT.
func (s *Server) RTTClients() int {
	n := 0
	s.each(func(*rttClient) { n++ })
	return n
}

// RTTHeartbeats returns the heartbeats received from all open RTT clients.
func (s *Server) RTTHeartbeats() int64 {
	var n int64
	s.each(func(c *rttClient) { n += c.heartbeats.Load() })
	return n
}
