// Package backendtest runs an in-process fake of the game backend: the
// dispatcher endpoint with session issuance and expiry, and the RTT WebSocket
// endpoint with the CONNECT handshake and push delivery.
package backendtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/s2snet"
)

// Reason codes returned by the fake backend besides s2snet.ReasonSessionExpired.
const (
	ReasonBadCredentials = 40304
	ReasonBadRequest     = 40001
	ReasonUnknownService = 40400
)

// HandlerFunc answers one application message. The returned value becomes the
// data of a 200 response; an error becomes a 400 response.
type HandlerFunc = func(sessionID string, data json.RawMessage) (any, error)

// RateLimitConfig defines inbound throttling of RTT client frames
type RateLimitConfig struct {
	// MessagesPerSecond defines how many frames a client can send per second
	MessagesPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig allows 100 frames per second with burst of 200
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

// Config configures the fake backend.
type Config struct {
	// Addr defaults to 127.0.0.1:0.
	Addr         string
	AppID        string
	ServerName   string
	ServerSecret string
	// HeartbeatSeconds is announced in the RTT CONNECT ack; defaults to 30.
	HeartbeatSeconds int
	// OmitRTTEndpoint makes registration answer without a ws endpoint.
	OmitRTTEndpoint bool
	RateLimitConfig *RateLimitConfig
	Logger          *zerolog.Logger
}

// Call is one message received by the dispatcher endpoint.
type Call struct {
	PacketID  int64
	SessionID string
	Service   string
	Operation string
	Data      json.RawMessage
}

// Server is the fake backend.
type Server struct {
	cfg      Config
	logger   zerolog.Logger
	server   *http.Server
	listener net.Listener
	upgrader websocket.Upgrader
	handlers sync.Map // map[string]HandlerFunc keyed by service/operation

	clients sync.Map // map[string]*rttClient

	mu          sync.RWMutex
	running     bool
	sessions    map[string]bool
	rttTokens   map[string]string // token -> session id
	calls       []Call
	authFailure bool
}

// New creates a stopped fake backend.
func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	if cfg.HeartbeatSeconds == 0 {
		cfg.HeartbeatSeconds = 30
	}
	if cfg.RateLimitConfig == nil {
		cfg.RateLimitConfig = DefaultRateLimitConfig()
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Server{
		cfg:       cfg,
		logger:    logger.With().Str("component", "backendtest").Logger(),
		sessions:  make(map[string]bool),
		rttTokens: make(map[string]string),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Start listens and serves until Stop or ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.listener = ln
	s.running = true

	mux := http.NewServeMux()
	mux.HandleFunc(s2snet.DefaultDispatcherPath, s.handleDispatch)
	// Socket URIs carry no path.
	mux.HandleFunc("/", s.handleRTT)
	s.server = &http.Server{Handler: mux}
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("serve failed")
		}
	}()
	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(stopCtx)
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("fake backend started")
	return nil
}

// Stop closes every RTT client and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.DropRTT()
	return s.server.Shutdown(ctx)
}

// Addr returns the listening address
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// URL returns the dispatcher URL
func (s *Server) URL() string {
	return "http://" + s.Addr() + s2snet.DefaultDispatcherPath
}

// RegisterHandler answers service/operation with handler.
func (s *Server) RegisterHandler(service, operation string, handler HandlerFunc) {
	s.handlers.Store(service+"/"+operation, handler)
}

// ExpireSessions invalidates every issued session id.
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	s.sessions = make(map[string]bool)
	s.mu.Unlock()
}

// FailAuthentication makes every subsequent handshake fail when enabled.
func (s *Server) FailAuthentication(enabled bool) {
	s.mu.Lock()
	s.authFailure = enabled
	s.mu.Unlock()
}

// Calls returns every message received so far, in arrival order.
func (s *Server) Calls() []Call {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Call(nil), s.calls...)
}

// CountCalls returns how many messages targeted service.
func (s *Server) CountCalls(service string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Service == service {
			n++
		}
	}
	return n
}

type wirePacket struct {
	PacketID  int64   `json:"packetId"`
	SessionID *string `json:"sessionId"`
	Messages  []struct {
		Service   string          `json:"service"`
		Operation string          `json:"operation"`
		Data      json.RawMessage `json:"data"`
	} `json:"messages"`
}

type wireResult struct {
	Status        int    `json:"status"`
	ReasonCode    int    `json:"reason_code,omitempty"`
	StatusMessage string `json:"status_message,omitempty"`
	Data          any    `json:"data,omitempty"`
}

type wireResponse struct {
	Status           int          `json:"status"`
	PacketID         int64        `json:"packetId"`
	MessageResponses []wireResult `json:"messageResponses"`
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var packet wirePacket
	if err := json.NewDecoder(r.Body).Decode(&packet); err != nil {
		http.Error(w, "invalid packet", http.StatusBadRequest)
		return
	}

	sessionID := ""
	if packet.SessionID != nil {
		sessionID = *packet.SessionID
	}

	resp := wireResponse{Status: http.StatusOK, PacketID: packet.PacketID}
	for _, msg := range packet.Messages {
		s.mu.Lock()
		s.calls = append(s.calls, Call{
			PacketID:  packet.PacketID,
			SessionID: sessionID,
			Service:   msg.Service,
			Operation: msg.Operation,
			Data:      msg.Data,
		})
		s.mu.Unlock()

		resp.MessageResponses = append(resp.MessageResponses, s.answer(sessionID, msg.Service, msg.Operation, msg.Data))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn().Err(err).Msg("write response")
	}
}

func (s *Server) answer(sessionID, service, operation string, data json.RawMessage) wireResult {
	if service == s2snet.ServiceAuthentication {
		return s.authenticate(data)
	}

	s.mu.RLock()
	valid := s.sessions[sessionID]
	s.mu.RUnlock()
	if !valid {
		return wireResult{Status: http.StatusForbidden, ReasonCode: s2snet.ReasonSessionExpired, StatusMessage: "session expired"}
	}

	switch service {
	case s2snet.ServiceHeartbeat:
		return wireResult{Status: http.StatusOK}
	case s2snet.ServiceRTTRegistration:
		return s.register(sessionID)
	}

	h, ok := s.handlers.Load(service + "/" + operation)
	if !ok {
		return wireResult{Status: http.StatusBadRequest, ReasonCode: ReasonUnknownService, StatusMessage: fmt.Sprintf("unknown operation %s/%s", service, operation)}
	}
	out, err := h.(HandlerFunc)(sessionID, data)
	if err != nil {
		return wireResult{Status: http.StatusBadRequest, ReasonCode: ReasonBadRequest, StatusMessage: err.Error()}
	}
	return wireResult{Status: http.StatusOK, Data: out}
}

func (s *Server) authenticate(data json.RawMessage) wireResult {
	var creds struct {
		AppID        string `json:"appId"`
		ServerName   string `json:"serverName"`
		ServerSecret string `json:"serverSecret"`
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return wireResult{Status: http.StatusBadRequest, ReasonCode: ReasonBadRequest, StatusMessage: "invalid credentials payload"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authFailure || creds.AppID != s.cfg.AppID || creds.ServerName != s.cfg.ServerName || creds.ServerSecret != s.cfg.ServerSecret {
		return wireResult{Status: http.StatusForbidden, ReasonCode: ReasonBadCredentials, StatusMessage: "invalid server credentials"}
	}

	sessionID := uuid.New().String()
	s.sessions[sessionID] = true
	return wireResult{
		Status: http.StatusOK,
		Data: map[string]any{
			"sessionId":  sessionID,
			"serverTime": time.Now().UnixMilli(),
		},
	}
}

func (s *Server) register(sessionID string) wireResult {
	host, portStr, err := net.SplitHostPort(s.Addr())
	if err != nil {
		return wireResult{Status: http.StatusInternalServerError, StatusMessage: err.Error()}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return wireResult{Status: http.StatusInternalServerError, StatusMessage: err.Error()}
	}

	token := uuid.New().String()
	s.mu.Lock()
	s.rttTokens[token] = sessionID
	s.mu.Unlock()

	endpoints := []map[string]any{{"protocol": "tcp", "host": host, "port": 9306, "ssl": false}}
	if !s.cfg.OmitRTTEndpoint {
		endpoints = append(endpoints, map[string]any{"protocol": s2snet.RTTProtocolWebSocket, "host": host, "port": port, "ssl": false})
	}

	return wireResult{
		Status: http.StatusOK,
		Data: map[string]any{
			"endpoints": endpoints,
			"auth": map[string]string{
				"X-RTT-SECRET": token,
				"X-APPID":      s.cfg.AppID,
			},
		},
	}
}
