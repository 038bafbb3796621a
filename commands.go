package s2snet

import "time"

// Reserved service and operation names used by the session and RTT layers.
const (
	ServiceAuthentication   = "authenticationV2"
	OperationAuthenticate   = "AUTHENTICATE"
	ServiceHeartbeat        = "heartbeat"
	OperationHeartbeat      = "HEARTBEAT"
	ServiceRTTRegistration  = "rttRegistration"
	OperationSystemConnect  = "REQUEST_SYSTEM_CONNECTION"
	ServiceRTT              = "rtt"
	OperationRTTConnect     = "CONNECT"
	OperationRTTDisconnect  = "DISCONNECT"
	OperationRTTHeartbeat   = "HEARTBEAT"
	RTTProtocolWebSocket    = "ws"
	RTTPlatform             = "GO"
	RTTProfileID            = "s"
	DefaultEndpointHost     = "api.braincloudservers.com"
	DefaultDispatcherPath   = "/s2sdispatcher"
	DefaultEndpointURL      = "https://" + DefaultEndpointHost + DefaultDispatcherPath
	StatusOK                = 200
	StatusRTTEndpointAbsent = 0
)

// ReasonSessionExpired is the only reason code that triggers automatic
// re-authentication.
const ReasonSessionExpired = 40365

// MaxSessionRetries bounds consecutive re-authentications for one request.
const MaxSessionRetries = 3

// Timing defaults.
const (
	DefaultHeartbeatInterval    = 30 * time.Minute
	DefaultRequestTimeout       = 30 * time.Second
	DefaultRTTHandshakeTimeout  = 10 * time.Second
	DefaultRTTHeartbeatFallback = 30 * time.Second
)

// Socket failure reason tags reported through the RTT failure callback.
const (
	ReasonClose = "close"
	ReasonError = "error"
)

// Standard error messages
const (
	ErrFailedToEncode        = "failed to encode packet"
	ErrFailedToDecode        = "failed to decode response"
	ErrConnectionClosed      = "socket connection is closed"
	ErrContextCancelled      = "socket context cancelled"
	ErrEndpointMissingReason = "WebSocket endpoint missing"
)
