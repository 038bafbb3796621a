package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/luciancaetano/s2snet"
)

const maxPacketSize = 10 * 1024 * 1024 // 10MB max packet size

// Packet is the request envelope posted to the dispatcher.
type Packet struct {
	PacketID  int64            `json:"packetId"`
	SessionID *string          `json:"sessionId"`
	Messages  []s2snet.Message `json:"messages"`
}

// NewPacket builds a single-message packet. An empty sessionID is encoded as null.
func NewPacket(packetID int64, sessionID string, msg s2snet.Message) Packet {
	p := Packet{
		PacketID: packetID,
		Messages: []s2snet.Message{msg},
	}
	if sessionID != "" {
		p.SessionID = &sessionID
	}
	return p
}

// Response is the dispatcher's reply envelope.
type Response struct {
	Status           int             `json:"status"`
	ReasonCode       int             `json:"reason_code,omitempty"`
	StatusMessage    string          `json:"status_message,omitempty"`
	PacketID         int64           `json:"packetId"`
	MessageResponses []s2snet.Result `json:"messageResponses,omitempty"`
}

// First returns the first message response, or nil when there is none.
func (r *Response) First() *s2snet.Result {
	if r == nil || len(r.MessageResponses) == 0 {
		return nil
	}
	return &r.MessageResponses[0]
}

// Result returns the first message response, falling back to the top-level
// status when the server returned no message responses.
func (r *Response) Result() *s2snet.Result {
	if r == nil {
		return nil
	}
	if first := r.First(); first != nil {
		return first
	}
	return &s2snet.Result{
		Status:        r.Status,
		ReasonCode:    r.ReasonCode,
		StatusMessage: r.StatusMessage,
	}
}

// SessionExpired reports whether the response, at the top level or in its first
// message response, carries the session-expired reason code.
func (r *Response) SessionExpired() bool {
	if r == nil {
		return false
	}
	if r.Status != s2snet.StatusOK && r.ReasonCode == s2snet.ReasonSessionExpired {
		return true
	}
	first := r.First()
	return first != nil && first.Status != s2snet.StatusOK && first.SessionExpired()
}

// EncodePacket serializes a packet for the wire.
func EncodePacket(p Packet) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s2snet.ErrFailedToEncode, err)
	}
	if len(data) > maxPacketSize {
		return nil, fmt.Errorf("packet size %d exceeds maximum %d bytes", len(data), maxPacketSize)
	}
	return data, nil
}

// DecodeResponse parses a dispatcher reply. Empty and unparsable bodies are
// reported as s2snet.ErrMalformedResponse.
func DecodeResponse(data []byte) (*Response, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", s2snet.ErrMalformedResponse)
	}
	if len(data) > maxPacketSize {
		return nil, fmt.Errorf("%w: body size %d exceeds maximum %d bytes", s2snet.ErrMalformedResponse, len(data), maxPacketSize)
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, errors.Join(s2snet.ErrMalformedResponse, err)
	}
	return &resp, nil
}

// AuthenticateData is the payload of the authentication message.
type AuthenticateData struct {
	AppID        string `json:"appId"`
	ServerName   string `json:"serverName"`
	ServerSecret string `json:"serverSecret"`
}

// AuthenticateMessage builds the authentication message.
func AuthenticateMessage(appID, serverName, serverSecret string) s2snet.Message {
	return s2snet.Message{
		Service:   s2snet.ServiceAuthentication,
		Operation: s2snet.OperationAuthenticate,
		Data: AuthenticateData{
			AppID:        appID,
			ServerName:   serverName,
			ServerSecret: serverSecret,
		},
	}
}

// HeartbeatMessage builds the session keepalive message.
func HeartbeatMessage() s2snet.Message {
	return s2snet.Message{
		Service:   s2snet.ServiceHeartbeat,
		Operation: s2snet.OperationHeartbeat,
	}
}

// SessionData is the data of a successful authentication response.
type SessionData struct {
	SessionID string `json:"sessionId"`
}
