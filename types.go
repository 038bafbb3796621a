package s2snet

import (
	"encoding/json"
	"errors"
)

// Message is a single service call carried inside a request packet.
type Message struct {
	Service   string `json:"service"`
	Operation string `json:"operation"`
	Data      any    `json:"data,omitempty"`
}

// Result is one message response returned by the dispatcher, or the top-level
// response when the server returned no message responses.
type Result struct {
	Status        int             `json:"status"`
	ReasonCode    int             `json:"reason_code,omitempty"`
	StatusMessage string          `json:"status_message,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// OK reports whether the result carries a success status.
func (r *Result) OK() bool {
	return r != nil && r.Status == StatusOK
}

// SessionExpired reports whether the result signals an expired session.
func (r *Result) SessionExpired() bool {
	return r != nil && r.ReasonCode == ReasonSessionExpired
}

// Decode unmarshals the result data into v.
func (r *Result) Decode(v any) error {
	if r == nil || len(r.Data) == 0 {
		return errors.New("result has no data")
	}
	return json.Unmarshal(r.Data, v)
}

// RTTMessage is a message received on the RTT socket. Raw holds the frame
// exactly as it arrived.
type RTTMessage struct {
	Service   string          `json:"service"`
	Operation string          `json:"operation"`
	Data      json.RawMessage `json:"data"`
	Raw       []byte          `json:"-"`
}

// DisconnectNotice is the payload of a server DISCONNECT message.
type DisconnectNotice struct {
	Reason     string `json:"reason"`
	ReasonCode int    `json:"reasonCode"`
}

// State is the authentication state of a session.
type State uint8

const (
	StateDisconnected State = iota
	StateAuthenticating
	StateConnected
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// RTTStatus is the lifecycle status of an RTT connection.
type RTTStatus uint8

const (
	RTTDisconnected RTTStatus = iota
	RTTConnecting
	RTTConnected
	RTTDisconnecting
)

// String returns a human-readable status name.
func (s RTTStatus) String() string {
	switch s {
	case RTTDisconnected:
		return "DISCONNECTED"
	case RTTConnecting:
		return "CONNECTING"
	case RTTConnected:
		return "CONNECTED"
	case RTTDisconnecting:
		return "DISCONNECTING"
	default:
		return "UNKNOWN"
	}
}
