package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/luciancaetano/s2snet"
)

// AuthParam is one credential issued by the RTT registration response.
type AuthParam struct {
	Key   string
	Value string
}

// AuthParams keeps the credentials in the order the server issued them. The
// order is significant: it is reproduced verbatim in the socket URI.
type AuthParams []AuthParam

// UnmarshalJSON decodes a JSON object preserving key order. Non-string values
// keep their literal JSON text.
func (a *AuthParams) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*a = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("auth params: expected object")
	}

	params := AuthParams{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return errors.New("auth params: expected string key")
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		value := string(raw)
		var s string
		if json.Unmarshal(raw, &s) == nil {
			value = s
		}
		params = append(params, AuthParam{Key: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*a = params
	return nil
}

// MarshalJSON encodes the params as a JSON object in insertion order.
func (a AuthParams) MarshalJSON() ([]byte, error) {
	if a == nil {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(p.Key)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(p.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Endpoint is one RTT endpoint advertised by the registration response.
type Endpoint struct {
	Protocol string `json:"protocol"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	SSL      bool   `json:"ssl"`
}

// SystemConnection is the data of a REQUEST_SYSTEM_CONNECTION response.
type SystemConnection struct {
	Endpoints []Endpoint `json:"endpoints"`
	Auth      AuthParams `json:"auth"`
}

// Endpoint returns the first endpoint advertising protocol.
func (s SystemConnection) Endpoint(protocol string) (Endpoint, bool) {
	for _, ep := range s.Endpoints {
		if ep.Protocol == protocol {
			return ep, true
		}
	}
	return Endpoint{}, false
}

// RegistrationMessage builds the RTT channel registration request.
func RegistrationMessage() s2snet.Message {
	return s2snet.Message{
		Service:   s2snet.ServiceRTTRegistration,
		Operation: s2snet.OperationSystemConnect,
		Data:      struct{}{},
	}
}

// BuildSocketURI returns ws(s)://host:port?k1=v1&k2=v2. Pairs are concatenated
// literally, without escaping, in insertion order.
func BuildSocketURI(ep Endpoint, auth AuthParams) string {
	var b strings.Builder
	if ep.SSL {
		b.WriteString("wss://")
	} else {
		b.WriteString("ws://")
	}
	b.WriteString(ep.Host)
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(ep.Port))
	if auth != nil {
		b.WriteByte('?')
		for i, p := range auth {
			if i > 0 {
				b.WriteByte('&')
			}
			b.WriteString(p.Key)
			b.WriteByte('=')
			b.WriteString(p.Value)
		}
	}
	return b.String()
}

// rttFrame is the wire form of an outgoing RTT message. Data is always present,
// null when empty.
type rttFrame struct {
	Operation string `json:"operation"`
	Service   string `json:"service"`
	Data      any    `json:"data"`
}

// ConnectSystem identifies the client platform in the CONNECT request.
type ConnectSystem struct {
	Protocol string `json:"protocol"`
	Platform string `json:"platform"`
}

// ConnectData is the payload of the RTT CONNECT request.
type ConnectData struct {
	AppID     string        `json:"appId"`
	ProfileID string        `json:"profileId"`
	SessionID string        `json:"sessionId"`
	System    ConnectSystem `json:"system"`
	Auth      AuthParams    `json:"auth"`
}

// EncodeConnect builds the CONNECT frame sent once the socket opens.
func EncodeConnect(appID, sessionID string, auth AuthParams) ([]byte, error) {
	return encodeRTT(s2snet.OperationRTTConnect, ConnectData{
		AppID:     appID,
		ProfileID: s2snet.RTTProfileID,
		SessionID: sessionID,
		System: ConnectSystem{
			Protocol: s2snet.RTTProtocolWebSocket,
			Platform: s2snet.RTTPlatform,
		},
		Auth: auth,
	})
}

// EncodeHeartbeat builds the RTT HEARTBEAT frame.
func EncodeHeartbeat() ([]byte, error) {
	return encodeRTT(s2snet.OperationRTTHeartbeat, nil)
}

func encodeRTT(operation string, data any) ([]byte, error) {
	out, err := json.Marshal(rttFrame{
		Operation: operation,
		Service:   s2snet.ServiceRTT,
		Data:      data,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s2snet.ErrFailedToEncode, err)
	}
	return out, nil
}

// Event is an incoming RTT message classified at the protocol boundary. It is
// one of ConnectAck, Disconnect, Heartbeat, Control or Push.
type Event interface {
	rttEvent()
}

// ConnectAck is the server's answer to CONNECT.
type ConnectAck struct {
	HeartbeatSeconds int
	Message          s2snet.RTTMessage
}

// Disconnect is a server notice that the channel is being dropped.
type Disconnect struct {
	Notice  s2snet.DisconnectNotice
	Message s2snet.RTTMessage
}

// Heartbeat is a server echo of the keepalive.
type Heartbeat struct {
	Message s2snet.RTTMessage
}

// Control is any other "rtt" service message.
type Control struct {
	Message s2snet.RTTMessage
}

// Push is an application message destined for the observer.
type Push struct {
	Message s2snet.RTTMessage
}

func (ConnectAck) rttEvent() {}
func (Disconnect) rttEvent() {}
func (Heartbeat) rttEvent()  {}
func (Control) rttEvent()    {}
func (Push) rttEvent()       {}

// DecodeRTT parses an incoming frame. The returned message keeps the frame
// bytes untouched in Raw.
func DecodeRTT(data []byte) (Event, error) {
	var msg s2snet.RTTMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%s: %w", s2snet.ErrFailedToDecode, err)
	}
	msg.Raw = data

	if msg.Service != s2snet.ServiceRTT {
		return Push{Message: msg}, nil
	}

	switch msg.Operation {
	case s2snet.OperationRTTConnect:
		var ack struct {
			HeartbeatSeconds int `json:"heartbeatSeconds"`
		}
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &ack); err != nil {
				return nil, fmt.Errorf("%s: connect ack: %w", s2snet.ErrFailedToDecode, err)
			}
		}
		return ConnectAck{HeartbeatSeconds: ack.HeartbeatSeconds, Message: msg}, nil
	case s2snet.OperationRTTDisconnect:
		var notice s2snet.DisconnectNotice
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &notice); err != nil {
				return nil, fmt.Errorf("%s: disconnect: %w", s2snet.ErrFailedToDecode, err)
			}
		}
		return Disconnect{Notice: notice, Message: msg}, nil
	case s2snet.OperationRTTHeartbeat:
		return Heartbeat{Message: msg}, nil
	default:
		return Control{Message: msg}, nil
	}
}
