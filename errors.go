package s2snet

import (
	"errors"
	"fmt"
)

// Sentinel errors delivered through response and RTT callbacks.
var (
	ErrTransport            = errors.New("transport failure")
	ErrMalformedResponse    = errors.New("malformed response")
	ErrNotAuthenticated     = errors.New("session not authenticated")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrSessionDisconnected  = errors.New("session disconnected")
	ErrSessionClosed        = errors.New("session closed")
	ErrRTTRegistration      = errors.New("rtt registration failed")
	ErrRTTEndpointMissing   = errors.New("rtt websocket endpoint missing")
	ErrRTTSocket            = errors.New("rtt socket failure")
)

// RegistrationError reports a failed RTT channel registration. Result holds
// the server's answer when one was received.
type RegistrationError struct {
	Result *Result
	Err    error
}

func (e *RegistrationError) Error() string {
	if e.Result != nil {
		return fmt.Sprintf("%s: status %d: %s", ErrRTTRegistration, e.Result.Status, e.Result.StatusMessage)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", ErrRTTRegistration, e.Err)
	}
	return ErrRTTRegistration.Error()
}

func (e *RegistrationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrRTTRegistration, e.Err}
	}
	return []error{ErrRTTRegistration}
}

// SocketError reports the loss of the RTT socket, either while the CONNECT
// handshake was pending or after it completed.
type SocketError struct {
	// Reason is ReasonClose or ReasonError.
	Reason string
	Err    error
	// Disconnect is the last DISCONNECT notice the server sent, if any.
	Disconnect *DisconnectNotice
}

func (e *SocketError) Error() string {
	msg := fmt.Sprintf("%s (%s)", ErrRTTSocket, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Disconnect != nil {
		msg += fmt.Sprintf(" [server: %s, code %d]", e.Disconnect.Reason, e.Disconnect.ReasonCode)
	}
	return msg
}

func (e *SocketError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrRTTSocket, e.Err}
	}
	return []error{ErrRTTSocket}
}
