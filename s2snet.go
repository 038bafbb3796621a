package s2snet

import "context"

// ResponseFunc receives the outcome of a request or authentication.
//
// Exactly one of the following holds when it is called:
//   - err == nil and res != nil: the server answered (success or application error,
//     check res.OK())
//   - err != nil and res == nil: transport or decoding failure, or the request was
//     dropped by a disconnect
//   - err != nil and res != nil: authentication failed and res is the server's answer
type ResponseFunc func(res *Result, err error)

// RTTSuccessFunc receives the server's CONNECT acknowledgement.
type RTTSuccessFunc func(ack RTTMessage)

// RTTFailureFunc receives the reason an RTT connection attempt failed or an
// established connection was lost. err is a *RegistrationError or *SocketError.
type RTTFailureFunc func(err error)

// RTTObserver receives every push message whose service is not "rtt".
type RTTObserver func(msg RTTMessage)

// Session is an authenticated, strictly ordered request channel to the backend.
//
// Example usage:
//
//	client, _ := s2s.New(cfg)
//	client.Authenticate(func(res *s2snet.Result, err error) {
//	    if err != nil {
//	        log.Printf("auth failed: %v", err)
//	    }
//	})
//	client.Request(s2snet.Message{Service: "time", Operation: "READ"}, func(res *s2snet.Result, err error) {
//	    // ...
//	})
type Session interface {
	// ID returns the local identifier of this session instance, used in logs.
	ID() string

	// AppID returns the application id the session authenticates as.
	AppID() string

	// SessionID returns the server-issued session id, or "" when not connected.
	SessionID() string

	// State returns the current authentication state.
	State() State

	// SetLogEnabled toggles logging of every packet sent and received.
	SetLogEnabled(enabled bool)

	// Authenticate performs the authentication handshake. The callback is invoked
	// exactly once. Calling Authenticate while a handshake is in progress joins it.
	Authenticate(cb ResponseFunc)

	// AuthenticateSync is the blocking form of Authenticate. A non-success answer
	// is returned together with an error wrapping ErrAuthenticationFailed.
	AuthenticateSync(ctx context.Context) (*Result, error)

	// Request queues a message. Requests are sent one at a time in the order they
	// were queued; the callback is invoked exactly once.
	Request(msg Message, cb ResponseFunc)

	// RequestSync is the blocking form of Request.
	RequestSync(ctx context.Context, msg Message) (*Result, error)

	// Disconnect drops the session: the heartbeat stops, queued requests fail with
	// ErrSessionDisconnected and identifiers are cleared.
	Disconnect()

	// Close disconnects and aborts in-flight transport calls. The session cannot
	// be used afterwards.
	Close() error
}

// RTT is a persistent push connection bound to a Session.
type RTT interface {
	// Enable registers a push channel through the session, opens the socket and
	// performs the CONNECT handshake. It is a no-op while connected or connecting.
	//
	// onSuccess is invoked once the server acknowledges CONNECT. onFailure is
	// invoked at most once per Enable, either when the attempt fails or when the
	// established connection is lost.
	Enable(onSuccess RTTSuccessFunc, onFailure RTTFailureFunc)

	// Disable closes the socket and stops the RTT heartbeat. It is a no-op while
	// disconnected or disconnecting.
	Disable()

	// Enabled reports whether the connection is established.
	Enabled() bool

	// Status returns the current lifecycle status.
	Status() RTTStatus

	// RegisterObserver sets the callback receiving push messages, replacing any
	// previous one.
	RegisterObserver(observer RTTObserver)

	// DeregisterObserver removes the push message callback.
	DeregisterObserver()
}
