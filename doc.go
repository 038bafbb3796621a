// Package s2snet is a server-to-server client for a game backend platform.
//
// It turns the stateless HTTPS dispatcher into an authenticated, strictly ordered
// request channel, and manages a separate real-time (RTT) WebSocket connection
// used for server-initiated push messages.
//
// # Architecture
//
// A Session owns an authentication state machine (DISCONNECTED, AUTHENTICATING,
// CONNECTED) and a FIFO request queue. Exactly one request is in flight at a
// time; the next one is sent only after the previous callback has returned.
// When the server answers with reason code 40365 (session expired) the session
// re-authenticates and resends the same request, up to MaxSessionRetries times.
// A keepalive request is queued every HeartbeatInterval while connected.
//
// The RTT connection borrows the session for one registration request, then
// runs its own socket, CONNECT handshake and heartbeat until disabled or lost.
//
// # Quick Start
//
//	import (
//	    "github.com/luciancaetano/s2snet"
//	    "github.com/luciancaetano/s2snet/s2s"
//	)
//
//	cfg, err := s2s.LoadConfig("s2s.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client, err := s2s.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Requests are queued and sent in order. With auto_authenticate the first
//	// request triggers the handshake.
//	client.Request(s2snet.Message{Service: "time", Operation: "READ"}, func(res *s2snet.Result, err error) {
//	    if err != nil {
//	        log.Printf("request failed: %v", err)
//	        return
//	    }
//	    log.Printf("status %d: %s", res.Status, res.Data)
//	})
//
//	// Push messages
//	client.RegisterRTTObserver(func(msg s2snet.RTTMessage) {
//	    log.Printf("push %s/%s", msg.Service, msg.Operation)
//	})
//	client.EnableRTT(func(ack s2snet.RTTMessage) {
//	    log.Print("rtt connected")
//	}, func(err error) {
//	    log.Printf("rtt lost: %v", err)
//	})
//
// # Protocol Format
//
// Requests are posted as JSON to the dispatcher:
//
//	{"packetId": 3, "sessionId": "...", "messages": [{"service": "...", "operation": "...", "data": {...}}]}
//
// The packet id starts at the server-echoed authentication packet id + 1 and
// increases by one per request. It resets on disconnect and re-authentication.
//
// The RTT socket URI is built from the registration answer:
//
//	ws(s)://<host>:<port>?<k1>=<v1>&<k2>=<v2>
//
// with the auth parameters in the order the server sent them.
//
// # Rate Limiting
//
// The HTTP transport can throttle outgoing requests with a token bucket:
//
//	rate_limit:
//	  enabled: true
//	  requests_per_second: 50
//	  burst: 100
//
// # Limits
//
//   - Maximum request and response body: 10MB
//   - Request timeout: 30s by default
//   - RTT handshake timeout: 10s by default
//   - Session heartbeat: every 30 minutes by default
//
// # Important
//
//   - Callbacks run on transport goroutines, never with internal locks held;
//     they may call back into the session
//   - A panicking callback is recovered and logged
//   - RTT DISCONNECT notices are recorded but do not close the socket
package s2snet
