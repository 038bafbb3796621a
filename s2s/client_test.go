package s2s

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/s2snet"
	"github.com/luciancaetano/s2snet/internal/backendtest"
)

const waitTimeout = 5 * time.Second

func startBackend(t *testing.T, cfg backendtest.Config) *backendtest.Server {
	t.Helper()
	cfg.AppID, cfg.ServerName, cfg.ServerSecret = "10001", "game-server", "secret"
	srv := backendtest.New(cfg)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(ctx)
	})

	srv.RegisterHandler("time", "READ", func(string, json.RawMessage) (any, error) {
		return map[string]int64{"server_time": 1700000000000}, nil
	})
	return srv
}

func newClient(t *testing.T, srv *backendtest.Server, autoAuth bool) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.AppID = "10001"
	cfg.ServerName = "game-server"
	cfg.ServerSecret = "secret"
	cfg.URL = srv.URL()
	cfg.AutoAuthenticate = autoAuth
	cfg.LogEnabled = true

	client, err := New(cfg, WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func timeRead() s2snet.Message {
	return s2snet.Message{Service: "time", Operation: "READ"}
}

// TestNewValidatesConfig tests that missing credentials are rejected
func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(DefaultConfig())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.AppID, cfg.ServerName, cfg.ServerSecret = "1", "srv", "s"
	client, err := New(cfg, WithHTTPClient(&http.Client{}), WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, s2snet.StateDisconnected, client.State())
	assert.Equal(t, s2snet.RTTDisconnected, client.RTTStatus())
	assert.NotNil(t, client.RTT())
}

// TestAutoAuthenticate tests one handshake followed by one request on the same session
func TestAutoAuthenticate(t *testing.T) {
	t.Parallel()

	srv := startBackend(t, backendtest.Config{})
	client := newClient(t, srv, true)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	res, err := client.RequestSync(ctx, timeRead())
	require.NoError(t, err)
	require.True(t, res.OK())

	var data struct {
		ServerTime int64 `json:"server_time"`
	}
	require.NoError(t, res.Decode(&data))
	assert.Equal(t, int64(1700000000000), data.ServerTime)

	calls := srv.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, s2snet.ServiceAuthentication, calls[0].Service)
	assert.Equal(t, "time", calls[1].Service)
	assert.Equal(t, client.SessionID(), calls[1].SessionID)
	assert.Equal(t, int64(1), calls[1].PacketID)
}

// TestOrderedRequests tests that queued requests reach the backend in order
func TestOrderedRequests(t *testing.T) {
	t.Parallel()

	srv := startBackend(t, backendtest.Config{})
	client := newClient(t, srv, true)

	done := make(chan int, 5)
	for i := 0; i < 5; i++ {
		client.Request(timeRead(), func(res *s2snet.Result, err error) {
			assert.NoError(t, err)
			done <- i
		})
	}

	for want := 0; want < 5; want++ {
		select {
		case got := <-done:
			assert.Equal(t, want, got)
		case <-time.After(waitTimeout):
			t.Fatal("timed out waiting for responses")
		}
	}

	calls := srv.Calls()
	require.Len(t, calls, 6)
	for i, c := range calls[1:] {
		assert.Equal(t, int64(i+1), c.PacketID)
	}
}

// TestSessionExpiryRecovery tests transparent re-authentication
func TestSessionExpiryRecovery(t *testing.T) {
	t.Parallel()

	srv := startBackend(t, backendtest.Config{})
	client := newClient(t, srv, false)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	_, err := client.AuthenticateSync(ctx)
	require.NoError(t, err)
	first := client.SessionID()

	srv.ExpireSessions()
	res, err := client.RequestSync(ctx, timeRead())
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.NotEqual(t, first, client.SessionID())

	assert.Equal(t, 2, srv.CountCalls(s2snet.ServiceAuthentication))
	assert.Equal(t, 2, srv.CountCalls("time"))
}

// TestAuthenticationFailure tests rejected credentials
func TestAuthenticationFailure(t *testing.T) {
	t.Parallel()

	srv := startBackend(t, backendtest.Config{})
	srv.FailAuthentication(true)
	client := newClient(t, srv, true)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	res, err := client.RequestSync(ctx, timeRead())
	assert.ErrorIs(t, err, s2snet.ErrAuthenticationFailed)
	require.NotNil(t, res)
	assert.Equal(t, backendtest.ReasonBadCredentials, res.ReasonCode)
	assert.Equal(t, s2snet.StateDisconnected, client.State())
}

// TestRTT tests the push connection against the fake backend
func TestRTT(t *testing.T) {
	t.Parallel()

	srv := startBackend(t, backendtest.Config{HeartbeatSeconds: 1})
	client := newClient(t, srv, true)

	pushes := make(chan s2snet.RTTMessage, 4)
	client.RegisterRTTObserver(func(msg s2snet.RTTMessage) { pushes <- msg })

	acks := make(chan s2snet.RTTMessage, 1)
	failures := make(chan error, 2)
	client.EnableRTT(
		func(ack s2snet.RTTMessage) { acks <- ack },
		func(err error) { failures <- err },
	)

	select {
	case ack := <-acks:
		assert.Equal(t, s2snet.OperationRTTConnect, ack.Operation)
	case err := <-failures:
		t.Fatalf("rtt failed: %v", err)
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for rtt")
	}
	assert.True(t, client.RTTEnabled())
	assert.Equal(t, time.Second, client.RTTHeartbeatInterval())
	_, ok := client.RTTLastDisconnect()
	assert.False(t, ok)

	srv.Push("chat", "INCOMING", map[string]string{"text": "hello"})
	select {
	case msg := <-pushes:
		assert.Equal(t, "chat", msg.Service)
		assert.JSONEq(t, `{"text":"hello"}`, string(msg.Data))
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for push")
	}

	assert.Eventually(t, func() bool { return srv.RTTHeartbeats() >= 1 }, waitTimeout, 50*time.Millisecond)

	srv.SendDisconnect("maintenance", 40099)
	assert.Eventually(t, func() bool {
		_, ok := client.RTTLastDisconnect()
		return ok
	}, waitTimeout, 20*time.Millisecond)
	notice, _ := client.RTTLastDisconnect()
	assert.Equal(t, "maintenance", notice.Reason)
	assert.Equal(t, 40099, notice.ReasonCode)
	assert.True(t, client.RTTEnabled())

	srv.DropRTT()
	select {
	case err := <-failures:
		var sockErr *s2snet.SocketError
		require.ErrorAs(t, err, &sockErr)
		assert.Equal(t, s2snet.ReasonClose, sockErr.Reason)
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for connection loss")
	}
	assert.False(t, client.RTTEnabled())
}

// TestRTTMissingEndpoint tests a registration without a ws endpoint
func TestRTTMissingEndpoint(t *testing.T) {
	t.Parallel()

	srv := startBackend(t, backendtest.Config{OmitRTTEndpoint: true})
	client := newClient(t, srv, true)

	failures := make(chan error, 1)
	client.EnableRTT(func(s2snet.RTTMessage) {}, func(err error) { failures <- err })

	select {
	case err := <-failures:
		assert.ErrorIs(t, err, s2snet.ErrRTTEndpointMissing)
		var regErr *s2snet.RegistrationError
		require.ErrorAs(t, err, &regErr)
		assert.Equal(t, s2snet.ErrEndpointMissingReason, regErr.Result.StatusMessage)
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for failure")
	}
	assert.Equal(t, s2snet.RTTDisconnected, client.RTTStatus())
}

// TestDisableRTT tests an explicit disable without a failure report
func TestDisableRTT(t *testing.T) {
	t.Parallel()

	srv := startBackend(t, backendtest.Config{})
	client := newClient(t, srv, true)

	acks := make(chan s2snet.RTTMessage, 1)
	failures := make(chan error, 1)
	client.EnableRTT(func(ack s2snet.RTTMessage) { acks <- ack }, func(err error) { failures <- err })

	select {
	case <-acks:
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for rtt")
	}

	client.DisableRTT()
	client.DeregisterRTTObserver()
	assert.False(t, client.RTTEnabled())
	assert.Eventually(t, func() bool { return srv.RTTClients() == 0 }, waitTimeout, 20*time.Millisecond)

	select {
	case err := <-failures:
		t.Fatalf("unexpected failure: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}
