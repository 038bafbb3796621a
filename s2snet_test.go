package s2snet

import (
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConstants verifies the wire constants
func TestConstants(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 40365, ReasonSessionExpired)
	assert.Equal(t, 3, MaxSessionRetries)
	assert.Equal(t, "authenticationV2", ServiceAuthentication)
	assert.Equal(t, "rttRegistration", ServiceRTTRegistration)
	assert.Equal(t, "REQUEST_SYSTEM_CONNECTION", OperationSystemConnect)
	assert.Equal(t, "https://"+DefaultEndpointHost+DefaultDispatcherPath, DefaultEndpointURL)

	t.Run("error messages", func(t *testing.T) {
		for _, msg := range []string{ErrFailedToEncode, ErrFailedToDecode, ErrConnectionClosed, ErrContextCancelled, ErrEndpointMissingReason} {
			assert.NotEmpty(t, msg)
		}
	})
}

// TestStateString tests the state names
func TestStateString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"disconnected", StateDisconnected.String(), "DISCONNECTED"},
		{"authenticating", StateAuthenticating.String(), "AUTHENTICATING"},
		{"connected", StateConnected.String(), "CONNECTED"},
		{"unknown state", State(9).String(), "UNKNOWN"},
		{"rtt connecting", RTTConnecting.String(), "CONNECTING"},
		{"rtt disconnecting", RTTDisconnecting.String(), "DISCONNECTING"},
		{"unknown status", RTTStatus(9).String(), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

// TestResult tests the result helpers
func TestResult(t *testing.T) {
	t.Parallel()

	var nilResult *Result
	assert.False(t, nilResult.OK())
	assert.False(t, nilResult.SessionExpired())
	assert.Error(t, nilResult.Decode(&struct{}{}))

	var res Result
	require.NoError(t, json.Unmarshal([]byte(`{"status":403,"reason_code":40365,"status_message":"expired","data":{"a":1}}`), &res))
	assert.False(t, res.OK())
	assert.True(t, res.SessionExpired())
	assert.Equal(t, "expired", res.StatusMessage)

	var data struct {
		A int `json:"a"`
	}
	require.NoError(t, res.Decode(&data))
	assert.Equal(t, 1, data.A)
}

// TestMessageEncoding tests that empty data is omitted
func TestMessageEncoding(t *testing.T) {
	t.Parallel()

	out, err := json.Marshal(Message{Service: "heartbeat", Operation: "HEARTBEAT"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"service":"heartbeat","operation":"HEARTBEAT"}`, string(out))
}

// TestRegistrationError tests wrapping and messages
func TestRegistrationError(t *testing.T) {
	t.Parallel()

	err := error(&RegistrationError{
		Result: &Result{Status: StatusRTTEndpointAbsent, StatusMessage: ErrEndpointMissingReason},
		Err:    ErrRTTEndpointMissing,
	})
	assert.ErrorIs(t, err, ErrRTTRegistration)
	assert.ErrorIs(t, err, ErrRTTEndpointMissing)
	assert.Contains(t, err.Error(), ErrEndpointMissingReason)

	bare := &RegistrationError{Err: ErrNotAuthenticated}
	assert.ErrorIs(t, bare, ErrNotAuthenticated)
	assert.Contains(t, bare.Error(), ErrNotAuthenticated.Error())
}

// TestSocketError tests wrapping and messages
func TestSocketError(t *testing.T) {
	t.Parallel()

	err := error(&SocketError{
		Reason:     ReasonClose,
		Err:        io.EOF,
		Disconnect: &DisconnectNotice{Reason: "maintenance", ReasonCode: 40099},
	})
	assert.ErrorIs(t, err, ErrRTTSocket)
	assert.ErrorIs(t, err, io.EOF)
	assert.Contains(t, err.Error(), "maintenance")

	var sockErr *SocketError
	require.True(t, errors.As(err, &sockErr))
	assert.Equal(t, ReasonClose, sockErr.Reason)
}
