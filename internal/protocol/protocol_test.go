package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/s2snet"
)

// TestEncodePacket tests the request envelope layout
func TestEncodePacket(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		packet    Packet
		wantJSON  string
		wantError bool
	}{
		{
			name:     "authentication packet has null session",
			packet:   NewPacket(0, "", AuthenticateMessage("app", "srv", "secret")),
			wantJSON: `{"packetId":0,"sessionId":null,"messages":[{"service":"authenticationV2","operation":"AUTHENTICATE","data":{"appId":"app","serverName":"srv","serverSecret":"secret"}}]}`,
		},
		{
			name:     "request packet carries session",
			packet:   NewPacket(7, "sess-1", s2snet.Message{Service: "time", Operation: "READ", Data: map[string]int{"a": 1}}),
			wantJSON: `{"packetId":7,"sessionId":"sess-1","messages":[{"service":"time","operation":"READ","data":{"a":1}}]}`,
		},
		{
			name:     "heartbeat omits data",
			packet:   NewPacket(3, "s", HeartbeatMessage()),
			wantJSON: `{"packetId":3,"sessionId":"s","messages":[{"service":"heartbeat","operation":"HEARTBEAT"}]}`,
		},
		{
			name:      "unencodable data",
			packet:    NewPacket(1, "s", s2snet.Message{Service: "x", Operation: "y", Data: make(chan int)}),
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data, err := EncodePacket(tt.packet)
			if tt.wantError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.wantJSON, string(data))
		})
	}
}

// TestDecodeResponse tests reply parsing and error classification
func TestDecodeResponse(t *testing.T) {
	t.Parallel()

	resp, err := DecodeResponse([]byte(`{"status":200,"packetId":4,"messageResponses":[{"status":200,"data":{"sessionId":"abc"}}]}`))
	require.NoError(t, err)
	assert.Equal(t, int64(4), resp.PacketID)
	require.NotNil(t, resp.First())
	assert.True(t, resp.First().OK())

	var sd SessionData
	require.NoError(t, resp.First().Decode(&sd))
	assert.Equal(t, "abc", sd.SessionID)

	_, err = DecodeResponse(nil)
	assert.True(t, errors.Is(err, s2snet.ErrMalformedResponse))

	_, err = DecodeResponse([]byte("<html>bad gateway</html>"))
	assert.True(t, errors.Is(err, s2snet.ErrMalformedResponse))
}

// TestResponseResult tests fallback to the top-level status
func TestResponseResult(t *testing.T) {
	t.Parallel()

	var nilResp *Response
	assert.Nil(t, nilResp.Result())

	resp := &Response{Status: 403, ReasonCode: 40001, StatusMessage: "denied"}
	res := resp.Result()
	require.NotNil(t, res)
	assert.Equal(t, 403, res.Status)
	assert.Equal(t, 40001, res.ReasonCode)
	assert.Equal(t, "denied", res.StatusMessage)

	resp.MessageResponses = []s2snet.Result{{Status: 200, Data: json.RawMessage(`{}`)}}
	assert.Same(t, &resp.MessageResponses[0], resp.Result())
}

// TestSessionExpired tests detection of the expiry reason code
func TestSessionExpired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		resp *Response
		want bool
	}{
		{"nil", nil, false},
		{"top level", &Response{Status: 403, ReasonCode: s2snet.ReasonSessionExpired}, true},
		{"message response", &Response{Status: 200, MessageResponses: []s2snet.Result{{Status: 403, ReasonCode: s2snet.ReasonSessionExpired}}}, true},
		{"other reason", &Response{Status: 403, ReasonCode: 40303}, false},
		{"success status ignores code", &Response{Status: 200, ReasonCode: s2snet.ReasonSessionExpired}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.resp.SessionExpired())
		})
	}
}
