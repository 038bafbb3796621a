package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/s2snet"
)

// TestAuthParamsOrder tests that key order survives decode and encode
func TestAuthParamsOrder(t *testing.T) {
	t.Parallel()

	var sc SystemConnection
	err := json.Unmarshal([]byte(`{"endpoints":[],"auth":{"zeta":"1","alpha":"a+b/c","port":9000}}`), &sc)
	require.NoError(t, err)

	require.Len(t, sc.Auth, 3)
	assert.Equal(t, AuthParam{Key: "zeta", Value: "1"}, sc.Auth[0])
	assert.Equal(t, AuthParam{Key: "alpha", Value: "a+b/c"}, sc.Auth[1])
	assert.Equal(t, AuthParam{Key: "port", Value: "9000"}, sc.Auth[2])

	out, err := json.Marshal(sc.Auth)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":"1","alpha":"a+b/c","port":"9000"}`, string(out))
}

// TestBuildSocketURI tests literal, ordered query construction
func TestBuildSocketURI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ep   Endpoint
		auth AuthParams
		want string
	}{
		{
			name: "plain with params",
			ep:   Endpoint{Protocol: "ws", Host: "rtt.example.com", Port: 80},
			auth: AuthParams{{Key: "X-APPID", Value: "123"}, {Key: "X-RTT-SECRET", Value: "a=b&c"}},
			want: "ws://rtt.example.com:80?X-APPID=123&X-RTT-SECRET=a=b&c",
		},
		{
			name: "ssl",
			ep:   Endpoint{Protocol: "ws", Host: "h", Port: 443, SSL: true},
			auth: AuthParams{{Key: "k", Value: "v"}},
			want: "wss://h:443?k=v",
		},
		{
			name: "empty params keep separator",
			ep:   Endpoint{Host: "h", Port: 1},
			auth: AuthParams{},
			want: "ws://h:1?",
		},
		{
			name: "nil params",
			ep:   Endpoint{Host: "h", Port: 1},
			want: "ws://h:1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, BuildSocketURI(tt.ep, tt.auth))
		})
	}
}

// TestSystemConnectionEndpoint tests endpoint selection by protocol
func TestSystemConnectionEndpoint(t *testing.T) {
	t.Parallel()

	sc := SystemConnection{Endpoints: []Endpoint{
		{Protocol: "tcp", Host: "a", Port: 1},
		{Protocol: "ws", Host: "b", Port: 2},
		{Protocol: "ws", Host: "c", Port: 3},
	}}

	ep, ok := sc.Endpoint("ws")
	require.True(t, ok)
	assert.Equal(t, "b", ep.Host)

	_, ok = sc.Endpoint("udp")
	assert.False(t, ok)
}

// TestDecodeRTT tests classification of incoming frames
func TestDecodeRTT(t *testing.T) {
	t.Parallel()

	ev, err := DecodeRTT([]byte(`{"service":"rtt","operation":"CONNECT","data":{"heartbeatSeconds":15}}`))
	require.NoError(t, err)
	ack, ok := ev.(ConnectAck)
	require.True(t, ok)
	assert.Equal(t, 15, ack.HeartbeatSeconds)

	ev, err = DecodeRTT([]byte(`{"service":"rtt","operation":"DISCONNECT","data":{"reason":"kicked","reasonCode":40399}}`))
	require.NoError(t, err)
	dc, ok := ev.(Disconnect)
	require.True(t, ok)
	assert.Equal(t, "kicked", dc.Notice.Reason)
	assert.Equal(t, 40399, dc.Notice.ReasonCode)

	ev, err = DecodeRTT([]byte(`{"service":"rtt","operation":"HEARTBEAT","data":null}`))
	require.NoError(t, err)
	assert.IsType(t, Heartbeat{}, ev)

	ev, err = DecodeRTT([]byte(`{"service":"rtt","operation":"SOMETHING","data":{}}`))
	require.NoError(t, err)
	assert.IsType(t, Control{}, ev)

	raw := []byte(`{"service":"chat","operation":"INCOMING","data":{"text":"hi"},"extra":true}`)
	ev, err = DecodeRTT(raw)
	require.NoError(t, err)
	push, ok := ev.(Push)
	require.True(t, ok)
	assert.Equal(t, "chat", push.Message.Service)
	assert.Equal(t, raw, push.Message.Raw)

	_, err = DecodeRTT([]byte("not json"))
	assert.Error(t, err)
}

// TestEncodeRTTFrames tests CONNECT and HEARTBEAT layouts
func TestEncodeRTTFrames(t *testing.T) {
	t.Parallel()

	data, err := EncodeHeartbeat()
	require.NoError(t, err)
	assert.JSONEq(t, `{"operation":"HEARTBEAT","service":"rtt","data":null}`, string(data))

	data, err = EncodeConnect("app", "sess", AuthParams{{Key: "b", Value: "2"}, {Key: "a", Value: "1"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"operation":"CONNECT","service":"rtt","data":{"appId":"app","profileId":"s","sessionId":"sess","system":{"protocol":"ws","platform":"`+s2snet.RTTPlatform+`"},"auth":{"b":"2","a":"1"}}}`, string(data))
}
