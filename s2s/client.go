// Package s2s is the entry point of the client: it builds a session and its
// RTT connection from a Config.
package s2s

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/s2snet"
	"github.com/luciancaetano/s2snet/internal/config"
	"github.com/luciancaetano/s2snet/internal/logging"
	"github.com/luciancaetano/s2snet/internal/rtt"
	"github.com/luciancaetano/s2snet/internal/session"
	"github.com/luciancaetano/s2snet/internal/transport"
)

type Config = config.Config
type RateLimitConfig = config.RateLimitConfig
type RTTConfig = config.RTTConfig
type Poster = transport.Poster
type PosterFunc = transport.PosterFunc
type Dialer = transport.Dialer
type Socket = transport.Socket

// DefaultConfig returns a config with every optional field set. Credentials
// still have to be filled in.
func DefaultConfig() Config {
	return config.Default()
}

// LoadConfig reads a YAML or TOML config file and applies env overrides.
func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

type options struct {
	logger     *zerolog.Logger
	httpClient *http.Client
	poster     Poster
	dialer     Dialer
}

// Option configures New.
type Option func(*options)

// WithLogger replaces the console logger built from the config.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &logger
	}
}

// WithHTTPClient sets the HTTP client used to reach the dispatcher.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithPoster replaces the HTTP transport altogether.
func WithPoster(poster Poster) Option {
	return func(o *options) {
		o.poster = poster
	}
}

// WithDialer replaces the WebSocket dialer used for RTT.
func WithDialer(dialer Dialer) Option {
	return func(o *options) {
		o.dialer = dialer
	}
}

// Client is a session plus its RTT connection. Every s2snet.Session method is
// available directly on the client.
type Client struct {
	*session.Session
	rtt    *rtt.Connection
	logger zerolog.Logger
}

var _ s2snet.Session = (*Client)(nil)

// New validates cfg and builds a disconnected client.
//
// Example:
//
//	cfg := s2s.DefaultConfig()
//	cfg.AppID, cfg.ServerName, cfg.ServerSecret = "10001", "matchmaker", secret
//	client, err := s2s.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//	res, err := client.RequestSync(ctx, s2snet.Message{Service: "time", Operation: "READ"})
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := logging.New(logging.Options{App: cfg.AppID, Level: cfg.LogLevel})
	if o.logger != nil {
		logger = *o.logger
	}

	poster := o.poster
	if poster == nil {
		limit := transport.NoRateLimit()
		if cfg.RateLimit.Enabled {
			limit = &transport.RateLimitConfig{
				RequestsPerSecond: rate.Limit(cfg.RateLimit.RequestsPerSecond),
				Burst:             cfg.RateLimit.Burst,
				Enabled:           true,
			}
		}
		poster = transport.NewHTTPPoster(transport.HTTPConfig{
			URL:       cfg.URL,
			Timeout:   cfg.RequestTimeout,
			RateLimit: limit,
			Client:    o.httpClient,
		})
	}

	dialer := o.dialer
	if dialer == nil {
		dialer = transport.WSDialer{HandshakeTimeout: cfg.RTT.HandshakeTimeout}
	}

	sess := session.New(session.Config{
		AppID:             cfg.AppID,
		ServerName:        cfg.ServerName,
		ServerSecret:      cfg.ServerSecret,
		AutoAuthenticate:  cfg.AutoAuthenticate,
		LogEnabled:        cfg.LogEnabled,
		HeartbeatInterval: cfg.HeartbeatInterval,
		RequestTimeout:    cfg.RequestTimeout,
	}, poster, session.WithLogger(logger))

	conn := rtt.New(sess, dialer,
		rtt.WithLogger(logger),
		rtt.WithHandshakeTimeout(cfg.RTT.HandshakeTimeout),
	)

	return &Client{
		Session: sess,
		rtt:     conn,
		logger:  logger,
	}, nil
}

// RTT returns the push connection
func (c *Client) RTT() s2snet.RTT {
	return c.rtt
}

// EnableRTT opens the push connection. See s2snet.RTT.Enable.
func (c *Client) EnableRTT(onSuccess s2snet.RTTSuccessFunc, onFailure s2snet.RTTFailureFunc) {
	c.rtt.Enable(onSuccess, onFailure)
}

// DisableRTT closes the push connection
func (c *Client) DisableRTT() {
	c.rtt.Disable()
}

// RTTEnabled reports whether the push connection is established
func (c *Client) RTTEnabled() bool {
	return c.rtt.Enabled()
}

// RTTStatus returns the push connection status
func (c *Client) RTTStatus() s2snet.RTTStatus {
	return c.rtt.Status()
}

// RTTHeartbeatInterval returns the keepalive interval acknowledged by the
// server, or zero before the first CONNECT ack
func (c *Client) RTTHeartbeatInterval() time.Duration {
	return c.rtt.HeartbeatInterval()
}

// RTTLastDisconnect returns the last DISCONNECT notice received on the current
// push connection
func (c *Client) RTTLastDisconnect() (s2snet.DisconnectNotice, bool) {
	return c.rtt.LastDisconnect()
}

// RegisterRTTObserver sets the push message callback
func (c *Client) RegisterRTTObserver(observer s2snet.RTTObserver) {
	c.rtt.RegisterObserver(observer)
}

// DeregisterRTTObserver removes the push message callback
func (c *Client) DeregisterRTTObserver() {
	c.rtt.DeregisterObserver()
}

// Close disables RTT and closes the session.
func (c *Client) Close() error {
	c.rtt.Disable()
	if err := c.Session.Close(); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}
