// Package config provides option parsing and validation for wscat.
package config

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for tunable options.
const (
	DefaultBufferSize        = 65536
	DefaultBroadcastQueueLen = 16
	DefaultReconnectDelay    = 100 * time.Millisecond
)

// Header is a single HTTP header for WebSocket client handshake customization.
type Header struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// Options holds the enumerated configuration shared by all specifiers and
// the session engine. Options are immutable after serve starts and shared
// by pointer.
type Options struct {
	// WebsocketTextMode sends outgoing WS frames as Text instead of Binary.
	WebsocketTextMode bool `yaml:"websocket_text_mode"`

	// WebsocketProtocol is the Sec-WebSocket-Protocol advertised by the
	// client and accepted by the server.
	WebsocketProtocol string `yaml:"websocket_protocol"`

	// WebsocketReplyProtocol overrides the subprotocol the server side is
	// willing to echo, when it differs from WebsocketProtocol.
	WebsocketReplyProtocol string `yaml:"websocket_reply_protocol"`

	// UDPOneshotMode makes a UDP socket serve a single datagram exchange.
	UDPOneshotMode bool `yaml:"udp_oneshot_mode"`

	// UDPBroadcast sets SO_BROADCAST on UDP sockets.
	UDPBroadcast bool `yaml:"udp_broadcast"`

	// UDPReuseaddr sets SO_REUSEADDR on UDP sockets.
	UDPReuseaddr bool `yaml:"udp_reuseaddr"`

	// Unidirectional forwards the left-to-right half only.
	Unidirectional bool `yaml:"unidirectional"`

	// UnidirectionalReverse forwards the right-to-left half only.
	UnidirectionalReverse bool `yaml:"unidirectional_reverse"`

	// ExitOnEOF ends the session when either direction ends, instead of both.
	ExitOnEOF bool `yaml:"exit_on_eof"`

	// Oneshot forces the left side to serve a single connection.
	Oneshot bool `yaml:"oneshot"`

	// UnlinkUnixSocket removes a stale Unix socket path before binding.
	UnlinkUnixSocket bool `yaml:"unlink_unix_socket"`

	// ExecArgs are appended to the argument vector of exec specifiers.
	ExecArgs []string `yaml:"exec_args"`

	// ExecSetEnv adds WSCAT=1 to the environment of exec: and sh-c: child
	// processes; no other variables are set.
	ExecSetEnv bool `yaml:"exec_set_env"`

	// WsCURI is the target URI for the legacy WS client handshake.
	WsCURI string `yaml:"ws_c_uri"`

	// RequestURI, RequestMethod and RequestHeaders are the structured form
	// of WS client handshake customization. RequestURI takes precedence
	// over WsCURI when both are set.
	RequestURI     string   `yaml:"request_uri"`
	RequestMethod  string   `yaml:"request_method"`
	RequestHeaders []Header `yaml:"request_headers"`

	// Origin is sent as the Origin header on client handshakes.
	Origin string `yaml:"origin"`

	// WebsocketIgnoreZeromsg silently drops zero-length incoming messages.
	WebsocketIgnoreZeromsg bool `yaml:"websocket_ignore_zeromsg"`

	// NoExitOnZeromsg delivers zero-length messages as empty reads instead
	// of treating them as end of stream.
	NoExitOnZeromsg bool `yaml:"no_exit_on_zeromsg"`

	// BufferSize is the transfer copy buffer size in bytes.
	BufferSize int `yaml:"buffer_size"`

	// BroadcastQueueLen bounds the reuser's per-consumer fan-out queue.
	BroadcastQueueLen int `yaml:"broadcast_queue_len"`

	// ReuserSendZeroMsgOnDisconnect emits an empty message into the shared
	// connection when an outer client detaches from a reuser.
	ReuserSendZeroMsgOnDisconnect bool `yaml:"reuser_send_zero_msg_on_disconnect"`

	// WsPingInterval enables WS keepalive pings at this interval (0 = off).
	WsPingInterval time.Duration `yaml:"ws_ping_interval"`

	// WsPingTimeout fails the connection when a pong does not arrive in time.
	WsPingTimeout time.Duration `yaml:"ws_ping_timeout"`

	// AutoreconnectDelay is the pause between reconnect attempts.
	AutoreconnectDelay time.Duration `yaml:"autoreconnect_delay"`

	// MaxMessages caps how many messages a server-side WebSocket peer
	// (ws-listen:) reads before it reports end of stream (0 = unlimited).
	MaxMessages int `yaml:"max_messages"`

	// MaxMessagesRev caps how many messages a client-side WebSocket peer
	// (ws-c:, ws://, wss://) reads before it reports end of stream
	// (0 = unlimited). Neither cap applies to non-WebSocket endpoints.
	MaxMessagesRev int `yaml:"max_messages_rev"`

	// TLSDomain overrides the SNI name for wss:// connections.
	TLSDomain string `yaml:"tls_domain"`

	// TLSInsecure skips certificate verification for wss:// connections.
	TLSInsecure bool `yaml:"tls_insecure"`
}

// Default returns Options populated with default values.
func Default() *Options {
	return &Options{
		BufferSize:         DefaultBufferSize,
		BroadcastQueueLen:  DefaultBroadcastQueueLen,
		AutoreconnectDelay: DefaultReconnectDelay,
	}
}

// Load reads a YAML options file over the defaults.
func Load(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML option data over the defaults.
func Parse(data []byte) (*Options, error) {
	opts := Default()
	if err := yaml.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// Validate checks option values for consistency.
func (o *Options) Validate() error {
	if o.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive, got %d", o.BufferSize)
	}
	if o.BroadcastQueueLen <= 0 {
		return fmt.Errorf("broadcast_queue_len must be positive, got %d", o.BroadcastQueueLen)
	}
	if o.WsPingTimeout > 0 && o.WsPingInterval <= 0 {
		return fmt.Errorf("ws_ping_timeout requires ws_ping_interval")
	}
	if o.MaxMessages < 0 || o.MaxMessagesRev < 0 {
		return fmt.Errorf("message limits must not be negative")
	}
	if o.RequestMethod != "" && o.RequestMethod != http.MethodGet {
		return fmt.Errorf("request_method %q is not supported for WebSocket handshakes", o.RequestMethod)
	}
	return nil
}

// HTTPHeader converts RequestHeaders (plus Origin, if set) to http.Header
// form for the client handshake.
func (o *Options) HTTPHeader() http.Header {
	h := http.Header{}
	if o.Origin != "" {
		h.Set("Origin", o.Origin)
	}
	for _, hdr := range o.RequestHeaders {
		h.Add(hdr.Name, hdr.Value)
	}
	return h
}

// ClientURI returns the WS client target URI: the structured RequestURI when
// set, the legacy WsCURI otherwise.
func (o *Options) ClientURI() string {
	if o.RequestURI != "" {
		return o.RequestURI
	}
	return o.WsCURI
}
