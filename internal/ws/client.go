package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"nhooyr.io/websocket"

	"github.com/postalsys/wscat/internal/config"
	"github.com/postalsys/wscat/internal/errkind"
	"github.com/postalsys/wscat/internal/logging"
	"github.com/postalsys/wscat/internal/metrics"
	"github.com/postalsys/wscat/internal/peer"
)

// DialOverPeer performs the client side of the WebSocket handshake over an
// already-established byte peer, targeting uri, and returns a
// message-oriented peer. The handshake request can be customized through
// the options (Origin, extra headers, subprotocol).
func DialOverPeer(ctx context.Context, p peer.Peer, uri string, opts *config.Options, logger *slog.Logger) (peer.Peer, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if uri == "" {
		return peer.Peer{}, errkind.Errorf(errkind.Configuration, "websocket client requires a target URI (ws_c_uri)")
	}

	conn := newPeerConn(p)

	// The transport hands out the wrapped peer exactly once; the handshake
	// needs a single connection and anything more is a logic error.
	var dialOnce sync.Once
	dialCtx := func(ctx context.Context, network, addr string) (net.Conn, error) {
		var c net.Conn
		err := fmt.Errorf("byte peer already consumed by a previous dial")
		dialOnce.Do(func() {
			c = conn
			err = nil
		})
		return c, err
	}

	dialOpts := &websocket.DialOptions{
		HTTPClient: &http.Client{
			Transport: &http.Transport{
				DialContext:       dialCtx,
				DialTLSContext:    dialCtx,
				DisableKeepAlives: true,
			},
		},
		HTTPHeader: opts.HTTPHeader(),
	}
	if opts.WebsocketProtocol != "" {
		dialOpts.Subprotocols = []string{opts.WebsocketProtocol}
	}

	wsConn, resp, err := websocket.Dial(ctx, uri, dialOpts)
	if err != nil {
		metrics.Default().HandshakeErrors.Inc()
		conn.Close()
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return peer.Peer{}, errkind.Errorf(errkind.Handshake, "websocket dial %s (status %d): %w", uri, status, err)
	}

	logger.Debug("websocket client connected",
		"uri", uri,
		"subprotocol", wsConn.Subprotocol())
	metrics.Default().UpgradesTotal.Inc()

	return newMessagePeer(wsConn, opts, logger, opts.MaxMessagesRev), nil
}
