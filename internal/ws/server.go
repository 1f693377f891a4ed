package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"nhooyr.io/websocket"

	"github.com/postalsys/wscat/internal/config"
	"github.com/postalsys/wscat/internal/errkind"
	"github.com/postalsys/wscat/internal/logging"
	"github.com/postalsys/wscat/internal/metrics"
	"github.com/postalsys/wscat/internal/peer"
	"github.com/postalsys/wscat/internal/recovery"
)

// UpgradeServer performs the server side of the WebSocket handshake over an
// already-established byte peer and returns a message-oriented peer.
//
// The byte peer is wrapped in a single-connection listener and driven by an
// http.Server so the upgrade uses the standard request parsing and response
// writing. A requested subprotocol is echoed iff it matches the configured
// one.
func UpgradeServer(ctx context.Context, p peer.Peer, opts *config.Options, logger *slog.Logger) (peer.Peer, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}

	conn := newPeerConn(p)
	ln := newOneShotListener(conn)
	defer ln.Close()

	type upgradeResult struct {
		peer peer.Peer
		err  error
	}
	resultCh := make(chan upgradeResult, 1)

	acceptOpts := &websocket.AcceptOptions{
		// Origin checking is the responsibility of outer deployments; wscat
		// accepts cross-origin upgrades like any other inbound byte stream.
		InsecureSkipVerify: true,
	}
	if proto := replyProtocol(opts); proto != "" {
		acceptOpts.Subprotocols = []string{proto}
	}

	var once sync.Once
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := websocket.Accept(w, r, acceptOpts)
		if err != nil {
			metrics.Default().HandshakeErrors.Inc()
			once.Do(func() {
				resultCh <- upgradeResult{err: errkind.Errorf(errkind.Handshake, "websocket upgrade: %w", err)}
			})
			return
		}

		logger.Debug("websocket upgrade accepted",
			"uri", r.RequestURI,
			"subprotocol", wsConn.Subprotocol())
		metrics.Default().UpgradesTotal.Inc()

		maxMessages := opts.MaxMessages
		once.Do(func() {
			resultCh <- upgradeResult{peer: newMessagePeer(wsConn, opts, logger, maxMessages)}
		})
	})

	srv := &http.Server{Handler: handler}
	go func() {
		defer recovery.RecoverWithLog(logger, "ws.UpgradeServer.serve")
		srv.Serve(ln)
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			conn.Close()
			return peer.Peer{}, res.err
		}
		return res.peer, nil
	case <-ctx.Done():
		conn.Close()
		return peer.Peer{}, errkind.Wrap(errkind.Handshake, ctx.Err())
	}
}

// replyProtocol picks the subprotocol the server side advertises:
// websocket_reply_protocol when set, websocket_protocol otherwise.
func replyProtocol(opts *config.Options) string {
	if opts.WebsocketReplyProtocol != "" {
		return opts.WebsocketReplyProtocol
	}
	return opts.WebsocketProtocol
}
