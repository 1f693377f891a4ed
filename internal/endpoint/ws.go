package endpoint

import (
	"context"
	"crypto/tls"
	"net"
	"net/url"

	"github.com/postalsys/wscat/internal/config"
	"github.com/postalsys/wscat/internal/errkind"
	"github.com/postalsys/wscat/internal/peer"
	"github.com/postalsys/wscat/internal/ws"
)

// WsUpgrade lifts the inner specifier's byte peers into message-oriented
// WebSocket peers via the server-side handshake. ws-listen:inner
//
// Multi-connect is inherited: an upgrade over a listener is multi-connect,
// over a one-shot transport it is one-shot.
type WsUpgrade struct {
	Inner Specifier
}

func (s *WsUpgrade) Construct(ctx context.Context, ps *ProgramState, opts *config.Options) peer.Constructor {
	logger := ps.Logger()
	inner := s.Inner.Construct(ctx, ps, opts)
	return inner.Map(func(ctx context.Context, p peer.Peer) (peer.Peer, error) {
		return ws.UpgradeServer(ctx, p, opts, logger)
	})
}

func (s *WsUpgrade) IsMulticonnect() bool  { return s.Inner.IsMulticonnect() }
func (s *WsUpgrade) UsesGlobalState() bool { return s.Inner.UsesGlobalState() }
func (s *WsUpgrade) Kind() Kind            { return KindOther }
func (s *WsUpgrade) Info() *Info           { return wrapInfo(s, s.Inner) }
func (s *WsUpgrade) String() string        { return "ws-listen:" + s.Inner.String() }

// WsClient performs the client-side WebSocket handshake over the inner
// specifier's byte peers, targeting the configured client URI. ws-c:inner
type WsClient struct {
	Inner Specifier
}

func (s *WsClient) Construct(ctx context.Context, ps *ProgramState, opts *config.Options) peer.Constructor {
	logger := ps.Logger()
	inner := s.Inner.Construct(ctx, ps, opts)
	return inner.Map(func(ctx context.Context, p peer.Peer) (peer.Peer, error) {
		uri := opts.ClientURI()
		if uri == "" {
			uri = "ws://127.0.0.1/"
		}
		return ws.DialOverPeer(ctx, p, uri, opts, logger)
	})
}

func (s *WsClient) IsMulticonnect() bool  { return s.Inner.IsMulticonnect() }
func (s *WsClient) UsesGlobalState() bool { return s.Inner.UsesGlobalState() }
func (s *WsClient) Kind() Kind            { return KindOther }
func (s *WsClient) Info() *Info           { return wrapInfo(s, s.Inner) }
func (s *WsClient) String() string        { return "ws-c:" + s.Inner.String() }

// WsURL is the URL sugar form: a WebSocket client over TCP, with TLS for
// wss. ws://host[:port][/path]
type WsURL struct {
	URL *url.URL
}

func (s *WsURL) Construct(ctx context.Context, ps *ProgramState, opts *config.Options) peer.Constructor {
	logger := ps.Logger()
	u := s.URL
	return peer.Once(func(ctx context.Context) (peer.Peer, error) {
		addr := hostPort(u)

		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return peer.Peer{}, errkind.Errorf(errkind.Connect, "connect %s: %w", addr, err)
		}

		p := connPeer(conn)
		if u.Scheme == "wss" {
			serverName := opts.TLSDomain
			if serverName == "" {
				serverName = u.Hostname()
			}
			tlsConn := tls.Client(conn, &tls.Config{
				ServerName:         serverName,
				InsecureSkipVerify: opts.TLSInsecure,
			})
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return peer.Peer{}, errkind.Errorf(errkind.Handshake, "tls handshake with %s: %w", addr, err)
			}
			p = connPeer(tlsConn)
		}

		return ws.DialOverPeer(ctx, p, u.String(), opts, logger)
	})
}

func (s *WsURL) IsMulticonnect() bool  { return false }
func (s *WsURL) UsesGlobalState() bool { return false }
func (s *WsURL) Kind() Kind            { return KindOther }
func (s *WsURL) Info() *Info           { return leafInfo(s) }
func (s *WsURL) String() string        { return s.URL.String() }

// hostPort fills in the scheme's default port when the URL has none.
func hostPort(u *url.URL) string {
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		if u.Scheme == "wss" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return net.JoinHostPort(host, port)
}
