package endpoint

import (
	"context"
	"net"
	"strings"

	"golang.org/x/net/proxy"

	"github.com/postalsys/wscat/internal/config"
	"github.com/postalsys/wscat/internal/errkind"
	"github.com/postalsys/wscat/internal/logging"
	"github.com/postalsys/wscat/internal/peer"
)

// Socks5Connect dials a target through a SOCKS5 proxy.
// socks5-connect:proxyhost:port/targethost:port
type Socks5Connect struct {
	Proxy  string
	Target string
}

func (s *Socks5Connect) Construct(ctx context.Context, ps *ProgramState, opts *config.Options) peer.Constructor {
	logger := ps.Logger()
	proxyAddr, target := s.Proxy, s.Target
	return peer.Once(func(ctx context.Context) (peer.Peer, error) {
		dialer, err := proxy.SOCKS5("tcp", proxyAddr, nil, &net.Dialer{})
		if err != nil {
			return peer.Peer{}, errkind.Errorf(errkind.Connect, "socks5 proxy %s: %w", proxyAddr, err)
		}
		cd, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return peer.Peer{}, errkind.Errorf(errkind.Connect, "socks5 dialer does not support contexts")
		}
		conn, err := cd.DialContext(ctx, "tcp", target)
		if err != nil {
			return peer.Peer{}, errkind.Errorf(errkind.Connect, "socks5 connect %s via %s: %w", target, proxyAddr, err)
		}
		logger.Debug("socks5 connected",
			logging.KeyRemoteAddr, target,
			"proxy", proxyAddr)
		return connPeer(conn), nil
	})
}

func (s *Socks5Connect) IsMulticonnect() bool  { return false }
func (s *Socks5Connect) UsesGlobalState() bool { return false }
func (s *Socks5Connect) Kind() Kind            { return KindOther }
func (s *Socks5Connect) Info() *Info           { return leafInfo(s) }
func (s *Socks5Connect) String() string        { return "socks5-connect:" + s.Proxy + "/" + s.Target }

// splitProxyTarget splits "proxyaddr/target" at the first slash.
func splitProxyTarget(rest string) (proxyAddr, target string, ok bool) {
	i := strings.Index(rest, "/")
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}
