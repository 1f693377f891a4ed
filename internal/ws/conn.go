// Package ws lifts arbitrary byte peers into message-oriented WebSocket
// peers: server-side upgrade for listeners and client-side handshake for
// outgoing connections.
package ws

import (
	"net"
	"sync"
	"time"

	"github.com/postalsys/wscat/internal/peer"
)

// peerAddr is a placeholder net.Addr for peers that do not expose one.
type peerAddr struct{}

func (peerAddr) Network() string { return "wscat" }
func (peerAddr) String() string  { return "peer" }

// peerConn adapts a byte Peer to net.Conn so the HTTP machinery can drive
// the handshake over it. Deadlines are accepted and ignored; the peers
// underneath are context-driven.
type peerConn struct {
	p peer.Peer
}

func newPeerConn(p peer.Peer) *peerConn {
	return &peerConn{p: p}
}

func (c *peerConn) Read(b []byte) (int, error)  { return c.p.Reader.Read(b) }
func (c *peerConn) Write(b []byte) (int, error) { return c.p.Writer.Write(b) }

func (c *peerConn) Close() error {
	return c.p.Close()
}

func (c *peerConn) LocalAddr() net.Addr  { return peerAddr{} }
func (c *peerConn) RemoteAddr() net.Addr { return peerAddr{} }

func (c *peerConn) SetDeadline(t time.Time) error      { return nil }
func (c *peerConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *peerConn) SetWriteDeadline(t time.Time) error { return nil }

// oneShotListener hands out exactly one connection; later Accept calls block
// until Close and then report the listener closed.
// It lets an http.Server drive a single already-established peer.
type oneShotListener struct {
	ch        chan net.Conn
	closeOnce sync.Once
	done      chan struct{}
}

func newOneShotListener(conn net.Conn) *oneShotListener {
	l := &oneShotListener{ch: make(chan net.Conn, 1), done: make(chan struct{})}
	l.ch <- conn
	return l
}

func (l *oneShotListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.ch:
		if conn != nil {
			return conn, nil
		}
	case <-l.done:
	}
	return nil, net.ErrClosed
}

func (l *oneShotListener) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}

func (l *oneShotListener) Addr() net.Addr { return peerAddr{} }
