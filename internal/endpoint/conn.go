package endpoint

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/postalsys/wscat/internal/peer"
)

// readCloser and writeCloser are implemented by connections supporting
// half-close (TCP, Unix stream sockets).
type readCloser interface {
	CloseRead() error
}

type writeCloser interface {
	CloseWrite() error
}

// connPeer splits a net.Conn into a Peer. Each half performs its
// half-close when released; the connection itself is closed once both
// halves are gone, so no descriptor leaks when the transport lacks
// half-close support.
func connPeer(conn net.Conn) peer.Peer {
	refs := &atomic.Int32{}
	refs.Store(2)
	return peer.New(
		&connReadHalf{conn: conn, refs: refs},
		&connWriteHalf{conn: conn, refs: refs},
	)
}

type connReadHalf struct {
	conn net.Conn
	refs *atomic.Int32
	once sync.Once
}

func (h *connReadHalf) Read(p []byte) (int, error) {
	return h.conn.Read(p)
}

func (h *connReadHalf) Close() error {
	var err error
	h.once.Do(func() {
		if cr, ok := h.conn.(readCloser); ok {
			err = cr.CloseRead()
		}
		if h.refs.Add(-1) == 0 {
			cerr := h.conn.Close()
			if err == nil {
				err = cerr
			}
		}
	})
	return err
}

type connWriteHalf struct {
	conn net.Conn
	refs *atomic.Int32
	once sync.Once
}

func (h *connWriteHalf) Write(p []byte) (int, error) {
	return h.conn.Write(p)
}

func (h *connWriteHalf) Close() error {
	var err error
	h.once.Do(func() {
		if cw, ok := h.conn.(writeCloser); ok {
			err = cw.CloseWrite()
		}
		if h.refs.Add(-1) == 0 {
			cerr := h.conn.Close()
			if err == nil {
				err = cerr
			}
		}
	})
	return err
}
