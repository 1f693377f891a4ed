package endpoint

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/postalsys/wscat/internal/config"
	"github.com/postalsys/wscat/internal/errkind"
	"github.com/postalsys/wscat/internal/logging"
	"github.com/postalsys/wscat/internal/peer"
	"github.com/postalsys/wscat/internal/recovery"
)

// TCPConnect dials a TCP endpoint. tcp:host:port
type TCPConnect struct {
	Addr string
}

func (s *TCPConnect) Construct(ctx context.Context, ps *ProgramState, opts *config.Options) peer.Constructor {
	logger := ps.Logger()
	addr := s.Addr
	return peer.Once(func(ctx context.Context) (peer.Peer, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return peer.Peer{}, errkind.Errorf(errkind.Connect, "tcp connect %s: %w", addr, err)
		}
		logger.Debug("tcp connected", logging.KeyRemoteAddr, conn.RemoteAddr().String())
		return connPeer(conn), nil
	})
}

func (s *TCPConnect) IsMulticonnect() bool  { return false }
func (s *TCPConnect) UsesGlobalState() bool { return false }
func (s *TCPConnect) Kind() Kind            { return KindOther }
func (s *TCPConnect) Info() *Info           { return leafInfo(s) }
func (s *TCPConnect) String() string        { return "tcp:" + s.Addr }

// TCPListen accepts TCP connections. tcp-l:addr
type TCPListen struct {
	Addr string
}

func (s *TCPListen) Construct(ctx context.Context, ps *ProgramState, opts *config.Options) peer.Constructor {
	logger := ps.Logger()
	addr := s.Addr
	return peer.Multi(func(ctx context.Context) <-chan peer.Result {
		out := make(chan peer.Result)
		go func() {
			defer recovery.RecoverWithLog(logger, "endpoint.TCPListen.accept")
			defer close(out)

			var lc net.ListenConfig
			ln, err := lc.Listen(ctx, "tcp", addr)
			if err != nil {
				sendResult(ctx, out, peer.Result{Err: errkind.Errorf(errkind.Connect, "tcp listen %s: %w", addr, err)})
				return
			}
			defer ln.Close()
			logger.Info("listening", logging.KeyAddress, ln.Addr().String())

			done := make(chan struct{})
			defer close(done)
			go func() {
				select {
				case <-ctx.Done():
					ln.Close()
				case <-done:
				}
			}()

			for {
				conn, err := ln.Accept()
				if err != nil {
					if ctx.Err() == nil {
						sendResult(ctx, out, peer.Result{Err: errkind.Wrap(errkind.Connect, err)})
					}
					return
				}
				logger.Debug("accepted connection", logging.KeyRemoteAddr, conn.RemoteAddr().String())
				if !sendResult(ctx, out, peer.Result{Peer: connPeer(conn)}) {
					conn.Close()
					return
				}
			}
		}()
		return out
	})
}

func (s *TCPListen) IsMulticonnect() bool  { return true }
func (s *TCPListen) UsesGlobalState() bool { return false }
func (s *TCPListen) Kind() Kind            { return KindOther }
func (s *TCPListen) Info() *Info           { return leafInfo(s) }
func (s *TCPListen) String() string        { return "tcp-l:" + s.Addr }

// sendResult delivers a stream element unless the consumer is gone.
func sendResult(ctx context.Context, out chan<- peer.Result, res peer.Result) bool {
	select {
	case out <- res:
		return true
	case <-ctx.Done():
		return false
	}
}

// UDPConnect sends to and receives from a single remote address. udp:host:port
type UDPConnect struct {
	Addr string
}

func (s *UDPConnect) Construct(ctx context.Context, ps *ProgramState, opts *config.Options) peer.Constructor {
	logger := ps.Logger()
	addr := s.Addr
	control := udpControl(opts)
	return peer.Once(func(ctx context.Context) (peer.Peer, error) {
		d := net.Dialer{Control: control}
		conn, err := d.DialContext(ctx, "udp", addr)
		if err != nil {
			return peer.Peer{}, errkind.Errorf(errkind.Connect, "udp connect %s: %w", addr, err)
		}
		logger.Debug("udp socket connected", logging.KeyRemoteAddr, conn.RemoteAddr().String())
		return connPeer(conn), nil
	})
}

func (s *UDPConnect) IsMulticonnect() bool  { return false }
func (s *UDPConnect) UsesGlobalState() bool { return false }
func (s *UDPConnect) Kind() Kind            { return KindOther }
func (s *UDPConnect) Info() *Info           { return leafInfo(s) }
func (s *UDPConnect) String() string        { return "udp:" + s.Addr }

// UDPListen binds a UDP socket and talks to whoever sent the most recent
// datagram. udp-l:addr
type UDPListen struct {
	Addr string
}

func (s *UDPListen) Construct(ctx context.Context, ps *ProgramState, opts *config.Options) peer.Constructor {
	logger := ps.Logger()
	addr := s.Addr
	oneshot := opts.UDPOneshotMode
	control := udpControl(opts)
	return peer.Once(func(ctx context.Context) (peer.Peer, error) {
		lc := net.ListenConfig{Control: control}
		pc, err := lc.ListenPacket(ctx, "udp", addr)
		if err != nil {
			return peer.Peer{}, errkind.Errorf(errkind.Connect, "udp listen %s: %w", addr, err)
		}
		logger.Info("udp socket bound", logging.KeyAddress, pc.LocalAddr().String())
		return newDgramPeer(pc, oneshot), nil
	})
}

func (s *UDPListen) IsMulticonnect() bool  { return false }
func (s *UDPListen) UsesGlobalState() bool { return false }
func (s *UDPListen) Kind() Kind            { return KindOther }
func (s *UDPListen) Info() *Info           { return leafInfo(s) }
func (s *UDPListen) String() string        { return "udp-l:" + s.Addr }

// dgramState is the shared state of an unconnected datagram peer: replies
// go to the sender of the most recent datagram.
type dgramState struct {
	conn    net.PacketConn
	oneshot bool

	mu       sync.Mutex
	last     net.Addr
	answered bool

	refs int32
	once [2]sync.Once
}

func newDgramPeer(conn net.PacketConn, oneshot bool) peer.Peer {
	st := &dgramState{conn: conn, oneshot: oneshot, refs: 2}
	return peer.New(&dgramReadHalf{st}, &dgramWriteHalf{st})
}

func (st *dgramState) release() error {
	st.mu.Lock()
	st.refs--
	last := st.refs
	st.mu.Unlock()
	if last == 0 {
		return st.conn.Close()
	}
	return nil
}

type dgramReadHalf struct{ st *dgramState }

func (h *dgramReadHalf) Read(p []byte) (int, error) {
	h.st.mu.Lock()
	finished := h.st.oneshot && h.st.answered
	h.st.mu.Unlock()
	if finished {
		return 0, io.EOF
	}

	n, addr, err := h.st.conn.ReadFrom(p)
	if err != nil {
		return 0, errkind.Wrap(errkind.IO, err)
	}
	h.st.mu.Lock()
	h.st.last = addr
	h.st.mu.Unlock()
	return n, nil
}

func (h *dgramReadHalf) Close() error {
	var err error
	h.st.once[0].Do(func() { err = h.st.release() })
	return err
}

type dgramWriteHalf struct{ st *dgramState }

func (h *dgramWriteHalf) Write(p []byte) (int, error) {
	h.st.mu.Lock()
	last := h.st.last
	h.st.mu.Unlock()
	if last == nil {
		return 0, errkind.Errorf(errkind.IO, "no datagram received yet, nowhere to reply")
	}
	n, err := h.st.conn.WriteTo(p, last)
	if err != nil {
		return n, errkind.Wrap(errkind.IO, err)
	}
	if h.st.oneshot {
		h.st.mu.Lock()
		h.st.answered = true
		h.st.mu.Unlock()
	}
	return n, nil
}

func (h *dgramWriteHalf) Close() error {
	var err error
	h.st.once[1].Do(func() { err = h.st.release() })
	return err
}
