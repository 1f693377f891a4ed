package endpoint

import (
	"context"
	"net"
	"os"

	"github.com/postalsys/wscat/internal/config"
	"github.com/postalsys/wscat/internal/errkind"
	"github.com/postalsys/wscat/internal/logging"
	"github.com/postalsys/wscat/internal/peer"
	"github.com/postalsys/wscat/internal/recovery"
)

// UnixConnect dials a Unix stream socket. unix:path
type UnixConnect struct {
	Path string
}

func (s *UnixConnect) Construct(ctx context.Context, ps *ProgramState, opts *config.Options) peer.Constructor {
	logger := ps.Logger()
	path := s.Path
	return peer.Once(func(ctx context.Context) (peer.Peer, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "unix", path)
		if err != nil {
			return peer.Peer{}, errkind.Errorf(errkind.Connect, "unix connect %s: %w", path, err)
		}
		logger.Debug("unix socket connected", logging.KeyAddress, path)
		return connPeer(conn), nil
	})
}

func (s *UnixConnect) IsMulticonnect() bool  { return false }
func (s *UnixConnect) UsesGlobalState() bool { return false }
func (s *UnixConnect) Kind() Kind            { return KindOther }
func (s *UnixConnect) Info() *Info           { return leafInfo(s) }
func (s *UnixConnect) String() string        { return "unix:" + s.Path }

// UnixListen accepts connections on a Unix stream socket. unix-l:path
type UnixListen struct {
	Path string
}

func (s *UnixListen) Construct(ctx context.Context, ps *ProgramState, opts *config.Options) peer.Constructor {
	logger := ps.Logger()
	path := s.Path
	unlink := opts.UnlinkUnixSocket
	return peer.Multi(func(ctx context.Context) <-chan peer.Result {
		out := make(chan peer.Result)
		go func() {
			defer recovery.RecoverWithLog(logger, "endpoint.UnixListen.accept")
			defer close(out)

			if unlink {
				// A stale socket file from a previous run would make bind fail.
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
					sendResult(ctx, out, peer.Result{Err: errkind.Errorf(errkind.Connect, "unlink %s: %w", path, err)})
					return
				}
			}

			var lc net.ListenConfig
			ln, err := lc.Listen(ctx, "unix", path)
			if err != nil {
				sendResult(ctx, out, peer.Result{Err: errkind.Errorf(errkind.Connect, "unix listen %s: %w", path, err)})
				return
			}
			defer ln.Close()
			logger.Info("listening", logging.KeyAddress, path)

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
				if !sendResult(ctx, out, peer.Result{Peer: connPeer(conn)}) {
					conn.Close()
					return
				}
			}
		}()
		return out
	})
}

func (s *UnixListen) IsMulticonnect() bool  { return true }
func (s *UnixListen) UsesGlobalState() bool { return false }
func (s *UnixListen) Kind() Kind            { return KindOther }
func (s *UnixListen) Info() *Info           { return leafInfo(s) }
func (s *UnixListen) String() string        { return "unix-l:" + s.Path }
