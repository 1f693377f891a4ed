package endpoint

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/postalsys/wscat/internal/config"
	"github.com/postalsys/wscat/internal/errkind"
	"github.com/postalsys/wscat/internal/logging"
	"github.com/postalsys/wscat/internal/peer"
)

// Reconnect transparently re-establishes its inner peer when a read or
// write fails or the stream ends. reconnect:inner
type Reconnect struct {
	Inner Specifier
}

func (s *Reconnect) Construct(ctx context.Context, ps *ProgramState, opts *config.Options) peer.Constructor {
	inner := s.Inner
	logger := ps.Logger()
	delay := opts.AutoreconnectDelay
	return peer.Once(func(ctx context.Context) (peer.Peer, error) {
		dial := func() (peer.Peer, error) {
			return inner.Construct(ctx, ps, opts).FirstConn()(ctx)
		}
		cur, err := dial()
		if err != nil {
			return peer.Peer{}, err
		}
		rp := &reconnectPeer{
			ctx:    ctx,
			dial:   dial,
			cur:    cur,
			delay:  delay,
			logger: logger,
		}
		return peer.New(&reconnectReadHalf{rp}, &reconnectWriteHalf{rp}), nil
	})
}

func (s *Reconnect) IsMulticonnect() bool  { return false }
func (s *Reconnect) UsesGlobalState() bool { return s.Inner.UsesGlobalState() }
func (s *Reconnect) Kind() Kind            { return KindOther }
func (s *Reconnect) Info() *Info           { return wrapInfo(s, s.Inner) }
func (s *Reconnect) String() string        { return "reconnect:" + s.Inner.String() }

var errReconnectClosed = errors.New("reconnect peer is closed")

type reconnectPeer struct {
	ctx    context.Context
	dial   func() (peer.Peer, error)
	delay  time.Duration
	logger *slog.Logger

	mu          sync.Mutex
	cur         peer.Peer
	generation  int
	readClosed  bool
	writeClosed bool
}

// current returns the active peer and its generation for optimistic use
// outside the lock.
func (rp *reconnectPeer) current() (peer.Peer, int, error) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if rp.readClosed && rp.writeClosed {
		return peer.Peer{}, 0, errReconnectClosed
	}
	return rp.cur, rp.generation, nil
}

// redial replaces the failed generation with a fresh inner peer. If
// another half already redialed, the new generation is reused as-is.
func (rp *reconnectPeer) redial(failedGen int, cause error) error {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	if rp.readClosed && rp.writeClosed {
		return errReconnectClosed
	}
	if rp.generation != failedGen {
		return nil
	}
	if rp.ctx.Err() != nil {
		return errkind.Wrap(errkind.IO, rp.ctx.Err())
	}

	rp.logger.Debug("reconnecting", logging.KeyError, cause)
	rp.cur.Close()

	if rp.delay > 0 {
		select {
		case <-time.After(rp.delay):
		case <-rp.ctx.Done():
			return errkind.Wrap(errkind.IO, rp.ctx.Err())
		}
	}

	next, err := rp.dial()
	if err != nil {
		return err
	}
	rp.cur = next
	rp.generation++
	return nil
}

func (rp *reconnectPeer) closeHalf(read bool) error {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	var err error
	if read && !rp.readClosed {
		rp.readClosed = true
		err = rp.cur.Reader.Close()
	}
	if !read && !rp.writeClosed {
		rp.writeClosed = true
		err = rp.cur.Writer.Close()
	}
	return err
}

type reconnectReadHalf struct{ rp *reconnectPeer }

func (h *reconnectReadHalf) Read(p []byte) (int, error) {
	for {
		cur, gen, err := h.rp.current()
		if err != nil {
			return 0, err
		}
		n, err := cur.Reader.Read(p)
		if n > 0 || err == nil {
			return n, err
		}
		// EOF and errors both trigger re-establishment; the stream is
		// meant to survive the inner transport going away.
		if rerr := h.rp.redial(gen, err); rerr != nil {
			if errors.Is(rerr, errReconnectClosed) {
				return 0, io.EOF
			}
			return 0, rerr
		}
	}
}

func (h *reconnectReadHalf) Close() error { return h.rp.closeHalf(true) }

type reconnectWriteHalf struct{ rp *reconnectPeer }

func (h *reconnectWriteHalf) Write(p []byte) (int, error) {
	for {
		cur, gen, err := h.rp.current()
		if err != nil {
			return 0, err
		}
		n, err := cur.Writer.Write(p)
		if err == nil {
			return n, nil
		}
		if rerr := h.rp.redial(gen, err); rerr != nil {
			return 0, rerr
		}
	}
}

func (h *reconnectWriteHalf) Close() error { return h.rp.closeHalf(false) }
