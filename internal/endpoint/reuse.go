package endpoint

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/postalsys/wscat/internal/config"
	"github.com/postalsys/wscat/internal/logging"
	"github.com/postalsys/wscat/internal/peer"
	"github.com/postalsys/wscat/internal/recovery"
)

// Reuser shares a single inner connection across repeated outer
// connections. reuse:inner
//
// The shared sub-connection lives in ProgramState, keyed by the inner
// specifier's canonical text, and is established lazily on the first
// attach. Writes from all attached clients interleave into the shared
// connection; reads fan out to every attached client.
type Reuser struct {
	Inner Specifier
}

func (s *Reuser) Construct(ctx context.Context, ps *ProgramState, opts *config.Options) peer.Constructor {
	inner := s.Inner
	key := inner.String()
	queueLen := opts.BroadcastQueueLen
	zeroOnDetach := opts.ReuserSendZeroMsgOnDisconnect
	dial := func(ctx context.Context) (peer.Peer, error) {
		return inner.Construct(ctx, ps, opts).FirstConn()(ctx)
	}
	hub := ps.hub(key, queueLen, dial)
	return peer.Once(func(ctx context.Context) (peer.Peer, error) {
		return hub.attach(ctx, zeroOnDetach)
	})
}

func (s *Reuser) IsMulticonnect() bool  { return false }
func (s *Reuser) UsesGlobalState() bool { return true }
func (s *Reuser) Kind() Kind            { return KindReuser }
func (s *Reuser) Info() *Info           { return wrapInfo(s, s.Inner) }
func (s *Reuser) String() string        { return "reuse:" + s.Inner.String() }

type hubDialFunc func(ctx context.Context) (peer.Peer, error)

// reuseHub owns one shared sub-connection and fans its reads out to the
// currently attached clients. A slow client whose queue is full loses the
// oldest queued chunk.
type reuseHub struct {
	dial     hubDialFunc
	queueLen int
	logger   *slog.Logger

	dialOnce sync.Once
	shared   peer.Peer
	dialErr  error

	writeMu sync.Mutex

	mu     sync.Mutex
	dialed bool
	subs   map[*hubClient]struct{}
	closed bool
}

func newReuseHub(queueLen int, dial hubDialFunc, logger *slog.Logger) *reuseHub {
	return &reuseHub{
		dial:     dial,
		queueLen: queueLen,
		logger:   logger,
		subs:     make(map[*hubClient]struct{}),
	}
}

// attach connects one outer client to the hub, establishing the shared
// sub-connection on first use.
func (h *reuseHub) attach(ctx context.Context, zeroOnDetach bool) (peer.Peer, error) {
	h.dialOnce.Do(func() {
		h.shared, h.dialErr = h.dial(ctx)
		h.mu.Lock()
		h.dialed = true
		h.mu.Unlock()
		if h.dialErr == nil {
			go h.fanOut()
		}
	})
	if h.dialErr != nil {
		return peer.Peer{}, h.dialErr
	}

	h.mu.Lock()
	client := &hubClient{
		hub:          h,
		ch:           make(chan []byte, h.queueLen),
		done:         make(chan struct{}),
		zeroOnDetach: zeroOnDetach,
	}
	h.subs[client] = struct{}{}
	h.mu.Unlock()

	return peer.New(&hubReadHalf{client}, &hubWriteHalf{client}), nil
}

// fanOut pumps the shared connection's reads to every attached client.
func (h *reuseHub) fanOut() {
	defer recovery.RecoverWithLog(h.logger, "endpoint.reuseHub.fanOut")

	buf := make([]byte, config.DefaultBufferSize)
	for {
		n, err := h.shared.Reader.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			h.broadcast(chunk)
		}
		if err != nil {
			h.mu.Lock()
			for client := range h.subs {
				client.detachLocked()
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *reuseHub) broadcast(chunk []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.subs {
		select {
		case client.ch <- chunk:
		default:
			// Queue full: shed the oldest chunk so the shared reader is
			// never blocked by one slow client.
			select {
			case <-client.ch:
				h.logger.Warn("reuse client queue full, dropping oldest chunk")
			default:
			}
			select {
			case client.ch <- chunk:
			default:
			}
		}
	}
}

// write serializes client writes into the shared connection.
func (h *reuseHub) write(p []byte) (int, error) {
	h.mu.Lock()
	shared := h.shared
	closed := h.closed
	h.mu.Unlock()
	if closed || shared.Writer == nil {
		return 0, io.ErrClosedPipe
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return shared.Writer.Write(p)
}

func (h *reuseHub) detach(client *hubClient) {
	h.mu.Lock()
	_, present := h.subs[client]
	if present {
		delete(h.subs, client)
		client.detachLocked()
	}
	zero := present && client.zeroOnDetach && !h.closed && h.shared.Writer != nil
	shared := h.shared
	h.mu.Unlock()

	if zero {
		h.writeMu.Lock()
		_, err := shared.Writer.Write(nil)
		h.writeMu.Unlock()
		if err != nil {
			h.logger.Debug("zero message on detach failed", logging.KeyError, err)
		}
	}
}

// Close tears down the shared sub-connection. Called when ProgramState is
// dropped, after the last session.
func (h *reuseHub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	shared := h.shared
	dialed := h.dialed
	for client := range h.subs {
		client.detachLocked()
	}
	h.subs = make(map[*hubClient]struct{})
	h.mu.Unlock()

	if dialed && shared.Writer != nil {
		return shared.Close()
	}
	return nil
}

type hubClient struct {
	hub          *reuseHub
	ch           chan []byte
	done         chan struct{}
	detachOnce   sync.Once
	zeroOnDetach bool

	pending []byte
}

// detachLocked wakes the client's reader; the hub lock must be held.
func (c *hubClient) detachLocked() {
	c.detachOnce.Do(func() { close(c.done) })
}

type hubReadHalf struct{ c *hubClient }

func (hubhalf *hubReadHalf) Read(p []byte) (int, error) {
	c := hubhalf.c
	if len(c.pending) > 0 {
		n := copy(p, c.pending)
		c.pending = c.pending[n:]
		return n, nil
	}
	select {
	case chunk := <-c.ch:
		n := copy(p, chunk)
		if n < len(chunk) {
			c.pending = chunk[n:]
		}
		return n, nil
	case <-c.done:
		// Drain anything queued before the detach.
		select {
		case chunk := <-c.ch:
			n := copy(p, chunk)
			if n < len(chunk) {
				c.pending = chunk[n:]
			}
			return n, nil
		default:
			return 0, io.EOF
		}
	}
}

func (hubhalf *hubReadHalf) Close() error {
	hubhalf.c.hub.detach(hubhalf.c)
	return nil
}

type hubWriteHalf struct{ c *hubClient }

func (hubhalf *hubWriteHalf) Write(p []byte) (int, error) {
	return hubhalf.c.hub.write(p)
}

func (hubhalf *hubWriteHalf) Close() error {
	hubhalf.c.hub.detach(hubhalf.c)
	return nil
}
