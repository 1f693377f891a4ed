package ws

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"nhooyr.io/websocket"

	"github.com/postalsys/wscat/internal/config"
	"github.com/postalsys/wscat/internal/errkind"
	"github.com/postalsys/wscat/internal/logging"
	"github.com/postalsys/wscat/internal/metrics"
	"github.com/postalsys/wscat/internal/peer"
	"github.com/postalsys/wscat/internal/recovery"
)

const defaultReadLimit = 16 * 1024 * 1024 // 16 MB max message size

// connState is shared by the two halves of a message peer. It owns the
// keepalive goroutine and records a ping timeout so the reader can classify
// the resulting read failure as a policy error.
type connState struct {
	conn       *websocket.Conn
	logger     *slog.Logger
	pingFailed atomic.Bool
	stopPing   context.CancelFunc
}

// newMessagePeer wraps an upgraded WebSocket connection into a Peer whose
// reads yield message payloads through a read debt and whose writes emit
// one frame per call.
func newMessagePeer(conn *websocket.Conn, opts *config.Options, logger *slog.Logger, maxMessages int) peer.Peer {
	if logger == nil {
		logger = logging.NopLogger()
	}
	conn.SetReadLimit(defaultReadLimit)

	st := &connState{conn: conn, logger: logger}
	if opts.WsPingInterval > 0 {
		pingCtx, cancel := context.WithCancel(context.Background())
		st.stopPing = cancel
		go st.keepalive(pingCtx, opts.WsPingInterval, opts.WsPingTimeout)
	}

	readCtx, readCancel := context.WithCancel(context.Background())
	r := &messageReader{
		st:          st,
		ctx:         readCtx,
		cancel:      readCancel,
		opts:        opts,
		maxMessages: maxMessages,
	}

	typ := websocket.MessageBinary
	if opts.WebsocketTextMode {
		typ = websocket.MessageText
	}
	w := &messageWriter{st: st, typ: typ}

	return peer.New(r, w)
}

// keepalive pings the remote at the configured interval. A missed pong
// within the timeout tears the connection down; the reader reports the
// failure as a policy error.
func (st *connState) keepalive(ctx context.Context, interval, timeout time.Duration) {
	defer recovery.RecoverWithLog(st.logger, "ws.keepalive")

	if timeout <= 0 {
		timeout = interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pctx, cancel := context.WithTimeout(ctx, timeout)
		err := st.conn.Ping(pctx)
		cancel()
		metrics.Default().PingsSent.Inc()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.Default().PingTimeouts.Inc()
			st.logger.Warn("websocket ping failed", logging.KeyError, err)
			st.pingFailed.Store(true)
			st.conn.Close(websocket.StatusPolicyViolation, "ping timeout")
			return
		}
	}
}

// messageReader projects WebSocket messages into caller-sized buffers via a
// read debt. Control frames are handled by the library while reading.
type messageReader struct {
	st          *connState
	ctx         context.Context
	cancel      context.CancelFunc
	opts        *config.Options
	debt        peer.ReadDebt
	maxMessages int
	count       int
	eof         bool
	closeOnce   sync.Once
}

func (r *messageReader) Read(p []byte) (int, error) {
	if n, ok := r.debt.CheckDebt(p); ok {
		return n, nil
	}
	if r.eof {
		return 0, io.EOF
	}

	for {
		typ, data, err := r.st.conn.Read(r.ctx)
		if err != nil {
			return 0, r.readError(err)
		}

		if len(data) == 0 {
			switch {
			case r.opts.WebsocketIgnoreZeromsg:
				continue
			case r.opts.NoExitOnZeromsg:
				return 0, nil
			default:
				r.eof = true
				return 0, io.EOF
			}
		}

		if typ == websocket.MessageText && !utf8.Valid(data) {
			r.st.conn.Close(websocket.StatusInvalidFramePayloadData, "invalid UTF-8")
			return 0, errkind.Errorf(errkind.Protocol, "received text message with invalid UTF-8")
		}

		metrics.Default().MessagesRead.Inc()
		r.count++
		if r.maxMessages > 0 && r.count >= r.maxMessages {
			r.eof = true
		}
		return r.debt.ProcessMessage(p, data), nil
	}
}

func (r *messageReader) readError(err error) error {
	if r.st.pingFailed.Load() {
		return errkind.Errorf(errkind.Policy, "websocket ping timeout: %w", err)
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return io.EOF
	case -1:
		if r.ctx.Err() != nil {
			return io.EOF
		}
		return errkind.Wrap(errkind.IO, err)
	default:
		return errkind.Wrap(errkind.Protocol, err)
	}
}

// Close cancels pending reads. The connection itself is torn down by the
// write half, which owns the close handshake.
func (r *messageReader) Close() error {
	r.closeOnce.Do(func() {
		r.cancel()
		if r.st.stopPing != nil {
			r.st.stopPing()
		}
	})
	return nil
}

// messageWriter encodes each write as a single Text or Binary frame.
type messageWriter struct {
	st        *connState
	typ       websocket.MessageType
	closeOnce sync.Once
	closeErr  error
}

func (w *messageWriter) Write(p []byte) (int, error) {
	if w.typ == websocket.MessageText && !utf8.Valid(p) {
		return 0, errkind.Errorf(errkind.Protocol, "refusing to send invalid UTF-8 in text mode")
	}
	if err := w.st.conn.Write(context.Background(), w.typ, p); err != nil {
		return 0, errkind.Wrap(errkind.IO, err)
	}
	return len(p), nil
}

// Close performs the closing handshake, sending a Close frame to the remote.
func (w *messageWriter) Close() error {
	w.closeOnce.Do(func() {
		if w.st.stopPing != nil {
			w.st.stopPing()
		}
		w.closeErr = w.st.conn.Close(websocket.StatusNormalClosure, "")
	})
	return w.closeErr
}
