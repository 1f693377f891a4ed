// Package peer defines the connection model shared by all endpoints.
//
// A Peer is one active connection, modeled as two independently owned
// byte-stream halves. A Constructor is the asynchronous producer of Peers:
// either a one-shot future (outgoing connections) or a stream (listeners).
package peer

import (
	"context"
	"errors"
	"io"
)

// Peer is a pair of independently owned halves representing one active
// connection. Closing the Writer propagates a shutdown signal to the
// transport (WS Close frame, TCP FIN); closing the Reader cancels pending
// reads without affecting the other direction.
type Peer struct {
	Reader io.ReadCloser
	Writer io.WriteCloser
}

// New builds a Peer from any read half / write half pair.
func New(r io.ReadCloser, w io.WriteCloser) Peer {
	return Peer{Reader: r, Writer: w}
}

// Close releases both halves.
func (p Peer) Close() error {
	var werr error
	if p.Writer != nil {
		werr = p.Writer.Close()
	}
	if p.Reader != nil {
		if rerr := p.Reader.Close(); werr == nil {
			werr = rerr
		}
	}
	return werr
}

// Result is one element of a multi-connect peer stream. Exactly one of
// Peer and Err is meaningful; a failed element does not necessarily
// terminate the stream.
type Result struct {
	Peer Peer
	Err  error
}

// NewPeerFunc is a lazy one-shot peer computation. It must not be invoked
// during Construct; constructors return immediately and defer all I/O to
// the first call.
type NewPeerFunc func(ctx context.Context) (Peer, error)

// StreamFunc lazily starts a peer stream. The returned channel is closed
// when the stream ends; cancelling ctx stops the underlying listener.
type StreamFunc func(ctx context.Context) <-chan Result

// Constructor produces one or many Peers. The zero value is invalid; use
// Once or Multi.
type Constructor struct {
	once   NewPeerFunc
	stream StreamFunc
}

// Once builds a ServeOnce constructor from a single-peer future.
func Once(f NewPeerFunc) Constructor {
	return Constructor{once: f}
}

// Multi builds a ServeMultiple constructor from a peer stream.
func Multi(f StreamFunc) Constructor {
	return Constructor{stream: f}
}

// OnceErr is a ServeOnce constructor that always fails with err.
func OnceErr(err error) Constructor {
	return Once(func(context.Context) (Peer, error) {
		return Peer{}, err
	})
}

// MultiErr is a ServeMultiple constructor whose stream yields a single
// error element.
func MultiErr(err error) Constructor {
	return Multi(func(ctx context.Context) <-chan Result {
		ch := make(chan Result, 1)
		ch <- Result{Err: err}
		close(ch)
		return ch
	})
}

// IsMulti reports whether the constructor yields a stream of peers.
func (c Constructor) IsMulti() bool {
	return c.stream != nil
}

// MapFunc transforms a produced Peer, typically lifting a byte peer into a
// message peer (WS upgrade) or wrapping it in an overlay.
type MapFunc func(ctx context.Context, p Peer) (Peer, error)

// Map applies f to every produced Peer, preserving the ServeOnce or
// ServeMultiple variant. Errors surface through the same channel the value
// would have: the future's error for ServeOnce, an error element for
// ServeMultiple.
func (c Constructor) Map(f MapFunc) Constructor {
	if c.stream == nil {
		inner := c.once
		return Once(func(ctx context.Context) (Peer, error) {
			p, err := inner(ctx)
			if err != nil {
				return Peer{}, err
			}
			return f(ctx, p)
		})
	}

	inner := c.stream
	return Multi(func(ctx context.Context) <-chan Result {
		out := make(chan Result)
		go func() {
			defer close(out)
			for res := range inner(ctx) {
				if res.Err == nil {
					res.Peer, res.Err = f(ctx, res.Peer)
					if res.Err != nil {
						res.Peer = Peer{}
					}
				}
				select {
				case out <- res:
				case <-ctx.Done():
					if res.Err == nil {
						res.Peer.Close()
					}
					return
				}
			}
		}()
		return out
	})
}

// ErrNoConnection is returned by FirstConn when a stream ends without
// producing any successful peer.
var ErrNoConnection = errors.New("no connection was produced")

// FirstConn collapses the constructor to a one-shot future yielding the
// first successful peer. For a stream, the remainder is discarded and the
// underlying listener is shut down as soon as the first peer arrives; if
// the stream ends without a success, the last observed error is returned.
func (c Constructor) FirstConn() NewPeerFunc {
	if c.stream == nil {
		return c.once
	}
	stream := c.stream
	return func(ctx context.Context) (Peer, error) {
		sctx, cancel := context.WithCancel(ctx)
		defer cancel()

		var lastErr error
		for res := range stream(sctx) {
			if res.Err != nil {
				lastErr = res.Err
				continue
			}
			return res.Peer, nil
		}
		if lastErr == nil {
			lastErr = ErrNoConnection
		}
		return Peer{}, lastErr
	}
}

// Stream presents the constructor uniformly as a stream: a ServeOnce
// constructor becomes a single-element stream.
func (c Constructor) Stream(ctx context.Context) <-chan Result {
	if c.stream != nil {
		return c.stream(ctx)
	}
	once := c.once
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		p, err := once(ctx)
		ch <- Result{Peer: p, Err: err}
	}()
	return ch
}
