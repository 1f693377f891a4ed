// Package session pairs two peers into two directional transfers and runs
// them under the configured termination policy.
package session

import (
	"context"
	"io"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/postalsys/wscat/internal/config"
	"github.com/postalsys/wscat/internal/logging"
	"github.com/postalsys/wscat/internal/metrics"
	"github.com/postalsys/wscat/internal/peer"
	"github.com/postalsys/wscat/internal/recovery"
)

// Transfer is a one-way pump from one peer's read half to the other
// peer's write half.
type Transfer struct {
	From io.ReadCloser
	To   io.WriteCloser
}

// drop cancels pending I/O and shuts the writer down. Halves tolerate
// repeated closes, so dropping a finished transfer is harmless.
func (t Transfer) drop() {
	t.To.Close()
	t.From.Close()
}

// Session couples two peers into a forward and a reverse transfer.
type Session struct {
	forward Transfer
	reverse Transfer
	opts    *config.Options
	logger  *slog.Logger
}

// New splits the two peers into directional transfers: forward pumps
// left's reads into right's writes, reverse the opposite way.
func New(left, right peer.Peer, opts *config.Options, logger *slog.Logger) *Session {
	if logger == nil {
		logger = logging.NopLogger()
	}
	id := uuid.NewString()
	return &Session{
		forward: Transfer{From: left.Reader, To: right.Writer},
		reverse: Transfer{From: right.Reader, To: left.Writer},
		opts:    opts,
		logger:  logger.With(logging.KeySessionID, id),
	}
}

// Run executes the session under the termination policy selected by the
// options:
//
//	unidirectional + unidirectional_reverse  open and immediately close
//	unidirectional                           forward only
//	unidirectional_reverse                   reverse only
//	exit_on_eof                              either direction ending ends both
//	default                                  wait for both directions
func (s *Session) Run(ctx context.Context) error {
	m := metrics.Default()
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
	defer m.SessionsActive.Dec()

	unif := s.opts.Unidirectional
	unir := s.opts.UnidirectionalReverse

	switch {
	case unif && unir:
		// Both directions suppressed: open the connection and close it.
		s.forward.drop()
		s.reverse.drop()
		s.logger.Info("finished")
		return nil
	case unif:
		s.reverse.drop()
		err := s.pump("forward", s.forward)
		s.logger.Info("finished")
		return err
	case unir:
		s.forward.drop()
		err := s.pump("reverse", s.reverse)
		s.logger.Info("finished")
		return err
	case s.opts.ExitOnEOF:
		return s.runEither(ctx)
	default:
		return s.runBoth(ctx)
	}
}

// runBoth waits for both directions; the first error aborts the other.
func (s *Session) runBoth(ctx context.Context) error {
	g := new(errgroup.Group)
	g.Go(func() error {
		err := s.pump("forward", s.forward)
		if err != nil {
			s.reverse.drop()
		}
		return err
	})
	g.Go(func() error {
		err := s.pump("reverse", s.reverse)
		if err != nil {
			s.forward.drop()
		}
		return err
	})
	err := g.Wait()
	s.logger.Info("finished")
	return err
}

// runEither completes when the first direction finishes; the other is
// dropped before returning.
func (s *Session) runEither(ctx context.Context) error {
	type outcome struct {
		name string
		err  error
	}
	ch := make(chan outcome, 2)

	go func() {
		defer recovery.RecoverWithLog(s.logger, "session.pump.forward")
		ch <- outcome{name: "forward", err: s.pump("forward", s.forward)}
	}()
	go func() {
		defer recovery.RecoverWithLog(s.logger, "session.pump.reverse")
		ch <- outcome{name: "reverse", err: s.pump("reverse", s.reverse)}
	}()

	first := <-ch
	s.logger.Debug("direction finished first", logging.KeyDirection, first.name)

	s.forward.drop()
	s.reverse.drop()
	<-ch

	s.logger.Info("finished")
	return first.err
}

// pump copies until EOF or error, then shuts down its writer and releases
// both halves.
func (s *Session) pump(name string, t Transfer) error {
	n, err := copyData(t.To, t.From, s.opts.BufferSize)
	t.To.Close()
	t.From.Close()

	metrics.Default().BytesTransferred.WithLabelValues(name).Add(float64(n))
	s.logger.Debug("transfer finished",
		logging.KeyDirection, name,
		logging.KeyBytes, humanize.IBytes(uint64(n)),
		logging.KeyError, err)
	return err
}

// copyData prefers the endpoints' own copy fast paths and falls back to a
// buffer sized by the options.
func copyData(dst io.Writer, src io.Reader, bufSize int) (int64, error) {
	if wt, ok := src.(io.WriterTo); ok {
		return wt.WriteTo(dst)
	}
	if rf, ok := dst.(io.ReaderFrom); ok {
		return rf.ReadFrom(src)
	}
	if bufSize <= 0 {
		bufSize = config.DefaultBufferSize
	}
	return io.CopyBuffer(dst, src, make([]byte, bufSize))
}
