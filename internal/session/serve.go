package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/postalsys/wscat/internal/config"
	"github.com/postalsys/wscat/internal/endpoint"
	"github.com/postalsys/wscat/internal/errkind"
	"github.com/postalsys/wscat/internal/logging"
	"github.com/postalsys/wscat/internal/metrics"
	"github.com/postalsys/wscat/internal/peer"
	"github.com/postalsys/wscat/internal/recovery"
)

// Serve couples the two specifiers until the left side is exhausted.
//
// Lints run first; a fatal concern returns before any connection attempt
// and before onError can fire. For a one-shot left the right side is
// constructed only after the left peer is established, the single session
// result is returned directly, and the program state is dropped after the
// session so the standard streams stay usable until the last moment. For
// a multi-connect left the right side is reconstructed per accepted
// connection, per-session errors are routed to onError, and Serve returns
// nil once the accept stream ends.
func Serve(ctx context.Context, left, right endpoint.Specifier, opts *config.Options, logger *slog.Logger, onError func(error)) error {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if onError == nil {
		onError = func(error) {}
	}

	concerns := endpoint.CheckConfiguration(left, right, opts)
	for _, c := range concerns {
		if c.Severity == endpoint.SeverityWarning {
			logger.Warn(c.Message)
		}
	}
	if err := endpoint.FirstFatal(concerns); err != nil {
		countError(err)
		return err
	}

	logger.Info("serving",
		"left", left.String(),
		"right", right.String())

	ps := endpoint.NewProgramState(logger)
	defer ps.Close()

	leftC := left.Construct(ctx, ps, opts)
	if opts.Oneshot {
		leftC = peer.Once(leftC.FirstConn())
	}

	if !leftC.IsMulti() {
		return serveOnce(ctx, leftC, right, ps, opts, logger)
	}

	var wg sync.WaitGroup
	for res := range leftC.Stream(ctx) {
		if res.Err != nil {
			countError(res.Err)
			onError(res.Err)
			continue
		}
		leftPeer := res.Peer
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer recovery.RecoverWithLog(logger, "session.Serve.session")

			rightPeer, err := right.Construct(ctx, ps, opts).FirstConn()(ctx)
			if err != nil {
				leftPeer.Close()
				countError(err)
				onError(err)
				return
			}
			if err := New(leftPeer, rightPeer, opts, logger).Run(ctx); err != nil {
				countError(err)
				onError(err)
			}
		}()
	}
	wg.Wait()
	return nil
}

// serveOnce runs the single-session path. The caller's deferred program
// state close runs after the session completes, never before.
func serveOnce(ctx context.Context, leftC peer.Constructor, right endpoint.Specifier, ps *endpoint.ProgramState, opts *config.Options, logger *slog.Logger) error {
	leftPeer, err := leftC.FirstConn()(ctx)
	if err != nil {
		countError(err)
		return err
	}

	rightPeer, err := right.Construct(ctx, ps, opts).FirstConn()(ctx)
	if err != nil {
		leftPeer.Close()
		countError(err)
		return err
	}

	if err := New(leftPeer, rightPeer, opts, logger).Run(ctx); err != nil {
		countError(err)
		return err
	}
	return nil
}

func countError(err error) {
	metrics.Default().ErrorsTotal.WithLabelValues(errkind.Of(err).String()).Inc()
}
