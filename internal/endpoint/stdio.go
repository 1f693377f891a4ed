package endpoint

import (
	"context"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/postalsys/wscat/internal/config"
	"github.com/postalsys/wscat/internal/peer"
	"github.com/postalsys/wscat/internal/recovery"
)

// Stdio couples the session to the process's standard streams. stdio:
//
// At most one specifier per run may claim the standard streams; the claim
// lives in ProgramState and is checked during Construct. When stdin is a
// terminal its state is saved and restored when the ProgramState closes,
// after the last session.
type Stdio struct{}

func (s *Stdio) Construct(ctx context.Context, ps *ProgramState, opts *config.Options) peer.Constructor {
	if err := ps.claimStdio(); err != nil {
		return peer.OnceErr(err)
	}

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		if st, err := term.GetState(fd); err == nil {
			ps.setTermRestore(func() error { return term.Restore(fd, st) })
		}
	}

	return peer.Once(func(ctx context.Context) (peer.Peer, error) {
		return peer.New(stdinHalf{}, stdoutHalf{}), nil
	})
}

func (s *Stdio) IsMulticonnect() bool  { return false }
func (s *Stdio) UsesGlobalState() bool { return true }
func (s *Stdio) Kind() Kind            { return KindStdio }
func (s *Stdio) Info() *Info           { return leafInfo(s) }
func (s *Stdio) String() string        { return "stdio:" }

// stdinHalf reads the process's standard input. Closing it does not close
// the real descriptor; the stream belongs to the process, not the session.
type stdinHalf struct{}

func (stdinHalf) Read(p []byte) (int, error) { return os.Stdin.Read(p) }
func (stdinHalf) Close() error               { return nil }

type stdoutHalf struct{}

func (stdoutHalf) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdoutHalf) Close() error                { return nil }

// ThreadedStdio pumps standard input through a dedicated goroutine and a
// pipe, so session teardown is never wedged behind a blocking terminal
// read. threadedstdio:
type ThreadedStdio struct{}

func (s *ThreadedStdio) Construct(ctx context.Context, ps *ProgramState, opts *config.Options) peer.Constructor {
	logger := ps.Logger()
	return peer.Once(func(ctx context.Context) (peer.Peer, error) {
		pr, pw := io.Pipe()
		go func() {
			defer recovery.RecoverWithLog(logger, "endpoint.ThreadedStdio.pump")
			_, err := io.Copy(pw, os.Stdin)
			pw.CloseWithError(err)
		}()
		return peer.New(pr, stdoutHalf{}), nil
	})
}

func (s *ThreadedStdio) IsMulticonnect() bool  { return false }
func (s *ThreadedStdio) UsesGlobalState() bool { return false }
func (s *ThreadedStdio) Kind() Kind            { return KindStdio }
func (s *ThreadedStdio) Info() *Info           { return leafInfo(s) }
func (s *ThreadedStdio) String() string        { return "threadedstdio:" }
