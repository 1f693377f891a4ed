package endpoint

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/google/shlex"

	"github.com/postalsys/wscat/internal/config"
	"github.com/postalsys/wscat/internal/errkind"
	"github.com/postalsys/wscat/internal/peer"
	"github.com/postalsys/wscat/internal/recovery"
)

// Exec runs a child process and couples its stdin/stdout to the session.
// exec:cmdline — the command line is split shell-style; configured
// exec_args are appended.
type Exec struct {
	Cmd string
}

func (s *Exec) Construct(ctx context.Context, ps *ProgramState, opts *config.Options) peer.Constructor {
	logger := ps.Logger()
	cmdline := s.Cmd
	extra := opts.ExecArgs
	setEnv := opts.ExecSetEnv
	return peer.Once(func(ctx context.Context) (peer.Peer, error) {
		argv, err := shlex.Split(cmdline)
		if err != nil {
			return peer.Peer{}, errkind.Errorf(errkind.Parse, "exec command %q: %w", cmdline, err)
		}
		if len(argv) == 0 {
			return peer.Peer{}, errkind.Errorf(errkind.Parse, "exec: empty command")
		}
		argv = append(argv, extra...)
		return startProcessPeer(argv[0], argv[1:], setEnv, logger)
	})
}

func (s *Exec) IsMulticonnect() bool  { return false }
func (s *Exec) UsesGlobalState() bool { return false }
func (s *Exec) Kind() Kind            { return KindOther }
func (s *Exec) Info() *Info           { return leafInfo(s) }
func (s *Exec) String() string        { return "exec:" + s.Cmd }

// ShC runs a command line through the shell. sh-c:cmdline
type ShC struct {
	Cmd string
}

func (s *ShC) Construct(ctx context.Context, ps *ProgramState, opts *config.Options) peer.Constructor {
	logger := ps.Logger()
	cmdline := s.Cmd
	setEnv := opts.ExecSetEnv
	return peer.Once(func(ctx context.Context) (peer.Peer, error) {
		return startProcessPeer("sh", []string{"-c", cmdline}, setEnv, logger)
	})
}

func (s *ShC) IsMulticonnect() bool  { return false }
func (s *ShC) UsesGlobalState() bool { return false }
func (s *ShC) Kind() Kind            { return KindOther }
func (s *ShC) Info() *Info           { return leafInfo(s) }
func (s *ShC) String() string        { return "sh-c:" + s.Cmd }

// startProcessPeer launches the child and returns a peer over its pipes.
// The child's stderr passes through to the process's own stderr.
func startProcessPeer(name string, args []string, setEnv bool, logger *slog.Logger) (peer.Peer, error) {
	cmd := exec.Command(name, args...)
	cmd.Stderr = os.Stderr
	if setEnv {
		cmd.Env = append(os.Environ(), "WSCAT=1")
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return peer.Peer{}, errkind.Wrap(errkind.Connect, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return peer.Peer{}, errkind.Wrap(errkind.Connect, err)
	}
	if err := cmd.Start(); err != nil {
		return peer.Peer{}, errkind.Errorf(errkind.Connect, "start %s: %w", name, err)
	}
	logger.Debug("child process started", "command", name, "pid", cmd.Process.Pid)

	pp := &processPeer{cmd: cmd, stdin: stdin, stdout: stdout, logger: logger}
	return peer.New(&processReadHalf{pp}, &processWriteHalf{pp}), nil
}

// processPeer tracks the child so it is reaped once both halves are done.
type processPeer struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	logger *slog.Logger

	mu   sync.Mutex
	refs int
	once sync.Once
}

func (pp *processPeer) release() {
	pp.mu.Lock()
	pp.refs++
	done := pp.refs == 2
	pp.mu.Unlock()
	if done {
		pp.once.Do(func() {
			go func() {
				defer recovery.RecoverWithLog(pp.logger, "endpoint.processPeer.wait")
				pp.cmd.Wait()
			}()
		})
	}
}

type processReadHalf struct{ pp *processPeer }

func (h *processReadHalf) Read(p []byte) (int, error) {
	n, err := h.pp.stdout.Read(p)
	if err != nil && err != io.EOF {
		return n, errkind.Wrap(errkind.IO, err)
	}
	return n, err
}

func (h *processReadHalf) Close() error {
	err := h.pp.stdout.Close()
	h.pp.release()
	return err
}

type processWriteHalf struct{ pp *processPeer }

func (h *processWriteHalf) Write(p []byte) (int, error) {
	n, err := h.pp.stdin.Write(p)
	if err != nil {
		return n, errkind.Wrap(errkind.IO, err)
	}
	return n, nil
}

// Close closes the child's stdin, signaling end of input.
func (h *processWriteHalf) Close() error {
	err := h.pp.stdin.Close()
	h.pp.release()
	return err
}
