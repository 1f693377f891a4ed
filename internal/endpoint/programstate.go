package endpoint

import (
	"log/slog"
	"sync"

	"github.com/postalsys/wscat/internal/errkind"
	"github.com/postalsys/wscat/internal/logging"
)

// ProgramState holds process-wide state for singleton resources: the stdio
// claim (at most one specifier may own the standard streams per run), saved
// terminal state, and shared sub-connections for reuse specifiers.
//
// A ProgramState is created per invocation and must be closed only after
// the last session completes, so the terminal is restored at the last
// possible moment.
type ProgramState struct {
	logger *slog.Logger

	mu           sync.Mutex
	stdioClaimed bool
	restoreTerm  func() error
	hubs         map[string]*reuseHub
	closed       bool
}

// NewProgramState creates the per-invocation state.
func NewProgramState(logger *slog.Logger) *ProgramState {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &ProgramState{
		logger: logger,
		hubs:   make(map[string]*reuseHub),
	}
}

// Logger returns the logger shared with constructed peers.
func (ps *ProgramState) Logger() *slog.Logger {
	return ps.logger
}

// claimStdio records ownership of the standard streams. A second claim in
// the same run fails.
func (ps *ProgramState) claimStdio() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.stdioClaimed {
		return errkind.Errorf(errkind.Configuration, "standard streams are already claimed by another specifier")
	}
	ps.stdioClaimed = true
	return nil
}

// setTermRestore registers the function that puts the terminal back into
// its saved state. Only the first registration wins.
func (ps *ProgramState) setTermRestore(restore func() error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.restoreTerm == nil {
		ps.restoreTerm = restore
	}
}

// hub returns the reuse hub for key, creating it on first use. The dial
// function establishes the shared sub-connection lazily.
func (ps *ProgramState) hub(key string, queueLen int, dial hubDialFunc) *reuseHub {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if h, ok := ps.hubs[key]; ok {
		return h
	}
	h := newReuseHub(queueLen, dial, ps.logger)
	ps.hubs[key] = h
	return h
}

// Close tears down shared sub-connections and restores the terminal.
// Terminal restoration happens last, mirroring how the standard streams
// must stay usable until every session has finished.
func (ps *ProgramState) Close() error {
	ps.mu.Lock()
	if ps.closed {
		ps.mu.Unlock()
		return nil
	}
	ps.closed = true
	hubs := ps.hubs
	restore := ps.restoreTerm
	ps.hubs = nil
	ps.mu.Unlock()

	var firstErr error
	for _, h := range hubs {
		if err := h.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if restore != nil {
		if err := restore(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
