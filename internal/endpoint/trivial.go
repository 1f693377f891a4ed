package endpoint

import (
	"context"
	"io"
	"strings"

	"github.com/postalsys/wscat/internal/config"
	"github.com/postalsys/wscat/internal/peer"
)

// Mirror echoes everything written to it back to its reader. mirror:
type Mirror struct{}

func (s *Mirror) Construct(ctx context.Context, ps *ProgramState, opts *config.Options) peer.Constructor {
	return peer.Once(func(ctx context.Context) (peer.Peer, error) {
		pr, pw := io.Pipe()
		return peer.New(pr, pw), nil
	})
}

func (s *Mirror) IsMulticonnect() bool  { return false }
func (s *Mirror) UsesGlobalState() bool { return false }
func (s *Mirror) Kind() Kind            { return KindOther }
func (s *Mirror) Info() *Info           { return leafInfo(s) }
func (s *Mirror) String() string        { return "mirror:" }

// Literal serves its payload once and discards all input. literal:text
type Literal struct {
	Data string
}

func (s *Literal) Construct(ctx context.Context, ps *ProgramState, opts *config.Options) peer.Constructor {
	data := s.Data
	return peer.Once(func(ctx context.Context) (peer.Peer, error) {
		return peer.New(io.NopCloser(strings.NewReader(data)), discardHalf{}), nil
	})
}

func (s *Literal) IsMulticonnect() bool  { return false }
func (s *Literal) UsesGlobalState() bool { return false }
func (s *Literal) Kind() Kind            { return KindOther }
func (s *Literal) Info() *Info           { return leafInfo(s) }
func (s *Literal) String() string        { return "literal:" + s.Data }

// LiteralReply serves its payload to every connecting peer and discards
// input. literalreply:text
type LiteralReply struct {
	Data string
}

func (s *LiteralReply) Construct(ctx context.Context, ps *ProgramState, opts *config.Options) peer.Constructor {
	data := s.Data
	return peer.Once(func(ctx context.Context) (peer.Peer, error) {
		return peer.New(io.NopCloser(strings.NewReader(data)), discardHalf{}), nil
	})
}

func (s *LiteralReply) IsMulticonnect() bool  { return false }
func (s *LiteralReply) UsesGlobalState() bool { return false }
func (s *LiteralReply) Kind() Kind            { return KindOther }
func (s *LiteralReply) Info() *Info           { return leafInfo(s) }
func (s *LiteralReply) String() string        { return "literalreply:" + s.Data }

type discardHalf struct{}

func (discardHalf) Write(p []byte) (int, error) { return len(p), nil }
func (discardHalf) Close() error                { return nil }
