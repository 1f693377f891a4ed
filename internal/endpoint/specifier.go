// Package endpoint implements the specifier tree: parsed endpoint
// descriptions that construct peers. A textual specifier such as
// ws-listen:tcp-l:127.0.0.1:8080 parses into a tree of Specifier nodes
// (WsUpgrade wrapping TCPListen); constructing the tree yields a
// peer.Constructor producing one or many connections.
package endpoint

import (
	"context"

	"github.com/postalsys/wscat/internal/config"
	"github.com/postalsys/wscat/internal/peer"
)

// Kind coarsely classifies specifiers for lint checks.
type Kind int

const (
	// KindOther covers everything without singleton constraints.
	KindOther Kind = iota
	// KindStdio marks consumers of the process's standard streams.
	KindStdio
	// KindReuser marks connection-reuse nodes tied to ProgramState.
	KindReuser
)

// String returns the kind's label.
func (k Kind) String() string {
	switch k {
	case KindStdio:
		return "stdio"
	case KindReuser:
		return "reuser"
	default:
		return "other"
	}
}

// OneInfo is the introspection record of a single tree node.
type OneInfo struct {
	Multiconnect    bool
	UsesGlobalState bool
	Kind            Kind
}

// Info is a linked chain of node records from a node down to its leaf.
type Info struct {
	OneInfo
	Sub *Info
}

// Collect flattens the chain from outermost to innermost. Its length
// equals the tree depth.
func (i *Info) Collect() []OneInfo {
	var out []OneInfo
	for n := i; n != nil; n = n.Sub {
		out = append(out, n.OneInfo)
	}
	return out
}

// Specifier is a node in the endpoint tree.
//
// Construct returns immediately; all I/O is deferred into the returned
// constructor's future or stream. ProgramState is only touched inside
// Construct calls and the futures they return, both of which serialize
// access through the state's own lock.
type Specifier interface {
	Construct(ctx context.Context, ps *ProgramState, opts *config.Options) peer.Constructor

	// IsMulticonnect reports whether constructing yields a stream of peers
	// (listeners) rather than a single future.
	IsMulticonnect() bool

	// UsesGlobalState reports whether the node reads or mutates
	// process-wide singletons (stdio claim, connection reuser).
	UsesGlobalState() bool

	// Kind classifies the node for lint checks.
	Kind() Kind

	// Info returns the introspection chain for this node and its
	// descendants, outermost first.
	Info() *Info

	// String prints the canonical textual form; Parse(String()) yields an
	// equivalent tree.
	String() string
}

// leafInfo builds the info chain for a terminal specifier.
func leafInfo(s Specifier) *Info {
	return &Info{OneInfo: OneInfo{
		Multiconnect:    s.IsMulticonnect(),
		UsesGlobalState: s.UsesGlobalState(),
		Kind:            s.Kind(),
	}}
}

// wrapInfo builds the info chain for a wrapping specifier.
func wrapInfo(s Specifier, inner Specifier) *Info {
	info := leafInfo(s)
	info.Sub = inner.Info()
	return info
}
