// Package errkind classifies wscat errors by the stage that produced them.
//
// Parse and Configuration errors surface before any connection attempt;
// Connect and Handshake errors fail their peer constructor element;
// IO, Protocol and Policy errors fail the transfer that observed them.
package errkind

import (
	"errors"
	"fmt"
)

// Kind identifies the stage an error originated from.
type Kind int

const (
	// Unknown is the zero value for unclassified errors.
	Unknown Kind = iota
	// Parse indicates bad specifier text.
	Parse
	// Configuration indicates a lint failure over a specifier pair.
	Configuration
	// Connect indicates a transport establishment failure.
	Connect
	// Handshake indicates a WebSocket or TLS upgrade failure.
	Handshake
	// IO indicates a mid-stream read or write failure.
	IO
	// Protocol indicates a framing or UTF-8 violation.
	Protocol
	// Policy indicates a configured limit was hit, such as a ping timeout.
	Policy
)

// String returns the kind's label.
func (k Kind) String() string {
	switch k {
	case Parse:
		return "parse"
	case Configuration:
		return "configuration"
	case Connect:
		return "connect"
	case Handshake:
		return "handshake"
	case IO:
		return "io"
	case Protocol:
		return "protocol"
	case Policy:
		return "policy"
	default:
		return "unknown"
	}
}

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string {
	return e.err.Error()
}

func (e *kindError) Unwrap() error {
	return e.err
}

// Wrap classifies err with the given kind. A nil err returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// Errorf formats a new classified error. The format string supports %w.
func Errorf(kind Kind, format string, args ...interface{}) error {
	return &kindError{kind: kind, err: fmt.Errorf(format, args...)}
}

// Of returns the kind of err, or Unknown if it carries no classification.
// The innermost classification wins, matching where the error originated.
func Of(err error) Kind {
	kind := Unknown
	for err != nil {
		var ke *kindError
		if !errors.As(err, &ke) {
			break
		}
		kind = ke.kind
		err = ke.err
	}
	return kind
}
