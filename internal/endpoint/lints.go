package endpoint

import (
	"fmt"

	"github.com/postalsys/wscat/internal/config"
	"github.com/postalsys/wscat/internal/errkind"
)

// Severity grades a configuration concern.
type Severity int

const (
	// SeverityWarning marks compositions that work but are probably not
	// what the user meant.
	SeverityWarning Severity = iota
	// SeverityFatal marks illegal compositions; serving must not start.
	SeverityFatal
)

func (s Severity) String() string {
	if s == SeverityFatal {
		return "fatal"
	}
	return "warning"
}

// Concern is one finding of the configuration linter.
type Concern struct {
	Severity Severity
	Message  string
}

func (c Concern) String() string {
	return fmt.Sprintf("%s: %s", c.Severity, c.Message)
}

// CheckConfiguration lints a left/right specifier pair against the
// options. Fatal concerns mean the pair must not be served.
func CheckConfiguration(left, right Specifier, opts *config.Options) []Concern {
	var concerns []Concern

	leftChain := left.Info().Collect()
	rightChain := right.Info().Collect()

	// One process has one set of standard streams; two claimants would
	// interleave arbitrarily.
	stdioCount := 0
	for _, info := range leftChain {
		if info.Kind == KindStdio {
			stdioCount++
		}
	}
	for _, info := range rightChain {
		if info.Kind == KindStdio {
			stdioCount++
		}
	}
	if stdioCount > 1 {
		concerns = append(concerns, Concern{
			Severity: SeverityFatal,
			Message:  fmt.Sprintf("%d specifiers claim the standard streams; at most one may", stdioCount),
		})
	}

	// A reuser shares one sub-connection across iterations of a
	// multi-connect left; anywhere else it cannot do its job.
	for _, info := range leftChain {
		if info.Kind == KindReuser {
			concerns = append(concerns, Concern{
				Severity: SeverityFatal,
				Message:  "connection reuse belongs on the right side, not the left",
			})
			break
		}
	}
	for i, info := range rightChain {
		if info.Kind == KindReuser && i > 0 {
			concerns = append(concerns, Concern{
				Severity: SeverityFatal,
				Message:  "connection reuse must be the outermost specifier on its side",
			})
			break
		}
	}

	if left.IsMulticonnect() && opts.Oneshot {
		concerns = append(concerns, Concern{
			Severity: SeverityWarning,
			Message:  "left side accepts multiple connections but oneshot is set; only the first will be served",
		})
	}

	if opts.Unidirectional && opts.UnidirectionalReverse {
		concerns = append(concerns, Concern{
			Severity: SeverityWarning,
			Message:  "both directions are suppressed; the session will open and immediately close",
		})
	}

	return concerns
}

// FirstFatal extracts the first fatal concern as a configuration error, or
// nil when serving may proceed.
func FirstFatal(concerns []Concern) error {
	for _, c := range concerns {
		if c.Severity == SeverityFatal {
			return errkind.Errorf(errkind.Configuration, "%s", c.Message)
		}
	}
	return nil
}
