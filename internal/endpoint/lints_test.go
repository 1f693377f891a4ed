package endpoint

import (
	"strings"
	"testing"

	"github.com/postalsys/wscat/internal/config"
	"github.com/postalsys/wscat/internal/errkind"
)

func mustParse(t *testing.T, s string) Specifier {
	t.Helper()
	spec, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return spec
}

func fatalCount(concerns []Concern) int {
	n := 0
	for _, c := range concerns {
		if c.Severity == SeverityFatal {
			n++
		}
	}
	return n
}

func TestCheckConfiguration_Clean(t *testing.T) {
	concerns := CheckConfiguration(
		mustParse(t, "ws-listen:tcp-l:127.0.0.1:0"),
		mustParse(t, "mirror:"),
		config.Default())
	if len(concerns) != 0 {
		t.Errorf("expected no concerns, got %v", concerns)
	}
}

func TestCheckConfiguration_StdioCollision(t *testing.T) {
	tests := []struct {
		name        string
		left, right string
	}{
		{"two stdio", "stdio:", "stdio:"},
		{"stdio and threadedstdio", "stdio:", "threadedstdio:"},
		{"wrapper left and one stdio", "ws-c:tcp:192.0.2.1:80", "stdio:"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			concerns := CheckConfiguration(
				mustParse(t, tc.left),
				mustParse(t, tc.right),
				config.Default())
			fatal := fatalCount(concerns)

			wantFatal := tc.name != "wrapper left and one stdio"
			if wantFatal && fatal == 0 {
				t.Errorf("expected fatal stdio collision, got %v", concerns)
			}
			if !wantFatal && fatal != 0 {
				t.Errorf("single stdio consumer must be fine, got %v", concerns)
			}
		})
	}
}

func TestCheckConfiguration_ReuserPlacement(t *testing.T) {
	opts := config.Default()

	// Outermost on the right: fine.
	concerns := CheckConfiguration(
		mustParse(t, "tcp-l:127.0.0.1:0"),
		mustParse(t, "reuse:tcp:192.0.2.1:80"),
		opts)
	if fatalCount(concerns) != 0 {
		t.Errorf("outermost right-side reuser must pass, got %v", concerns)
	}

	// On the left: fatal.
	concerns = CheckConfiguration(
		mustParse(t, "reuse:tcp:192.0.2.1:80"),
		mustParse(t, "mirror:"),
		opts)
	if fatalCount(concerns) == 0 {
		t.Error("left-side reuser must be fatal")
	}

	// Nested on the right: fatal.
	concerns = CheckConfiguration(
		mustParse(t, "tcp-l:127.0.0.1:0"),
		mustParse(t, "reconnect:reuse:tcp:192.0.2.1:80"),
		opts)
	if fatalCount(concerns) == 0 {
		t.Error("nested right-side reuser must be fatal")
	}
}

func TestCheckConfiguration_NeedlessMulticonnect(t *testing.T) {
	opts := config.Default()
	opts.Oneshot = true

	concerns := CheckConfiguration(
		mustParse(t, "tcp-l:127.0.0.1:0"),
		mustParse(t, "mirror:"),
		opts)

	found := false
	for _, c := range concerns {
		if c.Severity == SeverityWarning && strings.Contains(c.Message, "oneshot") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected oneshot warning, got %v", concerns)
	}
	if fatalCount(concerns) != 0 {
		t.Errorf("oneshot over a listener is a warning, not fatal: %v", concerns)
	}
}

func TestCheckConfiguration_DegenerateUnidirectional(t *testing.T) {
	opts := config.Default()
	opts.Unidirectional = true
	opts.UnidirectionalReverse = true

	concerns := CheckConfiguration(
		mustParse(t, "tcp:192.0.2.1:1"),
		mustParse(t, "mirror:"),
		opts)

	found := false
	for _, c := range concerns {
		if c.Severity == SeverityWarning && strings.Contains(c.Message, "immediately close") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected degenerate unidirectional warning, got %v", concerns)
	}
}

func TestFirstFatal(t *testing.T) {
	if err := FirstFatal(nil); err != nil {
		t.Errorf("FirstFatal(nil) = %v, want nil", err)
	}
	if err := FirstFatal([]Concern{{Severity: SeverityWarning, Message: "meh"}}); err != nil {
		t.Errorf("warnings must not block serving, got %v", err)
	}

	err := FirstFatal([]Concern{
		{Severity: SeverityWarning, Message: "meh"},
		{Severity: SeverityFatal, Message: "nope"},
	})
	if err == nil {
		t.Fatal("expected error for fatal concern")
	}
	if errkind.Of(err) != errkind.Configuration {
		t.Errorf("error kind = %v, want configuration", errkind.Of(err))
	}
}
