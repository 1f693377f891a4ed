package endpoint

import (
	"context"
	"testing"
	"time"

	"github.com/postalsys/wscat/internal/config"
	"github.com/postalsys/wscat/internal/errkind"
)

func TestStdio_SecondClaimFails(t *testing.T) {
	ps := NewProgramState(nil)
	defer ps.Close()
	opts := config.Default()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first := (&Stdio{}).Construct(ctx, ps, opts)
	if _, err := first.FirstConn()(ctx); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	second := (&Stdio{}).Construct(ctx, ps, opts)
	_, err := second.FirstConn()(ctx)
	if err == nil {
		t.Fatal("expected second stdio claim to fail")
	}
	if errkind.Of(err) != errkind.Configuration {
		t.Errorf("error kind = %v, want configuration", errkind.Of(err))
	}
}

func TestStdio_Introspection(t *testing.T) {
	s := &Stdio{}
	if s.Kind() != KindStdio {
		t.Error("stdio must carry the stdio type tag")
	}
	if !s.UsesGlobalState() {
		t.Error("stdio uses the process-wide claim")
	}
	if s.IsMulticonnect() {
		t.Error("stdio serves a single connection")
	}

	th := &ThreadedStdio{}
	if th.Kind() != KindStdio {
		t.Error("threadedstdio must carry the stdio type tag for lints")
	}
	if th.UsesGlobalState() {
		t.Error("threadedstdio needs no global claim")
	}
}
