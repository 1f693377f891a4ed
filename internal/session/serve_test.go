package session

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/postalsys/wscat/internal/config"
	"github.com/postalsys/wscat/internal/endpoint"
	"github.com/postalsys/wscat/internal/errkind"
)

// freePort reserves an ephemeral port and releases it for the test to use.
func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func parseSpec(t *testing.T, s string) endpoint.Specifier {
	t.Helper()
	spec, err := endpoint.Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return spec
}

// waitListening polls until the address accepts connections.
func waitListening(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("nothing listening on %s", addr)
}

func TestServe_LintFailureBeforeAnyConnection(t *testing.T) {
	var onErrorCalls atomic.Int32
	onError := func(error) { onErrorCalls.Add(1) }

	err := Serve(context.Background(),
		parseSpec(t, "stdio:"),
		parseSpec(t, "stdio:"),
		config.Default(), nil, onError)

	if err == nil {
		t.Fatal("expected lint failure for two stdio consumers")
	}
	if errkind.Of(err) != errkind.Configuration {
		t.Errorf("error kind = %v, want configuration", errkind.Of(err))
	}
	if onErrorCalls.Load() != 0 {
		t.Error("onError must not fire for configuration failures")
	}
}

func TestServe_ConnectFailure(t *testing.T) {
	// Nothing listens on the reserved port; the connect must fail before
	// the right side is ever constructed.
	addr := freePort(t)

	err := Serve(context.Background(),
		parseSpec(t, "tcp:"+addr),
		parseSpec(t, "stdio:"),
		config.Default(), nil, nil)

	if err == nil {
		t.Fatal("expected connect error")
	}
	if errkind.Of(err) != errkind.Connect {
		t.Errorf("error kind = %v, want connect", errkind.Of(err))
	}
}

func TestServe_WsListenMirrorEcho(t *testing.T) {
	addr := freePort(t)

	opts := config.Default()
	opts.WebsocketTextMode = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx,
			parseSpec(t, "ws-listen:tcp-l:"+addr),
			parseSpec(t, "mirror:"),
			opts, nil, nil)
	}()
	waitListening(t, addr)

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	conn, _, err := websocket.Dial(dialCtx, "ws://"+addr+"/", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	if err := conn.Write(dialCtx, websocket.MessageText, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	typ, data, err := conn.Read(dialCtx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Errorf("echo frame type = %v, want text", typ)
	}
	if string(data) != "hello" {
		t.Errorf("echo = %q, want hello", data)
	}

	conn.Close(websocket.StatusNormalClosure, "")
	cancel()

	select {
	case err := <-serveDone:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after the listener context was cancelled")
	}
}

func TestServe_OneshotLiteralReply(t *testing.T) {
	addr := freePort(t)

	opts := config.Default()
	opts.WebsocketTextMode = true
	opts.Oneshot = true

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(context.Background(),
			parseSpec(t, "ws-listen:tcp-l:"+addr),
			parseSpec(t, "literalreply:PONG"),
			opts, nil, nil)
	}()
	waitListening(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws://"+addr+"/", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "PONG" {
		t.Errorf("reply = %q, want PONG", data)
	}
	conn.Close(websocket.StatusNormalClosure, "")

	select {
	case err := <-serveDone:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after the oneshot session")
	}

	// The listener must be gone after the first accepted connection.
	if conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond); err == nil {
		conn.Close()
		t.Error("listener still accepting after oneshot session")
	}
}

func TestServe_MultiConnectErrorsReportedAndStreamContinues(t *testing.T) {
	addr := freePort(t)
	deadAddr := freePort(t)

	var onErrorCalls atomic.Int32
	onError := func(err error) {
		if errkind.Of(err) != errkind.Connect {
			panic(fmt.Sprintf("unexpected error kind: %v", err))
		}
		onErrorCalls.Add(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx,
			parseSpec(t, "tcp-l:"+addr),
			parseSpec(t, "tcp:"+deadAddr),
			config.Default(), nil, onError)
	}()
	waitListening(t, addr)

	// Two clients; each right-side connect fails, each failure is
	// reported, and the accept loop keeps running.
	for i := 0; i < 2; i++ {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			t.Fatalf("client %d dial: %v", i, err)
		}
		defer conn.Close()
	}

	deadline := time.Now().Add(5 * time.Second)
	for onErrorCalls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if got := onErrorCalls.Load(); got < 2 {
		t.Fatalf("onError fired %d times, want 2", got)
	}

	cancel()
	select {
	case err := <-serveDone:
		if err != nil {
			t.Errorf("Serve() error = %v, want nil for multi-connect mode", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestServe_ExitOnEOFTearsDownBothSides(t *testing.T) {
	addr := freePort(t)
	backendAddr := freePort(t)

	backend, err := net.Listen("tcp", backendAddr)
	if err != nil {
		t.Fatalf("backend listen: %v", err)
	}
	defer backend.Close()

	backendClosed := make(chan struct{})
	go func() {
		conn, err := backend.Accept()
		if err != nil {
			return
		}
		// Wait for the peer to drop us once the client goes away.
		buf := make([]byte, 1)
		for {
			if _, err := conn.Read(buf); err != nil {
				break
			}
		}
		conn.Close()
		close(backendClosed)
	}()

	opts := config.Default()
	opts.ExitOnEOF = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx,
			parseSpec(t, "ws-listen:tcp-l:"+addr),
			parseSpec(t, "tcp:"+backendAddr),
			opts, nil, nil)
	}()
	waitListening(t, addr)

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	conn, _, err := websocket.Dial(dialCtx, "ws://"+addr+"/", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	// Closing the client ends the forward direction; exit_on_eof must tear
	// down the backend side too.
	conn.Close(websocket.StatusNormalClosure, "")

	select {
	case <-backendClosed:
	case <-time.After(5 * time.Second):
		t.Fatal("backend connection was not torn down after the client closed")
	}

	cancel()
	select {
	case <-serveDone:
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServe_NilOnError(t *testing.T) {
	// A nil onError must not panic even when sessions fail.
	err := Serve(context.Background(),
		parseSpec(t, "tcp:"+freePort(t)),
		parseSpec(t, "mirror:"),
		config.Default(), nil, nil)
	if err == nil {
		t.Fatal("expected connect error")
	}
}
