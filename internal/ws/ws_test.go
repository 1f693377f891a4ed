package ws

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/postalsys/wscat/internal/config"
	"github.com/postalsys/wscat/internal/errkind"
	"github.com/postalsys/wscat/internal/peer"
)

type tcpReadHalf struct{ conn *net.TCPConn }

func (h tcpReadHalf) Read(p []byte) (int, error) { return h.conn.Read(p) }
func (h tcpReadHalf) Close() error               { return h.conn.CloseRead() }

type tcpWriteHalf struct{ conn *net.TCPConn }

func (h tcpWriteHalf) Write(p []byte) (int, error) { return h.conn.Write(p) }
func (h tcpWriteHalf) Close() error                { return h.conn.Close() }

func tcpPeer(c net.Conn) peer.Peer {
	tcp := c.(*net.TCPConn)
	return peer.New(tcpReadHalf{tcp}, tcpWriteHalf{tcp})
}

// http1Client builds an HTTP client that dials through the given function.
func http1Client(dial func(ctx context.Context, network, addr string) (net.Conn, error)) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext:       dial,
			DisableKeepAlives: true,
		},
	}
}

// tcpPair returns two connected TCP endpoints plus the listener address.
func tcpPair(t *testing.T) (client net.Conn, server net.Conn, addr string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	var wg sync.WaitGroup
	var acceptErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		server, acceptErr = ln.Accept()
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	wg.Wait()
	if acceptErr != nil {
		t.Fatalf("accept: %v", acceptErr)
	}
	return client, server, ln.Addr().String()
}

// upgradeOverTCP runs UpgradeServer on the server side of a fresh TCP pair
// and connects a raw nhooyr client to the other side.
func upgradeOverTCP(t *testing.T, opts *config.Options, clientProto []string) (*websocket.Conn, peer.Peer) {
	t.Helper()

	clientConn, serverConn, _ := tcpPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var serverPeer peer.Peer
	var upgradeErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		serverPeer, upgradeErr = UpgradeServer(ctx, tcpPeer(serverConn), opts, nil)
	}()

	dialCtx := func(ctx context.Context, network, addr string) (net.Conn, error) {
		return clientConn, nil
	}
	wsConn, _, err := websocket.Dial(ctx, "ws://wscat.test/", &websocket.DialOptions{
		HTTPClient:   http1Client(dialCtx),
		Subprotocols: clientProto,
	})
	if err != nil {
		t.Fatalf("client dial: %v", err)
	}

	wg.Wait()
	if upgradeErr != nil {
		t.Fatalf("UpgradeServer: %v", upgradeErr)
	}

	t.Cleanup(func() {
		wsConn.Close(websocket.StatusNormalClosure, "")
		serverPeer.Close()
	})
	return wsConn, serverPeer
}

func TestUpgradeServer_TextRoundtrip(t *testing.T) {
	opts := config.Default()
	opts.WebsocketTextMode = true

	wsConn, serverPeer := upgradeOverTCP(t, opts, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := wsConn.Write(ctx, websocket.MessageText, []byte("hello")); err != nil {
		t.Fatalf("client write: %v", err)
	}

	buf := make([]byte, 16)
	n, err := serverPeer.Reader.Read(buf)
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Errorf("server read %q, want hello", buf[:n])
	}

	if _, err := serverPeer.Writer.Write([]byte("hello")); err != nil {
		t.Fatalf("server write: %v", err)
	}
	typ, data, err := wsConn.Read(ctx)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Errorf("reply frame type = %v, want text", typ)
	}
	if string(data) != "hello" {
		t.Errorf("reply = %q, want hello", data)
	}
}

func TestUpgradeServer_ReadDebt(t *testing.T) {
	opts := config.Default()
	wsConn, serverPeer := upgradeOverTCP(t, opts, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload := bytes.Repeat([]byte("0123456789"), 10)
	if err := wsConn.Write(ctx, websocket.MessageBinary, payload); err != nil {
		t.Fatalf("client write: %v", err)
	}

	var got bytes.Buffer
	buf := make([]byte, 7)
	for got.Len() < len(payload) {
		n, err := serverPeer.Reader.Read(buf)
		if err != nil {
			t.Fatalf("server read after %d bytes: %v", got.Len(), err)
		}
		got.Write(buf[:n])
	}

	if !bytes.Equal(got.Bytes(), payload) {
		t.Error("reassembled payload does not match; bytes lost or duplicated")
	}
}

func TestUpgradeServer_ZeroMessageClosesReadHalf(t *testing.T) {
	opts := config.Default()
	wsConn, serverPeer := upgradeOverTCP(t, opts, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := wsConn.Write(ctx, websocket.MessageBinary, nil); err != nil {
		t.Fatalf("client write: %v", err)
	}

	buf := make([]byte, 4)
	if _, err := serverPeer.Reader.Read(buf); !errors.Is(err, io.EOF) {
		t.Errorf("read after zero-length message = %v, want io.EOF", err)
	}
}

func TestUpgradeServer_IgnoreZeroMessage(t *testing.T) {
	opts := config.Default()
	opts.WebsocketIgnoreZeromsg = true
	wsConn, serverPeer := upgradeOverTCP(t, opts, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := wsConn.Write(ctx, websocket.MessageBinary, nil); err != nil {
		t.Fatalf("client write: %v", err)
	}
	if err := wsConn.Write(ctx, websocket.MessageBinary, []byte("after")); err != nil {
		t.Fatalf("client write: %v", err)
	}

	buf := make([]byte, 16)
	n, err := serverPeer.Reader.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "after" {
		t.Errorf("read %q, want the message after the ignored zero-length one", buf[:n])
	}
}

func TestUpgradeServer_SubprotocolEcho(t *testing.T) {
	opts := config.Default()
	opts.WebsocketProtocol = "chat"

	wsConn, _ := upgradeOverTCP(t, opts, []string{"chat"})
	if got := wsConn.Subprotocol(); got != "chat" {
		t.Errorf("negotiated subprotocol = %q, want chat", got)
	}
}

func TestUpgradeServer_SubprotocolMismatch(t *testing.T) {
	opts := config.Default()
	opts.WebsocketProtocol = "chat"

	wsConn, _ := upgradeOverTCP(t, opts, []string{"other"})
	if got := wsConn.Subprotocol(); got != "" {
		t.Errorf("negotiated subprotocol = %q, want none for a mismatch", got)
	}
}

func TestUpgradeServer_HandshakeFailure(t *testing.T) {
	clientConn, serverConn, _ := tcpPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var upgradeErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, upgradeErr = UpgradeServer(ctx, tcpPeer(serverConn), config.Default(), nil)
	}()

	// A plain GET without upgrade headers must be rejected.
	if _, err := clientConn.Write([]byte("GET / HTTP/1.1\r\nHost: wscat.test\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	wg.Wait()

	if upgradeErr == nil {
		t.Fatal("expected handshake error")
	}
	if errkind.Of(upgradeErr) != errkind.Handshake {
		t.Errorf("error kind = %v, want handshake", errkind.Of(upgradeErr))
	}
}

func TestDialOverPeer_EndToEnd(t *testing.T) {
	clientConn, serverConn, _ := tcpPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts := config.Default()

	var serverPeer peer.Peer
	var serverErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		serverPeer, serverErr = UpgradeServer(ctx, tcpPeer(serverConn), opts, nil)
	}()

	clientPeer, err := DialOverPeer(ctx, tcpPeer(clientConn), "ws://wscat.test/", opts, nil)
	if err != nil {
		t.Fatalf("DialOverPeer: %v", err)
	}
	wg.Wait()
	if serverErr != nil {
		t.Fatalf("UpgradeServer: %v", serverErr)
	}

	if _, err := clientPeer.Writer.Write([]byte("ping")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	buf := make([]byte, 16)
	n, err := serverPeer.Reader.Read(buf)
	if err != nil || string(buf[:n]) != "ping" {
		t.Fatalf("server read = %q, %v; want ping", buf[:n], err)
	}

	if _, err := serverPeer.Writer.Write([]byte("pong")); err != nil {
		t.Fatalf("server write: %v", err)
	}
	n, err = clientPeer.Reader.Read(buf)
	if err != nil || string(buf[:n]) != "pong" {
		t.Fatalf("client read = %q, %v; want pong", buf[:n], err)
	}

	// Closing the client's write half sends a Close frame; the server's
	// read half observes EOF.
	clientPeer.Writer.Close()
	if _, err := serverPeer.Reader.Read(buf); !errors.Is(err, io.EOF) {
		t.Errorf("server read after client close = %v, want io.EOF", err)
	}
}

func TestDialOverPeer_RequiresURI(t *testing.T) {
	clientConn, serverConn, _ := tcpPair(t)
	defer clientConn.Close()
	defer serverConn.Close()

	_, err := DialOverPeer(context.Background(), tcpPeer(clientConn), "", config.Default(), nil)
	if err == nil {
		t.Fatal("expected error for empty URI")
	}
	if errkind.Of(err) != errkind.Configuration {
		t.Errorf("error kind = %v, want configuration", errkind.Of(err))
	}
}
