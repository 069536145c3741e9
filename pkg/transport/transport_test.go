package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"log"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestFrameCompressionRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("snapshot-"), 200)

	small, err := EncodeFrame([]byte("hi"), 64)
	if err != nil {
		t.Fatalf("encode small: %v", err)
	}
	if small[0] != frameRaw {
		t.Fatalf("small frame should stay raw, flag %d", small[0])
	}

	big, err := EncodeFrame(payload, 64)
	if err != nil {
		t.Fatalf("encode big: %v", err)
	}
	if big[0] != frameLZ4 {
		t.Fatalf("big frame should be compressed, flag %d", big[0])
	}
	if len(big) >= len(payload) {
		t.Fatalf("compressed frame not smaller: %d >= %d", len(big), len(payload))
	}

	for _, frame := range [][]byte{small, big} {
		if _, err := DecodeFrame(frame); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	got, _ := DecodeFrame(big)
	if !bytes.Equal(got, payload) {
		t.Fatal("decompressed payload mismatch")
	}
	if _, err := DecodeFrame([]byte{9, 1, 2}); !errors.Is(err, ErrBadFrame) {
		t.Fatalf("unknown flag err = %v", err)
	}
	if _, err := DecodeFrame([]byte{frameLZ4, 0xde, 0xad, 0xbe, 0xef}); !errors.Is(err, ErrBadFrame) {
		t.Fatalf("corrupt lz4 err = %v", err)
	}
}

func roundTrip(t *testing.T, network string) {
	t.Helper()
	opts := Options{CompressThreshold: 32}
	ln, err := Listen(network, "127.0.0.1:0", opts)
	if err != nil {
		t.Fatalf("listen %s: %v", network, err)
	}
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	dialer, err := NewDialer(network, ln.Addr().String(), opts)
	if err != nil {
		t.Fatalf("new dialer: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := dialer.Dial(ctx)
	if err != nil {
		t.Fatalf("dial %s: %v", network, err)
	}
	t.Cleanup(func() { client.Close() })

	var server Conn
	select {
	case server = <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatalf("%s accept timed out", network)
	}
	t.Cleanup(func() { server.Close() })

	big := bytes.Repeat([]byte{7}, 500)
	for _, msg := range [][]byte{[]byte("ping"), big} {
		if err := client.WriteFrame(msg); err != nil {
			t.Fatalf("write: %v", err)
		}
		got, err := server.ReadFrame()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if !bytes.Equal(got, msg) {
			t.Fatalf("%s frame mismatch: %d bytes", network, len(got))
		}
	}

	if err := server.WriteFrame([]byte("pong")); err != nil {
		t.Fatalf("server write: %v", err)
	}
	got, err := client.ReadFrame()
	if err != nil || string(got) != "pong" {
		t.Fatalf("client read = %q, %v", got, err)
	}

	client.Close()
	if err := client.WriteFrame([]byte("late")); !errors.Is(err, ErrClosed) {
		t.Fatalf("write after close err = %v", err)
	}
}

func TestTCPRoundTrip(t *testing.T) { roundTrip(t, "tcp") }

func TestWebSocketRoundTrip(t *testing.T) { roundTrip(t, "ws") }

func TestUnknownNetwork(t *testing.T) {
	if _, err := NewDialer("carrier-pigeon", "x", Options{}); !errors.Is(err, ErrUnknownNetwork) {
		t.Fatalf("dialer err = %v", err)
	}
	if _, err := Listen("carrier-pigeon", "x", Options{}); !errors.Is(err, ErrUnknownNetwork) {
		t.Fatalf("listen err = %v", err)
	}
}

// acceptOne 监听并返回第一个接入的连接
func acceptOne(t *testing.T, network string) (Listener, <-chan Conn) {
	t.Helper()
	ln, err := Listen(network, "127.0.0.1:0", Options{})
	if err != nil {
		t.Fatalf("listen %s: %v", network, err)
	}
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()
	return ln, accepted
}

func waitConn(t *testing.T, accepted <-chan Conn) Conn {
	t.Helper()
	select {
	case conn := <-accepted:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("accept timed out")
	}
	return nil
}

// expectBadThenGood 先读到若干坏帧，之后同一连接上的好帧仍能读出
func expectBadThenGood(t *testing.T, conn Conn, bad int, want string) {
	t.Helper()
	for i := 0; i < bad; i++ {
		if _, err := conn.ReadFrame(); !errors.Is(err, ErrBadFrame) {
			t.Fatalf("frame %d: err = %v, want ErrBadFrame", i, err)
		}
	}
	got, err := conn.ReadFrame()
	if err != nil {
		t.Fatalf("read after bad frame: %v", err)
	}
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestStreamSurvivesBadFrame(t *testing.T) {
	ln, accepted := acceptOne(t, "tcp")

	raw, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()
	server := waitConn(t, accepted)

	good, err := EncodeFrame([]byte("hello"), 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, frame := range [][]byte{{0x07, 'x', 'y'}, {frameLZ4, 0xde, 0xad, 0xbe, 0xef}, good} {
		prefix := make([]byte, 4)
		binary.BigEndian.PutUint32(prefix, uint32(len(frame)))
		if _, err := raw.Write(append(prefix, frame...)); err != nil {
			t.Fatal(err)
		}
	}

	expectBadThenGood(t, server, 2, "hello")
}

func TestWebSocketSurvivesTextMessage(t *testing.T) {
	ln, accepted := acceptOne(t, "ws")

	ws, resp, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer ws.Close()
	server := waitConn(t, accepted)

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"x":1}`)); err != nil {
		t.Fatal(err)
	}
	good, _ := EncodeFrame([]byte("hello"), 0)
	if err := ws.WriteMessage(websocket.BinaryMessage, good); err != nil {
		t.Fatal(err)
	}

	expectBadThenGood(t, server, 1, "hello")
}

// logSink 把每次日志写入转发到通道
type logSink chan string

func (s logSink) Write(p []byte) (int, error) {
	s <- string(p)
	return len(p), nil
}

func TestSendFailureUsesInjectedLogger(t *testing.T) {
	local, remote := net.Pipe()
	remote.Close()

	sink := make(logSink, 4)
	conn := newStreamConn(local, Options{Logger: log.New(sink, "[test] ", 0)})
	defer conn.Close()

	if err := conn.WriteFrame([]byte("lost")); err != nil {
		t.Fatalf("write queued: %v", err)
	}
	select {
	case line := <-sink:
		if !strings.HasPrefix(line, "[test] ") || !strings.Contains(line, "发送数据失败") {
			t.Fatalf("log line %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send failure not logged")
	}
}
