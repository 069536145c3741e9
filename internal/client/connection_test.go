package client

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"statesync/pkg/protocol"
	"statesync/pkg/transport"
)

type managerHarness struct {
	m      *ConnectionManager
	loop   *testLoop
	sched  *fakeScheduler
	dialer *fakeDialer
	log    *eventLog
	opens  []bool
}

func newManagerHarness(t *testing.T, cfg ConnectionConfig) *managerHarness {
	t.Helper()
	h := &managerHarness{
		loop:   newTestLoop(),
		sched:  &fakeScheduler{},
		dialer: newFakeDialer(),
		log:    &eventLog{},
	}
	bus := NewEventBus(log.New(io.Discard, "", 0))
	h.log.record(bus, EventConnected, EventReconnecting, EventReconnected, EventDisconnected,
		EventRetriesExhausted, EventFatal)
	h.m = NewConnectionManager(cfg, h.dialer, h.sched, h.loop.post, bus, log.New(io.Discard, "", 0))
	h.m.OnOpen = func(reconnect bool) bool {
		h.opens = append(h.opens, reconnect)
		return false
	}
	t.Cleanup(h.m.Stop)
	return h
}

func testConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		AutoReconnect:     true,
		MaxAttempts:       3,
		Backoff:           Backoff{Base: time.Second, Cap: 30 * time.Second, Multiplier: 2},
		HeartbeatInterval: 10 * time.Second,
	}
}

func (h *managerHarness) connect(t *testing.T) {
	t.Helper()
	if err := h.m.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if h.m.State() != StateConnecting {
		t.Fatalf("state = %v, want connecting", h.m.State())
	}
	h.loop.waitFor(t, "connected", func() bool { return h.m.State() == StateConnected })
}

func TestConnectAndSend(t *testing.T) {
	h := newManagerHarness(t, testConnectionConfig())
	conn := newFakeConn()
	h.dialer.succeed(1, conn)

	if err := h.m.Send([]byte("early")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("send before connect: %v", err)
	}
	h.connect(t)

	if h.log.count(EventConnected) != 1 || len(h.opens) != 1 || h.opens[0] {
		t.Fatalf("connected events %d, opens %v", h.log.count(EventConnected), h.opens)
	}
	if err := h.m.Send([]byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := conn.Written(); len(got) != 1 || string(got[0]) != "hello" {
		t.Fatalf("written %q", got)
	}
	if err := h.m.Connect(); !errors.Is(err, ErrAlreadyConnecting) {
		t.Fatalf("second connect: %v", err)
	}
}

func TestReconnectBackoffUntilExhausted(t *testing.T) {
	h := newManagerHarness(t, testConnectionConfig())
	conn := newFakeConn()
	h.dialer.succeed(1, conn)
	h.connect(t)

	conn.Close()
	h.loop.waitFor(t, "reconnecting", func() bool { return h.m.State() == StateReconnecting })
	if h.m.NextRetryAt().IsZero() {
		t.Fatal("next retry time not set")
	}

	h.sched.Advance(time.Second)
	h.loop.waitFor(t, "second attempt", func() bool { return h.m.Attempts() == 2 })
	h.sched.Advance(2 * time.Second)
	h.loop.waitFor(t, "third attempt", func() bool { return h.m.Attempts() == 3 })
	h.sched.Advance(4 * time.Second)
	h.loop.waitFor(t, "exhausted", func() bool { return h.m.State() == StateDisconnected })

	var delays []time.Duration
	for _, ev := range h.log.named(EventReconnecting) {
		delays = append(delays, ev.Delay)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("delays %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delays %v, want %v", delays, want)
		}
	}
	if h.log.count(EventRetriesExhausted) != 1 {
		t.Fatalf("exhausted events = %d", h.log.count(EventRetriesExhausted))
	}

	calls := h.dialer.Calls()
	h.sched.Advance(time.Minute)
	h.loop.settle(20 * time.Millisecond)
	if h.dialer.Calls() != calls {
		t.Fatalf("dialed after exhaustion: %d -> %d", calls, h.dialer.Calls())
	}
	if h.sched.Pending() != 0 {
		t.Fatalf("timers left after exhaustion: %d", h.sched.Pending())
	}
}

func TestReconnectSucceedsAndResetsAttempts(t *testing.T) {
	h := newManagerHarness(t, testConnectionConfig())
	first, third := newFakeConn(), newFakeConn()
	h.dialer.succeed(1, first)
	h.dialer.succeed(3, third)
	h.connect(t)

	first.Close()
	h.loop.waitFor(t, "reconnecting", func() bool { return h.m.State() == StateReconnecting })
	h.sched.Advance(time.Second)
	h.loop.waitFor(t, "failed retry", func() bool { return h.m.Attempts() == 2 })
	h.sched.Advance(2 * time.Second)
	h.loop.waitFor(t, "reconnected", func() bool { return h.m.State() == StateConnected })

	if h.m.Attempts() != 0 {
		t.Fatalf("attempts = %d after success", h.m.Attempts())
	}
	if h.log.count(EventReconnected) != 1 {
		t.Fatalf("reconnected events = %d", h.log.count(EventReconnected))
	}
	if len(h.opens) != 2 || !h.opens[1] {
		t.Fatalf("opens = %v", h.opens)
	}
	if err := h.m.Send([]byte("x")); err != nil {
		t.Fatalf("send after reconnect: %v", err)
	}
	if len(third.Written()) != 1 {
		t.Fatal("frame not written to new connection")
	}
}

func TestInitialDialFailure(t *testing.T) {
	t.Run("auto reconnect", func(t *testing.T) {
		h := newManagerHarness(t, testConnectionConfig())
		h.m.Connect()
		h.loop.waitFor(t, "reconnecting", func() bool { return h.m.State() == StateReconnecting })
	})
	t.Run("no reconnect", func(t *testing.T) {
		cfg := testConnectionConfig()
		cfg.AutoReconnect = false
		h := newManagerHarness(t, cfg)
		h.m.Connect()
		h.loop.waitFor(t, "disconnected", func() bool { return h.log.count(EventDisconnected) == 1 })
		if h.m.State() != StateDisconnected || h.sched.Pending() != 0 {
			t.Fatalf("state %v pending %d", h.m.State(), h.sched.Pending())
		}
	})
}

func TestDisconnectCancelsEverything(t *testing.T) {
	h := newManagerHarness(t, testConnectionConfig())
	conn := newFakeConn()
	h.dialer.succeed(1, conn)
	heartbeats := 0
	h.m.OnHeartbeat = func() { heartbeats++ }
	h.connect(t)

	h.sched.Advance(10 * time.Second)
	h.sched.Advance(10 * time.Second)
	if heartbeats != 2 {
		t.Fatalf("heartbeats = %d, want 2", heartbeats)
	}

	h.m.Disconnect()
	if !conn.isClosed() {
		t.Fatal("connection left open")
	}
	if h.m.State() != StateDisconnected || h.log.count(EventDisconnected) != 1 {
		t.Fatalf("state %v disconnected events %d", h.m.State(), h.log.count(EventDisconnected))
	}

	h.sched.Advance(time.Hour)
	h.loop.settle(20 * time.Millisecond)
	if heartbeats != 2 || h.dialer.Calls() != 1 {
		t.Fatalf("activity after disconnect: heartbeats %d dials %d", heartbeats, h.dialer.Calls())
	}
	if h.m.State() != StateDisconnected {
		t.Fatalf("state = %v", h.m.State())
	}
}

func TestFatalErrorStopsReconnect(t *testing.T) {
	h := newManagerHarness(t, testConnectionConfig())
	conn := newFakeConn()
	h.dialer.succeed(1, conn)
	h.connect(t)

	h.m.Fail(protocol.CodeAuthFailed, "bad token")
	h.loop.settle(20 * time.Millisecond)
	h.sched.Advance(time.Minute)

	if h.m.State() != StateDisconnected {
		t.Fatalf("state = %v", h.m.State())
	}
	if h.log.count(EventFatal) != 1 || h.log.count(EventReconnecting) != 0 {
		t.Fatalf("fatal %d reconnecting %d", h.log.count(EventFatal), h.log.count(EventReconnecting))
	}
	if h.m.LastErrorCode() != protocol.CodeAuthFailed {
		t.Fatalf("last code %q", h.m.LastErrorCode())
	}
	if h.dialer.Calls() != 1 {
		t.Fatalf("dials = %d", h.dialer.Calls())
	}
}

func TestReconnectNowAbandonsPendingAttempt(t *testing.T) {
	h := newManagerHarness(t, testConnectionConfig())
	first, stale, fresh := newFakeConn(), newFakeConn(), newFakeConn()
	release := make(chan struct{})
	h.dialer.succeed(1, first)
	h.dialer.on(2, func(context.Context) (transport.Conn, error) {
		<-release
		return stale, nil
	})
	h.dialer.succeed(3, fresh)
	h.connect(t)

	first.Close()
	h.loop.waitFor(t, "reconnecting", func() bool { return h.m.State() == StateReconnecting })
	h.sched.Advance(time.Second) // 第二次拨号挂起

	if err := h.m.ReconnectNow(); err != nil {
		t.Fatalf("reconnect now: %v", err)
	}
	h.loop.waitFor(t, "connected", func() bool { return h.m.State() == StateConnected })

	close(release)
	h.loop.waitFor(t, "stale conn closed", stale.isClosed)
	if err := h.m.Send([]byte("x")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(fresh.Written()) != 1 || len(stale.Written()) != 0 {
		t.Fatal("frame went to the abandoned connection")
	}
	if h.sched.Pending() != 1 { // 只剩心跳
		t.Fatalf("pending timers = %d", h.sched.Pending())
	}
}

func TestReconnectNowCannotReviveTerminalState(t *testing.T) {
	h := newManagerHarness(t, testConnectionConfig())
	conn := newFakeConn()
	h.dialer.succeed(1, conn)
	h.connect(t)

	h.m.Fail(protocol.CodeBanned, "banned")
	h.loop.settle(20 * time.Millisecond)

	if err := h.m.ReconnectNow(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("reconnect now after fatal: %v", err)
	}
	h.sched.Advance(time.Minute)
	h.loop.settle(20 * time.Millisecond)
	if h.m.State() != StateDisconnected || h.dialer.Calls() != 1 {
		t.Fatalf("state %v dials %d", h.m.State(), h.dialer.Calls())
	}
	if h.log.count(EventReconnecting) != 0 {
		t.Fatalf("reconnecting events = %d", h.log.count(EventReconnecting))
	}

	// 显式 Connect 才会重新开始
	fresh := newFakeConn()
	h.dialer.succeed(2, fresh)
	h.connect(t)
	if h.m.Attempts() != 0 {
		t.Fatalf("attempts = %d", h.m.Attempts())
	}
}

func TestRejoinGatesReconnected(t *testing.T) {
	h := newManagerHarness(t, testConnectionConfig())
	first, second, third := newFakeConn(), newFakeConn(), newFakeConn()
	h.dialer.succeed(1, first)
	h.dialer.succeed(2, second)
	h.dialer.succeed(3, third)
	rejoin := true
	h.m.OnOpen = func(reconnect bool) bool { return reconnect && rejoin }
	h.connect(t)

	first.Close()
	h.loop.waitFor(t, "reconnecting", func() bool { return h.m.State() == StateReconnecting })
	h.sched.Advance(time.Second)
	h.loop.waitFor(t, "connected", func() bool { return h.m.State() == StateConnected })
	if !h.m.Rejoining() || h.log.count(EventReconnected) != 0 {
		t.Fatalf("rejoining %v reconnected %d", h.m.Rejoining(), h.log.count(EventReconnected))
	}

	// 重入失败：按新的断线处理
	rejoin = false
	h.m.RejoinFailed(errors.New("ROOM_NOT_FOUND"))
	if h.m.State() != StateReconnecting || !second.isClosed() {
		t.Fatalf("state %v after rejoin failure", h.m.State())
	}
	h.sched.Advance(time.Second)
	h.loop.waitFor(t, "connected again", func() bool { return h.m.State() == StateConnected })
	if h.log.count(EventReconnected) != 1 {
		t.Fatalf("reconnected events = %d", h.log.count(EventReconnected))
	}
}

func TestTransitionTable(t *testing.T) {
	if !canTransition(StateDisconnected, StateConnecting) || !canTransition(StateReconnecting, StateConnected) {
		t.Fatal("valid transition rejected")
	}
	if canTransition(StateDisconnected, StateConnected) || canTransition(StateConnected, StateConnecting) ||
		canTransition(StateDisconnected, StateReconnecting) {
		t.Fatal("invalid transition accepted")
	}
	if StateReconnecting.String() != "reconnecting" {
		t.Fatal("state name")
	}
}
