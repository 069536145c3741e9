package client

import (
	"context"
	"errors"
	"io"
	"net"
	"sort"
	"sync"
	"testing"
	"time"

	"statesync/pkg/transport"
)

// fakeScheduler 手动推进的调度器，回调在调用 Advance 的协程上执行
type fakeScheduler struct {
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	t := &fakeTimer{at: s.now + d, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) Advance(d time.Duration) {
	target := s.now + d
	for {
		due := s.due(target)
		if due == nil {
			break
		}
		s.now = due.at
		due.fired = true
		due.fn()
	}
	s.now = target
}

func (s *fakeScheduler) due(target time.Duration) *fakeTimer {
	live := s.timers[:0]
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	s.timers = live
	sort.SliceStable(live, func(i, j int) bool { return live[i].at < live[j].at })
	if len(live) == 0 || live[0].at > target {
		return nil
	}
	return live[0]
}

// Pending 未触发的定时器数量
func (s *fakeScheduler) Pending() int {
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type fakeAddr struct{}

func (fakeAddr) Network() string { return "fake" }
func (fakeAddr) String() string  { return "fake:0" }

type fakeConn struct {
	in     chan []byte
	errs   chan error // 读取时返回的错误，不关闭连接
	closed chan struct{}
	once   sync.Once

	mu  sync.Mutex
	out [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		errs:   make(chan error, 8),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrame() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case err := <-c.errs:
		return nil, err
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteFrame(data []byte) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) RemoteAddr() net.Addr { return fakeAddr{} }

func (c *fakeConn) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.out...)
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

var errRefused = errors.New("connection refused")

// fakeDialer 按调用序号返回预设结果，未设置的调用一律失败
type fakeDialer struct {
	mu    sync.Mutex
	calls int
	plan  map[int]func(ctx context.Context) (transport.Conn, error)
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{plan: make(map[int]func(ctx context.Context) (transport.Conn, error))}
}

// succeed 第 n 次调用（从 1 开始）返回 conn
func (d *fakeDialer) succeed(n int, conn *fakeConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.plan[n] = func(context.Context) (transport.Conn, error) { return conn, nil }
}

func (d *fakeDialer) on(n int, fn func(ctx context.Context) (transport.Conn, error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.plan[n] = fn
}

func (d *fakeDialer) Dial(ctx context.Context) (transport.Conn, error) {
	d.mu.Lock()
	d.calls++
	fn := d.plan[d.calls]
	d.mu.Unlock()
	if fn == nil {
		return nil, errRefused
	}
	return fn(ctx)
}

func (d *fakeDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// testLoop 测试中的会话线程
type testLoop struct {
	inbox chan func()
}

func newTestLoop() *testLoop {
	return &testLoop{inbox: make(chan func(), inboxSize)}
}

func (l *testLoop) post(fn func()) { l.inbox <- fn }

// waitFor 执行投递的任务直到 cond 成立
func (l *testLoop) waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case fn := <-l.inbox:
			fn()
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

// settle 处理一段时间内到达的所有任务
func (l *testLoop) settle(d time.Duration) {
	deadline := time.After(d)
	for {
		select {
		case fn := <-l.inbox:
			fn()
		case <-deadline:
			return
		}
	}
}

// eventLog 记录事件名称
type eventLog struct {
	events []Event
}

func (l *eventLog) record(bus *EventBus, names ...string) {
	for _, name := range names {
		bus.Subscribe(name, func(ev Event) error {
			l.events = append(l.events, ev)
			return nil
		})
	}
}

func (l *eventLog) count(name string) int {
	n := 0
	for _, ev := range l.events {
		if ev.Name == name {
			n++
		}
	}
	return n
}

func (l *eventLog) named(name string) []Event {
	var out []Event
	for _, ev := range l.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}
