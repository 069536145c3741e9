package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"statesync/pkg/protocol"
	"statesync/pkg/transport"
)

// ConnState 连接状态
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// 合法的状态迁移
var transitions = map[ConnState][]ConnState{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnected, StateReconnecting, StateDisconnected},
	StateConnected:    {StateReconnecting, StateDisconnected},
	StateReconnecting: {StateConnected, StateDisconnected},
}

func canTransition(from, to ConnState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var (
	ErrNotConnected      = errors.New("not connected")
	ErrAlreadyConnecting = errors.New("connection already in progress")
	ErrNoDialer          = errors.New("no dialer configured")
)

// ConnectionConfig 生命周期参数
type ConnectionConfig struct {
	AutoReconnect     bool
	MaxAttempts       int
	Backoff           Backoff
	HeartbeatInterval time.Duration
}

// DefaultConnectionConfig 默认参数
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		AutoReconnect:     true,
		MaxAttempts:       DefaultMaxAttempts,
		Backoff:           DefaultBackoff(),
		HeartbeatInterval: DefaultHeartbeatInterval,
	}
}

// ConnectionManager 连接生命周期：
//
//	disconnected -> connecting -> connected <-> reconnecting -> connected | disconnected
//
// 拨号与读取在独立协程中进行，结果通过 post 回到会话线程；
// 每次拨号或连接都有代号（generation），被放弃的尝试结果到达后直接丢弃。
type ConnectionManager struct {
	cfg    ConnectionConfig
	dialer transport.Dialer
	sched  Scheduler
	post   func(func())
	events *EventBus
	logger *log.Logger

	state       ConnState
	attempts    int
	nextRetryAt time.Time
	conn        transport.Conn
	gen         uint64
	cancelDial  context.CancelFunc
	retryTimer  Timer
	heartbeat   Timer
	rejoining   bool
	lastCode    protocol.ErrorCode
	now         func() time.Time

	// OnOpen 连接建立后调用；返回 true 表示已发起房间重入，需等待 RejoinSucceeded/RejoinFailed
	OnOpen func(reconnect bool) bool
	// OnFrame 收到一帧（已在会话线程）
	OnFrame func(data []byte)
	// OnBadFrame 传输层丢弃了一帧无法解码的数据，连接保持
	OnBadFrame func(err error)
	// OnHeartbeat 心跳到期
	OnHeartbeat func()
}

// NewConnectionManager 创建连接管理器
func NewConnectionManager(cfg ConnectionConfig, dialer transport.Dialer, sched Scheduler, post func(func()), events *EventBus, logger *log.Logger) *ConnectionManager {
	if logger == nil {
		logger = log.Default()
	}
	if events == nil {
		events = NewEventBus(logger)
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	return &ConnectionManager{
		cfg:    cfg,
		dialer: dialer,
		sched:  sched,
		post:   post,
		events: events,
		logger: logger,
		state:  StateDisconnected,
		now:    time.Now,
	}
}

// State 当前状态
func (m *ConnectionManager) State() ConnState { return m.state }

// Attempts 当前重连尝试次数
func (m *ConnectionManager) Attempts() int { return m.attempts }

// NextRetryAt 下一次重连时间；没有待定重连时为零值
func (m *ConnectionManager) NextRetryAt() time.Time { return m.nextRetryAt }

// Rejoining 是否正在等待房间重入结果
func (m *ConnectionManager) Rejoining() bool { return m.rejoining }

// LastErrorCode 最近一次致命错误码
func (m *ConnectionManager) LastErrorCode() protocol.ErrorCode { return m.lastCode }

// Connect 发起首次连接
func (m *ConnectionManager) Connect() error {
	if m.dialer == nil {
		return ErrNoDialer
	}
	if m.state != StateDisconnected {
		return ErrAlreadyConnecting
	}
	m.attempts = 0
	m.lastCode = ""
	m.setState(StateConnecting)
	m.dial()
	return nil
}

// Send 发送一帧；未连接时拒绝
func (m *ConnectionManager) Send(frame []byte) error {
	if m.state != StateConnected || m.conn == nil {
		return ErrNotConnected
	}
	return m.conn.WriteFrame(frame)
}

// Disconnect 主动断开：取消所有定时器与在途拨号，不再重连
func (m *ConnectionManager) Disconnect() {
	m.abandon()
	m.attempts = 0
	m.nextRetryAt = time.Time{}
	if m.state == StateDisconnected {
		return
	}
	m.setState(StateDisconnected)
	m.events.Publish(Event{Name: EventDisconnected, State: StateDisconnected})
}

// Stop 停止管理器，之后不会再调度任何任务
func (m *ConnectionManager) Stop() { m.Disconnect() }

// ReconnectNow 立即重连，放弃待定的重连尝试
// 已断开（主动断开、重试耗尽或致命错误）时不会重连，需显式调用 Connect
func (m *ConnectionManager) ReconnectNow() error {
	if m.dialer == nil {
		return ErrNoDialer
	}
	if m.state == StateDisconnected {
		return ErrNotConnected
	}
	m.abandon()
	m.nextRetryAt = time.Time{}
	m.setState(StateReconnecting)
	m.dial()
	return nil
}

// Fail 收到致命错误：终止连接且不重连
func (m *ConnectionManager) Fail(code protocol.ErrorCode, message string) {
	m.logger.Printf("连接终止 code=%s: %s", code, message)
	m.lastCode = code
	m.abandon()
	m.attempts = 0
	m.nextRetryAt = time.Time{}
	prev := m.state
	m.setState(StateDisconnected)
	m.events.Publish(Event{Name: EventFatal, Code: code, Message: message, State: StateDisconnected})
	if prev != StateDisconnected {
		m.events.Publish(Event{Name: EventDisconnected, State: StateDisconnected, Code: code})
	}
}

// RejoinSucceeded 房间重入成功，重连完成
func (m *ConnectionManager) RejoinSucceeded() {
	if !m.rejoining {
		return
	}
	m.rejoining = false
	m.events.Publish(Event{Name: EventReconnected, State: m.state})
}

// RejoinFailed 房间重入失败：断开当前连接，按一次新的断线处理
func (m *ConnectionManager) RejoinFailed(err error) {
	if !m.rejoining {
		return
	}
	m.logger.Printf("重新加入房间失败: %v", err)
	m.gen++
	m.teardown()
	m.handleLoss(err)
}

// abandon 使在途拨号、读取和定时器全部失效
func (m *ConnectionManager) abandon() {
	m.gen++
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.teardown()
}

// teardown 关闭当前连接与心跳
func (m *ConnectionManager) teardown() {
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.rejoining = false
}

func (m *ConnectionManager) dial() {
	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelDial = cancel
	dialer := m.dialer

	go func() {
		conn, err := dialer.Dial(ctx)
		m.post(func() { m.onDialResult(gen, conn, err) })
	}()
}

func (m *ConnectionManager) onDialResult(gen uint64, conn transport.Conn, err error) {
	if gen != m.gen {
		// 已被放弃的尝试
		if conn != nil {
			conn.Close()
		}
		return
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if err != nil {
		m.logger.Printf("连接失败 (attempt=%d): %v", m.attempts, err)
		m.handleLoss(err)
		return
	}
	m.open(conn)
}

func (m *ConnectionManager) open(conn transport.Conn) {
	reconnect := m.state == StateReconnecting
	m.conn = conn
	m.attempts = 0
	m.nextRetryAt = time.Time{}
	m.setState(StateConnected)
	m.logger.Printf("已连接 %v", conn.RemoteAddr())

	m.startReader(m.gen, conn)
	m.scheduleHeartbeat()

	rejoin := false
	if m.OnOpen != nil {
		rejoin = m.OnOpen(reconnect)
	}
	// OnOpen 中可能已经断开
	if m.conn != conn {
		return
	}
	switch {
	case reconnect && rejoin:
		m.rejoining = true
	case reconnect:
		m.events.Publish(Event{Name: EventReconnected, State: m.state})
	default:
		m.events.Publish(Event{Name: EventConnected, State: m.state})
	}
}

func (m *ConnectionManager) startReader(gen uint64, conn transport.Conn) {
	go func() {
		for {
			data, err := conn.ReadFrame()
			if errors.Is(err, transport.ErrBadFrame) {
				m.post(func() {
					if gen == m.gen && m.OnBadFrame != nil {
						m.OnBadFrame(err)
					}
				})
				continue
			}
			if err != nil {
				m.post(func() { m.onTransportClosed(gen, err) })
				return
			}
			m.post(func() {
				if gen == m.gen && m.OnFrame != nil {
					m.OnFrame(data)
				}
			})
		}
	}()
}

func (m *ConnectionManager) onTransportClosed(gen uint64, err error) {
	if gen != m.gen {
		return
	}
	m.logger.Printf("连接断开: %v", err)
	m.teardown()
	m.handleLoss(err)
}

// handleLoss 连接丢失或拨号失败
func (m *ConnectionManager) handleLoss(err error) {
	if m.state == StateDisconnected {
		return
	}
	if !m.cfg.AutoReconnect {
		m.setState(StateDisconnected)
		m.events.Publish(Event{Name: EventDisconnected, State: StateDisconnected, Err: err})
		return
	}
	m.setState(StateReconnecting)
	m.scheduleRetry(err)
}

func (m *ConnectionManager) scheduleRetry(cause error) {
	if m.attempts >= m.cfg.MaxAttempts {
		m.logger.Printf("重连次数已用尽 (%d)", m.attempts)
		attempts := m.attempts
		m.attempts = 0
		m.nextRetryAt = time.Time{}
		m.setState(StateDisconnected)
		m.events.Publish(Event{Name: EventRetriesExhausted, Attempt: attempts, Err: cause})
		m.events.Publish(Event{Name: EventDisconnected, State: StateDisconnected, Err: cause})
		return
	}
	delay := m.cfg.Backoff.Delay(m.attempts)
	m.attempts++
	m.nextRetryAt = m.now().Add(delay)
	m.retryTimer = m.sched.AfterFunc(delay, m.attemptReconnect)
	m.events.Publish(Event{Name: EventReconnecting, State: m.state, Attempt: m.attempts, Delay: delay, Err: cause})
}

func (m *ConnectionManager) attemptReconnect() {
	m.retryTimer = nil
	if m.state != StateReconnecting {
		return
	}
	m.dial()
}

func (m *ConnectionManager) scheduleHeartbeat() {
	if m.cfg.HeartbeatInterval <= 0 {
		return
	}
	m.heartbeat = m.sched.AfterFunc(m.cfg.HeartbeatInterval, m.heartbeatTick)
}

func (m *ConnectionManager) heartbeatTick() {
	m.heartbeat = nil
	if m.state != StateConnected {
		return
	}
	if m.OnHeartbeat != nil {
		m.OnHeartbeat()
	}
	if m.state == StateConnected && m.heartbeat == nil {
		m.scheduleHeartbeat()
	}
}

func (m *ConnectionManager) setState(s ConnState) {
	prev := m.state
	if prev == s {
		return
	}
	if !canTransition(prev, s) {
		m.logger.Printf("非法状态迁移 %s -> %s", prev, s)
	}
	m.state = s
	m.events.Publish(Event{Name: EventStateChange, State: s, Prev: prev})
}
