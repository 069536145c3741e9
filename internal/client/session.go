package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"statesync/internal/config"
	"statesync/pkg/codec"
	"statesync/pkg/core"
	"statesync/pkg/protocol"
	"statesync/pkg/transport"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var ErrSessionClosed = errors.New("session closed")

// MessageEvent 某一消息类型对应的事件名，每个解码成功的信封都会按类型派发一次
func MessageEvent(t protocol.MessageType) string {
	return "message:" + string(t)
}

// Option 会话可选项
type Option func(*Session)

// WithScheduler 替换定时器调度（测试用）
func WithScheduler(s Scheduler) Option {
	return func(sess *Session) { sess.sched = s }
}

// WithLocalClock 替换本地毫秒时钟
func WithLocalClock(now func() int64) Option {
	return func(sess *Session) { sess.localClock = now }
}

// WithStep 替换本地模拟步进
func WithStep(step core.StepFunc) Option {
	return func(sess *Session) { sess.step = step }
}

// Session 客户端状态同步会话
//
// 组合连接管理、编解码、时钟同步、远端插值与本地预测。
// 所有状态只在会话线程上修改：调用 Poll/Tick/Run 的那个协程。
// 传输读取、拨号与定时器只把任务投递到 inbox。
type Session struct {
	cfg       config.Client
	logger    *log.Logger
	codec     protocol.Codec
	quantizer codec.Quantizer

	inbox     chan func()
	done      chan struct{}
	closeOnce sync.Once

	sched      Scheduler
	localClock func() int64
	step       core.StepFunc

	events    *EventBus
	manager   *ConnectionManager
	clock     *ClockSync
	predictor *Predictor
	remotes   *RemoteEntities

	decodeLog rate.Sometimes
	evictLog  rate.Sometimes
	dropped   int

	entityID    string
	token       string
	roomID      string
	pendingRoom string
	lastAck     uint32
	lastPingAt  int64 // 本地时钟
}

// NewSession 创建会话；dialer 为 nil 时按配置创建
func NewSession(cfg config.Client, dialer transport.Dialer, logger *log.Logger, opts ...Option) (*Session, error) {
	if logger == nil {
		logger = log.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c, err := protocol.NewCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}
	if dialer == nil {
		dialer, err = transport.NewDialer(cfg.Network, cfg.Addr, transport.Options{
			CompressThreshold: cfg.CompressThreshold,
			Logger:            logger,
		})
		if err != nil {
			return nil, err
		}
	}

	s := &Session{
		cfg:       cfg,
		logger:    logger,
		codec:     c,
		quantizer: codec.NewQuantizer(cfg.MaxRange, cfg.MaxVelocity),
		inbox:     make(chan func(), inboxSize),
		done:      make(chan struct{}),
		decodeLog: rate.Sometimes{First: 3, Interval: 5 * time.Second},
		evictLog:  rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sched == nil {
		s.sched = loopScheduler{post: s.post}
	}
	if s.localClock == nil {
		s.localClock = func() int64 { return time.Now().UnixMilli() }
	}
	if s.step == nil {
		s.step = core.VelocityStep(cfg.MoveSpeed)
	}

	s.events = NewEventBus(logger)
	s.clock = NewClockSync(cfg.ClockSamples, s.localClock)
	s.predictor = NewPredictor(s.step, cfg.HistorySize, cfg.ReconciliationTolerance, cfg.ReconciliationWindow)
	s.predictor.OnEvict = s.inputsEvicted
	s.remotes = NewRemoteEntities(cfg.BufferSize, cfg.InterpolationDelay, cfg.DeadReckoningMax)

	s.manager = NewConnectionManager(ConnectionConfig{
		AutoReconnect: cfg.AutoReconnect,
		MaxAttempts:   cfg.MaxReconnectAttempts,
		Backoff: Backoff{
			Base:       cfg.ReconnectDelay,
			Cap:        cfg.BackoffCap,
			Multiplier: cfg.BackoffMultiplier,
			Jitter:     cfg.BackoffJitter,
		},
		HeartbeatInterval: cfg.HeartbeatInterval,
	}, dialer, s.sched, s.post, s.events, logger)
	s.manager.OnOpen = s.onOpen
	s.manager.OnFrame = s.handleFrame
	s.manager.OnBadFrame = s.dropFrame
	s.manager.OnHeartbeat = s.onHeartbeat

	return s, nil
}

// post 投递任务到会话线程；会话关闭后丢弃
func (s *Session) post(fn func()) {
	select {
	case s.inbox <- fn:
	case <-s.done:
	}
}

// Poll 执行所有已投递的任务，返回执行数量
func (s *Session) Poll() int {
	n := 0
	for {
		select {
		case fn := <-s.inbox:
			fn()
			n++
		default:
			return n
		}
	}
}

// Connect 发起连接（异步，结果通过事件通知）
func (s *Session) Connect() error {
	if s.closed() {
		return ErrSessionClosed
	}
	return s.manager.Connect()
}

// Disconnect 主动断开，不再重连
func (s *Session) Disconnect() { s.manager.Disconnect() }

// ReconnectNow 立即重连
func (s *Session) ReconnectNow() error {
	if s.closed() {
		return ErrSessionClosed
	}
	return s.manager.ReconnectNow()
}

// Close 断开并释放会话，之后投递的任务全部丢弃
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.manager.Stop()
		close(s.done)
	})
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Subscribe 订阅事件
func (s *Session) Subscribe(name string, h Handler) func() {
	return s.events.Subscribe(name, h)
}

// Send 包装并发送一条消息
func (s *Session) Send(p protocol.Payload) error {
	env := protocol.NewEnvelope(p, s.clock.Now())
	data, err := s.codec.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", env.Type, err)
	}
	return s.manager.Send(data)
}

// SendOpaque 发送不透明类型消息（房间、聊天等）
func (s *Session) SendOpaque(kind protocol.MessageType, fields map[string]any) error {
	p, err := protocol.NewOpaque(kind, fields)
	if err != nil {
		return err
	}
	return s.Send(p)
}

// JoinRoom 请求加入房间，结果通过 EventRoomJoined 或 EventError 通知
func (s *Session) JoinRoom(roomID string) error {
	s.pendingRoom = roomID
	return s.Send(&protocol.JoinRoomPayload{RoomID: roomID, SessionToken: s.token})
}

// LeaveRoom 清除房间上下文，重连后不再尝试重新加入
func (s *Session) LeaveRoom() {
	s.roomID = ""
	s.pendingRoom = ""
}

// SyncClock 立即发送一次 ping
func (s *Session) SyncClock() error {
	id := uuid.NewString()
	s.lastPingAt = s.clock.Local()
	s.clock.RecordSend(id, s.lastPingAt)
	return s.Send(protocol.NewPing(id))
}

// SetLocalState 设置本地实体的初始状态并清空预测历史
func (s *Session) SetLocalState(state core.KinematicState) {
	s.predictor.Reset(state)
}

// Tick 处理已投递的任务，应用本帧输入并推进 dt 毫秒
//
// 已连接且分配了实体时，输入同时发送给权威端。
func (s *Session) Tick(input core.Input, dt float64) core.KinematicState {
	s.Poll()
	connected := s.manager.State() == StateConnected
	if connected {
		s.resyncStaleClock()
	}
	state, rec, ok := s.predictor.Predict(input, dt)
	if !ok || s.entityID == "" || !connected {
		return state
	}
	if err := s.Send(protocol.NewInput(rec)); err != nil {
		s.logger.Printf("发送输入失败 seq=%d: %v", rec.Sequence, err)
	}
	return state
}

// resyncStaleClock 时钟样本过期时补发 ping，不等下一次心跳
func (s *Session) resyncStaleClock() {
	if !s.clock.NeedsSync(s.cfg.ClockMaxAge) {
		return
	}
	if s.clock.Local()-s.lastPingAt < ClockResyncInterval.Milliseconds() {
		return
	}
	if err := s.SyncClock(); err != nil {
		s.logger.Printf("时钟同步 ping 发送失败: %v", err)
	}
}

// alignTimeline 预测时间轴偏离估计的权威时间过多时整体平移
// 权威端沿用输入的时间戳广播，未对齐的时间轴会让其他客户端无法插值
func (s *Session) alignTimeline() {
	now := float64(s.clock.Now())
	drift := s.predictor.Current().Timestamp - now
	if math.Abs(drift) <= TimelineDriftMs {
		return
	}
	s.predictor.Rebase(now)
	s.logger.Printf("预测时间轴对齐到权威时钟 (偏差 %.0fms)", drift)
}

// Run 以 tickRate 驱动会话直到 ctx 结束；input 每帧调用一次，可为 nil
func (s *Session) Run(ctx context.Context, tickRate int, input func() core.Input) error {
	if tickRate <= 0 {
		tickRate = core.FPS
	}
	ticker := time.NewTicker(time.Second / time.Duration(tickRate))
	defer ticker.Stop()

	last := s.clock.Local()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return ErrSessionClosed
		case fn := <-s.inbox:
			fn()
		case <-ticker.C:
			now := s.clock.Local()
			var in core.Input
			if input != nil {
				in = input()
			}
			s.Tick(in, float64(now-last))
			last = now
		}
	}
}

// ===== 查询 =====

// State 连接状态
func (s *Session) State() ConnState { return s.manager.State() }

// EntityID 权威端分配的本地实体 ID
func (s *Session) EntityID() string { return s.entityID }

// RoomID 当前房间
func (s *Session) RoomID() string { return s.roomID }

// LocalState 本地预测状态
func (s *Session) LocalState() core.KinematicState { return s.predictor.Current() }

// RemoteStates 按估计的权威时间渲染所有远端实体
func (s *Session) RemoteStates() map[string]core.KinematicState {
	return s.remotes.Render(s.clock.Now())
}

// Clock 时钟同步器
func (s *Session) Clock() *ClockSync { return s.clock }

// Predictor 本地预测器
func (s *Session) Predictor() *Predictor { return s.predictor }

// Remotes 远端实体
func (s *Session) Remotes() *RemoteEntities { return s.remotes }

// Connection 连接管理器
func (s *Session) Connection() *ConnectionManager { return s.manager }

// DroppedFrames 解码失败被丢弃的帧数
func (s *Session) DroppedFrames() int { return s.dropped }

// ===== 连接回调 =====

func (s *Session) onOpen(reconnect bool) bool {
	if err := s.Send(protocol.NewConnect(s.entityID, s.token)); err != nil {
		s.logger.Printf("发送握手失败: %v", err)
	}
	if err := s.SyncClock(); err != nil {
		s.logger.Printf("发送 ping 失败: %v", err)
	}
	if !reconnect || s.roomID == "" {
		return false
	}
	s.logger.Printf("重新加入房间 %s", s.roomID)
	if err := s.Send(&protocol.JoinRoomPayload{RoomID: s.roomID, SessionToken: s.token}); err != nil {
		s.logger.Printf("发送加入房间失败: %v", err)
		return false
	}
	return true
}

func (s *Session) onHeartbeat() {
	if err := s.SyncClock(); err != nil {
		s.logger.Printf("心跳发送失败: %v", err)
	}
}

// ===== 消息分发 =====

func (s *Session) handleFrame(data []byte) {
	env, err := s.codec.Unmarshal(data)
	if err != nil {
		s.dropFrame(err)
		return
	}

	switch p := env.Payload.(type) {
	case *protocol.ConnectPayload:
		s.handleConnectAck(p)
	case *protocol.PingPayload:
		if err := s.Send(protocol.NewPong(p.ID, s.clock.Now())); err != nil {
			s.logger.Printf("回复 pong 失败: %v", err)
		}
	case *protocol.PongPayload:
		if s.clock.RecordPong(p.ID, p.ServerTime, s.clock.Local()) && s.entityID != "" {
			s.alignTimeline()
		}
	case *protocol.StateUpdatePayload:
		s.handleStateUpdate(p)
	case *protocol.PlayerLeftPayload:
		if s.remotes.Remove(p.EntityID) {
			s.events.Publish(Event{Name: EventEntityRemoved, EntityID: p.EntityID})
		}
	case *protocol.InputAckPayload:
		if p.Sequence > s.lastAck {
			s.lastAck = p.Sequence
			s.predictor.ClearOldInputs(p.Sequence)
		}
	case *protocol.RoomJoinedPayload:
		s.roomID = p.RoomID
		s.pendingRoom = ""
		s.events.Publish(Event{Name: EventRoomJoined, RoomID: p.RoomID, EntityID: p.EntityID})
		s.manager.RejoinSucceeded()
	case *protocol.ErrorPayload:
		s.handleError(p)
	case *protocol.OpaquePayload:
		s.events.Publish(Event{Name: EventMessage, Envelope: env})
	case *protocol.JoinRoomPayload, *protocol.InputPayload:
		// 只由客户端发出
	}

	s.events.Publish(Event{Name: MessageEvent(env.Type), Envelope: env})
}

// inputsEvicted 权威端长时间未确认，最早的输入已无法参与重放
func (s *Session) inputsEvicted(n int, oldest uint32) {
	s.evictLog.Do(func() {
		s.logger.Printf("未确认输入过多，淘汰 %d 条 (最早 seq=%d，累计 %d)", n, oldest, s.predictor.Evicted())
	})
}

// dropFrame 丢弃一条无法解码的消息，连接不受影响
func (s *Session) dropFrame(err error) {
	s.dropped++
	s.decodeLog.Do(func() {
		s.logger.Printf("丢弃无法解码的消息 (累计 %d): %v", s.dropped, err)
	})
}

func (s *Session) handleConnectAck(p *protocol.ConnectPayload) {
	if p.EntityID != "" && p.EntityID != s.entityID {
		s.entityID = p.EntityID
		// 本地实体不参与插值
		s.remotes.Remove(p.EntityID)
	}
	if p.SessionToken != "" {
		s.token = p.SessionToken
	}
	s.alignTimeline()
}

func (s *Session) handleStateUpdate(p *protocol.StateUpdatePayload) {
	snap := p.Snapshot(s.quantizer)
	if snap.EntityID == "" {
		return
	}
	if snap.EntityID != s.entityID {
		_, existed := s.remotes.Buffer(snap.EntityID)
		s.remotes.Add(snap)
		if !existed {
			s.events.Publish(Event{Name: EventEntityAdded, EntityID: snap.EntityID})
		}
		return
	}

	result := s.predictor.Reconcile(snap.State)
	switch result.Outcome {
	case ReconcileCorrected, ReconcileAccepted:
		s.events.Publish(Event{Name: EventCorrection, EntityID: snap.EntityID, Reconcile: result})
	}
	// 早于容差窗口的历史已不会再被匹配
	s.predictor.ClearOldStates(snap.State.Timestamp - float64(s.cfg.ReconciliationWindow.Milliseconds()))
}

func (s *Session) handleError(p *protocol.ErrorPayload) {
	err := fmt.Errorf("%s: %s", p.Code, p.Message)
	switch {
	case p.Code.Fatal():
		s.manager.Fail(p.Code, p.Message)
	case s.manager.Rejoining():
		// 房间已不可用，丢弃房间上下文后按新的断线处理
		s.roomID = ""
		s.manager.RejoinFailed(err)
	default:
		if s.pendingRoom != "" && p.Code == protocol.CodeRoomNotFound {
			s.pendingRoom = ""
		}
		s.events.Publish(Event{Name: EventError, Code: p.Code, Message: p.Message, Err: err})
	}
}
