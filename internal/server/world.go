package server

import (
	"context"
	"errors"
	"log"
	"math"
	"sync"
	"time"

	"statesync/pkg/codec"
	"statesync/pkg/core"
	"statesync/pkg/protocol"
)

const (
	DefaultTickRate = 20

	// 单个输入允许推进的最长时间（毫秒），防止客户端一次性跳跃
	maxInputDt = 250.0

	// 输入时间戳与权威时钟的最大偏差（毫秒），超出时改用权威时钟
	maxInputSkew = 1000.0
)

var ErrWorldClosed = errors.New("world closed")

// WorldConfig 世界参数
type WorldConfig struct {
	TickRate  int
	Step      core.StepFunc
	Quantizer *codec.Quantizer // nil 表示广播原始浮点数
	MaxRange  float64
	ParkTTL   time.Duration // 断线后保留实体状态的时长
	Clock     func() time.Time
}

type entity struct {
	peer    Peer
	state   core.KinematicState
	room    string
	lastSeq uint32
	dirty   bool // 本 tick 是否应用过输入
}

type parkedEntity struct {
	state core.KinematicState
	at    time.Time
}

// World 权威模拟：单协程循环处理加入、输入、离开，并按固定频率广播实体状态
type World struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    WorldConfig
	logger *log.Logger

	entities map[string]*entity
	parked   map[string]parkedEntity
	rooms    *RoomDirectory
	spawned  int
	ticks    uint64
	now      func() time.Time

	joinCh  chan joinRequest
	inputCh chan inputEvent
	leaveCh chan leaveEvent
	roomCh  chan roomRequest
	closeCh chan string
	relayCh chan relayEvent
	statsCh chan chan WorldStats
}

// NewWorld 创建世界
func NewWorld(parent context.Context, cfg WorldConfig, logger *log.Logger) *World {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = DefaultTickRate
	}
	if cfg.Step == nil {
		cfg.Step = core.VelocityStep(core.DefaultMoveSpeed)
	}
	if cfg.MaxRange <= 0 {
		cfg.MaxRange = core.WorldMaxRange
	}
	if cfg.ParkTTL <= 0 {
		cfg.ParkTTL = DefaultSessionTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	ctx, cancel := context.WithCancel(parent)

	return &World{
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		logger:   logger,
		entities: make(map[string]*entity),
		parked:   make(map[string]parkedEntity),
		rooms:    NewRoomDirectory(),
		now:      cfg.Clock,
		joinCh:   make(chan joinRequest),
		inputCh:  make(chan inputEvent, 256),
		leaveCh:  make(chan leaveEvent, 256),
		roomCh:   make(chan roomRequest),
		closeCh:  make(chan string, 16),
		relayCh:  make(chan relayEvent, 64),
		statsCh:  make(chan chan WorldStats),
	}
}

// Run 世界循环
func (w *World) Run(wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(w.cfg.TickRate))
	defer ticker.Stop()

	w.logger.Printf("世界循环启动: %d TPS", w.cfg.TickRate)

	for {
		select {
		case <-w.ctx.Done():
			w.closeAll()
			w.logger.Println("世界循环停止")
			return

		case req := <-w.joinCh:
			req.respCh <- w.handleJoin(req)

		case ev := <-w.inputCh:
			w.handleInput(ev)

		case ev := <-w.leaveCh:
			w.handleLeave(ev)

		case req := <-w.roomCh:
			req.respCh <- w.handleJoinRoom(req.entityID, req.roomID)

		case roomID := <-w.closeCh:
			w.handleCloseRoom(roomID)

		case ev := <-w.relayCh:
			w.handleRelay(ev)

		case respCh := <-w.statsCh:
			respCh <- w.stats()

		case <-ticker.C:
			w.tick()
		}
	}
}

// Shutdown 停止世界循环
func (w *World) Shutdown() {
	w.cancel()
}

// Join 注册实体；resume 为 true 时尝试恢复断线前的状态
func (w *World) Join(peer Peer, entityID string, resume bool) (core.KinematicState, error) {
	respCh := make(chan core.KinematicState, 1)
	select {
	case <-w.ctx.Done():
		return core.KinematicState{}, ErrWorldClosed
	case w.joinCh <- joinRequest{peer: peer, entityID: entityID, resume: resume, respCh: respCh}:
	}
	select {
	case <-w.ctx.Done():
		return core.KinematicState{}, ErrWorldClosed
	case state := <-respCh:
		return state, nil
	}
}

// EnqueueInput 投递输入
func (w *World) EnqueueInput(ev inputEvent) {
	select {
	case <-w.ctx.Done():
	case w.inputCh <- ev:
	}
}

// Leave 实体离开；peer 不是当前持有者时忽略（已被新连接接管）
func (w *World) Leave(entityID string, peer Peer) {
	select {
	case <-w.ctx.Done():
	case w.leaveCh <- leaveEvent{entityID: entityID, peer: peer}:
	}
}

// JoinRoom 切换房间
func (w *World) JoinRoom(entityID, roomID string) error {
	respCh := make(chan error, 1)
	select {
	case <-w.ctx.Done():
		return ErrWorldClosed
	case w.roomCh <- roomRequest{entityID: entityID, roomID: roomID, respCh: respCh}:
	}
	select {
	case <-w.ctx.Done():
		return ErrWorldClosed
	case err := <-respCh:
		return err
	}
}

// CloseRoom 关闭房间，成员回到大厅，之后加入该房间会失败
func (w *World) CloseRoom(roomID string) {
	select {
	case <-w.ctx.Done():
	case w.closeCh <- roomID:
	}
}

// Relay 把不透明消息转发给同房间的其他实体
func (w *World) Relay(entityID string, p *protocol.OpaquePayload) {
	select {
	case <-w.ctx.Done():
	case w.relayCh <- relayEvent{entityID: entityID, payload: p}:
	}
}

// Stats 当前统计
func (w *World) Stats() (WorldStats, error) {
	respCh := make(chan WorldStats, 1)
	select {
	case <-w.ctx.Done():
		return WorldStats{}, ErrWorldClosed
	case w.statsCh <- respCh:
	}
	return <-respCh, nil
}

func (w *World) nowMs() float64 {
	return float64(w.now().UnixMilli())
}

func (w *World) handleJoin(req joinRequest) core.KinematicState {
	w.expireParked()

	state, restored := core.KinematicState{}, false
	if req.resume {
		if p, ok := w.parked[req.entityID]; ok {
			state, restored = p.state, true
			delete(w.parked, req.entityID)
		}
	}
	if old, ok := w.entities[req.entityID]; ok {
		// 同一实体的新连接接管旧连接
		state, restored = old.state, true
		w.rooms.Leave(old.room, req.entityID)
		if old.peer != req.peer {
			// 异步关闭：Close 会回调 Leave，而 Leave 需要本循环处理
			go old.peer.Close()
		}
	}
	if !restored {
		x, y := spawnPosition(w.spawned)
		w.spawned++
		state = core.KinematicState{X: x, Y: y}
	}
	state.Timestamp = w.nowMs()

	w.entities[req.entityID] = &entity{peer: req.peer, state: state, room: LobbyRoom}
	_ = w.rooms.Join(LobbyRoom, req.entityID)

	w.logger.Printf("实体 %s 加入 (恢复=%v)，当前实体数: %d", req.entityID, restored, len(w.entities))
	return state
}

func (w *World) handleInput(ev inputEvent) {
	ent, ok := w.entities[ev.entityID]
	if !ok {
		return
	}
	if ev.sequence != 0 && ev.sequence <= ent.lastSeq {
		// 重复或乱序的输入只重新确认
		_ = ent.peer.Send(&protocol.InputAckPayload{Sequence: ent.lastSeq})
		return
	}

	dt := ev.dt
	if dt <= 0 || math.IsNaN(dt) {
		dt = 0
	}
	dt = math.Min(dt, maxInputDt)

	next := w.cfg.Step(ent.state, ev.input, dt)
	next.X = math.Max(-w.cfg.MaxRange, math.Min(w.cfg.MaxRange, next.X))
	next.Y = math.Max(-w.cfg.MaxRange, math.Min(w.cfg.MaxRange, next.Y))
	// 客户端已对齐到权威时钟时沿用其时间轴，校正才能逐帧比对
	next.Timestamp = ev.ts + dt
	if now := w.nowMs(); math.IsNaN(next.Timestamp) || math.Abs(next.Timestamp-now) > maxInputSkew {
		next.Timestamp = now
	}
	ent.state = next
	ent.lastSeq = ev.sequence
	ent.dirty = true

	if err := ent.peer.Send(&protocol.InputAckPayload{Sequence: ev.sequence}); err != nil {
		w.logger.Printf("实体 %s: 发送输入确认失败: %v", ev.entityID, err)
	}
}

func (w *World) handleLeave(ev leaveEvent) {
	ent, ok := w.entities[ev.entityID]
	if !ok || (ev.peer != nil && ent.peer != ev.peer) {
		return
	}
	delete(w.entities, ev.entityID)
	w.rooms.Leave(ent.room, ev.entityID)
	w.parked[ev.entityID] = parkedEntity{state: ent.state, at: w.now()}

	w.logger.Printf("实体 %s 离开，当前实体数: %d", ev.entityID, len(w.entities))
	w.broadcastRoom(ent.room, &protocol.PlayerLeftPayload{EntityID: ev.entityID}, "")
}

func (w *World) handleJoinRoom(entityID, roomID string) error {
	ent, ok := w.entities[entityID]
	if !ok {
		return ErrRoomNotFound
	}
	if ent.room == roomID {
		return nil
	}
	if err := w.rooms.Join(roomID, entityID); err != nil {
		return err
	}
	w.rooms.Leave(ent.room, entityID)
	w.broadcastRoom(ent.room, &protocol.PlayerLeftPayload{EntityID: entityID}, entityID)
	ent.room = roomID

	w.logger.Printf("实体 %s 进入房间 %q", entityID, roomID)
	return nil
}

func (w *World) handleCloseRoom(roomID string) {
	for _, id := range w.rooms.Close(roomID) {
		if ent, ok := w.entities[id]; ok {
			ent.room = LobbyRoom
			_ = w.rooms.Join(LobbyRoom, id)
		}
	}
	w.logger.Printf("房间 %q 已关闭", roomID)
}

func (w *World) handleRelay(ev relayEvent) {
	ent, ok := w.entities[ev.entityID]
	if !ok {
		return
	}
	w.broadcastRoom(ent.room, ev.payload, ev.entityID)
}

func (w *World) tick() {
	w.ticks++
	now := w.nowMs()

	for _, ent := range w.entities {
		if !ent.dirty {
			// 没有输入的实体保持静止，时间戳随权威时钟推进
			ent.state.VX, ent.state.VY = 0, 0
			ent.state.Timestamp = now
		}
		ent.dirty = false
	}
	w.broadcastState()

	if w.ticks%uint64(w.cfg.TickRate*10) == 0 {
		w.expireParked()
	}
}

func (w *World) broadcastState() {
	for id, ent := range w.entities {
		snap := core.Snapshot{
			EntityID:        id,
			State:           ent.state,
			ServerTimestamp: int64(math.Round(ent.state.Timestamp)),
		}
		update := protocol.NewStateUpdate(snap, w.cfg.Quantizer)
		w.broadcastRoom(ent.room, update, "")
	}
}

// broadcastRoom 发送到房间内所有实体，except 为空表示不排除
func (w *World) broadcastRoom(roomID string, p protocol.Payload, except string) {
	for _, id := range w.rooms.Members(roomID) {
		if id == except {
			continue
		}
		ent, ok := w.entities[id]
		if !ok {
			continue
		}
		if err := ent.peer.Send(p); err != nil {
			w.logger.Printf("发送 %s 到实体 %s 失败: %v", p.MessageType(), id, err)
		}
	}
}

func (w *World) expireParked() {
	cutoff := w.now().Add(-w.cfg.ParkTTL)
	for id, p := range w.parked {
		if p.at.Before(cutoff) {
			delete(w.parked, id)
		}
	}
}

func (w *World) closeAll() {
	for _, ent := range w.entities {
		ent.peer.Close()
	}
}

func (w *World) stats() WorldStats {
	return WorldStats{
		Entities: len(w.entities),
		Parked:   len(w.parked),
		Rooms:    w.rooms.Counts(),
		Ticks:    w.ticks,
	}
}

// spawnPosition 出生点：围绕原点的四个角轮流分配
func spawnPosition(n int) (float64, float64) {
	spawns := []struct{ x, y float64 }{
		{-100, -100},
		{100, -100},
		{-100, 100},
		{100, 100},
	}
	s := spawns[n%len(spawns)]
	return s.x, s.y
}
