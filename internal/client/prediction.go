package client

import (
	"math"
	"time"

	"statesync/pkg/core"
)

// 输入缓冲区上限：存储未确认的输入用于重放
const InputBufferSize = 128

// ReconcileOutcome 一次校正的结果
type ReconcileOutcome int

const (
	// ReconcileAccepted 历史中没有可比较的状态，直接采用权威状态
	ReconcileAccepted ReconcileOutcome = iota
	// ReconcileKept 误差低于阈值，保留本地预测
	ReconcileKept
	// ReconcileCorrected 误差超过阈值，回退到权威状态并重放输入
	ReconcileCorrected
	// ReconcileStale 权威状态早于已应用的权威状态，被丢弃
	ReconcileStale
)

func (o ReconcileOutcome) String() string {
	switch o {
	case ReconcileAccepted:
		return "accepted"
	case ReconcileKept:
		return "kept"
	case ReconcileCorrected:
		return "corrected"
	case ReconcileStale:
		return "stale"
	default:
		return "unknown"
	}
}

// ReconcileResult 校正详情
type ReconcileResult struct {
	Outcome  ReconcileOutcome
	Error    float64 // 匹配到的预测状态与权威状态的距离
	Replayed int     // 重放的输入数量
}

// Predictor 本地实体的预测与校正
//
// 输入立即应用并记录到状态历史；权威状态到达时与历史比较，只有真正偏离时才回退并重放。
// 历史与输入的清理由调用方根据确认显式触发，不使用后台定时器。
type Predictor struct {
	step        core.StepFunc
	historySize int
	threshold   float64
	windowMs    float64

	current core.KinematicState
	history []core.KinematicState
	inputs  []core.InputRecord
	seq     uint32

	lastAuthoritative float64
	hasAuthoritative  bool

	evicted int
	// OnEvict 未确认输入超过上限被淘汰时调用，oldest 为本次淘汰中最早的序号
	OnEvict func(n int, oldest uint32)
}

// NewPredictor 创建预测器；零值参数使用默认配置
func NewPredictor(step core.StepFunc, historySize int, threshold float64, window time.Duration) *Predictor {
	if step == nil {
		step = core.EulerStep
	}
	if historySize <= 0 {
		historySize = HistorySize
	}
	if threshold <= 0 {
		threshold = ReconciliationThreshold
	}
	windowMs := float64(window.Milliseconds())
	if windowMs <= 0 {
		windowMs = ReconciliationWindowMs
	}
	return &Predictor{
		step:        step,
		historySize: historySize,
		threshold:   threshold,
		windowMs:    windowMs,
		history:     make([]core.KinematicState, 0, historySize),
	}
}

// Reset 以 state 为起点清空历史与输入
func (p *Predictor) Reset(state core.KinematicState) {
	p.current = state
	p.history = append(p.history[:0], state)
	p.inputs = p.inputs[:0]
	p.hasAuthoritative = false
	p.lastAuthoritative = 0
}

// Rebase 把整条预测时间轴平移到以 ts 为当前时刻，历史与未确认输入一起平移，返回平移量
func (p *Predictor) Rebase(ts float64) float64 {
	shift := ts - p.current.Timestamp
	if shift == 0 || math.IsNaN(shift) {
		return 0
	}
	p.current.Timestamp = ts
	for i := range p.history {
		p.history[i].Timestamp += shift
	}
	for i := range p.inputs {
		p.inputs[i].Timestamp += shift
	}
	if p.hasAuthoritative {
		p.lastAuthoritative += shift
	}
	return shift
}

// Current 当前预测状态
func (p *Predictor) Current() core.KinematicState { return p.current }

// Predict 立即应用输入并推进 dt 毫秒；dt <= 0 时不做任何事
func (p *Predictor) Predict(input core.Input, dt float64) (core.KinematicState, core.InputRecord, bool) {
	if dt <= 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		return p.current, core.InputRecord{}, false
	}
	p.seq++
	rec := core.InputRecord{
		Input:     input,
		Timestamp: p.current.Timestamp,
		Sequence:  p.seq,
		Dt:        dt,
	}
	p.current = p.advance(p.current, input, dt)

	p.inputs = append(p.inputs, rec)
	if over := len(p.inputs) - max(InputBufferSize, p.historySize); over > 0 {
		oldest := p.inputs[0].Sequence
		p.inputs = append(p.inputs[:0], p.inputs[over:]...)
		p.evicted += over
		if p.OnEvict != nil {
			p.OnEvict(over, oldest)
		}
	}
	return p.current, rec, true
}

// PredictFrom 从给定状态推进 dt 毫秒并记入历史（不记录输入）
func (p *Predictor) PredictFrom(state core.KinematicState, dt float64) core.KinematicState {
	if dt <= 0 {
		return state
	}
	p.current = p.advance(state, core.Input{}, dt)
	return p.current
}

func (p *Predictor) advance(state core.KinematicState, input core.Input, dt float64) core.KinematicState {
	next := p.step(state, input, dt)
	next.Timestamp = state.Timestamp + dt
	p.appendHistory(next)
	return next
}

// appendHistory 保持时间戳严格递增并限制长度
func (p *Predictor) appendHistory(state core.KinematicState) {
	n := len(p.history)
	for n > 0 && p.history[n-1].Timestamp >= state.Timestamp {
		n--
	}
	p.history = append(p.history[:n], state)
	if over := len(p.history) - p.historySize; over > 0 {
		p.history = append(p.history[:0], p.history[over:]...)
	}
}

// Reconcile 用权威状态校正本地预测
func (p *Predictor) Reconcile(server core.KinematicState) ReconcileResult {
	if p.hasAuthoritative && server.Timestamp < p.lastAuthoritative {
		return ReconcileResult{Outcome: ReconcileStale}
	}
	p.lastAuthoritative = server.Timestamp
	p.hasAuthoritative = true

	idx := p.nearest(server.Timestamp)
	if idx < 0 {
		p.current = server
		p.history = append(p.history[:0], server)
		return ReconcileResult{Outcome: ReconcileAccepted}
	}

	errDist := p.history[idx].Distance(server)
	if errDist < p.threshold {
		return ReconcileResult{Outcome: ReconcileKept, Error: errDist}
	}

	// 丢弃从匹配点开始的历史（以及任何不早于权威时间戳的条目）
	cut := idx
	for cut > 0 && p.history[cut-1].Timestamp >= server.Timestamp {
		cut--
	}
	p.history = p.history[:cut]
	p.current = server
	p.appendHistory(server)

	replayed := 0
	for _, rec := range p.inputs {
		if rec.Timestamp < server.Timestamp {
			continue
		}
		p.current = p.advance(p.current, rec.Input, rec.Dt)
		replayed++
	}
	return ReconcileResult{Outcome: ReconcileCorrected, Error: errDist, Replayed: replayed}
}

// nearest 返回容差窗口内时间戳最接近 ts 的历史下标，没有则返回 -1
func (p *Predictor) nearest(ts float64) int {
	best, bestDiff := -1, math.Inf(1)
	for i, s := range p.history {
		diff := math.Abs(s.Timestamp - ts)
		if diff <= p.windowMs && diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	return best
}

// ClearOldInputs 删除序号不大于 ackSeq 的输入，返回删除数量
func (p *Predictor) ClearOldInputs(ackSeq uint32) int {
	n := 0
	for n < len(p.inputs) && p.inputs[n].Sequence <= ackSeq {
		n++
	}
	if n > 0 {
		p.inputs = append(p.inputs[:0], p.inputs[n:]...)
	}
	return n
}

// ClearOldStates 删除时间戳早于 before 的历史，返回删除数量
func (p *Predictor) ClearOldStates(before float64) int {
	n := 0
	for n < len(p.history) && p.history[n].Timestamp < before {
		n++
	}
	if n > 0 {
		p.history = append(p.history[:0], p.history[n:]...)
	}
	return n
}

// History 状态历史副本
func (p *Predictor) History() []core.KinematicState {
	out := make([]core.KinematicState, len(p.history))
	copy(out, p.history)
	return out
}

// PendingInputs 未确认输入副本
func (p *Predictor) PendingInputs() []core.InputRecord {
	out := make([]core.InputRecord, len(p.inputs))
	copy(out, p.inputs)
	return out
}

// Evicted 累计被淘汰的未确认输入数量
func (p *Predictor) Evicted() int { return p.evicted }

// Sequence 最近一次输入的序号
func (p *Predictor) Sequence() uint32 { return p.seq }
