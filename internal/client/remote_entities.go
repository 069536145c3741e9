package client

import (
	"time"

	"statesync/pkg/core"
)

// RemoteEntities 每个远端实体一个插值缓冲：首个快照到达时创建，玩家离开时销毁
type RemoteEntities struct {
	buffers       map[string]*InterpolationBuffer
	capacity      int
	delayMs       float64
	deadReckoning time.Duration
}

// NewRemoteEntities 创建远端实体集合
func NewRemoteEntities(capacity int, delay, deadReckoning time.Duration) *RemoteEntities {
	if delay <= 0 {
		delay = time.Duration(DefaultInterpolationDelayMs) * time.Millisecond
	}
	return &RemoteEntities{
		buffers:       make(map[string]*InterpolationBuffer),
		capacity:      capacity,
		delayMs:       float64(delay.Milliseconds()),
		deadReckoning: deadReckoning,
	}
}

// Add 写入快照，必要时创建缓冲
func (r *RemoteEntities) Add(snap core.Snapshot) {
	buf, ok := r.buffers[snap.EntityID]
	if !ok {
		buf = NewInterpolationBuffer(r.capacity, r.deadReckoning)
		r.buffers[snap.EntityID] = buf
	}
	buf.Add(snap)
}

// Remove 销毁实体缓冲，返回实体是否存在
func (r *RemoteEntities) Remove(entityID string) bool {
	if _, ok := r.buffers[entityID]; !ok {
		return false
	}
	delete(r.buffers, entityID)
	return true
}

// Buffer 获取实体缓冲
func (r *RemoteEntities) Buffer(entityID string) (*InterpolationBuffer, bool) {
	buf, ok := r.buffers[entityID]
	return buf, ok
}

// SetInterpolationDelay 调整渲染延迟
func (r *RemoteEntities) SetInterpolationDelay(delay time.Duration) {
	if delay > 0 {
		r.delayMs = float64(delay.Milliseconds())
	}
}

// RenderTime 渲染时间 = 权威时间 - 插值延迟
func (r *RemoteEntities) RenderTime(now int64) float64 {
	return float64(now) - r.delayMs
}

// Render 在 renderTime 采样所有实体并清理不再需要的快照
func (r *RemoteEntities) Render(now int64) map[string]core.KinematicState {
	renderTime := r.RenderTime(now)
	out := make(map[string]core.KinematicState, len(r.buffers))
	for id, buf := range r.buffers {
		if state, ok := buf.Sample(renderTime); ok {
			out[id] = state
		}
		buf.Prune(renderTime)
	}
	return out
}

// Len 实体数量
func (r *RemoteEntities) Len() int { return len(r.buffers) }

// Clear 清空所有实体
func (r *RemoteEntities) Clear() {
	r.buffers = make(map[string]*InterpolationBuffer)
}
