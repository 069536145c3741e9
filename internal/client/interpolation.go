package client

import (
	"sort"
	"time"

	"statesync/pkg/core"
)

// InterpolationBuffer 远端实体快照缓冲，按时间戳有序且有界
type InterpolationBuffer struct {
	buffer          []core.KinematicState
	capacity        int
	deadReckoningMs float64 // 超出缓冲末尾后允许外推的时长，0 表示不外推
}

// NewInterpolationBuffer 创建插值缓冲器
func NewInterpolationBuffer(capacity int, deadReckoning time.Duration) *InterpolationBuffer {
	if capacity <= 0 {
		capacity = InterpolationBufferSize
	}
	return &InterpolationBuffer{
		buffer:          make([]core.KinematicState, 0, capacity),
		capacity:        capacity,
		deadReckoningMs: float64(deadReckoning.Milliseconds()),
	}
}

// Add 按权威时间戳插入快照；相同时间戳覆盖旧值，超出容量时淘汰最旧的
func (b *InterpolationBuffer) Add(snap core.Snapshot) {
	state := snap.State.WithTimestamp(float64(snap.ServerTimestamp))

	i := sort.Search(len(b.buffer), func(i int) bool {
		return b.buffer[i].Timestamp >= state.Timestamp
	})
	switch {
	case i < len(b.buffer) && b.buffer[i].Timestamp == state.Timestamp:
		b.buffer[i] = state
	case i == len(b.buffer):
		b.buffer = append(b.buffer, state)
	default:
		b.buffer = append(b.buffer, core.KinematicState{})
		copy(b.buffer[i+1:], b.buffer[i:])
		b.buffer[i] = state
	}

	// 限制缓冲区大小
	if over := len(b.buffer) - b.capacity; over > 0 {
		b.buffer = append(b.buffer[:0], b.buffer[over:]...)
	}
}

// Sample 在 renderTime 处重建状态
//
// renderTime 落在两个快照之间时线性插值；早于首个快照返回首个；
// 晚于末尾返回最后已知状态（配置了航位推测时在时限内按末速度外推）。
func (b *InterpolationBuffer) Sample(renderTime float64) (core.KinematicState, bool) {
	if len(b.buffer) == 0 {
		return core.KinematicState{}, false
	}

	first := b.buffer[0]
	if renderTime <= first.Timestamp {
		return first.WithTimestamp(renderTime), true
	}

	// 在缓冲区中找到 renderTime 两侧的快照
	for i := 0; i < len(b.buffer)-1; i++ {
		prev, next := b.buffer[i], b.buffer[i+1]
		if prev.Timestamp <= renderTime && next.Timestamp >= renderTime {
			total := next.Timestamp - prev.Timestamp
			if total <= 0 {
				return next.WithTimestamp(renderTime), true
			}
			alpha := (renderTime - prev.Timestamp) / total
			return prev.Lerp(next, alpha, renderTime), true
		}
	}

	last := b.buffer[len(b.buffer)-1]
	since := renderTime - last.Timestamp
	if b.deadReckoningMs > 0 && since <= b.deadReckoningMs {
		// 航位推测：基于最后速度预测位置
		return core.KinematicState{
			X:         last.X + last.VX*since,
			Y:         last.Y + last.VY*since,
			VX:        last.VX,
			VY:        last.VY,
			Timestamp: renderTime,
		}, true
	}
	return last.WithTimestamp(renderTime), true
}

// RemoveOlderThan 删除时间戳早于 ts 的快照，返回删除数量
func (b *InterpolationBuffer) RemoveOlderThan(ts float64) int {
	i := sort.Search(len(b.buffer), func(i int) bool {
		return b.buffer[i].Timestamp >= ts
	})
	if i > 0 {
		b.buffer = append(b.buffer[:0], b.buffer[i:]...)
	}
	return i
}

// Prune 清理过期快照，保留 renderTime 之前的最后一个用于插值
func (b *InterpolationBuffer) Prune(renderTime float64) {
	cutoff := -1
	for i := 0; i < len(b.buffer); i++ {
		if b.buffer[i].Timestamp <= renderTime {
			cutoff = i
		} else {
			break
		}
	}
	if cutoff > 0 {
		b.buffer = append(b.buffer[:0], b.buffer[cutoff:]...)
	}
}

// Len 当前快照数量
func (b *InterpolationBuffer) Len() int { return len(b.buffer) }

// Latest 最新快照
func (b *InterpolationBuffer) Latest() (core.KinematicState, bool) {
	if len(b.buffer) == 0 {
		return core.KinematicState{}, false
	}
	return b.buffer[len(b.buffer)-1], true
}

// Timestamps 当前缓冲的时间戳序列
func (b *InterpolationBuffer) Timestamps() []float64 {
	out := make([]float64, len(b.buffer))
	for i, s := range b.buffer {
		out[i] = s.Timestamp
	}
	return out
}
