package core

import "math"

// KinematicState 某一时刻单个实体的运动学状态，记录后不再修改
// Timestamp 单位为毫秒（权威时间轴）
type KinematicState struct {
	X, Y      float64
	VX, VY    float64
	Timestamp float64
}

// Distance 两个状态之间的位置误差（欧氏距离）
func (s KinematicState) Distance(other KinematicState) float64 {
	return math.Hypot(s.X-other.X, s.Y-other.Y)
}

// WithTimestamp 返回时间戳替换后的副本
func (s KinematicState) WithTimestamp(ts float64) KinematicState {
	s.Timestamp = ts
	return s
}

// Lerp 在 s 与 next 之间按 alpha 线性插值，时间戳取 ts
func (s KinematicState) Lerp(next KinematicState, alpha, ts float64) KinematicState {
	return KinematicState{
		X:         s.X + (next.X-s.X)*alpha,
		Y:         s.Y + (next.Y-s.Y)*alpha,
		VX:        s.VX + (next.VX-s.VX)*alpha,
		VY:        s.VY + (next.VY-s.VY)*alpha,
		Timestamp: ts,
	}
}

// Snapshot 权威端广播的某个实体的状态
type Snapshot struct {
	EntityID        string
	State           KinematicState
	ServerTimestamp int64
}
