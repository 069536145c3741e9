package core

import "math"

// Input 表示一帧内玩家的输入
// MoveX/MoveY 为期望移动方向，Buttons 为按键位掩码
type Input struct {
	MoveX   float64
	MoveY   float64
	Buttons uint32
}

// InputRecord 输入与其被应用的时刻绑定，确认前一直保留用于重放
type InputRecord struct {
	Input     Input
	Timestamp float64 // 应用输入时的状态时间戳
	Sequence  uint32
	Dt        float64 // 本次预测推进的毫秒数
}

// StepFunc 外部模拟步进：由 state 经过 dt 毫秒、输入 input 得到新状态
type StepFunc func(state KinematicState, input Input, dt float64) KinematicState

// EulerStep 参考积分：position += velocity * dt，忽略输入
func EulerStep(state KinematicState, _ Input, dt float64) KinematicState {
	return KinematicState{
		X:         state.X + state.VX*dt,
		Y:         state.Y + state.VY*dt,
		VX:        state.VX,
		VY:        state.VY,
		Timestamp: state.Timestamp + dt,
	}
}

// VelocityStep 先由输入方向设置速度再做欧拉积分
// 斜向移动时归一化，避免速度变快
func VelocityStep(speed float64) StepFunc {
	return func(state KinematicState, input Input, dt float64) KinematicState {
		mx, my := input.MoveX, input.MoveY
		if l := math.Hypot(mx, my); l > 1 {
			mx /= l
			my /= l
		}
		state.VX = mx * speed
		state.VY = my * speed
		return EulerStep(state, input, dt)
	}
}
