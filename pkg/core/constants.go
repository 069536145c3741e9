package core

// 世界尺寸与运动学上限
const (
	// WorldMaxRange 坐标允许范围为 [-WorldMaxRange, WorldMaxRange]
	WorldMaxRange = 10000.0

	// MaxVelocity 速度分量上限（单位/毫秒）
	MaxVelocity = 2.0

	// DefaultMoveSpeed 输入方向为单位向量时对应的移动速度（单位/毫秒）
	DefaultMoveSpeed = 0.25
)

// 模拟节奏
const (
	FPS = 60

	// FrameMillis 一帧对应的毫秒数
	FrameMillis = 1000.0 / FPS
)
