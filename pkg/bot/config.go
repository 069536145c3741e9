package bot

// Config 机器人行为参数
type Config struct {
	// ThinkIntervalFrames 思考间隔（帧），两次思考之间沿用上一次的输入
	ThinkIntervalFrames int

	// MistakeRate 随机失误率 (0.0-1.0)
	MistakeRate float64

	// ArenaRadius 活动范围，超出后回到原点附近
	ArenaRadius float64

	// AvoidRadius 与其他实体小于该距离时躲开
	AvoidRadius float64

	// Chase 是否追逐最近的实体
	Chase bool

	// WanderThinks 游荡时保持同一方向的思考次数
	WanderThinks int
}

// ConfigWander 预设：随机游荡，适合压测
var ConfigWander = Config{
	ThinkIntervalFrames: 15,
	MistakeRate:         0.05,
	ArenaRadius:         300,
	AvoidRadius:         30,
	WanderThinks:        4,
}

// ConfigChaser 预设：追逐最近的实体，用于观察插值与校正
var ConfigChaser = Config{
	ThinkIntervalFrames: 6,
	ArenaRadius:         500,
	AvoidRadius:         15,
	Chase:               true,
	WanderThinks:        2,
}
