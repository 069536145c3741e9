package client

import "time"

// ===== 网络插值与预测配置（客户端专用）=====
const (
	// 插值缓冲延迟（毫秒）：远端实体渲染时间滞后于权威时间
	// 值越大越平滑，但延迟感越强；通常 100ms 是较好的折中
	DefaultInterpolationDelayMs int64 = 100

	// 插值缓冲区大小：每个远端实体存储最近 N 个快照
	InterpolationBufferSize = 30

	// 状态历史大小：本地预测状态的保留数量
	HistorySize = 60

	// 客户端预测：误差小于该值（单位）时保留本地预测
	ReconciliationThreshold = 5.0

	// 客户端预测：与权威时间戳匹配的容差窗口（毫秒）
	ReconciliationWindowMs = 50.0

	// 预测时间轴与估计权威时间的偏差超过该值（毫秒）时整体对齐
	TimelineDriftMs = 250.0

	// 时钟同步样本数
	ClockSampleSize = 10

	// 时钟同步过期时长
	ClockMaxAge = 30 * time.Second

	// 时钟过期后两次补发 ping 的最小间隔
	ClockResyncInterval = time.Second
)

// ===== 连接生命周期 =====
const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultBackoffBase       = 1000 * time.Millisecond
	DefaultBackoffCap        = 30000 * time.Millisecond
	DefaultBackoffMultiplier = 2.0
	DefaultMaxAttempts       = 5

	// inbox 容量：读协程与定时器投递到会话线程的待处理任务
	inboxSize = 256
)
