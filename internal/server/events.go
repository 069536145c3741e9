package server

import (
	"statesync/pkg/core"
	"statesync/pkg/protocol"
)

// 以下为投递到世界循环的请求

type joinRequest struct {
	peer     Peer
	entityID string
	resume   bool
	respCh   chan core.KinematicState
}

type inputEvent struct {
	entityID string
	sequence uint32
	input    core.Input
	dt       float64
	ts       float64 // 客户端预测时间轴上输入被应用的时刻
}

type leaveEvent struct {
	entityID string
	peer     Peer
}

type roomRequest struct {
	entityID string
	roomID   string
	respCh   chan error
}

type relayEvent struct {
	entityID string
	payload  *protocol.OpaquePayload
}

// WorldStats 世界快照统计
type WorldStats struct {
	Entities int
	Parked   int
	Rooms    map[string]int
	Ticks    uint64
}
