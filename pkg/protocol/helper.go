package protocol

import (
	"statesync/pkg/codec"
	"statesync/pkg/core"

	"google.golang.org/protobuf/types/known/structpb"
)

// ========== 辅助构造方法 ==========

// NewConnect 构造握手消息
func NewConnect(entityID, sessionToken string) *ConnectPayload {
	return &ConnectPayload{
		ProtocolVersion: ProtocolVersion,
		EntityID:        entityID,
		SessionToken:    sessionToken,
	}
}

// NewPing 构造心跳消息
func NewPing(id string) *PingPayload {
	return &PingPayload{ID: id}
}

// NewPong 构造心跳响应
func NewPong(id string, serverTime int64) *PongPayload {
	return &PongPayload{ID: id, ServerTime: serverTime}
}

// NewError 构造错误消息
func NewError(code ErrorCode, message string) *ErrorPayload {
	return &ErrorPayload{Code: code, Message: message}
}

// NewStateUpdate 构造实体状态消息；q 为 nil 时发送原始浮点数
func NewStateUpdate(snap core.Snapshot, q *codec.Quantizer) *StateUpdatePayload {
	p := &StateUpdatePayload{
		EntityID:  snap.EntityID,
		Timestamp: snap.ServerTimestamp,
	}
	if q != nil {
		p.Compressed = true
		p.Position = q.CompressPosition(snap.State.X, snap.State.Y)
		p.Velocity = q.CompressVelocity(snap.State.VX, snap.State.VY)
		return p
	}
	p.X, p.Y = snap.State.X, snap.State.Y
	p.VX, p.VY = snap.State.VX, snap.State.VY
	return p
}

// Snapshot 将状态消息还原为快照，压缩字段使用 q 解码
func (p *StateUpdatePayload) Snapshot(q codec.Quantizer) core.Snapshot {
	state := core.KinematicState{
		X: p.X, Y: p.Y, VX: p.VX, VY: p.VY,
		Timestamp: float64(p.Timestamp),
	}
	if p.Compressed {
		state.X, state.Y = q.DecompressPosition(p.Position)
		state.VX, state.VY = q.DecompressVelocity(p.Velocity)
	}
	return core.Snapshot{
		EntityID:        p.EntityID,
		State:           state,
		ServerTimestamp: p.Timestamp,
	}
}

// NewInput 由输入记录构造输入消息
func NewInput(rec core.InputRecord) *InputPayload {
	return &InputPayload{
		Sequence:  rec.Sequence,
		MoveX:     rec.Input.MoveX,
		MoveY:     rec.Input.MoveY,
		Buttons:   rec.Input.Buttons,
		Dt:        rec.Dt,
		Timestamp: rec.Timestamp,
	}
}

// Input 还原为模拟输入
func (p *InputPayload) Input() core.Input {
	return core.Input{MoveX: p.MoveX, MoveY: p.MoveY, Buttons: p.Buttons}
}

// NewOpaque 构造透传消息，fields 须可被 structpb 表示
func NewOpaque(kind MessageType, fields map[string]any) (*OpaquePayload, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return &OpaquePayload{Kind: kind, Data: s}, nil
}
