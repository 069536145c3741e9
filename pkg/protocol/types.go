package protocol

import (
	"google.golang.org/protobuf/types/known/structpb"
)

// ProtocolVersion 线协议版本，CONNECT 时由双方校验
const ProtocolVersion int32 = 1

// MessageType 信封类型
type MessageType string

// 已识别的消息类型，其余类型按不透明负载透传
const (
	MsgConnect     MessageType = "CONNECT"
	MsgHeartbeat   MessageType = "HEARTBEAT"
	MsgPing        MessageType = "PING"
	MsgPong        MessageType = "PONG"
	MsgStateUpdate MessageType = "STATE_UPDATE"
	MsgError       MessageType = "ERROR"
	MsgJoinRoom    MessageType = "JOIN_ROOM"
	MsgRoomJoined  MessageType = "ROOM_JOINED"
	MsgPlayerLeft  MessageType = "PLAYER_LEFT"
	MsgInput       MessageType = "INPUT"
	MsgInputAck    MessageType = "INPUT_ACK"
)

// Known 是否为本层识别的类型
func (t MessageType) Known() bool {
	switch t {
	case MsgConnect, MsgHeartbeat, MsgPing, MsgPong, MsgStateUpdate, MsgError,
		MsgJoinRoom, MsgRoomJoined, MsgPlayerLeft, MsgInput, MsgInputAck:
		return true
	}
	return false
}

// ErrorCode ERROR 消息携带的错误码
type ErrorCode string

const (
	CodeAuthFailed      ErrorCode = "AUTH_FAILED"
	CodeBanned          ErrorCode = "BANNED"
	CodeVersionMismatch ErrorCode = "VERSION_MISMATCH"
	CodeRoomNotFound    ErrorCode = "ROOM_NOT_FOUND"
	CodeRateLimited     ErrorCode = "RATE_LIMITED"
	CodeBadRequest      ErrorCode = "BAD_REQUEST"
)

// Fatal 致命错误码不会触发重连
func (c ErrorCode) Fatal() bool {
	switch c {
	case CodeAuthFailed, CodeBanned, CodeVersionMismatch:
		return true
	}
	return false
}

// Payload 按消息类型区分的负载，集合是封闭的；未知类型对应 *OpaquePayload
type Payload interface {
	MessageType() MessageType
	appendWire(w *wireWriter) error
	readWire(raw []byte) error
}

// ConnectPayload 握手：客户端上报协议版本与旧会话令牌，权威端回填实体 ID 与新令牌
type ConnectPayload struct {
	ProtocolVersion int32  `msgpack:"v"`
	EntityID        string `msgpack:"entity,omitempty"`
	SessionToken    string `msgpack:"token,omitempty"`
}

// PingPayload PING / HEARTBEAT
type PingPayload struct {
	ID string `msgpack:"id"`
}

// PongPayload 回显 ping id 并附带应答方自己的时间戳
type PongPayload struct {
	ID         string `msgpack:"id"`
	ServerTime int64  `msgpack:"st"`
}

// StateUpdatePayload 实体状态；Compressed 为 true 时使用量化字段
type StateUpdatePayload struct {
	EntityID   string  `msgpack:"entity"`
	Compressed bool    `msgpack:"c,omitempty"`
	Position   uint32  `msgpack:"pos,omitempty"`
	Velocity   uint32  `msgpack:"vel,omitempty"`
	X          float64 `msgpack:"x,omitempty"`
	Y          float64 `msgpack:"y,omitempty"`
	VX         float64 `msgpack:"vx,omitempty"`
	VY         float64 `msgpack:"vy,omitempty"`
	Timestamp  int64   `msgpack:"ts"`
}

// ErrorPayload 错误通知
type ErrorPayload struct {
	Code    ErrorCode `msgpack:"code"`
	Message string    `msgpack:"msg,omitempty"`
}

// JoinRoomPayload 加入（或重新加入）房间
type JoinRoomPayload struct {
	RoomID       string `msgpack:"room"`
	SessionToken string `msgpack:"token,omitempty"`
}

// RoomJoinedPayload 加入房间成功
type RoomJoinedPayload struct {
	RoomID   string `msgpack:"room"`
	EntityID string `msgpack:"entity,omitempty"`
}

// PlayerLeftPayload 玩家离开
type PlayerLeftPayload struct {
	EntityID string `msgpack:"entity"`
}

// InputPayload 本地输入
type InputPayload struct {
	Sequence  uint32  `msgpack:"seq"`
	MoveX     float64 `msgpack:"mx,omitempty"`
	MoveY     float64 `msgpack:"my,omitempty"`
	Buttons   uint32  `msgpack:"btn,omitempty"`
	Dt        float64 `msgpack:"dt"`
	Timestamp float64 `msgpack:"ts"`
}

// InputAckPayload 权威端确认已处理到的输入序号
type InputAckPayload struct {
	Sequence uint32 `msgpack:"seq"`
}

// OpaquePayload 非核心类型（房间、聊天、在线状态等）原样透传
type OpaquePayload struct {
	Kind MessageType
	Data *structpb.Struct
}

func (*ConnectPayload) MessageType() MessageType     { return MsgConnect }
func (*PingPayload) MessageType() MessageType        { return MsgPing }
func (*PongPayload) MessageType() MessageType        { return MsgPong }
func (*StateUpdatePayload) MessageType() MessageType { return MsgStateUpdate }
func (*ErrorPayload) MessageType() MessageType       { return MsgError }
func (*JoinRoomPayload) MessageType() MessageType    { return MsgJoinRoom }
func (*RoomJoinedPayload) MessageType() MessageType  { return MsgRoomJoined }
func (*PlayerLeftPayload) MessageType() MessageType  { return MsgPlayerLeft }
func (*InputPayload) MessageType() MessageType       { return MsgInput }
func (*InputAckPayload) MessageType() MessageType    { return MsgInputAck }
func (p *OpaquePayload) MessageType() MessageType    { return p.Kind }

// newPayload 根据类型创建空负载；未知类型返回不透明负载
func newPayload(t MessageType) Payload {
	switch t {
	case MsgConnect:
		return &ConnectPayload{}
	case MsgPing, MsgHeartbeat:
		return &PingPayload{}
	case MsgPong:
		return &PongPayload{}
	case MsgStateUpdate:
		return &StateUpdatePayload{}
	case MsgError:
		return &ErrorPayload{}
	case MsgJoinRoom:
		return &JoinRoomPayload{}
	case MsgRoomJoined:
		return &RoomJoinedPayload{}
	case MsgPlayerLeft:
		return &PlayerLeftPayload{}
	case MsgInput:
		return &InputPayload{}
	case MsgInputAck:
		return &InputAckPayload{}
	default:
		return &OpaquePayload{Kind: t}
	}
}
