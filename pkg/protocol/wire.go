package protocol

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// 信封字段号
const (
	fieldEnvelopeID        protowire.Number = 1
	fieldEnvelopeType      protowire.Number = 2
	fieldEnvelopeTimestamp protowire.Number = 3
	fieldEnvelopePayload   protowire.Number = 4
)

// ProtoCodec 以 protobuf 线格式编码信封，负载为按类型编码的嵌套消息
type ProtoCodec struct{}

func (ProtoCodec) Name() string { return "proto" }

// Marshal 将信封编码为字节切片
func (ProtoCodec) Marshal(env *Envelope) ([]byte, error) {
	if err := validate(env); err != nil {
		return nil, err
	}
	var payload wireWriter
	if err := env.Payload.appendWire(&payload); err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", env.Type, err)
	}

	w := wireWriter{b: make([]byte, 0, len(payload.b)+64)}
	w.str(fieldEnvelopeID, env.ID)
	w.str(fieldEnvelopeType, string(env.Type))
	w.sint(fieldEnvelopeTimestamp, env.Timestamp)
	w.bytes(fieldEnvelopePayload, payload.b)
	return w.b, nil
}

// Unmarshal 解析信封；未知类型解析为 *OpaquePayload
func (ProtoCodec) Unmarshal(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}
	fs, err := readFields(data)
	if err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	env := &Envelope{
		ID:        fs.str(fieldEnvelopeID),
		Type:      MessageType(fs.str(fieldEnvelopeType)),
		Timestamp: fs.sint(fieldEnvelopeTimestamp),
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}

	p := newPayload(env.Type)
	if err := p.readWire(fs.raw(fieldEnvelopePayload)); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	env.Payload = p
	return env, nil
}

// ========== 底层读写 ==========

type wireWriter struct {
	b []byte
}

func (w *wireWriter) str(num protowire.Number, s string) {
	if s == "" {
		return
	}
	w.b = protowire.AppendTag(w.b, num, protowire.BytesType)
	w.b = protowire.AppendString(w.b, s)
}

func (w *wireWriter) bytes(num protowire.Number, v []byte) {
	if len(v) == 0 {
		return
	}
	w.b = protowire.AppendTag(w.b, num, protowire.BytesType)
	w.b = protowire.AppendBytes(w.b, v)
}

func (w *wireWriter) uint(num protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	w.b = protowire.AppendTag(w.b, num, protowire.VarintType)
	w.b = protowire.AppendVarint(w.b, v)
}

func (w *wireWriter) sint(num protowire.Number, v int64) {
	if v == 0 {
		return
	}
	w.b = protowire.AppendTag(w.b, num, protowire.VarintType)
	w.b = protowire.AppendVarint(w.b, protowire.EncodeZigZag(v))
}

func (w *wireWriter) boolean(num protowire.Number, v bool) {
	if v {
		w.uint(num, 1)
	}
}

func (w *wireWriter) fixed32(num protowire.Number, v uint32) {
	if v == 0 {
		return
	}
	w.b = protowire.AppendTag(w.b, num, protowire.Fixed32Type)
	w.b = protowire.AppendFixed32(w.b, v)
}

func (w *wireWriter) double(num protowire.Number, v float64) {
	if v == 0 {
		return
	}
	w.b = protowire.AppendTag(w.b, num, protowire.Fixed64Type)
	w.b = protowire.AppendFixed64(w.b, math.Float64bits(v))
}

type field struct {
	typ protowire.Type
	u   uint64
	raw []byte
}

// fieldSet 字段号到值的映射，重复字段以最后一次为准
type fieldSet map[protowire.Number]field

func readFields(b []byte) (fieldSet, error) {
	fs := make(fieldSet)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		f := field{typ: typ}
		switch typ {
		case protowire.VarintType:
			f.u, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.u = uint64(v)
		case protowire.Fixed64Type:
			f.u, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.raw, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		fs[num] = f
	}
	return fs, nil
}

func (fs fieldSet) str(num protowire.Number) string  { return string(fs[num].raw) }
func (fs fieldSet) raw(num protowire.Number) []byte  { return fs[num].raw }
func (fs fieldSet) uint(num protowire.Number) uint64 { return fs[num].u }
func (fs fieldSet) boolean(num protowire.Number) bool {
	return fs[num].u != 0
}
func (fs fieldSet) sint(num protowire.Number) int64 {
	return protowire.DecodeZigZag(fs[num].u)
}
func (fs fieldSet) double(num protowire.Number) float64 {
	return math.Float64frombits(fs[num].u)
}

// ========== 各负载的线格式 ==========

func (p *ConnectPayload) appendWire(w *wireWriter) error {
	w.sint(1, int64(p.ProtocolVersion))
	w.str(2, p.EntityID)
	w.str(3, p.SessionToken)
	return nil
}

func (p *ConnectPayload) readWire(raw []byte) error {
	fs, err := readFields(raw)
	if err != nil {
		return err
	}
	p.ProtocolVersion = int32(fs.sint(1))
	p.EntityID = fs.str(2)
	p.SessionToken = fs.str(3)
	return nil
}

func (p *PingPayload) appendWire(w *wireWriter) error {
	w.str(1, p.ID)
	return nil
}

func (p *PingPayload) readWire(raw []byte) error {
	fs, err := readFields(raw)
	if err != nil {
		return err
	}
	p.ID = fs.str(1)
	return nil
}

func (p *PongPayload) appendWire(w *wireWriter) error {
	w.str(1, p.ID)
	w.sint(2, p.ServerTime)
	return nil
}

func (p *PongPayload) readWire(raw []byte) error {
	fs, err := readFields(raw)
	if err != nil {
		return err
	}
	p.ID = fs.str(1)
	p.ServerTime = fs.sint(2)
	return nil
}

func (p *StateUpdatePayload) appendWire(w *wireWriter) error {
	w.str(1, p.EntityID)
	w.boolean(2, p.Compressed)
	w.fixed32(3, p.Position)
	w.fixed32(4, p.Velocity)
	w.double(5, p.X)
	w.double(6, p.Y)
	w.double(7, p.VX)
	w.double(8, p.VY)
	w.sint(9, p.Timestamp)
	return nil
}

func (p *StateUpdatePayload) readWire(raw []byte) error {
	fs, err := readFields(raw)
	if err != nil {
		return err
	}
	p.EntityID = fs.str(1)
	p.Compressed = fs.boolean(2)
	p.Position = uint32(fs.uint(3))
	p.Velocity = uint32(fs.uint(4))
	p.X = fs.double(5)
	p.Y = fs.double(6)
	p.VX = fs.double(7)
	p.VY = fs.double(8)
	p.Timestamp = fs.sint(9)
	if p.EntityID == "" {
		return fmt.Errorf("state update without entity id")
	}
	return nil
}

func (p *ErrorPayload) appendWire(w *wireWriter) error {
	w.str(1, string(p.Code))
	w.str(2, p.Message)
	return nil
}

func (p *ErrorPayload) readWire(raw []byte) error {
	fs, err := readFields(raw)
	if err != nil {
		return err
	}
	p.Code = ErrorCode(fs.str(1))
	p.Message = fs.str(2)
	return nil
}

func (p *JoinRoomPayload) appendWire(w *wireWriter) error {
	w.str(1, p.RoomID)
	w.str(2, p.SessionToken)
	return nil
}

func (p *JoinRoomPayload) readWire(raw []byte) error {
	fs, err := readFields(raw)
	if err != nil {
		return err
	}
	p.RoomID = fs.str(1)
	p.SessionToken = fs.str(2)
	return nil
}

func (p *RoomJoinedPayload) appendWire(w *wireWriter) error {
	w.str(1, p.RoomID)
	w.str(2, p.EntityID)
	return nil
}

func (p *RoomJoinedPayload) readWire(raw []byte) error {
	fs, err := readFields(raw)
	if err != nil {
		return err
	}
	p.RoomID = fs.str(1)
	p.EntityID = fs.str(2)
	return nil
}

func (p *PlayerLeftPayload) appendWire(w *wireWriter) error {
	w.str(1, p.EntityID)
	return nil
}

func (p *PlayerLeftPayload) readWire(raw []byte) error {
	fs, err := readFields(raw)
	if err != nil {
		return err
	}
	p.EntityID = fs.str(1)
	return nil
}

func (p *InputPayload) appendWire(w *wireWriter) error {
	w.uint(1, uint64(p.Sequence))
	w.double(2, p.MoveX)
	w.double(3, p.MoveY)
	w.uint(4, uint64(p.Buttons))
	w.double(5, p.Dt)
	w.double(6, p.Timestamp)
	return nil
}

func (p *InputPayload) readWire(raw []byte) error {
	fs, err := readFields(raw)
	if err != nil {
		return err
	}
	p.Sequence = uint32(fs.uint(1))
	p.MoveX = fs.double(2)
	p.MoveY = fs.double(3)
	p.Buttons = uint32(fs.uint(4))
	p.Dt = fs.double(5)
	p.Timestamp = fs.double(6)
	return nil
}

func (p *InputAckPayload) appendWire(w *wireWriter) error {
	w.uint(1, uint64(p.Sequence))
	return nil
}

func (p *InputAckPayload) readWire(raw []byte) error {
	fs, err := readFields(raw)
	if err != nil {
		return err
	}
	p.Sequence = uint32(fs.uint(1))
	return nil
}

// 不透明负载直接使用 google.protobuf.Struct 的线格式
func (p *OpaquePayload) appendWire(w *wireWriter) error {
	if p.Data == nil {
		return nil
	}
	data, err := proto.Marshal(p.Data)
	if err != nil {
		return err
	}
	w.b = append(w.b, data...)
	return nil
}

func (p *OpaquePayload) readWire(raw []byte) error {
	p.Data = &structpb.Struct{}
	return proto.Unmarshal(raw, p.Data)
}
