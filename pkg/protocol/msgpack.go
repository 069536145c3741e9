package protocol

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/types/known/structpb"
)

// MsgpackCodec 以 msgpack 编码信封，便于浏览器端直接解析
type MsgpackCodec struct{}

type msgpackEnvelope struct {
	ID        string             `msgpack:"id"`
	Type      string             `msgpack:"type"`
	Timestamp int64              `msgpack:"ts"`
	Payload   msgpack.RawMessage `msgpack:"payload"`
}

func (MsgpackCodec) Name() string { return "msgpack" }

// Marshal 将信封编码为字节切片
func (MsgpackCodec) Marshal(env *Envelope) ([]byte, error) {
	if err := validate(env); err != nil {
		return nil, err
	}

	var (
		payload []byte
		err     error
	)
	if op, ok := env.Payload.(*OpaquePayload); ok {
		var m map[string]any
		if op.Data != nil {
			m = op.Data.AsMap()
		}
		payload, err = msgpack.Marshal(m)
	} else {
		payload, err = msgpack.Marshal(env.Payload)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", env.Type, err)
	}

	return msgpack.Marshal(&msgpackEnvelope{
		ID:        env.ID,
		Type:      string(env.Type),
		Timestamp: env.Timestamp,
		Payload:   payload,
	})
}

// Unmarshal 解析信封；未知类型解析为 *OpaquePayload
func (MsgpackCodec) Unmarshal(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}
	var raw msgpackEnvelope
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if raw.Type == "" {
		return nil, ErrMissingType
	}

	env := &Envelope{
		ID:        raw.ID,
		Type:      MessageType(raw.Type),
		Timestamp: raw.Timestamp,
	}
	p := newPayload(env.Type)
	if op, ok := p.(*OpaquePayload); ok {
		var m map[string]any
		if len(raw.Payload) > 0 {
			if err := msgpack.Unmarshal(raw.Payload, &m); err != nil {
				return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
			}
		}
		s, err := structpb.NewStruct(m)
		if err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
		op.Data = s
	} else if len(raw.Payload) > 0 {
		if err := msgpack.Unmarshal(raw.Payload, p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
	}
	if su, ok := p.(*StateUpdatePayload); ok && su.EntityID == "" {
		return nil, fmt.Errorf("decode %s payload: state update without entity id", env.Type)
	}
	env.Payload = p
	return env, nil
}
