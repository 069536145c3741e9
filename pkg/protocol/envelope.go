package protocol

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrEmptyFrame   = errors.New("empty frame")
	ErrMissingType  = errors.New("envelope type missing")
	ErrNilPayload   = errors.New("nil payload")
	ErrUnknownCodec = errors.New("unknown codec")
)

// Envelope 所有消息的外层信封，Timestamp 为发送方毫秒时间
type Envelope struct {
	ID        string
	Type      MessageType
	Timestamp int64
	Payload   Payload
}

// NewEnvelope 使用唯一 ID 和发送时间包装负载
func NewEnvelope(p Payload, timestamp int64) *Envelope {
	return &Envelope{
		ID:        uuid.NewString(),
		Type:      p.MessageType(),
		Timestamp: timestamp,
		Payload:   p,
	}
}

// Codec 信封编解码器
type Codec interface {
	Name() string
	Marshal(env *Envelope) ([]byte, error)
	Unmarshal(data []byte) (*Envelope, error)
}

// NewCodec 按名称选择编解码器："proto"（默认）或 "msgpack"
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", "proto":
		return ProtoCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCodec, name)
	}
}

func validate(env *Envelope) error {
	if env == nil || env.Payload == nil {
		return ErrNilPayload
	}
	if env.Type == "" {
		return ErrMissingType
	}
	return nil
}
