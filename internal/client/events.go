package client

import (
	"fmt"
	"log"
	"time"

	"statesync/pkg/protocol"
)

// 事件名称
const (
	EventStateChange      = "state"
	EventConnected        = "connected"
	EventReconnecting     = "reconnecting"
	EventReconnected      = "reconnected"
	EventDisconnected     = "disconnected"
	EventRetriesExhausted = "retries_exhausted"
	EventFatal            = "fatal"
	EventError            = "error"
	EventRoomJoined       = "room_joined"
	EventEntityAdded      = "entity_added"
	EventEntityRemoved    = "entity_removed"
	EventCorrection       = "correction"
	EventMessage          = "message" // 不透明类型透传
)

// Event 派发给订阅者的事件
type Event struct {
	Name      string
	State     ConnState
	Prev      ConnState
	Attempt   int
	Delay     time.Duration
	Code      protocol.ErrorCode
	Message   string
	EntityID  string
	RoomID    string
	Envelope  *protocol.Envelope
	Reconcile ReconcileResult
	Err       error
}

// Handler 事件处理函数；返回的错误只会被记录
type Handler func(Event) error

type subscription struct {
	id      uint64
	handler Handler
}

// EventBus 按事件名扇出的发布/订阅
//
// 单个处理函数的错误或 panic 会被捕获并记录，不影响其他订阅者。
// 与会话其余部分一样，只能在会话线程上使用。
type EventBus struct {
	subs   map[string][]subscription
	nextID uint64
	logger *log.Logger
}

// NewEventBus 创建事件总线
func NewEventBus(logger *log.Logger) *EventBus {
	if logger == nil {
		logger = log.Default()
	}
	return &EventBus{
		subs:   make(map[string][]subscription),
		logger: logger,
	}
}

// Subscribe 订阅事件，返回的函数用于取消订阅（可重复调用）
func (b *EventBus) Subscribe(name string, h Handler) func() {
	b.nextID++
	id := b.nextID
	b.subs[name] = append(b.subs[name], subscription{id: id, handler: h})

	return func() {
		list := b.subs[name]
		for i, s := range list {
			if s.id == id {
				// 复制而不是原地删除，正在进行的派发仍持有旧切片
				next := make([]subscription, 0, len(list)-1)
				next = append(next, list[:i]...)
				next = append(next, list[i+1:]...)
				if len(next) == 0 {
					delete(b.subs, name)
				} else {
					b.subs[name] = next
				}
				return
			}
		}
	}
}

// Publish 派发事件，返回成功处理的订阅者数量
func (b *EventBus) Publish(ev Event) int {
	delivered := 0
	for _, s := range b.subs[ev.Name] {
		if err := b.deliver(s, ev); err != nil {
			b.logger.Printf("事件 %s 处理失败: %v", ev.Name, err)
			continue
		}
		delivered++
	}
	return delivered
}

// Subscribers 订阅者数量
func (b *EventBus) Subscribers(name string) int {
	return len(b.subs[name])
}

func (b *EventBus) deliver(s subscription, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if s.handler == nil {
		return nil
	}
	return s.handler(ev)
}
