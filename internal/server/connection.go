package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"statesync/pkg/protocol"
	"statesync/pkg/transport"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	// 版本不匹配时，发出 ERROR 后等待多久关闭连接
	rejectGrace = time.Second
)

// Connection 表示一个客户端连接
type Connection struct {
	conn   transport.Conn
	server *Server
	codec  protocol.Codec
	logger *log.Logger

	entityID atomic.Value // string

	limiter     *rate.Limiter
	limitLog    rate.Sometimes
	badFrameLog rate.Sometimes

	closeCh   chan struct{}
	closeOnce sync.Once

	lastRecvTime atomic.Value // time.Time
	pingMu       sync.Mutex
	pingID       string
	pingSentAt   time.Time
	rtt          atomic.Int64
}

// NewConnection 创建新连接
func NewConnection(conn transport.Conn, server *Server) *Connection {
	c := &Connection{
		conn:     conn,
		server:   server,
		codec:    server.codec,
		logger:   server.logger,
		limiter:  rate.NewLimiter(rate.Limit(server.cfg.InputRate), server.cfg.InputBurst),
		limitLog: rate.Sometimes{First: 1, Interval: time.Second},
		closeCh:  make(chan struct{}),

		badFrameLog: rate.Sometimes{First: 3, Interval: 5 * time.Second},
	}
	c.entityID.Store("")
	c.lastRecvTime.Store(time.Now())
	return c
}

// Handle 处理连接直到断开或 ctx 结束
func (c *Connection) Handle(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	wg.Add(1)
	go c.startHeartbeat(ctx, wg)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.receiveLoop()
	}()

	select {
	case <-ctx.Done():
	case <-c.closeCh:
	case <-done:
	}
	c.Close()
}

// EntityID 分配的实体 ID，握手前为空
func (c *Connection) EntityID() string {
	id, _ := c.entityID.Load().(string)
	return id
}

// RTT 最近一次测得的往返时延
func (c *Connection) RTT() time.Duration {
	return time.Duration(c.rtt.Load()) * time.Millisecond
}

// Close 关闭连接并通知世界，可重复调用
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.conn.Close()
		if id := c.EntityID(); id != "" {
			c.server.world.Leave(id, c)
		}
		c.logger.Printf("连接 %s 已关闭", c)
	})
}

// Send 包装并异步发送
func (c *Connection) Send(p protocol.Payload) error {
	env := protocol.NewEnvelope(p, time.Now().UnixMilli())
	data, err := c.codec.Marshal(env)
	if err != nil {
		return fmt.Errorf("序列化 %s 失败: %w", env.Type, err)
	}
	return c.conn.WriteFrame(data)
}

func (c *Connection) sendError(code protocol.ErrorCode, message string) {
	if err := c.Send(protocol.NewError(code, message)); err != nil {
		c.logger.Printf("连接 %s: 发送错误消息失败: %v", c, err)
	}
}

func (c *Connection) receiveLoop() {
	for {
		data, err := c.conn.ReadFrame()
		if errors.Is(err, transport.ErrBadFrame) {
			c.badFrameLog.Do(func() {
				c.logger.Printf("连接 %s: 丢弃无法解码的帧: %v", c, err)
			})
			continue
		}
		if err != nil {
			if !errors.Is(err, transport.ErrClosed) {
				c.logger.Printf("连接 %s: 读取失败: %v", c, err)
			}
			return
		}
		c.lastRecvTime.Store(time.Now())
		if err := c.handleMessage(data); err != nil {
			c.logger.Printf("连接 %s: 处理消息失败: %v", c, err)
		}
	}
}

// handleMessage 处理接收到的消息
func (c *Connection) handleMessage(data []byte) error {
	env, err := c.codec.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("反序列化失败: %w", err)
	}

	if _, isConnect := env.Payload.(*protocol.ConnectPayload); !isConnect && c.EntityID() == "" {
		if _, isPing := env.Payload.(*protocol.PingPayload); !isPing {
			c.sendError(protocol.CodeBadRequest, "handshake required")
			return fmt.Errorf("握手前收到 %s", env.Type)
		}
	}

	switch p := env.Payload.(type) {
	case *protocol.ConnectPayload:
		return c.handleConnect(p)

	case *protocol.PingPayload:
		return c.Send(protocol.NewPong(p.ID, time.Now().UnixMilli()))

	case *protocol.PongPayload:
		c.handlePong(p)

	case *protocol.InputPayload:
		if !c.limiter.Allow() {
			c.limitLog.Do(func() {
				c.logger.Printf("连接 %s: 输入过快，已丢弃 seq=%d", c, p.Sequence)
				c.sendError(protocol.CodeRateLimited, "input rate exceeded")
			})
			return nil
		}
		c.server.world.EnqueueInput(inputEvent{
			entityID: c.EntityID(),
			sequence: p.Sequence,
			input:    p.Input(),
			dt:       p.Dt,
			ts:       p.Timestamp,
		})

	case *protocol.JoinRoomPayload:
		return c.handleJoinRoom(p)

	case *protocol.OpaquePayload:
		c.server.world.Relay(c.EntityID(), p)

	default:
		c.sendError(protocol.CodeBadRequest, "unexpected "+string(env.Type))
		return fmt.Errorf("未知消息类型 %s", env.Type)
	}
	return nil
}

func (c *Connection) handleConnect(p *protocol.ConnectPayload) error {
	if p.ProtocolVersion != protocol.ProtocolVersion {
		c.sendError(protocol.CodeVersionMismatch,
			fmt.Sprintf("protocol version %d not supported, want %d", p.ProtocolVersion, protocol.ProtocolVersion))
		time.AfterFunc(rejectGrace, c.Close)
		return fmt.Errorf("协议版本不匹配: %d", p.ProtocolVersion)
	}
	if c.EntityID() != "" {
		return fmt.Errorf("重复握手")
	}

	entityID, resume := "", false
	if p.SessionToken != "" {
		claims, err := c.server.tokens.Verify(p.SessionToken)
		if err != nil {
			c.logger.Printf("连接 %s: 会话令牌无效，分配新实体: %v", c, err)
		} else {
			entityID, resume = claims.EntityID, true
		}
	}
	if entityID == "" {
		entityID = uuid.NewString()
	}

	token, err := c.server.tokens.Issue(entityID, "")
	if err != nil {
		return fmt.Errorf("签发令牌失败: %w", err)
	}
	c.entityID.Store(entityID)
	if err := c.Send(&protocol.ConnectPayload{
		ProtocolVersion: protocol.ProtocolVersion,
		EntityID:        entityID,
		SessionToken:    token,
	}); err != nil {
		return err
	}

	state, err := c.server.world.Join(c, entityID, resume)
	if err != nil {
		return err
	}
	c.logger.Printf("实体 %s 握手完成，位置 (%.1f, %.1f)", entityID, state.X, state.Y)
	return nil
}

func (c *Connection) handleJoinRoom(p *protocol.JoinRoomPayload) error {
	claims, err := c.server.tokens.Verify(p.SessionToken)
	if err != nil || claims.EntityID != c.EntityID() {
		c.sendError(protocol.CodeAuthFailed, "invalid session token")
		return fmt.Errorf("加入房间鉴权失败: %v", err)
	}

	if err := c.server.world.JoinRoom(c.EntityID(), p.RoomID); err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			c.sendError(protocol.CodeRoomNotFound, "room "+p.RoomID+" not found")
			return nil
		}
		return err
	}
	return c.Send(&protocol.RoomJoinedPayload{RoomID: p.RoomID, EntityID: c.EntityID()})
}

func (c *Connection) startHeartbeat(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	timeout := c.server.cfg.IdleTimeout
	if timeout <= 0 {
		return
	}
	ticker := time.NewTicker(timeout / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeCh:
			return
		case <-ticker.C:
			lastRecv, _ := c.lastRecvTime.Load().(time.Time)
			if time.Since(lastRecv) > timeout {
				c.logger.Printf("连接 %s: 心跳超时", c)
				c.Close()
				return
			}
			c.sendPing()
		}
	}
}

func (c *Connection) sendPing() {
	id := uuid.NewString()
	c.pingMu.Lock()
	c.pingID, c.pingSentAt = id, time.Now()
	c.pingMu.Unlock()
	_ = c.Send(protocol.NewPing(id))
}

func (c *Connection) handlePong(p *protocol.PongPayload) {
	c.pingMu.Lock()
	defer c.pingMu.Unlock()
	if p.ID == "" || p.ID != c.pingID {
		return
	}
	c.rtt.Store(time.Since(c.pingSentAt).Milliseconds())
	c.pingID = ""
}

// String 返回连接的字符串表示
func (c *Connection) String() string {
	if id := c.EntityID(); id != "" {
		return fmt.Sprintf("Connection{%s, %s}", id, c.conn.RemoteAddr())
	}
	return fmt.Sprintf("Connection{%s}", c.conn.RemoteAddr())
}

var _ Peer = (*Connection)(nil)

