// Package transport 提供按帧收发的连接抽象，支持 tcp、kcp 与 websocket。
package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	kcp "github.com/xtaci/kcp-go/v5"
)

const (
	MaxPacketSize = 64 * 1024       // 最大帧大小
	dialTimeout   = 5 * time.Second // 建连超时
	writeTimeout  = 1 * time.Second // 写入超时
	sendQueueSize = 256             // 传输层自身的发送缓冲
)

var (
	ErrClosed         = errors.New("connection closed")
	ErrSendQueueFull  = errors.New("send queue full")
	ErrFrameTooLarge  = errors.New("frame too large")
	ErrUnknownNetwork = errors.New("unsupported network")

	// ErrBadFrame 单帧无法解码；分帧边界完好，连接仍可继续读取
	ErrBadFrame = errors.New("bad frame")
)

// Conn 按帧收发的双向连接
//
// ReadFrame 阻塞直到收到完整一帧或连接关闭；WriteFrame 只把帧交给传输层缓冲，不等待写出。
// ReadFrame 返回 ErrBadFrame 时只丢弃这一帧，其余错误表示连接已不可用。
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	Close() error
	RemoteAddr() net.Addr
}

// Dialer 建立到权威端的连接
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc 函数形式的 Dialer
type DialerFunc func(ctx context.Context) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

// Options 帧压缩等传输选项
type Options struct {
	// CompressThreshold 大于该字节数的帧使用 lz4 压缩，0 表示不压缩
	CompressThreshold int

	// Logger 发送循环的日志，nil 时使用 log.Default()
	Logger *log.Logger
}

func (o Options) logger() *log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.Default()
}

// NewDialer 按协议创建 Dialer：tcp、kcp、ws / wss
func NewDialer(network, addr string, opts Options) (Dialer, error) {
	switch network {
	case "", "tcp":
		return DialerFunc(func(ctx context.Context) (Conn, error) {
			d := net.Dialer{Timeout: dialTimeout}
			conn, err := d.DialContext(ctx, "tcp", addr)
			if err != nil {
				return nil, err
			}
			if tcpConn, ok := conn.(*net.TCPConn); ok {
				tcpConn.SetNoDelay(true)
			}
			return newStreamConn(conn, opts), nil
		}), nil
	case "kcp":
		return DialerFunc(func(ctx context.Context) (Conn, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			sess, err := kcp.DialWithOptions(addr, nil, 0, 0)
			if err != nil {
				return nil, err
			}
			sess.SetStreamMode(true)
			sess.SetNoDelay(1, 10, 2, 1)
			return newStreamConn(sess, opts), nil
		}), nil
	case "ws", "wss":
		u := url.URL{Scheme: network, Host: addr, Path: "/ws"}
		if parsed, err := url.Parse(addr); err == nil && parsed.Scheme != "" && parsed.Host != "" {
			u = *parsed
		}
		return DialerFunc(func(ctx context.Context) (Conn, error) {
			d := websocket.Dialer{HandshakeTimeout: dialTimeout}
			ws, resp, err := d.DialContext(ctx, u.String(), nil)
			if resp != nil && resp.Body != nil {
				resp.Body.Close()
			}
			if err != nil {
				return nil, err
			}
			return newWSConn(ws, opts), nil
		}), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, network)
	}
}
