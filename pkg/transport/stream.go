package transport

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// sender 传输层自己的发送缓冲与单写者循环
type sender struct {
	opts      Options
	sendChan  chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once
	closeFn   func() error
	writeFn   func(frame []byte) error
}

func newSender(opts Options, writeFn func([]byte) error, closeFn func() error) *sender {
	s := &sender{
		opts:     opts,
		sendChan: make(chan []byte, sendQueueSize),
		closeCh:  make(chan struct{}),
		closeFn:  closeFn,
		writeFn:  writeFn,
	}
	go s.sendLoop()
	return s
}

// WriteFrame 发送数据（异步）
func (s *sender) WriteFrame(data []byte) error {
	frame, err := EncodeFrame(data, s.opts.CompressThreshold)
	if err != nil {
		return err
	}
	if len(frame) > MaxPacketSize {
		return ErrFrameTooLarge
	}

	select {
	case <-s.closeCh:
		return ErrClosed
	default:
	}
	select {
	case s.sendChan <- frame:
		return nil
	case <-s.closeCh:
		return ErrClosed
	default:
		return ErrSendQueueFull
	}
}

// Close 关闭连接，可重复调用
func (s *sender) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closeCh)
		err = s.closeFn()
	})
	return err
}

// sendLoop 发送循环
func (s *sender) sendLoop() {
	for {
		select {
		case <-s.closeCh:
			return
		case frame := <-s.sendChan:
			if err := s.writeFn(frame); err != nil {
				s.opts.logger().Printf("发送数据失败: %v", err)
				s.Close()
				return
			}
		}
	}
}

// streamConn 在字节流（tcp / kcp stream mode）上使用 4 字节长度前缀分帧
type streamConn struct {
	*sender
	conn net.Conn
}

func newStreamConn(conn net.Conn, opts Options) *streamConn {
	c := &streamConn{conn: conn}
	c.sender = newSender(opts, c.writeRaw, conn.Close)
	return c
}

func (c *streamConn) writeRaw(frame []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	buf := make([]byte, 4+len(frame))
	binary.BigEndian.PutUint32(buf, uint32(len(frame)))
	copy(buf[4:], frame)
	_, err := c.conn.Write(buf)
	return err
}

// ReadFrame 读取一帧，空帧被跳过
// 长度前缀已完整读出，解码失败只影响这一帧
func (c *streamConn) ReadFrame() ([]byte, error) {
	for {
		var length uint32
		if err := binary.Read(c.conn, binary.BigEndian, &length); err != nil {
			return nil, err
		}
		if length > MaxPacketSize {
			return nil, ErrFrameTooLarge
		}
		if length == 0 {
			continue
		}

		frame := make([]byte, length)
		if _, err := io.ReadFull(c.conn, frame); err != nil {
			return nil, err
		}
		return DecodeFrame(frame)
	}
}

func (c *streamConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// wsConn websocket 本身保留消息边界，每条二进制消息即一帧
type wsConn struct {
	*sender
	ws *websocket.Conn
}

func newWSConn(ws *websocket.Conn, opts Options) *wsConn {
	c := &wsConn{ws: ws}
	ws.SetReadLimit(MaxPacketSize)
	c.sender = newSender(opts, c.writeRaw, c.closeRaw)
	return c
}

func (c *wsConn) writeRaw(frame []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *wsConn) closeRaw() error {
	deadline := time.Now().Add(writeTimeout)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.ws.Close()
}

// ReadFrame 读取一条消息，忽略 ping/pong 等控制帧
func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if kind != websocket.BinaryMessage && kind != websocket.TextMessage {
			continue
		}
		if len(data) == 0 {
			continue
		}
		return DecodeFrame(data)
	}
}

func (c *wsConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }
