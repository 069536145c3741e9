package transport

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/pierrec/lz4/v4"
)

// 帧首字节标记负载编码
const (
	frameRaw byte = 0
	frameLZ4 byte = 1
)

var bufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// EncodeFrame 为负载加上编码标记，超过阈值时使用 lz4 压缩
func EncodeFrame(payload []byte, threshold int) ([]byte, error) {
	if threshold <= 0 || len(payload) <= threshold {
		out := make([]byte, 0, len(payload)+1)
		out = append(out, frameRaw)
		return append(out, payload...), nil
	}

	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	buf.WriteByte(frameLZ4)
	zw := lz4.NewWriter(buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, fmt.Errorf("lz4 压缩失败: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("lz4 压缩失败: %w", err)
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// DecodeFrame EncodeFrame 的逆过程，失败时返回包装 ErrBadFrame 的错误
func DecodeFrame(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: 空帧", ErrBadFrame)
	}
	switch frame[0] {
	case frameRaw:
		return frame[1:], nil
	case frameLZ4:
		buf := bufferPool.Get().(*bytes.Buffer)
		buf.Reset()
		defer bufferPool.Put(buf)

		zr := lz4.NewReader(bytes.NewReader(frame[1:]))
		if _, err := io.Copy(buf, io.LimitReader(zr, MaxPacketSize+1)); err != nil {
			return nil, fmt.Errorf("%w: lz4 解压失败: %v", ErrBadFrame, err)
		}
		if buf.Len() > MaxPacketSize {
			return nil, fmt.Errorf("%w: 解压后超过 %d 字节", ErrBadFrame, MaxPacketSize)
		}
		out := make([]byte, buf.Len())
		copy(out, buf.Bytes())
		return out, nil
	default:
		return nil, fmt.Errorf("%w: 未知帧编码 %d", ErrBadFrame, frame[0])
	}
}
