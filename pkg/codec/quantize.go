// Package codec 将运动学数据量化为定宽整数，便于紧凑传输。
//
// 量化是有损的：往返误差不超过一个量化步长。超出范围的输入会被截断到边界（饱和），
// 角度按 2π 取模归一化，NaN 视为 0。所有函数均为纯函数，不会失败。
package codec

import "math"

const (
	// DefaultMaxRange 位置量化的默认范围 ±10000
	DefaultMaxRange = 10000.0

	// DefaultMaxVelocity 速度量化的默认上限（单位/毫秒）
	DefaultMaxVelocity = 2.0

	positionLevels = math.MaxUint16 // 每个位置通道 0..65535
	angleLevels    = 1 << 16        // 角度在 [0, 2π) 上划分 65536 份
	velocityLevels = math.MaxInt16  // 每个速度通道 -32767..32767
)

// Quantizer 量化参数
type Quantizer struct {
	MaxRange    float64
	MaxVelocity float64
}

// Default 默认量化参数
var Default = Quantizer{MaxRange: DefaultMaxRange, MaxVelocity: DefaultMaxVelocity}

// NewQuantizer 创建量化器，非正参数使用默认值
func NewQuantizer(maxRange, maxVelocity float64) Quantizer {
	q := Default
	if maxRange > 0 {
		q.MaxRange = maxRange
	}
	if maxVelocity > 0 {
		q.MaxVelocity = maxVelocity
	}
	return q
}

// PositionStep 位置量化步长
func (q Quantizer) PositionStep() float64 {
	return 2 * q.MaxRange / positionLevels
}

// VelocityStep 速度量化步长
func (q Quantizer) VelocityStep() float64 {
	return q.MaxVelocity / velocityLevels
}

// AngleStep 角度量化步长
func AngleStep() float64 {
	return 2 * math.Pi / angleLevels
}

// CompressPosition 将 (x, y) 打包为一个 uint32，高 16 位为 x
func (q Quantizer) CompressPosition(x, y float64) uint32 {
	return uint32(q.positionLane(x))<<16 | uint32(q.positionLane(y))
}

// DecompressPosition CompressPosition 的逆过程
func (q Quantizer) DecompressPosition(v uint32) (x, y float64) {
	return q.positionValue(uint16(v >> 16)), q.positionValue(uint16(v))
}

func (q Quantizer) positionLane(v float64) uint16 {
	v = clamp(v, -q.MaxRange, q.MaxRange)
	n := math.Round((v + q.MaxRange) / (2 * q.MaxRange) * positionLevels)
	return uint16(clamp(n, 0, positionLevels))
}

func (q Quantizer) positionValue(lane uint16) float64 {
	return float64(lane)/positionLevels*2*q.MaxRange - q.MaxRange
}

// CompressVelocity 将 (vx, vy) 打包为两个有符号 16 位通道
func (q Quantizer) CompressVelocity(vx, vy float64) uint32 {
	return uint32(uint16(q.velocityLane(vx)))<<16 | uint32(uint16(q.velocityLane(vy)))
}

// DecompressVelocity CompressVelocity 的逆过程
func (q Quantizer) DecompressVelocity(v uint32) (vx, vy float64) {
	return q.velocityValue(int16(uint16(v >> 16))), q.velocityValue(int16(uint16(v)))
}

func (q Quantizer) velocityLane(v float64) int16 {
	v = clamp(v, -q.MaxVelocity, q.MaxVelocity)
	n := math.Round(v / q.MaxVelocity * velocityLevels)
	return int16(clamp(n, -velocityLevels, velocityLevels))
}

func (q Quantizer) velocityValue(lane int16) float64 {
	return float64(lane) / velocityLevels * q.MaxVelocity
}

// CompressAngle 将角度量化为 uint16，输入先按 2π 取模
func CompressAngle(rad float64) uint16 {
	a := normalizeAngle(rad)
	n := math.Floor(a / (2 * math.Pi) * angleLevels)
	return uint16(clamp(n, 0, angleLevels-1))
}

// DecompressAngle CompressAngle 的逆过程，结果位于 [0, 2π)
func DecompressAngle(v uint16) float64 {
	return float64(v) / angleLevels * 2 * math.Pi
}

// CompressPosition 使用默认参数压缩位置
func CompressPosition(x, y float64) uint32 { return Default.CompressPosition(x, y) }

// DecompressPosition 使用默认参数解压位置
func DecompressPosition(v uint32) (float64, float64) { return Default.DecompressPosition(v) }

// CompressVelocity 使用默认参数压缩速度
func CompressVelocity(vx, vy float64) uint32 { return Default.CompressVelocity(vx, vy) }

// DecompressVelocity 使用默认参数解压速度
func DecompressVelocity(v uint32) (float64, float64) { return Default.DecompressVelocity(v) }

func normalizeAngle(rad float64) float64 {
	if math.IsNaN(rad) || math.IsInf(rad, 0) {
		return 0
	}
	a := math.Mod(rad, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
