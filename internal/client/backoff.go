package client

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff 指数退避：delay = min(base * multiplier^attempt, cap)，
// 启用抖动时再乘以 [0.5, 1.0) 的随机系数，避免客户端同时重连
type Backoff struct {
	Base       time.Duration
	Cap        time.Duration
	Multiplier float64
	Jitter     bool
	Rand       func() float64 // [0, 1)
}

// DefaultBackoff 默认退避参数
func DefaultBackoff() Backoff {
	return Backoff{
		Base:       DefaultBackoffBase,
		Cap:        DefaultBackoffCap,
		Multiplier: DefaultBackoffMultiplier,
		Jitter:     true,
	}
}

// Raw 不含抖动的延迟
func (b Backoff) Raw(attempt int) time.Duration {
	base, ceiling, mult := b.Base, b.Cap, b.Multiplier
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if ceiling <= 0 {
		ceiling = DefaultBackoffCap
	}
	if mult < 1 {
		mult = 1
	}
	if attempt < 0 {
		attempt = 0
	}
	d := float64(base) * math.Pow(mult, float64(attempt))
	if math.IsInf(d, 0) || math.IsNaN(d) || d > float64(ceiling) {
		return ceiling
	}
	return time.Duration(d)
}

// Delay 第 attempt 次重试前的等待时间
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Raw(attempt)
	if !b.Jitter {
		return d
	}
	r := rand.Float64
	if b.Rand != nil {
		r = b.Rand
	}
	return time.Duration(float64(d) * (0.5 + r()*0.5))
}
