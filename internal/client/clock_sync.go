package client

import (
	"slices"
	"time"
)

// ClockSync 估计本地时钟到权威时钟的偏移：authoritative ≈ local + offset
//
// 样本来自 ping/pong 往返；偏移取最近 N 个样本的中位数以抵抗 RTT 离群值。
// 所有方法都不阻塞，在首个样本之前偏移为 0。
type ClockSync struct {
	local    func() int64 // 本地毫秒时钟
	capacity int

	samples []float64 // 环形缓冲
	next    int
	offset  float64

	pending    map[string]int64 // ping id -> 发送时间
	pendingIDs []string         // 按发送顺序，用于淘汰

	lastRTT    int64
	lastSyncAt int64
	synced     bool
}

// NewClockSync 创建时钟同步器，capacity <= 0 时使用默认值
func NewClockSync(capacity int, local func() int64) *ClockSync {
	if capacity <= 0 {
		capacity = ClockSampleSize
	}
	if local == nil {
		local = func() int64 { return time.Now().UnixMilli() }
	}
	return &ClockSync{
		local:    local,
		capacity: capacity,
		samples:  make([]float64, 0, capacity),
		pending:  make(map[string]int64),
	}
}

// RecordSend 记录一次 ping 的发送时间
func (c *ClockSync) RecordSend(id string, sendTime int64) {
	if _, ok := c.pending[id]; !ok {
		c.pendingIDs = append(c.pendingIDs, id)
	}
	c.pending[id] = sendTime

	// 未应答的 ping 不能无限增长
	for len(c.pendingIDs) > c.capacity*2 {
		delete(c.pending, c.pendingIDs[0])
		c.pendingIDs = c.pendingIDs[1:]
	}
}

// RecordPong 处理 pong；未知 id 返回 false
func (c *ClockSync) RecordPong(id string, serverTimestamp, receiveTime int64) bool {
	sendTime, ok := c.pending[id]
	if !ok {
		return false
	}
	delete(c.pending, id)
	if i := slices.Index(c.pendingIDs, id); i >= 0 {
		c.pendingIDs = slices.Delete(c.pendingIDs, i, i+1)
	}
	c.AddSample(sendTime, receiveTime, serverTimestamp)
	return true
}

// AddSample 加入一个 (发送, 接收, 权威时间) 样本
func (c *ClockSync) AddSample(sendTime, receiveTime, serverTimestamp int64) {
	rtt := receiveTime - sendTime
	if rtt < 0 {
		return
	}
	estServerAtReceive := float64(serverTimestamp) + float64(rtt)/2
	sample := estServerAtReceive - float64(receiveTime)

	if len(c.samples) < c.capacity {
		c.samples = append(c.samples, sample)
	} else {
		c.samples[c.next] = sample
	}
	c.next = (c.next + 1) % c.capacity

	c.offset = median(c.samples)
	c.lastRTT = rtt
	c.lastSyncAt = receiveTime
	c.synced = true
}

// Offset 当前偏移（毫秒）
func (c *ClockSync) Offset() float64 { return c.offset }

// Now 估计的权威时间（毫秒）
func (c *ClockSync) Now() int64 {
	return c.local() + int64(c.offset)
}

// Local 本地时钟（毫秒）
func (c *ClockSync) Local() int64 { return c.local() }

// RTT 最近一次往返时延（毫秒）
func (c *ClockSync) RTT() int64 { return c.lastRTT }

// Samples 当前样本数
func (c *ClockSync) Samples() int { return len(c.samples) }

// NeedsSync 从未同步或最近一次样本早于 maxAge 时返回 true
func (c *ClockSync) NeedsSync(maxAge time.Duration) bool {
	if !c.synced {
		return true
	}
	if maxAge <= 0 {
		maxAge = ClockMaxAge
	}
	return c.local()-c.lastSyncAt > maxAge.Milliseconds()
}

// Reset 清空样本与待应答 ping，偏移回到 0
func (c *ClockSync) Reset() {
	c.samples = c.samples[:0]
	c.next = 0
	c.offset = 0
	c.pending = make(map[string]int64)
	c.pendingIDs = nil
	c.lastRTT = 0
	c.lastSyncAt = 0
	c.synced = false
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
