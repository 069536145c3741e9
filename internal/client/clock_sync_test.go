package client

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"
)

type manualClock struct{ now int64 }

func (c *manualClock) Now() int64 { return c.now }

func TestClockSyncZeroBeforeSamples(t *testing.T) {
	clk := &manualClock{now: 5000}
	c := NewClockSync(10, clk.Now)
	if c.Offset() != 0 || c.Now() != 5000 {
		t.Fatalf("offset %v now %v before any sample", c.Offset(), c.Now())
	}
	if !c.NeedsSync(time.Second) {
		t.Fatal("unsynced clock should need sync")
	}
}

func TestClockSyncConvergesWithJitter(t *testing.T) {
	const trueOffset = 1234.0
	clk := &manualClock{now: 10_000}
	c := NewClockSync(10, clk.Now)
	rng := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 50; i++ {
		send := clk.now
		up := 20 + rng.Int64N(10)
		down := 20 + rng.Int64N(10)
		server := send + up + int64(trueOffset)
		receive := send + up + down
		c.AddSample(send, receive, server)
		clk.now = receive + 100
	}

	if math.Abs(c.Offset()-trueOffset) > 10 {
		t.Fatalf("offset %v, want within 10 of %v", c.Offset(), trueOffset)
	}
	if c.Samples() != 10 {
		t.Fatalf("samples = %d, want 10", c.Samples())
	}
}

func TestClockSyncResistsOutliers(t *testing.T) {
	c := NewClockSync(5, (&manualClock{}).Now)
	for i := int64(0); i < 4; i++ {
		// rtt 20, server 在接收前 10ms 处于 100+offset
		c.AddSample(i*100, i*100+20, i*100+10+500)
	}
	// 单个严重不对称的样本
	c.AddSample(1000, 3000, 1000+10+500)

	if math.Abs(c.Offset()-500) > 1e-9 {
		t.Fatalf("offset %v, want 500", c.Offset())
	}
}

func TestClockSyncPingPong(t *testing.T) {
	clk := &manualClock{now: 1000}
	c := NewClockSync(4, clk.Now)

	c.RecordSend("p1", 1000)
	if c.RecordPong("unknown", 2000, 1040) {
		t.Fatal("unknown pong id accepted")
	}
	if !c.RecordPong("p1", 2020, 1040) {
		t.Fatal("known pong rejected")
	}
	if c.RTT() != 40 {
		t.Fatalf("rtt = %d, want 40", c.RTT())
	}
	if c.Offset() != 1000 {
		t.Fatalf("offset = %v, want 1000", c.Offset())
	}
	if c.RecordPong("p1", 2020, 1040) {
		t.Fatal("duplicate pong accepted")
	}

	clk.now = 1040 + 1_000
	if c.NeedsSync(5 * time.Second) {
		t.Fatal("fresh-enough clock needs sync")
	}
	clk.now += 30_000
	if !c.NeedsSync(5 * time.Second) {
		t.Fatal("stale clock should need sync")
	}

	c.Reset()
	if c.Offset() != 0 || c.Samples() != 0 {
		t.Fatal("reset kept samples")
	}
}

func TestMedian(t *testing.T) {
	if median(nil) != 0 {
		t.Fatal("median of empty")
	}
	if median([]float64{3, 1, 2}) != 2 {
		t.Fatal("odd median")
	}
	if median([]float64{4, 1, 3, 2}) != 2.5 {
		t.Fatal("even median")
	}
}
