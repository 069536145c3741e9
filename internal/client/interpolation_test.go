package client

import (
	"testing"
	"time"

	"statesync/pkg/core"
)

func snap(id string, ts int64, x, vx float64) core.Snapshot {
	return core.Snapshot{
		EntityID:        id,
		State:           core.KinematicState{X: x, VX: vx},
		ServerTimestamp: ts,
	}
}

func TestInterpolationSample(t *testing.T) {
	buf := NewInterpolationBuffer(10, 0)
	buf.Add(snap("a", 0, 0, 0))
	buf.Add(snap("a", 100, 100, 0))

	cases := []struct {
		render float64
		want   float64
	}{
		{0, 0},
		{100, 100},
		{50, 50},
		{150, 100},
		{-20, 0},
	}
	for _, c := range cases {
		got, ok := buf.Sample(c.render)
		if !ok {
			t.Fatalf("sample(%v) empty", c.render)
		}
		if !approx(got.X, c.want) || got.Y != 0 {
			t.Errorf("sample(%v) = (%v,%v), want (%v,0)", c.render, got.X, got.Y, c.want)
		}
	}

	if _, ok := NewInterpolationBuffer(4, 0).Sample(10); ok {
		t.Fatal("empty buffer should not sample")
	}
}

func TestInterpolationSortedInsertAndEviction(t *testing.T) {
	buf := NewInterpolationBuffer(3, 0)
	for _, ts := range []int64{30, 10, 20, 20, 40} {
		buf.Add(snap("a", ts, float64(ts), 0))
	}

	got := buf.Timestamps()
	want := []float64{20, 30, 40}
	if len(got) != len(want) {
		t.Fatalf("timestamps %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("timestamps %v, want %v", got, want)
		}
	}
}

func TestInterpolationRemoveOlderThanAndPrune(t *testing.T) {
	buf := NewInterpolationBuffer(10, 0)
	for ts := int64(0); ts <= 400; ts += 100 {
		buf.Add(snap("a", ts, float64(ts), 0))
	}

	if n := buf.RemoveOlderThan(150); n != 2 {
		t.Fatalf("removed %d, want 2", n)
	}
	buf.Prune(350)
	if ts := buf.Timestamps(); len(ts) != 2 || ts[0] != 300 {
		t.Fatalf("after prune %v", ts)
	}
	// 剪枝后仍能在原区间插值
	if got, _ := buf.Sample(350); !approx(got.X, 350) {
		t.Fatalf("sample after prune = %v", got.X)
	}
}

func TestInterpolationDeadReckoning(t *testing.T) {
	buf := NewInterpolationBuffer(10, 200*time.Millisecond)
	buf.Add(snap("a", 0, 0, 1))
	buf.Add(snap("a", 100, 100, 1))

	if got, _ := buf.Sample(150); !approx(got.X, 150) {
		t.Fatalf("extrapolated x = %v, want 150", got.X)
	}
	if got, _ := buf.Sample(500); !approx(got.X, 100) {
		t.Fatalf("beyond limit x = %v, want last known 100", got.X)
	}
}

func TestRemoteEntitiesLifecycle(t *testing.T) {
	r := NewRemoteEntities(10, 100*time.Millisecond, 0)
	r.Add(snap("a", 1000, 0, 0))
	r.Add(snap("a", 1100, 10, 0))
	r.Add(snap("b", 1000, 5, 0))
	if r.Len() != 2 {
		t.Fatalf("len = %d, want 2", r.Len())
	}

	states := r.Render(1150)
	if !approx(states["a"].X, 5) {
		t.Fatalf("a rendered at %v, want 5", states["a"].X)
	}
	if !approx(states["b"].X, 5) {
		t.Fatalf("b rendered at %v, want 5", states["b"].X)
	}

	if !r.Remove("a") || r.Remove("a") {
		t.Fatal("remove should succeed exactly once")
	}
	if _, ok := r.Buffer("a"); ok {
		t.Fatal("buffer still present after remove")
	}
	r.Clear()
	if r.Len() != 0 {
		t.Fatal("clear left entities")
	}
}
