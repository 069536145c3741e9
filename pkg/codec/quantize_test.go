package codec

import (
	"math"
	"testing"
)

func TestPositionRoundTripWithinOneStep(t *testing.T) {
	q := Default
	step := q.PositionStep()
	values := []float64{0, 1, -1, 0.5, 123.456, -9999.99, q.MaxRange, -q.MaxRange, 4242.42}
	for _, x := range values {
		for _, y := range values {
			gx, gy := q.DecompressPosition(q.CompressPosition(x, y))
			if math.Abs(gx-x) > step || math.Abs(gy-y) > step {
				t.Fatalf("(%v,%v) -> (%v,%v), step %v", x, y, gx, gy, step)
			}
		}
	}
}

func TestPositionClampsOutOfRange(t *testing.T) {
	q := Default
	x, y := q.DecompressPosition(q.CompressPosition(1e9, -1e9))
	if x != q.MaxRange || y != -q.MaxRange {
		t.Fatalf("clamped = (%v,%v)", x, y)
	}
	x, _ = q.DecompressPosition(q.CompressPosition(math.NaN(), 0))
	if math.Abs(x) > q.PositionStep() {
		t.Fatalf("NaN should map near zero, got %v", x)
	}
}

func TestVelocityRoundTripIncludingBoundaries(t *testing.T) {
	q := NewQuantizer(0, 5)
	step := q.VelocityStep()
	for _, v := range []float64{0, q.MaxVelocity, -q.MaxVelocity, 1.2345, -0.0001, 4.999} {
		gx, gy := q.DecompressVelocity(q.CompressVelocity(v, -v))
		if math.Abs(gx-v) > step || math.Abs(gy+v) > step {
			t.Fatalf("%v -> (%v,%v)", v, gx, gy)
		}
	}
	gx, gy := q.DecompressVelocity(q.CompressVelocity(100, -100))
	if gx != q.MaxVelocity || gy != -q.MaxVelocity {
		t.Fatalf("saturation = (%v,%v)", gx, gy)
	}
}

func TestAngleRoundTrip(t *testing.T) {
	step := AngleStep()
	for _, a := range []float64{0, math.Pi / 3, math.Pi, 2*math.Pi - 1e-9, 6.28} {
		got := DecompressAngle(CompressAngle(a))
		if got > a || a-got > step {
			t.Fatalf("%v -> %v", a, got)
		}
	}
	if got := DecompressAngle(CompressAngle(-math.Pi / 2)); math.Abs(got-3*math.Pi/2) > step {
		t.Fatalf("negative angle normalised to %v", got)
	}
	if got := DecompressAngle(CompressAngle(2 * math.Pi)); got != 0 {
		t.Fatalf("2π should wrap to 0, got %v", got)
	}
}

func TestDeltaUndelta(t *testing.T) {
	prev := []int32{10, 20, 30}
	cur := []int32{11, 18, 30}
	d, ok := Delta(cur, prev)
	if !ok {
		t.Fatal("delta rejected equal-length vectors")
	}
	if d[0] != 1 || d[1] != -2 || d[2] != 0 {
		t.Fatalf("delta = %v", d)
	}
	back, ok := Undelta(d, prev)
	if !ok {
		t.Fatal("undelta rejected equal-length vectors")
	}
	for i := range cur {
		if back[i] != cur[i] {
			t.Fatalf("undelta = %v, want %v", back, cur)
		}
	}
	if _, ok := Delta([]int32{1}, prev); ok {
		t.Fatal("expected unequal lengths to be rejected")
	}
	if _, ok := Undelta([]float64{1, 2}, []float64{1}); ok {
		t.Fatal("expected unequal lengths to be rejected")
	}
}
