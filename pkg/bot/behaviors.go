package bot

import (
	"math"

	"statesync/pkg/core"
)

func condOutOfArena(bb *Blackboard) bool {
	r := bb.Config.ArenaRadius
	return r > 0 && math.Hypot(bb.Self.X, bb.Self.Y) > r
}

// actReturn 朝原点移动
func actReturn(bb *Blackboard) Status {
	bb.NextInput = towards(bb.Self, 0, 0)
	bb.WanderThinks = 0
	return StatusRunning
}

func condCrowded(bb *Blackboard) bool {
	id, d := nearest(bb.Self, bb.Others)
	if id == "" || d >= bb.Config.AvoidRadius {
		return false
	}
	bb.Target = id
	return true
}

// actEvade 远离最近的实体，重合时随机选方向
func actEvade(bb *Blackboard) Status {
	other := bb.Others[bb.Target]
	if bb.Self.X == other.X && bb.Self.Y == other.Y {
		bb.NextInput = directionToInput(DirUp + bb.RNG.Intn(4))
		return StatusRunning
	}
	in := towards(other, bb.Self.X, bb.Self.Y)
	bb.NextInput = in
	return StatusRunning
}

func condChase(bb *Blackboard) bool {
	return bb.Config.Chase && len(bb.Others) > 0
}

func actFindTarget(bb *Blackboard) Status {
	id, _ := nearest(bb.Self, bb.Others)
	if id == "" {
		return StatusFailure
	}
	bb.Target = id
	return StatusSuccess
}

func actMoveToTarget(bb *Blackboard) Status {
	t, ok := bb.Others[bb.Target]
	if !ok {
		return StatusFailure
	}
	bb.NextInput = towards(bb.Self, t.X, t.Y)
	return StatusRunning
}

// actWander 随机游荡，同一方向保持若干次思考
func actWander(bb *Blackboard) Status {
	if bb.RNG == nil {
		return StatusFailure
	}
	if bb.WanderThinks > 0 && bb.WanderDirection != DirNone {
		bb.WanderThinks--
		bb.NextInput = directionToInput(bb.WanderDirection)
		return StatusRunning
	}

	bb.WanderDirection = DirUp + bb.RNG.Intn(4)
	bb.WanderThinks = bb.Config.WanderThinks
	bb.NextInput = directionToInput(bb.WanderDirection)
	return StatusRunning
}

// towards 从 from 指向 (x, y) 的单位方向
func towards(from core.KinematicState, x, y float64) core.Input {
	dx, dy := x-from.X, y-from.Y
	l := math.Hypot(dx, dy)
	if l < 1e-9 {
		return core.Input{}
	}
	return core.Input{MoveX: dx / l, MoveY: dy / l}
}

func nearest(self core.KinematicState, others map[string]core.KinematicState) (string, float64) {
	best, bestDist := "", math.Inf(1)
	for id, s := range others {
		d := self.Distance(s)
		if d < bestDist || (d == bestDist && id < best) {
			best, bestDist = id, d
		}
	}
	return best, bestDist
}
