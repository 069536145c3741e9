package bot

import (
	"math/rand"

	"statesync/pkg/core"
)

// 方向
const (
	DirNone = iota
	DirUp
	DirDown
	DirLeft
	DirRight
)

type Blackboard struct {
	Self   core.KinematicState
	Others map[string]core.KinematicState
	RNG    *rand.Rand
	Config *Config

	Target    string
	NextInput core.Input

	// 游荡方向跨思考保持
	WanderDirection int
	WanderThinks    int
}

func (bb *Blackboard) ResetFrame(self core.KinematicState, others map[string]core.KinematicState) {
	bb.Self = self
	bb.Others = others
	bb.Target = ""
	bb.NextInput = core.Input{}
}

func directionToInput(dir int) core.Input {
	switch dir {
	case DirUp:
		return core.Input{MoveY: -1}
	case DirDown:
		return core.Input{MoveY: 1}
	case DirLeft:
		return core.Input{MoveX: -1}
	case DirRight:
		return core.Input{MoveX: 1}
	}
	return core.Input{}
}
