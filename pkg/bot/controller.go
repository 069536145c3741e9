// Package bot 无界面机器人：用行为树为会话生成输入，用于压测权威端与观察同步效果。
package bot

import (
	"math/rand"

	"statesync/pkg/core"
)

type Controller struct {
	rnd    *rand.Rand
	config *Config

	thinkCounter int
	cachedInput  core.Input
	lastCrowded  bool

	blackboard Blackboard
	tree       Node
}

// NewController 创建控制器，config 为 nil 时使用 ConfigWander
func NewController(seed int64, config *Config) *Controller {
	if config == nil {
		config = &ConfigWander
	}
	rnd := rand.New(rand.NewSource(seed))

	c := &Controller{
		rnd:    rnd,
		config: config,
	}
	c.blackboard = Blackboard{RNG: rnd, Config: config}
	c.tree = &Selector{Children: []Node{
		&Sequence{Children: []Node{
			Condition(condOutOfArena),
			Action(actReturn),
		}},
		&Sequence{Children: []Node{
			Condition(condCrowded),
			Action(actEvade),
		}},
		&Sequence{Children: []Node{
			Condition(condChase),
			Action(actFindTarget),
			Action(actMoveToTarget),
		}},
		Action(actWander),
	}}
	return c
}

// Decide 每帧调用一次，返回本帧输入
func (c *Controller) Decide(self core.KinematicState, others map[string]core.KinematicState) core.Input {
	c.blackboard.ResetFrame(self, others)

	// 刚被挤到时立即思考
	crowded := condCrowded(&c.blackboard)
	force := crowded && !c.lastCrowded
	c.lastCrowded = crowded

	c.thinkCounter++
	if !force && c.thinkCounter < c.config.ThinkIntervalFrames {
		return c.cachedInput
	}
	c.thinkCounter = 0
	c.blackboard.Target = ""

	_ = c.tree.Tick(&c.blackboard)

	if c.config.MistakeRate > 0 && c.rnd.Float64() < c.config.MistakeRate {
		switch c.rnd.Intn(2) {
		case 0:
			c.blackboard.NextInput = core.Input{}
		case 1:
			c.blackboard.NextInput = directionToInput(DirUp + c.rnd.Intn(4))
		}
	}

	c.cachedInput = c.blackboard.NextInput
	return c.cachedInput
}

// Config 当前配置
func (c *Controller) Config() *Config {
	return c.config
}
